package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// HintMessage is the single frame type the hub emits. The channel is
// strictly one-way (server to client); clients act on a hint by polling
// sooner, nothing more.
type HintMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// HintHub manages WebSocket connections for sync-hint delivery.
type HintHub struct {
	mu          sync.RWMutex
	connections map[string]*websocket.Conn
}

// NewHintHub creates a new hint hub
func NewHintHub() *HintHub {
	return &HintHub{
		connections: make(map[string]*websocket.Conn),
	}
}

// Register registers a WebSocket connection for a user, replacing any
// previous one.
func (h *HintHub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, exists := h.connections[userID]; exists {
		existing.Close()
	}
	h.connections[userID] = conn

	log.Info().Str("user_id", userID).Msg("Hint channel registered")
}

// Unregister removes a user's connection.
func (h *HintHub) Unregister(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conn, exists := h.connections[userID]; exists {
		conn.Close()
		delete(h.connections, userID)
		log.Info().Str("user_id", userID).Msg("Hint channel unregistered")
	}
}

// IsOnline checks if a user has a hint channel open.
func (h *HintHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, exists := h.connections[userID]
	return exists
}

// Hint sends a sync hint to a user if a channel is open. Delivery is best
// effort; a failed write just drops the connection.
func (h *HintHub) Hint(_ context.Context, userID string) {
	if userID == "" {
		return
	}

	h.mu.RLock()
	conn, exists := h.connections[userID]
	h.mu.RUnlock()

	if !exists {
		return
	}

	msg := HintMessage{
		Type:      "sync_hint",
		Timestamp: time.Now().UnixMilli(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("Hint delivery failed, dropping connection")
		h.Unregister(userID)
	}
}
