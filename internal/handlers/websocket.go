package handlers

import (
	"net/http"

	"couple-sync-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HintHandler serves the one-way sync-hint channel. The server only writes
// hint frames; inbound data is drained and discarded, so there is no
// bidirectional protocol to reason about.
type HintHandler struct {
	hub         *services.HintHub
	userService *services.UserService
}

// NewHintHandler creates a new hint channel handler
func NewHintHandler(hub *services.HintHub, userService *services.UserService) *HintHandler {
	return &HintHandler{
		hub:         hub,
		userService: userService,
	}
}

// HandleHintChannel handles GET /ws
func (h *HintHandler) HandleHintChannel(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "token required", http.StatusUnauthorized)
		return
	}

	userID, err := h.userService.ValidateJWT(token)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade hint channel connection")
		return
	}

	h.hub.Register(userID, conn)
	defer h.hub.Unregister(userID)

	log.Info().Str("user_id", userID).Msg("Hint channel established")

	// Drain until the client disconnects. Anything the client sends is
	// ignored: hints flow one way.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("user_id", userID).Msg("Hint channel error")
			}
			return
		}
	}
}
