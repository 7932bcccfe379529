package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/schema"
	"couple-sync-backend/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// SyncHandler handles sync protocol HTTP requests
type SyncHandler struct {
	syncService *services.SyncService
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncService *services.SyncService) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
	}
}

// syncStatus maps service errors to HTTP status codes. Users never see raw
// constraint or transaction errors; conflicts resolve internally and the
// outcome is either a snapshot or a retryable status.
func syncStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrNotPaired):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidMutation):
		return http.StatusBadRequest
	case errors.Is(err, schema.ErrUpgradeRequired):
		return http.StatusUpgradeRequired
	case errors.Is(err, services.ErrGenerationFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrNotSessionOwner):
		return http.StatusForbidden
	case errors.Is(err, services.ErrSessionComplete):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// SyncQuests handles POST /api/v1/sync/quests
func (h *SyncHandler) SyncQuests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req services.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.syncService.Sync(ctx, userID, &req)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("date_key", req.DateKey).
			Msg("Sync failed")
		respondError(w, err.Error(), syncStatus(err))
		return
	}

	respondJSON(w, resp, http.StatusOK)
}

// StartSessionRequest represents the request body for starting a session
type StartSessionRequest struct {
	GameType string `json:"game_type"`
	DateKey  string `json:"date_key"`
}

// StartSession handles POST /api/v1/sessions
func (h *SyncHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.GameType == "" {
		respondError(w, "game_type is required", http.StatusBadRequest)
		return
	}

	session, err := h.syncService.StartSession(ctx, userID, req.GameType, req.DateKey)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("game_type", req.GameType).
			Msg("Failed to start session")
		respondError(w, err.Error(), syncStatus(err))
		return
	}

	respondJSON(w, session, http.StatusOK)
}

// SubmitAnswersRequest represents the request body for answer submission
type SubmitAnswersRequest struct {
	Answers  map[string]string `json:"answers"`
	Complete bool              `json:"complete"`
}

// SubmitAnswers handles POST /api/v1/sessions/{session_id}/answers
func (h *SyncHandler) SubmitAnswers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	sessionID := chi.URLParam(r, "session_id")

	var req SubmitAnswersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := h.syncService.SubmitAnswers(ctx, userID, sessionID, req.Answers, req.Complete)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("session_id", sessionID).
			Msg("Failed to submit answers")
		respondError(w, err.Error(), syncStatus(err))
		return
	}

	respondJSON(w, session, http.StatusOK)
}

// FetchPair handles GET /api/v1/sessions/{session_id}/pair
func (h *SyncHandler) FetchPair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	sessionID := chi.URLParam(r, "session_id")

	if sessionID == "" {
		respondError(w, "session_id is required", http.StatusBadRequest)
		return
	}

	result, err := h.syncService.FetchPair(ctx, userID, sessionID)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Str("session_id", sessionID).
			Msg("Failed to fetch session pair")
		respondError(w, err.Error(), syncStatus(err))
		return
	}

	respondJSON(w, result, http.StatusOK)
}

// GetBalance handles GET /api/v1/rewards/balance
func (h *SyncHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	balance, err := h.syncService.Balance(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to get balance")
		respondError(w, err.Error(), syncStatus(err))
		return
	}

	respondJSON(w, map[string]int{"balance": balance}, http.StatusOK)
}
