package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"couple-sync-backend/internal/middleware"
	"couple-sync-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// CoupleHandler handles couple-related HTTP requests
type CoupleHandler struct {
	coupleService *services.CoupleService
}

// NewCoupleHandler creates a new couple handler
func NewCoupleHandler(coupleService *services.CoupleService) *CoupleHandler {
	return &CoupleHandler{
		coupleService: coupleService,
	}
}

// CreateCoupleRequest represents the request body for pairing
type CreateCoupleRequest struct {
	PartnerCode string `json:"partner_code"`
}

// CreateCouple handles POST /api/v1/couples
func (h *CoupleHandler) CreateCouple(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req CreateCoupleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.PartnerCode == "" {
		respondError(w, "partner_code is required", http.StatusBadRequest)
		return
	}

	couple, err := h.coupleService.CreateCouple(ctx, userID, req.PartnerCode)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Msg("Failed to create couple")

		statusCode := http.StatusInternalServerError
		switch {
		case errors.Is(err, services.ErrPartnerNotFound):
			statusCode = http.StatusNotFound
		case errors.Is(err, services.ErrSelfPair), errors.Is(err, services.ErrAlreadyPaired):
			statusCode = http.StatusConflict
		}

		respondError(w, err.Error(), statusCode)
		return
	}

	log.Info().
		Str("user_id", userID).
		Str("couple_id", couple.ID).
		Msg("Couple created")

	respondJSON(w, couple, http.StatusOK)
}

// GetCouple handles GET /api/v1/couples/me
func (h *CoupleHandler) GetCouple(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	couple, err := h.coupleService.GetCoupleByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, services.ErrNotPaired) {
			respondError(w, err.Error(), http.StatusNotFound)
			return
		}
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, couple, http.StatusOK)
}
