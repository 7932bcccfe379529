package services

import (
	"context"
	"fmt"
	"time"

	"couple-sync-backend/internal/identity"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
)

// PairStore is the slice of the couple repository pairing needs.
type PairStore interface {
	Create(ctx context.Context, couple *models.Couple) error
	GetByID(ctx context.Context, id string) (*models.Couple, error)
	GetByUserID(ctx context.Context, userID string) (*models.Couple, error)
	UserHasCouple(ctx context.Context, userID string) (bool, error)
}

// CodeLookup resolves a pairing code to its holder.
type CodeLookup interface {
	GetByCode(ctx context.Context, code string) (*models.User, error)
}

// CoupleService handles pairing business logic
type CoupleService struct {
	couples PairStore
	users   CodeLookup
}

// NewCoupleService creates a new couple service
func NewCoupleService(couples PairStore, users CodeLookup) *CoupleService {
	return &CoupleService{
		couples: couples,
		users:   users,
	}
}

// CreateCouple pairs the caller with the holder of partnerCode. The couple
// ID is derived from the sorted user IDs, so when both devices submit the
// pairing at once they target the same primary key and the constraint
// collapses the race: the loser re-reads the existing row.
func (s *CoupleService) CreateCouple(ctx context.Context, userID, partnerCode string) (*models.Couple, error) {
	if len(partnerCode) != codeLength {
		return nil, fmt.Errorf("partner code must be %d characters", codeLength)
	}

	partner, err := s.users.GetByCode(ctx, partnerCode)
	if err != nil {
		return nil, ErrPartnerNotFound
	}

	if userID == partner.ID {
		return nil, ErrSelfPair
	}

	coupleID, err := identity.DeriveCoupleID(userID, partner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive couple id: %w", err)
	}

	// A pairing replay from either device lands on the same derived ID.
	if existing, err := s.couples.GetByID(ctx, coupleID); err == nil {
		return existing, nil
	}

	hasCouple, err := s.couples.UserHasCouple(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check if user has couple: %w", err)
	}
	if hasCouple {
		return nil, ErrAlreadyPaired
	}

	partnerHasCouple, err := s.couples.UserHasCouple(ctx, partner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check if partner has couple: %w", err)
	}
	if partnerHasCouple {
		return nil, ErrAlreadyPaired
	}

	userAID, userBID := identity.SortPair(userID, partner.ID)
	couple := &models.Couple{
		ID:        coupleID,
		UserAID:   userAID,
		UserBID:   userBID,
		CreatedAt: time.Now(),
	}

	if err := s.couples.Create(ctx, couple); err != nil {
		if repository.IsUniqueViolation(err) {
			// Either the partner's device created this same couple first, or
			// one of the member slots is already held by a different couple.
			if existing, readErr := s.couples.GetByID(ctx, coupleID); readErr == nil {
				return existing, nil
			}
			return nil, ErrAlreadyPaired
		}
		return nil, fmt.Errorf("failed to create couple: %w", err)
	}

	return couple, nil
}

// GetCoupleByUserID gets the couple for a user
func (s *CoupleService) GetCoupleByUserID(ctx context.Context, userID string) (*models.Couple, error) {
	couple, err := s.couples.GetByUserID(ctx, userID)
	if err != nil {
		return nil, ErrNotPaired
	}
	return couple, nil
}
