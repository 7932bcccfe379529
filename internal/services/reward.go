package services

import (
	"context"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RewardStore is the slice of the reward repository the ledger needs.
type RewardStore interface {
	Insert(ctx context.Context, award *models.RewardAward) (bool, error)
	GetByID(ctx context.Context, coupleID, id string) (*models.RewardAward, error)
	GetByRelatedID(ctx context.Context, coupleID, relatedID string) (*models.RewardAward, error)
	ListSince(ctx context.Context, coupleID string, since time.Time) ([]*models.RewardAward, error)
	SumAmount(ctx context.Context, coupleID string) (int, error)
}

// BalanceCache holds the disposable cached balance.
type BalanceCache interface {
	UpdateCachedBalance(ctx context.Context, coupleID string, balance int) error
}

// RewardLedger is the append-only, idempotent store of point awards.
// Uniqueness on (couple_id, related_id) is the entire mechanism preventing
// double awards from duplicate triggers or client retries.
type RewardLedger struct {
	rewards RewardStore
	cache   BalanceCache
}

// NewRewardLedger creates a new reward ledger
func NewRewardLedger(rewards RewardStore, cache BalanceCache) *RewardLedger {
	return &RewardLedger{rewards: rewards, cache: cache}
}

// GrantAward appends an award. A duplicate related ID is silently ignored
// and the existing award returned; created reports whether this call
// produced the row.
func (l *RewardLedger) GrantAward(ctx context.Context, award *models.RewardAward) (*models.RewardAward, bool, error) {
	if award.Amount <= 0 {
		return nil, false, fmt.Errorf("%w: award amount must be positive", ErrInvalidMutation)
	}
	if award.CoupleID == "" {
		return nil, false, fmt.Errorf("%w: award couple id required", ErrInvalidMutation)
	}
	if award.ID == "" {
		award.ID = uuid.New().String()
	}
	if award.CreatedAt.IsZero() {
		award.CreatedAt = time.Now()
	}

	inserted, err := l.rewards.Insert(ctx, award)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		// Some uniqueness slot is already held: the related-id dedup slot,
		// or the award's own idempotency key on a client replay. Return
		// whichever row holds it.
		if award.RelatedID != nil {
			if existing, err := l.rewards.GetByRelatedID(ctx, award.CoupleID, *award.RelatedID); err == nil {
				return existing, false, nil
			}
		}
		existing, err := l.rewards.GetByID(ctx, award.CoupleID, award.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	log.Debug().
		Str("couple_id", award.CoupleID).
		Int("amount", award.Amount).
		Str("reason", award.Reason).
		Msg("Award granted")

	return award, true, nil
}

// Balance recomputes the couple's balance from the award log and reconciles
// the cache. On mismatch the recomputed sum wins and the cache is
// overwritten.
func (l *RewardLedger) Balance(ctx context.Context, couple *models.Couple) (int, error) {
	sum, err := l.rewards.SumAmount(ctx, couple.ID)
	if err != nil {
		return 0, err
	}
	if sum != couple.CachedBalance {
		if couple.CachedBalance != 0 {
			log.Warn().
				Str("couple_id", couple.ID).
				Int("cached", couple.CachedBalance).
				Int("recomputed", sum).
				Msg("Cached balance out of sync with award log, overwriting")
		}
		if err := l.cache.UpdateCachedBalance(ctx, couple.ID, sum); err != nil {
			return 0, err
		}
		couple.CachedBalance = sum
	}
	return sum, nil
}

// AwardsSince lists awards created after the given timestamp.
func (l *RewardLedger) AwardsSince(ctx context.Context, coupleID string, since time.Time) ([]*models.RewardAward, error) {
	return l.rewards.ListSince(ctx, coupleID, since)
}
