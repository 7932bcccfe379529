package services

import (
	"context"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/rs/zerolog/log"
)

// CompletionStore is the slice of the completion repository the tracker
// needs.
type CompletionStore interface {
	LockActivity(ctx context.Context, activityID string) error
	Upsert(ctx context.Context, rec *models.CompletionRecord) error
	GetByActivity(ctx context.Context, activityID string) ([]*models.CompletionRecord, error)
	GetBySet(ctx context.Context, setID string) ([]*models.CompletionRecord, error)
}

// jointCompletionReason is stamped on awards the tracker triggers.
const jointCompletionReason = "joint_completion"

// CompletionTracker records per-user completions and detects joint
// completion, triggering the reward ledger.
type CompletionTracker struct {
	completions CompletionStore
	ledger      *RewardLedger
	points      int
}

// NewCompletionTracker creates a new completion tracker
func NewCompletionTracker(completions CompletionStore, ledger *RewardLedger, points int) *CompletionTracker {
	return &CompletionTracker{
		completions: completions,
		ledger:      ledger,
		points:      points,
	}
}

// RecordCompletion upserts a completion (earliest timestamp wins) and
// evaluates joint completion against persisted state at the moment of
// write, never against the caller's belief about the partner. When both
// members have completed the item an award is granted, deduplicated on the
// activity ID.
func (t *CompletionTracker) RecordCompletion(ctx context.Context, couple *models.Couple, activityID, userID string, completedAt time.Time) (bool, error) {
	if activityID == "" {
		return false, fmt.Errorf("%w: activity id required", ErrInvalidMutation)
	}
	if !couple.HasMember(userID) {
		return false, fmt.Errorf("%w: user is not a member of this couple", ErrInvalidMutation)
	}
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	// Serialize on the activity row before writing: two concurrent
	// completions of the same item by the two partners never touch the same
	// completion row, so whichever transaction commits second must hold this
	// lock to observe the first's record when evaluating joint completion.
	if err := t.completions.LockActivity(ctx, activityID); err != nil {
		return false, err
	}

	rec := &models.CompletionRecord{
		ActivityID:  activityID,
		UserID:      userID,
		CompletedAt: completedAt,
	}
	if err := t.completions.Upsert(ctx, rec); err != nil {
		return false, err
	}

	joint, err := t.isJointlyComplete(ctx, couple, activityID)
	if err != nil {
		return false, err
	}
	if !joint {
		return false, nil
	}

	relatedID := activityID
	_, created, err := t.ledger.GrantAward(ctx, &models.RewardAward{
		CoupleID:  couple.ID,
		Amount:    t.points,
		Reason:    jointCompletionReason,
		RelatedID: &relatedID,
	})
	if err != nil {
		return true, err
	}
	if created {
		log.Info().
			Str("couple_id", couple.ID).
			Str("activity_id", activityID).
			Msg("Joint completion, award granted")
	}
	return true, nil
}

// isJointlyComplete checks the persisted records for both members.
func (t *CompletionTracker) isJointlyComplete(ctx context.Context, couple *models.Couple, activityID string) (bool, error) {
	recs, err := t.completions.GetByActivity(ctx, activityID)
	if err != nil {
		return false, err
	}
	var hasA, hasB bool
	for _, rec := range recs {
		switch rec.UserID {
		case couple.UserAID:
			hasA = true
		case couple.UserBID:
			hasB = true
		}
	}
	return hasA && hasB, nil
}

// CompletionsForSet returns every completion record for the items of a set.
func (t *CompletionTracker) CompletionsForSet(ctx context.Context, setID string) ([]*models.CompletionRecord, error) {
	return t.completions.GetBySet(ctx, setID)
}
