package repository

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/models"
)

// CompletionRepository handles database operations for completion records
type CompletionRepository struct {
	db Querier
}

// NewCompletionRepository creates a new completion repository
func NewCompletionRepository(db Querier) *CompletionRepository {
	return &CompletionRepository{db: db}
}

// LockActivity takes the activity item's row lock for the rest of the
// enclosing transaction. Completion upserts touch per-user rows that never
// conflict with each other, so without this lock two concurrent completions
// of the same item run under disjoint statement snapshots and each joint
// evaluation misses the other's record.
func (r *CompletionRepository) LockActivity(ctx context.Context, activityID string) error {
	query := `SELECT id FROM activity_items WHERE id = $1 FOR UPDATE`
	if _, err := r.db.Exec(ctx, query, activityID); err != nil {
		return fmt.Errorf("failed to lock activity: %w", err)
	}
	return nil
}

// Upsert records a completion. Resubmission is a no-op except that an
// earlier timestamp wins, which tolerates clock skew and offline replay.
func (r *CompletionRepository) Upsert(ctx context.Context, rec *models.CompletionRecord) error {
	query := `
		INSERT INTO completion_records (activity_id, user_id, completed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (activity_id, user_id)
		DO UPDATE SET completed_at = LEAST(completion_records.completed_at, EXCLUDED.completed_at)
	`
	_, err := r.db.Exec(ctx, query, rec.ActivityID, rec.UserID, rec.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert completion: %w", err)
	}
	return nil
}

// GetByActivity returns all completion records for one activity item.
func (r *CompletionRepository) GetByActivity(ctx context.Context, activityID string) ([]*models.CompletionRecord, error) {
	query := `
		SELECT activity_id, user_id, completed_at
		FROM completion_records
		WHERE activity_id = $1
	`
	rows, err := r.db.Query(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("failed to get completions: %w", err)
	}
	defer rows.Close()

	var recs []*models.CompletionRecord
	for rows.Next() {
		var rec models.CompletionRecord
		if err := rows.Scan(&rec.ActivityID, &rec.UserID, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completions: %w", err)
	}
	return recs, nil
}

// GetBySet returns all completion records for every item of an activity set.
func (r *CompletionRepository) GetBySet(ctx context.Context, setID string) ([]*models.CompletionRecord, error) {
	query := `
		SELECT cr.activity_id, cr.user_id, cr.completed_at
		FROM completion_records cr
		JOIN activity_items ai ON ai.id = cr.activity_id
		WHERE ai.set_id = $1
		ORDER BY cr.activity_id, cr.user_id
	`
	rows, err := r.db.Query(ctx, query, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to get completions for set: %w", err)
	}
	defer rows.Close()

	var recs []*models.CompletionRecord
	for rows.Next() {
		var rec models.CompletionRecord
		if err := rows.Scan(&rec.ActivityID, &rec.UserID, &rec.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating completions: %w", err)
	}
	return recs, nil
}
