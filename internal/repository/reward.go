package repository

import (
	"context"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

// RewardRepository handles database operations for the reward award log
type RewardRepository struct {
	db Querier
}

// NewRewardRepository creates a new reward repository
func NewRewardRepository(db Querier) *RewardRepository {
	return &RewardRepository{db: db}
}

// Insert appends an award to the ledger. Duplicates collapse into a single
// row through either uniqueness arbiter: the partial index on
// (couple_id, related_id) absorbs duplicate triggers, the primary key
// absorbs a client replaying an award with its original idempotency key.
// Neither aborts the enclosing transaction; inserted reports whether this
// call created the award.
func (r *RewardRepository) Insert(ctx context.Context, award *models.RewardAward) (inserted bool, err error) {
	query := `
		INSERT INTO reward_awards (id, couple_id, amount, reason, related_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		award.ID, award.CoupleID, award.Amount, award.Reason, award.RelatedID, award.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert award: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID retrieves an award by its idempotency key, scoped to the couple.
func (r *RewardRepository) GetByID(ctx context.Context, coupleID, id string) (*models.RewardAward, error) {
	query := `
		SELECT id, couple_id, amount, reason, related_id, created_at
		FROM reward_awards
		WHERE id = $1 AND couple_id = $2
	`
	var award models.RewardAward
	err := r.db.QueryRow(ctx, query, id, coupleID).Scan(
		&award.ID, &award.CoupleID, &award.Amount, &award.Reason, &award.RelatedID, &award.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("award not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get award: %w", err)
	}
	return &award, nil
}

// GetByRelatedID returns the award holding the dedup slot for a
// (couple_id, related_id) pair.
func (r *RewardRepository) GetByRelatedID(ctx context.Context, coupleID, relatedID string) (*models.RewardAward, error) {
	query := `
		SELECT id, couple_id, amount, reason, related_id, created_at
		FROM reward_awards
		WHERE couple_id = $1 AND related_id = $2
	`
	var award models.RewardAward
	err := r.db.QueryRow(ctx, query, coupleID, relatedID).Scan(
		&award.ID, &award.CoupleID, &award.Amount, &award.Reason, &award.RelatedID, &award.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("award not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get award: %w", err)
	}
	return &award, nil
}

// ListSince returns awards for a couple created after the given timestamp,
// oldest first.
func (r *RewardRepository) ListSince(ctx context.Context, coupleID string, since time.Time) ([]*models.RewardAward, error) {
	query := `
		SELECT id, couple_id, amount, reason, related_id, created_at
		FROM reward_awards
		WHERE couple_id = $1 AND created_at > $2
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, coupleID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list awards: %w", err)
	}
	defer rows.Close()

	var awards []*models.RewardAward
	for rows.Next() {
		var award models.RewardAward
		if err := rows.Scan(
			&award.ID, &award.CoupleID, &award.Amount, &award.Reason, &award.RelatedID, &award.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan award: %w", err)
		}
		awards = append(awards, &award)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating awards: %w", err)
	}
	return awards, nil
}

// SumAmount recomputes the balance from the award log. The log is the
// source of truth; callers reconcile any cache against this value.
func (r *RewardRepository) SumAmount(ctx context.Context, coupleID string) (int, error) {
	query := `SELECT COALESCE(SUM(amount), 0) FROM reward_awards WHERE couple_id = $1`
	var sum int
	if err := r.db.QueryRow(ctx, query, coupleID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum awards: %w", err)
	}
	return sum, nil
}
