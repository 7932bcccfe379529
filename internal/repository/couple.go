package repository

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

// CoupleRepository handles database operations for couples
type CoupleRepository struct {
	db Querier
}

// NewCoupleRepository creates a new couple repository
func NewCoupleRepository(db Querier) *CoupleRepository {
	return &CoupleRepository{db: db}
}

// Create creates a new couple and claims both member slots in a single
// statement. The couples primary key catches a concurrent identical pairing;
// the couple_members primary key catches a user already paired into a
// different couple. Either surfaces via IsUniqueViolation.
func (r *CoupleRepository) Create(ctx context.Context, couple *models.Couple) error {
	query := `
		WITH new_couple AS (
			INSERT INTO couples (id, user_a_id, user_b_id, cached_balance, created_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		)
		INSERT INTO couple_members (user_id, couple_id)
		SELECT member, id FROM new_couple, unnest(ARRAY[$2, $3]) AS member
	`
	_, err := r.db.Exec(ctx, query,
		couple.ID, couple.UserAID, couple.UserBID, couple.CachedBalance, couple.CreatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("failed to create couple: %w", err)
	}
	return nil
}

// GetByID retrieves a couple by ID
func (r *CoupleRepository) GetByID(ctx context.Context, id string) (*models.Couple, error) {
	query := `
		SELECT id, user_a_id, user_b_id, cached_balance, created_at
		FROM couples
		WHERE id = $1
	`
	var couple models.Couple
	err := r.db.QueryRow(ctx, query, id).Scan(
		&couple.ID, &couple.UserAID, &couple.UserBID, &couple.CachedBalance, &couple.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("couple not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get couple: %w", err)
	}
	return &couple, nil
}

// GetByUserID retrieves the couple a user belongs to
func (r *CoupleRepository) GetByUserID(ctx context.Context, userID string) (*models.Couple, error) {
	query := `
		SELECT id, user_a_id, user_b_id, cached_balance, created_at
		FROM couples
		WHERE user_a_id = $1 OR user_b_id = $1
		LIMIT 1
	`
	var couple models.Couple
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&couple.ID, &couple.UserAID, &couple.UserBID, &couple.CachedBalance, &couple.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("couple not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get couple by user id: %w", err)
	}
	return &couple, nil
}

// UserHasCouple checks if a user is already paired
func (r *CoupleRepository) UserHasCouple(ctx context.Context, userID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM couples WHERE user_a_id = $1 OR user_b_id = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check if user has couple: %w", err)
	}
	return exists, nil
}

// UpdateCachedBalance overwrites the cached balance for a couple. The award
// log stays the source of truth; this cache is disposable.
func (r *CoupleRepository) UpdateCachedBalance(ctx context.Context, coupleID string, balance int) error {
	query := `UPDATE couples SET cached_balance = $1 WHERE id = $2`
	_, err := r.db.Exec(ctx, query, balance, coupleID)
	if err != nil {
		return fmt.Errorf("failed to update cached balance: %w", err)
	}
	return nil
}
