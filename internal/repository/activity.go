package repository

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

// ActivityRepository handles database operations for activity sets and
// their items.
type ActivityRepository struct {
	db Querier
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db Querier) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Create inserts an activity set and its items. The uniqueness constraint
// on (couple_id, date_key) is the single arbiter of "first creates": when
// both devices generate simultaneously the loser's insert affects zero rows
// and inserted reports false, signalling the caller to re-read the winner.
// ON CONFLICT DO NOTHING keeps the enclosing transaction usable after the
// lost race.
func (r *ActivityRepository) Create(ctx context.Context, set *models.ActivitySet) (inserted bool, err error) {
	query := `
		INSERT INTO activity_sets (id, couple_id, date_key, generated_by, generated_at, schema_version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (couple_id, date_key) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		set.ID, set.CoupleID, set.DateKey, set.GeneratedBy, set.GeneratedAt, set.SchemaVersion,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create activity set: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	itemQuery := `
		INSERT INTO activity_items (id, set_id, type, content_ref, sort_order)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, item := range set.Items {
		if _, err := r.db.Exec(ctx, itemQuery,
			item.ID, set.ID, item.Type, item.ContentRef, item.SortOrder,
		); err != nil {
			return false, fmt.Errorf("failed to create activity item: %w", err)
		}
	}
	return true, nil
}

// GetByCoupleAndDate retrieves the activity set for a couple and date,
// items in sort order. Returns pgx.ErrNoRows (wrapped) when absent.
func (r *ActivityRepository) GetByCoupleAndDate(ctx context.Context, coupleID, dateKey string) (*models.ActivitySet, error) {
	query := `
		SELECT id, couple_id, date_key, generated_by, generated_at, schema_version
		FROM activity_sets
		WHERE couple_id = $1 AND date_key = $2
	`
	var set models.ActivitySet
	err := r.db.QueryRow(ctx, query, coupleID, dateKey).Scan(
		&set.ID, &set.CoupleID, &set.DateKey, &set.GeneratedBy, &set.GeneratedAt, &set.SchemaVersion,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("activity set not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get activity set: %w", err)
	}

	items, err := r.getItems(ctx, set.ID)
	if err != nil {
		return nil, err
	}
	set.Items = items
	return &set, nil
}

// getItems loads the items of a set in sort order.
func (r *ActivityRepository) getItems(ctx context.Context, setID string) ([]models.ActivityItem, error) {
	query := `
		SELECT id, type, content_ref, sort_order
		FROM activity_items
		WHERE set_id = $1
		ORDER BY sort_order ASC
	`
	rows, err := r.db.Query(ctx, query, setID)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity items: %w", err)
	}
	defer rows.Close()

	var items []models.ActivityItem
	for rows.Next() {
		var item models.ActivityItem
		if err := rows.Scan(&item.ID, &item.Type, &item.ContentRef, &item.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan activity item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity items: %w", err)
	}
	return items, nil
}

// StampSchemaVersion migrates a legacy set's version in place. Idempotent:
// the WHERE clause only touches rows still below the target version.
func (r *ActivityRepository) StampSchemaVersion(ctx context.Context, setID string, version int) error {
	query := `UPDATE activity_sets SET schema_version = $1 WHERE id = $2 AND schema_version < $1`
	_, err := r.db.Exec(ctx, query, version, setID)
	if err != nil {
		return fmt.Errorf("failed to stamp schema version: %w", err)
	}
	return nil
}

// Delete removes an activity set, its items and completions. Used when a
// stored set fails validation (never partially trusted) and by retention.
func (r *ActivityRepository) Delete(ctx context.Context, setID string) error {
	queries := []string{
		`DELETE FROM completion_records WHERE activity_id IN (SELECT id FROM activity_items WHERE set_id = $1)`,
		`DELETE FROM activity_items WHERE set_id = $1`,
		`DELETE FROM activity_sets WHERE id = $1`,
	}
	for _, q := range queries {
		if _, err := r.db.Exec(ctx, q, setID); err != nil {
			return fmt.Errorf("failed to delete activity set: %w", err)
		}
	}
	return nil
}

// ListOlderThan returns activity sets whose date key sorts before cutoff
// (date keys are YYYY-MM-DD, so lexicographic order is calendar order).
// Used by retention.
func (r *ActivityRepository) ListOlderThan(ctx context.Context, cutoffDateKey string, limit int) ([]*models.ActivitySet, error) {
	query := `
		SELECT id, couple_id, date_key, generated_by, generated_at, schema_version
		FROM activity_sets
		WHERE date_key < $1
		ORDER BY date_key ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, cutoffDateKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired activity sets: %w", err)
	}
	defer rows.Close()

	var sets []*models.ActivitySet
	for rows.Next() {
		var set models.ActivitySet
		if err := rows.Scan(
			&set.ID, &set.CoupleID, &set.DateKey, &set.GeneratedBy, &set.GeneratedAt, &set.SchemaVersion,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity set: %w", err)
		}
		sets = append(sets, &set)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity sets: %w", err)
	}

	for _, set := range sets {
		items, err := r.getItems(ctx, set.ID)
		if err != nil {
			return nil, err
		}
		set.Items = items
	}
	return sets, nil
}
