// Package content supplies content references to the generation service.
// References are opaque identifiers into externally authored content packs;
// nothing here inspects their contents.
package content

import (
	"context"
	"fmt"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"

	"github.com/google/uuid"
)

// itemType for generated quest items.
const itemType = "quest"

// ProgressionSelector picks the next content references based on the
// couple's progression cursor: how many activity sets the couple has
// already been served. The cursor read is advisory only; the generation
// uniqueness constraint, not this read, decides who generates.
type ProgressionSelector struct {
	db repository.Querier
}

// NewProgressionSelector creates a new progression selector
func NewProgressionSelector(db repository.Querier) *ProgressionSelector {
	return &ProgressionSelector{db: db}
}

// Next returns count fresh activity items for the couple and date.
func (s *ProgressionSelector) Next(ctx context.Context, coupleID, dateKey string, count int) ([]models.ActivityItem, error) {
	cursor, err := s.cursor(ctx, coupleID, dateKey)
	if err != nil {
		return nil, err
	}

	items := make([]models.ActivityItem, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, models.ActivityItem{
			ID:         uuid.New().String(),
			Type:       itemType,
			ContentRef: fmt.Sprintf("questpack/%04d", cursor*count+i),
			SortOrder:  i,
		})
	}
	return items, nil
}

// cursor counts the sets generated for the couple before this date.
func (s *ProgressionSelector) cursor(ctx context.Context, coupleID, dateKey string) (int, error) {
	query := `SELECT COUNT(*) FROM activity_sets WHERE couple_id = $1 AND date_key < $2`
	var cursor int
	if err := s.db.QueryRow(ctx, query, coupleID, dateKey).Scan(&cursor); err != nil {
		return 0, fmt.Errorf("failed to read progression cursor: %w", err)
	}
	return cursor, nil
}
