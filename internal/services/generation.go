package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/schema"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
)

// ActivityStore is the slice of the activity repository generation needs.
type ActivityStore interface {
	Create(ctx context.Context, set *models.ActivitySet) (bool, error)
	GetByCoupleAndDate(ctx context.Context, coupleID, dateKey string) (*models.ActivitySet, error)
	StampSchemaVersion(ctx context.Context, setID string, version int) error
	Delete(ctx context.Context, setID string) error
}

// ContentSelector supplies the next content references for a couple given
// its progression state. The references are opaque to this service.
type ContentSelector interface {
	Next(ctx context.Context, coupleID, dateKey string, count int) ([]models.ActivityItem, error)
}

// GenerationService produces the day's shared activity set exactly once per
// couple per date: first device creates, second loads verbatim. The
// uniqueness constraint on (couple_id, date_key) is the single source of
// correctness; the fallback path is always re-read, never re-decide.
type GenerationService struct {
	activities ActivityStore
	selector   ContentSelector
	perDay     int
}

// NewGenerationService creates a new generation service
func NewGenerationService(activities ActivityStore, selector ContentSelector, perDay int) *GenerationService {
	return &GenerationService{
		activities: activities,
		selector:   selector,
		perDay:     perDay,
	}
}

// GetOrGenerate returns the activity set for (couple, dateKey), generating
// it if absent. A stored set is returned verbatim: generated IDs are never
// regenerated or mutated. Legacy sets are migrated through the schema gate
// before use; a set failing validation is rejected whole, cleared, and
// regenerated.
func (g *GenerationService) GetOrGenerate(ctx context.Context, couple *models.Couple, dateKey, requestedBy string) (*models.ActivitySet, error) {
	set, err := g.activities.GetByCoupleAndDate(ctx, couple.ID, dateKey)
	if err == nil {
		set, err = g.gate(ctx, set)
		if err != nil {
			return nil, err
		}
		if set != nil {
			return set, nil
		}
		// Stored set was invalid and has been cleared; fall through to
		// regeneration.
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	items, err := g.selectContent(ctx, couple.ID, dateKey)
	if err != nil {
		return nil, err
	}

	candidate := &models.ActivitySet{
		ID:       uuid.New().String(),
		CoupleID: couple.ID,
		DateKey:  dateKey,
		Items:    items,
		// Truncated to milliseconds so the value survives the timestamptz
		// round-trip unchanged: both partners derive the session correlation
		// key from this timestamp and must compute the same key.
		GeneratedAt:   time.Now().Truncate(time.Millisecond),
		GeneratedBy:   requestedBy,
		SchemaVersion: schema.CurrentVersion,
	}

	inserted, err := g.activities.Create(ctx, candidate)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// The partner's device won a genuine race. Discard the local
		// candidate and re-read: which version wins is explicitly arbitrary.
		log.Debug().
			Str("couple_id", couple.ID).
			Str("date_key", dateKey).
			Msg("Lost generation race, loading winner's activity set")
		winner, err := g.activities.GetByCoupleAndDate(ctx, couple.ID, dateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load winning activity set: %w", err)
		}
		return g.gate(ctx, winner)
	}

	log.Info().
		Str("couple_id", couple.ID).
		Str("date_key", dateKey).
		Int("items", len(items)).
		Msg("Activity set generated")

	return candidate, nil
}

// selectContent asks the collaborator for content, retrying once locally
// before surfacing a fatal generation error. No silent fallback content.
func (g *GenerationService) selectContent(ctx context.Context, coupleID, dateKey string) ([]models.ActivityItem, error) {
	items, err := g.selector.Next(ctx, coupleID, dateKey, g.perDay)
	if err != nil {
		log.Warn().Err(err).Str("couple_id", coupleID).Msg("Content selection failed, retrying")
		items, err = g.selector.Next(ctx, coupleID, dateKey, g.perDay)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: selector returned no content", ErrGenerationFailed)
	}
	return items, nil
}

// gate runs the schema version gate and whole-set validation. Returns
// (nil, nil) when the set was invalid and cleared.
func (g *GenerationService) gate(ctx context.Context, set *models.ActivitySet) (*models.ActivitySet, error) {
	decision, err := schema.Check(set.SchemaVersion)
	if err != nil {
		return nil, err
	}
	if decision == schema.DecisionMigrate {
		migrated := schema.Migrate(set.SchemaVersion)
		if err := g.activities.StampSchemaVersion(ctx, set.ID, migrated); err != nil {
			return nil, err
		}
		set.SchemaVersion = migrated
	}

	if err := validateSet(set); err != nil {
		// Partial trust is disallowed: clear the whole set and force
		// regeneration rather than letting the two devices diverge.
		log.Error().Err(err).
			Str("set_id", set.ID).
			Str("couple_id", set.CoupleID).
			Msg("Stored activity set failed validation, clearing")
		if err := g.activities.Delete(ctx, set.ID); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return set, nil
}

// validateSet checks a stored set for malformed or out-of-range content.
func validateSet(set *models.ActivitySet) error {
	if len(set.Items) == 0 {
		return fmt.Errorf("activity set has no items")
	}
	seen := make(map[string]bool, len(set.Items))
	for _, item := range set.Items {
		if item.ID == "" || item.ContentRef == "" || item.Type == "" {
			return fmt.Errorf("activity item missing id, type or content ref")
		}
		if seen[item.ID] {
			return fmt.Errorf("duplicate activity item id %s", item.ID)
		}
		seen[item.ID] = true
	}
	return nil
}
