package services

import (
	"context"
	"testing"
	"time"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGeneration(selector *fakeSelector) (*GenerationService, *fakeActivityStore) {
	store := newFakeActivityStore(newFakeCompletionStore())
	return NewGenerationService(store, selector, 3), store
}

func TestGetOrGenerateFirstCreatesSecondLoads(t *testing.T) {
	gen, _ := newTestGeneration(&fakeSelector{})
	ctx := context.Background()
	couple := testCouple()

	first, err := gen.GetOrGenerate(ctx, couple, "2026-08-28", "user-a")
	require.NoError(t, err)
	require.Len(t, first.Items, 3)
	assert.Equal(t, "user-a", first.GeneratedBy)
	assert.Equal(t, schema.CurrentVersion, first.SchemaVersion)

	// The partner's device asks later and must load the stored set verbatim,
	// generated IDs included.
	second, err := gen.GetOrGenerate(ctx, couple, "2026-08-28", "user-b")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, "user-a", second.GeneratedBy)
}

func TestGetOrGenerateLostRaceReturnsWinner(t *testing.T) {
	selector := &fakeSelector{}
	store := newFakeActivityStore(newFakeCompletionStore())
	gen := NewGenerationService(store, selector, 3)
	ctx := context.Background()
	couple := testCouple()

	// Another device commits between our read and our insert.
	winner := &models.ActivitySet{
		ID:       "set-winner",
		CoupleID: couple.ID,
		DateKey:  "2026-08-28",
		Items: []models.ActivityItem{
			{ID: "w-1", Type: "quest", ContentRef: "questpack/0000"},
		},
		GeneratedBy:   "user-b",
		SchemaVersion: schema.CurrentVersion,
	}
	raced := false
	store.beforeCreate = func() {
		if !raced {
			raced = true
			_, _ = store.Create(ctx, winner)
		}
	}

	set, err := gen.GetOrGenerate(ctx, couple, "2026-08-28", "user-a")
	require.NoError(t, err)
	assert.Equal(t, "set-winner", set.ID, "local candidate is discarded, winner is loaded")
	assert.Equal(t, "user-b", set.GeneratedBy)
	require.Len(t, set.Items, 1)
	assert.Equal(t, "w-1", set.Items[0].ID)
}

func TestGeneratedAtIsExactAtStoredPrecision(t *testing.T) {
	gen, _ := newTestGeneration(&fakeSelector{})
	ctx := context.Background()

	set, err := gen.GetOrGenerate(ctx, testCouple(), "2026-08-28", "user-a")
	require.NoError(t, err)

	// The database stores timestamps at microsecond precision and the
	// session correlation key is derived from this value, so it must carry
	// no sub-millisecond component that a round-trip would strip.
	assert.True(t, set.GeneratedAt.Equal(set.GeneratedAt.Truncate(time.Millisecond)),
		"generated_at must survive storage without losing precision")
}

func TestGetOrGenerateRetriesSelectorOnce(t *testing.T) {
	gen, _ := newTestGeneration(&fakeSelector{failures: 1})
	ctx := context.Background()

	set, err := gen.GetOrGenerate(ctx, testCouple(), "2026-08-28", "user-a")
	require.NoError(t, err)
	assert.Len(t, set.Items, 3)
}

func TestGetOrGenerateFailsAfterRetry(t *testing.T) {
	selector := &fakeSelector{failures: 2}
	gen, store := newTestGeneration(selector)
	ctx := context.Background()

	_, err := gen.GetOrGenerate(ctx, testCouple(), "2026-08-28", "user-a")
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 2, selector.calls)
	assert.Empty(t, store.sets, "no fallback set is stored on failure")
}

func TestGetOrGenerateRejectsFutureSchema(t *testing.T) {
	gen, store := newTestGeneration(&fakeSelector{})
	ctx := context.Background()
	couple := testCouple()

	_, err := store.Create(ctx, &models.ActivitySet{
		ID:       "set-future",
		CoupleID: couple.ID,
		DateKey:  "2026-08-28",
		Items: []models.ActivityItem{
			{ID: "f-1", Type: "quest", ContentRef: "questpack/0000"},
		},
		SchemaVersion: schema.CurrentVersion + 1,
	})
	require.NoError(t, err)

	_, err = gen.GetOrGenerate(ctx, couple, "2026-08-28", "user-a")
	assert.ErrorIs(t, err, schema.ErrUpgradeRequired)
}

func TestGetOrGenerateMigratesLegacySet(t *testing.T) {
	gen, store := newTestGeneration(&fakeSelector{})
	ctx := context.Background()
	couple := testCouple()

	_, err := store.Create(ctx, &models.ActivitySet{
		ID:       "set-legacy",
		CoupleID: couple.ID,
		DateKey:  "2026-08-28",
		Items: []models.ActivityItem{
			{ID: "l-1", Type: "quest", ContentRef: "questpack/0000"},
		},
		SchemaVersion: schema.MinSupportedVersion - 1,
	})
	require.NoError(t, err)

	set, err := gen.GetOrGenerate(ctx, couple, "2026-08-28", "user-a")
	require.NoError(t, err)
	assert.Equal(t, "set-legacy", set.ID)
	assert.GreaterOrEqual(t, set.SchemaVersion, schema.MinSupportedVersion)

	// The migration is persisted, not just in-memory.
	stored, err := store.GetByCoupleAndDate(ctx, couple.ID, "2026-08-28")
	require.NoError(t, err)
	assert.Equal(t, set.SchemaVersion, stored.SchemaVersion)
}

func TestGetOrGenerateClearsInvalidSetAndRegenerates(t *testing.T) {
	gen, store := newTestGeneration(&fakeSelector{})
	ctx := context.Background()
	couple := testCouple()

	// Stored set with a malformed item; partial trust is disallowed, so the
	// whole set must be cleared and regenerated.
	_, err := store.Create(ctx, &models.ActivitySet{
		ID:       "set-bad",
		CoupleID: couple.ID,
		DateKey:  "2026-08-28",
		Items: []models.ActivityItem{
			{ID: "ok", Type: "quest", ContentRef: "questpack/0000"},
			{ID: "", Type: "quest", ContentRef: "questpack/0001"},
		},
		SchemaVersion: schema.CurrentVersion,
	})
	require.NoError(t, err)

	set, err := gen.GetOrGenerate(ctx, couple, "2026-08-28", "user-a")
	require.NoError(t, err)
	assert.NotEqual(t, "set-bad", set.ID)
	assert.Len(t, set.Items, 3)
	for _, item := range set.Items {
		assert.NotEmpty(t, item.ID)
	}
}

func TestValidateSetRejectsDuplicateItemIDs(t *testing.T) {
	err := validateSet(&models.ActivitySet{
		ID: "set-1",
		Items: []models.ActivityItem{
			{ID: "dup", Type: "quest", ContentRef: "questpack/0000"},
			{ID: "dup", Type: "quest", ContentRef: "questpack/0001"},
		},
	})
	assert.Error(t, err)
}

func TestValidateSetRejectsEmpty(t *testing.T) {
	err := validateSet(&models.ActivitySet{ID: "set-1"})
	assert.Error(t, err)
}
