package services

import (
	"context"
	"testing"
	"time"

	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSyncFixture wires the full tx-scoped pipeline over in-memory
// stores so apply can run without a database.
func newTestSyncFixture() (*SyncService, *txServices) {
	completions := newFakeCompletionStore()
	activities := newFakeActivityStore(completions)
	ledger := NewRewardLedger(&fakeRewardStore{}, newFakeBalanceCache())
	svc := &txServices{
		generation: NewGenerationService(activities, &fakeSelector{}, 3),
		tracker:    NewCompletionTracker(completions, ledger, 10),
		ledger:     ledger,
		sessions:   NewSessionService(newFakeSessionStore()),
	}
	s := &SyncService{cfg: config.SyncConfig{QuestsPerDay: 3, JointRewardPoints: 10}}
	return s, svc
}

func TestSyncRejectsMalformedDateKey(t *testing.T) {
	s := &SyncService{}
	for _, dateKey := range []string{"", "today", "2026/08/28", "28-08-2026"} {
		_, err := s.Sync(context.Background(), "user-a", &SyncRequest{DateKey: dateKey})
		assert.ErrorIs(t, err, ErrInvalidMutation, "date key %q", dateKey)
	}
}

func TestApplyEmptyRequestReturnsSnapshot(t *testing.T) {
	s, svc := newTestSyncFixture()
	ctx := context.Background()
	couple := testCouple()

	resp, err := s.apply(ctx, svc, couple, "user-a", &SyncRequest{DateKey: "2026-08-28"})
	require.NoError(t, err)
	require.NotNil(t, resp.ActivitySet)
	assert.Len(t, resp.ActivitySet.Items, 3)
	assert.Empty(t, resp.Completions)
	assert.Empty(t, resp.NewAwards)
	assert.Zero(t, resp.Balance)
	assert.Equal(t, schema.CurrentVersion, resp.SchemaVersion)
	assert.False(t, resp.ServerTimestamp.IsZero())
}

func TestApplySnapshotIncludesOwnTriggeredAward(t *testing.T) {
	s, svc := newTestSyncFixture()
	ctx := context.Background()
	couple := testCouple()

	// Partner synced earlier and completed the first quest.
	first, err := s.apply(ctx, svc, couple, "user-b", &SyncRequest{
		DateKey: "2026-08-28",
		Mutations: []SyncMutation{
			{Type: MutationCompletion, ActivityID: "item-2026-08-28-0", CompletedAt: time.Now()},
		},
	})
	require.NoError(t, err)
	assert.Empty(t, first.NewAwards)
	assert.Zero(t, first.Balance)

	// The caller's own completion closes the joint completion; the response
	// of this very request must already carry the award.
	resp, err := s.apply(ctx, svc, couple, "user-a", &SyncRequest{
		DateKey: "2026-08-28",
		Mutations: []SyncMutation{
			{Type: MutationCompletion, ActivityID: "item-2026-08-28-0", CompletedAt: time.Now()},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.NewAwards, 1)
	assert.Equal(t, 10, resp.NewAwards[0].Amount)
	assert.Equal(t, 10, resp.Balance)
	assert.Len(t, resp.Completions, 2)
}

func TestApplyReplayedBatchIsIdempotent(t *testing.T) {
	s, svc := newTestSyncFixture()
	ctx := context.Background()
	couple := testCouple()

	req := &SyncRequest{
		DateKey: "2026-08-28",
		Mutations: []SyncMutation{
			{Type: MutationCompletion, ActivityID: "item-2026-08-28-0", CompletedAt: time.Now()},
			{Type: MutationAwardClaim, AwardID: "award-streak-1", Amount: 5, Reason: "streak"},
		},
	}
	_, err := s.apply(ctx, svc, couple, "user-a", req)
	require.NoError(t, err)
	_, err = s.apply(ctx, svc, couple, "user-b", req)
	require.NoError(t, err)

	// The device that lost connectivity after the first push retries the
	// whole batch, claimed award included.
	resp, err := s.apply(ctx, svc, couple, "user-a", req)
	require.NoError(t, err)
	assert.Equal(t, 15, resp.Balance, "replay does not double-award")
	assert.Len(t, resp.Completions, 2)
}

func TestApplyLocksCompletionsInOrder(t *testing.T) {
	completions := newFakeCompletionStore()
	activities := newFakeActivityStore(completions)
	ledger := NewRewardLedger(&fakeRewardStore{}, newFakeBalanceCache())
	svc := &txServices{
		generation: NewGenerationService(activities, &fakeSelector{}, 3),
		tracker:    NewCompletionTracker(completions, ledger, 10),
		ledger:     ledger,
		sessions:   NewSessionService(newFakeSessionStore()),
	}
	s := &SyncService{cfg: config.SyncConfig{QuestsPerDay: 3, JointRewardPoints: 10}}
	ctx := context.Background()
	couple := testCouple()

	// Buffered out of order; two concurrent batches taking these row locks
	// in arrival order could deadlock, so they are acquired sorted.
	_, err := s.apply(ctx, svc, couple, "user-a", &SyncRequest{
		DateKey: "2026-08-28",
		Mutations: []SyncMutation{
			{Type: MutationCompletion, ActivityID: "item-2026-08-28-2", CompletedAt: time.Now()},
			{Type: MutationCompletion, ActivityID: "item-2026-08-28-0", CompletedAt: time.Now()},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"item-2026-08-28-0", "item-2026-08-28-2"}, completions.locked)
}

func TestApplyOrdersMutationsByDependency(t *testing.T) {
	s, svc := newTestSyncFixture()
	ctx := context.Background()
	couple := testCouple()

	// Prime: partner completed the quest, own session exists.
	_, err := s.apply(ctx, svc, couple, "user-b", &SyncRequest{
		DateKey: "2026-08-28",
		Mutations: []SyncMutation{
			{Type: MutationCompletion, ActivityID: "item-2026-08-28-0", CompletedAt: time.Now()},
		},
	})
	require.NoError(t, err)

	set, err := svc.generation.GetOrGenerate(ctx, couple, "2026-08-28", "user-a")
	require.NoError(t, err)
	session, err := svc.sessions.StartSession(ctx, couple, "user-a", "quiz", set.GeneratedAt)
	require.NoError(t, err)

	// The batch arrives in the order the device buffered it, award claim and
	// session answers before the completion they depend on.
	resp, err := s.apply(ctx, svc, couple, "user-a", &SyncRequest{
		DateKey: "2026-08-28",
		Mutations: []SyncMutation{
			{Type: MutationAwardClaim, AwardID: "claim-1", Amount: 5, Reason: "streak", RelatedID: "streak-2026-08-28"},
			{Type: MutationSessionAnswers, SessionID: session.ID, Answers: map[string]string{"q1": "yes"}},
			{Type: MutationCompletion, ActivityID: "item-2026-08-28-0", CompletedAt: time.Now()},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 15, resp.Balance, "joint award and claimed award both land")
	require.Len(t, resp.NewAwards, 2)

	updated, err := svc.sessions.sessions.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "yes", updated.Answers["q1"])
}

func TestApplyRejectsUnknownMutationType(t *testing.T) {
	s, svc := newTestSyncFixture()
	ctx := context.Background()

	_, err := s.apply(ctx, svc, testCouple(), "user-a", &SyncRequest{
		DateKey:   "2026-08-28",
		Mutations: []SyncMutation{{Type: "teleport"}},
	})
	assert.ErrorIs(t, err, ErrInvalidMutation)
}

func TestApplyNewAwardsFilteredByLastSync(t *testing.T) {
	s, svc := newTestSyncFixture()
	ctx := context.Background()
	couple := testCouple()

	req := &SyncRequest{
		DateKey: "2026-08-28",
		Mutations: []SyncMutation{
			{Type: MutationCompletion, ActivityID: "item-2026-08-28-0", CompletedAt: time.Now()},
		},
	}
	_, err := s.apply(ctx, svc, couple, "user-a", req)
	require.NoError(t, err)
	_, err = s.apply(ctx, svc, couple, "user-b", req)
	require.NoError(t, err)

	// A later sync whose cursor is past the award sees it in the balance but
	// not in the incremental award list.
	resp, err := s.apply(ctx, svc, couple, "user-a", &SyncRequest{
		DateKey:           "2026-08-28",
		LastSyncTimestamp: time.Now().Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Empty(t, resp.NewAwards)
	assert.Equal(t, 10, resp.Balance)
}
