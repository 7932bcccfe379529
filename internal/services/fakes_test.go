package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

// In-memory stores mirroring the repository semantics, including the
// uniqueness constraints the real schema enforces.

type fakeRewardStore struct {
	awards []*models.RewardAward
}

func (f *fakeRewardStore) Insert(_ context.Context, award *models.RewardAward) (bool, error) {
	for _, a := range f.awards {
		if a.ID == award.ID {
			return false, nil
		}
		if award.RelatedID != nil && a.CoupleID == award.CoupleID && a.RelatedID != nil && *a.RelatedID == *award.RelatedID {
			return false, nil
		}
	}
	cp := *award
	f.awards = append(f.awards, &cp)
	return true, nil
}

func (f *fakeRewardStore) GetByID(_ context.Context, coupleID, id string) (*models.RewardAward, error) {
	for _, a := range f.awards {
		if a.ID == id && a.CoupleID == coupleID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("award not found: %w", pgx.ErrNoRows)
}

func (f *fakeRewardStore) GetByRelatedID(_ context.Context, coupleID, relatedID string) (*models.RewardAward, error) {
	for _, a := range f.awards {
		if a.CoupleID == coupleID && a.RelatedID != nil && *a.RelatedID == relatedID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("award not found: %w", pgx.ErrNoRows)
}

func (f *fakeRewardStore) ListSince(_ context.Context, coupleID string, since time.Time) ([]*models.RewardAward, error) {
	var out []*models.RewardAward
	for _, a := range f.awards {
		if a.CoupleID == coupleID && a.CreatedAt.After(since) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeRewardStore) SumAmount(_ context.Context, coupleID string) (int, error) {
	sum := 0
	for _, a := range f.awards {
		if a.CoupleID == coupleID {
			sum += a.Amount
		}
	}
	return sum, nil
}

type fakeBalanceCache struct {
	balances map[string]int
}

func newFakeBalanceCache() *fakeBalanceCache {
	return &fakeBalanceCache{balances: map[string]int{}}
}

func (f *fakeBalanceCache) UpdateCachedBalance(_ context.Context, coupleID string, balance int) error {
	f.balances[coupleID] = balance
	return nil
}

type fakeCompletionStore struct {
	recs   map[string]*models.CompletionRecord // activityID + "/" + userID
	setOf  map[string]string                   // activityID -> setID
	locked []string                            // activity IDs in lock order
}

func newFakeCompletionStore() *fakeCompletionStore {
	return &fakeCompletionStore{
		recs:  map[string]*models.CompletionRecord{},
		setOf: map[string]string{},
	}
}

func (f *fakeCompletionStore) LockActivity(_ context.Context, activityID string) error {
	f.locked = append(f.locked, activityID)
	return nil
}

func (f *fakeCompletionStore) Upsert(_ context.Context, rec *models.CompletionRecord) error {
	key := rec.ActivityID + "/" + rec.UserID
	if existing, ok := f.recs[key]; ok {
		if rec.CompletedAt.Before(existing.CompletedAt) {
			existing.CompletedAt = rec.CompletedAt
		}
		return nil
	}
	cp := *rec
	f.recs[key] = &cp
	return nil
}

func (f *fakeCompletionStore) GetByActivity(_ context.Context, activityID string) ([]*models.CompletionRecord, error) {
	var out []*models.CompletionRecord
	for _, rec := range f.recs {
		if rec.ActivityID == activityID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCompletionStore) GetBySet(_ context.Context, setID string) ([]*models.CompletionRecord, error) {
	var out []*models.CompletionRecord
	for _, rec := range f.recs {
		if f.setOf[rec.ActivityID] == setID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ActivityID != out[j].ActivityID {
			return out[i].ActivityID < out[j].ActivityID
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

type fakeActivityStore struct {
	sets        map[string]*models.ActivitySet // coupleID + "/" + dateKey
	completions *fakeCompletionStore

	// beforeCreate, when set, runs at the top of Create so tests can
	// interleave a competing insert.
	beforeCreate func()
}

func newFakeActivityStore(completions *fakeCompletionStore) *fakeActivityStore {
	return &fakeActivityStore{
		sets:        map[string]*models.ActivitySet{},
		completions: completions,
	}
}

func (f *fakeActivityStore) key(coupleID, dateKey string) string {
	return coupleID + "/" + dateKey
}

func (f *fakeActivityStore) Create(_ context.Context, set *models.ActivitySet) (bool, error) {
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	k := f.key(set.CoupleID, set.DateKey)
	if _, exists := f.sets[k]; exists {
		return false, nil
	}
	cp := *set
	f.sets[k] = &cp
	if f.completions != nil {
		for _, item := range set.Items {
			f.completions.setOf[item.ID] = set.ID
		}
	}
	return true, nil
}

func (f *fakeActivityStore) GetByCoupleAndDate(_ context.Context, coupleID, dateKey string) (*models.ActivitySet, error) {
	set, ok := f.sets[f.key(coupleID, dateKey)]
	if !ok {
		return nil, fmt.Errorf("activity set not found: %w", pgx.ErrNoRows)
	}
	cp := *set
	return &cp, nil
}

func (f *fakeActivityStore) StampSchemaVersion(_ context.Context, setID string, version int) error {
	for _, set := range f.sets {
		if set.ID == setID && set.SchemaVersion < version {
			set.SchemaVersion = version
		}
	}
	return nil
}

func (f *fakeActivityStore) ListOlderThan(_ context.Context, cutoffDateKey string, limit int) ([]*models.ActivitySet, error) {
	var out []*models.ActivitySet
	for _, set := range f.sets {
		if set.DateKey < cutoffDateKey {
			cp := *set
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateKey < out[j].DateKey })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeActivityStore) Delete(_ context.Context, setID string) error {
	for k, set := range f.sets {
		if set.ID == setID {
			delete(f.sets, k)
		}
	}
	return nil
}

type fakeSessionStore struct {
	sessions map[string]*models.DualSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: map[string]*models.DualSession{}}
}

func (f *fakeSessionStore) Create(_ context.Context, session *models.DualSession) (bool, error) {
	for _, s := range f.sessions {
		if s.CorrelationKey == session.CorrelationKey && s.OwnerID == session.OwnerID {
			return false, nil
		}
	}
	cp := *session
	f.sessions[session.ID] = &cp
	return true, nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id string) (*models.DualSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session not found: %w", pgx.ErrNoRows)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionStore) GetByCorrelationAndOwner(_ context.Context, correlationKey, ownerID string) (*models.DualSession, error) {
	for _, s := range f.sessions {
		if s.CorrelationKey == correlationKey && s.OwnerID == ownerID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("session not found: %w", pgx.ErrNoRows)
}

func (f *fakeSessionStore) GetPartnerSession(_ context.Context, correlationKey, ownerID string) (*models.DualSession, error) {
	for _, s := range f.sessions {
		if s.CorrelationKey == correlationKey && s.OwnerID != ownerID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("session not found: %w", pgx.ErrNoRows)
}

func (f *fakeSessionStore) Update(_ context.Context, session *models.DualSession) error {
	if _, ok := f.sessions[session.ID]; !ok {
		return fmt.Errorf("session not found")
	}
	cp := *session
	f.sessions[session.ID] = &cp
	return nil
}

func (f *fakeSessionStore) StampSchemaVersion(_ context.Context, id string, version int) error {
	if s, ok := f.sessions[id]; ok && s.SchemaVersion < version {
		s.SchemaVersion = version
	}
	return nil
}

type fakeSelector struct {
	failures int
	calls    int
	items    func(count int) []models.ActivityItem
}

func (f *fakeSelector) Next(_ context.Context, coupleID, dateKey string, count int) ([]models.ActivityItem, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("progression data unavailable")
	}
	if f.items != nil {
		return f.items(count), nil
	}
	items := make([]models.ActivityItem, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, models.ActivityItem{
			ID:         fmt.Sprintf("item-%s-%d", dateKey, i),
			Type:       "quest",
			ContentRef: fmt.Sprintf("questpack/%04d", i),
			SortOrder:  i,
		})
	}
	return items, nil
}

func testCouple() *models.Couple {
	return &models.Couple{
		ID:        "cpl_test",
		UserAID:   "user-a",
		UserBID:   "user-b",
		CreatedAt: time.Now(),
	}
}
