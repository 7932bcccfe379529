package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"couple-sync-backend/internal/config"
	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/repository"
	"couple-sync-backend/internal/schema"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Mutation types accepted by the sync protocol, listed in dependency order:
// a completion must be applied before any award evaluation that depends on
// it.
const (
	MutationCompletion     = "completion"
	MutationSessionAnswers = "session_answers"
	MutationAwardClaim     = "award_claim"
)

// mutationRank orders mutation application within a request.
var mutationRank = map[string]int{
	MutationCompletion:     0,
	MutationSessionAnswers: 1,
	MutationAwardClaim:     2,
}

// SyncMutation is one buffered local change pushed by a device.
type SyncMutation struct {
	Type string `json:"type"`

	// completion
	ActivityID  string    `json:"activity_id,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// session_answers
	SessionID       string            `json:"session_id,omitempty"`
	Answers         map[string]string `json:"answers,omitempty"`
	SessionComplete bool              `json:"session_complete,omitempty"`

	// award_claim
	AwardID   string `json:"award_id,omitempty"`
	Amount    int    `json:"amount,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RelatedID string `json:"related_id,omitempty"`
}

// SyncRequest is the per-request contract each device uses to push local
// changes and pull authoritative state.
type SyncRequest struct {
	DateKey           string         `json:"date_key"`
	LastSyncTimestamp time.Time      `json:"last_sync_timestamp"`
	Mutations         []SyncMutation `json:"mutations"`
}

// SyncResponse is always a complete, self-consistent snapshot for the
// synced scope; clients replace their local cache with it, never apply
// diffs blindly.
type SyncResponse struct {
	ActivitySet     *models.ActivitySet        `json:"activity_set"`
	Completions     []*models.CompletionRecord `json:"completions"`
	NewAwards       []*models.RewardAward      `json:"new_awards"`
	Balance         int                        `json:"balance"`
	SchemaVersion   int                        `json:"schema_version"`
	ServerTimestamp time.Time                  `json:"server_timestamp"`
}

// SyncHinter delivers a best-effort "partner activity" hint. Hints prompt
// an earlier poll; they are never a correctness dependency.
type SyncHinter interface {
	Hint(ctx context.Context, userID string)
}

// txServices bundles the tx-scoped service instances one request runs
// through.
type txServices struct {
	generation *GenerationService
	tracker    *CompletionTracker
	ledger     *RewardLedger
	sessions   *SessionService
	couples    interface {
		GetByUserID(ctx context.Context, userID string) (*models.Couple, error)
	}
}

// SyncService orchestrates generation, completion tracking, the reward
// ledger and session reconciliation atomically per request: one database
// transaction, no server-held state across requests.
type SyncService struct {
	pool     *pgxpool.Pool
	selector ContentSelector
	cfg      config.SyncConfig
	hinters  []SyncHinter
}

// NewSyncService creates a new sync service
func NewSyncService(pool *pgxpool.Pool, selector ContentSelector, cfg config.SyncConfig, hinters ...SyncHinter) *SyncService {
	return &SyncService{
		pool:     pool,
		selector: selector,
		cfg:      cfg,
		hinters:  hinters,
	}
}

// newTxServices builds the service set over one Querier (pool or tx).
func (s *SyncService) newTxServices(q repository.Querier) *txServices {
	coupleRepo := repository.NewCoupleRepository(q)
	ledger := NewRewardLedger(repository.NewRewardRepository(q), coupleRepo)
	return &txServices{
		generation: NewGenerationService(repository.NewActivityRepository(q), s.selector, s.cfg.QuestsPerDay),
		tracker:    NewCompletionTracker(repository.NewCompletionRepository(q), ledger, s.cfg.JointRewardPoints),
		ledger:     ledger,
		sessions:   NewSessionService(repository.NewSessionRepository(q)),
		couples:    coupleRepo,
	}
}

// Sync applies a device's batched mutations and returns the authoritative
// snapshot, all within one transaction. The response already reflects any
// award the caller's own completions triggered.
func (s *SyncService) Sync(ctx context.Context, userID string, req *SyncRequest) (*SyncResponse, error) {
	if _, err := time.Parse("2006-01-02", req.DateKey); err != nil {
		return nil, fmt.Errorf("%w: date_key must be YYYY-MM-DD", ErrInvalidMutation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	svc := s.newTxServices(tx)
	couple, err := svc.couples.GetByUserID(ctx, userID)
	if err != nil {
		return nil, ErrNotPaired
	}

	resp, err := s.apply(ctx, svc, couple, userID, req)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit sync transaction: %w", err)
	}

	// Post-commit, best effort: nudge the partner to poll sooner.
	if len(req.Mutations) > 0 {
		partnerID := couple.PartnerOf(userID)
		for _, h := range s.hinters {
			h.Hint(ctx, partnerID)
		}
	}

	return resp, nil
}

// apply runs the strictly ordered mutation pipeline: completions before
// derived award evaluation, award evaluation before response construction.
func (s *SyncService) apply(ctx context.Context, svc *txServices, couple *models.Couple, userID string, req *SyncRequest) (*SyncResponse, error) {
	set, err := svc.generation.GetOrGenerate(ctx, couple, req.DateKey, userID)
	if err != nil {
		return nil, err
	}

	mutations := make([]SyncMutation, len(req.Mutations))
	copy(mutations, req.Mutations)
	sort.SliceStable(mutations, func(i, j int) bool {
		ri, rj := mutationRank[mutations[i].Type], mutationRank[mutations[j].Type]
		if ri != rj {
			return ri < rj
		}
		// Completions take per-activity row locks; a fixed acquisition
		// order keeps two concurrent batches from deadlocking.
		if mutations[i].Type == MutationCompletion {
			return mutations[i].ActivityID < mutations[j].ActivityID
		}
		return false
	})

	for _, m := range mutations {
		switch m.Type {
		case MutationCompletion:
			if _, err := svc.tracker.RecordCompletion(ctx, couple, m.ActivityID, userID, m.CompletedAt); err != nil {
				return nil, err
			}
		case MutationSessionAnswers:
			if _, err := svc.sessions.SubmitAnswers(ctx, m.SessionID, userID, m.Answers, m.SessionComplete); err != nil {
				return nil, err
			}
		case MutationAwardClaim:
			award := &models.RewardAward{
				ID:       m.AwardID,
				CoupleID: couple.ID,
				Amount:   m.Amount,
				Reason:   m.Reason,
			}
			if m.RelatedID != "" {
				related := m.RelatedID
				award.RelatedID = &related
			}
			if _, _, err := svc.ledger.GrantAward(ctx, award); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("%w: unknown mutation type %q", ErrInvalidMutation, m.Type)
		}
	}

	completions, err := svc.tracker.CompletionsForSet(ctx, set.ID)
	if err != nil {
		return nil, err
	}
	awards, err := svc.ledger.AwardsSince(ctx, couple.ID, req.LastSyncTimestamp)
	if err != nil {
		return nil, err
	}
	balance, err := svc.ledger.Balance(ctx, couple)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("couple_id", couple.ID).
		Str("user_id", userID).
		Int("mutations", len(mutations)).
		Int("new_awards", len(awards)).
		Msg("Sync applied")

	return &SyncResponse{
		ActivitySet:     set,
		Completions:     completions,
		NewAwards:       awards,
		Balance:         balance,
		SchemaVersion:   schema.CurrentVersion,
		ServerTimestamp: time.Now(),
	}, nil
}

// StartSession creates (or replays) the caller's dual session for a game,
// keyed by the shared generation timestamp of the day's activity set so
// both partners land on the same correlation key independently.
func (s *SyncService) StartSession(ctx context.Context, userID, gameType, dateKey string) (*models.DualSession, error) {
	if _, err := time.Parse("2006-01-02", dateKey); err != nil {
		return nil, fmt.Errorf("%w: date_key must be YYYY-MM-DD", ErrInvalidMutation)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	svc := s.newTxServices(tx)
	couple, err := svc.couples.GetByUserID(ctx, userID)
	if err != nil {
		return nil, ErrNotPaired
	}

	set, err := svc.generation.GetOrGenerate(ctx, couple, dateKey, userID)
	if err != nil {
		return nil, err
	}

	session, err := svc.sessions.StartSession(ctx, couple, userID, gameType, set.GeneratedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit session transaction: %w", err)
	}
	return session, nil
}

// SubmitAnswers merges answers into the caller's own session outside a sync
// batch, for clients submitting while the user plays.
func (s *SyncService) SubmitAnswers(ctx context.Context, userID, sessionID string, answers map[string]string, complete bool) (*models.DualSession, error) {
	svc := s.newTxServices(s.pool)
	return svc.sessions.SubmitAnswers(ctx, sessionID, userID, answers, complete)
}

// FetchPair reconciles the caller's dual session with its partner session.
// Read-only, so it runs outside a transaction.
func (s *SyncService) FetchPair(ctx context.Context, userID, sessionID string) (*PairResult, error) {
	svc := s.newTxServices(s.pool)
	return svc.sessions.FetchPair(ctx, sessionID, userID)
}

// Balance recomputes and reconciles the couple's point balance.
func (s *SyncService) Balance(ctx context.Context, userID string) (int, error) {
	svc := s.newTxServices(s.pool)
	couple, err := svc.couples.GetByUserID(ctx, userID)
	if err != nil {
		return 0, ErrNotPaired
	}
	return svc.ledger.Balance(ctx, couple)
}
