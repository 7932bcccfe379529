package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"couple-sync-backend/internal/models"
	"couple-sync-backend/internal/schema"

	"github.com/jackc/pgx/v5"
)

// SessionStore is the slice of the session repository reconciliation needs.
type SessionStore interface {
	Create(ctx context.Context, session *models.DualSession) (bool, error)
	GetByID(ctx context.Context, id string) (*models.DualSession, error)
	GetByCorrelationAndOwner(ctx context.Context, correlationKey, ownerID string) (*models.DualSession, error)
	GetPartnerSession(ctx context.Context, correlationKey, ownerID string) (*models.DualSession, error)
	Update(ctx context.Context, session *models.DualSession) error
	StampSchemaVersion(ctx context.Context, id string, version int) error
}

// PairResult is the outcome of reconciling a dual-session pair. When the
// partner session is absent or incomplete only PartnerComplete=false is
// reported; no partial result is ever computed.
type PairResult struct {
	Own             *models.DualSession `json:"own"`
	Partner         *models.DualSession `json:"partner,omitempty"`
	PartnerComplete bool                `json:"partner_complete"`
	MatchedAnswers  int                 `json:"matched_answers"`
	TotalAnswers    int                 `json:"total_answers"`
	MatchPercent    int                 `json:"match_percent"`
}

// SessionService matches and merges the two independent per-user sessions
// of asymmetric games.
type SessionService struct {
	sessions SessionStore
}

// NewSessionService creates a new session service
func NewSessionService(sessions SessionStore) *SessionService {
	return &SessionService{sessions: sessions}
}

// NewSessionID composes a session ID embedding the correlation key:
// <game>:<coupleID>:<correlationKey>:<ownerID>. Both partners derive the
// correlation key from the same shared generation timestamp, so their two
// distinct IDs mark them as one pairing event.
func NewSessionID(gameType, coupleID, correlationKey, ownerID string) string {
	return strings.Join([]string{gameType, coupleID, correlationKey, ownerID}, ":")
}

// CorrelationKeyFromTime formats a shared generation timestamp as a
// correlation key (zero-padded unix milliseconds).
func CorrelationKeyFromTime(t time.Time) string {
	return fmt.Sprintf("%013d", t.UnixMilli())
}

// ParseSessionID extracts the segments of a session ID.
func ParseSessionID(sessionID string) (gameType, coupleID, correlationKey, ownerID string, err error) {
	parts := strings.Split(sessionID, ":")
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" || parts[2] == "" || parts[3] == "" {
		return "", "", "", "", fmt.Errorf("malformed session id %q", sessionID)
	}
	return parts[0], parts[1], parts[2], parts[3], nil
}

// StartSession creates the caller's session for a pairing event, keyed by
// the shared generation timestamp. Replays re-read the existing row instead
// of erroring.
func (s *SessionService) StartSession(ctx context.Context, couple *models.Couple, ownerID, gameType string, generatedAt time.Time) (*models.DualSession, error) {
	if !couple.HasMember(ownerID) {
		return nil, fmt.Errorf("%w: user is not a member of this couple", ErrInvalidMutation)
	}

	key := CorrelationKeyFromTime(generatedAt)
	now := time.Now()
	session := &models.DualSession{
		ID:             NewSessionID(gameType, couple.ID, key, ownerID),
		CoupleID:       couple.ID,
		OwnerID:        ownerID,
		GameType:       gameType,
		CorrelationKey: key,
		Answers:        map[string]string{},
		Status:         models.SessionStatusInProgress,
		SchemaVersion:  schema.CurrentVersion,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	inserted, err := s.sessions.Create(ctx, session)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.sessions.GetByCorrelationAndOwner(ctx, key, ownerID)
	}
	return session, nil
}

// SubmitAnswers merges answers into the caller's session and optionally
// marks it complete. Already-submitted answers keep their first value, so
// offline replays are no-ops.
func (s *SessionService) SubmitAnswers(ctx context.Context, sessionID, callerID string, answers map[string]string, complete bool) (*models.DualSession, error) {
	session, err := s.getGated(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != callerID {
		return nil, ErrNotSessionOwner
	}
	if session.Status == models.SessionStatusComplete {
		if len(answers) == 0 {
			return session, nil
		}
		return nil, ErrSessionComplete
	}

	if session.Answers == nil {
		session.Answers = map[string]string{}
	}
	for k, v := range answers {
		if _, exists := session.Answers[k]; !exists {
			session.Answers[k] = v
		}
	}
	if complete {
		session.Status = models.SessionStatusComplete
	}
	session.UpdatedAt = time.Now()

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// FetchPair locates the caller's session and its partner session via the
// correlation key, never by guessing the partner's session ID string. The
// match result is only computed when both sessions are complete.
func (s *SessionService) FetchPair(ctx context.Context, sessionID, callerID string) (*PairResult, error) {
	own, err := s.getGated(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if own.OwnerID != callerID {
		return nil, ErrNotSessionOwner
	}

	result := &PairResult{Own: own}

	partner, err := s.sessions.GetPartnerSession(ctx, own.CorrelationKey, own.OwnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return result, nil
		}
		return nil, err
	}
	result.Partner = partner

	if own.Status != models.SessionStatusComplete || partner.Status != models.SessionStatusComplete {
		return result, nil
	}

	result.PartnerComplete = true
	result.MatchedAnswers, result.TotalAnswers = scoreAnswers(own.Answers, partner.Answers)
	if result.TotalAnswers > 0 {
		result.MatchPercent = result.MatchedAnswers * 100 / result.TotalAnswers
	}
	return result, nil
}

// getGated loads a session and runs it through the schema version gate.
func (s *SessionService) getGated(ctx context.Context, sessionID string) (*models.DualSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	decision, err := schema.Check(session.SchemaVersion)
	if err != nil {
		return nil, err
	}
	if decision == schema.DecisionMigrate {
		migrated := schema.Migrate(session.SchemaVersion)
		if err := s.sessions.StampSchemaVersion(ctx, session.ID, migrated); err != nil {
			return nil, err
		}
		session.SchemaVersion = migrated
	}
	return session, nil
}

// scoreAnswers counts agreement over the union of answered question keys.
func scoreAnswers(own, partner map[string]string) (matched, total int) {
	keys := make(map[string]bool, len(own)+len(partner))
	for k := range own {
		keys[k] = true
	}
	for k := range partner {
		keys[k] = true
	}
	for k := range keys {
		total++
		if ov, ok := own[k]; ok {
			if pv, ok := partner[k]; ok && ov == pv {
				matched++
			}
		}
	}
	return matched, total
}
