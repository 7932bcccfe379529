package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"couple-sync-backend/internal/models"

	"github.com/jackc/pgx/v5"
)

// SessionRepository handles database operations for dual sessions
type SessionRepository struct {
	db Querier
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db Querier) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a dual session. Unique on (correlation_key, owner_id):
// each partner owns at most one session per pairing event. A replayed
// create affects zero rows and reports inserted=false.
func (r *SessionRepository) Create(ctx context.Context, session *models.DualSession) (inserted bool, err error) {
	answers, err := json.Marshal(session.Answers)
	if err != nil {
		return false, fmt.Errorf("failed to marshal answers: %w", err)
	}

	query := `
		INSERT INTO dual_sessions (id, couple_id, owner_id, game_type, correlation_key,
			answers, status, schema_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (correlation_key, owner_id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query,
		session.ID, session.CoupleID, session.OwnerID, session.GameType, session.CorrelationKey,
		answers, session.Status, session.SchemaVersion, session.CreatedAt, session.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetByID retrieves a session by its full ID.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.DualSession, error) {
	query := `
		SELECT id, couple_id, owner_id, game_type, correlation_key,
			answers, status, schema_version, created_at, updated_at
		FROM dual_sessions
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// GetByCorrelationAndOwner retrieves a session by its pairing-event key and
// owner. Used to re-read the winning row after a replayed create.
func (r *SessionRepository) GetByCorrelationAndOwner(ctx context.Context, correlationKey, ownerID string) (*models.DualSession, error) {
	query := `
		SELECT id, couple_id, owner_id, game_type, correlation_key,
			answers, status, schema_version, created_at, updated_at
		FROM dual_sessions
		WHERE correlation_key = $1 AND owner_id = $2
	`
	return r.scanOne(r.db.QueryRow(ctx, query, correlationKey, ownerID))
}

// GetPartnerSession locates the matched pair member: any session sharing
// the correlation key with a different owner. Matching never compares full
// session IDs.
func (r *SessionRepository) GetPartnerSession(ctx context.Context, correlationKey, ownerID string) (*models.DualSession, error) {
	query := `
		SELECT id, couple_id, owner_id, game_type, correlation_key,
			answers, status, schema_version, created_at, updated_at
		FROM dual_sessions
		WHERE correlation_key = $1 AND owner_id <> $2
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, correlationKey, ownerID))
}

// Update persists answers and status for an in-progress session.
func (r *SessionRepository) Update(ctx context.Context, session *models.DualSession) error {
	answers, err := json.Marshal(session.Answers)
	if err != nil {
		return fmt.Errorf("failed to marshal answers: %w", err)
	}

	query := `
		UPDATE dual_sessions
		SET answers = $1, status = $2, updated_at = $3
		WHERE id = $4
	`
	tag, err := r.db.Exec(ctx, query, answers, session.Status, session.UpdatedAt, session.ID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session not found")
	}
	return nil
}

// StampSchemaVersion migrates a legacy session's version in place.
func (r *SessionRepository) StampSchemaVersion(ctx context.Context, id string, version int) error {
	query := `UPDATE dual_sessions SET schema_version = $1 WHERE id = $2 AND schema_version < $1`
	if _, err := r.db.Exec(ctx, query, version, id); err != nil {
		return fmt.Errorf("failed to stamp schema version: %w", err)
	}
	return nil
}

func (r *SessionRepository) scanOne(row pgx.Row) (*models.DualSession, error) {
	var session models.DualSession
	var answers []byte
	err := row.Scan(
		&session.ID, &session.CoupleID, &session.OwnerID, &session.GameType, &session.CorrelationKey,
		&answers, &session.Status, &session.SchemaVersion, &session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("session not found: %w", err)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(answers) > 0 {
		if err := json.Unmarshal(answers, &session.Answers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal answers: %w", err)
		}
	}
	return &session, nil
}
