package models

import "time"

// ActivityItem is a single piece of the day's shared content.
type ActivityItem struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	ContentRef string `json:"content_ref"`
	SortOrder  int    `json:"sort_order"`
}

// ActivitySet is the generated, shared content for one couple on one date.
// At most one set exists per (couple_id, date_key); once created it is
// immutable apart from the completion overlay.
type ActivitySet struct {
	ID            string         `json:"id"`
	CoupleID      string         `json:"couple_id"`
	DateKey       string         `json:"date_key"`
	Items         []ActivityItem `json:"items"`
	GeneratedBy   string         `json:"generated_by"`
	GeneratedAt   time.Time      `json:"generated_at"`
	SchemaVersion int            `json:"schema_version"`
}

// CompletionRecord marks one user's completion of one activity item.
// Unique per (activity_id, user_id); resubmission keeps the earliest
// timestamp.
type CompletionRecord struct {
	ActivityID  string    `json:"activity_id"`
	UserID      string    `json:"user_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// RewardAward is one atomic point grant in the ledger. Unique on
// (couple_id, related_id) when RelatedID is non-empty; that constraint is
// the sole deduplication mechanism.
type RewardAward struct {
	ID        string    `json:"id"`
	CoupleID  string    `json:"couple_id"`
	Amount    int       `json:"amount"`
	Reason    string    `json:"reason"`
	RelatedID *string   `json:"related_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// DualSession statuses.
const (
	SessionStatusInProgress = "in_progress"
	SessionStatusComplete   = "complete"
)

// DualSession is one partner's independent session of an asymmetric game.
// Two sessions sharing a correlation key with different owners form a
// matched pair; matching never compares full session IDs.
type DualSession struct {
	ID             string            `json:"id"`
	CoupleID       string            `json:"couple_id"`
	OwnerID        string            `json:"owner_id"`
	GameType       string            `json:"game_type"`
	CorrelationKey string            `json:"correlation_key"`
	Answers        map[string]string `json:"answers"`
	Status         string            `json:"status"`
	SchemaVersion  int               `json:"schema_version"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}
