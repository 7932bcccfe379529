package models

import "time"

// User represents a user in the system
type User struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Token     string    `json:"token"`
	PushToken *string   `json:"push_token,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Couple represents a paired relationship between two users. The ID is
// derived from the sorted user IDs, so both devices compute the same value
// without a round-trip.
type Couple struct {
	ID            string    `json:"id"`
	UserAID       string    `json:"user_a_id"`
	UserBID       string    `json:"user_b_id"`
	CachedBalance int       `json:"cached_balance"`
	CreatedAt     time.Time `json:"created_at"`
}

// PartnerOf returns the other member of the couple, or "" if userID is not
// a member.
func (c *Couple) PartnerOf(userID string) string {
	switch userID {
	case c.UserAID:
		return c.UserBID
	case c.UserBID:
		return c.UserAID
	}
	return ""
}

// HasMember reports whether userID belongs to the couple.
func (c *Couple) HasMember(userID string) bool {
	return userID == c.UserAID || userID == c.UserBID
}
