package services

import "errors"

// Service-level errors handlers translate into HTTP status codes. Benign
// conflicts (lost generation races, duplicate award triggers) never surface
// here; they resolve to the winning record internally.
var (
	// ErrNotPaired means the user has no couple yet.
	ErrNotPaired = errors.New("user is not in a couple")

	// ErrAlreadyPaired means one of the two users is already in a couple.
	ErrAlreadyPaired = errors.New("user is already in a couple")

	// ErrSelfPair means both pairing user IDs refer to the same account.
	ErrSelfPair = errors.New("cannot create couple with yourself")

	// ErrPartnerNotFound means no user holds the submitted pairing code.
	ErrPartnerNotFound = errors.New("partner not found")

	// ErrGenerationFailed means the content selector stayed unavailable
	// after the local retry. Surfaced explicitly, never papered over with
	// fallback content.
	ErrGenerationFailed = errors.New("activity generation failed")

	// ErrNotSessionOwner means the caller does not own the session it
	// addressed.
	ErrNotSessionOwner = errors.New("session is owned by another user")

	// ErrSessionComplete means a completed session was asked to accept
	// further answers.
	ErrSessionComplete = errors.New("session is already complete")

	// ErrInvalidMutation means a sync mutation failed validation before it
	// reached any store.
	ErrInvalidMutation = errors.New("invalid mutation")
)
