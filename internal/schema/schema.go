// Package schema gates authoritative records on their schema version.
// Records written by a newer client are rejected, records written by an
// older (or pre-versioning) client are migrated in place before anything
// else consumes them.
package schema

import (
	"errors"
	"fmt"
)

const (
	// CurrentVersion is the schema version stamped on newly written records.
	CurrentVersion = 3

	// MinSupportedVersion is the oldest version readable without migration.
	MinSupportedVersion = 2
)

// ErrUpgradeRequired means a record carries a version from the future; the
// client must upgrade before it can consume the record.
var ErrUpgradeRequired = errors.New("schema version newer than supported, upgrade required")

// Decision is the outcome of checking a record's schema version.
type Decision int

const (
	// DecisionAccept means the record is readable as-is.
	DecisionAccept Decision = iota
	// DecisionMigrate means the record is legacy and must be stamped to
	// MinSupportedVersion before use.
	DecisionMigrate
)

// Check classifies a stored schema version. Version 0 means the record
// predates versioning and is treated like MinSupportedVersion after
// migration.
func Check(version int) (Decision, error) {
	switch {
	case version > CurrentVersion:
		return 0, fmt.Errorf("record version %d: %w", version, ErrUpgradeRequired)
	case version >= MinSupportedVersion:
		return DecisionAccept, nil
	default:
		return DecisionMigrate, nil
	}
}

// Migrate returns the version a legacy record should be stamped with.
// Idempotent: already-migrated versions pass through unchanged.
func Migrate(version int) int {
	if version >= MinSupportedVersion {
		return version
	}
	return MinSupportedVersion
}
