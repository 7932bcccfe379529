package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheck(t *testing.T) {
	tests := []struct {
		name     string
		version  int
		decision Decision
		wantErr  error
	}{
		{"current version accepted", CurrentVersion, DecisionAccept, nil},
		{"min supported accepted", MinSupportedVersion, DecisionAccept, nil},
		{"future version rejected", CurrentVersion + 1, 0, ErrUpgradeRequired},
		{"legacy version migrates", MinSupportedVersion - 1, DecisionMigrate, nil},
		{"absent version treated as legacy", 0, DecisionMigrate, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := Check(tt.version)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.decision, decision)
		})
	}
}

func TestMigrateIdempotent(t *testing.T) {
	once := Migrate(0)
	assert.Equal(t, MinSupportedVersion, once)
	// Re-running on already-migrated data is a no-op.
	assert.Equal(t, once, Migrate(once))
	assert.Equal(t, CurrentVersion, Migrate(CurrentVersion))
}
