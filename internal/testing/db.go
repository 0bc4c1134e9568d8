// Package testing provides shared test helpers: throwaway databases,
// domain fixtures and small stubs.
package testing

import (
	"fmt"
	"os"
	"testing"

	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/database"
	"github.com/simdesk/simdesk/internal/repo"
)

// NewTestDB creates a temp-file SQLite database for a test. The cleanup
// function is idempotent.
func NewTestDB(t *testing.T, name string) (*database.DB, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", fmt.Sprintf("test_%s_*.db", name))
	if err != nil {
		t.Fatalf("Failed to create temporary database file: %v", err)
	}
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()

	db, err := database.New(database.Config{
		Path:    tmpPath,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		_ = os.Remove(tmpPath)
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}

	return db, func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
		if err := os.Remove(tmpPath); err != nil {
			t.Logf("Warning: Failed to remove temporary database file %s: %v", tmpPath, err)
		}
	}
}

// NewTestStore builds a fully migrated store over a single direct
// endpoint with no fallback. Most repository and service tests start
// here.
func NewTestStore(t *testing.T) (*repo.Store, func()) {
	t.Helper()

	db, cleanup := NewTestDB(t, "store")
	guard := database.NewGuard(db, nil, database.GuardConfig{
		ConnectMode:      "direct",
		FallbackEnabled:  false,
		RetryMaxAttempts: 2,
	}, zerolog.Nop())

	store, err := repo.NewStore(guard, zerolog.Nop())
	if err != nil {
		cleanup()
		t.Fatalf("Failed to create test store: %v", err)
	}
	return store, cleanup
}

// NewTestGuard builds a guard over two independent endpoints so failover
// behaviour can be exercised directly.
func NewTestGuard(t *testing.T, cfg database.GuardConfig) (*database.Guard, *database.DB, *database.DB, func()) {
	t.Helper()

	primary, cleanPrimary := NewTestDB(t, "primary")
	fallback, cleanFallback := NewTestDB(t, "fallback")
	guard := database.NewGuard(primary, fallback, cfg, zerolog.Nop())
	return guard, primary, fallback, func() {
		cleanFallback()
		cleanPrimary()
	}
}
