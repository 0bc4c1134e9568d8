package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simdesk/simdesk/internal/domain"
)

func testDB(t *testing.T, name string) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    t.TempDir() + "/" + name + ".db",
		Profile: ProfileStandard,
		Name:    name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestGuardLogicalErrorNotRetried(t *testing.T) {
	primary := testDB(t, "primary")
	guard := NewGuard(primary, nil, GuardConfig{RetryMaxAttempts: 3}, zerolog.Nop())

	calls := 0
	sentinel := errors.New("UNIQUE constraint failed: users.username")
	err := guard.Do("test.logical", func(db *sql.DB) error {
		calls++
		return sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.NotErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, 1, calls, "logical errors surface immediately")
	assert.True(t, guard.Healthy(), "logical errors do not mark the store down")
}

func TestGuardRetriesBoundedAndWrapsUnavailable(t *testing.T) {
	primary := testDB(t, "primary")
	guard := NewGuard(primary, nil, GuardConfig{
		RetryMaxAttempts: 3,
		RetryBase:        time.Millisecond,
		RetryMax:         2 * time.Millisecond,
	}, zerolog.Nop())

	calls := 0
	err := guard.Do("test.down", func(db *sql.DB) error {
		calls++
		return fmt.Errorf("dial tcp: connection refused")
	})

	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Equal(t, 3, calls, "attempt budget is bounded")
	assert.False(t, guard.Healthy())

	h := guard.Health()
	assert.Equal(t, "refused", h.LastErrorCode)
	assert.NotNil(t, h.LastFailureAt)
}

func TestGuardFailoverToPooler(t *testing.T) {
	primary := testDB(t, "primary")
	fallback := testDB(t, "fallback")
	guard := NewGuard(primary, fallback, GuardConfig{
		FallbackEnabled:  true,
		RetryMaxAttempts: 2,
		RetryBase:        time.Millisecond,
	}, zerolog.Nop())

	assert.Equal(t, "direct", guard.Health().Mode)

	// First attempt fails with a connectivity error; the retry lands on
	// the pooler and succeeds.
	calls := 0
	err := guard.Do("test.failover", func(db *sql.DB) error {
		calls++
		if calls == 1 {
			return fmt.Errorf("read: connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "pooler", guard.Health().Mode)
	assert.True(t, guard.Healthy(), "success on the pooler restores health")
}

func TestGuardNoFailoverWhenDisabled(t *testing.T) {
	primary := testDB(t, "primary")
	fallback := testDB(t, "fallback")
	guard := NewGuard(primary, fallback, GuardConfig{
		FallbackEnabled:  false,
		RetryMaxAttempts: 2,
		RetryBase:        time.Millisecond,
	}, zerolog.Nop())

	_ = guard.Do("test.nofailover", func(db *sql.DB) error {
		return fmt.Errorf("dial tcp: connection refused")
	})
	assert.Equal(t, "direct", guard.Health().Mode)
}

func TestGuardProbePrimaryRespectsCooldown(t *testing.T) {
	primary := testDB(t, "primary")
	fallback := testDB(t, "fallback")
	guard := NewGuard(primary, fallback, GuardConfig{
		FallbackEnabled:  true,
		RetryMaxAttempts: 1,
		RetryBase:        time.Millisecond,
		ProbeCooldown:    time.Hour,
	}, zerolog.Nop())

	_ = guard.Do("test.down", func(db *sql.DB) error {
		return fmt.Errorf("dial tcp: connection refused")
	})
	require.Equal(t, "pooler", guard.Health().Mode)

	guard.ProbePrimary(context.Background())
	assert.Equal(t, "pooler", guard.Health().Mode, "probe inside the cooldown is a no-op")
}

func TestGuardProbePrimaryRecovers(t *testing.T) {
	primary := testDB(t, "primary")
	fallback := testDB(t, "fallback")
	guard := NewGuard(primary, fallback, GuardConfig{
		FallbackEnabled:  true,
		RetryMaxAttempts: 1,
		RetryBase:        time.Millisecond,
		ProbeCooldown:    time.Nanosecond,
	}, zerolog.Nop())

	_ = guard.Do("test.down", func(db *sql.DB) error {
		return fmt.Errorf("dial tcp: connection refused")
	})
	require.Equal(t, "pooler", guard.Health().Mode)

	time.Sleep(time.Millisecond)
	guard.ProbePrimary(context.Background())
	assert.Equal(t, "direct", guard.Health().Mode, "healthy primary wins the endpoint back")
}

func TestIsConnectivityError(t *testing.T) {
	assert.False(t, IsConnectivityError(nil))
	assert.False(t, IsConnectivityError(errors.New("UNIQUE constraint failed")))
	assert.True(t, IsConnectivityError(errors.New("database is locked")))
	assert.True(t, IsConnectivityError(errors.New("dial tcp: i/o timeout")))
	assert.True(t, IsConnectivityError(context.DeadlineExceeded))
	assert.True(t, IsConnectivityError(errors.New("FATAL: terminating connection (SQLSTATE 57P01)")))
}
