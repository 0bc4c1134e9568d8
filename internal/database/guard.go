package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/domain"
	"github.com/simdesk/simdesk/pkg/logger"
)

// GuardConfig holds the retry and failover policy for the store.
type GuardConfig struct {
	ConnectMode      string // initial mode: direct | pooler
	FallbackEnabled  bool
	RetryMaxAttempts int
	RetryBase        time.Duration
	RetryMax         time.Duration
	ProbeCooldown    time.Duration // minimum time on pooler before probing primary
}

// Health is the guard's externally visible state.
type Health struct {
	Mode          string     `json:"mode"` // direct | pooler
	Connected     bool       `json:"connected"`
	LastErrorCode string     `json:"lastErrorCode,omitempty"`
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`
}

// Guard wraps the primary (direct) and fallback (pooler) endpoints with a
// retrying, failover-aware execution policy. Connectivity errors are retried
// with exponential backoff and can switch the active endpoint; logical errors
// surface immediately.
type Guard struct {
	cfg      GuardConfig
	primary  *DB
	fallback *DB
	log      zerolog.Logger

	mu            sync.RWMutex
	mode          string
	connected     bool
	lastErrorCode string
	lastFailureAt time.Time
	failedOverAt  time.Time
}

// NewGuard creates a guard over the configured endpoints. fallback may be nil.
func NewGuard(primary, fallback *DB, cfg GuardConfig, log zerolog.Logger) *Guard {
	mode := cfg.ConnectMode
	if mode == "" {
		mode = "direct"
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 5 * time.Second
	}
	if cfg.ProbeCooldown <= 0 {
		cfg.ProbeCooldown = 30 * time.Second
	}
	return &Guard{
		cfg:       cfg,
		primary:   primary,
		fallback:  fallback,
		log:       logger.Component(log, "db_guard"),
		mode:      mode,
		connected: true,
	}
}

// DB returns the active endpoint's connection.
func (g *Guard) DB() *sql.DB {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.activeLocked().Conn()
}

func (g *Guard) activeLocked() *DB {
	if g.mode == "pooler" && g.fallback != nil {
		return g.fallback
	}
	return g.primary
}

// Do executes fn against the active endpoint, retrying transient
// connectivity errors with exponential backoff. After the attempt budget is
// exhausted it surfaces domain.ErrStorageUnavailable.
func (g *Guard) Do(label string, fn func(db *sql.DB) error) error {
	delay := g.cfg.RetryBase

	var lastErr error
	for attempt := 1; attempt <= g.cfg.RetryMaxAttempts; attempt++ {
		g.mu.RLock()
		conn := g.activeLocked().Conn()
		g.mu.RUnlock()

		err := fn(conn)
		if err == nil {
			g.markHealthy()
			return nil
		}
		if !IsConnectivityError(err) {
			// Logical error: never retried
			return err
		}

		lastErr = err
		g.markFailure(err)
		g.maybeFailover(label, err)

		if attempt < g.cfg.RetryMaxAttempts {
			g.log.Warn().
				Err(err).
				Str("op", label).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("Transient store error, retrying")
			time.Sleep(delay)
			delay *= 2
			if delay > g.cfg.RetryMax {
				delay = g.cfg.RetryMax
			}
		}
	}

	g.log.Error().Err(lastErr).Str("op", label).Msg("Store unavailable after retries")
	return fmt.Errorf("%s: %w: %w", label, domain.ErrStorageUnavailable, lastErr)
}

// maybeFailover switches the active endpoint to the pooler after a
// connectivity failure on the primary.
func (g *Guard) maybeFailover(label string, err error) {
	if !g.cfg.FallbackEnabled || g.fallback == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode == "pooler" {
		return
	}
	g.mode = "pooler"
	g.failedOverAt = time.Now()
	g.log.Warn().
		Err(err).
		Str("op", label).
		Msg("Switching active endpoint to pooler")
}

// ProbePrimary attempts to return to the primary endpoint. Called from a
// periodic task; a no-op unless we are on the pooler past the cooldown.
func (g *Guard) ProbePrimary(ctx context.Context) {
	g.mu.RLock()
	onPooler := g.mode == "pooler"
	since := time.Since(g.failedOverAt)
	g.mu.RUnlock()

	if !onPooler || since < g.cfg.ProbeCooldown {
		return
	}

	if err := g.primary.QuickCheck(ctx); err != nil {
		g.log.Debug().Err(err).Msg("Primary endpoint still unreachable")
		return
	}

	g.mu.Lock()
	g.mode = "direct"
	g.mu.Unlock()
	g.log.Info().Msg("Primary endpoint recovered, switching back to direct")
}

// Health reports the guard state for the system endpoint.
func (g *Guard) Health() Health {
	g.mu.RLock()
	defer g.mu.RUnlock()
	h := Health{
		Mode:          g.mode,
		Connected:     g.connected,
		LastErrorCode: g.lastErrorCode,
	}
	if !g.lastFailureAt.IsZero() {
		t := g.lastFailureAt
		h.LastFailureAt = &t
	}
	return h
}

// Healthy reports whether the last store interaction succeeded. Background
// producers consult this to self-throttle.
func (g *Guard) Healthy() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

func (g *Guard) markHealthy() {
	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
}

func (g *Guard) markFailure(err error) {
	g.mu.Lock()
	g.connected = false
	g.lastErrorCode = errorCode(err)
	g.lastFailureAt = time.Now()
	g.mu.Unlock()
}

// connectivitySignatures is the fixed set of substrings and SQLSTATE codes
// classified as connectivity failures (retriable, failover-eligible).
var connectivitySignatures = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"context deadline exceeded",
	"tls:",
	"certificate",
	"database is locked",
	"database table is locked",
	"SQLITE_BUSY",
	"SQLITE_IOERR",
	"SQLITE_CANTOPEN",
	// Admin shutdown / crash shutdown / cannot connect now
	"SQLSTATE 57P01",
	"SQLSTATE 57P02",
	"SQLSTATE 57P03",
	"SQLSTATE 08000",
	"SQLSTATE 08003",
	"SQLSTATE 08006",
}

// IsConnectivityError classifies an error as connectivity vs logical.
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, sig := range connectivitySignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

func errorCode(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "SQLITE_BUSY"), strings.Contains(msg, "database is locked"):
		return "busy"
	case strings.Contains(msg, "refused"):
		return "refused"
	case strings.Contains(msg, "reset"):
		return "reset"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "tls"), strings.Contains(msg, "certificate"):
		return "tls"
	default:
		return "unknown"
	}
}
