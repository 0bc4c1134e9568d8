// Package repo is the persistence facade. Every read goes through the
// connection guard's retry policy; every write runs inside a labelled
// transaction. Callers never see database/sql directly.
package repo

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"github.com/simdesk/simdesk/internal/database"
	"github.com/simdesk/simdesk/pkg/logger"
)

// Store bundles the repositories over one guarded connection.
type Store struct {
	guard *database.Guard
	log   zerolog.Logger

	Users      *UserRepo
	Orders     *OrderRepo
	Positions  *PositionRepo
	Trades     *TradeRepo
	Candles    *CandleRepo
	News       *NewsRepo
	Funds      *FundRepo
	Capital    *CapitalRepo
	Strategies *StrategyRepo
	Risk       *RiskRepo
}

// NewStore creates the facade and applies the schema against the active
// endpoint.
func NewStore(guard *database.Guard, log zerolog.Logger) (*Store, error) {
	s := &Store{
		guard: guard,
		log:   logger.Component(log, "repo"),
	}
	s.Users = &UserRepo{s}
	s.Orders = &OrderRepo{s}
	s.Positions = &PositionRepo{s}
	s.Trades = &TradeRepo{s}
	s.Candles = &CandleRepo{s}
	s.News = &NewsRepo{s}
	s.Funds = &FundRepo{s}
	s.Capital = &CapitalRepo{s}
	s.Strategies = &StrategyRepo{s}
	s.Risk = &RiskRepo{s}

	if err := guard.Do("schema.ensure", EnsureSchema); err != nil {
		return nil, err
	}
	return s, nil
}

// Healthy reports whether the last store interaction succeeded.
func (s *Store) Healthy() bool { return s.guard.Healthy() }

// Health exposes the guard state for the system endpoint.
func (s *Store) Health() database.Health { return s.guard.Health() }

// do runs a read through the guard's retry policy.
func (s *Store) do(label string, fn func(db *sql.DB) error) error {
	return s.guard.Do(label, fn)
}

// RunInTransaction executes fn inside one transaction with the guard's
// retry policy around the whole attempt. fn must be safe to re-run: a
// transient failure rolls back and retries from scratch.
func (s *Store) RunInTransaction(label string, fn func(tx *sql.Tx) error) error {
	return s.guard.Do(label, func(db *sql.DB) error {
		return database.WithTransaction(db, fn)
	})
}

// nowMs is the server-assigned timestamp for ledger rows. Within one
// transaction ties are broken by rowid order.
func nowMs() int64 { return time.Now().UTC().UnixMilli() }

func msToTime(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMs(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
