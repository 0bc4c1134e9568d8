package repo

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/simdesk/simdesk/internal/domain"
)

const strategyColumns = `id, fund_id, name, type, config, is_active, created_at, updated_at`

// StrategyRepo handles strategies, custom strategy sources, the
// fund-internal trade ledger and backtest results.
type StrategyRepo struct {
	s *Store
}

// Insert creates a strategy.
func (r *StrategyRepo) Insert(st *domain.Strategy) error {
	return r.s.do("strategies.insert", func(db *sql.DB) error {
		now := nowMs()
		cfg := st.Config
		if len(cfg) == 0 {
			cfg = json.RawMessage("{}")
		}
		res, err := db.Exec(`
			INSERT INTO strategies (fund_id, name, type, config, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			st.FundID, st.Name, st.Type, string(cfg), st.IsActive, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert strategy: %w", err)
		}
		st.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		st.CreatedAt = msToTime(now)
		st.UpdatedAt = st.CreatedAt
		return nil
	})
}

// GetByID returns one strategy or domain.ErrNotFound.
func (r *StrategyRepo) GetByID(id int64) (*domain.Strategy, error) {
	var st domain.Strategy
	err := r.s.do("strategies.get_by_id", func(db *sql.DB) error {
		return scanStrategy(db.QueryRow(`SELECT `+strategyColumns+` FROM strategies WHERE id = ?`, id), &st)
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetByFund returns a fund's strategies.
func (r *StrategyRepo) GetByFund(fundID int64) ([]domain.Strategy, error) {
	return r.queryStrategies("strategies.get_by_fund",
		`SELECT `+strategyColumns+` FROM strategies WHERE fund_id = ? ORDER BY id`, fundID)
}

// GetActive returns every active strategy across all funds. The runner
// loop consumes this.
func (r *StrategyRepo) GetActive() ([]domain.Strategy, error) {
	return r.queryStrategies("strategies.get_active",
		`SELECT `+strategyColumns+` FROM strategies WHERE is_active = 1 ORDER BY id`)
}

// UpdateConfig rewrites a strategy's name and config.
func (r *StrategyRepo) UpdateConfig(id int64, name string, config json.RawMessage) error {
	return r.s.do("strategies.update_config", func(db *sql.DB) error {
		if len(config) == 0 {
			config = json.RawMessage("{}")
		}
		res, err := db.Exec(`
			UPDATE strategies SET name = ?, config = ?, updated_at = ? WHERE id = ?`,
			name, string(config), nowMs(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to update strategy: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("strategy %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// SetActive flips the running flag.
func (r *StrategyRepo) SetActive(id int64, active bool) error {
	return r.s.do("strategies.set_active", func(db *sql.DB) error {
		res, err := db.Exec(`UPDATE strategies SET is_active = ?, updated_at = ? WHERE id = ?`,
			active, nowMs(), id)
		if err != nil {
			return fmt.Errorf("failed to set strategy active: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("strategy %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// Delete removes a strategy and its dependents.
func (r *StrategyRepo) Delete(id int64) error {
	return r.s.RunInTransaction("strategies.delete", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM backtests WHERE strategy_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete strategy backtests: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM strategy_trades WHERE strategy_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete strategy trades: %w", err)
		}
		res, err := tx.Exec(`DELETE FROM strategies WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete strategy: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("strategy %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// SaveState serialises the runner's working state for one strategy.
func (r *StrategyRepo) SaveState(id int64, state interface{}) error {
	blob, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode strategy state: %w", err)
	}
	return r.s.do("strategies.save_state", func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE strategies SET state = ? WHERE id = ?`, blob, id)
		if err != nil {
			return fmt.Errorf("failed to save strategy state: %w", err)
		}
		return nil
	})
}

// LoadState restores the runner's working state; reports found=false when
// no blob has been saved yet.
func (r *StrategyRepo) LoadState(id int64, out interface{}) (bool, error) {
	var blob []byte
	err := r.s.do("strategies.load_state", func(db *sql.DB) error {
		err := db.QueryRow(`SELECT state FROM strategies WHERE id = ?`, id).Scan(&blob)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("strategy %d: %w", id, domain.ErrNotFound)
		}
		return err
	})
	if err != nil {
		return false, err
	}
	if len(blob) == 0 {
		return false, nil
	}
	if err := msgpack.Unmarshal(blob, out); err != nil {
		return false, fmt.Errorf("failed to decode strategy state: %w", err)
	}
	return true, nil
}

// InsertCustom creates a custom strategy source row.
func (r *StrategyRepo) InsertCustom(cs *domain.CustomStrategy) error {
	params, err := json.Marshal(cs.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	return r.s.do("custom_strategies.insert", func(db *sql.DB) error {
		now := nowMs()
		res, err := db.Exec(`
			INSERT INTO custom_strategies (fund_id, name, source, parameters, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			cs.FundID, cs.Name, cs.Source, string(params), now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert custom strategy: %w", err)
		}
		cs.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		cs.CreatedAt = msToTime(now)
		cs.UpdatedAt = cs.CreatedAt
		return nil
	})
}

// GetCustomByID returns one custom strategy or domain.ErrNotFound.
func (r *StrategyRepo) GetCustomByID(id int64) (*domain.CustomStrategy, error) {
	var cs domain.CustomStrategy
	err := r.s.do("custom_strategies.get_by_id", func(db *sql.DB) error {
		return scanCustom(db.QueryRow(`
			SELECT id, fund_id, name, source, parameters, created_at, updated_at
			FROM custom_strategies WHERE id = ?`, id), &cs)
	})
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// GetCustomByFund returns a fund's custom strategies.
func (r *StrategyRepo) GetCustomByFund(fundID int64) ([]domain.CustomStrategy, error) {
	var out []domain.CustomStrategy
	err := r.s.do("custom_strategies.get_by_fund", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT id, fund_id, name, source, parameters, created_at, updated_at
			FROM custom_strategies WHERE fund_id = ? ORDER BY id`, fundID)
		if err != nil {
			return fmt.Errorf("failed to query custom strategies: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var cs domain.CustomStrategy
			if err := scanCustom(rows, &cs); err != nil {
				return err
			}
			out = append(out, cs)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateCustom rewrites a custom strategy's source and parameters.
func (r *StrategyRepo) UpdateCustom(cs *domain.CustomStrategy) error {
	params, err := json.Marshal(cs.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode parameters: %w", err)
	}
	return r.s.do("custom_strategies.update", func(db *sql.DB) error {
		res, err := db.Exec(`
			UPDATE custom_strategies SET name = ?, source = ?, parameters = ?, updated_at = ?
			WHERE id = ?`,
			cs.Name, cs.Source, string(params), nowMs(), cs.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update custom strategy: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("custom strategy %d: %w", cs.ID, domain.ErrNotFound)
		}
		return nil
	})
}

// DeleteCustom removes a custom strategy source.
func (r *StrategyRepo) DeleteCustom(id int64) error {
	return r.s.do("custom_strategies.delete", func(db *sql.DB) error {
		res, err := db.Exec(`DELETE FROM custom_strategies WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete custom strategy: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("custom strategy %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// InsertStrategyTrade appends one row to the fund-internal ledger.
func (r *StrategyRepo) InsertStrategyTrade(t *domain.StrategyTrade) error {
	return r.s.do("strategy_trades.insert", func(db *sql.DB) error {
		res, err := db.Exec(`
			INSERT INTO strategy_trades
			(strategy_id, fund_id, ticker, side, qty, price, commission, reason, executed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.StrategyID, t.FundID, t.Symbol, t.Side, t.Qty, t.Price,
			t.Commission, t.Reason, t.ExecutedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert strategy trade: %w", err)
		}
		t.ID, err = res.LastInsertId()
		return err
	})
}

// GetStrategyTrades returns one strategy's trades, oldest first.
func (r *StrategyRepo) GetStrategyTrades(strategyID int64, limit int) ([]domain.StrategyTrade, error) {
	if limit <= 0 {
		limit = 500
	}
	return r.queryStrategyTrades("strategy_trades.get_by_strategy", `
		SELECT id, strategy_id, fund_id, ticker, side, qty, price, commission, reason, executed_at
		FROM strategy_trades WHERE strategy_id = ?
		ORDER BY executed_at, id LIMIT ?`, strategyID, limit)
}

// GetAllStrategyTradesChronological returns every row oldest first. Runner
// hydration replays this.
func (r *StrategyRepo) GetAllStrategyTradesChronological() ([]domain.StrategyTrade, error) {
	return r.queryStrategyTrades("strategy_trades.get_all", `
		SELECT id, strategy_id, fund_id, ticker, side, qty, price, commission, reason, executed_at
		FROM strategy_trades ORDER BY executed_at, id`)
}

// GetFundStrategyTrades returns a fund's rows for cost rollups.
func (r *StrategyRepo) GetFundStrategyTrades(fundID int64) ([]domain.StrategyTrade, error) {
	return r.queryStrategyTrades("strategy_trades.get_by_fund", `
		SELECT id, strategy_id, fund_id, ticker, side, qty, price, commission, reason, executed_at
		FROM strategy_trades WHERE fund_id = ? ORDER BY executed_at, id`, fundID)
}

// InsertBacktest records one backtest run.
func (r *StrategyRepo) InsertBacktest(b *domain.BacktestResult) error {
	return r.s.do("backtests.insert", func(db *sql.DB) error {
		res, err := db.Exec(`
			INSERT INTO backtests
			(strategy_id, fund_id, config_hash, metrics, thresholds, passed, notes, ran_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.StrategyID, b.FundID, b.ConfigHash, string(b.Metrics), string(b.Thresholds),
			b.Passed, b.Notes, b.RanAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert backtest: %w", err)
		}
		b.ID, err = res.LastInsertId()
		return err
	})
}

// GetLatestBacktest returns the most recent run for a strategy, or
// domain.ErrNotFound when it has never been backtested.
func (r *StrategyRepo) GetLatestBacktest(strategyID int64) (*domain.BacktestResult, error) {
	var b domain.BacktestResult
	err := r.s.do("backtests.get_latest", func(db *sql.DB) error {
		return scanBacktest(db.QueryRow(`
			SELECT id, strategy_id, fund_id, config_hash, metrics, thresholds, passed, notes, ran_at
			FROM backtests WHERE strategy_id = ?
			ORDER BY ran_at DESC, id DESC LIMIT 1`, strategyID), &b)
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// GetBacktests returns a strategy's runs, newest first.
func (r *StrategyRepo) GetBacktests(strategyID int64, limit int) ([]domain.BacktestResult, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []domain.BacktestResult
	err := r.s.do("backtests.get_by_strategy", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT id, strategy_id, fund_id, config_hash, metrics, thresholds, passed, notes, ran_at
			FROM backtests WHERE strategy_id = ?
			ORDER BY ran_at DESC, id DESC LIMIT ?`, strategyID, limit)
		if err != nil {
			return fmt.Errorf("failed to query backtests: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var b domain.BacktestResult
			if err := scanBacktest(rows, &b); err != nil {
				return err
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *StrategyRepo) queryStrategies(label, query string, args ...interface{}) ([]domain.Strategy, error) {
	var out []domain.Strategy
	err := r.s.do(label, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("failed to query strategies: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var st domain.Strategy
			if err := scanStrategy(rows, &st); err != nil {
				return err
			}
			out = append(out, st)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *StrategyRepo) queryStrategyTrades(label, query string, args ...interface{}) ([]domain.StrategyTrade, error) {
	var out []domain.StrategyTrade
	err := r.s.do(label, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("failed to query strategy trades: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var t domain.StrategyTrade
			var executedMs int64
			if err := rows.Scan(&t.ID, &t.StrategyID, &t.FundID, &t.Symbol, &t.Side,
				&t.Qty, &t.Price, &t.Commission, &t.Reason, &executedMs); err != nil {
				return fmt.Errorf("failed to scan strategy trade: %w", err)
			}
			t.ExecutedAt = msToTime(executedMs)
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanStrategy(row rowScanner, st *domain.Strategy) error {
	var cfg string
	var createdMs, updatedMs int64
	err := row.Scan(&st.ID, &st.FundID, &st.Name, &st.Type, &cfg, &st.IsActive, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to scan strategy: %w", err)
	}
	st.Config = json.RawMessage(cfg)
	st.CreatedAt = msToTime(createdMs)
	st.UpdatedAt = msToTime(updatedMs)
	return nil
}

func scanCustom(row rowScanner, cs *domain.CustomStrategy) error {
	var params string
	var createdMs, updatedMs int64
	err := row.Scan(&cs.ID, &cs.FundID, &cs.Name, &cs.Source, &params, &createdMs, &updatedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to scan custom strategy: %w", err)
	}
	if err := json.Unmarshal([]byte(params), &cs.Parameters); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	cs.CreatedAt = msToTime(createdMs)
	cs.UpdatedAt = msToTime(updatedMs)
	return nil
}

func scanBacktest(row rowScanner, b *domain.BacktestResult) error {
	var metrics, thresholds string
	var ranMs int64
	err := row.Scan(&b.ID, &b.StrategyID, &b.FundID, &b.ConfigHash, &metrics, &thresholds,
		&b.Passed, &b.Notes, &ranMs)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to scan backtest: %w", err)
	}
	b.Metrics = json.RawMessage(metrics)
	b.Thresholds = json.RawMessage(thresholds)
	b.RanAt = msToTime(ranMs)
	return nil
}
