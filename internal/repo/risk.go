package repo

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/simdesk/simdesk/internal/domain"
)

// RiskRepo handles per-fund guard limits and breach records.
type RiskRepo struct {
	s *Store
}

// DefaultRiskSettings are applied when a fund has never tuned its guards.
func DefaultRiskSettings(fundID int64) domain.RiskSettings {
	return domain.RiskSettings{
		FundID:              fundID,
		MaxPositionPct:      25,
		MaxStrategyPct:      50,
		MaxDailyDrawdownPct: 10,
		Enabled:             true,
	}
}

// Get returns a fund's risk settings, falling back to defaults when unset.
func (r *RiskRepo) Get(fundID int64) (domain.RiskSettings, error) {
	settings := DefaultRiskSettings(fundID)
	err := r.s.do("risk.get", func(db *sql.DB) error {
		err := db.QueryRow(`
			SELECT fund_id, max_position_pct, max_strategy_pct, max_daily_drawdown_pct, enabled
			FROM risk_settings WHERE fund_id = ?`, fundID,
		).Scan(&settings.FundID, &settings.MaxPositionPct, &settings.MaxStrategyPct,
			&settings.MaxDailyDrawdownPct, &settings.Enabled)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to scan risk settings: %w", err)
		}
		return nil
	})
	return settings, err
}

// Upsert writes a fund's risk settings.
func (r *RiskRepo) Upsert(settings domain.RiskSettings) error {
	return r.s.do("risk.upsert", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO risk_settings (fund_id, max_position_pct, max_strategy_pct, max_daily_drawdown_pct, enabled)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (fund_id)
			DO UPDATE SET max_position_pct = excluded.max_position_pct,
			              max_strategy_pct = excluded.max_strategy_pct,
			              max_daily_drawdown_pct = excluded.max_daily_drawdown_pct,
			              enabled = excluded.enabled`,
			settings.FundID, settings.MaxPositionPct, settings.MaxStrategyPct,
			settings.MaxDailyDrawdownPct, settings.Enabled,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert risk settings: %w", err)
		}
		return nil
	})
}

// InsertBreach records a guard that blocked a trade.
func (r *RiskRepo) InsertBreach(b *domain.RiskBreach) error {
	return r.s.do("risk.insert_breach", func(db *sql.DB) error {
		now := nowMs()
		res, err := db.Exec(`
			INSERT INTO risk_breaches
			(fund_id, strategy_id, rule, severity, message, context, attempted, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			b.FundID, b.StrategyID, b.Rule, b.Severity, b.Message, b.Context, b.Attempted, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert risk breach: %w", err)
		}
		b.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		b.CreatedAt = msToTime(now)
		return nil
	})
}

// GetBreaches returns a fund's most recent breaches, newest first.
func (r *RiskRepo) GetBreaches(fundID int64, limit int) ([]domain.RiskBreach, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []domain.RiskBreach
	err := r.s.do("risk.get_breaches", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT id, fund_id, strategy_id, rule, severity, message, context, attempted, created_at
			FROM risk_breaches WHERE fund_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?`, fundID, limit)
		if err != nil {
			return fmt.Errorf("failed to query risk breaches: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var b domain.RiskBreach
			var createdMs int64
			if err := rows.Scan(&b.ID, &b.FundID, &b.StrategyID, &b.Rule, &b.Severity,
				&b.Message, &b.Context, &b.Attempted, &createdMs); err != nil {
				return fmt.Errorf("failed to scan risk breach: %w", err)
			}
			b.CreatedAt = msToTime(createdMs)
			out = append(out, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
