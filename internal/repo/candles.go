package repo

import (
	"database/sql"
	"fmt"

	"github.com/simdesk/simdesk/internal/domain"
)

// CandleRepo persists closed OHLCV bars.
type CandleRepo struct {
	s *Store
}

// UpsertClosed writes one closed candle. Re-delivery after a flush retry
// overwrites with identical data, so the upsert is idempotent.
func (r *CandleRepo) UpsertClosed(c domain.Candle) error {
	return r.s.do("candles.upsert", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO candles (symbol, interval, open_time, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (symbol, interval, open_time)
			DO UPDATE SET open = excluded.open, high = excluded.high, low = excluded.low,
			              close = excluded.close, volume = excluded.volume`,
			c.Symbol, c.Interval, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert candle: %w", err)
		}
		return nil
	})
}

// GetBySymbol returns the most recent limit candles for (symbol, interval),
// in chronological order.
func (r *CandleRepo) GetBySymbol(symbol, interval string, limit int) ([]domain.Candle, error) {
	if limit <= 0 {
		limit = 200
	}
	var out []domain.Candle
	err := r.s.do("candles.get_by_symbol", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT symbol, interval, open_time, open, high, low, close, volume
			FROM (
				SELECT symbol, interval, open_time, open, high, low, close, volume
				FROM candles WHERE symbol = ? AND interval = ?
				ORDER BY open_time DESC LIMIT ?
			) ORDER BY open_time ASC`,
			symbol, interval, limit)
		if err != nil {
			return fmt.Errorf("failed to query candles: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var c domain.Candle
			if err := rows.Scan(&c.Symbol, &c.Interval, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
				return fmt.Errorf("failed to scan candle: %w", err)
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
