package repo

import (
	"database/sql"
	"fmt"

	"github.com/simdesk/simdesk/internal/domain"
)

const newsColumns = `id, ticker, type, severity, headline, body, price_impact, fired_at`

// NewsRepo persists generated market events.
type NewsRepo struct {
	s *Store
}

// InsertNews writes one event.
func (r *NewsRepo) InsertNews(ev domain.NewsEvent) error {
	return r.s.do("news.insert", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO news (id, ticker, type, severity, headline, body, price_impact, fired_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.Symbol, ev.Type, ev.Severity, ev.Headline, ev.Body,
			ev.PriceImpact, ev.FiredAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert news event: %w", err)
		}
		return nil
	})
}

// GetRecent returns the latest events, newest first.
func (r *NewsRepo) GetRecent(limit int) ([]domain.NewsEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryNews("news.get_recent",
		`SELECT `+newsColumns+` FROM news ORDER BY fired_at DESC, rowid DESC LIMIT ?`, limit)
}

// GetByTicker returns the latest events for one symbol, newest first.
func (r *NewsRepo) GetByTicker(symbol string, limit int) ([]domain.NewsEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryNews("news.get_by_ticker",
		`SELECT `+newsColumns+` FROM news WHERE ticker = ? ORDER BY fired_at DESC, rowid DESC LIMIT ?`,
		symbol, limit)
}

func (r *NewsRepo) queryNews(label, query string, args ...interface{}) ([]domain.NewsEvent, error) {
	var out []domain.NewsEvent
	err := r.s.do(label, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("failed to query news: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var ev domain.NewsEvent
			var firedMs int64
			if err := rows.Scan(&ev.ID, &ev.Symbol, &ev.Type, &ev.Severity, &ev.Headline, &ev.Body, &ev.PriceImpact, &firedMs); err != nil {
				return fmt.Errorf("failed to scan news event: %w", err)
			}
			ev.FiredAt = msToTime(firedMs)
			out = append(out, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
