package repo

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/simdesk/simdesk/internal/domain"
)

// PositionRepo handles the signed (user, ticker) holdings.
type PositionRepo struct {
	s *Store
}

// GetByUser returns every position for a user.
func (r *PositionRepo) GetByUser(userID int64) ([]domain.Position, error) {
	var out []domain.Position
	err := r.s.do("positions.get_by_user", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT user_id, ticker, qty, avg_cost, cost_basis
			FROM positions WHERE user_id = ? ORDER BY ticker`, userID)
		if err != nil {
			return fmt.Errorf("failed to query positions: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var p domain.Position
			if err := rows.Scan(&p.UserID, &p.Symbol, &p.Qty, &p.AvgCost, &p.CostBasis); err != nil {
				return fmt.Errorf("failed to scan position: %w", err)
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByUserAndTicker returns one position or domain.ErrNotFound.
func (r *PositionRepo) GetByUserAndTicker(userID int64, symbol string) (*domain.Position, error) {
	var p domain.Position
	err := r.s.do("positions.get_one", func(db *sql.DB) error {
		err := db.QueryRow(`
			SELECT user_id, ticker, qty, avg_cost, cost_basis
			FROM positions WHERE user_id = ? AND ticker = ?`, userID, symbol,
		).Scan(&p.UserID, &p.Symbol, &p.Qty, &p.AvgCost, &p.CostBasis)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to scan position: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetAllShort returns every position with negative qty, grouped by user.
// The matcher's margin sweep consumes this.
func (r *PositionRepo) GetAllShort() ([]domain.Position, error) {
	var out []domain.Position
	err := r.s.do("positions.get_all_short", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT user_id, ticker, qty, avg_cost, cost_basis
			FROM positions WHERE qty < 0 ORDER BY user_id, ticker`)
		if err != nil {
			return fmt.Errorf("failed to query short positions: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var p domain.Position
			if err := rows.Scan(&p.UserID, &p.Symbol, &p.Qty, &p.AvgCost, &p.CostBasis); err != nil {
				return fmt.Errorf("failed to scan position: %w", err)
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PositionForUpdate reads one position inside tx; returns nil when the user
// holds nothing in the symbol.
func PositionForUpdate(tx *sql.Tx, userID int64, symbol string) (*domain.Position, error) {
	var p domain.Position
	err := tx.QueryRow(`
		SELECT user_id, ticker, qty, avg_cost, cost_basis
		FROM positions WHERE user_id = ? AND ticker = ?`, userID, symbol,
	).Scan(&p.UserID, &p.Symbol, &p.Qty, &p.AvgCost, &p.CostBasis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read position: %w", err)
	}
	return &p, nil
}

// UpsertPosition writes a position inside tx, deleting the row when qty
// reaches zero.
func UpsertPosition(tx *sql.Tx, p *domain.Position) error {
	if p.Qty == 0 {
		_, err := tx.Exec(`DELETE FROM positions WHERE user_id = ? AND ticker = ?`, p.UserID, p.Symbol)
		if err != nil {
			return fmt.Errorf("failed to delete flat position: %w", err)
		}
		return nil
	}
	_, err := tx.Exec(`
		INSERT INTO positions (user_id, ticker, qty, avg_cost, cost_basis)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, ticker)
		DO UPDATE SET qty = excluded.qty, avg_cost = excluded.avg_cost, cost_basis = excluded.cost_basis`,
		p.UserID, p.Symbol, p.Qty, p.AvgCost, p.CostBasis,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}
	return nil
}
