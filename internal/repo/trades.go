package repo

import (
	"database/sql"
	"fmt"

	"github.com/simdesk/simdesk/internal/domain"
)

const tradeColumns = `id, user_id, order_id, ticker, side, qty, price, notional,
commission, slippage_cost, borrow_cost, realized_pnl, regime, executed_at`

// TradeRepo handles the immutable fill ledger.
type TradeRepo struct {
	s *Store
}

// InsertTrade writes one fill row inside tx.
func InsertTrade(tx *sql.Tx, t *domain.Trade) error {
	_, err := tx.Exec(`
		INSERT INTO trades
		(id, user_id, order_id, ticker, side, qty, price, notional, commission,
		 slippage_cost, borrow_cost, realized_pnl, regime, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.OrderID, t.Symbol, t.Side, t.Qty, t.Price, t.Notional,
		t.Commission, t.SlippageCost, t.BorrowCost, t.RealizedPnL, t.Regime,
		t.ExecutedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// GetByUser returns a user's most recent fills.
func (r *TradeRepo) GetByUser(userID int64, limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryTrades("trades.get_by_user",
		`SELECT `+tradeColumns+` FROM trades WHERE user_id = ? ORDER BY executed_at DESC, rowid DESC LIMIT ?`,
		userID, limit)
}

// GetAll returns the most recent fills across all users.
func (r *TradeRepo) GetAll(limit int) ([]domain.Trade, error) {
	if limit <= 0 {
		limit = 200
	}
	return r.queryTrades("trades.get_all",
		`SELECT `+tradeColumns+` FROM trades ORDER BY executed_at DESC, rowid DESC LIMIT ?`, limit)
}

// RealizedPnL sums a user's realized P&L and total costs.
func (r *TradeRepo) RealizedPnL(userID int64) (pnl, costs float64, err error) {
	err = r.s.do("trades.realized_pnl", func(db *sql.DB) error {
		return db.QueryRow(`
			SELECT COALESCE(SUM(realized_pnl), 0),
			       COALESCE(SUM(commission + slippage_cost + borrow_cost), 0)
			FROM trades WHERE user_id = ?`, userID,
		).Scan(&pnl, &costs)
	})
	return pnl, costs, err
}

func (r *TradeRepo) queryTrades(label, query string, args ...interface{}) ([]domain.Trade, error) {
	var out []domain.Trade
	err := r.s.do(label, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("failed to query trades: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var t domain.Trade
			var executedMs int64
			if err := rows.Scan(
				&t.ID, &t.UserID, &t.OrderID, &t.Symbol, &t.Side, &t.Qty, &t.Price,
				&t.Notional, &t.Commission, &t.SlippageCost, &t.BorrowCost,
				&t.RealizedPnL, &t.Regime, &executedMs,
			); err != nil {
				return fmt.Errorf("failed to scan trade: %w", err)
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
