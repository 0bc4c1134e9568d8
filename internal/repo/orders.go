package repo

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/simdesk/simdesk/internal/domain"
)

const orderColumns = `id, user_id, ticker, type, side, qty, filled_qty, limit_price,
stop_price, trail_pct, trail_high, oco_group_id, status, reason,
created_at, cancelled_at, filled_at`

// OrderRepo handles the order lifecycle rows.
type OrderRepo struct {
	s *Store
}

// Insert persists a freshly accepted order.
func (r *OrderRepo) Insert(o *domain.Order) error {
	return r.s.do("orders.insert", func(db *sql.DB) error {
		o.CreatedAt = time.Now().UTC()
		_, err := db.Exec(`
			INSERT INTO orders
			(id, user_id, ticker, type, side, qty, filled_qty, limit_price, stop_price,
			 trail_pct, trail_high, oco_group_id, status, reason, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.UserID, o.Symbol, o.Type, o.Side, o.Qty, o.FilledQty,
			o.LimitPrice, o.StopPrice, o.TrailPct, o.TrailHigh,
			nullString(o.OCOGroupID), o.Status, o.Reason, o.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return nil
	})
}

// GetByID returns one order or domain.ErrNotFound.
func (r *OrderRepo) GetByID(id string) (*domain.Order, error) {
	var o domain.Order
	err := r.s.do("orders.get_by_id", func(db *sql.DB) error {
		return scanOrder(db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id), &o)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// GetOpen returns every open or partially filled order, oldest first.
func (r *OrderRepo) GetOpen() ([]domain.Order, error) {
	return r.queryOrders("orders.get_open",
		`SELECT `+orderColumns+` FROM orders WHERE status IN ('open','partial') ORDER BY created_at, rowid`)
}

// GetOpenByUser returns a user's open orders, oldest first.
func (r *OrderRepo) GetOpenByUser(userID int64) ([]domain.Order, error) {
	return r.queryOrders("orders.get_open_by_user",
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? AND status IN ('open','partial') ORDER BY created_at, rowid`,
		userID)
}

// GetOpenByTicker returns open orders for one symbol. Used by the order
// book builder to fold user limits.
func (r *OrderRepo) GetOpenByTicker(symbol string) ([]domain.Order, error) {
	return r.queryOrders("orders.get_open_by_ticker",
		`SELECT `+orderColumns+` FROM orders WHERE ticker = ? AND status IN ('open','partial') ORDER BY created_at, rowid`,
		symbol)
}

// Cancel transitions an order to cancelled. Cancelling an already-cancelled
// order is a no-op; cancelling a filled or rejected order fails.
func (r *OrderRepo) Cancel(id string, userID int64, reason string) error {
	return r.s.do("orders.cancel", func(db *sql.DB) error {
		var status domain.OrderStatus
		err := db.QueryRow(`SELECT status FROM orders WHERE id = ? AND user_id = ?`, id, userID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to read order status: %w", err)
		}
		if status == domain.OrderCancelled {
			return nil
		}
		if status.Terminal() {
			return fmt.Errorf("order %s already %s: %w", id, status, domain.ErrInvalid)
		}
		_, err = db.Exec(`
			UPDATE orders SET status = ?, reason = ?, cancelled_at = ?
			WHERE id = ? AND status IN ('open','partial')`,
			domain.OrderCancelled, reason, nowMs(), id,
		)
		if err != nil {
			return fmt.Errorf("failed to cancel order: %w", err)
		}
		return nil
	})
}

// UpdateFill writes the post-fill quantity and status inside tx.
func UpdateFill(tx *sql.Tx, o *domain.Order) error {
	_, err := tx.Exec(`
		UPDATE orders SET filled_qty = ?, status = ?, reason = ?, trail_high = ?, filled_at = ?
		WHERE id = ?`,
		o.FilledQty, o.Status, o.Reason, o.TrailHigh, nullMs(o.FilledAt), o.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update order fill: %w", err)
	}
	return nil
}

// CancelSiblings cancels every other open order in an OCO group inside tx.
func CancelSiblings(tx *sql.Tx, ocoGroupID, excludeOrderID string) error {
	if ocoGroupID == "" {
		return nil
	}
	_, err := tx.Exec(`
		UPDATE orders SET status = ?, reason = 'oco_sibling_filled', cancelled_at = ?
		WHERE oco_group_id = ? AND id != ? AND status IN ('open','partial')`,
		domain.OrderCancelled, nowMs(), ocoGroupID, excludeOrderID,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel oco siblings: %w", err)
	}
	return nil
}

// ConvertToLimit rewrites a triggered stop-limit as a plain limit order.
// The stop price stays on the row for audit.
func (r *OrderRepo) ConvertToLimit(id string) error {
	return r.s.do("orders.convert_to_limit", func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE orders SET type = ? WHERE id = ? AND status IN ('open','partial')`,
			domain.OrderLimit, id)
		if err != nil {
			return fmt.Errorf("failed to convert stop-limit: %w", err)
		}
		return nil
	})
}

// UpdateTrailHigh persists the trailing-stop high-water mark.
func (r *OrderRepo) UpdateTrailHigh(id string, trailHigh float64) error {
	return r.s.do("orders.update_trail_high", func(db *sql.DB) error {
		_, err := db.Exec(`UPDATE orders SET trail_high = ? WHERE id = ?`, trailHigh, id)
		if err != nil {
			return fmt.Errorf("failed to update trail high: %w", err)
		}
		return nil
	})
}

// MarkRejected transitions an order to rejected with a reason.
func (r *OrderRepo) MarkRejected(id, reason string) error {
	return r.s.do("orders.mark_rejected", func(db *sql.DB) error {
		_, err := db.Exec(`
			UPDATE orders SET status = ?, reason = ? WHERE id = ? AND status IN ('open','partial')`,
			domain.OrderRejected, reason, id,
		)
		if err != nil {
			return fmt.Errorf("failed to reject order: %w", err)
		}
		return nil
	})
}

func (r *OrderRepo) queryOrders(label, query string, args ...interface{}) ([]domain.Order, error) {
	var out []domain.Order
	err := r.s.do(label, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("failed to query orders: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var o domain.Order
			if err := scanOrder(rows, &o); err != nil {
				return err
			}
			out = append(out, o)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanOrder(row rowScanner, o *domain.Order) error {
	var (
		createdMs   int64
		cancelledMs sql.NullInt64
		filledMs    sql.NullInt64
		oco         sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.Symbol, &o.Type, &o.Side, &o.Qty, &o.FilledQty,
		&o.LimitPrice, &o.StopPrice, &o.TrailPct, &o.TrailHigh, &oco,
		&o.Status, &o.Reason, &createdMs, &cancelledMs, &filledMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to scan order: %w", err)
	}
	o.OCOGroupID = oco.String
	o.CreatedAt = msToTime(createdMs)
	if cancelledMs.Valid {
		t := msToTime(cancelledMs.Int64)
		o.CancelledAt = &t
	}
	if filledMs.Valid {
		t := msToTime(filledMs.Int64)
		o.FilledAt = &t
	}
	return nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
