package repo

import (
	"database/sql"
	"fmt"

	"github.com/simdesk/simdesk/internal/domain"
)

// CapitalRepo handles the unitised capital ledger and NAV snapshots.
type CapitalRepo struct {
	s *Store
}

// InvestorSummary is the per-investor rollup of the capital ledger.
type InvestorSummary struct {
	UserID     int64   `json:"userId"`
	Username   string  `json:"username"`
	NetCapital float64 `json:"netCapital"`
	Units      float64 `json:"units"`
}

// InsertCapitalTxn writes one ledger row inside tx. The caller assigns
// CreatedAt before the insert so the row carries the transaction's clock.
func InsertCapitalTxn(tx *sql.Tx, c *domain.CapitalTxn) error {
	res, err := tx.Exec(`
		INSERT INTO fund_capital
		(fund_id, user_id, amount, type, units_delta, nav_per_unit, nav_before, nav_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.FundID, c.UserID, c.Amount, c.Type, c.UnitsDelta, c.NavPerUnit,
		c.NavBefore, c.NavAfter, c.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert capital transaction: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetTransactions returns a fund's ledger, oldest first, ties broken by
// insertion order.
func (r *CapitalRepo) GetTransactions(fundID int64, limit int) ([]domain.CapitalTxn, error) {
	if limit <= 0 {
		limit = 500
	}
	var out []domain.CapitalTxn
	err := r.s.do("capital.get_transactions", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT id, fund_id, user_id, amount, type, units_delta, nav_per_unit,
			       nav_before, nav_after, created_at
			FROM fund_capital WHERE fund_id = ?
			ORDER BY created_at, id LIMIT ?`, fundID, limit)
		if err != nil {
			return fmt.Errorf("failed to query capital ledger: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var c domain.CapitalTxn
			var createdMs int64
			if err := rows.Scan(&c.ID, &c.FundID, &c.UserID, &c.Amount, &c.Type,
				&c.UnitsDelta, &c.NavPerUnit, &c.NavBefore, &c.NavAfter, &createdMs); err != nil {
				return fmt.Errorf("failed to scan capital transaction: %w", err)
			}
			c.CreatedAt = msToTime(createdMs)
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetUserTransactions returns one investor's ledger within a fund.
func (r *CapitalRepo) GetUserTransactions(fundID, userID int64) ([]domain.CapitalTxn, error) {
	var out []domain.CapitalTxn
	err := r.s.do("capital.get_user_transactions", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT id, fund_id, user_id, amount, type, units_delta, nav_per_unit,
			       nav_before, nav_after, created_at
			FROM fund_capital WHERE fund_id = ? AND user_id = ?
			ORDER BY created_at, id`, fundID, userID)
		if err != nil {
			return fmt.Errorf("failed to query investor ledger: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var c domain.CapitalTxn
			var createdMs int64
			if err := rows.Scan(&c.ID, &c.FundID, &c.UserID, &c.Amount, &c.Type,
				&c.UnitsDelta, &c.NavPerUnit, &c.NavBefore, &c.NavAfter, &createdMs); err != nil {
				return fmt.Errorf("failed to scan capital transaction: %w", err)
			}
			c.CreatedAt = msToTime(createdMs)
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSummary returns the per-investor net capital and units for a fund.
// Withdrawals are stored with positive amounts, so signs apply here.
func (r *CapitalRepo) GetSummary(fundID int64) ([]InvestorSummary, error) {
	var out []InvestorSummary
	err := r.s.do("capital.get_summary", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT c.user_id, u.username,
			       COALESCE(SUM(CASE WHEN c.type = ? THEN c.amount ELSE -c.amount END), 0),
			       COALESCE(SUM(c.units_delta), 0)
			FROM fund_capital c JOIN users u ON u.id = c.user_id
			WHERE c.fund_id = ?
			GROUP BY c.user_id, u.username
			ORDER BY c.user_id`, domain.CapitalDeposit, fundID)
		if err != nil {
			return fmt.Errorf("failed to query capital summary: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var s InvestorSummary
			if err := rows.Scan(&s.UserID, &s.Username, &s.NetCapital, &s.Units); err != nil {
				return fmt.Errorf("failed to scan capital summary: %w", err)
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// NetCapital returns a fund's total net capital and total units.
func (r *CapitalRepo) NetCapital(fundID int64) (capital, units float64, err error) {
	err = r.s.do("capital.net_capital", func(db *sql.DB) error {
		return db.QueryRow(`
			SELECT COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE -amount END), 0),
			       COALESCE(SUM(units_delta), 0)
			FROM fund_capital WHERE fund_id = ?`, domain.CapitalDeposit, fundID,
		).Scan(&capital, &units)
	})
	return capital, units, err
}

// NetCapitalTx is NetCapital evaluated inside an open transaction.
func NetCapitalTx(tx *sql.Tx, fundID int64) (capital, units float64, err error) {
	err = tx.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN type = ? THEN amount ELSE -amount END), 0),
		       COALESCE(SUM(units_delta), 0)
		FROM fund_capital WHERE fund_id = ?`, domain.CapitalDeposit, fundID,
	).Scan(&capital, &units)
	if err != nil {
		err = fmt.Errorf("failed to read fund aggregates: %w", err)
	}
	return capital, units, err
}

// InvestorUnitsTx returns one investor's units inside an open transaction.
func InvestorUnitsTx(tx *sql.Tx, fundID, userID int64) (float64, error) {
	var units float64
	err := tx.QueryRow(`
		SELECT COALESCE(SUM(units_delta), 0) FROM fund_capital
		WHERE fund_id = ? AND user_id = ?`, fundID, userID,
	).Scan(&units)
	if err != nil {
		return 0, fmt.Errorf("failed to read investor units: %w", err)
	}
	return units, nil
}

// InsertSnapshot writes one NAV snapshot.
func (r *CapitalRepo) InsertSnapshot(snap *domain.NavSnapshot) error {
	return r.s.do("nav.insert_snapshot", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO nav_snapshots (fund_id, snapshot_at, nav, nav_per_unit, total_units, capital, pnl)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.FundID, snap.SnapshotAt.UnixMilli(), snap.Nav, snap.NavPerUnit,
			snap.TotalUnits, snap.Capital, snap.PnL,
		)
		if err != nil {
			return fmt.Errorf("failed to insert nav snapshot: %w", err)
		}
		return nil
	})
}

// InsertSnapshotTx writes one NAV snapshot inside tx, alongside the capital
// event that produced it.
func InsertSnapshotTx(tx *sql.Tx, snap *domain.NavSnapshot) error {
	_, err := tx.Exec(`
		INSERT INTO nav_snapshots (fund_id, snapshot_at, nav, nav_per_unit, total_units, capital, pnl)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.FundID, snap.SnapshotAt.UnixMilli(), snap.Nav, snap.NavPerUnit,
		snap.TotalUnits, snap.Capital, snap.PnL,
	)
	if err != nil {
		return fmt.Errorf("failed to insert nav snapshot: %w", err)
	}
	return nil
}

// GetSnapshots returns a fund's most recent snapshots, newest first.
func (r *CapitalRepo) GetSnapshots(fundID int64, limit int) ([]domain.NavSnapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []domain.NavSnapshot
	err := r.s.do("nav.get_snapshots", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT fund_id, snapshot_at, nav, nav_per_unit, total_units, capital, pnl
			FROM nav_snapshots WHERE fund_id = ?
			ORDER BY snapshot_at DESC, id DESC LIMIT ?`, fundID, limit)
		if err != nil {
			return fmt.Errorf("failed to query nav snapshots: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var snap domain.NavSnapshot
			var atMs int64
			if err := rows.Scan(&snap.FundID, &atMs, &snap.Nav, &snap.NavPerUnit,
				&snap.TotalUnits, &snap.Capital, &snap.PnL); err != nil {
				return fmt.Errorf("failed to scan nav snapshot: %w", err)
			}
			snap.SnapshotAt = msToTime(atMs)
			out = append(out, snap)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
