package repo

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/simdesk/simdesk/internal/domain"
)

const fundColumns = `id, name, strategy_type, owner_id, description, min_investment,
mgmt_fee_rate, perf_fee_rate, created_at`

// FundRepo handles funds and their membership rows.
type FundRepo struct {
	s *Store
}

// Insert creates a fund and its owner membership atomically.
func (r *FundRepo) Insert(f *domain.Fund) error {
	return r.s.RunInTransaction("funds.insert", func(tx *sql.Tx) error {
		now := nowMs()
		res, err := tx.Exec(`
			INSERT INTO funds
			(name, strategy_type, owner_id, description, min_investment, mgmt_fee_rate, perf_fee_rate, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.Name, f.StrategyType, f.OwnerID, f.Description, f.MinInvestment,
			f.MgmtFeeRate, f.PerfFeeRate, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert fund: %w", err)
		}
		f.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		f.CreatedAt = msToTime(now)

		_, err = tx.Exec(`
			INSERT INTO fund_members (fund_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
			f.ID, f.OwnerID, domain.FundRoleOwner, now,
		)
		if err != nil {
			return fmt.Errorf("failed to insert owner membership: %w", err)
		}
		return nil
	})
}

// GetByID returns one fund or domain.ErrNotFound.
func (r *FundRepo) GetByID(id int64) (*domain.Fund, error) {
	var f domain.Fund
	err := r.s.do("funds.get_by_id", func(db *sql.DB) error {
		return scanFund(db.QueryRow(`SELECT `+fundColumns+` FROM funds WHERE id = ?`, id), &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// GetAll returns every fund.
func (r *FundRepo) GetAll() ([]domain.Fund, error) {
	return r.queryFunds("funds.get_all", `SELECT `+fundColumns+` FROM funds ORDER BY id`)
}

// GetUserFunds returns the funds a user belongs to.
func (r *FundRepo) GetUserFunds(userID int64) ([]domain.Fund, error) {
	return r.queryFunds("funds.get_user_funds", `
		SELECT `+fundColumns+` FROM funds f
		JOIN fund_members m ON m.fund_id = f.id
		WHERE m.user_id = ? ORDER BY f.id`, userID)
}

// Update rewrites the mutable fund fields.
func (r *FundRepo) Update(f *domain.Fund) error {
	return r.s.do("funds.update", func(db *sql.DB) error {
		res, err := db.Exec(`
			UPDATE funds SET name = ?, strategy_type = ?, description = ?,
			       min_investment = ?, mgmt_fee_rate = ?, perf_fee_rate = ?
			WHERE id = ?`,
			f.Name, f.StrategyType, f.Description, f.MinInvestment,
			f.MgmtFeeRate, f.PerfFeeRate, f.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update fund: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("fund %d: %w", f.ID, domain.ErrNotFound)
		}
		return nil
	})
}

// Delete removes a fund and its dependents.
func (r *FundRepo) Delete(id int64) error {
	return r.s.RunInTransaction("funds.delete", func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM risk_breaches WHERE fund_id = ?`,
			`DELETE FROM risk_settings WHERE fund_id = ?`,
			`DELETE FROM backtests WHERE fund_id = ?`,
			`DELETE FROM strategy_trades WHERE fund_id = ?`,
			`DELETE FROM custom_strategies WHERE fund_id = ?`,
			`DELETE FROM strategies WHERE fund_id = ?`,
			`DELETE FROM nav_snapshots WHERE fund_id = ?`,
			`DELETE FROM fund_capital WHERE fund_id = ?`,
			`DELETE FROM fund_members WHERE fund_id = ?`,
		} {
			if _, err := tx.Exec(stmt, id); err != nil {
				return fmt.Errorf("failed to delete fund dependents: %w", err)
			}
		}
		res, err := tx.Exec(`DELETE FROM funds WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete fund: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("fund %d: %w", id, domain.ErrNotFound)
		}
		return nil
	})
}

// AddMember inserts a membership row.
func (r *FundRepo) AddMember(m *domain.FundMember) error {
	return r.s.do("funds.add_member", func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO fund_members (fund_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`,
			m.FundID, m.UserID, m.Role, nowMs(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert fund member: %w", err)
		}
		return nil
	})
}

// GetMembers returns a fund's members with usernames joined in.
func (r *FundRepo) GetMembers(fundID int64) ([]domain.FundMember, error) {
	var out []domain.FundMember
	err := r.s.do("funds.get_members", func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT m.fund_id, m.user_id, u.username, m.role, m.joined_at
			FROM fund_members m JOIN users u ON u.id = m.user_id
			WHERE m.fund_id = ? ORDER BY m.joined_at, m.rowid`, fundID)
		if err != nil {
			return fmt.Errorf("failed to query fund members: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var m domain.FundMember
			var joinedMs int64
			if err := rows.Scan(&m.FundID, &m.UserID, &m.Username, &m.Role, &joinedMs); err != nil {
				return fmt.Errorf("failed to scan fund member: %w", err)
			}
			m.JoinedAt = msToTime(joinedMs)
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetMember returns one membership or domain.ErrNotFound.
func (r *FundRepo) GetMember(fundID, userID int64) (*domain.FundMember, error) {
	var m domain.FundMember
	err := r.s.do("funds.get_member", func(db *sql.DB) error {
		var joinedMs int64
		err := db.QueryRow(`
			SELECT fund_id, user_id, role, joined_at FROM fund_members
			WHERE fund_id = ? AND user_id = ?`, fundID, userID,
		).Scan(&m.FundID, &m.UserID, &m.Role, &joinedMs)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to scan fund member: %w", err)
		}
		m.JoinedAt = msToTime(joinedMs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMemberRole changes a member's role. The owner role is managed by
// fund ownership, not by this call.
func (r *FundRepo) UpdateMemberRole(fundID, userID int64, role string) error {
	return r.s.do("funds.update_member_role", func(db *sql.DB) error {
		res, err := db.Exec(`
			UPDATE fund_members SET role = ? WHERE fund_id = ? AND user_id = ?`,
			role, fundID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to update member role: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

// RemoveMember deletes a membership.
func (r *FundRepo) RemoveMember(fundID, userID int64) error {
	return r.s.do("funds.remove_member", func(db *sql.DB) error {
		res, err := db.Exec(`DELETE FROM fund_members WHERE fund_id = ? AND user_id = ?`, fundID, userID)
		if err != nil {
			return fmt.Errorf("failed to remove fund member: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.ErrNotFound
		}
		return nil
	})
}

func (r *FundRepo) queryFunds(label, query string, args ...interface{}) ([]domain.Fund, error) {
	var out []domain.Fund
	err := r.s.do(label, func(db *sql.DB) error {
		rows, err := db.Query(query, args...)
		if err != nil {
			return fmt.Errorf("failed to query funds: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var f domain.Fund
			if err := scanFund(rows, &f); err != nil {
				return err
			}
			out = append(out, f)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanFund(row rowScanner, f *domain.Fund) error {
	var createdMs int64
	err := row.Scan(&f.ID, &f.Name, &f.StrategyType, &f.OwnerID, &f.Description,
		&f.MinInvestment, &f.MgmtFeeRate, &f.PerfFeeRate, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to scan fund: %w", err)
	}
	f.CreatedAt = msToTime(createdMs)
	return nil
}
