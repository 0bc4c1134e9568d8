package repo

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/simdesk/simdesk/internal/domain"
)

const userColumns = `id, username, password_hash, cash, starting_cash, role, created_at`

// UserRepo handles trading account rows.
type UserRepo struct {
	s *Store
}

// Insert creates a user and returns the assigned id.
func (r *UserRepo) Insert(u *domain.User) error {
	return r.s.do("users.insert", func(db *sql.DB) error {
		res, err := db.Exec(`
			INSERT INTO users (username, password_hash, cash, starting_cash, role, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			u.Username, u.PasswordHash, u.Cash, u.StartingCash, u.Role, nowMs(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
		u.ID, err = res.LastInsertId()
		return err
	})
}

// GetByID returns one user or domain.ErrNotFound.
func (r *UserRepo) GetByID(id int64) (*domain.User, error) {
	var u domain.User
	err := r.s.do("users.get_by_id", func(db *sql.DB) error {
		return scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByUsername returns one user or domain.ErrNotFound.
func (r *UserRepo) GetByUsername(username string) (*domain.User, error) {
	var u domain.User
	err := r.s.do("users.get_by_username", func(db *sql.DB) error {
		return scanUser(db.QueryRow(`SELECT `+userColumns+` FROM users WHERE username = ?`, username), &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetAll returns every user, newest first. Used by the leaderboard.
func (r *UserRepo) GetAll() ([]domain.User, error) {
	var out []domain.User
	err := r.s.do("users.get_all", func(db *sql.DB) error {
		rows, err := db.Query(`SELECT ` + userColumns + ` FROM users ORDER BY id`)
		if err != nil {
			return fmt.Errorf("failed to query users: %w", err)
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var u domain.User
			if err := scanUser(rows, &u); err != nil {
				return err
			}
			out = append(out, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CashForUpdate reads a user's cash inside tx with the row locked for the
// transaction's duration.
func CashForUpdate(tx *sql.Tx, userID int64) (float64, error) {
	var cash float64
	err := tx.QueryRow(`SELECT cash FROM users WHERE id = ?`, userID).Scan(&cash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read user cash: %w", err)
	}
	return cash, nil
}

// UpdateCash sets a user's cash inside tx.
func UpdateCash(tx *sql.Tx, userID int64, cash float64) error {
	res, err := tx.Exec(`UPDATE users SET cash = ? WHERE id = ?`, cash, userID)
	if err != nil {
		return fmt.Errorf("failed to update user cash: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner, u *domain.User) error {
	var createdMs int64
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Cash, &u.StartingCash, &u.Role, &createdMs)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to scan user: %w", err)
	}
	u.CreatedAt = msToTime(createdMs)
	return nil
}
