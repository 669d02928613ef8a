package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrUsernameTaken is returned by CreateAccount when the username exists.
var ErrUsernameTaken = errors.New("store: username already taken")

// Account is a registered identity with credentials and display preferences.
type Account struct {
	ID        int64
	Username  string
	ColorName string
	IconName  string
	LastSeen  time.Time
}

// CreateAccount registers a new account with a bcrypt-hashed credential and
// default display preferences.
func (s *Store) CreateAccount(ctx context.Context, username, password string) (*Account, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO accounts (username, password_hash) VALUES (?, ?)",
		username, string(hashed),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &Account{ID: id, Username: username, ColorName: "spring_leaf", IconName: "bear"}, nil
}

// CheckCredentials verifies a username/password pair and returns the account
// on success. A missing account and a wrong password both report false; the
// caller decides how to surface that.
func (s *Store) CheckCredentials(ctx context.Context, username, password string) (*Account, bool, error) {
	var (
		acct Account
		hash string
	)
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, username, password_hash, color_name, icon_name FROM accounts WHERE username = ?",
		username,
	).Scan(&acct.ID, &acct.Username, &hash, &acct.ColorName, &acct.IconName)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, false, nil
	}
	return &acct, true, nil
}

// AccountByID loads a single account.
func (s *Store) AccountByID(ctx context.Context, id int64) (*Account, error) {
	return s.scanAccount(s.conn.QueryRowContext(ctx,
		"SELECT id, username, color_name, icon_name, COALESCE(last_seen, '') FROM accounts WHERE id = ?", id))
}

// AccountByUsername loads a single account by its unique username.
func (s *Store) AccountByUsername(ctx context.Context, username string) (*Account, error) {
	return s.scanAccount(s.conn.QueryRowContext(ctx,
		"SELECT id, username, color_name, icon_name, COALESCE(last_seen, '') FROM accounts WHERE username = ?", username))
}

func (s *Store) scanAccount(row *sql.Row) (*Account, error) {
	var (
		acct     Account
		lastSeen string
	)
	err := row.Scan(&acct.ID, &acct.Username, &acct.ColorName, &acct.IconName, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastSeen != "" {
		acct.LastSeen, _ = time.Parse(time.RFC3339, lastSeen)
	}
	return &acct, nil
}

// UpdateColor sets the account's color preference.
func (s *Store) UpdateColor(ctx context.Context, accountID int64, colorName string) error {
	return s.updateAccountField(ctx, "UPDATE accounts SET color_name = ? WHERE id = ?", colorName, accountID)
}

// UpdateIcon sets the account's creature icon preference.
func (s *Store) UpdateIcon(ctx context.Context, accountID int64, iconName string) error {
	return s.updateAccountField(ctx, "UPDATE accounts SET icon_name = ? WHERE id = ?", iconName, accountID)
}

// UpdateLastSeen records the account's most recent disconnect time.
func (s *Store) UpdateLastSeen(ctx context.Context, accountID int64, t time.Time) error {
	return s.updateAccountField(ctx, "UPDATE accounts SET last_seen = ? WHERE id = ?",
		t.UTC().Format(time.RFC3339), accountID)
}

func (s *Store) updateAccountField(ctx context.Context, query string, value any, accountID int64) error {
	res, err := s.conn.ExecContext(ctx, query, value, accountID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
