package store

import (
	"context"
	"database/sql"
	"time"
)

// sessionTimeLayout is RFC 3339 with a fixed-width nanosecond fraction so
// stored stamps compare correctly as text in SQL.
const sessionTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Session is the durable record of a successful login. The Session Authority
// keeps at most one row per account.
type Session struct {
	ID           int64
	Token        string
	AccountID    int64
	CreatedAt    time.Time
	LastActive   time.Time
	ConnectionID string
}

// ReplaceSessions deletes every existing session row for the account and
// inserts a fresh one with the given token, all inside a single transaction.
// It returns the invalidated rows so the caller can evict any connections
// they were bound to, strictly after the commit has happened.
func (s *Store) ReplaceSessions(ctx context.Context, accountID int64, token string) (created *Session, invalidated []Session, err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		"SELECT id, token, account_id, created_at, last_active, COALESCE(connection_id, '') FROM sessions WHERE account_id = ?",
		accountID,
	)
	if err != nil {
		return nil, nil, err
	}
	invalidated, err = collectSessions(rows)
	if err != nil {
		return nil, nil, err
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM sessions WHERE account_id = ?", accountID); err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	stamp := now.Format(sessionTimeLayout)
	res, err := tx.ExecContext(ctx,
		"INSERT INTO sessions (token, account_id, created_at, last_active) VALUES (?, ?, ?, ?)",
		token, accountID, stamp, stamp,
	)
	if err != nil {
		return nil, nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, err
	}

	return &Session{ID: id, Token: token, AccountID: accountID, CreatedAt: now, LastActive: now}, invalidated, nil
}

// SessionByToken loads the session matching an opaque token.
func (s *Store) SessionByToken(ctx context.Context, token string) (*Session, error) {
	row := s.conn.QueryRowContext(ctx,
		"SELECT id, token, account_id, created_at, last_active, COALESCE(connection_id, '') FROM sessions WHERE token = ?",
		token,
	)

	var (
		sess                  Session
		createdStr, activeStr string
	)
	err := row.Scan(&sess.ID, &sess.Token, &sess.AccountID, &createdStr, &activeStr, &sess.ConnectionID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	sess.LastActive, _ = time.Parse(time.RFC3339Nano, activeStr)
	return &sess, nil
}

// DeleteSession removes a session row by token. Returns the deleted row so
// the caller can drop a bound registry entry, or ErrNotFound.
func (s *Store) DeleteSession(ctx context.Context, token string) (*Session, error) {
	sess, err := s.SessionByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token); err != nil {
		return nil, err
	}
	return sess, nil
}

// BindConnection records the live connection a session is attached to and
// refreshes its last-active time.
func (s *Store) BindConnection(ctx context.Context, token, connectionID string) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE sessions SET connection_id = ?, last_active = ? WHERE token = ?",
		connectionID, time.Now().UTC().Format(sessionTimeLayout), token,
	)
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

// UnbindConnection clears the connection binding, if any. The session row
// itself survives so the client can reconnect with the same token.
func (s *Store) UnbindConnection(ctx context.Context, connectionID string) error {
	_, err := s.conn.ExecContext(ctx,
		"UPDATE sessions SET connection_id = NULL WHERE connection_id = ?", connectionID)
	return err
}

// DeleteExpiredSessions removes every session whose last activity is older
// than the cutoff and returns the removed rows, so bound connections can be
// evicted by the caller. Select and delete share one transaction so a
// session refreshed concurrently is never reported as removed.
func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (expired []Session, err error) {
	stamp := cutoff.UTC().Format(sessionTimeLayout)

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx,
		"SELECT id, token, account_id, created_at, last_active, COALESCE(connection_id, '') FROM sessions WHERE last_active < ?",
		stamp,
	)
	if err != nil {
		return nil, err
	}
	expired, err = collectSessions(rows)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, tx.Commit()
	}

	if _, err = tx.ExecContext(ctx, "DELETE FROM sessions WHERE last_active < ?", stamp); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return expired, nil
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			sess                  Session
			createdStr, activeStr string
		)
		if err := rows.Scan(&sess.ID, &sess.Token, &sess.AccountID, &createdStr, &activeStr, &sess.ConnectionID); err != nil {
			return nil, err
		}
		sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		sess.LastActive, _ = time.Parse(time.RFC3339Nano, activeStr)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}
