package store

import (
	"context"
	"time"
)

// Message is one immutable row of the append-only chat log. The presentation
// columns freeze what the author looked like at send time; replay prefers
// the author's current presentation and uses these only as a fallback.
type Message struct {
	ID        int64
	Content   string
	Username  string
	Timestamp time.Time
	Private   bool
	Recipient string
	ColorName string
	IconName  string
}

// AppendMessage persists one chat message. Rows are never updated or
// deleted by the server.
func (s *Store) AppendMessage(ctx context.Context, msg *Message) error {
	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO messages (content, username, timestamp, is_private, recipient, color_name, icon_name) VALUES (?, ?, ?, ?, ?, ?, ?)",
		msg.Content, msg.Username, msg.Timestamp.UTC().Format(time.RFC3339), msg.Private, msg.Recipient, msg.ColorName, msg.IconName,
	)
	if err != nil {
		return err
	}
	msg.ID, err = res.LastInsertId()
	return err
}

// RecentMessages returns the most recent limit messages in chronological
// (oldest first) order. Append order breaks timestamp ties.
func (s *Store) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, content, username, timestamp, is_private, recipient, color_name, icon_name
		 FROM (
			SELECT * FROM messages ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg          Message
			timestampStr string
		)
		if err := rows.Scan(&msg.ID, &msg.Content, &msg.Username, &timestampStr, &msg.Private, &msg.Recipient, &msg.ColorName, &msg.IconName); err != nil {
			return nil, err
		}
		msg.Timestamp, err = time.Parse(time.RFC3339, timestampStr)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
