package chat

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Conn is the transport-side handle the registry holds for each live
// connection. Send must not block: it queues the payload and reports whether
// the connection accepted it. Kick closes the underlying transport.
type Conn interface {
	ID() string
	Send(payload []byte) bool
	Kick()
}

// Entry is one registered live connection with its identity and
// presentation snapshot.
type Entry struct {
	ConnID    string
	AccountID int64
	Username  string
	Icon      string
	conn      Conn
}

// Registry is the process-wide volatile map of live connections. All
// mutations and the snapshot used for broadcast go through a single mutex so
// broadcasts never observe a half-applied change. It holds no durable state
// and starts empty on every boot.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Entry
	log     *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		log:     log,
	}
}

// Register inserts a live connection. Any existing entry for the same
// account is evicted first, so the registry never holds two connections for
// one account; the evicted connection, if any, is returned so the caller can
// close its transport.
func (r *Registry) Register(conn Conn, accountID int64, username, icon string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted *Entry
	for id, e := range r.entries {
		if e.AccountID == accountID {
			evicted = e
			delete(r.entries, id)
			break
		}
	}

	r.entries[conn.ID()] = &Entry{
		ConnID:    conn.ID(),
		AccountID: accountID,
		Username:  username,
		Icon:      icon,
		conn:      conn,
	}

	r.log.Info("connection registered",
		zap.String("conn_id", conn.ID()),
		zap.String("username", username),
		zap.Int("total", len(r.entries)))
	return evicted
}

// Unregister removes a connection if present and returns the removed entry.
// A second call for the same id is a no-op, which tolerates races between
// voluntary disconnect and eviction.
func (r *Registry) Unregister(connID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[connID]
	if !ok {
		return nil, false
	}
	delete(r.entries, connID)
	r.log.Info("connection unregistered",
		zap.String("conn_id", connID),
		zap.Int("total", len(r.entries)))
	return e, true
}

// Lookup returns the entry for a connection id.
func (r *Registry) Lookup(connID string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	return e, ok
}

// Snapshot returns a consistent point-in-time copy of the registry, ordered
// by username for stable roster output.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, *e)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Username < snapshot[j].Username
	})
	return snapshot
}

// Send delivers a payload to one entry's connection, fire-and-forget. A full
// buffer or closed connection is logged and skipped, never retried.
func (e *Entry) Send(payload []byte, log *zap.Logger) {
	if !e.conn.Send(payload) {
		log.Warn("dropping payload for connection",
			zap.String("conn_id", e.ConnID),
			zap.String("username", e.Username))
	}
}

// Kick closes the entry's transport.
func (e *Entry) Kick() {
	e.conn.Kick()
}
