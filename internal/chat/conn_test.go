package chat

import (
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bearbait/forestchat/internal/store"
)

// fakeConn records everything queued to it and whether it was kicked.
type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   [][]byte
	kicked bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.kicked {
		return false
	}
	f.sent = append(f.sent, payload)
	return true
}

func (f *fakeConn) Kick() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = true
}

func (f *fakeConn) wasKicked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.kicked
}

// events decodes every queued payload into generic maps.
func (f *fakeConn) events(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	decoded := make([]map[string]any, 0, len(f.sent))
	for _, payload := range f.sent {
		var evt map[string]any
		require.NoError(t, json.Unmarshal(payload, &evt))
		decoded = append(decoded, evt)
	}
	return decoded
}

// eventsOfType filters the queued payloads down to one event kind.
func (f *fakeConn) eventsOfType(t *testing.T, eventType string) []map[string]any {
	t.Helper()
	var filtered []map[string]any
	for _, evt := range f.events(t) {
		if evt["type"] == eventType {
			filtered = append(filtered, evt)
		}
	}
	return filtered
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// testCore wires a registry, broadcaster, authority, and router over a
// temporary store, mirroring the production wiring.
type testCore struct {
	store     *store.Store
	registry  *Registry
	presence  *Broadcaster
	authority *Authority
	router    *Router
}

func newTestCore(t *testing.T) *testCore {
	t.Helper()
	st := newTestStore(t)
	log := zap.NewNop()
	registry := NewRegistry(log)
	presence := NewBroadcaster(registry, log)
	return &testCore{
		store:     st,
		registry:  registry,
		presence:  presence,
		authority: NewAuthority(st, registry, presence, testMaxAge, log),
		router:    NewRouter(st, registry, 50, log),
	}
}
