package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegisterEvictsSameAccount(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	first := newFakeConn("conn-1")
	second := newFakeConn("conn-2")

	evicted := r.Register(first, 1, "alice", "/media/forest_creatures/bear.png")
	assert.Nil(t, evicted)

	evicted = r.Register(second, 1, "alice", "/media/forest_creatures/bear.png")
	require.NotNil(t, evicted)
	assert.Equal(t, "conn-1", evicted.ConnID)

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 1)
	assert.Equal(t, "conn-2", snapshot[0].ConnID)
}

func TestRegistryNeverHoldsTwoEntriesPerAccount(t *testing.T) {
	r := NewRegistry(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Register(newFakeConn(fmt.Sprintf("conn-%d", i)), 1, "alice", "")
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.Snapshot(), 1)
}

func TestUnregisterIsIdempotent(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register(newFakeConn("conn-1"), 1, "alice", "")

	entry, ok := r.Unregister("conn-1")
	require.True(t, ok)
	assert.Equal(t, "alice", entry.Username)

	entry, ok = r.Unregister("conn-1")
	assert.False(t, ok)
	assert.Nil(t, entry)

	_, ok = r.Unregister("never-registered")
	assert.False(t, ok)
}

func TestSnapshotOrderedByUsername(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register(newFakeConn("conn-1"), 1, "cedar", "")
	r.Register(newFakeConn("conn-2"), 2, "alice", "")
	r.Register(newFakeConn("conn-3"), 3, "bob", "")

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "alice", snapshot[0].Username)
	assert.Equal(t, "bob", snapshot[1].Username)
	assert.Equal(t, "cedar", snapshot[2].Username)
}

func TestSnapshotIsACopy(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register(newFakeConn("conn-1"), 1, "alice", "")

	snapshot := r.Snapshot()
	r.Unregister("conn-1")

	// The earlier snapshot is unaffected by the mutation.
	require.Len(t, snapshot, 1)
	assert.Empty(t, r.Snapshot())
}

func TestLookup(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	r.Register(newFakeConn("conn-1"), 1, "alice", "")

	entry, ok := r.Lookup("conn-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.AccountID)

	_, ok = r.Lookup("conn-2")
	assert.False(t, ok)
}
