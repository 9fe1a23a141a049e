package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory Client that records every push.
type fakeClient struct {
	mu      sync.Mutex
	id      string
	name    string
	frames  []OutboundFrame
	pushErr error
	closed  bool
}

func newFakeClient(id string) *fakeClient { return &fakeClient{id: id} }

func (f *fakeClient) UserID() string { return f.id }
func (f *fakeClient) Name() string   { return f.name }

func (f *fakeClient) Push(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.frames = append(f.frames, OutboundFrame{Event: event, Data: payload})
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeClient) received() []OutboundFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]OutboundFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

func (f *fakeClient) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	reg := NewRegistry()

	first := newFakeClient("u1")
	require.Nil(t, reg.Register("u1", first))

	second := newFakeClient("u1")
	replaced := reg.Register("u1", second)
	require.Same(t, first, replaced, "prior client must be handed back")

	cur, ok := reg.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, second, cur, "newest connection is authoritative")
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_UnregisterOwnerGuard(t *testing.T) {
	reg := NewRegistry()

	stale := newFakeClient("u1")
	reg.Register("u1", stale)
	fresh := newFakeClient("u1")
	reg.Register("u1", fresh)

	// The stale connection's deferred cleanup must not evict its replacement.
	reg.Unregister("u1", stale)
	cur, ok := reg.Lookup("u1")
	require.True(t, ok, "replacement was evicted by a stale owner")
	assert.Same(t, fresh, cur)

	// The current owner removes its own mapping.
	reg.Unregister("u1", fresh)
	_, ok = reg.Lookup("u1")
	assert.False(t, ok)

	// Unregistering an absent user is a no-op.
	reg.Unregister("ghost", nil)
}

func TestRegistry_UnregisterNilOwner(t *testing.T) {
	reg := NewRegistry()
	reg.Register("u1", newFakeClient("u1"))

	reg.Unregister("u1", nil)
	_, ok := reg.Lookup("u1")
	assert.False(t, ok, "nil owner removes unconditionally")
}

func TestRegistry_SnapshotSorted(t *testing.T) {
	reg := NewRegistry()
	for _, id := range []string{"carol", "alice", "bob"} {
		reg.Register(id, newFakeClient(id))
	}

	assert.Equal(t, []string{"alice", "bob", "carol"}, reg.Snapshot())
	assert.Equal(t, 3, reg.Len())
}

func TestRegistry_EachVisitsAll(t *testing.T) {
	reg := NewRegistry()
	reg.Register("u1", newFakeClient("u1"))
	reg.Register("u2", newFakeClient("u2"))

	seen := map[string]bool{}
	reg.Each(func(c Client) {
		seen[c.UserID()] = true
		// Registry methods must not deadlock inside the callback.
		_, _ = reg.Lookup(c.UserID())
	})
	assert.Equal(t, map[string]bool{"u1": true, "u2": true}, seen)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	// Several workers hammer a small set of user IDs so registrations
	// collide, replacements happen, and stale owner guards fire, all while
	// snapshots and visits run in parallel.
	const workers = 16
	const iterations = 50

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		id := fmt.Sprintf("user-%d", i%4)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			for j := 0; j < iterations; j++ {
				c := newFakeClient(id)
				reg.Register(id, c)
				reg.Each(func(cl Client) { _ = cl.UserID() })
				_ = reg.Snapshot()
				_, _ = reg.Lookup(id)
				reg.Unregister(id, c)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	// Every worker unregistered its own last connection; the stale-owner
	// guard turned the rest into no-ops, so nothing may linger.
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, reg.Snapshot())
}

func TestBroadcaster_PushesSnapshotToAll(t *testing.T) {
	reg := NewRegistry()
	a := newFakeClient("alice")
	b := newFakeClient("bob")
	reg.Register("alice", a)
	reg.Register("bob", b)

	NewBroadcaster(reg).BroadcastPresence()

	for _, c := range []*fakeClient{a, b} {
		frames := c.received()
		require.Len(t, frames, 1)
		assert.Equal(t, EventOnlineUsers, frames[0].Event)
		assert.Equal(t, []string{"alice", "bob"}, frames[0].Data)
	}
}

func TestBroadcaster_PushFailureDoesNotAbort(t *testing.T) {
	reg := NewRegistry()
	broken := newFakeClient("alice")
	broken.pushErr = errors.New("write: broken pipe")
	healthy := newFakeClient("bob")
	reg.Register("alice", broken)
	reg.Register("bob", healthy)

	NewBroadcaster(reg).BroadcastPresence()

	frames := healthy.received()
	require.Len(t, frames, 1, "one failing client must not stop the broadcast")
	assert.Equal(t, EventOnlineUsers, frames[0].Event)
}
