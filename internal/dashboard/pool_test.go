package dashboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSession struct {
	mu        sync.Mutex
	id        int
	navigated []string
	closes    int
	navErr    error
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.navErr != nil {
		return s.navErr
	}
	s.navigated = append(s.navigated, url)
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions []*fakeSession
	err      error
}

func (f *fakeFactory) make(_ context.Context, _ AccountID, _ string) (Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := &fakeSession{id: len(f.sessions)}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

func newTestPool(factory *fakeFactory) *SessionPool {
	return NewSessionPool(DefaultConfig(), factory.make, nil)
}

func TestPoolReusesResidentSession(t *testing.T) {
	factory := &fakeFactory{}
	pool := newTestPool(factory)
	ctx := context.Background()

	lease1, err := pool.Acquire(ctx, "alice", "https://antigravity.google/usage")
	require.NoError(t, err)
	require.False(t, lease1.Ephemeral())
	pool.Release(lease1)

	lease2, err := pool.Acquire(ctx, "alice", "https://antigravity.google/usage")
	require.NoError(t, err)
	require.Same(t, lease1.Session(), lease2.Session())
	require.Equal(t, 1, factory.count(), "resident session should be constructed once")
	pool.Release(lease2)

	// Re-acquire navigates back to the target.
	sess := factory.sessions[0]
	require.Contains(t, sess.navigated, "https://antigravity.google/usage")
}

func TestPoolBusyResidentYieldsEphemeral(t *testing.T) {
	factory := &fakeFactory{}
	pool := newTestPool(factory)
	ctx := context.Background()

	lease1, err := pool.Acquire(ctx, "alice", "https://antigravity.google/usage")
	require.NoError(t, err)

	// Second acquire for the same busy account must not block and must get a
	// distinct session instance.
	done := make(chan *Lease, 1)
	go func() {
		lease2, err := pool.Acquire(ctx, "alice", "https://antigravity.google/usage")
		require.NoError(t, err)
		done <- lease2
	}()

	var lease2 *Lease
	select {
	case lease2 = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire on busy resident blocked")
	}

	require.True(t, lease2.Ephemeral())
	require.NotSame(t, lease1.Session(), lease2.Session())
	require.Equal(t, 1, pool.residentCount(), "ephemeral sessions are never stored")

	eph := lease2.Session().(*fakeSession)
	pool.Release(lease2)
	require.Equal(t, 1, eph.closeCount(), "ephemeral session destroyed on release")

	pool.Release(lease1)
	res := lease1.Session().(*fakeSession)
	require.Zero(t, res.closeCount(), "resident session survives release")
}

func TestPoolPruneOnlyTouchesIdleFreeEntries(t *testing.T) {
	factory := &fakeFactory{}
	pool := newTestPool(factory)
	ctx := context.Background()

	leaseA, err := pool.Acquire(ctx, "alice", "https://antigravity.google/usage")
	require.NoError(t, err)
	pool.Release(leaseA)

	leaseB, err := pool.Acquire(ctx, "bob", "https://antigravity.google/usage")
	require.NoError(t, err)
	// bob stays busy.

	pool.Prune(time.Now().Add(time.Hour))

	require.Equal(t, 1, pool.residentCount())
	require.Equal(t, 1, leaseA.Session().(*fakeSession).closeCount(), "idle free entry destroyed")
	require.Zero(t, leaseB.Session().(*fakeSession).closeCount(), "busy entry untouched regardless of age")

	pool.Release(leaseB)
}

func TestPoolSetupFailureSelfHeals(t *testing.T) {
	factory := &fakeFactory{err: errors.New("chrome went away")}
	pool := newTestPool(factory)
	ctx := context.Background()

	_, err := pool.Acquire(ctx, "alice", "https://antigravity.google/usage")
	var setupErr *SessionSetupError
	require.ErrorAs(t, err, &setupErr)
	require.Zero(t, pool.residentCount(), "broken entry must not linger")

	// A future caller gets a fresh construction attempt.
	factory.mu.Lock()
	factory.err = nil
	factory.mu.Unlock()
	lease, err := pool.Acquire(ctx, "alice", "https://antigravity.google/usage")
	require.NoError(t, err)
	pool.Release(lease)
}

func TestPoolRenavigationFailureEvicts(t *testing.T) {
	factory := &fakeFactory{}
	pool := newTestPool(factory)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "alice", "https://antigravity.google/usage")
	require.NoError(t, err)
	pool.Release(lease)

	sess := factory.sessions[0]
	sess.mu.Lock()
	sess.navErr = errors.New("target crashed")
	sess.mu.Unlock()

	_, err = pool.Acquire(ctx, "alice", "https://antigravity.google/usage")
	var setupErr *SessionSetupError
	require.ErrorAs(t, err, &setupErr)
	require.Zero(t, pool.residentCount())
	require.Equal(t, 1, sess.closeCount())
}

func TestPoolEvictDuringConstructionYieldsEphemeralLease(t *testing.T) {
	entered := make(chan struct{})
	proceed := make(chan struct{})
	sess := &fakeSession{}
	factory := func(_ context.Context, _ AccountID, _ string) (Session, error) {
		close(entered)
		<-proceed
		return sess, nil
	}
	pool := NewSessionPool(DefaultConfig(), factory, nil)

	done := make(chan *Lease, 1)
	go func() {
		lease, err := pool.Acquire(context.Background(), "alice", "https://antigravity.google/usage")
		require.NoError(t, err)
		done <- lease
	}()

	// Park construction mid-flight, then invalidate the account.
	<-entered
	pool.Evict("alice")
	close(proceed)

	var lease *Lease
	select {
	case lease = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("acquire never returned")
	}

	require.True(t, lease.Ephemeral(), "evicted slot must not yield a resident lease")
	require.Zero(t, pool.residentCount(), "evicted entry must not be resurrected")

	pool.Release(lease)
	require.Equal(t, 1, sess.closeCount(), "release destroys the orphaned session exactly once")

	pool.Shutdown()
	require.Equal(t, 1, sess.closeCount())
}

func TestPoolEvictDestroysBusyEntryOnce(t *testing.T) {
	factory := &fakeFactory{}
	pool := newTestPool(factory)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx, "alice", "https://antigravity.google/usage")
	require.NoError(t, err)

	pool.Evict("alice")
	sess := lease.Session().(*fakeSession)
	require.Equal(t, 1, sess.closeCount())
	require.Zero(t, pool.residentCount())

	// Releasing the orphaned lease must not double-close.
	pool.Release(lease)
	require.Equal(t, 1, sess.closeCount())
}

func TestPoolShutdownClosesEverything(t *testing.T) {
	factory := &fakeFactory{}
	pool := newTestPool(factory)
	ctx := context.Background()

	for _, account := range []AccountID{"alice", "bob"} {
		lease, err := pool.Acquire(ctx, account, "https://antigravity.google/usage")
		require.NoError(t, err)
		pool.Release(lease)
	}

	pool.Shutdown()
	require.Zero(t, pool.residentCount())
	for _, sess := range factory.sessions {
		require.Equal(t, 1, sess.closeCount())
	}
}
