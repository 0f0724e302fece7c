package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tiptap/internal/authn"
	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/internal/securestore"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Name()
	}
	return out
}

func (r *recorder) has(name string) bool {
	for _, n := range r.names() {
		if n == name {
			return true
		}
	}
	return false
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newStore() securestore.Store {
	return securestore.New(securestore.NewMemoryBackend(), "dev-1")
}

func newManager(t *testing.T, cfg Config, store securestore.Store, ch authn.Challenger) (*Manager, *recorder) {
	t.Helper()
	m := NewManager(cfg, store, "pw", ch, logging.Discard())
	rec := &recorder{}
	m.Subscribe(rec.record)
	t.Cleanup(m.Close)
	return m, rec
}

func longConfig() Config {
	cfg := DefaultConfig()
	cfg.SessionTimeout = time.Hour
	cfg.AutoLock = time.Hour
	return cfg
}

func TestStartAndActivity(t *testing.T) {
	ctx := context.Background()
	m, rec := newManager(t, longConfig(), newStore(), authn.Pass)

	_, ok := m.Current()
	require.False(t, ok)
	require.ErrorIs(t, m.UpdateActivity(ctx), ErrNoSession)

	s, err := m.Start(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, StateActive, s.State)
	assert.Regexp(t, `^sess_[0-9a-f]{32}$`, s.ID)

	require.NoError(t, m.UpdateActivity(ctx))
	assert.Equal(t, []string{"session.started", "session.activity"}, rec.names())

	_, err = m.Start(ctx, "")
	require.ErrorIs(t, err, ErrInvalidUserID)
}

func TestAutoLockAfterInactivity(t *testing.T) {
	ctx := context.Background()
	cfg := longConfig()
	cfg.AutoLock = 30 * time.Millisecond
	m, rec := newManager(t, cfg, newStore(), authn.Pass)

	_, err := m.Start(ctx, "user-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, _ := m.Current()
		return s.State == StateLocked
	}, time.Second, 5*time.Millisecond)
	assert.True(t, rec.has("session.locked"))
	assert.True(t, rec.has("session.auth_required"))
	require.ErrorIs(t, m.UpdateActivity(ctx), ErrNotActive)
}

func TestActivityPostponesAutoLock(t *testing.T) {
	ctx := context.Background()
	cfg := longConfig()
	cfg.AutoLock = 80 * time.Millisecond
	m, _ := newManager(t, cfg, newStore(), authn.Pass)
	_, err := m.Start(ctx, "user-1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		time.Sleep(30 * time.Millisecond)
		require.NoError(t, m.UpdateActivity(ctx))
	}
	s, _ := m.Current()
	assert.Equal(t, StateActive, s.State)
}

func TestSessionTimeoutEndsLockedSession(t *testing.T) {
	ctx := context.Background()
	cfg := longConfig()
	cfg.SessionTimeout = 40 * time.Millisecond
	m, rec := newManager(t, cfg, newStore(), authn.Pass)
	_, err := m.Start(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, m.Lock(ctx))

	require.Eventually(t, func() bool {
		s, _ := m.Current()
		return s.State == StateEnded
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return rec.has("session.auto_logout") }, time.Second, 5*time.Millisecond)
}

func TestUnlockRequiresChallenge(t *testing.T) {
	ctx := context.Background()
	m, rec := newManager(t, longConfig(), newStore(), authn.Deny)
	_, err := m.Start(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, m.Lock(ctx))

	err = m.Unlock(ctx)
	require.ErrorIs(t, err, ErrAuthFailed)
	require.ErrorIs(t, err, authn.ErrChallengeCancelled)
	s, _ := m.Current()
	assert.Equal(t, StateLocked, s.State)

	require.NoError(t, m.UnlockWith(ctx, authn.Pass))
	s, _ = m.Current()
	assert.Equal(t, StateActive, s.State)
	assert.True(t, rec.has("session.unlocked"))
}

func TestUnlockWithoutAuthRequirement(t *testing.T) {
	ctx := context.Background()
	cfg := longConfig()
	cfg.RequireAuthToUnlock = false
	m, _ := newManager(t, cfg, newStore(), authn.Deny)
	_, _ = m.Start(ctx, "user-1")
	require.NoError(t, m.Lock(ctx))
	require.NoError(t, m.Unlock(ctx))
}

func TestUnlockDetectsConcurrentEnd(t *testing.T) {
	ctx := context.Background()
	var m *Manager
	ending := authn.ChallengerFunc(func(ctx context.Context, _ authn.Reason) authn.Result {
		_ = m.End(ctx)
		return authn.Result{Passed: true, Outcome: authn.OutcomeSuccess}
	})
	m, _ = newManager(t, longConfig(), newStore(), ending)
	_, _ = m.Start(ctx, "user-1")
	require.NoError(t, m.Lock(ctx))
	require.ErrorIs(t, m.Unlock(ctx), ErrStateChanged)
}

func TestBackgroundForeground(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cfg := longConfig()
	cfg.AutoLock = 5 * time.Minute
	m, _ := newManager(t, cfg, newStore(), authn.Pass)
	m.WithClock(c.Now)

	_, _ = m.Start(ctx, "user-1")
	require.NoError(t, m.Background(ctx))
	c.Advance(time.Minute)
	require.NoError(t, m.Foreground(ctx))
	s, _ := m.Current()
	assert.Equal(t, StateActive, s.State)
	assert.Nil(t, s.BackgroundedAt)

	require.NoError(t, m.UpdateActivity(ctx))
	require.NoError(t, m.Background(ctx))
	c.Advance(6 * time.Minute)
	require.NoError(t, m.Foreground(ctx))
	s, _ = m.Current()
	assert.Equal(t, StateLocked, s.State)
}

func TestLockOnBackground(t *testing.T) {
	ctx := context.Background()
	cfg := longConfig()
	cfg.LockOnBackground = true
	m, _ := newManager(t, cfg, newStore(), authn.Pass)
	_, _ = m.Start(ctx, "user-1")
	require.NoError(t, m.Background(ctx))
	s, _ := m.Current()
	assert.Equal(t, StateLocked, s.State)
}

func TestEnd(t *testing.T) {
	ctx := context.Background()
	m, rec := newManager(t, longConfig(), newStore(), authn.Pass)
	require.ErrorIs(t, m.End(ctx), ErrNoSession)
	_, _ = m.Start(ctx, "user-1")
	require.NoError(t, m.End(ctx))
	s, ok := m.Current()
	require.True(t, ok)
	assert.Equal(t, StateEnded, s.State)
	assert.False(t, s.Active())
	require.ErrorIs(t, m.UnlockWith(ctx, authn.Pass), ErrEnded)
	assert.True(t, rec.has("session.ended"))
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		ok      bool
		state   State
	}{
		{"fresh", time.Minute, true, StateActive},
		{"idle", 10 * time.Minute, true, StateLocked},
		{"expired", 31 * time.Minute, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore()
			c := &clock{now: start}
			first, _ := newManager(t, DefaultConfig(), store, authn.Pass)
			first.WithClock(c.Now)
			_, err := first.Start(ctx, "user-1")
			require.NoError(t, err)
			first.Close()

			c.Advance(tt.elapsed)
			second, rec := newManager(t, DefaultConfig(), store, authn.Pass)
			second.WithClock(c.Now)
			s, ok, err := second.Restore(ctx)
			require.NoError(t, err)
			require.Equal(t, tt.ok, ok)
			if !ok {
				assert.True(t, rec.has("session.auto_logout"))
				return
			}
			assert.Equal(t, tt.state, s.State)
		})
	}
}

func TestRestoreCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	backend := securestore.NewMemoryBackend()
	store := securestore.New(backend, "dev-1")
	backend.Corrupt(store.StorageKey(securestore.KeySession), []byte("not a session"))

	m, _ := newManager(t, DefaultConfig(), store, authn.Pass)
	_, ok, err := m.Restore(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	var s Session
	err = store.GetSecureObject(ctx, securestore.KeySession, &s, "pw")
	assert.True(t, errors.Is(err, securestore.ErrNotFound), "corrupt snapshot should be removed")
}

func TestUnsubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewManager(longConfig(), newStore(), "pw", authn.Pass, logging.Discard())
	t.Cleanup(m.Close)
	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.record)
	_, _ = m.Start(ctx, "user-1")
	unsubscribe()
	_ = m.UpdateActivity(ctx)
	assert.Equal(t, []string{"session.started"}, rec.names())
}
