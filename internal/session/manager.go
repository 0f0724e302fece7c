package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/tiptap/internal/authn"
	"github.com/mbd888/tiptap/internal/idgen"
	"github.com/mbd888/tiptap/internal/metrics"
	"github.com/mbd888/tiptap/internal/securestore"
)

// Manager owns the current session. All transitions are serialized; timer
// callbacks carry the epoch they were armed in and are ignored once a later
// transition has rearmed or cancelled them.
type Manager struct {
	mu  sync.Mutex
	cur *Session

	lockTimer   *time.Timer
	expireTimer *time.Timer
	lockEpoch   uint64
	epoch       uint64

	listeners map[int]func(Event)
	nextID    int

	cfg        Config
	store      securestore.Store
	password   string
	challenger authn.Challenger
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a session manager. challenger gates Unlock when the
// config requires authentication.
func NewManager(cfg Config, store securestore.Store, password string, challenger authn.Challenger, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		store:      store,
		password:   password,
		challenger: challenger,
		logger:     logger,
		listeners:  make(map[int]func(Event)),
		now:        time.Now,
	}
}

// WithClock overrides the time source used for timestamps and elapsed-time
// checks. Timers still run on the wall clock.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Config returns the session configuration.
func (m *Manager) Config() Config { return m.cfg }

// Subscribe registers fn for every event. Listeners run synchronously after
// the transition commits and must not block.
func (m *Manager) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Current returns a copy of the current session.
func (m *Manager) Current() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return Session{}, false
	}
	return m.cur.clone(), true
}

func (s *Session) clone() Session {
	c := *s
	if s.BackgroundedAt != nil {
		t := *s.BackgroundedAt
		c.BackgroundedAt = &t
	}
	return c
}

// Start begins a new Active session for userID, replacing any existing one.
func (m *Manager) Start(ctx context.Context, userID string) (Session, error) {
	if userID == "" {
		return Session{}, ErrInvalidUserID
	}
	m.mu.Lock()
	now := m.now()
	m.stopTimers()
	m.epoch++
	m.cur = &Session{
		ID:             idgen.WithPrefix(idgen.PrefixSession),
		UserID:         userID,
		State:          StateActive,
		StartedAt:      now,
		LastActivityAt: now,
	}
	m.armExpiry(m.cfg.SessionTimeout)
	m.armLock(m.cfg.AutoLock)
	snap := m.cur.clone()
	m.persist(ctx, snap)
	m.mu.Unlock()

	m.logger.Info("session started", "session_id", snap.ID, "user_id", userID)
	m.emit("start", Started{base{snap}})
	return snap, nil
}

// UpdateActivity records user activity and restarts the auto-lock timer.
func (m *Manager) UpdateActivity(ctx context.Context) error {
	m.mu.Lock()
	if m.cur == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if m.cur.State != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	m.cur.LastActivityAt = m.now()
	m.armLock(m.cfg.AutoLock)
	snap := m.cur.clone()
	m.persist(ctx, snap)
	m.mu.Unlock()

	m.notify(ActivityUpdated{base{snap}})
	return nil
}

// Lock locks an Active session.
func (m *Manager) Lock(ctx context.Context) error {
	m.mu.Lock()
	if m.cur == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if m.cur.State != StateActive {
		m.mu.Unlock()
		return ErrNotActive
	}
	events := m.lockLocked(ctx, CauseManual)
	m.mu.Unlock()
	m.emit("", events...)
	return nil
}

// lockLocked moves the session to Locked. Caller holds m.mu.
func (m *Manager) lockLocked(ctx context.Context, cause LockCause) []Event {
	m.cur.State = StateLocked
	m.cancelLock()
	snap := m.cur.clone()
	m.persist(ctx, snap)
	m.logger.Info("session locked", "session_id", snap.ID, "cause", cause)
	events := []Event{Locked{base: base{snap}, Cause: cause}}
	if m.cfg.RequireAuthToUnlock {
		events = append(events, AuthRequired{base: base{snap}, Reason: authn.ReasonUnlock})
	}
	return events
}

// Background records that the app left the foreground. The auto-lock timer
// is suspended until Foreground.
func (m *Manager) Background(ctx context.Context) error {
	m.mu.Lock()
	if m.cur == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if m.cur.State == StateEnded {
		m.mu.Unlock()
		return ErrEnded
	}
	now := m.now()
	m.cur.BackgroundedAt = &now
	m.cancelLock()
	var events []Event
	if m.cfg.LockOnBackground && m.cur.State == StateActive {
		events = m.lockLocked(ctx, CauseBackground)
	} else {
		m.persist(ctx, m.cur.clone())
	}
	m.mu.Unlock()
	m.emit("", events...)
	return nil
}

// Foreground records the return to the foreground. A session backgrounded
// for longer than the auto-lock duration is locked; otherwise the auto-lock
// timer resumes from the last activity.
func (m *Manager) Foreground(ctx context.Context) error {
	m.mu.Lock()
	if m.cur == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if m.cur.State == StateEnded {
		m.mu.Unlock()
		return ErrEnded
	}
	if m.cur.BackgroundedAt == nil {
		m.mu.Unlock()
		return nil
	}
	now := m.now()
	away := now.Sub(*m.cur.BackgroundedAt)
	m.cur.BackgroundedAt = nil

	var events []Event
	switch {
	case m.cur.State != StateActive:
		m.persist(ctx, m.cur.clone())
	case away > m.cfg.AutoLock:
		events = m.lockLocked(ctx, CauseBackground)
	default:
		m.armLock(m.cfg.AutoLock - now.Sub(m.cur.LastActivityAt))
		m.persist(ctx, m.cur.clone())
	}
	m.mu.Unlock()
	m.emit("", events...)
	return nil
}

// Unlock returns a Locked session to Active using the manager's challenger.
func (m *Manager) Unlock(ctx context.Context) error {
	return m.UnlockWith(ctx, m.challenger)
}

// UnlockWith returns a Locked session to Active. When the config requires
// authentication, ch must pass an unlock challenge; on failure the session
// stays Locked and the error wraps both ErrAuthFailed and the challenge
// error. Unlocking an Active session is a no-op.
func (m *Manager) UnlockWith(ctx context.Context, ch authn.Challenger) error {
	m.mu.Lock()
	if m.cur == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	switch m.cur.State {
	case StateEnded:
		m.mu.Unlock()
		return ErrEnded
	case StateActive:
		m.mu.Unlock()
		return nil
	}
	id := m.cur.ID
	m.mu.Unlock()

	// The challenge can wait on the user; never hold the lock across it.
	if m.cfg.RequireAuthToUnlock {
		if ch == nil {
			return fmt.Errorf("%w: %w", ErrAuthFailed, authn.ErrNoAuthMethod)
		}
		res := ch.Challenge(ctx, authn.ReasonUnlock)
		if !res.Passed {
			err := res.Err
			if err == nil {
				err = errors.New(string(res.Outcome))
			}
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
	}

	m.mu.Lock()
	if m.cur == nil || m.cur.ID != id || m.cur.State != StateLocked {
		m.mu.Unlock()
		return ErrStateChanged
	}
	m.cur.State = StateActive
	m.cur.LastActivityAt = m.now()
	m.armLock(m.cfg.AutoLock)
	snap := m.cur.clone()
	m.persist(ctx, snap)
	m.mu.Unlock()

	m.logger.Info("session unlocked", "session_id", snap.ID)
	m.emit("unlock", Unlocked{base{snap}})
	return nil
}

// End terminates the session.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	if m.cur == nil {
		m.mu.Unlock()
		return ErrNoSession
	}
	if m.cur.State == StateEnded {
		m.mu.Unlock()
		return nil
	}
	snap := m.endLocked(ctx)
	m.mu.Unlock()

	m.logger.Info("session ended", "session_id", snap.ID)
	m.emit("logout", Ended{base{snap}})
	return nil
}

func (m *Manager) endLocked(ctx context.Context) Session {
	m.stopTimers()
	m.epoch++
	m.cur.State = StateEnded
	m.cur.BackgroundedAt = nil
	snap := m.cur.clone()
	m.persist(ctx, snap)
	return snap
}

// Restore reloads a persisted session after a process restart. A session
// older than the session timeout is discarded with an AutoLogout event; one
// idle longer than the auto-lock duration comes back Locked. An unreadable
// snapshot leaves no session.
func (m *Manager) Restore(ctx context.Context) (Session, bool, error) {
	var s Session
	err := m.store.GetSecureObject(ctx, securestore.KeySession, &s, m.password)
	switch {
	case errors.Is(err, securestore.ErrNotFound):
		return Session{}, false, nil
	case errors.Is(err, securestore.ErrCorrupt):
		m.logger.Warn("discarding unreadable session snapshot", "error", err)
		m.discard(ctx)
		return Session{}, false, nil
	case err != nil:
		return Session{}, false, fmt.Errorf("session: load snapshot: %w", err)
	}
	if s.ID == "" || s.UserID == "" || s.StartedAt.IsZero() {
		m.logger.Warn("discarding incomplete session snapshot")
		m.discard(ctx)
		return Session{}, false, nil
	}
	if s.State == StateEnded {
		return Session{}, false, nil
	}

	m.mu.Lock()
	now := m.now()
	m.stopTimers()
	m.epoch++
	m.cur = &s

	age := now.Sub(s.StartedAt)
	if age >= m.cfg.SessionTimeout {
		snap := m.endLocked(ctx)
		m.mu.Unlock()
		m.logger.Info("restored session expired", "session_id", snap.ID, "age", age)
		m.emit(ReasonSessionTimeout, Ended{base{snap}}, AutoLogout{base: base{snap}, Reason: ReasonSessionTimeout})
		return Session{}, false, nil
	}

	m.armExpiry(m.cfg.SessionTimeout - age)
	m.cur.BackgroundedAt = nil
	var events []Event
	if s.State == StateLocked || now.Sub(s.LastActivityAt) >= m.cfg.AutoLock {
		events = m.lockLocked(ctx, CauseRestored)
	} else {
		m.cur.State = StateActive
		m.armLock(m.cfg.AutoLock - now.Sub(s.LastActivityAt))
		m.persist(ctx, m.cur.clone())
	}
	snap := m.cur.clone()
	m.mu.Unlock()

	m.emit("", events...)
	return snap, true, nil
}

// Close stops the timers. The session itself is left as persisted.
func (m *Manager) Close() {
	m.mu.Lock()
	m.stopTimers()
	m.epoch++
	m.lockEpoch++
	m.mu.Unlock()
}

func (m *Manager) discard(ctx context.Context) {
	if err := m.store.RemoveItem(ctx, securestore.KeySession); err != nil {
		m.logger.Warn("failed to remove session snapshot", "error", err)
	}
}

// armLock (re)starts the auto-lock timer. Caller holds m.mu.
func (m *Manager) armLock(d time.Duration) {
	m.cancelLock()
	epoch := m.lockEpoch
	m.lockTimer = time.AfterFunc(max(d, 0), func() { m.onAutoLock(epoch) })
}

// cancelLock stops the auto-lock timer and invalidates a callback that has
// already fired but not yet acquired the lock. Caller holds m.mu.
func (m *Manager) cancelLock() {
	if m.lockTimer != nil {
		m.lockTimer.Stop()
		m.lockTimer = nil
	}
	m.lockEpoch++
}

// armExpiry starts the session-timeout timer. Caller holds m.mu.
func (m *Manager) armExpiry(d time.Duration) {
	epoch := m.epoch
	m.expireTimer = time.AfterFunc(max(d, 0), func() { m.onExpire(epoch) })
}

func (m *Manager) stopTimers() {
	m.cancelLock()
	if m.expireTimer != nil {
		m.expireTimer.Stop()
		m.expireTimer = nil
	}
}

func (m *Manager) onAutoLock(epoch uint64) {
	ctx := context.Background()
	m.mu.Lock()
	if epoch != m.lockEpoch || m.cur == nil || m.cur.State != StateActive {
		m.mu.Unlock()
		return
	}
	events := m.lockLocked(ctx, CauseInactivity)
	m.mu.Unlock()
	m.emit("", events...)
}

func (m *Manager) onExpire(epoch uint64) {
	ctx := context.Background()
	m.mu.Lock()
	if epoch != m.epoch || m.cur == nil || m.cur.State == StateEnded {
		m.mu.Unlock()
		return
	}
	snap := m.endLocked(ctx)
	m.mu.Unlock()

	m.logger.Info("session timed out", "session_id", snap.ID)
	m.emit(ReasonSessionTimeout, Ended{base{snap}}, AutoLogout{base: base{snap}, Reason: ReasonSessionTimeout})
}

// persist writes the snapshot. A failed write is logged; the in-memory
// transition still stands. Caller holds m.mu.
func (m *Manager) persist(ctx context.Context, s Session) {
	if err := m.store.SetSecureObject(ctx, securestore.KeySession, s, m.password); err != nil {
		m.logger.Error("failed to persist session", "session_id", s.ID, "error", err)
	}
}

// emit records transition metrics and notifies listeners in order. Locked
// events carry their own cause.
func (m *Manager) emit(cause string, events ...Event) {
	for _, ev := range events {
		switch e := ev.(type) {
		case Locked:
			metrics.SessionTransitionsTotal.WithLabelValues(string(StateLocked), string(e.Cause)).Inc()
		case Started, Unlocked, Ended:
			metrics.SessionTransitionsTotal.WithLabelValues(string(e.Snapshot().State), cause).Inc()
		}
		m.notify(ev)
	}
}

func (m *Manager) notify(ev Event) {
	m.mu.Lock()
	fns := make([]func(Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}
