// Package session tracks the lifecycle of a single authenticated app
// session: Active, Locked, Ended.
package session

import (
	"errors"
	"time"

	"github.com/mbd888/tiptap/internal/authn"
)

var (
	ErrNoSession       = errors.New("session: no session")
	ErrNotActive       = errors.New("session: not active")
	ErrEnded           = errors.New("session: ended")
	ErrAuthFailed      = errors.New("session: authentication failed")
	ErrStateChanged    = errors.New("session: state changed during unlock")
	ErrInvalidUserID   = errors.New("session: user id is required")
	ErrInvalidDuration = errors.New("session: timeouts must be positive")
)

// State is a session lifecycle state.
type State string

const (
	StateActive State = "active"
	StateLocked State = "locked"
	StateEnded  State = "ended"
)

// LockCause says why a session was locked.
type LockCause string

const (
	CauseInactivity LockCause = "inactivity"
	CauseBackground LockCause = "background"
	CauseRestored   LockCause = "restored"
	CauseManual     LockCause = "manual"
)

// ReasonSessionTimeout is the AutoLogout reason when a session outlives its
// maximum age.
const ReasonSessionTimeout = "session_timeout"

const (
	DefaultSessionTimeout = 30 * time.Minute
	DefaultAutoLock       = 5 * time.Minute
)

// Session is a snapshot of the current session.
type Session struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	State          State      `json:"state"`
	StartedAt      time.Time  `json:"startedAt"`
	LastActivityAt time.Time  `json:"lastActivityAt"`
	BackgroundedAt *time.Time `json:"backgroundedAt,omitempty"`
}

// Active reports whether the session can execute payments.
func (s Session) Active() bool { return s.State == StateActive }

// Config holds session timing and locking behavior.
type Config struct {
	SessionTimeout      time.Duration
	AutoLock            time.Duration
	LockOnBackground    bool
	RequireAuthToUnlock bool
}

// DefaultConfig returns the default session behavior.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:      DefaultSessionTimeout,
		AutoLock:            DefaultAutoLock,
		RequireAuthToUnlock: true,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SessionTimeout <= 0 || c.AutoLock <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

// Event is a session lifecycle notification.
type Event interface {
	// Name is the wire name of the event.
	Name() string
	// Snapshot is the session after the transition.
	Snapshot() Session
}

type base struct{ Session Session }

func (b base) Snapshot() Session { return b.Session }

type (
	Started         struct{ base }
	Ended           struct{ base }
	Unlocked        struct{ base }
	ActivityUpdated struct{ base }
	Locked          struct {
		base
		Cause LockCause
	}
	AutoLogout struct {
		base
		Reason string
	}
	AuthRequired struct {
		base
		Reason authn.Reason
	}
)

func (Started) Name() string         { return "session.started" }
func (Ended) Name() string           { return "session.ended" }
func (Unlocked) Name() string        { return "session.unlocked" }
func (ActivityUpdated) Name() string { return "session.activity" }
func (Locked) Name() string          { return "session.locked" }
func (AutoLogout) Name() string      { return "session.auto_logout" }
func (AuthRequired) Name() string    { return "session.auth_required" }
