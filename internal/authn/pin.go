package authn

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/mbd888/tiptap/internal/metrics"
	"github.com/mbd888/tiptap/internal/securestore"
)

const (
	DefaultPINLength      = 6
	DefaultPINMaxAttempts = 5
	DefaultPINLockout     = 30 * time.Minute

	pinIterations = 10000
	pinSaltLen    = 16
	pinHashLen    = 32
)

// PINConfig controls PIN format and lockout.
type PINConfig struct {
	Length         int
	MaxAttempts    int
	Lockout        time.Duration
	RequireComplex bool
}

// DefaultPINConfig returns the production PIN policy.
func DefaultPINConfig() PINConfig {
	return PINConfig{
		Length:         DefaultPINLength,
		MaxAttempts:    DefaultPINMaxAttempts,
		Lockout:        DefaultPINLockout,
		RequireComplex: true,
	}
}

// PINResult is the outcome of one PIN validation.
type PINResult struct {
	Valid             bool       `json:"valid"`
	AttemptsRemaining int        `json:"attemptsRemaining"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
}

// PINStatus summarizes PIN state without consuming an attempt.
type PINStatus struct {
	Set               bool       `json:"set"`
	AttemptsRemaining int        `json:"attemptsRemaining"`
	LockedUntil       *time.Time `json:"lockedUntil,omitempty"`
}

type pinRecord struct {
	Hash       []byte    `json:"hash"`
	Salt       []byte    `json:"salt"`
	Iterations int       `json:"iterations"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Attempts live under their own key so removing or replacing the PIN cannot
// be used to clear an active lockout.
type pinAttempts struct {
	Failed      int        `json:"failed"`
	LockedUntil *time.Time `json:"lockedUntil,omitempty"`
}

// PINAuthenticator stores a salted PIN hash in the secure store and enforces
// attempt limits across restarts.
type PINAuthenticator struct {
	mu       sync.Mutex
	store    securestore.Store
	password string
	deviceID string
	cfg      PINConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewPINAuthenticator creates a PIN authenticator bound to deviceID.
func NewPINAuthenticator(store securestore.Store, password, deviceID string, cfg PINConfig, logger *slog.Logger) *PINAuthenticator {
	if cfg.Length <= 0 {
		cfg.Length = DefaultPINLength
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultPINMaxAttempts
	}
	if cfg.Lockout <= 0 {
		cfg.Lockout = DefaultPINLockout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PINAuthenticator{
		store:    store,
		password: password,
		deviceID: deviceID,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source.
func (p *PINAuthenticator) WithClock(now func() time.Time) *PINAuthenticator {
	p.now = now
	return p
}

// CheckFormat reports whether pin satisfies the configured format.
func (p *PINAuthenticator) CheckFormat(pin string) error {
	if len(pin) != p.cfg.Length {
		return fmt.Errorf("%w: must be %d digits", ErrInvalidPINFormat, p.cfg.Length)
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return fmt.Errorf("%w: digits only", ErrInvalidPINFormat)
		}
	}
	if p.cfg.RequireComplex && isTrivialPIN(pin) {
		return fmt.Errorf("%w: sequential or repeated digits", ErrInvalidPINFormat)
	}
	return nil
}

// isTrivialPIN rejects 123456, 654321 and 111111 style PINs.
func isTrivialPIN(pin string) bool {
	asc, desc, same := true, true, true
	for i := 1; i < len(pin); i++ {
		d := int(pin[i]) - int(pin[i-1])
		asc = asc && d == 1
		desc = desc && d == -1
		same = same && d == 0
	}
	return asc || desc || same
}

// Setup stores a new PIN. confirm must match pin.
func (p *PINAuthenticator) Setup(ctx context.Context, pin, confirm string) error {
	if pin != confirm {
		return ErrPINMismatch
	}
	if err := p.CheckFormat(pin); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(ctx, pin)
}

func (p *PINAuthenticator) write(ctx context.Context, pin string) error {
	salt := make([]byte, pinSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("authn: generate salt: %w", err)
	}
	rec := pinRecord{
		Hash:       p.hash(pin, salt, pinIterations),
		Salt:       salt,
		Iterations: pinIterations,
		CreatedAt:  p.now().UTC(),
	}
	if err := p.store.SetSecureObject(ctx, securestore.KeyPIN, rec, p.password); err != nil {
		return fmt.Errorf("authn: store PIN: %w", err)
	}
	return nil
}

func (p *PINAuthenticator) hash(pin string, salt []byte, iterations int) []byte {
	full := make([]byte, 0, len(salt)+len(p.deviceID))
	full = append(full, salt...)
	full = append(full, p.deviceID...)
	return pbkdf2.Key([]byte(pin), full, iterations, pinHashLen, sha256.New)
}

// Validate checks pin and consumes one attempt on failure. It returns
// ErrPINLockedOut without checking while a lockout is active, and
// ErrPINNotSet when no PIN exists.
func (p *PINAuthenticator) Validate(ctx context.Context, pin string) (PINResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	att, err := p.attempts(ctx)
	if err != nil {
		return PINResult{}, err
	}
	if att.LockedUntil != nil {
		return PINResult{LockedUntil: att.LockedUntil}, ErrPINLockedOut
	}

	rec, err := securestore.Load[pinRecord](ctx, p.store, securestore.KeyPIN, p.password)
	if errors.Is(err, securestore.ErrNotFound) {
		return PINResult{}, ErrPINNotSet
	}
	if err != nil {
		return PINResult{}, fmt.Errorf("authn: load PIN: %w", err)
	}

	iterations := rec.Iterations
	if iterations <= 0 {
		iterations = pinIterations
	}
	if subtle.ConstantTimeCompare(p.hash(pin, rec.Salt, iterations), rec.Hash) == 1 {
		if att.Failed > 0 {
			if err := p.store.RemoveItem(ctx, securestore.KeyPINAttempts); err != nil {
				return PINResult{}, fmt.Errorf("authn: reset attempts: %w", err)
			}
		}
		return PINResult{Valid: true, AttemptsRemaining: p.cfg.MaxAttempts}, nil
	}

	att.Failed++
	if att.Failed >= p.cfg.MaxAttempts {
		until := p.now().Add(p.cfg.Lockout).UTC()
		att.LockedUntil = &until
		metrics.PINLockoutsTotal.Inc()
		p.logger.Warn("PIN locked out", "attempts", att.Failed, "until", until)
	}
	if err := p.store.SetSecureObject(ctx, securestore.KeyPINAttempts, att, p.password); err != nil {
		return PINResult{}, fmt.Errorf("authn: persist attempts: %w", err)
	}
	return PINResult{
		AttemptsRemaining: max(p.cfg.MaxAttempts-att.Failed, 0),
		LockedUntil:       att.LockedUntil,
	}, nil
}

// attempts loads the failure counter, clearing a lockout that has expired.
func (p *PINAuthenticator) attempts(ctx context.Context) (pinAttempts, error) {
	att, err := securestore.Load[pinAttempts](ctx, p.store, securestore.KeyPINAttempts, p.password)
	switch {
	case errors.Is(err, securestore.ErrNotFound):
		return pinAttempts{}, nil
	case errors.Is(err, securestore.ErrCorrupt):
		// Fail safe: an unreadable counter is a full lockout window.
		until := p.now().Add(p.cfg.Lockout).UTC()
		p.logger.Warn("PIN attempt counter unreadable, locking", "until", until)
		locked := pinAttempts{Failed: p.cfg.MaxAttempts, LockedUntil: &until}
		if err := p.store.SetSecureObject(ctx, securestore.KeyPINAttempts, locked, p.password); err != nil {
			return pinAttempts{}, fmt.Errorf("authn: persist attempts: %w", err)
		}
		return locked, nil
	case err != nil:
		return pinAttempts{}, fmt.Errorf("authn: load attempts: %w", err)
	}
	if att.LockedUntil != nil && !p.now().Before(*att.LockedUntil) {
		if err := p.store.RemoveItem(ctx, securestore.KeyPINAttempts); err != nil {
			return pinAttempts{}, fmt.Errorf("authn: clear lockout: %w", err)
		}
		return pinAttempts{}, nil
	}
	return att, nil
}

// verify validates current and maps a wrong PIN to ErrIncorrectPIN.
func (p *PINAuthenticator) verify(ctx context.Context, current string) error {
	res, err := p.Validate(ctx, current)
	if err != nil {
		return err
	}
	if !res.Valid {
		if res.LockedUntil != nil {
			return ErrPINLockedOut
		}
		return ErrIncorrectPIN
	}
	return nil
}

// Change replaces the PIN after verifying current.
func (p *PINAuthenticator) Change(ctx context.Context, current, pin, confirm string) error {
	if pin != confirm {
		return ErrPINMismatch
	}
	if err := p.CheckFormat(pin); err != nil {
		return err
	}
	if err := p.verify(ctx, current); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.write(ctx, pin)
}

// Remove deletes the PIN after verifying current.
func (p *PINAuthenticator) Remove(ctx context.Context, current string) error {
	if err := p.verify(ctx, current); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.store.RemoveItem(ctx, securestore.KeyPIN); err != nil {
		return fmt.Errorf("authn: remove PIN: %w", err)
	}
	return nil
}

// IsSet reports whether a PIN has been configured.
func (p *PINAuthenticator) IsSet(ctx context.Context) (bool, error) {
	var rec pinRecord
	err := p.store.GetSecureObject(ctx, securestore.KeyPIN, &rec, p.password)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, securestore.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("authn: load PIN: %w", err)
	}
}

// Status reports PIN state without consuming an attempt.
func (p *PINAuthenticator) Status(ctx context.Context) (PINStatus, error) {
	set, err := p.IsSet(ctx)
	if err != nil {
		return PINStatus{}, err
	}
	p.mu.Lock()
	att, err := p.attempts(ctx)
	p.mu.Unlock()
	if err != nil {
		return PINStatus{}, err
	}
	return PINStatus{
		Set:               set,
		AttemptsRemaining: max(p.cfg.MaxAttempts-att.Failed, 0),
		LockedUntil:       att.LockedUntil,
	}, nil
}
