// Package device resolves the device fingerprint used for fraud scoring
// and secure-store key binding.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mbd888/tiptap/internal/securestore"
)

// Fingerprint is a snapshot of device identity signals. Empty fields mean
// the platform did not report them.
type Fingerprint struct {
	DeviceID      string `json:"deviceId"`
	Brand         string `json:"brand,omitempty"`
	Model         string `json:"model,omitempty"`
	SystemVersion string `json:"systemVersion,omitempty"`
	BuildID       string `json:"buildId,omitempty"`
	UserAgent     string `json:"userAgent,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
	Locale        string `json:"locale,omitempty"`
	IsEmulator    bool   `json:"isEmulator"`
}

// Drift lists the identity fields (device id, build id, system version)
// that differ between prev and cur. A field missing on either side is not
// compared.
func Drift(prev, cur Fingerprint) []string {
	var changed []string
	cmp := func(name, a, b string) {
		if a != "" && b != "" && a != b {
			changed = append(changed, name)
		}
	}
	cmp("deviceId", prev.DeviceID, cur.DeviceID)
	cmp("buildId", prev.BuildID, cur.BuildID)
	cmp("systemVersion", prev.SystemVersion, cur.SystemVersion)
	return changed
}

// InfoProvider is the device-info capability supplied by the native shell.
type InfoProvider interface {
	Fingerprint(ctx context.Context) (Fingerprint, error)
}

// Static is an InfoProvider returning a fixed fingerprint.
type Static Fingerprint

func (s Static) Fingerprint(context.Context) (Fingerprint, error) { return Fingerprint(s), nil }

// Identity caches the current fingerprint for the life of the process and
// remembers the one persisted by the previous launch. A failed read is not
// cached; the next call asks the provider again.
type Identity struct {
	provider InfoProvider
	store    securestore.Store
	password string
	logger   *slog.Logger

	mu       sync.Mutex
	loaded   bool
	current  Fingerprint
	previous *Fingerprint
}

// NewIdentity creates an Identity. Nothing is read until first use.
func NewIdentity(provider InfoProvider, store securestore.Store, password string, logger *slog.Logger) *Identity {
	return &Identity{provider: provider, store: store, password: password, logger: logger}
}

func (id *Identity) load(ctx context.Context) error {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.loaded {
		return nil
	}

	fp, err := id.provider.Fingerprint(ctx)
	if err != nil {
		return fmt.Errorf("device: read fingerprint: %w", err)
	}

	prev, err := securestore.Load[Fingerprint](ctx, id.store, securestore.KeyFingerprint, id.password)
	switch {
	case err == nil:
		id.previous = &prev
	case errors.Is(err, securestore.ErrNotFound):
	default:
		id.logger.Warn("stored device fingerprint unreadable", "error", err)
	}

	if err := id.store.SetSecureObject(ctx, securestore.KeyFingerprint, fp, id.password); err != nil {
		id.logger.Warn("failed to persist device fingerprint", "error", err)
	}
	id.current = fp
	id.loaded = true
	return nil
}

// Current returns the fingerprint for this process.
func (id *Identity) Current(ctx context.Context) (Fingerprint, error) {
	if err := id.load(ctx); err != nil {
		return Fingerprint{}, err
	}
	id.mu.Lock()
	defer id.mu.Unlock()
	return id.current, nil
}

// Previous returns the fingerprint persisted by the last launch, or nil on
// first launch.
func (id *Identity) Previous(ctx context.Context) (*Fingerprint, error) {
	if err := id.load(ctx); err != nil {
		return nil, err
	}
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.previous == nil {
		return nil, nil
	}
	p := *id.previous
	return &p, nil
}
