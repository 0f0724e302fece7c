package webhooks

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mbd888/tiptap/internal/securestore"
)

// DefaultLedgerSize is how many event IDs are remembered.
const DefaultLedgerSize = 1000

// Ledger remembers which events were already handled.
type Ledger interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// SecureLedger keeps the most recent event IDs as one encrypted object.
type SecureLedger struct {
	store    securestore.Store
	password string
	limit    int

	mu sync.Mutex
}

// NewSecureLedger creates a ledger retaining at most limit IDs.
func NewSecureLedger(store securestore.Store, password string, limit int) *SecureLedger {
	if limit <= 0 {
		limit = DefaultLedgerSize
	}
	return &SecureLedger{store: store, password: password, limit: limit}
}

func (l *SecureLedger) Seen(ctx context.Context, eventID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(ids, eventID), nil
}

func (l *SecureLedger) Mark(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ids, err := l.load(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(ids, eventID) {
		return nil
	}
	ids = append(ids, eventID)
	if len(ids) > l.limit {
		ids = ids[len(ids)-l.limit:]
	}
	return l.store.SetSecureObject(ctx, securestore.KeyWebhookEvents, ids, l.password)
}

// load treats an unreadable ledger as empty so a corrupt object cannot
// wedge event handling.
func (l *SecureLedger) load(ctx context.Context) ([]string, error) {
	ids, err := securestore.Load[[]string](ctx, l.store, securestore.KeyWebhookEvents, l.password)
	switch {
	case errors.Is(err, securestore.ErrNotFound), errors.Is(err, securestore.ErrCorrupt):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("webhooks: load ledger: %w", err)
	}
	return ids, nil
}
