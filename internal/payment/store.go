package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/tiptap/internal/pagination"
)

// Store persists transactions.
type Store interface {
	// Create inserts tx. A reused idempotency key returns ErrDuplicateKey.
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)
	// Update writes the mutable fields of tx if its stored status is still
	// expected, returning ErrStatusConflict otherwise. Moving from expected to
	// tx.Status must be a legal transition or ErrInvalidTransition is returned.
	Update(ctx context.Context, tx *Transaction, expected Status) error
	// ListRefunds returns refunds of originalID, oldest first.
	ListRefunds(ctx context.Context, originalID string) ([]*Transaction, error)
	// ListAwaiting returns Pending transactions submitted before the cutoff.
	ListAwaiting(ctx context.Context, submittedBefore time.Time, limit int) ([]*Transaction, error)
	// ListByMerchant returns a merchant's transactions, newest first.
	ListByMerchant(ctx context.Context, merchantID string, limit int, cursor *pagination.Cursor) ([]*Transaction, error)
}

// checkTransition guards every store update. Rewriting a transaction in
// place without changing its status is always allowed.
func checkTransition(expected, next Status) error {
	if expected == next || CanTransition(expected, next) {
		return nil
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, expected, next)
}
