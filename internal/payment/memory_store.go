package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mbd888/tiptap/internal/pagination"
)

// MemoryStore is an in-memory transaction store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	byID  map[string]*Transaction
	byKey map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:  make(map[string]*Transaction),
		byKey: make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[tx.IdempotencyKey]; ok {
		return ErrDuplicateKey
	}
	if _, ok := m.byID[tx.ID]; ok {
		return ErrDuplicateKey
	}
	m.byID[tx.ID] = tx.Clone()
	m.byKey[tx.IdempotencyKey] = tx.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tx.Clone(), nil
}

func (m *MemoryStore) GetByIdempotencyKey(_ context.Context, key string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return m.byID[id].Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, tx *Transaction, expected Status) error {
	if err := checkTransition(expected, tx.Status); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.byID[tx.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expected {
		return ErrStatusConflict
	}
	next := tx.Clone()
	// Immutable after creation.
	next.Amount = cur.Amount
	next.Currency = cur.Currency
	next.IdempotencyKey = cur.IdempotencyKey
	next.CreatedAt = cur.CreatedAt
	m.byID[tx.ID] = next
	return nil
}

func (m *MemoryStore) ListRefunds(_ context.Context, originalID string) ([]*Transaction, error) {
	return m.filter(func(t *Transaction) bool {
		return t.Type == TypeRefund && t.OriginalTransactionID == originalID
	}, func(a, b *Transaction) bool { return a.CreatedAt.Before(b.CreatedAt) }, 0), nil
}

func (m *MemoryStore) ListAwaiting(_ context.Context, submittedBefore time.Time, limit int) ([]*Transaction, error) {
	return m.filter(func(t *Transaction) bool {
		return t.AwaitingConfirmation() && t.SubmittedAt.Before(submittedBefore)
	}, func(a, b *Transaction) bool { return a.SubmittedAt.Before(*b.SubmittedAt) }, limit), nil
}

func (m *MemoryStore) ListByMerchant(_ context.Context, merchantID string, limit int, cursor *pagination.Cursor) ([]*Transaction, error) {
	return m.filter(func(t *Transaction) bool {
		return t.MerchantID == merchantID && cursor.After(t.CreatedAt, t.ID)
	}, newestFirst, limit), nil
}

func newestFirst(a, b *Transaction) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}

func (m *MemoryStore) filter(keep func(*Transaction) bool, less func(a, b *Transaction) bool, limit int) []*Transaction {
	m.mu.RLock()
	var out []*Transaction
	for _, t := range m.byID {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
