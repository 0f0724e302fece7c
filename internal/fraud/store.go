package fraud

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mbd888/tiptap/internal/securestore"
)

// Store holds the fraud subsystem's shared state: the rolling attempt
// history, the blocked-device list and an optional config override.
// Appends and block-list updates must never drop concurrent writes;
// readers may observe a slightly stale snapshot.
type Store interface {
	History(ctx context.Context) ([]Attempt, error)
	AppendHistory(ctx context.Context, a Attempt) error
	BlockedDevices(ctx context.Context) (BlockedSet, error)
	BlockDevice(ctx context.Context, deviceID string) error
	UnblockDevice(ctx context.Context, deviceID string) error
	ConfigOverride(ctx context.Context) (*Config, error) // nil when unset
	SaveConfig(ctx context.Context, cfg Config) error
}

// SecureStore keeps fraud state as encrypted objects in a securestore.
// Read-modify-write cycles are serialized in process.
type SecureStore struct {
	store    securestore.Store
	password string
	limit    int

	mu sync.Mutex
}

// NewSecureStore creates a Store that retains at most limit attempts.
func NewSecureStore(store securestore.Store, password string, limit int) *SecureStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &SecureStore{store: store, password: password, limit: limit}
}

func (s *SecureStore) History(ctx context.Context) ([]Attempt, error) {
	return loadOrEmpty[[]Attempt](ctx, s.store, securestore.KeyFraudHistory, s.password)
}

func (s *SecureStore) AppendHistory(ctx context.Context, a Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := loadOrEmpty[[]Attempt](ctx, s.store, securestore.KeyFraudHistory, s.password)
	if err != nil && !errors.Is(err, securestore.ErrCorrupt) {
		return err
	}
	history = append(history, a)
	if len(history) > s.limit {
		history = history[len(history)-s.limit:]
	}
	return s.store.SetSecureObject(ctx, securestore.KeyFraudHistory, history, s.password)
}

func (s *SecureStore) BlockedDevices(ctx context.Context) (BlockedSet, error) {
	ids, err := loadOrEmpty[[]string](ctx, s.store, securestore.KeyBlockedDevices, s.password)
	if err != nil {
		return nil, err
	}
	return NewBlockedSet(ids...), nil
}

func (s *SecureStore) BlockDevice(ctx context.Context, deviceID string) error {
	return s.updateBlocked(ctx, func(ids []string) []string {
		if slices.Contains(ids, deviceID) {
			return ids
		}
		return append(ids, deviceID)
	})
}

func (s *SecureStore) UnblockDevice(ctx context.Context, deviceID string) error {
	return s.updateBlocked(ctx, func(ids []string) []string {
		return slices.DeleteFunc(ids, func(id string) bool { return id == deviceID })
	})
}

func (s *SecureStore) updateBlocked(ctx context.Context, fn func([]string) []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := loadOrEmpty[[]string](ctx, s.store, securestore.KeyBlockedDevices, s.password)
	if err != nil {
		return err
	}
	return s.store.SetSecureObject(ctx, securestore.KeyBlockedDevices, fn(ids), s.password)
}

func (s *SecureStore) ConfigOverride(ctx context.Context) (*Config, error) {
	cfg, err := securestore.Load[Config](ctx, s.store, securestore.KeyFraudConfig, s.password)
	if errors.Is(err, securestore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SecureStore) SaveConfig(ctx context.Context, cfg Config) error {
	return s.store.SetSecureObject(ctx, securestore.KeyFraudConfig, cfg, s.password)
}

// loadOrEmpty treats a missing object as the zero value. A corrupt history
// is also reported so AppendHistory can start over instead of failing
// forever.
func loadOrEmpty[T any](ctx context.Context, store securestore.Store, key, password string) (T, error) {
	v, err := securestore.Load[T](ctx, store, key, password)
	if errors.Is(err, securestore.ErrNotFound) {
		var zero T
		return zero, nil
	}
	if err != nil {
		var zero T
		return zero, fmt.Errorf("fraud: load %s: %w", key, err)
	}
	return v, nil
}

// MemoryStore is an in-memory Store for tests and ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	history []Attempt
	blocked BlockedSet
	config  *Config
	limit   int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &MemoryStore{blocked: BlockedSet{}, limit: limit}
}

func (m *MemoryStore) History(context.Context) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history), nil
}

func (m *MemoryStore) AppendHistory(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, a)
	if len(m.history) > m.limit {
		m.history = slices.Clone(m.history[len(m.history)-m.limit:])
	}
	return nil
}

func (m *MemoryStore) BlockedDevices(context.Context) (BlockedSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(BlockedSet, len(m.blocked))
	for id := range m.blocked {
		out[id] = struct{}{}
	}
	return out, nil
}

func (m *MemoryStore) BlockDevice(_ context.Context, deviceID string) error {
	m.mu.Lock()
	m.blocked[deviceID] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) UnblockDevice(_ context.Context, deviceID string) error {
	m.mu.Lock()
	delete(m.blocked, deviceID)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ConfigOverride(context.Context) (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil, nil
	}
	c := *m.config
	return &c, nil
}

func (m *MemoryStore) SaveConfig(_ context.Context, cfg Config) error {
	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}
