package securestore

import (
	"context"
	"sync"
)

// MemoryBackend keeps blobs in process memory.
type MemoryBackend struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{blobs: make(map[string][]byte)}
}

func (m *MemoryBackend) Put(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), blob...)
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

// Corrupt overwrites the blob under key. Tests use it to simulate damaged
// storage.
func (m *MemoryBackend) Corrupt(key string, blob []byte) {
	m.mu.Lock()
	m.blobs[key] = blob
	m.mu.Unlock()
}
