// Package syncutil holds the per-key concurrency guards shared by the
// payment core.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 128

// KeyedMutex serializes work per key using a bounded pool of channel
// locks. Keys that hash to the same shard share a lock.
type KeyedMutex struct {
	shards [shardCount]chan struct{}
}

// NewKeyedMutex returns an unlocked KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	m := &KeyedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
	}
	return m
}

// Lock acquires the lock for key, giving up when ctx is done. The returned
// function releases it and must be called exactly once.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	ch := m.shards[shardOf(key)]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardOf(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
