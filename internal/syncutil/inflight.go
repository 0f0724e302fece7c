package syncutil

import "sync"

// InFlight admits at most one operation per key at a time. Unlike a mutex
// it never waits: a second caller for a busy key is turned away.
type InFlight struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

// NewInFlight returns an empty guard.
func NewInFlight() *InFlight {
	return &InFlight{busy: make(map[string]struct{})}
}

// TryAcquire marks key busy. ok is false when another caller already holds
// it; otherwise release must be called when the operation finishes.
func (f *InFlight) TryAcquire(key string) (release func(), ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.busy[key]; held {
		return nil, false
	}
	f.busy[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.busy, key)
			f.mu.Unlock()
		})
	}, true
}

// Busy reports whether key is currently held.
func (f *InFlight) Busy(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, held := f.busy[key]
	return held
}
