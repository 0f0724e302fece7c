// Package health runs the subsystem probes behind the /health endpoint.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultTimeout bounds a single probe when none is given.
const DefaultTimeout = 2 * time.Second

// Status is the outcome of one probe.
type Status struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Optional  bool   `json:"optional,omitempty"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Checker probes a subsystem. A nil error means healthy.
type Checker func(ctx context.Context) error

// Option adjusts how a probe is run.
type Option func(*probe)

// Optional marks a probe whose failure is reported without making the
// aggregate unhealthy.
func Optional() Option {
	return func(p *probe) { p.optional = true }
}

// Timeout overrides DefaultTimeout for one probe.
func Timeout(d time.Duration) Option {
	return func(p *probe) { p.timeout = d }
}

type probe struct {
	name     string
	check    Checker
	optional bool
	timeout  time.Duration
}

// Registry holds named probes and runs them on demand.
type Registry struct {
	mu     sync.RWMutex
	probes []probe
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named probe.
func (r *Registry) Register(name string, check Checker, opts ...Option) {
	p := probe{name: name, check: check, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&p)
	}
	r.mu.Lock()
	r.probes = append(r.probes, p)
	r.mu.Unlock()
}

// CheckAll runs every probe concurrently. The aggregate is healthy when no
// required probe failed. Statuses keep registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	probes := make([]probe, len(r.probes))
	copy(probes, r.probes)
	r.mu.RUnlock()

	statuses = make([]Status, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			statuses[i] = p.run(ctx)
		}()
	}
	wg.Wait()

	healthy = true
	for _, st := range statuses {
		if !st.Healthy && !st.Optional {
			healthy = false
		}
	}
	return healthy, statuses
}

func (p probe) run(ctx context.Context) (st Status) {
	st = Status{Name: p.name, Optional: p.optional}
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- p.check(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	st.LatencyMS = time.Since(start).Milliseconds()
	if err != nil {
		st.Detail = err.Error()
		return st
	}
	st.Healthy = true
	return st
}
