// Package circuitbreaker guards calls to payment gateways. Each gateway id
// has its own closed / open / half-open circuit.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Execute when the circuit rejects the call.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected
	StateHalfOpen              // one probe call allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "tiptap",
	Subsystem: "gateway_breaker",
	Name:      "state_transitions_total",
	Help:      "Gateway circuit state transitions by gateway, from-state, and to-state.",
}, []string{"gateway", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(transitions)
}

type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks consecutive failures per gateway and opens a gateway's
// circuit once they reach the threshold. After the cool-down one probe is
// let through; its outcome closes or re-opens the circuit.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	coolDown  time.Duration
	now       func() time.Time
	observer  func(gateway string, from, to State)
}

// New creates a breaker that opens after threshold consecutive failures
// and waits coolDown before probing.
func New(threshold int, coolDown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if coolDown <= 0 {
		coolDown = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		coolDown:  coolDown,
		now:       time.Now,
	}
}

// WithClock replaces the time source.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// OnTransition registers a callback for state changes. It runs
// synchronously with the breaker lock released.
func (b *Breaker) OnTransition(fn func(gateway string, from, to State)) {
	b.mu.Lock()
	b.observer = fn
	b.mu.Unlock()
}

// Execute runs fn if the circuit for gateway admits a call and records its
// outcome. Errors for which countable returns false (declines, validation
// failures) do not count against the gateway.
func (b *Breaker) Execute(gateway string, countable func(error) bool, fn func() error) error {
	if !b.Allow(gateway) {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil:
		b.RecordSuccess(gateway)
	case countable == nil || countable(err):
		b.RecordFailure(gateway)
	default:
		b.RecordSuccess(gateway)
	}
	return err
}

// Allow reports whether a call to gateway should proceed.
func (b *Breaker) Allow(gateway string) bool {
	b.mu.Lock()
	c, ok := b.circuits[gateway]
	if !ok {
		b.mu.Unlock()
		return true
	}

	var fire func()
	allowed := true
	switch c.state {
	case StateOpen:
		if b.now().Sub(c.openedAt) >= b.coolDown {
			fire = b.setState(c, gateway, StateHalfOpen)
		} else {
			allowed = false
		}
	case StateHalfOpen:
		allowed = false
	}
	b.mu.Unlock()

	if fire != nil {
		fire()
	}
	return allowed
}

// RecordSuccess resets the failure count and closes a half-open circuit.
func (b *Breaker) RecordSuccess(gateway string) {
	b.mu.Lock()
	c, ok := b.circuits[gateway]
	if !ok {
		b.mu.Unlock()
		return
	}
	c.failures = 0
	fire := b.setState(c, gateway, StateClosed)
	b.mu.Unlock()

	if fire != nil {
		fire()
	}
}

// RecordFailure counts a failure and opens the circuit at the threshold
// or when a half-open probe fails.
func (b *Breaker) RecordFailure(gateway string) {
	b.mu.Lock()
	c, ok := b.circuits[gateway]
	if !ok {
		c = &circuit{}
		b.circuits[gateway] = c
	}
	c.failures++

	var fire func()
	if c.state == StateHalfOpen || (c.state == StateClosed && c.failures >= b.threshold) {
		c.openedAt = b.now()
		fire = b.setState(c, gateway, StateOpen)
	}
	b.mu.Unlock()

	if fire != nil {
		fire()
	}
}

// State returns the state for gateway; unknown gateways are closed.
func (b *Breaker) State(gateway string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.circuits[gateway]; ok {
		return c.state
	}
	return StateClosed
}

// setState must be called with b.mu held. It returns the observer call to
// run after unlocking, or nil.
func (b *Breaker) setState(c *circuit, gateway string, to State) func() {
	from := c.state
	if from == to {
		return nil
	}
	c.state = to
	transitions.WithLabelValues(gateway, from.String(), to.String()).Inc()
	if b.observer == nil {
		return nil
	}
	obs := b.observer
	return func() { obs(gateway, from, to) }
}
