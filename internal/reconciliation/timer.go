package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is how often the timer polls.
const DefaultInterval = time.Minute

// Timer drives reconciliation passes: one at start-up, so payments left
// pending by a previous process resolve promptly, then one per interval.
type Timer struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	passes   atomic.Int64
}

// NewTimer creates a reconciliation timer.
func NewTimer(service *Service, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Timer{
		service:  service,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the loop is active.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Passes returns how many passes have run.
func (t *Timer) Passes() int64 {
	return t.passes.Load()
}

// Start runs the loop until ctx is done or Stop is called. Call in a
// goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	select {
	case <-t.stop:
		return
	default:
	}
	t.pass(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.pass(ctx)
		}
	}
}

// Stop ends the loop. It is safe to call more than once and before Start.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Timer) pass(ctx context.Context) {
	defer t.passes.Add(1)
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reconciliation pass", "panic", fmt.Sprint(r))
		}
	}()

	report, err := t.service.RunAll(ctx)
	if err != nil {
		t.logger.Warn("reconciliation pass failed", "error", err)
		return
	}
	if report.Completed+report.Failed > 0 {
		t.logger.Info("reconciled awaiting payments",
			"checked", report.Checked,
			"completed", report.Completed,
			"failed", report.Failed,
			"still_pending", report.StillPending,
		)
	}
}
