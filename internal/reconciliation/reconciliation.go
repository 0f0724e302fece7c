// Package reconciliation settles transactions the gateway accepted but did
// not confirm, by polling their status until they complete or fail.
package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/tiptap/internal/payment"
)

const (
	DefaultMinAge    = 30 * time.Second
	DefaultBatchSize = 100
)

// AwaitingLister lists transactions awaiting gateway confirmation.
type AwaitingLister interface {
	ListAwaiting(ctx context.Context, submittedBefore time.Time, limit int) ([]*payment.Transaction, error)
}

// StatusChecker refreshes one transaction from its gateway.
type StatusChecker interface {
	Status(ctx context.Context, id string) payment.Result
}

// Report summarizes one reconciliation pass.
type Report struct {
	Checked      int           `json:"checked"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	StillPending int           `json:"stillPending"`
	Errors       int           `json:"errors"`
	Duration     time.Duration `json:"duration"`
}

// Service polls awaiting transactions.
type Service struct {
	lister  AwaitingLister
	checker StatusChecker
	minAge  time.Duration
	batch   int
	logger  *slog.Logger
	now     func() time.Time
}

// NewService creates a reconciliation service.
func NewService(lister AwaitingLister, checker StatusChecker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		lister:  lister,
		checker: checker,
		minAge:  DefaultMinAge,
		batch:   DefaultBatchSize,
		logger:  logger,
		now:     time.Now,
	}
}

// WithMinAge skips transactions submitted less than d ago.
func (s *Service) WithMinAge(d time.Duration) *Service {
	s.minAge = d
	return s
}

// WithBatchSize bounds how many transactions one pass checks.
func (s *Service) WithBatchSize(n int) *Service {
	if n > 0 {
		s.batch = n
	}
	return s
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RunAll checks one batch of awaiting transactions. A failed status lookup
// is counted and the pass continues.
func (s *Service) RunAll(ctx context.Context) (*Report, error) {
	start := time.Now()
	defer func() { reconcileDuration.Observe(time.Since(start).Seconds()) }()

	awaiting, err := s.lister.ListAwaiting(ctx, s.now().Add(-s.minAge), s.batch)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("list awaiting transactions: %w", err)
	}
	reconcileAwaiting.Set(float64(len(awaiting)))

	report := &Report{}
	for _, tx := range awaiting {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		res := s.checker.Status(ctx, tx.ID)
		switch {
		case res.Transaction != nil && res.Transaction.Status == payment.StatusCompleted:
			report.Completed++
			reconcileResolved.WithLabelValues(string(payment.StatusCompleted)).Inc()
		case res.Transaction != nil && res.Transaction.Status == payment.StatusFailed:
			report.Failed++
			reconcileResolved.WithLabelValues(string(payment.StatusFailed)).Inc()
		case res.Err != nil:
			report.Errors++
			reconcileErrors.Inc()
			s.logger.Warn("status lookup failed", "transaction_id", tx.ID, "error", res.Err)
		default:
			report.StillPending++
		}
	}
	report.Duration = time.Since(start)

	if report.Checked > 0 {
		s.logger.Info("reconciliation pass",
			"checked", report.Checked,
			"completed", report.Completed,
			"failed", report.Failed,
			"still_pending", report.StillPending,
			"errors", report.Errors,
		)
	}
	return report, nil
}
