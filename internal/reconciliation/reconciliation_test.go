package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/internal/payment"
)

type mockLister struct {
	txs    []*payment.Transaction
	err    error
	cutoff time.Time
	limit  int
}

func (m *mockLister) ListAwaiting(_ context.Context, before time.Time, limit int) ([]*payment.Transaction, error) {
	m.cutoff, m.limit = before, limit
	return m.txs, m.err
}

type mockChecker map[string]payment.Result

func (m mockChecker) Status(_ context.Context, id string) payment.Result { return m[id] }

func tx(id string, status payment.Status) *payment.Transaction {
	return &payment.Transaction{ID: id, Status: status}
}

func TestRunAll_Classifies(t *testing.T) {
	lister := &mockLister{txs: []*payment.Transaction{
		tx("txn_a", payment.StatusPending),
		tx("txn_b", payment.StatusPending),
		tx("txn_c", payment.StatusPending),
		tx("txn_d", payment.StatusPending),
	}}
	checker := mockChecker{
		"txn_a": {Success: true, Transaction: tx("txn_a", payment.StatusCompleted)},
		"txn_b": {Transaction: tx("txn_b", payment.StatusFailed), Err: payment.NewError(payment.CodeCardDeclined, "declined")},
		"txn_c": {Transaction: tx("txn_c", payment.StatusPending)},
		"txn_d": {Transaction: tx("txn_d", payment.StatusPending), Err: payment.NewError(payment.CodeNetworkError, "timeout")},
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(lister, checker, logging.Discard()).
		WithClock(func() time.Time { return now }).
		WithMinAge(time.Minute).
		WithBatchSize(10)

	report, err := svc.RunAll(context.Background())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if report.Checked != 4 || report.Completed != 1 || report.Failed != 1 || report.StillPending != 1 || report.Errors != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
	if !lister.cutoff.Equal(now.Add(-time.Minute)) || lister.limit != 10 {
		t.Errorf("lister called with cutoff %v limit %d", lister.cutoff, lister.limit)
	}
}

func TestRunAll_ListError(t *testing.T) {
	svc := NewService(&mockLister{err: errors.New("db down")}, mockChecker{}, logging.Discard())
	if _, err := svc.RunAll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestTimer_StopsOnContext(t *testing.T) {
	svc := NewService(&mockLister{}, mockChecker{}, logging.Discard())
	timer := NewTimer(svc, 5*time.Millisecond, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		timer.Start(ctx)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	if !timer.Running() {
		t.Error("timer should be running")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop")
	}
	if timer.Running() {
		t.Error("timer should report stopped")
	}
}

func TestTimer_RunsImmediately(t *testing.T) {
	lister := &mockLister{}
	timer := NewTimer(NewService(lister, mockChecker{}, logging.Discard()), time.Hour, logging.Discard())

	done := make(chan struct{})
	go func() {
		timer.Start(context.Background())
		close(done)
	}()
	deadline := time.Now().Add(time.Second)
	for timer.Passes() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if timer.Passes() != 1 {
		t.Fatalf("passes = %d, want a start-up pass", timer.Passes())
	}

	timer.Stop()
	timer.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timer did not stop")
	}
}

func TestTimer_StopBeforeStart(t *testing.T) {
	timer := NewTimer(NewService(&mockLister{}, mockChecker{}, logging.Discard()), time.Hour, logging.Discard())
	timer.Stop()
	timer.Start(context.Background())
	if timer.Passes() != 0 {
		t.Fatalf("passes = %d after early stop", timer.Passes())
	}
}
