package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mbd888/tiptap/internal/circuitbreaker"
	"github.com/mbd888/tiptap/internal/idgen"
	"github.com/mbd888/tiptap/internal/logging"
	"github.com/mbd888/tiptap/internal/metrics"
	"github.com/mbd888/tiptap/internal/pagination"
	"github.com/mbd888/tiptap/internal/retry"
	"github.com/mbd888/tiptap/internal/syncutil"
	"github.com/mbd888/tiptap/internal/tip"
	"github.com/mbd888/tiptap/internal/traces"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 10 * time.Second
)

// DefaultRetryPolicy is the gateway backoff schedule: 1s doubling with
// jitter, three attempts.
func DefaultRetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, MaxDelay: DefaultMaxDelay}
}

// TipOptions asks Process to add a tip on top of the request amount.
type TipOptions struct {
	Percentage   decimal.Decimal  `json:"percentage"`
	CustomAmount *decimal.Decimal `json:"customAmount,omitempty"`
	Rounding     tip.Rounding     `json:"rounding,omitempty"`
}

// Request is a payment to process. TransactionID and IdempotencyKey are
// generated when empty; the key defaults to the transaction id.
type Request struct {
	TransactionID  string            `json:"transactionId,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	GatewayID      string            `json:"gatewayId"`
	Type           Type              `json:"type,omitempty"`
	Method         Method            `json:"method"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	MerchantID     string            `json:"merchantId"`
	CustomerID     string            `json:"customerId,omitempty"`
	Description    string            `json:"description,omitempty"`
	PaymentToken   string            `json:"paymentToken,omitempty"`
	Tip            *TipOptions       `json:"tip,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// RefundRequest refunds a completed transaction. A nil Amount refunds
// whatever has not been refunded yet.
type RefundRequest struct {
	TransactionID  string           `json:"transactionId"`
	Amount         *decimal.Decimal `json:"amount,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey,omitempty"`
}

// Result is the outcome of an orchestrator operation. Success is true only
// when the transaction reached Completed (or, for Cancel, Cancelled).
type Result struct {
	Success     bool          `json:"success"`
	Transaction *Transaction  `json:"transaction,omitempty"`
	Err         *PaymentError `json:"error,omitempty"`
}

func failed(err *PaymentError, tx *Transaction) Result {
	return Result{Transaction: tx, Err: err}
}

type registered struct {
	gateway Gateway
	adapter Adapter
}

// Orchestrator creates transactions and drives them through gateways.
type Orchestrator struct {
	mu       sync.RWMutex
	gateways map[string]registered

	store   Store
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
	locks   *syncutil.KeyedMutex
	logger  *slog.Logger
	now     func() time.Time
}

// NewOrchestrator creates an orchestrator over store.
func NewOrchestrator(store Store, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gateways: make(map[string]registered),
		store:    store,
		policy:   DefaultRetryPolicy(),
		locks:    syncutil.NewKeyedMutex(),
		logger:   logger,
		now:      time.Now,
	}
}

// WithRetryPolicy replaces the gateway backoff schedule. The classifier is
// always the orchestrator's own.
func (o *Orchestrator) WithRetryPolicy(p retry.Policy) *Orchestrator {
	o.policy = p
	return o
}

// WithCircuitBreaker guards each gateway with b.
func (o *Orchestrator) WithCircuitBreaker(b *circuitbreaker.Breaker) *Orchestrator {
	o.breaker = b
	return o
}

// WithClock overrides the time source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Register makes a gateway available under its ID.
func (o *Orchestrator) Register(gw Gateway, adapter Adapter) error {
	if err := gw.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	o.gateways[gw.ID] = registered{gateway: gw, adapter: adapter}
	o.mu.Unlock()
	return nil
}

// Gateways lists the registered gateways.
func (o *Orchestrator) Gateways() []Gateway {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Gateway, 0, len(o.gateways))
	for _, r := range o.gateways {
		out = append(out, r.gateway)
	}
	return out
}

// resolve finds and validates a gateway. Every failure is INVALID_GATEWAY.
func (o *Orchestrator) resolve(ctx context.Context, id string) (Gateway, Adapter, *PaymentError) {
	o.mu.RLock()
	r, ok := o.gateways[id]
	o.mu.RUnlock()
	if !ok {
		return Gateway{}, nil, NewError(CodeInvalidGateway, "gateway %q is not configured", id)
	}
	if err := r.gateway.Validate(); err != nil {
		return Gateway{}, nil, Wrap(CodeInvalidGateway, err)
	}
	if err := r.adapter.ValidateGateway(ctx, r.gateway); err != nil {
		return Gateway{}, nil, Wrap(CodeInvalidGateway, err)
	}
	return r.gateway, r.adapter, nil
}

// Process charges a payment. A request whose idempotency key was already
// used returns the existing transaction without calling the gateway again,
// unless that transaction never reached the gateway.
func (o *Orchestrator) Process(ctx context.Context, req Request) Result {
	ctx, span := traces.StartSpan(ctx, "payment.Process",
		traces.GatewayID(req.GatewayID), traces.Amount(req.Amount.String()))
	defer span.End()

	res := o.process(ctx, req)
	if res.Err != nil {
		traces.Fail(span, res.Err)
	}
	if res.Transaction != nil {
		span.SetAttributes(traces.TransactionID(res.Transaction.ID))
		metrics.TransactionsTotal.WithLabelValues(string(res.Transaction.Type), string(res.Transaction.Status)).Inc()
	}
	return res
}

func (o *Orchestrator) process(ctx context.Context, req Request) Result {
	if !req.Amount.IsPositive() {
		return failed(NewError(CodeInvalidAmount, "amount must be positive"), nil)
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return failed(NewError(CodeInvalidCurrency, "currency %q is not an ISO 4217 code", req.Currency), nil)
	}
	if req.Method != "" && !req.Method.Valid() {
		return failed(NewError(CodeInvalidPaymentMethod, "unknown payment method %q", req.Method), nil)
	}
	gw, adapter, perr := o.resolve(ctx, req.GatewayID)
	if perr != nil {
		return failed(perr, nil)
	}
	if !gw.SupportsCurrency(currency) {
		return failed(NewError(CodeInvalidGateway, "gateway %s does not support %s", gw.ID, currency), nil)
	}

	amount := req.Amount
	var calc *tip.Calculation
	if req.Tip != nil {
		c, err := tip.Calculate(tip.Input{
			BaseAmount:      req.Amount,
			TipPercentage:   req.Tip.Percentage,
			CustomTipAmount: req.Tip.CustomAmount,
			Currency:        currency,
			Rounding:        req.Tip.Rounding,
		})
		if err != nil {
			return failed(Wrap(CodeInvalidAmount, err), nil)
		}
		calc = &c
		amount = c.TotalAmount
	}

	id := req.TransactionID
	if id == "" {
		id = idgen.WithPrefix(idgen.PrefixTransaction)
	}
	key := req.IdempotencyKey
	if key == "" {
		key = id
	}

	unlock, err := o.locks.Lock(ctx, key)
	if err != nil {
		return failed(AsPaymentError(err), nil)
	}
	defer unlock()

	tx, err := o.store.GetByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		if tx.Status != StatusPending || tx.SubmittedAt != nil {
			logging.L(ctx).Info("idempotent replay", "transaction_id", tx.ID, "status", tx.Status)
			return o.settled(tx)
		}
		// Created but never confirmed by the gateway; resume with the same key.
	case errors.Is(err, ErrNotFound):
		now := o.now().UTC()
		typ := req.Type
		if typ == "" {
			typ = TypeTip
		}
		tx = &Transaction{
			ID:             id,
			IdempotencyKey: key,
			Type:           typ,
			Method:         req.Method,
			Status:         StatusPending,
			Amount:         amount,
			Currency:       currency,
			MerchantID:     req.MerchantID,
			CustomerID:     req.CustomerID,
			GatewayID:      gw.ID,
			Metadata:       copyMeta(req.Metadata),
			Tip:            calc,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if calc != nil {
			tx.setMeta(MetaOriginalAmount, req.Amount.String())
		}
		if err := o.store.Create(ctx, tx); err != nil {
			return failed(Wrap(CodeProcessingError, fmt.Errorf("create transaction: %w", err)), nil)
		}
	default:
		return failed(Wrap(CodeProcessingError, fmt.Errorf("lookup idempotency key: %w", err)), nil)
	}

	charge := Charge{
		TransactionID:  tx.ID,
		IdempotencyKey: tx.IdempotencyKey,
		Amount:         tx.Amount,
		Currency:       tx.Currency,
		Method:         tx.Method,
		MerchantID:     tx.MerchantID,
		CustomerID:     tx.CustomerID,
		Description:    req.Description,
		PaymentToken:   req.PaymentToken,
		Metadata:       copyMeta(tx.Metadata),
	}
	resp, callErr := o.call(ctx, gw, "process", func(ctx context.Context) (GatewayResponse, error) {
		return adapter.ProcessPayment(ctx, gw, charge)
	})
	return o.apply(ctx, tx, resp, callErr)
}

// call runs fn through the circuit breaker and the retry policy.
func (o *Orchestrator) call(ctx context.Context, gw Gateway, op string, fn func(context.Context) (GatewayResponse, error)) (GatewayResponse, *PaymentError) {
	var resp GatewayResponse
	policy := o.policy
	policy.Retryable = func(err error) bool { return AsPaymentError(err).Retryable }
	userOnRetry := o.policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		metrics.GatewayRetriesTotal.WithLabelValues(gw.ID).Inc()
		logging.L(ctx).Warn("retrying gateway call",
			"gateway", gw.ID, "op", op, "attempt", attempt, "delay", delay, "error", err)
		if userOnRetry != nil {
			userOnRetry(attempt, delay, err)
		}
	}

	err := policy.Run(ctx, func(ctx context.Context, attempt int) error {
		ctx, span := traces.StartSpan(ctx, "gateway."+op, traces.GatewayID(gw.ID), traces.Attempt(attempt))
		defer span.End()

		start := time.Now()
		invoke := func() error {
			r, err := fn(ctx)
			if err != nil {
				return AsPaymentError(err)
			}
			resp = r
			return nil
		}
		var err error
		if o.breaker != nil {
			err = o.breaker.Execute(gw.ID, func(err error) bool { return AsPaymentError(err).Retryable }, invoke)
			if errors.Is(err, circuitbreaker.ErrOpen) {
				err = Wrap(CodeGatewayUnavailable, err)
			}
		} else {
			err = invoke()
		}

		result := "ok"
		if err != nil {
			result = string(AsPaymentError(err).Code)
			traces.Fail(span, err)
		}
		metrics.GatewayCallsTotal.WithLabelValues(gw.ID, op, result).Inc()
		metrics.GatewayLatency.WithLabelValues(gw.ID, op).Observe(time.Since(start).Seconds())
		return err
	})
	return resp, AsPaymentError(err)
}

// apply maps a gateway outcome onto tx and persists it.
func (o *Orchestrator) apply(ctx context.Context, tx *Transaction, resp GatewayResponse, callErr *PaymentError) Result {
	next := tx.Clone()
	now := o.now().UTC()
	next.UpdatedAt = now
	var perr *PaymentError

	switch {
	case callErr != nil:
		next.Status = StatusFailed
		next.FailureReason = callErr.Message
		next.setMeta(MetaErrorCode, string(callErr.Code))
		perr = callErr
	case resp.Status == GatewaySuccess:
		next.Status = StatusCompleted
		next.GatewayTransactionID = resp.GatewayTransactionID
		next.SubmittedAt = orNow(next.SubmittedAt, now)
		next.ProcessedAt = &now
	case resp.Status == GatewayPending:
		next.GatewayTransactionID = resp.GatewayTransactionID
		next.SubmittedAt = orNow(next.SubmittedAt, now)
	default:
		perr = FromGatewayCode(resp.ErrorCode, resp.ErrorMessage)
		next.Status = StatusFailed
		next.FailureReason = perr.Message
		next.GatewayTransactionID = resp.GatewayTransactionID
		next.setMeta(MetaErrorCode, string(perr.Code))
		if resp.ErrorCode != "" {
			next.setMeta(MetaGatewayErrorCode, resp.ErrorCode)
		}
	}

	if err := o.store.Update(ctx, next, tx.Status); err != nil {
		logging.L(ctx).Error("failed to record gateway outcome",
			"transaction_id", tx.ID, "status", next.Status, "error", err)
		return failed(Wrap(CodeProcessingError, fmt.Errorf("update transaction: %w", err)), next)
	}

	logging.L(ctx).Info("transaction processed",
		"transaction_id", next.ID, "status", next.Status, "gateway", next.GatewayID)
	if perr != nil {
		return failed(perr, next)
	}
	return o.settled(next)
}

// settled reports an existing transaction. Pending is never a success.
func (o *Orchestrator) settled(tx *Transaction) Result {
	switch tx.Status {
	case StatusCompleted:
		return Result{Success: true, Transaction: tx}
	case StatusFailed:
		code := ErrorCode(tx.Metadata[MetaErrorCode])
		if code == "" {
			code = CodeProcessingError
		}
		return failed(&PaymentError{Code: code, Message: tx.FailureReason, Retryable: code.Retryable()}, tx)
	default:
		return Result{Transaction: tx}
	}
}

// Refund refunds all or part of a completed transaction.
func (o *Orchestrator) Refund(ctx context.Context, req RefundRequest) Result {
	ctx, span := traces.StartSpan(ctx, "payment.Refund", traces.TransactionID(req.TransactionID))
	defer span.End()

	res := o.refund(ctx, req)
	if res.Err != nil {
		traces.Fail(span, res.Err)
	}
	if res.Transaction != nil {
		metrics.TransactionsTotal.WithLabelValues(string(TypeRefund), string(res.Transaction.Status)).Inc()
	}
	return res
}

func (o *Orchestrator) refund(ctx context.Context, req RefundRequest) Result {
	original, unlock, perr := o.lockTransaction(ctx, req.TransactionID)
	if perr != nil {
		return failed(perr, nil)
	}
	defer unlock()

	if original.Type == TypeRefund {
		return failed(NewError(CodeInvalidTransactionStatus, "a refund cannot be refunded"), original)
	}
	if original.Status != StatusCompleted {
		return failed(NewError(CodeInvalidTransactionStatus,
			"only completed transactions can be refunded (status %s)", original.Status), original)
	}

	refunds, err := o.store.ListRefunds(ctx, original.ID)
	if err != nil {
		return failed(Wrap(CodeProcessingError, fmt.Errorf("list refunds: %w", err)), nil)
	}
	if req.IdempotencyKey != "" {
		for _, r := range refunds {
			if r.IdempotencyKey == req.IdempotencyKey {
				return o.settled(r)
			}
		}
	}
	refunded := refundedTotal(refunds)
	remaining := original.Amount.Sub(refunded)

	amount := remaining
	if req.Amount != nil {
		amount = *req.Amount
	}
	if !amount.IsPositive() {
		return failed(NewError(CodeInvalidAmount, "refund amount must be positive"), nil)
	}
	if amount.GreaterThan(remaining) {
		return failed(NewError(CodeInvalidAmount,
			"refund of %s exceeds refundable %s", amount, remaining), nil)
	}

	gw, adapter, perr := o.resolve(ctx, original.GatewayID)
	if perr != nil {
		return failed(perr, nil)
	}

	now := o.now().UTC()
	id := idgen.WithPrefix(idgen.PrefixRefund)
	key := req.IdempotencyKey
	if key == "" {
		key = id
	}
	rtx := &Transaction{
		ID:                    id,
		IdempotencyKey:        key,
		Type:                  TypeRefund,
		Method:                original.Method,
		Status:                StatusPending,
		Amount:                amount.Neg(),
		Currency:              original.Currency,
		MerchantID:            original.MerchantID,
		CustomerID:            original.CustomerID,
		GatewayID:             original.GatewayID,
		OriginalTransactionID: original.ID,
		Metadata:              map[string]string{MetaOriginalTransactionID: original.ID},
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if req.Reason != "" {
		rtx.setMeta(MetaRefundReason, req.Reason)
	}
	if err := o.store.Create(ctx, rtx); err != nil {
		return failed(Wrap(CodeProcessingError, fmt.Errorf("create refund: %w", err)), nil)
	}

	call := RefundCall{
		TransactionID:        original.ID,
		GatewayTransactionID: original.GatewayTransactionID,
		IdempotencyKey:       rtx.IdempotencyKey,
		Amount:               amount,
		Currency:             original.Currency,
		Reason:               req.Reason,
	}
	resp, callErr := o.call(ctx, gw, "refund", func(ctx context.Context) (GatewayResponse, error) {
		return adapter.RefundPayment(ctx, gw, call)
	})
	if callErr == nil && resp.Status == GatewayFailed {
		callErr = FromGatewayCode(resp.ErrorCode, resp.ErrorMessage)
		callErr.Code, callErr.Retryable = CodeRefundFailed, false
	}
	res := o.apply(ctx, rtx, resp, callErr)
	if res.Transaction == nil || res.Transaction.Status != StatusCompleted {
		return res
	}

	o.markRefunded(ctx, original.ID)
	return res
}

// markRefunded moves the original to Refunded once completed refunds cover
// its full amount. Partial refunds leave it Completed.
func (o *Orchestrator) markRefunded(ctx context.Context, originalID string) {
	original, err := o.store.Get(ctx, originalID)
	if err != nil || original.Status != StatusCompleted {
		return
	}
	refunds, err := o.store.ListRefunds(ctx, originalID)
	if err != nil {
		logging.L(ctx).Warn("failed to list refunds", "transaction_id", originalID, "error", err)
		return
	}
	covered := decimal.Zero
	for _, r := range refunds {
		if r.Status == StatusCompleted {
			covered = covered.Add(r.Amount.Abs())
		}
	}
	if covered.LessThan(original.Amount) {
		return
	}
	next := original.Clone()
	next.Status = StatusRefunded
	next.UpdatedAt = o.now().UTC()
	if err := o.store.Update(ctx, next, StatusCompleted); err != nil {
		logging.L(ctx).Error("refund completed but original not marked refunded",
			"transaction_id", originalID, "error", err)
		return
	}
	metrics.TransactionsTotal.WithLabelValues(string(next.Type), string(next.Status)).Inc()
}

// refundedTotal sums refunds that completed or are still in flight.
func refundedTotal(refunds []*Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, r := range refunds {
		if r.Status == StatusCompleted || r.Status == StatusPending {
			total = total.Add(r.Amount.Abs())
		}
	}
	return total
}

// Cancel cancels a pending transaction. One the gateway has already
// accepted is voided first, which requires an adapter that supports it.
func (o *Orchestrator) Cancel(ctx context.Context, id string) Result {
	ctx, span := traces.StartSpan(ctx, "payment.Cancel", traces.TransactionID(id))
	defer span.End()

	tx, unlock, perr := o.lockTransaction(ctx, id)
	if perr != nil {
		traces.Fail(span, perr)
		return failed(perr, nil)
	}
	defer unlock()

	if tx.Status != StatusPending {
		return failed(NewError(CodeInvalidTransactionStatus,
			"only pending transactions can be cancelled (status %s)", tx.Status), tx)
	}

	if tx.AwaitingConfirmation() && tx.GatewayTransactionID != "" {
		gw, adapter, perr := o.resolve(ctx, tx.GatewayID)
		if perr != nil {
			return failed(perr, tx)
		}
		voider, ok := adapter.(Voider)
		if !ok {
			return failed(NewError(CodeInvalidTransactionStatus,
				"transaction %s is awaiting gateway confirmation and %s cannot void it", tx.ID, gw.ID), tx)
		}
		resp, callErr := o.call(ctx, gw, "void", func(ctx context.Context) (GatewayResponse, error) {
			return voider.VoidPayment(ctx, gw, tx.GatewayTransactionID)
		})
		if callErr == nil && resp.Status == GatewayFailed {
			callErr = FromGatewayCode(resp.ErrorCode, resp.ErrorMessage)
		}
		if callErr != nil {
			return failed(callErr, tx)
		}
	}

	next := tx.Clone()
	next.Status = StatusCancelled
	next.UpdatedAt = o.now().UTC()
	if err := o.store.Update(ctx, next, StatusPending); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return failed(NewError(CodeInvalidTransactionStatus, "transaction changed while cancelling"), tx)
		}
		return failed(Wrap(CodeProcessingError, err), tx)
	}
	metrics.TransactionsTotal.WithLabelValues(string(next.Type), string(next.Status)).Inc()
	logging.L(ctx).Info("transaction cancelled", "transaction_id", next.ID)
	return Result{Success: true, Transaction: next}
}

// Status refreshes a pending transaction from its gateway. Settled
// transactions are returned as stored.
func (o *Orchestrator) Status(ctx context.Context, id string) Result {
	ctx, span := traces.StartSpan(ctx, "payment.Status", traces.TransactionID(id))
	defer span.End()

	tx, unlock, perr := o.lockTransaction(ctx, id)
	if perr != nil {
		return failed(perr, nil)
	}
	defer unlock()

	if !tx.AwaitingConfirmation() || tx.GatewayTransactionID == "" {
		return Result{Success: tx.Status == StatusCompleted, Transaction: tx}
	}
	gw, adapter, perr := o.resolve(ctx, tx.GatewayID)
	if perr != nil {
		return failed(perr, tx)
	}
	resp, callErr := o.call(ctx, gw, "status", func(ctx context.Context) (GatewayResponse, error) {
		return adapter.GetPaymentStatus(ctx, gw, tx.GatewayTransactionID)
	})
	if callErr != nil {
		// A failed lookup says nothing about the charge itself.
		return failed(callErr, tx)
	}
	if resp.Status == GatewayPending {
		return Result{Transaction: tx}
	}
	if resp.GatewayTransactionID == "" {
		resp.GatewayTransactionID = tx.GatewayTransactionID
	}
	span.SetAttributes(attribute.String("gateway.status", string(resp.Status)))
	res := o.apply(ctx, tx, resp, nil)
	if tx.Type == TypeRefund && res.Transaction != nil && res.Transaction.Status == StatusCompleted {
		o.markRefunded(ctx, tx.OriginalTransactionID)
	}
	return res
}

// Get returns a transaction.
func (o *Orchestrator) Get(ctx context.Context, id string) (*Transaction, error) {
	return o.store.Get(ctx, id)
}

// ListByMerchant pages through a merchant's transactions, newest first.
func (o *Orchestrator) ListByMerchant(ctx context.Context, merchantID string, limit int, cursor *pagination.Cursor) ([]*Transaction, error) {
	return o.store.ListByMerchant(ctx, merchantID, limit, cursor)
}

// lockTransaction loads id and locks its idempotency key, then reloads so
// the caller sees the state as of the lock.
func (o *Orchestrator) lockTransaction(ctx context.Context, id string) (*Transaction, func(), *PaymentError) {
	tx, err := o.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil, NewError(CodeTransactionNotFound, "transaction %s not found", id)
	}
	if err != nil {
		return nil, nil, Wrap(CodeProcessingError, err)
	}
	unlock, err := o.locks.Lock(ctx, tx.IdempotencyKey)
	if err != nil {
		return nil, nil, AsPaymentError(err)
	}
	tx, err = o.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, AsPaymentError(err)
	}
	return tx, unlock, nil
}

func orNow(t *time.Time, now time.Time) *time.Time {
	if t != nil {
		return t
	}
	return &now
}

func copyMeta(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
