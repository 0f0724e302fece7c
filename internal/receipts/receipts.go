// Package receipts issues signed receipts for settled transactions.
//
// A receipt is derived from the transaction record, so it needs no storage
// of its own: any holder can present it back for verification and the
// signature proves the amounts and parties were not altered.
package receipts

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/payment"
	"github.com/mbd888/tiptap/internal/tip"
)

var (
	ErrNotSettled      = errors.New("receipts: transaction has not settled")
	ErrSigningDisabled = errors.New("receipts: signing disabled (no signing secret configured)")
)

// Receipt is the customer-facing record of a settled transaction.
type Receipt struct {
	Number        string          `json:"number"`
	TransactionID string          `json:"transactionId"`
	Type          payment.Type    `json:"type"`
	Method        payment.Method  `json:"method,omitempty"`
	Status        payment.Status  `json:"status"`
	MerchantID    string          `json:"merchantId,omitempty"`
	CustomerID    string          `json:"customerId,omitempty"`
	Currency      string          `json:"currency"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tip           decimal.Decimal `json:"tip"`
	Total         decimal.Decimal `json:"total"`
	SettledAt     time.Time       `json:"settledAt"`
	IssuedAt      time.Time       `json:"issuedAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	PayloadHash   string          `json:"payloadHash"`
	Signature     string          `json:"signature,omitempty"`
}

// VerifyResponse is the result of receipt verification.
type VerifyResponse struct {
	Valid   bool   `json:"valid"`
	Number  string `json:"number"`
	Expired bool   `json:"expired,omitempty"`
	Error   string `json:"error,omitempty"`
}

// receiptPayload is the canonical struct signed by HMAC.
// Field order must be deterministic (JSON marshalling of struct is by field order).
type receiptPayload struct {
	Currency      string `json:"currency"`
	CustomerID    string `json:"customerId"`
	ExpiresAt     string `json:"expiresAt"`
	IssuedAt      string `json:"issuedAt"`
	MerchantID    string `json:"merchantId"`
	Number        string `json:"number"`
	SettledAt     string `json:"settledAt"`
	Status        string `json:"status"`
	Subtotal      string `json:"subtotal"`
	Tip           string `json:"tip"`
	Total         string `json:"total"`
	TransactionID string `json:"transactionId"`
	Type          string `json:"type"`
}

func (r *Receipt) payload() receiptPayload {
	places := tip.MinorUnits(r.Currency)
	return receiptPayload{
		Currency:      r.Currency,
		CustomerID:    r.CustomerID,
		ExpiresAt:     r.ExpiresAt.UTC().Format(time.RFC3339),
		IssuedAt:      r.IssuedAt.UTC().Format(time.RFC3339),
		MerchantID:    r.MerchantID,
		Number:        r.Number,
		SettledAt:     r.SettledAt.UTC().Format(time.RFC3339),
		Status:        string(r.Status),
		Subtotal:      r.Subtotal.StringFixed(places),
		Tip:           r.Tip.StringFixed(places),
		Total:         r.Total.StringFixed(places),
		TransactionID: r.TransactionID,
		Type:          string(r.Type),
	}
}

// Number is the short receipt number shown to customers, e.g. "R-3F9A0C12".
func Number(transactionID string) string {
	id := strings.ReplaceAll(transactionID, "-", "")
	if len(id) > 8 {
		id = id[len(id)-8:]
	}
	return "R-" + strings.ToUpper(id)
}

// Issuer builds receipts and signs them when a secret is configured.
type Issuer struct {
	signer *Signer
	now    func() time.Time
}

// NewIssuer creates an issuer. A nil signer issues unsigned receipts.
func NewIssuer(signer *Signer) *Issuer {
	return &Issuer{signer: signer, now: time.Now}
}

// WithClock overrides the issue time source.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue builds the receipt for a completed (or later refunded) transaction.
func (i *Issuer) Issue(tx *payment.Transaction) (*Receipt, error) {
	if tx.Status != payment.StatusCompleted && tx.Status != payment.StatusRefunded {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotSettled, tx.ID, tx.Status)
	}

	settled := tx.UpdatedAt
	if tx.ProcessedAt != nil {
		settled = *tx.ProcessedAt
	}
	now := i.now().UTC().Truncate(time.Second)
	r := &Receipt{
		Number:        Number(tx.ID),
		TransactionID: tx.ID,
		Type:          tx.Type,
		Method:        tx.Method,
		Status:        tx.Status,
		MerchantID:    tx.MerchantID,
		CustomerID:    tx.CustomerID,
		Currency:      tx.Currency,
		Subtotal:      tx.Amount,
		Tip:           decimal.Zero,
		Total:         tx.Amount,
		SettledAt:     settled.UTC().Truncate(time.Second),
		IssuedAt:      now,
		ExpiresAt:     now.Add(signatureValidity),
	}
	if tx.Tip != nil {
		r.Subtotal = tx.Tip.BaseAmount
		r.Tip = tx.Tip.TipAmount
		r.Total = tx.Tip.TotalAmount
	}

	data, err := json.Marshal(r.payload())
	if err != nil {
		return nil, fmt.Errorf("receipts: failed to marshal payload: %w", err)
	}
	hash := sha256.Sum256(data)
	r.PayloadHash = hex.EncodeToString(hash[:])

	sig, err := i.signer.Sign(r.payload())
	if err != nil {
		return nil, fmt.Errorf("receipts: failed to sign: %w", err)
	}
	r.Signature = sig
	return r, nil
}

// Verify checks a presented receipt against its signature.
func (i *Issuer) Verify(r Receipt) VerifyResponse {
	resp := VerifyResponse{Number: r.Number}
	if i.signer == nil {
		resp.Error = ErrSigningDisabled.Error()
		return resp
	}
	if !i.signer.Verify(r.payload(), r.Signature) {
		resp.Error = "signature verification failed"
		return resp
	}
	resp.Valid = true
	resp.Expired = i.now().After(r.ExpiresAt)
	return resp
}
