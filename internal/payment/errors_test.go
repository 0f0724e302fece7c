package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestFromGatewayCode(t *testing.T) {
	tests := []struct {
		gateway   string
		code      ErrorCode
		retryable bool
	}{
		{"card_declined", CodeCardDeclined, false},
		{"insufficient_funds", CodeInsufficientFunds, false},
		{"incorrect_cvc", CodeInvalidCVC, false},
		{"api_connection_error", CodeNetworkError, true},
		{"timeout", CodeGatewayTimeout, true},
		{"something_new", CodeProcessingError, false},
	}
	for _, tt := range tests {
		t.Run(tt.gateway, func(t *testing.T) {
			pe := FromGatewayCode(tt.gateway, "")
			if pe.Code != tt.code || pe.Retryable != tt.retryable {
				t.Errorf("got %s retryable=%v, want %s retryable=%v", pe.Code, pe.Retryable, tt.code, tt.retryable)
			}
			if pe.GatewayCode != tt.gateway || pe.Message == "" {
				t.Errorf("gateway code or message missing: %+v", pe)
			}
		})
	}
}

func TestAsPaymentError(t *testing.T) {
	declined := NewError(CodeCardDeclined, "no")
	tests := []struct {
		name string
		err  error
		code ErrorCode
	}{
		{"passthrough", fmt.Errorf("wrapped: %w", declined), CodeCardDeclined},
		{"cancelled", context.Canceled, CodeUserCancelled},
		{"deadline", context.DeadlineExceeded, CodeGatewayTimeout},
		{"not found", ErrNotFound, CodeTransactionNotFound},
		{"unknown", errors.New("boom"), CodeProcessingError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AsPaymentError(tt.err); got.Code != tt.code {
				t.Errorf("code = %s, want %s", got.Code, tt.code)
			}
		})
	}
	if AsPaymentError(nil) != nil {
		t.Error("nil error should stay nil")
	}
	if !errors.Is(declined, &PaymentError{Code: CodeCardDeclined}) {
		t.Error("errors.Is should match by code")
	}
}

func TestGatewayValidate(t *testing.T) {
	valid := Gateway{ID: "g", Type: GatewayStripe, IsActive: true, SupportedCurrencies: []string{"USD"}}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid gateway rejected: %v", err)
	}
	if !valid.SupportsCurrency("usd") || valid.SupportsCurrency("EUR") {
		t.Error("SupportsCurrency should be case-insensitive and exact")
	}

	broken := map[string]func(g *Gateway){
		"no id":         func(g *Gateway) { g.ID = "" },
		"inactive":      func(g *Gateway) { g.IsActive = false },
		"no currencies": func(g *Gateway) { g.SupportedCurrencies = nil },
		"unknown type":  func(g *Gateway) { g.Type = "venmo" },
	}
	for name, mut := range broken {
		g := valid
		mut(&g)
		if err := g.Validate(); !errors.Is(err, ErrInvalidGateway) {
			t.Errorf("%s: expected ErrInvalidGateway, got %v", name, err)
		}
	}
}
