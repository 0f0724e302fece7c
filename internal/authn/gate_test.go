package authn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbd888/tiptap/internal/logging"
)

type countingPrompter struct {
	pin   string
	ok    bool
	calls int
}

func (c *countingPrompter) PromptPIN(context.Context, Reason) (string, bool, error) {
	c.calls++
	return c.pin, c.ok, nil
}

type blockingPrompter struct{}

func (blockingPrompter) PromptPIN(ctx context.Context, _ Reason) (string, bool, error) {
	<-ctx.Done()
	return "", false, ctx.Err()
}

var faceID = Availability{Available: true, Type: BiometricFaceID}

func newGate(t *testing.T, bio Biometric, prompter PINPrompter) *Gate {
	t.Helper()
	pins, _ := newPINs(t, memStore())
	if err := pins.Setup(context.Background(), "482915", "482915"); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return NewGate(bio, prompter, pins, logging.Discard())
}

func TestChallenge_BiometricSuccess(t *testing.T) {
	prompter := &countingPrompter{pin: "482915", ok: true}
	g := newGate(t, StaticBiometric{Availability: faceID, Outcome: BiometricSuccess}, prompter)

	res := g.Challenge(context.Background(), ReasonPayment)
	if !res.Passed || res.Method != MethodBiometric {
		t.Fatalf("expected biometric pass, got %+v", res)
	}
	if prompter.calls != 0 {
		t.Error("PIN must not be prompted after biometric success")
	}
}

func TestChallenge_CancelDoesNotFallBack(t *testing.T) {
	prompter := &countingPrompter{pin: "482915", ok: true}
	g := newGate(t, StaticBiometric{Availability: faceID, Outcome: BiometricUserCancelled}, prompter)

	res := g.Challenge(context.Background(), ReasonUnlock)
	if res.Passed || res.Outcome != OutcomeCancelled || !errors.Is(res.Err, ErrChallengeCancelled) {
		t.Fatalf("expected cancelled challenge, got %+v", res)
	}
	if prompter.calls != 0 {
		t.Error("a user cancel must not offer the PIN")
	}
}

func TestChallenge_FallsBackToPIN(t *testing.T) {
	tests := []struct {
		name string
		bio  Biometric
	}{
		{"fallback", StaticBiometric{Availability: faceID, Outcome: BiometricFallback}},
		{"sensor lockout", StaticBiometric{Availability: faceID, Outcome: BiometricLockedOut}},
		{"unavailable", StaticBiometric{Availability: Availability{Type: BiometricNone}}},
		{"no sensor", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompter := &countingPrompter{pin: "482915", ok: true}
			g := newGate(t, tt.bio, prompter)
			res := g.Challenge(context.Background(), ReasonPayment)
			if !res.Passed || res.Method != MethodPIN {
				t.Fatalf("expected PIN pass, got %+v", res)
			}
			if prompter.calls != 1 {
				t.Errorf("expected one PIN prompt, got %d", prompter.calls)
			}
		})
	}
}

func TestChallenge_WrongPIN(t *testing.T) {
	g := newGate(t, nil, &countingPrompter{pin: "000001", ok: true})
	res := g.Challenge(context.Background(), ReasonPayment)
	if res.Passed || !errors.Is(res.Err, ErrIncorrectPIN) {
		t.Fatalf("expected incorrect PIN, got %+v", res)
	}
	if res.AttemptsRemaining != DefaultPINMaxAttempts-1 {
		t.Errorf("attempts remaining = %d", res.AttemptsRemaining)
	}
}

func TestChallenge_LockedOutSkipsPrompt(t *testing.T) {
	prompter := &countingPrompter{pin: "000001", ok: true}
	g := newGate(t, nil, prompter)
	for i := 0; i < DefaultPINMaxAttempts; i++ {
		g.Challenge(context.Background(), ReasonPayment)
	}
	prompter.calls = 0
	prompter.pin = "482915"

	res := g.Challenge(context.Background(), ReasonPayment)
	if res.Passed || res.Outcome != OutcomeLockedOut {
		t.Fatalf("expected locked out, got %+v", res)
	}
	if prompter.calls != 0 {
		t.Error("locked out gate must not prompt")
	}
}

func TestChallenge_DismissedPrompt(t *testing.T) {
	g := newGate(t, nil, &countingPrompter{})
	res := g.Challenge(context.Background(), ReasonUnlock)
	if res.Passed || res.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %+v", res)
	}
}

func TestChallenge_TimeoutCountsAsCancel(t *testing.T) {
	g := newGate(t, nil, blockingPrompter{}).WithTimeout(20 * time.Millisecond)
	res := g.Challenge(context.Background(), ReasonPayment)
	if res.Passed || res.Outcome != OutcomeCancelled || !errors.Is(res.Err, ErrChallengeTimeout) {
		t.Fatalf("expected timeout cancel, got %+v", res)
	}
}

func TestChallenge_NoMethods(t *testing.T) {
	g := NewGate(nil, nil, nil, logging.Discard())
	res := g.Challenge(context.Background(), ReasonUnlock)
	if res.Passed || !errors.Is(res.Err, ErrNoAuthMethod) {
		t.Fatalf("expected ErrNoAuthMethod, got %+v", res)
	}
}

func TestClassifyNativeError(t *testing.T) {
	tests := map[string]BiometricOutcome{
		"":                          BiometricSuccess,
		"UserCancel":                BiometricUserCancelled,
		"SystemCancel":              BiometricUserCancelled,
		"UserFallback":              BiometricFallback,
		"BiometricLockout":          BiometricLockedOut,
		"BiometricLockoutPermanent": BiometricLockedOut,
		"BiometricNotEnrolled":      BiometricUnavailable,
		"SomethingNew":              BiometricUnavailable,
	}
	for code, want := range tests {
		if got := ClassifyNativeError(code); got != want {
			t.Errorf("%q: got %s, want %s", code, got, want)
		}
	}
}
