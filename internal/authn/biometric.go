package authn

import "context"

// BiometricType is the sensor kind reported by the platform.
type BiometricType string

const (
	BiometricTouchID     BiometricType = "TouchID"
	BiometricFaceID      BiometricType = "FaceID"
	BiometricFingerprint BiometricType = "Fingerprint"
	BiometricNone        BiometricType = "None"
)

// Availability reports whether biometric authentication can be attempted.
type Availability struct {
	Available bool          `json:"isAvailable"`
	Type      BiometricType `json:"biometryType"`
}

// Prompt is the text shown by the system biometric sheet.
type Prompt struct {
	Title         string
	Subtitle      string
	Description   string
	FallbackLabel string
	CancelLabel   string
}

// BiometricOutcome classifies a biometric attempt. Only BiometricSuccess
// counts as a pass.
type BiometricOutcome string

const (
	BiometricSuccess       BiometricOutcome = "success"
	BiometricUserCancelled BiometricOutcome = "user_cancelled"
	BiometricFallback      BiometricOutcome = "fallback"
	BiometricUnavailable   BiometricOutcome = "unavailable"
	BiometricLockedOut     BiometricOutcome = "locked_out"
)

// Biometric is the sensor capability supplied by the native shell.
type Biometric interface {
	CheckAvailability(ctx context.Context) (Availability, error)
	Authenticate(ctx context.Context, prompt Prompt) (BiometricOutcome, error)
}

// ClassifyNativeError maps the platform's biometric error codes onto an
// outcome. Unknown codes are treated as the sensor being unavailable so the
// PIN fallback still runs.
func ClassifyNativeError(code string) BiometricOutcome {
	switch code {
	case "":
		return BiometricSuccess
	case "UserCancel", "SystemCancel":
		return BiometricUserCancelled
	case "UserFallback":
		return BiometricFallback
	case "BiometricLockout", "BiometricLockoutPermanent":
		return BiometricLockedOut
	default:
		return BiometricUnavailable
	}
}

// PromptFor returns the default prompt text for reason.
func PromptFor(reason Reason) Prompt {
	p := Prompt{FallbackLabel: "Use PIN", CancelLabel: "Cancel"}
	switch reason {
	case ReasonPayment:
		p.Title = "Confirm Payment"
		p.Description = "Authenticate to authorize this payment"
	default:
		p.Title = "Unlock TipTap"
		p.Description = "Authenticate to continue"
	}
	return p
}

// StaticBiometric replays a result collected by the native shell.
type StaticBiometric struct {
	Availability Availability
	Outcome      BiometricOutcome
}

func (s StaticBiometric) CheckAvailability(context.Context) (Availability, error) {
	return s.Availability, nil
}

func (s StaticBiometric) Authenticate(context.Context, Prompt) (BiometricOutcome, error) {
	return s.Outcome, nil
}
