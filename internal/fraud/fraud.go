// Package fraud scores payment attempts for fraud risk.
//
// Scoring is additive: velocity, location and device rules each contribute
// points, the sum is clamped to [0, 100] and classified against the block
// and step-up thresholds. Score is pure; Detector gathers the inputs from
// storage and device capabilities and records each attempt in the rolling
// history.
package fraud

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/tiptap/internal/device"
)

var (
	ErrInvalidConfig = errors.New("fraud: invalid configuration")
	ErrInvalidAmount = errors.New("fraud: amount must be positive")
)

// Level is the coarse risk classification.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

// FailurePolicy decides what an internal fraud-check failure means for the
// payment.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "fail_open"
	FailClosed FailurePolicy = "fail_closed"
)

const (
	// HighLevelScore splits step-up scores into MEDIUM and HIGH.
	HighLevelScore = 75
	// DefaultHistoryLimit bounds the rolling attempt history.
	DefaultHistoryLimit = 1000
	// EarthRadiusMiles is used for great-circle distances.
	EarthRadiusMiles = 3959.0
)

// Geolocation is a position reported by the geolocation capability.
// Country is the ISO 3166 alpha-2 code when reverse geocoding succeeded.
type Geolocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Country   string    `json:"country,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Attempt is one payment attempt as seen by the scorer. Attempts are
// immutable once recorded.
type Attempt struct {
	TransactionID string             `json:"transactionId"`
	Amount        decimal.Decimal    `json:"amount"`
	Timestamp     time.Time          `json:"timestamp"`
	MerchantID    string             `json:"merchantId,omitempty"`
	Fingerprint   device.Fingerprint `json:"deviceFingerprint"`
	Location      *Geolocation       `json:"location,omitempty"`
}

// RiskScore is the outcome of scoring one attempt.
type RiskScore struct {
	Score                 float64  `json:"score"`
	Level                 Level    `json:"level"`
	Reasons               []string `json:"reasons"`
	ShouldBlock           bool     `json:"shouldBlock"`
	RequireAdditionalAuth bool     `json:"requireAdditionalAuth"`
}

// VelocityRule bounds count and total amount inside a sliding window.
type VelocityRule struct {
	Name      string          `json:"name"`
	Window    time.Duration   `json:"window"`
	MaxCount  int             `json:"maxCount"`
	MaxAmount decimal.Decimal `json:"maxAmount"`
	Enabled   bool            `json:"enabled"`
}

// LocationRule is a country rule when either country list is set and an
// impossible-travel rule when MaxDistanceMiles is positive. One rule may
// be both.
type LocationRule struct {
	Name             string        `json:"name"`
	Enabled          bool          `json:"enabled"`
	BlockedCountries []string      `json:"blockedCountries,omitempty"`
	AllowedCountries []string      `json:"allowedCountries,omitempty"`
	MaxDistanceMiles float64       `json:"maxDistanceMiles,omitempty"`
	MinElapsed       time.Duration `json:"minElapsed,omitempty"`
}

// Config holds the scoring rules and thresholds.
type Config struct {
	Enabled            bool           `json:"enabled"`
	LocationEnabled    bool           `json:"locationEnabled"`
	FingerprintEnabled bool           `json:"fingerprintEnabled"`
	BlockThreshold     float64        `json:"blockThreshold"`
	StepUpThreshold    float64        `json:"stepUpThreshold"`
	VelocityRules      []VelocityRule `json:"velocityRules"`
	LocationRules      []LocationRule `json:"locationRules"`
	FailurePolicy      FailurePolicy  `json:"failurePolicy"`
}

// DefaultConfig returns the shipped rule set.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		LocationEnabled:    true,
		FingerprintEnabled: true,
		BlockThreshold:     85,
		StepUpThreshold:    60,
		FailurePolicy:      FailOpen,
		VelocityRules: []VelocityRule{
			{Name: "hourly", Window: time.Hour, MaxCount: 10, MaxAmount: decimal.NewFromInt(500), Enabled: true},
			{Name: "daily", Window: 24 * time.Hour, MaxCount: 50, MaxAmount: decimal.NewFromInt(2000), Enabled: true},
			{Name: "burst_protection", Window: 5 * time.Minute, MaxCount: 3, MaxAmount: decimal.NewFromInt(100), Enabled: true},
		},
		LocationRules: []LocationRule{
			{
				Name:             "country_restriction",
				Enabled:          true,
				AllowedCountries: []string{"US", "CA", "GB", "AU", "DE", "FR", "IT", "ES", "NL", "SE"},
			},
			{Name: "travel_velocity", Enabled: true, MaxDistanceMiles: 500, MinElapsed: 60 * time.Minute},
		},
	}
}

// Validate checks thresholds and rules.
func (c Config) Validate() error {
	if c.StepUpThreshold < 0 || c.BlockThreshold > 100 || c.StepUpThreshold > c.BlockThreshold {
		return fmt.Errorf("%w: thresholds must satisfy 0 <= step-up <= block <= 100", ErrInvalidConfig)
	}
	switch c.FailurePolicy {
	case FailOpen, FailClosed:
	default:
		return fmt.Errorf("%w: unknown failure policy %q", ErrInvalidConfig, c.FailurePolicy)
	}
	for _, r := range c.VelocityRules {
		if r.Window <= 0 || r.MaxCount < 0 || !r.MaxAmount.IsPositive() {
			return fmt.Errorf("%w: velocity rule %q needs a positive window and amount", ErrInvalidConfig, r.Name)
		}
	}
	for _, r := range c.LocationRules {
		if r.MaxDistanceMiles < 0 || r.MinElapsed < 0 {
			return fmt.Errorf("%w: location rule %q has negative bounds", ErrInvalidConfig, r.Name)
		}
	}
	return nil
}

// BlockedSet is a set of blocked device ids.
type BlockedSet map[string]struct{}

// NewBlockedSet builds a set from ids.
func NewBlockedSet(ids ...string) BlockedSet {
	s := make(BlockedSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is blocked. The empty id is never blocked.
func (s BlockedSet) Has(id string) bool {
	if id == "" {
		return false
	}
	_, ok := s[id]
	return ok
}
