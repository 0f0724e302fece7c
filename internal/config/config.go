// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// HTTP
	RateLimitRPM int      // sustained requests per minute per client
	CORSOrigins  []string // empty allows any origin without credentials

	// Storage
	DatabaseURL         string // PostgreSQL; optional, the device-local SQLite store is used otherwise
	SecureStorePath     string // SQLite file for the encrypted device store
	DeviceStorePassword string // master secret for at-rest encryption
	DeviceID            string // binds the secure store and fingerprint to this host

	// Session
	SessionTimeout         time.Duration
	AutoLockTimeout        time.Duration
	LockOnBackground       bool
	RequireAuthToUnlock    bool
	RequireAuthForPayments bool
	ChallengeTimeout       time.Duration

	// PIN
	PINLength         int
	PINMaxAttempts    int
	PINLockout        time.Duration
	PINRequireComplex bool

	// Fraud
	FraudEnabled          bool
	FraudBlockThreshold   int
	FraudStepUpThreshold  int
	FraudFailurePolicy    string // "fail_open" or "fail_closed"
	FraudHistoryRetention int

	// Gateways
	GatewayMaxAttempts   int
	GatewayBaseDelay     time.Duration
	ReconcileInterval    time.Duration
	StripeSecretKey      string
	StripePublishableKey string
	StripeWebhookSecret  string
	ReceiptSigningSecret string

	// Bank link
	PlaidClientID string
	PlaidSecret   string
	PlaidEnv      string // "sandbox", "production"

	// Observability
	OTLPEndpoint string
}

// Defaults match the shipped mobile app.
const (
	DefaultPort                   = "8080"
	DefaultEnv                    = "development"
	DefaultLogLevel               = "info"
	DefaultSecureStorePath        = "tiptap.db"
	DefaultRateLimitRPM           = 60
	DefaultSessionTimeout         = 30 * time.Minute
	DefaultAutoLockTimeout        = 5 * time.Minute
	DefaultChallengeTimeout       = 60 * time.Second
	DefaultPINLength              = 6
	DefaultPINMaxAttempts         = 5
	DefaultPINLockout             = 30 * time.Minute
	DefaultFraudBlockThreshold    = 85
	DefaultFraudStepUpThreshold   = 60
	DefaultFraudFailurePolicy     = "fail_open"
	DefaultFraudHistoryRetention  = 1000
	DefaultGatewayMaxAttempts     = 3
	DefaultGatewayBaseDelay       = time.Second
	DefaultReconcileInterval      = 30 * time.Second
	DefaultPlaidEnv               = "sandbox"
	minProductionPasswordLength   = 16
	developmentStorePasswordValue = "tiptap-development-only"
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", DefaultEnv)
	defaultFormat := "text"
	if env == "production" {
		defaultFormat = "json"
	}

	cfg := &Config{
		Port:                   getEnv("PORT", DefaultPort),
		Env:                    env,
		LogLevel:               getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:              getEnv("LOG_FORMAT", defaultFormat),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		SecureStorePath:        getEnv("SECURE_STORE_PATH", DefaultSecureStorePath),
		DeviceStorePassword:    os.Getenv("DEVICE_STORE_PASSWORD"),
		DeviceID:               getEnv("DEVICE_ID", defaultDeviceID()),
		RateLimitRPM:           getEnvInt("RATE_LIMIT_RPM", DefaultRateLimitRPM),
		CORSOrigins:            getEnvList("CORS_ALLOWED_ORIGINS"),
		SessionTimeout:         getEnvDuration("SESSION_TIMEOUT", DefaultSessionTimeout),
		AutoLockTimeout:        getEnvDuration("AUTO_LOCK_TIMEOUT", DefaultAutoLockTimeout),
		LockOnBackground:       getEnvBool("LOCK_ON_BACKGROUND", false),
		RequireAuthToUnlock:    getEnvBool("REQUIRE_AUTH_TO_UNLOCK", true),
		RequireAuthForPayments: getEnvBool("REQUIRE_AUTH_FOR_PAYMENTS", true),
		ChallengeTimeout:       getEnvDuration("CHALLENGE_TIMEOUT", DefaultChallengeTimeout),
		PINLength:              getEnvInt("PIN_LENGTH", DefaultPINLength),
		PINMaxAttempts:         getEnvInt("PIN_MAX_ATTEMPTS", DefaultPINMaxAttempts),
		PINLockout:             getEnvDuration("PIN_LOCKOUT", DefaultPINLockout),
		PINRequireComplex:      getEnvBool("PIN_REQUIRE_COMPLEX", true),
		FraudEnabled:           getEnvBool("FRAUD_ENABLED", true),
		FraudBlockThreshold:    getEnvInt("FRAUD_BLOCK_THRESHOLD", DefaultFraudBlockThreshold),
		FraudStepUpThreshold:   getEnvInt("FRAUD_STEP_UP_THRESHOLD", DefaultFraudStepUpThreshold),
		FraudFailurePolicy:     getEnv("FRAUD_FAILURE_POLICY", DefaultFraudFailurePolicy),
		FraudHistoryRetention:  getEnvInt("FRAUD_HISTORY_RETENTION", DefaultFraudHistoryRetention),
		GatewayMaxAttempts:     getEnvInt("GATEWAY_MAX_ATTEMPTS", DefaultGatewayMaxAttempts),
		GatewayBaseDelay:       getEnvDuration("GATEWAY_BASE_DELAY", DefaultGatewayBaseDelay),
		ReconcileInterval:      getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		StripeSecretKey:        os.Getenv("STRIPE_SECRET_KEY"),
		StripePublishableKey:   os.Getenv("STRIPE_PUBLISHABLE_KEY"),
		StripeWebhookSecret:    os.Getenv("STRIPE_WEBHOOK_SECRET"),
		ReceiptSigningSecret:   os.Getenv("RECEIPT_SIGNING_SECRET"),
		PlaidClientID:          os.Getenv("PLAID_CLIENT_ID"),
		PlaidSecret:            os.Getenv("PLAID_SECRET"),
		PlaidEnv:               getEnv("PLAID_ENV", DefaultPlaidEnv),
		OTLPEndpoint:           os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if cfg.DeviceStorePassword == "" && !cfg.IsProduction() {
		cfg.DeviceStorePassword = developmentStorePasswordValue
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error

	if c.DeviceStorePassword == "" {
		errs = append(errs, errors.New("DEVICE_STORE_PASSWORD is required"))
	} else if c.IsProduction() && len(c.DeviceStorePassword) < minProductionPasswordLength {
		errs = append(errs, fmt.Errorf("DEVICE_STORE_PASSWORD must be at least %d characters in production", minProductionPasswordLength))
	}

	if c.DeviceID == "" {
		errs = append(errs, errors.New("DEVICE_ID is required"))
	}
	if c.RateLimitRPM < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_RPM must be at least 1"))
	}

	if c.SessionTimeout <= 0 || c.AutoLockTimeout <= 0 {
		errs = append(errs, errors.New("SESSION_TIMEOUT and AUTO_LOCK_TIMEOUT must be positive"))
	} else if c.AutoLockTimeout > c.SessionTimeout {
		errs = append(errs, errors.New("AUTO_LOCK_TIMEOUT must not exceed SESSION_TIMEOUT"))
	}

	if c.PINLength < 4 || c.PINLength > 12 {
		errs = append(errs, errors.New("PIN_LENGTH must be between 4 and 12"))
	}
	if c.PINMaxAttempts < 1 {
		errs = append(errs, errors.New("PIN_MAX_ATTEMPTS must be at least 1"))
	}

	if c.FraudStepUpThreshold < 0 || c.FraudBlockThreshold > 100 || c.FraudStepUpThreshold > c.FraudBlockThreshold {
		errs = append(errs, errors.New("fraud thresholds must satisfy 0 <= FRAUD_STEP_UP_THRESHOLD <= FRAUD_BLOCK_THRESHOLD <= 100"))
	}
	switch c.FraudFailurePolicy {
	case "fail_open", "fail_closed":
	default:
		errs = append(errs, fmt.Errorf("FRAUD_FAILURE_POLICY must be fail_open or fail_closed, got %q", c.FraudFailurePolicy))
	}

	if c.GatewayMaxAttempts < 1 {
		errs = append(errs, errors.New("GATEWAY_MAX_ATTEMPTS must be at least 1"))
	}
	if (c.StripeSecretKey == "") != (c.StripePublishableKey == "") {
		errs = append(errs, errors.New("STRIPE_SECRET_KEY and STRIPE_PUBLISHABLE_KEY must be set together"))
	}
	if c.StripeWebhookSecret != "" && c.StripeSecretKey == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET requires STRIPE_SECRET_KEY"))
	}

	switch c.PlaidEnv {
	case "sandbox", "production":
	default:
		errs = append(errs, fmt.Errorf("PLAID_ENV must be sandbox or production, got %q", c.PlaidEnv))
	}

	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// StripeEnabled reports whether Stripe credentials are configured.
func (c *Config) StripeEnabled() bool {
	return c.StripeSecretKey != ""
}

// PlaidEnabled reports whether Plaid credentials are configured.
func (c *Config) PlaidEnabled() bool {
	return c.PlaidClientID != "" && c.PlaidSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// defaultDeviceID derives a stable id from the hostname.
func defaultDeviceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "tiptap-local"
	}
	return "tiptap-" + host
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
