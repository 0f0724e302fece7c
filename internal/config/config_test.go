package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test helper to set env vars and clean up after
func setEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func validConfig() Config {
	return Config{
		Env:                  "development",
		DeviceStorePassword:  "secret",
		DeviceID:             "tiptap-test",
		RateLimitRPM:         DefaultRateLimitRPM,
		SessionTimeout:       DefaultSessionTimeout,
		AutoLockTimeout:      DefaultAutoLockTimeout,
		PINLength:            DefaultPINLength,
		PINMaxAttempts:       DefaultPINMaxAttempts,
		FraudBlockThreshold:  DefaultFraudBlockThreshold,
		FraudStepUpThreshold: DefaultFraudStepUpThreshold,
		FraudFailurePolicy:   DefaultFraudFailurePolicy,
		GatewayMaxAttempts:   DefaultGatewayMaxAttempts,
		PlaidEnv:             DefaultPlaidEnv,
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "ENV", "development")
	setEnv(t, "PORT", "9090")
	setEnv(t, "DEVICE_STORE_PASSWORD", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.AutoLockTimeout)
	assert.Equal(t, 6, cfg.PINLength)
	assert.Equal(t, 5, cfg.PINMaxAttempts)
	assert.Equal(t, 85, cfg.FraudBlockThreshold)
	assert.Equal(t, 60, cfg.FraudStepUpThreshold)
	assert.Equal(t, "fail_open", cfg.FraudFailurePolicy)
	assert.Equal(t, 3, cfg.GatewayMaxAttempts)
	assert.True(t, cfg.RequireAuthForPayments)
	assert.NotEmpty(t, cfg.DeviceStorePassword, "development falls back to a local password")
	assert.NotEmpty(t, cfg.DeviceID)
	assert.Equal(t, DefaultRateLimitRPM, cfg.RateLimitRPM)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestLoad_CORSOrigins(t *testing.T) {
	setEnv(t, "CORS_ALLOWED_ORIGINS", " https://app.tiptap.dev, ,https://pos.tiptap.dev ")
	setEnv(t, "DEVICE_ID", "till-7")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://app.tiptap.dev", "https://pos.tiptap.dev"}, cfg.CORSOrigins)
	assert.Equal(t, "till-7", cfg.DeviceID)
}

func TestLoad_Overrides(t *testing.T) {
	setEnv(t, "SESSION_TIMEOUT", "1h")
	setEnv(t, "AUTO_LOCK_TIMEOUT", "2m")
	setEnv(t, "LOCK_ON_BACKGROUND", "true")
	setEnv(t, "FRAUD_FAILURE_POLICY", "fail_closed")
	setEnv(t, "PIN_MAX_ATTEMPTS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.SessionTimeout)
	assert.Equal(t, 2*time.Minute, cfg.AutoLockTimeout)
	assert.True(t, cfg.LockOnBackground)
	assert.Equal(t, "fail_closed", cfg.FraudFailurePolicy)
	assert.Equal(t, DefaultPINMaxAttempts, cfg.PINMaxAttempts, "unparsable ints keep the default")
}

func TestLoad_ProductionRequiresPassword(t *testing.T) {
	setEnv(t, "ENV", "production")
	setEnv(t, "DEVICE_STORE_PASSWORD", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVICE_STORE_PASSWORD is required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "short production password",
			mutate:  func(c *Config) { c.Env = "production"; c.DeviceStorePassword = "short" },
			wantErr: "at least 16 characters",
		},
		{
			name:    "auto-lock longer than session",
			mutate:  func(c *Config) { c.AutoLockTimeout = time.Hour },
			wantErr: "AUTO_LOCK_TIMEOUT must not exceed",
		},
		{
			name:    "step-up above block",
			mutate:  func(c *Config) { c.FraudStepUpThreshold = 90 },
			wantErr: "fraud thresholds",
		},
		{
			name:    "unknown failure policy",
			mutate:  func(c *Config) { c.FraudFailurePolicy = "ignore" },
			wantErr: "FRAUD_FAILURE_POLICY",
		},
		{
			name:    "pin too short",
			mutate:  func(c *Config) { c.PINLength = 3 },
			wantErr: "PIN_LENGTH",
		},
		{
			name:    "stripe half configured",
			mutate:  func(c *Config) { c.StripeSecretKey = "sk_test_x" },
			wantErr: "must be set together",
		},
		{
			name:    "webhook secret without stripe",
			mutate:  func(c *Config) { c.StripeWebhookSecret = "whsec_x" },
			wantErr: "STRIPE_WEBHOOK_SECRET",
		},
		{
			name:    "missing device id",
			mutate:  func(c *Config) { c.DeviceID = "" },
			wantErr: "DEVICE_ID",
		},
		{
			name:    "rate limit off",
			mutate:  func(c *Config) { c.RateLimitRPM = 0 },
			wantErr: "RATE_LIMIT_RPM",
		},
		{
			name:    "bad plaid env",
			mutate:  func(c *Config) { c.PlaidEnv = "staging" },
			wantErr: "PLAID_ENV",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Helpers(t *testing.T) {
	cfg := validConfig()
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.StripeEnabled())
	assert.False(t, cfg.PlaidEnabled())

	cfg.StripeSecretKey = "sk_test_x"
	cfg.PlaidClientID, cfg.PlaidSecret = "id", "secret"
	assert.True(t, cfg.StripeEnabled())
	assert.True(t, cfg.PlaidEnabled())
}
