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
	old := os.Getenv(key)
	os.Setenv(key, value)
	t.Cleanup(func() {
		if old == "" {
			os.Unsetenv(key)
		} else {
			os.Setenv(key, old)
		}
	})
}

func baseConfig() Config {
	return Config{
		Port:            DefaultPort,
		Env:             DefaultEnv,
		GatewayMode:     "memory",
		FeeAgentBPS:     7000,
		FeePoolBPS:      2000,
		FeeTreasuryBPS:  1000,
		ReputationAlpha: 0.3,
		ReputationPrior: 0.5,
		TierThresholds:  []string{"0", "100", "1000", "10000"},
		Networks: map[string]NetworkConfig{
			"base": {NativeCurrency: "ETH", BridgeProtocols: []string{"layerzero"}},
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "memory", cfg.GatewayMode)
	assert.Equal(t, DefaultCurrency, cfg.DefaultCurrency)
	assert.Equal(t, 7000, cfg.FeeAgentBPS)
	assert.Equal(t, 0.3, cfg.ReputationAlpha)
	assert.Equal(t, []string{"0", "100", "1000", "10000"}, cfg.TierThresholds)
	assert.Equal(t, "120", cfg.CapabilityMinimums["web_automation"])
	assert.Contains(t, cfg.Networks, "cardano")
	assert.Equal(t, "ADA", cfg.Networks["cardano"].NativeCurrency)
	assert.True(t, cfg.StrictPeriods)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoad_EVMModeRequiresKey(t *testing.T) {
	setEnv(t, "GATEWAY_MODE", "evm")
	setEnv(t, "PRIVATE_KEY", "tooshort")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "64 hex characters")
}

func TestLoad_EVMModeValidKey(t *testing.T) {
	setEnv(t, "GATEWAY_MODE", "evm")
	setEnv(t, "PRIVATE_KEY", "0x0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "evm", cfg.GatewayMode)
}

func TestLoad_MalformedNetworkJSON(t *testing.T) {
	setEnv(t, "NETWORKS", "{not json")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "NETWORKS")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "bad gateway mode",
			mutate:  func(c *Config) { c.GatewayMode = "carrier-pigeon" },
			wantErr: "GATEWAY_MODE",
		},
		{
			name:    "fee split does not sum",
			mutate:  func(c *Config) { c.FeePoolBPS = 1000 },
			wantErr: "sum to 10000",
		},
		{
			name:    "negative fee share",
			mutate:  func(c *Config) { c.FeeAgentBPS = 11000; c.FeePoolBPS = -1000 },
			wantErr: "non-negative",
		},
		{
			name:    "alpha out of range",
			mutate:  func(c *Config) { c.ReputationAlpha = 1.5 },
			wantErr: "REPUTATION_ALPHA",
		},
		{
			name:    "prior out of range",
			mutate:  func(c *Config) { c.ReputationPrior = -0.1 },
			wantErr: "REPUTATION_PRIOR",
		},
		{
			name:    "empty tier thresholds",
			mutate:  func(c *Config) { c.TierThresholds = nil },
			wantErr: "TIER_THRESHOLDS",
		},
		{
			name:    "empty network table",
			mutate:  func(c *Config) { c.Networks = nil },
			wantErr: "NETWORKS",
		},
		{
			name: "network missing currency",
			mutate: func(c *Config) {
				c.Networks = map[string]NetworkConfig{"x": {BridgeProtocols: []string{"native"}}}
			},
			wantErr: "native currency",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := baseConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnvHelpers(t *testing.T) {
	setEnv(t, "TEST_VAR", "custom_value")
	setEnv(t, "TEST_INT", "42")
	setEnv(t, "TEST_INVALID", "not_a_number")
	setEnv(t, "TEST_BOOL", "false")
	setEnv(t, "TEST_DUR", "90s")
	setEnv(t, "TEST_FLOAT", "0.25")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
	assert.Equal(t, false, getEnvBool("TEST_BOOL", true))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DUR", time.Minute))
	assert.Equal(t, 0.25, getEnvFloat("TEST_FLOAT", 0.5))
	assert.Equal(t, 0.5, getEnvFloat("NONEXISTENT_VAR", 0.5))
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"0", "100", "1000"}, splitCSV("0, 100 ,1000"))
	assert.Empty(t, splitCSV(" , "))
}
