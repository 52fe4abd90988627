// Package config handles engine configuration from environment variables.
//
// Economic policy (stake tiers, capability minimums, fee split, bridge
// table) is explicit validated configuration, never constants buried at
// call sites. Domain packages consume these values through their own
// policy constructors; this package only carries primitives.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// NetworkConfig describes one settlement network in the bridge table.
type NetworkConfig struct {
	NativeCurrency  string   `json:"native_currency"`
	BridgeProtocols []string `json:"bridge_protocols"`
}

// Config holds all engine configuration.
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ledger gateway
	GatewayMode     string // "memory" or "evm"
	RPCURL          string
	ChainID         int64
	PrivateKey      string            // Hex-encoded operator key, required for evm mode
	OperatorAddress string            //
	TokenContracts  map[string]string // currency symbol -> ERC-20 contract address

	// Settlement
	DefaultCurrency string
	TreasuryAddress string

	// Registry policy
	TierThresholds     []string          // ascending minimum stakes for Basic..Enterprise
	CapabilityMinimums map[string]string // capability -> minimum stake
	DefaultMinStake    string            // floor for capabilities not in the table

	// Escrow policy
	TierPaymentCaps map[string]string // tier name -> max escrow payment
	SweepInterval   time.Duration

	// Revenue policy
	FeeAgentBPS        int // share of each release kept by the agent
	FeePoolBPS         int // share accrued to the revenue pool
	FeeTreasuryBPS     int // share accrued to the treasury
	StrictPeriods      bool
	DistributeInterval time.Duration

	// Reputation policy
	ReputationAlpha float64 // EWMA smoothing factor
	ReputationPrior float64 // score assigned before any events
	SyncInterval    time.Duration

	// Cross-chain policy
	Networks map[string]NetworkConfig

	// Security
	AdminSecret  string
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort      = "8080"
	DefaultEnv       = "development"
	DefaultLogLevel  = "info"
	DefaultRPCURL    = "https://sepolia.base.org"
	DefaultChainID   = 84532 // Base Sepolia
	DefaultCurrency  = "USDC"
	DefaultRateLimit = 100
)

// Default policy tables. Every value here is overridable via env.
const (
	defaultTierThresholds  = "0,100,1000,10000"
	defaultCapabilityMins  = `{"web_automation":"120","code_execution":"500","financial_analysis":"1000"}`
	defaultTierCaps        = `{"basic":"100","standard":"1000","professional":"10000","enterprise":"1000000"}`
	defaultNetworkTable    = `{"ethereum":{"native_currency":"ETH","bridge_protocols":["layerzero","wormhole"]},"base":{"native_currency":"ETH","bridge_protocols":["layerzero"]},"cardano":{"native_currency":"ADA","bridge_protocols":["wormhole"]},"solana":{"native_currency":"SOL","bridge_protocols":["layerzero","wormhole"]}}`
	defaultTokenContracts  = `{"USDC":"0x036CbD53842c5426634e7929541eC2318f3dCF7e"}`
	defaultFeeAgentBPS     = 7000
	defaultFeePoolBPS      = 2000
	defaultFeeTreasuryBPS  = 1000
	defaultReputationAlpha = 0.3
	defaultReputationPrior = 0.5
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:          getEnv("LOG_FORMAT", "text"),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		GatewayMode:        getEnv("GATEWAY_MODE", "memory"),
		RPCURL:             getEnv("RPC_URL", DefaultRPCURL),
		ChainID:            getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:         os.Getenv("PRIVATE_KEY"),
		OperatorAddress:    os.Getenv("OPERATOR_ADDRESS"),
		DefaultCurrency:    getEnv("DEFAULT_CURRENCY", DefaultCurrency),
		TreasuryAddress:    getEnv("TREASURY_ADDRESS", "treasury"),
		TierThresholds:     splitCSV(getEnv("TIER_THRESHOLDS", defaultTierThresholds)),
		DefaultMinStake:    getEnv("DEFAULT_MIN_STAKE", "10"),
		SweepInterval:      getEnvDuration("ESCROW_SWEEP_INTERVAL", time.Minute),
		FeeAgentBPS:        int(getEnvInt64("FEE_AGENT_BPS", defaultFeeAgentBPS)),
		FeePoolBPS:         int(getEnvInt64("FEE_POOL_BPS", defaultFeePoolBPS)),
		FeeTreasuryBPS:     int(getEnvInt64("FEE_TREASURY_BPS", defaultFeeTreasuryBPS)),
		StrictPeriods:      getEnvBool("REVENUE_STRICT_PERIODS", true),
		DistributeInterval: getEnvDuration("REVENUE_DISTRIBUTE_INTERVAL", time.Hour),
		ReputationAlpha:    getEnvFloat("REPUTATION_ALPHA", defaultReputationAlpha),
		ReputationPrior:    getEnvFloat("REPUTATION_PRIOR", defaultReputationPrior),
		SyncInterval:       getEnvDuration("REPUTATION_SYNC_INTERVAL", 10*time.Minute),
		AdminSecret:        os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := getEnvJSON("CAPABILITY_MIN_STAKES", defaultCapabilityMins, &cfg.CapabilityMinimums); err != nil {
		return nil, err
	}
	if err := getEnvJSON("TIER_PAYMENT_CAPS", defaultTierCaps, &cfg.TierPaymentCaps); err != nil {
		return nil, err
	}
	if err := getEnvJSON("NETWORKS", defaultNetworkTable, &cfg.Networks); err != nil {
		return nil, err
	}
	if err := getEnvJSON("TOKEN_CONTRACTS", defaultTokenContracts, &cfg.TokenContracts); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	switch c.GatewayMode {
	case "memory":
	case "evm":
		key := c.PrivateKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("PRIVATE_KEY must be 64 hex characters for evm gateway mode")
		}
		if c.RPCURL == "" {
			return fmt.Errorf("RPC_URL is required for evm gateway mode")
		}
	default:
		return fmt.Errorf("GATEWAY_MODE must be \"memory\" or \"evm\", got %q", c.GatewayMode)
	}

	if c.FeeAgentBPS < 0 || c.FeePoolBPS < 0 || c.FeeTreasuryBPS < 0 {
		return fmt.Errorf("fee split shares must be non-negative")
	}
	if sum := c.FeeAgentBPS + c.FeePoolBPS + c.FeeTreasuryBPS; sum != 10000 {
		return fmt.Errorf("fee split must sum to 10000 basis points, got %d", sum)
	}

	if c.ReputationAlpha <= 0 || c.ReputationAlpha > 1 {
		return fmt.Errorf("REPUTATION_ALPHA must be in (0,1], got %v", c.ReputationAlpha)
	}
	if c.ReputationPrior < 0 || c.ReputationPrior > 1 {
		return fmt.Errorf("REPUTATION_PRIOR must be in [0,1], got %v", c.ReputationPrior)
	}

	if len(c.TierThresholds) == 0 {
		return fmt.Errorf("TIER_THRESHOLDS must not be empty")
	}
	if len(c.Networks) == 0 {
		return fmt.Errorf("NETWORKS must not be empty")
	}
	for id, n := range c.Networks {
		if n.NativeCurrency == "" {
			return fmt.Errorf("network %q has no native currency", id)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvJSON(key, defaultValue string, out any) error {
	raw := getEnv(key, defaultValue)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("%s: invalid JSON: %w", key, err)
	}
	return nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
