package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURLs []string
	SolanaCluster string

	// Price and token metadata API
	PriceAPIURL string
	TokenAPIURL string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Broadcast configuration
	ResendInterval time.Duration
	ConfirmTimeout time.Duration

	// Priority fee configuration
	PriorityFeePercentile       int
	PriorityFeeCapMicroLamports uint64

	// Journal retention
	JournalRetention time.Duration
	PruneInterval    time.Duration

	// Worker metrics listener
	MetricsAddr string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURLs = splitList(os.Getenv("SOLANA_RPC_URL"))
	if len(cfg.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.SolanaCluster = getEnvOrDefault("SOLANA_CLUSTER", "mainnet-beta")

	// Price API configuration
	cfg.PriceAPIURL = getEnvOrDefault("PRICE_API_URL", "https://api.jup.ag")
	cfg.TokenAPIURL = getEnvOrDefault("TOKEN_API_URL", "https://tokens.jup.ag")

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "rescuer-broadcasts")

	// Broadcast configuration
	resend, err := parseDuration("RESEND_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ResendInterval = resend
	}

	confirmTimeout, err := parseDuration("CONFIRM_TIMEOUT", "90s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = confirmTimeout
	}

	if cfg.ResendInterval > 0 && cfg.ConfirmTimeout > 0 && cfg.ResendInterval >= cfg.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("RESEND_INTERVAL (%v) must be less than CONFIRM_TIMEOUT (%v)",
			cfg.ResendInterval, cfg.ConfirmTimeout))
	}

	// Priority fee configuration
	percentile, err := parseInt("PRIORITY_FEE_PERCENTILE", 75)
	if err != nil {
		errs = append(errs, err)
	} else if percentile < 1 || percentile > 100 {
		errs = append(errs, fmt.Errorf("PRIORITY_FEE_PERCENTILE must be between 1 and 100, got %d", percentile))
	} else {
		cfg.PriorityFeePercentile = percentile
	}

	feeCap, err := parseUint("PRIORITY_FEE_CAP_MICROLAMPORTS", 1_000_000)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PriorityFeeCapMicroLamports = feeCap
	}

	// Journal retention
	retention, err := parseDuration("JOURNAL_RETENTION", "720h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.JournalRetention = retention
	}

	prune, err := parseDuration("PRUNE_INTERVAL", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PruneInterval = prune
	}

	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if len(c.SolanaRPCURLs) == 0 {
		errs = append(errs, fmt.Errorf("SolanaRPCURLs is required"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ResendInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("ResendInterval must be at least 100ms"))
	}

	if c.ResendInterval >= c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ResendInterval must be less than ConfirmTimeout"))
	}

	if c.PriorityFeePercentile < 1 || c.PriorityFeePercentile > 100 {
		errs = append(errs, fmt.Errorf("PriorityFeePercentile must be between 1 and 100"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

// parseUint parses an unsigned integer, allowing "_" and "," digit separators.
func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	clean := strings.NewReplacer("_", "", ",", "").Replace(value)
	result, err := strconv.ParseUint(clean, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

// splitList splits a comma-separated list, dropping empty entries.
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
