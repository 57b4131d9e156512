package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Setup environment variables
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, []string{"https://api.mainnet-beta.solana.com"}, cfg.SolanaRPCURLs)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, "mainnet-beta", cfg.SolanaCluster)
	assert.Equal(t, "rescuer-broadcasts", cfg.TemporalTaskQueue)
	assert.Equal(t, 2*time.Second, cfg.ResendInterval)
	assert.Equal(t, 90*time.Second, cfg.ConfirmTimeout)
	assert.Equal(t, 75, cfg.PriorityFeePercentile)
	assert.Equal(t, uint64(1_000_000), cfg.PriorityFeeCapMicroLamports)
	assert.Equal(t, 30*24*time.Hour, cfg.JournalRetention)
	assert.Equal(t, 24*time.Hour, cfg.PruneInterval)
	assert.Equal(t, ":9091", cfg.MetricsAddr)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MultipleRPCURLs(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", " https://a.example.com, ,https://b.example.com ")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.SolanaRPCURLs)
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_MissingSolanaRPCURL(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URL is required")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "resend interval", key: "RESEND_INTERVAL", value: "often", wantErr: "invalid duration"},
		{name: "confirm timeout", key: "CONFIRM_TIMEOUT", value: "1s", wantErr: "must be less than CONFIRM_TIMEOUT"},
		{name: "percentile not a number", key: "PRIORITY_FEE_PERCENTILE", value: "p75", wantErr: "invalid integer"},
		{name: "percentile out of range", key: "PRIORITY_FEE_PERCENTILE", value: "101", wantErr: "between 1 and 100"},
		{name: "fee cap", key: "PRIORITY_FEE_CAP_MICROLAMPORTS", value: "-5", wantErr: "invalid unsigned integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("DATABASE_URL", "postgres://localhost/test")
			os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
			os.Setenv(tt.key, tt.value)
			defer cleanupEnv()

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	os.Setenv("SOLANA_CLUSTER", "devnet")
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	os.Setenv("PRICE_API_URL", "https://prices.example.com")
	os.Setenv("RESEND_INTERVAL", "500ms")
	os.Setenv("CONFIRM_TIMEOUT", "2m")
	os.Setenv("PRIORITY_FEE_PERCENTILE", "90")
	os.Setenv("PRIORITY_FEE_CAP_MICROLAMPORTS", "250,000")
	os.Setenv("JOURNAL_RETENTION", "168h")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "devnet", cfg.SolanaCluster)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, "https://prices.example.com", cfg.PriceAPIURL)
	assert.Equal(t, 500*time.Millisecond, cfg.ResendInterval)
	assert.Equal(t, 2*time.Minute, cfg.ConfirmTimeout)
	assert.Equal(t, 90, cfg.PriorityFeePercentile)
	assert.Equal(t, uint64(250_000), cfg.PriorityFeeCapMicroLamports)
	assert.Equal(t, 7*24*time.Hour, cfg.JournalRetention)
}

func validConfig() *Config {
	return &Config{
		DatabaseURL:           "postgres://localhost/test",
		SolanaRPCURLs:         []string{"https://api.mainnet-beta.solana.com"},
		TemporalHost:          "localhost:7233",
		TemporalNamespace:     "default",
		TemporalTaskQueue:     "rescuer-broadcasts",
		ResendInterval:        2 * time.Second,
		ConfirmTimeout:        90 * time.Second,
		PriorityFeePercentile: 75,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	err := validConfig().Validate()
	assert.NoError(t, err)
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseURL is required")
}

func TestValidate_InvalidIntervals(t *testing.T) {
	cfg := validConfig()
	cfg.ResendInterval = 2 * time.Minute

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ResendInterval must be less than ConfirmTimeout")
}

func TestValidate_TooShortInterval(t *testing.T) {
	cfg := validConfig()
	cfg.ResendInterval = 10 * time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at least 100ms")
}

func TestMustLoad_Panics(t *testing.T) {
	// Don't set required env vars
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"DATABASE_URL",
		"SOLANA_RPC_URL",
		"SOLANA_CLUSTER",
		"SERVER_ADDR",
		"LOG_LEVEL",
		"NATS_URL",
		"TEMPORAL_HOST",
		"PRICE_API_URL",
		"TOKEN_API_URL",
		"RESEND_INTERVAL",
		"CONFIRM_TIMEOUT",
		"PRIORITY_FEE_PERCENTILE",
		"PRIORITY_FEE_CAP_MICROLAMPORTS",
		"JOURNAL_RETENTION",
		"PRUNE_INTERVAL",
		"METRICS_ADDR",
	} {
		os.Unsetenv(key)
	}
}
