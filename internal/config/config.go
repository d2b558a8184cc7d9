// Package config provides configuration loading and management for the application.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Sui full node JSON-RPC endpoint
	SuiRPCURL string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Logging
	LogLevel  string
	LogFormat string

	// Refresh cadence and RPC behaviour
	PollInterval   time.Duration
	RequestTimeout time.Duration
	RetryMax       int

	// Snapshot guard settings
	MaxAPY            float64
	MaxStakeChange    float64
	MinValidatorCount int
	CircuitResetDelay time.Duration

	// Input validation
	SnapshotMaxAge   time.Duration
	OutlierDetection bool

	// Scoring; WeightsFile is an optional YAML file with weight overrides
	WeightsFile string
	Workers     int

	// Per-client request rate limiting. X-Forwarded-For is only honoured when
	// the peer matches TrustedProxies (IPs or CIDR ranges).
	RateLimitRPS   float64
	RateLimitBurst int
	TrustedProxies []string

	// Snapshot signing; an empty key generates an ephemeral one
	SigningEnabled bool
	SigningKey     string

	Export ExportConfig
}

// ExportConfig defines where signed ranking snapshots are published
type ExportConfig struct {
	Enabled       bool
	BatchSize     int
	Interval      time.Duration
	WebhookURL    string
	WebhookAPIKey string
	KafkaBrokers  []string
	KafkaTopic    string
}

// Load creates a new Config from environment variables. A .env file in the
// working directory is loaded first when present.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:              GetEnvOrDefault("PORT", "8080"),
		SuiRPCURL:         GetEnvOrDefault("SUI_RPC_URL", "https://fullnode.mainnet.sui.io:443"),
		OtelEndpoint:      GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:          strings.ToLower(GetEnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(GetEnvOrDefault("LOG_FORMAT", "text")),
		PollInterval:      GetEnvAsDuration("POLL_INTERVAL", time.Minute),
		RequestTimeout:    GetEnvAsDuration("REQUEST_TIMEOUT", 10*time.Second),
		RetryMax:          GetEnvAsInt("RPC_RETRY_MAX", 3),
		MaxAPY:            GetEnvAsFloat("MAX_APY", 1.0),          // 100% max APY
		MaxStakeChange:    GetEnvAsFloat("MAX_STAKE_CHANGE", 0.5), // 50% max total stake change
		MinValidatorCount: GetEnvAsInt("MIN_VALIDATOR_COUNT", 4),
		CircuitResetDelay: GetEnvAsDuration("CIRCUIT_RESET_DELAY", 5*time.Minute),
		SnapshotMaxAge:    GetEnvAsDuration("SNAPSHOT_MAX_AGE", 10*time.Minute),
		OutlierDetection:  GetEnvAsBool("APY_OUTLIER_DETECTION", false),
		WeightsFile:       GetEnvOrDefault("SCORE_WEIGHTS_FILE", ""),
		Workers:           GetEnvAsInt("WORKERS", 4),
		RateLimitRPS:      GetEnvAsFloat("RATE_LIMIT_RPS", 10),
		RateLimitBurst:    GetEnvAsInt("RATE_LIMIT_BURST", 20),
		TrustedProxies:    GetEnvAsList("TRUSTED_PROXIES"),
		SigningEnabled:    GetEnvAsBool("SIGNING_ENABLED", true),
		SigningKey:        GetEnvOrDefault("SIGNING_KEY", ""),
		Export: ExportConfig{
			Enabled:       GetEnvAsBool("EXPORT_ENABLED", false),
			BatchSize:     GetEnvAsInt("EXPORT_BATCH_SIZE", 10),
			Interval:      GetEnvAsDuration("EXPORT_INTERVAL", 5*time.Minute),
			WebhookURL:    GetEnvOrDefault("EXPORT_WEBHOOK_URL", ""),
			WebhookAPIKey: GetEnvOrDefault("EXPORT_WEBHOOK_API_KEY", ""),
			KafkaBrokers:  GetEnvAsList("EXPORT_KAFKA_BROKERS"),
			KafkaTopic:    GetEnvOrDefault("EXPORT_KAFKA_TOPIC", "validator-scores"),
		},
	}
}

// Validate checks that the configuration can drive the service
func (c Config) Validate() error {
	if c.SuiRPCURL == "" {
		return fmt.Errorf("SUI_RPC_URL is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.MaxStakeChange < 0 {
		return fmt.Errorf("MAX_STAKE_CHANGE must not be negative, got %f", c.MaxStakeChange)
	}
	if c.Export.Enabled && c.Export.WebhookURL == "" && len(c.Export.KafkaBrokers) == 0 {
		return fmt.Errorf("EXPORT_ENABLED requires EXPORT_WEBHOOK_URL or EXPORT_KAFKA_BROKERS")
	}
	for _, proxy := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err != nil && net.ParseIP(proxy) == nil {
			return fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR range", proxy)
		}
	}
	if c.SigningKey != "" {
		key := strings.TrimPrefix(c.SigningKey, "0x")
		if len(key) != 64 {
			return fmt.Errorf("SIGNING_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}
	return nil
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a bool with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// GetEnvAsList splits a comma separated variable, dropping empty items
func GetEnvAsList(key string) []string {
	value, exists := GetEnv(key)
	if !exists {
		return nil
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
