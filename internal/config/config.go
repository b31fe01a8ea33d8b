// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Admin bootstrap.
	AdminAPIKey string // API key for the initial admin agent.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Aggregation settings.
	ConsensusThreshold float64 // Agreement fraction required by the CONSENSUS method.
	ExpertMultiplier   float64 // Weight boost applied to the top domain expert.
	HistorySize        int     // Finalized decisions retained for statistics.
	SweepInterval      time.Duration

	// Rate limiting.
	RateLimitPerMinute int // Per-agent request budget; 0 disables limiting.
	RateLimitBurst     int

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("QUORUM_PORT", 8080),
		ReadTimeout:         envDuration("QUORUM_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("QUORUM_WRITE_TIMEOUT", 30*time.Second),
		JWTPrivateKeyPath:   envStr("QUORUM_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:    envStr("QUORUM_JWT_PUBLIC_KEY", ""),
		JWTExpiration:       envDuration("QUORUM_JWT_EXPIRATION", 24*time.Hour),
		AdminAPIKey:         envStr("QUORUM_ADMIN_API_KEY", ""),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "quorum"),
		ConsensusThreshold:  envFloat("QUORUM_CONSENSUS_THRESHOLD", 0.66),
		ExpertMultiplier:    envFloat("QUORUM_EXPERT_MULTIPLIER", 3.0),
		HistorySize:         envInt("QUORUM_HISTORY_SIZE", 1024),
		SweepInterval:       envDuration("QUORUM_SWEEP_INTERVAL", 5*time.Second),
		RateLimitPerMinute:  envInt("QUORUM_RATE_LIMIT_PER_MINUTE", 600),
		RateLimitBurst:      envInt("QUORUM_RATE_LIMIT_BURST", 60),
		LogLevel:            envStr("QUORUM_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("QUORUM_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and sane.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: QUORUM_PORT must be in 1..65535")
	}
	if c.ConsensusThreshold <= 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("config: QUORUM_CONSENSUS_THRESHOLD must be in (0, 1]")
	}
	if c.ExpertMultiplier < 1 {
		return fmt.Errorf("config: QUORUM_EXPERT_MULTIPLIER must be >= 1")
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("config: QUORUM_HISTORY_SIZE must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: QUORUM_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("config: rate limit settings must not be negative")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
