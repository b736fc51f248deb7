// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default values applied when the corresponding variable is unset.
const (
	DefaultListenAddr     = ":8080"
	DefaultLogLevel       = "info"
	DefaultHistoryLimit   = 100
	DefaultMaxTokens      = 4000
	DefaultReserveTokens  = 500
	DefaultToolTimeout    = 2500 * time.Millisecond
	DefaultChainTimeout   = 7500 * time.Millisecond
	DefaultStaleThreshold = 30 * 24 * time.Hour
)

// Config holds everything the binary needs at startup.
type Config struct {
	ListenAddr string
	LogLevel   string
	LogPretty  bool

	// DatabaseURL is a postgres DSN. Required.
	DatabaseURL string

	// JWTSecret verifies bearer token signatures. Required.
	JWTSecret string

	// TaskBackendURL is the base URL of the task CRUD service. Required.
	TaskBackendURL string

	// IntentResolverURL is the base URL of the NLU service. Required.
	IntentResolverURL string

	HistoryLimit  int
	MaxTokens     int
	ReserveTokens int

	ToolTimeout  time.Duration
	ChainTimeout time.Duration

	StaleThreshold time.Duration
}

// Load reads configuration from the environment and validates required
// fields.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:        envOr("TASKPILOT_LISTEN_ADDR", DefaultListenAddr),
		LogLevel:          envOr("TASKPILOT_LOG_LEVEL", DefaultLogLevel),
		LogPretty:         os.Getenv("TASKPILOT_LOG_PRETTY") == "1",
		DatabaseURL:       os.Getenv("TASKPILOT_DATABASE_URL"),
		JWTSecret:         os.Getenv("TASKPILOT_JWT_SECRET"),
		TaskBackendURL:    os.Getenv("TASKPILOT_TASK_BACKEND_URL"),
		IntentResolverURL: os.Getenv("TASKPILOT_INTENT_RESOLVER_URL"),
		HistoryLimit:      envIntOr("TASKPILOT_HISTORY_LIMIT", DefaultHistoryLimit),
		MaxTokens:         envIntOr("TASKPILOT_MAX_TOKENS", DefaultMaxTokens),
		ReserveTokens:     envIntOr("TASKPILOT_RESERVE_TOKENS", DefaultReserveTokens),
		ToolTimeout:       envDurationOr("TASKPILOT_TOOL_TIMEOUT", DefaultToolTimeout),
		ChainTimeout:      envDurationOr("TASKPILOT_CHAIN_TIMEOUT", DefaultChainTimeout),
		StaleThreshold:    DefaultStaleThreshold,
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required fields and bounds.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: TASKPILOT_DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("config: TASKPILOT_JWT_SECRET is required")
	}
	if c.TaskBackendURL == "" {
		return fmt.Errorf("config: TASKPILOT_TASK_BACKEND_URL is required")
	}
	if c.IntentResolverURL == "" {
		return fmt.Errorf("config: TASKPILOT_INTENT_RESOLVER_URL is required")
	}
	if c.HistoryLimit <= 0 || c.HistoryLimit > 100 {
		return fmt.Errorf("config: history limit must be in (0,100], got %d", c.HistoryLimit)
	}
	if c.ReserveTokens >= c.MaxTokens {
		return fmt.Errorf("config: reserve tokens %d must be below max tokens %d",
			c.ReserveTokens, c.MaxTokens)
	}
	if c.ToolTimeout >= c.ChainTimeout {
		return fmt.Errorf("config: tool timeout %s must be below chain timeout %s",
			c.ToolTimeout, c.ChainTimeout)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
