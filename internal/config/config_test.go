package config

import (
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		ListenAddr:        DefaultListenAddr,
		LogLevel:          DefaultLogLevel,
		DatabaseURL:       "postgres://localhost/taskpilot",
		JWTSecret:         "secret",
		TaskBackendURL:    "http://tasks.internal",
		IntentResolverURL: "http://nlu.internal",
		HistoryLimit:      DefaultHistoryLimit,
		MaxTokens:         DefaultMaxTokens,
		ReserveTokens:     DefaultReserveTokens,
		ToolTimeout:       DefaultToolTimeout,
		ChainTimeout:      DefaultChainTimeout,
		StaleThreshold:    DefaultStaleThreshold,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing database url", func(c *Config) { c.DatabaseURL = "" }, true},
		{"missing jwt secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"missing task backend", func(c *Config) { c.TaskBackendURL = "" }, true},
		{"missing resolver", func(c *Config) { c.IntentResolverURL = "" }, true},
		{"history limit zero", func(c *Config) { c.HistoryLimit = 0 }, true},
		{"history limit over cap", func(c *Config) { c.HistoryLimit = 101 }, true},
		{"reserve above max", func(c *Config) { c.ReserveTokens = c.MaxTokens }, true},
		{"tool timeout above chain", func(c *Config) { c.ToolTimeout = c.ChainTimeout }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Setenv("TASKPILOT_DATABASE_URL", "postgres://localhost/taskpilot")
	t.Setenv("TASKPILOT_JWT_SECRET", "secret")
	t.Setenv("TASKPILOT_TASK_BACKEND_URL", "http://tasks.internal")
	t.Setenv("TASKPILOT_INTENT_RESOLVER_URL", "http://nlu.internal")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want default %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.ChainTimeout != DefaultChainTimeout {
		t.Errorf("ChainTimeout = %s, want default %s", cfg.ChainTimeout, DefaultChainTimeout)
	}
}

func TestLoad_ParsesOverrides(t *testing.T) {
	t.Setenv("TASKPILOT_DATABASE_URL", "postgres://localhost/taskpilot")
	t.Setenv("TASKPILOT_JWT_SECRET", "secret")
	t.Setenv("TASKPILOT_TASK_BACKEND_URL", "http://tasks.internal")
	t.Setenv("TASKPILOT_INTENT_RESOLVER_URL", "http://nlu.internal")
	t.Setenv("TASKPILOT_TOOL_TIMEOUT", "2s")
	t.Setenv("TASKPILOT_HISTORY_LIMIT", "50")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ToolTimeout != 2*time.Second {
		t.Errorf("ToolTimeout = %s, want 2s", cfg.ToolTimeout)
	}
	if cfg.HistoryLimit != 50 {
		t.Errorf("HistoryLimit = %d, want 50", cfg.HistoryLimit)
	}
}
