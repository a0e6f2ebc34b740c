package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Milix-M/DeepReSearch/internal/engine"
	"github.com/Milix-M/DeepReSearch/internal/janitor"
)

// Config holds all deepresearch configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr        string `json:"listen_addr"`
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	Model             string `json:"model"`
	RecursionLimit    int    `json:"recursion_limit"`
	CORSAllowOrigins  string `json:"cors_allow_origins"`
	HITLPredicate     string `json:"hitl_predicate"`
	RetentionSchedule string `json:"retention_schedule"`
	RetentionAge      string `json:"retention_age"`

	// Credentials come from the environment only, never from settings.json.
	AnthropicAPIKey  string `json:"-"`
	AnthropicBaseURL string `json:"-"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr:        ":8000",
		LogLevel:          "info",
		RecursionLimit:    engine.DefaultStepLimit,
		CORSAllowOrigins:  "http://localhost:3000,http://127.0.0.1:3000",
		RetentionSchedule: janitor.DefaultSchedule,
		RetentionAge:      "24h",
	}
}

func deepresearchDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".deepresearch"
	}
	return filepath.Join(home, ".deepresearch")
}

func settingsPath() string {
	return filepath.Join(deepresearchDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("DEEPRESEARCH_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DEEPRESEARCH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DEEPRESEARCH_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("DEEPRESEARCH_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("GRAPH_RECURSION_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RecursionLimit = n
		}
	}
	if v := os.Getenv("CORS_ALLOW_ORIGINS"); v != "" {
		cfg.CORSAllowOrigins = v
	}
	if v := os.Getenv("DEEPRESEARCH_HITL_PREDICATE"); v != "" {
		cfg.HITLPredicate = v
	}
	if v := os.Getenv("DEEPRESEARCH_RETENTION_SCHEDULE"); v != "" {
		cfg.RetentionSchedule = v
	}
	if v := os.Getenv("DEEPRESEARCH_RETENTION_AGE"); v != "" {
		cfg.RetentionAge = v
	}
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.AnthropicBaseURL = os.Getenv("ANTHROPIC_BASE_URL")

	return cfg
}

// allowOrigins splits the comma-separated origin list.
func (c Config) allowOrigins() []string {
	parts := strings.Split(c.CORSAllowOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// retentionAge parses the configured age, falling back to the janitor default.
func (c Config) retentionAge() time.Duration {
	d, err := time.ParseDuration(c.RetentionAge)
	if err != nil || d <= 0 {
		return janitor.DefaultRetentionAge
	}
	return d
}
