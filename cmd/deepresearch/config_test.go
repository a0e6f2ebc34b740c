package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Milix-M/DeepReSearch/internal/engine"
	"github.com/Milix-M/DeepReSearch/internal/janitor"
)

// clearEnv blanks every config env var so layering tests start from defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DEEPRESEARCH_LISTEN_ADDR", "DEEPRESEARCH_DB_PATH", "DEEPRESEARCH_LOG_LEVEL",
		"DEEPRESEARCH_MODEL", "GRAPH_RECURSION_LIMIT", "CORS_ALLOW_ORIGINS",
		"DEEPRESEARCH_HITL_PREDICATE", "DEEPRESEARCH_RETENTION_SCHEDULE",
		"DEEPRESEARCH_RETENTION_AGE", "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)

	cfg := loadConfig()
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Empty(t, cfg.DBPath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, engine.DefaultStepLimit, cfg.RecursionLimit)
	assert.Equal(t, "http://localhost:3000,http://127.0.0.1:3000", cfg.CORSAllowOrigins)
	assert.Equal(t, janitor.DefaultSchedule, cfg.RetentionSchedule)
	assert.Equal(t, janitor.DefaultRetentionAge, cfg.retentionAge())
}

func TestLoadConfig_SettingsFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	dir := filepath.Join(home, ".deepresearch")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	settings := map[string]any{
		"listen_addr":     ":9100",
		"db_path":         "/tmp/research.db",
		"recursion_limit": 25,
	}
	data, err := json.Marshal(settings)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"), data, 0o644))

	cfg := loadConfig()
	assert.Equal(t, ":9100", cfg.ListenAddr)
	assert.Equal(t, "/tmp/research.db", cfg.DBPath)
	assert.Equal(t, 25, cfg.RecursionLimit)
	assert.Equal(t, "info", cfg.LogLevel, "unset fields keep their defaults")
}

func TestLoadConfig_EnvOverridesSettings(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	clearEnv(t)

	dir := filepath.Join(home, ".deepresearch")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "settings.json"),
		[]byte(`{"listen_addr": ":9100"}`), 0o644))

	t.Setenv("DEEPRESEARCH_LISTEN_ADDR", ":9200")
	t.Setenv("GRAPH_RECURSION_LIMIT", "7")
	t.Setenv("CORS_ALLOW_ORIGINS", "https://research.example.com")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	cfg := loadConfig()
	assert.Equal(t, ":9200", cfg.ListenAddr)
	assert.Equal(t, 7, cfg.RecursionLimit)
	assert.Equal(t, "https://research.example.com", cfg.CORSAllowOrigins)
	assert.Equal(t, "sk-test", cfg.AnthropicAPIKey)
}

func TestLoadConfig_IgnoresBadRecursionLimit(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	clearEnv(t)

	t.Setenv("GRAPH_RECURSION_LIMIT", "zero")
	cfg := loadConfig()
	assert.Equal(t, engine.DefaultStepLimit, cfg.RecursionLimit)

	t.Setenv("GRAPH_RECURSION_LIMIT", "-3")
	cfg = loadConfig()
	assert.Equal(t, engine.DefaultStepLimit, cfg.RecursionLimit)
}

func TestConfig_AllowOrigins(t *testing.T) {
	cfg := Config{CORSAllowOrigins: "http://localhost:3000, http://127.0.0.1:3000 ,"}
	assert.Equal(t, []string{"http://localhost:3000", "http://127.0.0.1:3000"}, cfg.allowOrigins())
}

func TestConfig_RetentionAge(t *testing.T) {
	assert.Equal(t, 36*time.Hour, Config{RetentionAge: "36h"}.retentionAge())
	assert.Equal(t, janitor.DefaultRetentionAge, Config{RetentionAge: "not a duration"}.retentionAge())
	assert.Equal(t, janitor.DefaultRetentionAge, Config{RetentionAge: "-1h"}.retentionAge())
}
