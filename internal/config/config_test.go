package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "solvereign_session", cfg.CookieName())
	assert.Equal(t, 8*time.Hour, cfg.SessionTTL())
	assert.Equal(t, 30*time.Minute, cfg.RepairSessionTTL())
	assert.Equal(t, 12*time.Hour, cfg.FreezeDuration())
	assert.Equal(t, time.Hour, cfg.IdempotencyTTL())
	assert.Equal(t, 10, cfg.Plan.PublishReasonMinLen)
	assert.Equal(t, 120, cfg.RateLimit.MaxCallsPerMinute)
}

func TestLoadEnvironmentWins(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("REPAIR_SESSION_TTL_SECONDS", "600")
	t.Setenv("SOLVER_WORKERS", "8")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "__Host-solvereign_session", cfg.CookieName())
	assert.Equal(t, 10*time.Minute, cfg.RepairSessionTTL())
	assert.Equal(t, 8, cfg.Plan.SolverWorkers)
}

func TestLoadYAMLFileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7070"
plan:
  publish_reason_min_len: 20
  solver_workers: 2
`), 0o600))

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SOLVER_WORKERS", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, 20, cfg.Plan.PublishReasonMinLen)
	// Environment beats the file.
	assert.Equal(t, 6, cfg.Plan.SolverWorkers)
}

func TestLoadBadConfigPath(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadIgnoresMalformedInts(t *testing.T) {
	t.Setenv("SESSION_TTL_SECONDS", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8*time.Hour, cfg.SessionTTL())
}
