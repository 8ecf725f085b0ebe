package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airlock-labs/airlock/pkg/config"
)

// TestLoad_Defaults verifies that Load() returns sensible defaults
// when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"AIRLOCK_PORT", "LOG_LEVEL", "DATABASE_URL", "SQLITE_PATH",
		"REDIS_ADDR", "CATALOG_PATH", "EXEC_TIMEOUT", "SWEEP_INTERVAL",
		"AIRLOCK_RPS", "ARCHIVE_TYPE", "EXECUTOR_URL",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL) // empty selects SQLite
	assert.Equal(t, "data/airlock.db", cfg.SQLitePath)
	assert.Equal(t, 10*time.Minute, cfg.ExecTimeout)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 20, cfg.RateRPS)
	assert.Empty(t, cfg.ArchiveType)
}

// TestLoad_Overrides verifies that environment variables correctly
// override default values.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("AIRLOCK_PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://production:5432/airlock")
	t.Setenv("EXEC_TIMEOUT", "3m")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("AIRLOCK_RPS", "100")
	t.Setenv("ARCHIVE_TYPE", "s3")
	t.Setenv("ARCHIVE_BUCKET", "airlock-archive")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres://production:5432/airlock", cfg.DatabaseURL)
	assert.Equal(t, 3*time.Minute, cfg.ExecTimeout)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, 100, cfg.RateRPS)
	assert.Equal(t, "s3", cfg.ArchiveType)
	assert.Equal(t, "airlock-archive", cfg.ArchiveBucket)
}

// TestLoad_MalformedValues verifies that unparseable durations and ints
// fall back to defaults rather than failing the boot.
func TestLoad_MalformedValues(t *testing.T) {
	t.Setenv("EXEC_TIMEOUT", "soon")
	t.Setenv("AIRLOCK_RPS", "many")

	cfg := config.Load()

	assert.Equal(t, 10*time.Minute, cfg.ExecTimeout)
	assert.Equal(t, 20, cfg.RateRPS)
}

func writeProfile(t *testing.T, dir, code, body string) {
	t.Helper()
	path := filepath.Join(dir, "profile_"+code+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadProfile_AppliesOverrides(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "prod", `
name: Production
code: prod
gate:
  execution_timeout: 5m
sweeper:
  interval: 30s
limits:
  requests_per_second: 50
  burst: 100
archive:
  retention: 720h
`)

	p, err := config.LoadProfile(dir, "PROD")
	require.NoError(t, err)
	assert.Equal(t, "prod", p.Code)

	cfg := config.Load()
	p.Apply(cfg)

	assert.Equal(t, 5*time.Minute, cfg.ExecTimeout)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.Equal(t, 50, cfg.RateRPS)
	assert.Equal(t, 100, cfg.RateBurst)
	assert.Equal(t, 720*time.Hour, cfg.ArchiveRetention)
}

func TestLoadProfile_PartialOverride(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "edge", `
name: Edge
sweeper:
  interval: 10s
`)

	p, err := config.LoadProfile(dir, "edge")
	require.NoError(t, err)
	assert.Equal(t, "edge", p.Code) // derived from filename when omitted

	cfg := config.Load()
	before := cfg.ExecTimeout
	p.Apply(cfg)

	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
	assert.Equal(t, before, cfg.ExecTimeout) // untouched
}

func TestLoadProfile_BadDuration(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "bad", `
gate:
  execution_timeout: whenever
`)

	_, err := config.LoadProfile(dir, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse duration")
}

func TestLoadAllProfiles(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir, "prod", "name: Production\ncode: prod\n")
	writeProfile(t, dir, "edge", "name: Edge\n")

	profiles, err := config.LoadAllProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, "Production", profiles["prod"].Name)
	assert.Equal(t, "edge", profiles["edge"].Code)
}

func TestLoadProfile_Missing(t *testing.T) {
	_, err := config.LoadProfile(t.TempDir(), "nope")
	require.Error(t, err)
}
