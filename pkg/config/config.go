// Package config reads the process configuration from environment
// variables, with optional per-environment YAML profiles layered on top.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds everything the airlock binary needs to wire itself.
type Config struct {
	Port     string
	LogLevel string

	// DatabaseURL selects Postgres when set; empty falls back to SQLite
	// at SQLitePath.
	DatabaseURL string
	SQLitePath  string

	// RedisAddr enables the Redis session store when set; empty keeps
	// session facts in memory.
	RedisAddr  string
	SessionTTL time.Duration

	CatalogPath   string
	ReceiptSecret string

	// ExecTimeout bounds a single execution and doubles as the sweeper's
	// staleness cutoff. SweepInterval is the sweeper's scan cadence.
	ExecTimeout   time.Duration
	SweepInterval time.Duration

	// Per-client HTTP rate limit. Zero RPS disables limiting.
	RateRPS   int
	RateBurst int

	// Archive of terminal intents. Type is "fs", "s3" or "gcs"; empty
	// disables archiving. Retention is how long a terminal intent stays
	// un-archived.
	ArchiveType      string
	ArchiveDir       string
	ArchiveBucket    string
	ArchiveRegion    string
	ArchiveEndpoint  string
	ArchivePrefix    string
	ArchiveRetention time.Duration

	// ExecutorURL is the external operation layer: confirmed actions are
	// POSTed there. Empty means the host registers executors in process.
	ExecutorURL string

	OTLPEndpoint string
	OTELEnabled  bool
	Environment  string
}

// Load reads configuration from environment variables, applying defaults.
func Load() *Config {
	return &Config{
		Port:     env("AIRLOCK_PORT", "8080"),
		LogLevel: env("LOG_LEVEL", "INFO"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  env("SQLITE_PATH", "data/airlock.db"),

		RedisAddr:  os.Getenv("REDIS_ADDR"),
		SessionTTL: envDuration("SESSION_TTL", 30*time.Minute),

		CatalogPath:   env("CATALOG_PATH", "actions.yaml"),
		ReceiptSecret: os.Getenv("RECEIPT_SECRET"),

		ExecTimeout:   envDuration("EXEC_TIMEOUT", 10*time.Minute),
		SweepInterval: envDuration("SWEEP_INTERVAL", time.Minute),

		RateRPS:   envInt("AIRLOCK_RPS", 20),
		RateBurst: envInt("AIRLOCK_BURST", 40),

		ArchiveType:      os.Getenv("ARCHIVE_TYPE"),
		ArchiveDir:       env("ARCHIVE_DIR", "data/archive"),
		ArchiveBucket:    os.Getenv("ARCHIVE_BUCKET"),
		ArchiveRegion:    env("ARCHIVE_REGION", os.Getenv("AWS_REGION")),
		ArchiveEndpoint:  os.Getenv("ARCHIVE_ENDPOINT"),
		ArchivePrefix:    os.Getenv("ARCHIVE_PREFIX"),
		ArchiveRetention: envDuration("ARCHIVE_RETENTION", 30*24*time.Hour),

		ExecutorURL: os.Getenv("EXECUTOR_URL"),

		OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		Environment:  env("AIRLOCK_ENV", "development"),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
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

func envInt(key string, fallback int) int {
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
