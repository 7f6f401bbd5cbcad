// Package config loads runtime settings from the environment and the
// deployment profile that fixes the evaluation constants.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process configuration. Evaluation tunables live in the
// deployment Profile, not here; the environment only selects
// infrastructure.
type Config struct {
	Port     string
	LogLevel string

	// Organizations is the roster the monitor loop ticks over.
	Organizations []string
	// TickInterval is the pause between scheduler ticks.
	TickInterval time.Duration

	// DatabaseURL selects Postgres when set. Otherwise the store
	// falls back to embedded SQLite at SQLitePath.
	DatabaseURL string
	SQLitePath  string

	// Redis backs the distributed evaluation rate limiter. Empty
	// RedisAddr selects the in-process limiter.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// AuthSecret verifies bearer tokens; AuthIssuer, when set, is
	// additionally enforced on the iss claim.
	AuthSecret string
	AuthIssuer string

	// SigningSeed is the hex-encoded 32-byte master seed for the
	// bundle-signing keyring.
	SigningSeed string

	// ProfilePath points at the deployment profile YAML. Empty means
	// built-in defaults.
	ProfilePath string

	// DetectorPackDir holds WASI detector packs loaded at startup.
	// Empty disables pack loading.
	DetectorPackDir string

	// Archive backend selection.
	ArchiveBackend string
	ArchiveDir     string
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
	GCSBucket      string

	// OTLP collector for traces and metrics.
	OTLPEndpoint     string
	TelemetryEnabled bool
}

// Load reads configuration from environment variables with local
// development defaults.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	sqlitePath := os.Getenv("SQLITE_PATH")
	if sqlitePath == "" {
		sqlitePath = "data/decivue.db"
	}

	orgs := []string{"default"}
	if v := os.Getenv("DECIVUE_ORGS"); v != "" {
		orgs = orgs[:0]
		for _, org := range strings.Split(v, ",") {
			if org = strings.TrimSpace(org); org != "" {
				orgs = append(orgs, org)
			}
		}
	}

	tickInterval := time.Minute
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			tickInterval = d
		}
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	archiveDir := os.Getenv("ARCHIVE_DIR")
	if archiveDir == "" {
		archiveDir = "data/archive"
	}

	otlpEndpoint := os.Getenv("OTLP_ENDPOINT")
	if otlpEndpoint == "" {
		otlpEndpoint = "localhost:4317"
	}

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		Organizations:    orgs,
		TickInterval:     tickInterval,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       sqlitePath,
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          redisDB,
		AuthSecret:       os.Getenv("AUTH_SECRET"),
		AuthIssuer:       os.Getenv("AUTH_ISSUER"),
		SigningSeed:      os.Getenv("SIGNING_SEED"),
		ProfilePath:      os.Getenv("PROFILE_PATH"),
		DetectorPackDir:  os.Getenv("DETECTOR_PACK_DIR"),
		ArchiveBackend:   os.Getenv("ARCHIVE_BACKEND"),
		ArchiveDir:       archiveDir,
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Region:         os.Getenv("S3_REGION"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		GCSBucket:        os.Getenv("GCS_BUCKET"),
		OTLPEndpoint:     otlpEndpoint,
		TelemetryEnabled: os.Getenv("TELEMETRY_ENABLED") == "true",
	}
}
