// Package config loads trustgate settings from the environment and tenant
// policies from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danielpatrickdp/trustgate/internal/covenant"
	"github.com/danielpatrickdp/trustgate/internal/gate"
)

// Config holds process configuration.
type Config struct {
	ListenAddr     string
	SampleDB       string
	AuditDSN       string
	AuditJSONL     string
	RedisAddr      string
	RedisStream    string
	AsyncAudit     bool
	AuditQueueSize int
	Window         time.Duration
	EmitInterval   time.Duration
	OTLPEndpoint   string
	LogLevel       slog.Level
	PolicyFile     string
	JWTSecret      string
	Gate           gate.Config

	// AllowCallOverrides lets transports forward per-call threshold and
	// weights overrides.
	AllowCallOverrides bool
}

// Load reads configuration from environment variables. Unset variables fall
// back to defaults; set but malformed ones are errors.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:   envOr("TRUSTGATE_LISTEN", ":50061"),
		SampleDB:     envOr("TRUSTGATE_SAMPLE_DB", "trustgate.db"),
		AuditDSN:     envOr("TRUSTGATE_AUDIT_DSN", "trustgate-audit.db"),
		AuditJSONL:   os.Getenv("TRUSTGATE_AUDIT_JSONL"),
		RedisAddr:    os.Getenv("TRUSTGATE_REDIS_ADDR"),
		RedisStream:  envOr("TRUSTGATE_REDIS_STREAM", "trustgate:decisions"),
		OTLPEndpoint: os.Getenv("TRUSTGATE_OTLP_ENDPOINT"),
		PolicyFile:   os.Getenv("TRUSTGATE_POLICY_FILE"),
		JWTSecret:    os.Getenv("TRUSTGATE_JWT_SECRET"),
		Gate:         gate.DefaultConfig(),
	}

	var err error
	if cfg.AsyncAudit, err = envBool("TRUSTGATE_ASYNC_AUDIT", false); err != nil {
		return nil, err
	}
	if cfg.AllowCallOverrides, err = envBool("TRUSTGATE_ALLOW_CALL_OVERRIDES", false); err != nil {
		return nil, err
	}
	if cfg.AuditQueueSize, err = envInt("TRUSTGATE_AUDIT_QUEUE", 1024); err != nil {
		return nil, err
	}
	if cfg.Window, err = envDuration("TRUSTGATE_WINDOW", 0); err != nil {
		return nil, err
	}
	if cfg.EmitInterval, err = envDuration("TRUSTGATE_EMIT_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = envLevel("TRUSTGATE_LOG_LEVEL", slog.LevelInfo); err != nil {
		return nil, err
	}

	if cfg.Gate.Threshold, err = envFloat("EMIT_THRESHOLD", cfg.Gate.Threshold); err != nil {
		return nil, err
	}
	if cfg.Gate.Weights.Compliance, err = envFloat("WEIGHT_COMPLIANCE", cfg.Gate.Weights.Compliance); err != nil {
		return nil, err
	}
	if cfg.Gate.Weights.Attestation, err = envFloat("WEIGHT_ATTESTATION", cfg.Gate.Weights.Attestation); err != nil {
		return nil, err
	}
	if cfg.Gate.Weights.Entropy, err = envFloat("WEIGHT_ENTROPY", cfg.Gate.Weights.Entropy); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv("DENY_TAGS"); ok {
		cfg.Gate.DenyTags = covenant.ParseTags(v)
	}

	if err := cfg.Gate.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Window < 0 || cfg.EmitInterval < 0 {
		return nil, fmt.Errorf("load config: durations must be >= 0")
	}
	return cfg, nil
}

// AuditIsPostgres reports whether AuditDSN names a Postgres database rather
// than a SQLite file.
func (c *Config) AuditIsPostgres() bool {
	return strings.HasPrefix(c.AuditDSN, "postgres://") || strings.HasPrefix(c.AuditDSN, "postgresql://")
}

// #region env-helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return fallback, nil
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("parse %s: invalid boolean %q", key, v)
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func envLevel(key string, fallback slog.Level) (slog.Level, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return l, nil
}

// #endregion env-helpers
