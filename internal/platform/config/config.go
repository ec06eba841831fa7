// Package config builds runtime configuration from environment variables so
// main stays lean. Defaults are suitable for local development only.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	pstrings "mirpass/pkg/platform/strings"
)

// Config is the top-level runtime configuration.
type Config struct {
	Addr        string
	FrontendURL string
	BackendURL  string

	// JWTSigningKey signs access tokens and SSO tickets (HS256).
	JWTSigningKey string

	Session  SessionConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Kafka    KafkaConfig
}

// SessionConfig bounds the lifetime and polling behavior of authorization
// sessions.
type SessionConfig struct {
	// TTL is the lifetime of a pending authorization session.
	TTL time.Duration
	// PollInterval is the minimum delay a device must respect between polls.
	PollInterval time.Duration
	// AccessTokenTTL is the lifetime of minted bearer credentials.
	AccessTokenTTL time.Duration
	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration
}

// RedisConfig configures the optional Redis-backed session stores.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// PostgresConfig configures the application registry database.
type PostgresConfig struct {
	URL string
}

// KafkaConfig configures the audit event pipeline. Empty Brokers disables
// Kafka publishing and audit events stay on the in-memory sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv reads configuration from the environment.
func FromEnv() Config {
	cfg := Config{
		Addr:          envOr("MIRPASS_ADDR", ":8080"),
		FrontendURL:   envOr("MIRPASS_FRONTEND_URL", "http://localhost:5173"),
		BackendURL:    envOr("MIRPASS_BACKEND_URL", "http://localhost:8080"),
		JWTSigningKey: envOr("MIRPASS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Session: SessionConfig{
			TTL:            envDurationOr("MIRPASS_SESSION_TTL", 15*time.Minute),
			PollInterval:   envDurationOr("MIRPASS_POLL_INTERVAL", 5*time.Second),
			AccessTokenTTL: envDurationOr("MIRPASS_ACCESS_TOKEN_TTL", 7*24*time.Hour),
			SweepInterval:  envDurationOr("MIRPASS_SWEEP_INTERVAL", time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("MIRPASS_REDIS_URL"),
			PoolSize:     envIntOr("MIRPASS_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("MIRPASS_REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDurationOr("MIRPASS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("MIRPASS_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("MIRPASS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("MIRPASS_POSTGRES_URL"),
		},
		Kafka: KafkaConfig{
			Brokers: pstrings.DedupeAndTrim(strings.Split(os.Getenv("MIRPASS_KAFKA_BROKERS"), ",")),
			Topic:   envOr("MIRPASS_KAFKA_AUDIT_TOPIC", "mirpass.audit"),
		},
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
