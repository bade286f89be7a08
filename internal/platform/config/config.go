package config

import (
	"os"
	"strconv"
	"time"
)

// Defaults kept as package vars so tests and main can reference them.
var (
	DefaultRetentionDays = 365
	DefaultSessionTTL    = 30 * time.Minute
)

// Server captures service level configuration.
type Server struct {
	Addr             string
	LogLevel         string
	Environment      string
	RetentionDays    int
	SessionTTL       time.Duration
	ConversionDomain string

	Redis    RedisConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
}

// RedisConfig holds connection settings for the Redis-backed stores.
// An empty URL means Redis is not configured and in-memory stores are used.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig holds connection settings for the Postgres audit trail.
// An empty URL means audit events stay in memory.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// KafkaConfig holds producer settings for the analytics sink.
// Empty brokers mean tracking events are written to the log instead.
type KafkaConfig struct {
	Brokers         string
	Topic           string
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("CONSENTD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	retentionDays := DefaultRetentionDays
	if v := os.Getenv("CONSENT_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			retentionDays = days
		}
	}

	sessionTTL := DefaultSessionTTL
	if v := os.Getenv("SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			sessionTTL = d
		}
	}

	conversionDomain := os.Getenv("CONVERSION_DOMAIN")
	if conversionDomain == "" {
		conversionDomain = "ai.cyoda.net"
	}

	topic := os.Getenv("ANALYTICS_TOPIC")
	if topic == "" {
		topic = "analytics.events"
	}

	return Server{
		Addr:             addr,
		LogLevel:         os.Getenv("LOG_LEVEL"),
		Environment:      envOr("ENVIRONMENT", "development"),
		RetentionDays:    retentionDays,
		SessionTTL:       sessionTTL,
		ConversionDomain: conversionDomain,
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:         os.Getenv("KAFKA_BROKERS"),
			Topic:           topic,
			Acks:            envOr("KAFKA_ACKS", "all"),
			Retries:         envInt("KAFKA_RETRIES", 3),
			DeliveryTimeout: envDuration("KAFKA_DELIVERY_TIMEOUT", 30*time.Second),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}
