package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Lock backends for the per-group ledger lock.
const (
	LockBackendRedis = "redis"
	LockBackendLocal = "local"
)

// AppConfig aggregates runtime configuration. Values come from an optional
// app.env file and environment variables, with defaults for local development.
type AppConfig struct {
	HTTPAddr string
	DBPath   string
	LogLevel string

	RedisAddr string
	RedisDB   int

	// Kafka brokers (comma separated), topic and the audit consumer group.
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	// Redis Stream outbox: the ledger appends events, the relay forwards them to Kafka.
	EventStream   string
	EventGroup    string
	EventConsumer string

	LockBackend string
	LockTTL     time.Duration

	// Pickup request rate limit per organization and idempotency key retention.
	RequestRateLimit  int
	RequestRateWindow time.Duration
	IdempotencyTTL    time.Duration

	ExpirySweepInterval time.Duration

	// Header token guarding the admin endpoints.
	AdminToken string
}

// Load reads and validates configuration, falling back to defaults.
func Load() (AppConfig, error) {
	v := viper.New()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DB_PATH", "food_rescue.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_TOPIC", "food-rescue-events")
	v.SetDefault("KAFKA_GROUP_ID", "food-rescue-audit")
	v.SetDefault("EVENT_STREAM", "food_rescue:events")
	v.SetDefault("EVENT_GROUP", "food-rescue-relay-group")
	v.SetDefault("EVENT_CONSUMER", "food-rescue-relay-1")
	v.SetDefault("LOCK_BACKEND", LockBackendRedis)
	v.SetDefault("LOCK_TTL_SEC", 10)
	v.SetDefault("REQUEST_RATE_LIMIT", 30)
	v.SetDefault("REQUEST_RATE_WINDOW_SEC", 60)
	v.SetDefault("IDEMPOTENCY_TTL_HOUR", 24)
	v.SetDefault("EXPIRY_SWEEP_INTERVAL_SEC", 300)
	v.SetDefault("ADMIN_TOKEN", "dev-admin-token")

	v.AddConfigPath(".")
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return AppConfig{}, fmt.Errorf("reading app.env: %w", err)
		}
	}

	cfg := AppConfig{
		HTTPAddr:      strings.TrimSpace(v.GetString("HTTP_ADDR")),
		DBPath:        strings.TrimSpace(v.GetString("DB_PATH")),
		LogLevel:      strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
		RedisAddr:     strings.TrimSpace(v.GetString("REDIS_ADDR")),
		KafkaBrokers:  splitCSV(v.GetString("KAFKA_BROKERS")),
		KafkaTopic:    strings.TrimSpace(v.GetString("KAFKA_TOPIC")),
		KafkaGroupID:  strings.TrimSpace(v.GetString("KAFKA_GROUP_ID")),
		EventStream:   strings.TrimSpace(v.GetString("EVENT_STREAM")),
		EventGroup:    strings.TrimSpace(v.GetString("EVENT_GROUP")),
		EventConsumer: strings.TrimSpace(v.GetString("EVENT_CONSUMER")),
		LockBackend:   strings.ToLower(strings.TrimSpace(v.GetString("LOCK_BACKEND"))),
		AdminToken:    strings.TrimSpace(v.GetString("ADMIN_TOKEN")),
	}

	var err error
	if cfg.RedisDB, err = getInt(v, "REDIS_DB"); err != nil {
		return AppConfig{}, err
	}
	if cfg.RedisDB < 0 {
		return AppConfig{}, fmt.Errorf("REDIS_DB must be >= 0")
	}

	if cfg.RequestRateLimit, err = getPositiveInt(v, "REQUEST_RATE_LIMIT"); err != nil {
		return AppConfig{}, err
	}
	windowSec, err := getPositiveInt(v, "REQUEST_RATE_WINDOW_SEC")
	if err != nil {
		return AppConfig{}, err
	}
	cfg.RequestRateWindow = time.Duration(windowSec) * time.Second

	lockSec, err := getPositiveInt(v, "LOCK_TTL_SEC")
	if err != nil {
		return AppConfig{}, err
	}
	cfg.LockTTL = time.Duration(lockSec) * time.Second

	idemHour, err := getPositiveInt(v, "IDEMPOTENCY_TTL_HOUR")
	if err != nil {
		return AppConfig{}, err
	}
	cfg.IdempotencyTTL = time.Duration(idemHour) * time.Hour

	sweepSec, err := getPositiveInt(v, "EXPIRY_SWEEP_INTERVAL_SEC")
	if err != nil {
		return AppConfig{}, err
	}
	cfg.ExpirySweepInterval = time.Duration(sweepSec) * time.Second

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (cfg AppConfig) validate() error {
	required := map[string]string{
		"HTTP_ADDR":      cfg.HTTPAddr,
		"DB_PATH":        cfg.DBPath,
		"KAFKA_TOPIC":    cfg.KafkaTopic,
		"KAFKA_GROUP_ID": cfg.KafkaGroupID,
		"EVENT_STREAM":   cfg.EventStream,
		"EVENT_GROUP":    cfg.EventGroup,
		"EVENT_CONSUMER": cfg.EventConsumer,
		"ADMIN_TOKEN":    cfg.AdminToken,
	}
	for key, value := range required {
		if value == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	if len(cfg.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS must not be empty")
	}
	switch cfg.LockBackend {
	case LockBackendRedis, LockBackendLocal:
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendRedis, LockBackendLocal, cfg.LockBackend)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.LogLevel)
	}
	return nil
}

// getInt parses an integer setting from its raw string so that garbage is
// reported instead of read as zero.
func getInt(v *viper.Viper, key string) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getPositiveInt(v *viper.Viper, key string) (int, error) {
	n, err := getInt(v, key)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return n, nil
}

// splitCSV parses a comma separated list, dropping blanks.
func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
