// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// StoreKind selects the account store backend.
type StoreKind string

const (
	StorePostgres StoreKind = "postgres"
	StoreMongo    StoreKind = "mongo"
	StoreMemory   StoreKind = "memory"
)

const (
	_portDefault           = "8080"
	_mongoDatabaseDefault  = "stockflow"
	_cacheTTLDefault       = 30 * time.Second
	_kafkaTopicDefault     = "stockflow.events"
	_assistantModelDefault = "gemini-1.5-flash-latest"
	_avatarModelDefault    = "gemini-2.0-flash-preview-image-generation"
	_assistantRPSDefault   = 2
	_tickIntervalDefault   = 4 * time.Second
)

// Config is the server configuration.
type Config struct {
	Port string

	DatabaseURL   string
	MongoURI      string
	MongoDatabase string
	RunMigrations bool

	RedisURL string
	CacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	GeminiAPIKey   string
	AssistantModel string
	AvatarModel    string
	AssistantRPS   int

	TickInterval time.Duration
	CatalogPath  string

	LogLevel slog.Level
}

// Load reads the configuration from environment variables, applying
// defaults for anything unset.
func Load() (*Config, error) {
	c := &Config{
		Port:           getEnv("PORT", _portDefault),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDatabase:  getEnv("MONGO_DATABASE", _mongoDatabaseDefault),
		RedisURL:       os.Getenv("REDIS_URL"),
		KafkaBrokers:   splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", _kafkaTopicDefault),
		GeminiAPIKey:   os.Getenv("GEMINI_API_KEY"),
		AssistantModel: getEnv("ASSISTANT_MODEL", _assistantModelDefault),
		AvatarModel:    getEnv("AVATAR_MODEL", _avatarModelDefault),
		CatalogPath:    os.Getenv("CATALOG_PATH"),
	}

	var err error
	if c.RunMigrations, err = getBool("RUN_MIGRATIONS", true); err != nil {
		return nil, err
	}
	if c.CacheTTL, err = getDuration("CACHE_TTL", _cacheTTLDefault); err != nil {
		return nil, err
	}
	if c.TickInterval, err = getDuration("TICK_INTERVAL", _tickIntervalDefault); err != nil {
		return nil, err
	}
	if c.AssistantRPS, err = getInt("ASSISTANT_RPS", _assistantRPSDefault); err != nil {
		return nil, err
	}
	if c.LogLevel, err = parseLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return nil, err
	}
	return c, nil
}

// Store returns the backend the configuration selects: PostgreSQL when a
// database URL is set, else MongoDB when a Mongo URI is set, else memory.
func (c *Config) Store() StoreKind {
	switch {
	case c.DatabaseURL != "":
		return StorePostgres
	case c.MongoURI != "":
		return StoreMongo
	default:
		return StoreMemory
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration like 4s", key, v)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, v)
	}
	return n, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(v string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", v, err)
	}
	return l, nil
}
