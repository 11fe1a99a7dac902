package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Queue provider kinds
const (
	ProviderMemory = "memory"
	ProviderRedis  = "redis"
)

// Dead-letter store kinds
const (
	DeadLetterStoreMemory  = "memory"
	DeadLetterStoreMongoDB = "mongodb"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig
	Queue      QueueConfig
	DeadLetter DeadLetterConfig
	Consumer   ConsumerConfig
	Log        LogConfig
}

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// QueueConfig selects and tunes the queue provider
type QueueConfig struct {
	Provider          string        `env:"QUEUE_PROVIDER" envDefault:"memory"`
	RedisURL          string        `env:"REDIS_URL"`
	KeyPrefix         string        `env:"QUEUE_KEY_PREFIX" envDefault:"mq"`
	PoolSize          int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	DefaultPriority   int           `env:"QUEUE_DEFAULT_PRIORITY" envDefault:"5"`
	DefaultMaxRetries int           `env:"QUEUE_DEFAULT_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay    time.Duration `env:"QUEUE_RETRY_BASE_DELAY" envDefault:"1s"`
	RetryMaxDelay     time.Duration `env:"QUEUE_RETRY_MAX_DELAY" envDefault:"30s"`
	VisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" envDefault:"5m"`
	ReaperInterval    time.Duration `env:"QUEUE_REAPER_INTERVAL" envDefault:"0s"`
}

// DeadLetterConfig selects where exhausted messages are archived
type DeadLetterConfig struct {
	Store           string `env:"DEADLETTER_STORE" envDefault:"memory"`
	Capacity        int    `env:"DEADLETTER_CAPACITY" envDefault:"1000"`
	MongoURI        string `env:"MONGODB_URI"`
	MongoDatabase   string `env:"MONGODB_DATABASE" envDefault:"chatqueue"`
	MongoCollection string `env:"MONGODB_DEADLETTER_COLLECTION" envDefault:"dead_letters"`
}

// ConsumerConfig configures the consumer process
type ConsumerConfig struct {
	InstanceID string   `env:"CONSUMER_INSTANCE_ID"`
	Queues     []string `env:"CONSUMER_QUEUES" envSeparator:","`
}

// LogConfig configures structured logging
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads a .env file when present and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !isMissingFile(err) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.Queue.Provider = strings.ToLower(strings.TrimSpace(cfg.Queue.Provider))
	cfg.DeadLetter.Store = strings.ToLower(strings.TrimSpace(cfg.DeadLetter.Store))

	return cfg, nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Queue.Provider {
	case ProviderMemory:
	case ProviderRedis:
		if c.Queue.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis queue provider")
		}
	default:
		return fmt.Errorf("unknown queue provider: %q", c.Queue.Provider)
	}

	if c.Queue.DefaultMaxRetries < 0 {
		return fmt.Errorf("invalid default max retries: %d", c.Queue.DefaultMaxRetries)
	}
	if c.Queue.RetryBaseDelay <= 0 || c.Queue.RetryMaxDelay <= 0 {
		return fmt.Errorf("retry delays must be positive")
	}
	if c.Queue.RetryMaxDelay < c.Queue.RetryBaseDelay {
		return fmt.Errorf("retry max delay %s is below base delay %s", c.Queue.RetryMaxDelay, c.Queue.RetryBaseDelay)
	}
	if c.Queue.VisibilityTimeout < time.Second {
		return fmt.Errorf("visibility timeout must be at least 1s, got %s", c.Queue.VisibilityTimeout)
	}
	if c.Queue.ReaperInterval < 0 {
		return fmt.Errorf("invalid reaper interval: %s", c.Queue.ReaperInterval)
	}

	switch c.DeadLetter.Store {
	case DeadLetterStoreMemory:
		if c.DeadLetter.Capacity <= 0 {
			return fmt.Errorf("invalid dead-letter capacity: %d", c.DeadLetter.Capacity)
		}
	case DeadLetterStoreMongoDB:
		if c.DeadLetter.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongodb dead-letter store")
		}
	default:
		return fmt.Errorf("unknown dead-letter store: %q", c.DeadLetter.Store)
	}

	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info
func (c LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a slog logger writing to w. LOG_FORMAT=text selects the
// text handler, anything else JSON.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Addr returns the listen address
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
