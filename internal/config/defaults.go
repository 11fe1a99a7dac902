package config

import "time"

// Default configuration values shared by the binaries
const (
	DefaultServerPort      = 8080
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	// Queue defaults
	DefaultQueueProvider     = ProviderMemory
	DefaultPriority          = 5
	DefaultMaxRetries        = 3
	DefaultRetryBaseDelay    = time.Second
	DefaultRetryMaxDelay     = 30 * time.Second
	DefaultVisibilityTimeout = 5 * time.Minute

	// MongoDB defaults
	DefaultMongoDatabase             = "chatqueue"
	DefaultMongoDeadLetterCollection = "dead_letters"
)

// Default returns a configuration with every default applied and no
// environment consulted
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            DefaultServerPort,
			ReadTimeout:     DefaultReadTimeout,
			WriteTimeout:    DefaultWriteTimeout,
			IdleTimeout:     DefaultIdleTimeout,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Queue: QueueConfig{
			Provider:          DefaultQueueProvider,
			KeyPrefix:         "mq",
			PoolSize:          10,
			DefaultPriority:   DefaultPriority,
			DefaultMaxRetries: DefaultMaxRetries,
			RetryBaseDelay:    DefaultRetryBaseDelay,
			RetryMaxDelay:     DefaultRetryMaxDelay,
			VisibilityTimeout: DefaultVisibilityTimeout,
		},
		DeadLetter: DeadLetterConfig{
			Store:           DeadLetterStoreMemory,
			Capacity:        1000,
			MongoDatabase:   DefaultMongoDatabase,
			MongoCollection: DefaultMongoDeadLetterCollection,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
