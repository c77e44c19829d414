package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	JWTSecret   string `env:"JWT_SECRET"`
	Port        int    `env:"PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv      string `env:"APP_ENV" envDefault:"production"`

	// Empty RedisURL publishes events to the log instead of a stream.
	RedisURL          string `env:"REDIS_URL"`
	EventStream       string `env:"EVENT_STREAM" envDefault:"bank.transactions"`
	EventStreamMaxLen int64  `env:"EVENT_STREAM_MAXLEN" envDefault:"100000"`

	LockTimeout time.Duration `env:"LOCK_TIMEOUT" envDefault:"2s"`

	RelayInterval    time.Duration `env:"RELAY_INTERVAL" envDefault:"500ms"`
	RelayBatchSize   int           `env:"RELAY_BATCH_SIZE" envDefault:"100"`
	RelayMaxAttempts int           `env:"RELAY_MAX_ATTEMPTS" envDefault:"10"`

	ListDefaultLimit int `env:"LIST_DEFAULT_LIMIT" envDefault:"50"`
	ListMaxLimit     int `env:"LIST_MAX_LIMIT" envDefault:"200"`

	DBConnectTimeout   time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"30s"`
	DBMaxOpenConns     int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int           `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int           `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	// Postgres takes lock_timeout in whole milliseconds and reads 0 as "wait forever".
	if c.LockTimeout < time.Millisecond {
		return fmt.Errorf("LOCK_TIMEOUT must be at least 1ms, got %s", c.LockTimeout)
	}
	if c.RelayInterval <= 0 {
		return fmt.Errorf("RELAY_INTERVAL must be positive, got %s", c.RelayInterval)
	}
	if c.RelayBatchSize <= 0 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be positive, got %d", c.RelayBatchSize)
	}
	if c.RelayMaxAttempts <= 0 {
		return fmt.Errorf("RELAY_MAX_ATTEMPTS must be positive, got %d", c.RelayMaxAttempts)
	}
	if c.ListDefaultLimit <= 0 || c.ListMaxLimit < c.ListDefaultLimit {
		return fmt.Errorf("LIST_DEFAULT_LIMIT must be positive and not above LIST_MAX_LIMIT")
	}
	return nil
}
