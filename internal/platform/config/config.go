// Package config loads process configuration from SPLITVAULT_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Lock backends.
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"SPLITVAULT_ADDR" envDefault:":8080"`
	JWTSigningKey   string        `env:"SPLITVAULT_JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer       string        `env:"SPLITVAULT_JWT_ISSUER" envDefault:"splitvault"`
	ShutdownTimeout time.Duration `env:"SPLITVAULT_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"SPLITVAULT_LOG_LEVEL" envDefault:"info"`
}

// RedisConfig holds the Redis connection used by the distributed lock.
type RedisConfig struct {
	URL          string        `env:"SPLITVAULT_REDIS_URL"`
	PoolSize     int           `env:"SPLITVAULT_REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"SPLITVAULT_REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"SPLITVAULT_REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"SPLITVAULT_REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"SPLITVAULT_REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// PostgresConfig holds the record, ledger and outbox database.
type PostgresConfig struct {
	DSN             string        `env:"SPLITVAULT_POSTGRES_DSN"`
	MaxOpenConns    int           `env:"SPLITVAULT_POSTGRES_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"SPLITVAULT_POSTGRES_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"SPLITVAULT_POSTGRES_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// KafkaConfig drives the audit outbox relay. An empty broker list disables it.
type KafkaConfig struct {
	Brokers           []string      `env:"SPLITVAULT_KAFKA_BROKERS" envSeparator:","`
	Topic             string        `env:"SPLITVAULT_KAFKA_TOPIC" envDefault:"splitvault.audit"`
	Partitions        int32         `env:"SPLITVAULT_KAFKA_PARTITIONS" envDefault:"3"`
	ReplicationFactor int16         `env:"SPLITVAULT_KAFKA_REPLICATION_FACTOR" envDefault:"1"`
	RelayInterval     time.Duration `env:"SPLITVAULT_OUTBOX_RELAY_INTERVAL" envDefault:"1s"`
	RelayBatchSize    int           `env:"SPLITVAULT_OUTBOX_RELAY_BATCH_SIZE" envDefault:"100"`
}

// Settlement holds policy knobs for the settlement services.
type Settlement struct {
	StorageDeposit       uint64 `env:"SPLITVAULT_STORAGE_DEPOSIT" envDefault:"0"`
	AllowPoolOverfunding bool   `env:"SPLITVAULT_ALLOW_POOL_OVERFUNDING" envDefault:"false"`
	AmountDecimals       int32  `env:"SPLITVAULT_AMOUNT_DECIMALS" envDefault:"6"`
}

// RateLimit bounds mutating requests per caller over a sliding window.
// With SPLITVAULT_REDIS_URL set the window is shared through Redis.
type RateLimit struct {
	Enabled  bool          `env:"SPLITVAULT_RATE_LIMIT_ENABLED" envDefault:"true"`
	Requests int           `env:"SPLITVAULT_RATE_LIMIT_REQUESTS" envDefault:"60"`
	Window   time.Duration `env:"SPLITVAULT_RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// Config is the full process configuration.
type Config struct {
	Server     Server
	Redis      RedisConfig
	Postgres   PostgresConfig
	Kafka      KafkaConfig
	Settlement Settlement
	RateLimit  RateLimit

	Backend      string        `env:"SPLITVAULT_STORE" envDefault:"memory"`
	LockBackend  string        `env:"SPLITVAULT_LOCK" envDefault:"local"`
	LockTimeout  time.Duration `env:"SPLITVAULT_LOCK_TIMEOUT" envDefault:"5s"`
	OTLPEndpoint string        `env:"SPLITVAULT_OTLP_ENDPOINT"`
	SeedFile     string        `env:"SPLITVAULT_SEED_FILE"`
}

// Load parses the environment and checks cross-field requirements.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return errors.New("SPLITVAULT_POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Backend)
	}
	switch c.LockBackend {
	case LockLocal:
	case LockRedis:
		if c.Redis.URL == "" {
			return errors.New("SPLITVAULT_REDIS_URL is required for the redis lock")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.LockBackend)
	}
	if len(c.Kafka.Brokers) > 0 && c.Backend != BackendPostgres {
		return errors.New("the outbox relay requires the postgres store")
	}
	if c.Settlement.AmountDecimals < 0 || c.Settlement.AmountDecimals > 18 {
		return errors.New("SPLITVAULT_AMOUNT_DECIMALS must be between 0 and 18")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		return errors.New("SPLITVAULT_RATE_LIMIT_REQUESTS and SPLITVAULT_RATE_LIMIT_WINDOW must be positive")
	}
	return nil
}
