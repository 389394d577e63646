package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config is the whole process configuration. Registry parameters are read
// once at startup and never change afterwards.
type Config struct {
	Server  Server
	Log     Log
	Storage Storage
	Redis   RedisConfig
	Kafka   Kafka
	Names   Names
	Auth    Auth
	Strict  bool `env:"DATTAS_STRICT_INVARIANTS" envDefault:"false"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"DATTAS_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"DATTAS_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type Storage struct {
	Backend         string        `env:"STORAGE_BACKEND" envDefault:"memory"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
}

// RedisConfig configures the Redis connection pool.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Kafka configures the event relay. No brokers means no relay.
type Kafka struct {
	Brokers       []string      `env:"KAFKA_BROKERS" envSeparator:","`
	Topic         string        `env:"KAFKA_TOPIC" envDefault:"dattas.names.events"`
	RelayInterval time.Duration `env:"KAFKA_RELAY_INTERVAL" envDefault:"1s"`
	BatchSize     int           `env:"KAFKA_RELAY_BATCH_SIZE" envDefault:"100"`
}

type Names struct {
	MinLength          int    `env:"NAMES_MIN_LENGTH" envDefault:"3"`
	MaxLength          int    `env:"NAMES_MAX_LENGTH" envDefault:"16"`
	ReservationFee     uint64 `env:"NAMES_RESERVATION_FEE" envDefault:"10"`
	ForceOriginAccount string `env:"FORCE_ORIGIN_ACCOUNT"`
	SlashSink          string `env:"SLASH_SINK" envDefault:"burn"`
	Genesis            string `env:"LEDGER_GENESIS"`
}

type Auth struct {
	JWTSigningKey string        `env:"JWT_SIGNING_KEY"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"dattas"`
	JWTAudience   string        `env:"JWT_AUDIENCE" envDefault:"dattas"`
	TokenTTL      time.Duration `env:"JWT_TOKEN_TTL" envDefault:"1h"`
	AdminToken    string        `env:"ADMIN_TOKEN"`
}

// Load reads the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Names.MinLength < 0 {
		errs = append(errs, errors.New("NAMES_MIN_LENGTH must not be negative"))
	}
	if c.Names.MaxLength <= 0 {
		errs = append(errs, errors.New("NAMES_MAX_LENGTH must be positive"))
	}
	if c.Names.MinLength > c.Names.MaxLength {
		errs = append(errs, fmt.Errorf("NAMES_MIN_LENGTH %d exceeds NAMES_MAX_LENGTH %d", c.Names.MinLength, c.Names.MaxLength))
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend))
	}
	if len(c.Kafka.Brokers) > 0 && c.Storage.Backend != BackendPostgres {
		errs = append(errs, errors.New("KAFKA_BROKERS requires the postgres backend"))
	}
	return errors.Join(errs...)
}
