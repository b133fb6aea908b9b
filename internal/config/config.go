package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Auth     AuthConfig
	Booking  BookingConfig
	VNPay    VNPayConfig
	Outbox   OutboxConfig
	Otel     OtelConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string `envconfig:"SERVER_HOST" default:"localhost"`
	Port int    `envconfig:"SERVER_PORT" default:"8080"`
}

type StorageConfig struct {
	Driver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
}

type PostgresConfig struct {
	User     string `envconfig:"POSTGRES_USER"`
	Password string `envconfig:"POSTGRES_PASSWORD"`
	Name     string `envconfig:"POSTGRES_DB"`
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     int    `envconfig:"POSTGRES_PORT" default:"5432"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE" default:"disable"`
	MaxConns int32  `envconfig:"POSTGRES_MAX_CONNS" default:"10"`
}

// DSN renders the pgx connection string.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(p.User, p.Password),
		Host:     fmt.Sprintf("%s:%d", p.Host, p.Port),
		Path:     "/" + p.Name,
		RawQuery: "sslmode=" + url.QueryEscape(p.SSLMode),
	}
	return u.String()
}

// RedisConfig with an empty Addr disables the cache, idempotency, rate
// limiting and the change feed.
type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type RabbitMQConfig struct {
	URL      string `envconfig:"RABBITMQ_URL"`
	Exchange string `envconfig:"RABBITMQ_EXCHANGE" default:"bookings.events"`
}

func (r RabbitMQConfig) Enabled() bool { return r.URL != "" }

type AuthConfig struct {
	// Empty trusts the X-Actor-ID and X-Actor-Role headers. Development only.
	JWTSecret string `envconfig:"JWT_SECRET"`
}

type BookingConfig struct {
	AttemptTTL time.Duration `envconfig:"PAYMENT_ATTEMPT_TTL" default:"15m"`
	Timezone   string        `envconfig:"BOOKING_TIMEZONE" default:"Asia/Ho_Chi_Minh"`
}

// Location resolves Timezone.
func (b BookingConfig) Location() (*time.Location, error) {
	return time.LoadLocation(b.Timezone)
}

type VNPayConfig struct {
	TmnCode    string `envconfig:"VNPAY_TMN_CODE"`
	HashSecret string `envconfig:"VNPAY_HASH_SECRET"`
	URL        string `envconfig:"VNPAY_URL" default:"https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"`
	ReturnURL  string `envconfig:"VNPAY_RETURN_URL"`
}

func (v VNPayConfig) Enabled() bool { return v.TmnCode != "" && v.HashSecret != "" }

type OutboxConfig struct {
	PollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"1s"`
	BatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
}

type OtelConfig struct {
	Endpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

type LogConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

// SlogLevel maps Level to a slog level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// New loads .env when present and reads the environment.
func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))

	switch c.Storage.Driver {
	case DriverPostgres:
		if c.Postgres.User == "" {
			return fmt.Errorf("missing POSTGRES_USER")
		}
		if c.Postgres.Password == "" {
			return fmt.Errorf("missing POSTGRES_PASSWORD")
		}
		if c.Postgres.Name == "" {
			return fmt.Errorf("missing POSTGRES_DB")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Storage.Driver)
	}

	if c.Booking.AttemptTTL <= 0 {
		return fmt.Errorf("PAYMENT_ATTEMPT_TTL must be positive")
	}
	if _, err := c.Booking.Location(); err != nil {
		return fmt.Errorf("invalid BOOKING_TIMEZONE: %w", err)
	}

	return nil
}
