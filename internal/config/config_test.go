package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_MemoryDefaults(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "memory")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Booking.AttemptTTL)
	assert.Equal(t, "bookings.events", cfg.RabbitMQ.Exchange)
	assert.Equal(t, time.Second, cfg.Outbox.PollInterval)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.RabbitMQ.Enabled())
	assert.False(t, cfg.VNPay.Enabled())

	loc, err := cfg.Booking.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Ho_Chi_Minh", loc.String())
}

func TestNew_PostgresRequiresCredentials(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("POSTGRES_USER", "")
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("POSTGRES_DB", "")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_USER")
}

func TestNew_Rejections(t *testing.T) {
	tests := map[string]map[string]string{
		"unknown driver": {"STORAGE_DRIVER": "sqlite"},
		"bad timezone":   {"STORAGE_DRIVER": "memory", "BOOKING_TIMEZONE": "Mars/Olympus"},
		"zero ttl":       {"STORAGE_DRIVER": "memory", "PAYMENT_ATTEMPT_TTL": "0s"},
		"bad port":       {"STORAGE_DRIVER": "memory", "SERVER_PORT": "http"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := New()
			assert.Error(t, err)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{User: "app", Password: "p@ss", Name: "bookings", Host: "db", Port: 5433, SSLMode: "require"}
	assert.Equal(t, "postgres://app:p%40ss@db:5433/bookings?sslmode=require", p.DSN())
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, LogConfig{Level: "debug"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LogConfig{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, LogConfig{Level: "chatty"}.SlogLevel())
}
