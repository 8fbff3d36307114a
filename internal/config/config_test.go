package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REDIS_ADDR", " redis:6379 ")
	t.Setenv("KAFKA_BROKERS", "k1:9092, ,k2:9092")
	t.Setenv("RATE_LIMIT_ENABLED", "yes")
	t.Setenv("RATE_LIMIT_WITHDRAWAL_RATE", "0.5")
	t.Setenv("PIPELINE_STORE_TIMEOUT", "250ms")
	t.Setenv("LOG_LEVEL", " DEBUG ")
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "http")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "")

	cfg := Load()

	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 0.5, cfg.RateLimit.WithdrawalRate)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, "debug", cfg.Telemetry.LogLevel)
	assert.Equal(t, "http", cfg.Telemetry.OtelProtocol)
}

func TestLoadFallsBackOnBadValues(t *testing.T) {
	t.Setenv("PIPELINE_STORE_TIMEOUT", "-1s")
	t.Setenv("RATE_LIMIT_WITHDRAWAL_BURST", "lots")
	t.Setenv("BOOTSTRAP_RUN_MIGRATIONS", "maybe")

	cfg := Load()

	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 5, cfg.RateLimit.WithdrawalBurst)
	assert.True(t, cfg.Bootstrap.RunMigrations)
}
