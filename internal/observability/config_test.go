package observability

import (
	"testing"

	"github.com/smallbiznis/homeledger/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:     " ",
		Environment: "production",
		AppVersion:  "1.2.3",
		Telemetry:   config.TelemetryConfig{OtelProtocol: "HTTP", SamplingRatio: 3},
	})

	assert.Equal(t, "homeledger", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.False(t, cfg.OtelEnabled)
	assert.False(t, cfg.Debug())
}

func TestDebugInDevelopment(t *testing.T) {
	assert.True(t, Config{Environment: "local"}.Debug())
	assert.True(t, Config{Environment: "production", LogLevel: "debug"}.Debug())
	assert.False(t, Config{Environment: "staging"}.Debug())
}

func TestProviderConfigsShareServiceIdentity(t *testing.T) {
	cfg := LoadConfig(config.Config{
		AppName:      "homeledger-api",
		Environment:  "test",
		OTLPEndpoint: " collector:4317 ",
		Telemetry:    config.TelemetryConfig{OtelEnabled: true},
	})

	assert.Equal(t, "homeledger-api", cfg.tracing().ServiceName)
	assert.Equal(t, "collector:4317", cfg.metrics().ExporterEndpoint)
	assert.True(t, cfg.logger().Debug)
	assert.True(t, cfg.logger().IncludeStackOnError)
}
