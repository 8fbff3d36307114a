package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/homeledger/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = obscontext.WithAgentID(ctx, "77")

	WithContext(ctx, base).Info("withdrawal requested")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "77", fields["agent_id"])
	_, hasTrace := fields["trace_id"]
	assert.False(t, hasTrace)
}

func TestWithContextWithoutValuesReturnsBase(t *testing.T) {
	base := zap.NewNop()
	assert.Same(t, base, WithContext(context.Background(), base))
}

func TestOperationFromSQL(t *testing.T) {
	cases := map[string]string{
		`SELECT * FROM "settings"`:                         "SELECT",
		`INSERT INTO "commissions" ("id") VALUES (1)`:      "INSERT",
		`WITH totals AS (SELECT 1) UPDATE withdrawals SET`: "SELECT",
		"":          "UNKNOWN",
		"VACUUM":    "UNKNOWN",
	}
	for sql, want := range cases {
		assert.Equal(t, want, operationFromSQL(sql), sql)
	}
}
