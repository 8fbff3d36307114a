package context

import (
	"context"
	"testing"
)

func TestRequestScopedValues(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithAgentID(ctx, "42")
	ctx = WithJob(ctx, "commission_analytics")

	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Fatalf("expected request id req-1, got %q", got)
	}
	if got := AgentIDFromContext(ctx); got != "42" {
		t.Fatalf("expected agent id 42, got %q", got)
	}
	if got := JobFromContext(ctx); got != "commission_analytics" {
		t.Fatalf("expected job commission_analytics, got %q", got)
	}
}

func TestEmptyValuesAreNotStored(t *testing.T) {
	base := context.Background()
	if WithRequestID(base, "") != base {
		t.Fatalf("expected empty request id to return the same context")
	}
	if got := AgentIDFromContext(base); got != "" {
		t.Fatalf("expected empty agent id, got %q", got)
	}
}
