package tracing

import (
	"context"
	"testing"
)

func TestNewTraceID(t *testing.T) {
	id1 := NewTraceID()
	id2 := NewTraceID()

	if id1 == "" {
		t.Error("NewTraceID returned empty string")
	}

	if id1 == id2 {
		t.Error("NewTraceID returned duplicate IDs")
	}
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	if len(id) != 16 {
		t.Errorf("Expected 16 character request ID, got %q", id)
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace")
	ctx = WithTurnID(ctx, "turn")
	ctx = WithNode(ctx, "order_data")
	ctx = WithSessionID(ctx, "session")
	ctx = WithRequestID(ctx, "req")

	tc := FromContext(ctx)
	if tc.TraceID != "trace" || tc.TurnID != "turn" || tc.Node != "order_data" ||
		tc.SessionID != "session" || tc.RequestID != "req" {
		t.Errorf("Unexpected trace context: %+v", tc)
	}
}

func TestEmptyContext(t *testing.T) {
	tc := FromContext(context.Background())
	if tc.TraceID != "" || tc.SessionID != "" {
		t.Errorf("Expected empty trace context, got %+v", tc)
	}
}

func TestNewTurnContext(t *testing.T) {
	ctx := WithTraceID(context.Background(), "existing")
	ctx = NewTurnContext(ctx, "s1")

	if GetTraceID(ctx) != "existing" {
		t.Error("Existing trace ID should be preserved")
	}
	if GetSessionID(ctx) != "s1" {
		t.Error("Session ID not set")
	}
	if GetTurnID(ctx) == "" {
		t.Error("Turn ID not generated")
	}
}
