package tracing

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDetach(t *testing.T) {
	parent, cancel := context.WithCancel(WithSessionID(context.Background(), "s1"))
	detached := Detach(parent)
	cancel()

	select {
	case <-detached.Done():
		t.Fatal("Detached context should not be cancelled with its parent")
	case <-time.After(10 * time.Millisecond):
	}

	if GetSessionID(detached) != "s1" {
		t.Error("Detached context lost tracing values")
	}
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithTraceID(context.Background(), "trace-123")
	ctx = WithSessionID(ctx, "session-abc")
	ctx = WithNode(ctx, "pqrs")

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"trace_id":"trace-123"`, `"session_id":"session-abc"`, `"node":"pqrs"`} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("Expected %s in log output %s", want, out)
		}
	}
}
