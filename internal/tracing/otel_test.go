package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenTelemetry(t *testing.T) {
	ctx := context.Background()
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(ctx) })

	t.Run("should record the span trace id in the context", func(t *testing.T) {
		require.NoError(t, InitOpenTelemetry(ctx, ProviderConfig{ServiceName: "menubot-test", Environment: "test"}))

		spanCtx, span := StartSpan(ctx, "menubot.test", "test.span")
		defer span.End()

		assert.True(t, span.SpanContext().IsValid())
		assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(spanCtx))
	})

	t.Run("should keep an existing trace id", func(t *testing.T) {
		require.NoError(t, InitOpenTelemetry(ctx, ProviderConfig{ServiceName: "menubot-test", SampleRatio: 5}))

		spanCtx, span := StartSpan(WithTraceID(ctx, "trace-1"), "menubot.test", "test.span")
		defer span.End()

		assert.Equal(t, "trace-1", GetTraceID(spanCtx))
	})

	t.Run("should shut down idempotently", func(t *testing.T) {
		assert.NoError(t, ShutdownOpenTelemetry(ctx))
		assert.NoError(t, ShutdownOpenTelemetry(ctx))
	})
}
