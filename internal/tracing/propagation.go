package tracing

import (
	"context"

	"github.com/rs/zerolog"
)

// Detach returns a context that keeps the tracing values of ctx but is never
// cancelled by it.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// PropagateToLogger adds tracing context to a zerolog logger
func PropagateToLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	tc := FromContext(ctx)

	lc := logger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.TurnID != "" {
		lc = lc.Str("turn_id", tc.TurnID)
	}
	if tc.SessionID != "" {
		lc = lc.Str("session_id", tc.SessionID)
	}
	if tc.Node != "" {
		lc = lc.Str("node", tc.Node)
	}
	if tc.RequestID != "" {
		lc = lc.Str("request_id", tc.RequestID)
	}

	return lc.Logger()
}

// LoggerFromContext creates a logger with tracing context from the given context
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	return PropagateToLogger(ctx, baseLogger)
}
