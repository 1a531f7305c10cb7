package tools

import "context"

// ExecutionContext carries the session a tool call belongs to.
type ExecutionContext struct {
	SessionID string
	SubjectID string
	Node      string
}

type execContextKey struct{}

// ContextWithExecContext attaches the execution context to a context.Context for tool handlers.
func ContextWithExecContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	if execCtx == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, execCtx)
}

// ExecContextFromContext extracts the execution context from a context.Context.
func ExecContextFromContext(ctx context.Context) *ExecutionContext {
	if v, ok := ctx.Value(execContextKey{}).(*ExecutionContext); ok {
		return v
	}
	return nil
}
