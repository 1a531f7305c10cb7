package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditKind groups audit events.
type AuditKind string

const (
	AuditTool    AuditKind = "tool"
	AuditOrder   AuditKind = "order"
	AuditHistory AuditKind = "history"
	AuditConfig  AuditKind = "config"
)

// AuditEvent is one line of the audit trail.
type AuditEvent struct {
	Kind AuditKind
	// Actor is a session id, a phone number or "system". Phone numbers are
	// masked before they are written.
	Actor    string
	Action   string
	Status   string
	Metadata map[string]interface{}
	At       time.Time
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	closer io.Closer
	now    func() time.Time
}

var (
	auditMu   sync.RWMutex
	auditInst = NewAuditLogger(os.Stderr)
)

// NewAuditLogger writes events to w. If w is an io.Closer, Close closes it.
func NewAuditLogger(w io.Writer) *AuditLogger {
	a := &AuditLogger{
		logger: zerolog.New(w),
		now:    time.Now,
	}
	if c, ok := w.(io.Closer); ok && w != os.Stderr && w != os.Stdout {
		a.closer = c
	}
	return a
}

// GetAuditLogger returns the process audit logger. It writes to stderr until
// InitAuditLogger or SetAuditLogger replaces it.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// SetAuditLogger replaces the process audit logger and returns the previous one.
func SetAuditLogger(a *AuditLogger) *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	prev := auditInst
	auditInst = a
	return prev
}

// InitAuditLogger appends audit events to the file at path. On error the
// current logger stays in place.
func InitAuditLogger(path string) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	SetAuditLogger(NewAuditLogger(file))
	return nil
}

// Record writes event and mirrors it onto the active span, if any.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.At.IsZero() {
		event.At = a.now()
	}
	actor := maskActor(event.Actor)

	var traceID string
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit."+string(event.Kind), trace.WithAttributes(
			attribute.String("audit.action", event.Action),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.At).
		Str("kind", string(event.Kind)).
		Str("actor", actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if traceID != "" {
		entry = entry.Str("trace_id", traceID)
	}
	if len(event.Metadata) > 0 {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close closes the underlying file, if there is one.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// maskActor keeps the last four digits of phone-number actors.
func maskActor(actor string) string {
	digits := strings.TrimPrefix(actor, "+")
	if len(digits) < 7 || strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return actor
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

func RecordToolAudit(ctx context.Context, toolName, actor, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     AuditTool,
		Actor:    actor,
		Action:   "execute:" + toolName,
		Status:   status,
		Metadata: metadata,
	})
}

// RecordOrderAudit records an order mutation.
func RecordOrderAudit(ctx context.Context, action, actor, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     AuditOrder,
		Actor:    actor,
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}

func RecordHistoryAudit(ctx context.Context, action, actor, status string) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:   AuditHistory,
		Actor:  actor,
		Action: action,
		Status: status,
	})
}

func RecordConfigAudit(ctx context.Context, action, actor string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Kind:     AuditConfig,
		Actor:    actor,
		Action:   action,
		Status:   "success",
		Metadata: metadata,
	})
}
