package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/menubot/internal/observability"
	"github.com/harun/menubot/internal/tracing"
	"github.com/harun/menubot/pkg/conversation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrNotFound is returned by Load when a session has no checkpoint.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrVersionConflict is returned by Save when the stored version moved.
	ErrVersionConflict = errors.New("checkpoint version conflict")
	// ErrInvalidSessionID is returned for ids that cannot be used as keys.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Store is durable session_id → State storage.
type Store interface {
	// Load returns the latest checkpoint or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*conversation.State, error)
	// Save writes st if the stored version equals st.Version (0 for a new
	// session). On success st.Version is incremented and UpdatedAt set.
	Save(ctx context.Context, st *conversation.State) error
	// Delete removes the checkpoint and its messages. Deleting a missing
	// session is not an error.
	Delete(ctx context.Context, sessionID string) error
}

// Pruner lists sessions not saved since before.
type Pruner interface {
	ListStale(ctx context.Context, before time.Time) ([]string, error)
}

func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSessionID)
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("%w: contains '..'", ErrInvalidSessionID)
	}
	if strings.ContainsAny(sessionID, `/\`) {
		return fmt.Errorf("%w: contains path separator", ErrInvalidSessionID)
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("%w: contains null byte", ErrInvalidSessionID)
	}
	return nil
}

// observe opens a span for one store operation and returns the function
// that closes it and records the duration.
func observe(ctx context.Context, driver, op, sessionID string) (context.Context, func(error)) {
	ctx, span := tracing.StartSpan(
		ctx,
		"menubot.checkpoint",
		"checkpoint."+op,
		attribute.String("driver", driver),
		attribute.String("session_id", sessionID),
	)
	start := time.Now()
	return ctx, func(err error) {
		// A missing checkpoint is a normal outcome for a first turn.
		if err != nil && !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.RecordCheckpoint(driver, op, time.Since(start), ignoreNotFound(err))
		span.End()
	}
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// stamp prepares st for a write of version next.
func stamp(st *conversation.State, now time.Time) {
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
}
