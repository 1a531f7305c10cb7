package engine

import (
	"errors"
	"fmt"

	"github.com/harun/menubot/pkg/llm"
)

var (
	// ErrModelUnavailable means a language model call failed after retries.
	// Nothing was persisted.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrPersistence means the checkpoint could not be loaded or saved.
	ErrPersistence = errors.New("checkpoint persistence failed")

	// ErrInvalidRequest means the turn request is missing required fields.
	ErrInvalidRequest = errors.New("invalid turn request")
)

func modelError(err error) error {
	if llm.IsModelUnavailable(err) {
		return fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	return err
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
