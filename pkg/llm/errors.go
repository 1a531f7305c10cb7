package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrModelUnavailable is returned when every attempt of a call failed.
	ErrModelUnavailable = errors.New("language model unavailable")

	// ErrEmptyResponse is returned when a provider answers without any choice.
	ErrEmptyResponse = errors.New("empty model response")
)

// ProviderError is a failed provider call with its HTTP status, when known.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var perr *ProviderError
	if errors.As(err, &perr) && perr.StatusCode > 0 {
		switch {
		case perr.StatusCode == 408, perr.StatusCode == 409, perr.StatusCode == 429:
			return true
		case perr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"econnreset", "etimedout", "connection reset", "rate limit", "overloaded", "unexpected eof"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
