package llm

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ProviderError wraps a model provider failure with its retry class.
// Transient failures (rate limits, upstream 5xx) are retried with backoff;
// fatal ones (bad request, auth) surface immediately.
type ProviderError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s provider error: %v", e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// transientStatusCodes are the HTTP statuses worth retrying. 429 covers
// rate limiting, the 5xx codes cover upstream flakiness.
func isTransientCode(code int) bool {
	switch code {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// classify wraps a raw provider error as a ProviderError. Context
// cancellation passes through unchanged so callers can distinguish a gone
// client from a failed provider.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Op: op, Transient: isTransientCode(apiErr.Code), Err: err}
	}

	// Network-level failures without an API status are worth one more try.
	return &ProviderError{Op: op, Transient: true, Err: err}
}
