// Package embedding implements the embedding adapter contract (spec §4.2):
// single/batch text-to-vector conversion against a local-model provider
// (Ollama) or a hosted provider (OpenAI), with adapter-owned retry of
// safe-transient transport errors.
package embedding

import (
	"context"
	"fmt"
	"time"
)

// ErrorKind enumerates the adapter-level error kinds propagated verbatim to
// callers (spec §4.2, §7).
type ErrorKind string

const (
	ErrTransportTimeout ErrorKind = "transport_timeout"
	ErrTransportError   ErrorKind = "transport_error"
	ErrRateLimited      ErrorKind = "rate_limited"
	ErrProviderError    ErrorKind = "provider_error"
	ErrMisconfiguration ErrorKind = "misconfiguration"
	ErrLengthMismatch   ErrorKind = "length_mismatch"
)

// Error is the sentinel error type every Provider returns.
type Error struct {
	Kind       ErrorKind
	Message    string
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (provider=%s status=%d)", e.Kind, e.Message, e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s (provider=%s)", e.Kind, e.Message, e.Provider)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether the adapter should retry this error itself
// (spec §4.2): timeouts, 429, 5xx responses, and transport errors that
// carry no HTTP status (connection failures); nothing else.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrTransportTimeout, ErrRateLimited:
		return true
	case ErrTransportError:
		return e.StatusCode == 0 || e.StatusCode >= 500
	default:
		return false
	}
}

// Provider is the embedding adapter contract (spec §4.2).
type Provider interface {
	// Embed produces a single vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedMany produces one vector per text, same order, same length.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the vector length this provider produces.
	Dimensions() int
}
