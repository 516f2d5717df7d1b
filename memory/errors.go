package memory

import "fmt"

// ErrorKind enumerates the error kinds the core emits (spec §7).
type ErrorKind string

const (
	ErrValidation           ErrorKind = "validation"
	ErrAccessDenied         ErrorKind = "access_denied"
	ErrNotFound             ErrorKind = "not_found"
	ErrInsufficientMemories ErrorKind = "insufficient_memories"
	ErrEmbeddingUnavailable ErrorKind = "embedding_unavailable"
	ErrEmbeddingTransient   ErrorKind = "embedding_transient"
	ErrEmbeddingPermanent   ErrorKind = "embedding_permanent"
	ErrBackendError         ErrorKind = "backend_error"
	ErrLengthMismatch       ErrorKind = "length_mismatch"
)

// Error is the sentinel error type returned by every core operation.
type Error struct {
	Kind    ErrorKind
	Message string
	Field   string
	Cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, memory.NewError(memory.ErrNotFound, "")) style
// matching by kind equality.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NewFieldError(kind ErrorKind, field, message string) *Error {
	return &Error{Kind: kind, Field: field, Message: message}
}

func WrapError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, else "".
func KindOf(err error) ErrorKind {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return ""
	}
	return e.Kind
}
