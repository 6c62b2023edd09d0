package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures.
type ErrorKind string

const (
	KindInvalidInput           ErrorKind = "invalid_input"
	KindNamespaceNotFound      ErrorKind = "namespace_not_found"
	KindNamespaceAlreadyExists ErrorKind = "namespace_already_exists"
	KindVectorizationFailed    ErrorKind = "vectorization_failed"
	KindStorage                ErrorKind = "storage_error"
	KindCancelled              ErrorKind = "cancelled"
)

// Sentinels for errors.Is. Any *Error with the same kind matches.
var (
	ErrInvalidInput           = &Error{Kind: KindInvalidInput}
	ErrNamespaceNotFound      = &Error{Kind: KindNamespaceNotFound}
	ErrNamespaceAlreadyExists = &Error{Kind: KindNamespaceAlreadyExists}
	ErrVectorizationFailed    = &Error{Kind: KindVectorizationFailed}
	ErrStorage                = &Error{Kind: KindStorage}
	ErrCancelled              = &Error{Kind: KindCancelled}
)

// Error is the structured error returned at the engine boundary.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind so callers can use the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetail attaches a detail and returns e.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind ErrorKind, op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: cause}
}

func InvalidInput(op, format string, args ...any) *Error {
	return newError(KindInvalidInput, op, nil, format, args...)
}

func NamespaceNotFound(op, id string) *Error {
	return newError(KindNamespaceNotFound, op, nil, "namespace %q", id).WithDetail("namespace", id)
}

func NamespaceAlreadyExists(op, id string) *Error {
	return newError(KindNamespaceAlreadyExists, op, nil, "namespace %q", id).WithDetail("namespace", id)
}

func VectorizationFailed(op string, cause error, format string, args ...any) *Error {
	return newError(KindVectorizationFailed, op, cause, format, args...)
}

func StorageError(op string, cause error, format string, args ...any) *Error {
	return newError(KindStorage, op, cause, format, args...)
}

func Cancelled(op string, cause error) *Error {
	return newError(KindCancelled, op, cause, "operation aborted")
}

// FromContext converts a context error into Cancelled, or returns nil.
func FromContext(op string, ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return Cancelled(op, err)
	}
	return nil
}
