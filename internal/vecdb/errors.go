package vecdb

import (
	"errors"
	"fmt"
)

// Kind classifies the way an operation failed.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindDuplicateID       Kind = "duplicate_id"
	KindDimensionMismatch Kind = "dimension_mismatch"
	KindDegenerateVector  Kind = "degenerate_vector"
	KindNotIndexed        Kind = "not_indexed"
	KindInvalidArgument   Kind = "invalid_argument"
	KindPersistence       Kind = "persistence_error"
	KindInternal          Kind = "internal"
)

// Error is the single error type the core surfaces. Callers distinguish
// failure modes with errors.As and Kind, never by matching message text.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, &Error{Kind: KindNotFound}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func notFound(format string, args ...any) *Error {
	return newErr(KindNotFound, nil, format, args...)
}

func duplicateID(format string, args ...any) *Error {
	return newErr(KindDuplicateID, nil, format, args...)
}

func dimensionMismatch(format string, args ...any) *Error {
	return newErr(KindDimensionMismatch, nil, format, args...)
}

func degenerateVector(format string, args ...any) *Error {
	return newErr(KindDegenerateVector, nil, format, args...)
}

func notIndexed(format string, args ...any) *Error {
	return newErr(KindNotIndexed, nil, format, args...)
}

func invalidArgument(format string, args ...any) *Error {
	return newErr(KindInvalidArgument, nil, format, args...)
}

func persistenceError(cause error, format string, args ...any) *Error {
	return newErr(KindPersistence, cause, format, args...)
}

func internalError(format string, args ...any) *Error {
	return newErr(KindInternal, nil, format, args...)
}

// KindOf extracts the Kind of err, defaulting to KindInternal for errors the
// core did not itself raise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
