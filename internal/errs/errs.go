// Package errs classifies pipeline errors into the categories that drive
// retry, skip, and abort decisions.
package errs

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind identifies the failure category of a classified error.
type Kind string

const (
	// KindNetwork covers transport failures, timeouts, HTTP 5xx and 429.
	KindNetwork Kind = "NETWORK"

	// KindNotFound covers HTTP 404 from a date-keyed source. The date is
	// permanently absent (holiday, not yet published) and the caller
	// records a zero-row marker instead of retrying.
	KindNotFound Kind = "NOT_FOUND"

	// KindSchemaDrift covers an upstream column set diverging from the
	// parser's declared schema.
	KindSchemaDrift Kind = "SCHEMA_DRIFT"

	// KindValidation covers business rule violations on parsed rows.
	KindValidation Kind = "VALIDATION"

	// KindCircuitOpen is returned when a call is rejected by an open
	// breaker without invoking the wrapped function.
	KindCircuitOpen Kind = "CIRCUIT_OPEN"

	// KindIntegration covers warehouse connect and insert failures.
	KindIntegration Kind = "INTEGRATION"

	// KindData covers local filesystem read/write failures.
	KindData Kind = "DATA"
)

// Error pairs an underlying error with its Kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E wraps err with the given kind. A nil err returns nil.
func E(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Errorf formats a new classified error.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain,
// or "" if the chain carries no classification.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Retryable reports whether retrying the failed operation can help.
// Network and warehouse errors are transient; filesystem errors are
// transient unless the disk is full. Everything else, including
// unclassified errors, is treated as permanent.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindIntegration:
		return true
	case KindData:
		return !DiskFull(err)
	default:
		return false
	}
}

// DiskFull reports whether err's chain contains ENOSPC.
func DiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC)
}

// NotFound reports whether err is a KindNotFound classification.
func NotFound(err error) bool {
	return KindOf(err) == KindNotFound
}
