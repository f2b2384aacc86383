package esp

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an input could not be used.
type ErrorKind string

const (
	KindMissingInput     ErrorKind = "missing_input"
	KindParseFailure     ErrorKind = "parse_failure"
	KindAmbiguityFailure ErrorKind = "ambiguity_failure"
	KindIdentityMismatch ErrorKind = "identity_mismatch"
	KindSourceFailure    ErrorKind = "source_failure"
)

var (
	ErrTenantIDNotFound    = errors.New("tenant id not found")
	ErrTenantIDMismatch    = errors.New("tenant id mismatch")
	ErrNoStartTime         = errors.New("no autopilot start time recorded")
	ErrMultipleStartTimes  = errors.New("multiple autopilot start times recorded")
	ErrUnparsableStartTime = errors.New("autopilot start time is not a timestamp")
	ErrMalformedStatus     = errors.New("malformed category status")
	ErrUnsupported         = errors.New("status source not supported on this platform")
)

// Error is a classified evaluation failure. Op names the input or step that failed.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// SourceError wraps a reader failure so callers can classify it.
func SourceError(op string, err error) error {
	if err == nil {
		return nil
	}
	return newError(KindSourceFailure, op, err)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
