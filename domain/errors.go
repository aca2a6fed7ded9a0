package domain

import "errors"

// Error kinds returned by ledger operations. Match them with errors.Is.
var (
	ErrValidationFailed = errors.New("validation failed")
	ErrNotFound         = errors.New("task not found")
	ErrFetchFailed      = errors.New("fetch failed")
	ErrPersistFailed    = errors.New("persist failed")
)

// Error is the structured failure of a ledger operation. Cause is opaque to
// the ledger and may be nil for validation and lookup failures.
type Error struct {
	Kind   error
	Op     string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Invalid builds a validation failure.
func Invalid(op, detail string) *Error {
	return &Error{Kind: ErrValidationFailed, Op: op, Detail: detail}
}

// NotFound builds a lookup failure for id.
func NotFound(op, id string) *Error {
	return &Error{Kind: ErrNotFound, Op: op, Detail: id}
}

// FetchFailed wraps a store read failure.
func FetchFailed(op string, cause error) *Error {
	return &Error{Kind: ErrFetchFailed, Op: op, Cause: cause}
}

// PersistFailed wraps a store write failure.
func PersistFailed(op string, cause error) *Error {
	return &Error{Kind: ErrPersistFailed, Op: op, Cause: cause}
}

// KindOf returns the kind of err, or nil when err is not a ledger failure.
func KindOf(err error) error {
	for _, k := range []error{ErrValidationFailed, ErrNotFound, ErrFetchFailed, ErrPersistFailed} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
