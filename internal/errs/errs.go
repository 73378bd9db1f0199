package errs

import (
	"errors"
	"fmt"
)

// Kind is the stable, caller-visible classification of a failure.
type Kind string

const (
	KindNotFound          Kind = "NOT_FOUND"
	KindInvalidArgument   Kind = "INVALID_ARGUMENT"
	KindInvalidState      Kind = "INVALID_STATE"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindCrypto            Kind = "CRYPTO_ERROR"
	KindBusy              Kind = "BUSY"
	KindInternal          Kind = "INTERNAL"
)

// Error carries a Kind alongside the message so callers can branch on the
// classification without parsing text.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match any error of the same Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

// NotFound reports an unresolved card or transaction ID.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a request rejected before any mutation.
func InvalidArgument(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// InvalidState reports an operation not permitted in the current state.
func InvalidState(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidState, Msg: fmt.Sprintf(format, args...)}
}

// InsufficientFunds reports a debit exceeding the available balance.
func InsufficientFunds(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInsufficientFunds, Msg: fmt.Sprintf(format, args...)}
}

// Crypto reports an encrypted-field codec failure. Fatal for the record.
func Crypto(msg string, err error) *Error {
	return &Error{Kind: KindCrypto, Msg: msg, Err: err}
}

// Busy reports lock contention that exceeded the bounded wait.
func Busy(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBusy, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an unclassified failure. The wrapped detail is for logs only;
// callers see the opaque kind.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}
