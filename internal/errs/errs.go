// Package errs defines the closed set of structured error kinds every
// component boundary in tradecore returns instead of raw errors.
package errs

import "fmt"

// Kind is one of the fifteen error kinds named in the system design.
type Kind string

const (
	KindValidation         Kind = "VALIDATION_ERROR"
	KindUnsupportedSymbol  Kind = "UNSUPPORTED_SYMBOL"
	KindInsufficientNotional Kind = "INSUFFICIENT_NOTIONAL"
	KindMarkPriceUnavailable Kind = "MARK_PRICE_UNAVAILABLE"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindExchangeRejected   Kind = "EXCHANGE_REJECTED"
	KindNetwork            Kind = "NETWORK_ERROR"
	KindPositionNotFound   Kind = "POSITION_NOT_FOUND"
	KindOrderNotFound      Kind = "ORDER_NOT_FOUND"
	KindCooldownActive     Kind = "COOLDOWN_ACTIVE"
	KindOutOfRange         Kind = "OUT_OF_RANGE"
	KindAlreadyClosed      Kind = "ALREADY_CLOSED"
	KindDatabase           Kind = "DATABASE_ERROR"
	KindTimeout            Kind = "TIMEOUT"
	KindUnknown            Kind = "UNKNOWN_ERROR"
)

// Error is the structured error every component boundary returns. It never
// crosses a boundary as a bare Go error - callers switch on Kind() rather
// than matching strings.
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]any
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a structured error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithMeta attaches metadata and returns the same error for chaining.
func (e *Error) WithMeta(key string, value any) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Kind == kind
}

// KindOf extracts the Kind from err, defaulting to KindUnknown.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the propagation policy for this kind is
// "recover locally" - retry with backoff rather than surface immediately.
func Retryable(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindNetwork, KindTimeout, KindMarkPriceUnavailable:
		return true
	default:
		return false
	}
}

// IdempotentNoOp reports whether the kind should be treated as success by
// callers operating under at-most-once-effect semantics (cancel of an
// already-gone order, close of an already-closed trade).
func IdempotentNoOp(kind Kind) bool {
	switch kind {
	case KindAlreadyClosed, KindOrderNotFound:
		return true
	default:
		return false
	}
}

// Result is the generic success/error envelope every public operation
// returns, per the "never raised across component boundaries" policy (§7).
type Result[T any] struct {
	Success  bool
	Data     T
	Err      error
	Metadata map[string]any
}

// Ok wraps a successful value.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail wraps a structured error.
func Fail[T any](err error) Result[T] {
	return Result[T]{Success: false, Err: err}
}
