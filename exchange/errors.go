package exchange

import (
	"errors"
	"fmt"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ERROR TAXONOMY - Classified exchange failures
// ═══════════════════════════════════════════════════════════════════════════════
//
// Adapters translate venue-specific error codes into these kinds. Retryable
// kinds (rate limit, network, timeout) are handled by the retry policy;
// everything else bubbles to the caller.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrorKind classifies an exchange failure
type ErrorKind string

const (
	KindAuthentication    ErrorKind = "authentication"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindInvalidOrder      ErrorKind = "invalid_order"
	KindOrderNotFound     ErrorKind = "order_not_found"
	KindRateLimit         ErrorKind = "rate_limit"
	KindNetwork           ErrorKind = "network"
	KindTimeout           ErrorKind = "timeout"
	KindExchange          ErrorKind = "exchange" // uncategorized venue error
)

// Error is a classified exchange error
type Error struct {
	Kind    ErrorKind
	Code    int64 // venue error code when known
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange %s (code %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("exchange %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified error
func NewError(kind ErrorKind, code int64, msg string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: cause}
}

// Retryable reports whether the error may succeed on retry
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimit, KindNetwork, KindTimeout:
		return true
	}
	return false
}

// IsRetryable classifies an arbitrary error for the retry policy
func IsRetryable(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Retryable()
	}
	return false
}

// KindOf returns the kind of a classified error, or KindExchange
func KindOf(err error) ErrorKind {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return KindExchange
}

// ErrInsufficientNotional is raised when price×quantity is below the
// market's minimum after rounding.
var ErrInsufficientNotional = NewError(KindInvalidOrder, 0, "order notional below market minimum", nil)
