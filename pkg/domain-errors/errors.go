// Package derrors defines the domain error taxonomy shared by every settlement
// service. Errors carry a stable machine-readable code so transports can map
// them to HTTP statuses and callers can branch without string matching.
//
// Stores and the ledger return pkg/platform/sentinel errors; services translate
// those into coded errors at the boundary where intent is known.
package derrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of domain failure. Codes are part of the API
// contract: they appear verbatim in HTTP error envelopes and event payloads.
type Code string

const (
	// CodeInvalidInput covers zero, oversized, or malformed arguments.
	// Fully recoverable by resubmission with corrected input.
	CodeInvalidInput Code = "invalid_input"

	// CodeUnauthorized is returned when the caller identity does not match
	// the stored authority of the record being mutated.
	CodeUnauthorized Code = "unauthorized"

	// CodeNotActive is returned when a settlement operation targets an entry
	// that has already been sold or cancelled. Transitions are one-shot.
	CodeNotActive Code = "not_active"

	// CodeAlreadyExists is returned by create-once registries when the
	// discriminant was ever used, even if the entry is now retired.
	CodeAlreadyExists Code = "already_exists"

	CodeNotFound Code = "not_found"

	// CodeArithmeticOverflow means a fee, amount, or counter computation
	// exceeded the representable range. Never silently clamped.
	CodeArithmeticOverflow Code = "arithmetic_overflow"

	// CodeInsufficientBalance covers both a caller lacking funds for a leg
	// and a custody account that would fall below its reserved minimum.
	CodeInsufficientBalance Code = "insufficient_balance"

	// CodeInsufficientPayment is returned when a purchase computes to zero
	// units of the issued asset.
	CodeInsufficientPayment Code = "insufficient_payment"

	// CodeFeeTooHigh is returned by config mutation when the requested fee
	// exceeds the 1000 basis point cap.
	CodeFeeTooHigh Code = "fee_too_high"

	// CodeServicePaused is returned by value-moving operations while the
	// admin circuit-breaker is engaged.
	CodeServicePaused Code = "service_paused"

	CodeConflict Code = "conflict"
	CodeInternal Code = "internal"
)

// Error is a domain error with a code and human-readable message. It may wrap
// an underlying cause for logging; the cause is never serialized to callers.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a domain error with the given code and message.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. Wrapping nil
// returns nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (or anything it wraps) carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code carried by err, or CodeInternal when err carries
// none. Useful for metrics labels and HTTP mapping.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// ToHTTPStatus maps a domain error code to an HTTP status for the JSON error
// envelope. Unknown codes map to 500.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeInsufficientPayment, CodeFeeTooHigh:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNotActive, CodeAlreadyExists, CodeConflict, CodeArithmeticOverflow:
		return http.StatusConflict
	case CodeInsufficientBalance:
		return http.StatusPaymentRequired
	case CodeServicePaused:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
