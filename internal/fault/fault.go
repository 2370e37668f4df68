// Package fault defines the stable error taxonomy returned by module and
// proxy operations.
//
// Every fault aborts the unit of work that raised it. Callers inspect the
// Code (never the message) to decide what went wrong.
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code identifies the category of a fault.
type Code string

const (
	// CodeUnauthorized: wrong owner, relayer, or conversation participant.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeInvalidArgument: zero address, zero or oversized amount, fee out of
	// range, mismatched declared fee, malformed call data.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// CodeNotFound: unmapped selector or missing conversation.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInsufficientValue: attached value below the required fee.
	CodeInsufficientValue Code = "INSUFFICIENT_VALUE"

	// CodeInsufficientCredit: prepaid balance below the required debit.
	CodeInsufficientCredit Code = "INSUFFICIENT_CREDIT"

	// CodeAlreadyInitialized: initializer called a second time.
	CodeAlreadyInitialized Code = "ALREADY_INITIALIZED"

	// CodeNothingToWithdraw: accumulated fee balance is zero.
	CodeNothingToWithdraw Code = "NOTHING_TO_WITHDRAW"

	// CodeInsufficientBalance: native or token balance (or allowance) too low
	// to cover a transfer.
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"

	// CodeCallDepthExceeded: nested calls went past the engine's depth limit.
	CodeCallDepthExceeded Code = "CALL_DEPTH_EXCEEDED"
)

// Error is a fault raised during execution of a unit of work.
type Error struct {
	// Code identifies the fault category.
	Code Code

	// Message is a human-readable description.
	Message string

	// Details carries additional context (addresses, amounts, selectors).
	Details map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + e.Details[k]
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, strings.Join(parts, ", "))
}

// With returns the error with an additional detail attached.
func (e *Error) With(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a fault with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...any) *Error {
	return New(CodeUnauthorized, format, args...)
}

func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, format, args...)
}

func InsufficientValue(format string, args ...any) *Error {
	return New(CodeInsufficientValue, format, args...)
}

func InsufficientCredit(format string, args ...any) *Error {
	return New(CodeInsufficientCredit, format, args...)
}

func AlreadyInitialized(format string, args ...any) *Error {
	return New(CodeAlreadyInitialized, format, args...)
}

func NothingToWithdraw(format string, args ...any) *Error {
	return New(CodeNothingToWithdraw, format, args...)
}

func InsufficientBalance(format string, args ...any) *Error {
	return New(CodeInsufficientBalance, format, args...)
}

// Is reports whether err (or anything it wraps) is a fault with the given code.
func Is(err error, code Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// CodeOf returns the fault code carried by err, or "" if err is not a fault.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
