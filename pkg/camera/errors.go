package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrorCode classifies a failure so callers can tell a misconfigured device
// from one that is simply offline.
type ErrorCode string

const (
	ErrCodeValidation     ErrorCode = "validation"
	ErrCodeUnreachable    ErrorCode = "unreachable"
	ErrCodeProtocol       ErrorCode = "protocol_error"
	ErrCodeNotSupported   ErrorCode = "not_supported"
	ErrCodeSDKUnavailable ErrorCode = "sdk_unavailable"
	ErrCodeTimeout        ErrorCode = "timeout"
	ErrCodeInternal       ErrorCode = "internal"

	// Orchestrator-level outcomes.
	ErrCodeNoMatchingStrategy  ErrorCode = "no_matching_strategy"
	ErrCodeAllCandidatesFailed ErrorCode = "all_candidates_failed"
	ErrCodeDeviceUnreachable   ErrorCode = "device_unreachable"
)

// Error is the failure value returned by every strategy operation.
type Error struct {
	Code     ErrorCode
	Strategy string
	Op       string
	Message  string
	Err      error
}

// NewError creates a coded error.
func NewError(code ErrorCode, strategy, op, message string, err error) *Error {
	return &Error{
		Code:     code,
		Strategy: strategy,
		Op:       op,
		Message:  message,
		Err:      err,
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Strategy != "" {
		b.WriteString(e.Strategy)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(MaskCredentials(e.Err.Error()))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first *Error in err's chain, ErrCodeInternal
// for other non-nil errors, and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// MapError translates raw network and context errors into coded errors
// attributed to strategy/op. Errors that are already coded pass through.
func MapError(strategy, op string, err error) *Error {
	if err == nil {
		return nil
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(ErrCodeTimeout, strategy, op, "operation timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewError(ErrCodeTimeout, strategy, op, "operation cancelled", err)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return NewError(ErrCodeTimeout, strategy, op, "network timeout", err)
	}

	msg := err.Error()
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "no route to host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "dial tcp") {
		return NewError(ErrCodeUnreachable, strategy, op, "device unreachable", err)
	}

	// The peer answered but not in the protocol spoken to it.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		strings.Contains(msg, "malformed HTTP") ||
		strings.Contains(msg, "server closed idle connection") {
		return NewError(ErrCodeProtocol, strategy, op, "unexpected response from device", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return NewError(ErrCodeUnreachable, strategy, op, "device unreachable", err)
	}

	return NewError(ErrCodeInternal, strategy, op, fmt.Sprintf("%s failed", op), err)
}
