package wellenbrecher

import (
	"errors"
	"fmt"
	"syscall"
)

// Error is a structured error carrying enough context to log and to test
// against without string matching: which operation failed, which lackey
// ring or connection it happened on, a high-level category, and the kernel
// errno if one applies.
type Error struct {
	Op     string        // Operation that failed (e.g., "ACCEPT", "READ", "WRITEV")
	ConnID uint64         // Connection identifier (0 if not applicable)
	Ring   int           // Lackey ring index (-1 if not applicable)
	Code   ErrorCode     // High-level error category
	Errno  syscall.Errno // Kernel errno (0 if not applicable)
	Msg    string        // Human-readable message
	Inner  error         // Wrapped error
}

func (e *Error) Error() string {
	var parts []string

	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.ConnID != 0 {
		parts = append(parts, fmt.Sprintf("conn=%d", e.ConnID))
	}
	if e.Ring >= 0 {
		parts = append(parts, fmt.Sprintf("ring=%d", e.Ring))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("wellenbrecher: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("wellenbrecher: %s", msg)
}

func (e *Error) Unwrap() error {
	return e.Inner
}

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// ErrorCode is a high-level error category, independent of the exact
// syscall errno behind it.
type ErrorCode string

const (
	ErrCodeInvalidParameters ErrorCode = "invalid parameters"
	ErrCodeConnectionClosed  ErrorCode = "connection closed"
	ErrCodeRingFull          ErrorCode = "submission ring full"
	ErrCodeOutOfBounds       ErrorCode = "pixel out of bounds"
	ErrCodeProtocolError     ErrorCode = "protocol error"
	ErrCodeIOError           ErrorCode = "I/O error"
	ErrCodePermissionDenied  ErrorCode = "permission denied"
	ErrCodeInsufficientMemory ErrorCode = "insufficient memory"
	ErrCodeTimeout           ErrorCode = "timeout"
	ErrCodeNotImplemented    ErrorCode = "not implemented"
)

// NewError creates a structured error with no connection/ring context.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Ring: -1, Code: code, Msg: msg}
}

// NewErrorWithErrno creates a structured error wrapping a kernel errno.
func NewErrorWithErrno(op string, code ErrorCode, errno syscall.Errno) *Error {
	return &Error{Op: op, Ring: -1, Code: code, Errno: errno, Msg: errno.Error()}
}

// NewConnError creates a structured error tagged with the connection and
// lackey ring it happened on.
func NewConnError(op string, connID uint64, ring int, code ErrorCode, msg string) *Error {
	return &Error{Op: op, ConnID: connID, Ring: ring, Code: code, Msg: msg}
}

// WrapError wraps an existing error with operation context, mapping
// syscall.Errno values to an ErrorCode automatically.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	if we, ok := inner.(*Error); ok {
		return &Error{Op: op, ConnID: we.ConnID, Ring: we.Ring, Code: we.Code, Errno: we.Errno, Msg: we.Msg, Inner: we.Inner}
	}

	if errno, ok := inner.(syscall.Errno); ok {
		return &Error{Op: op, Ring: -1, Code: mapErrnoToCode(errno), Errno: errno, Msg: errno.Error(), Inner: inner}
	}

	return &Error{Op: op, Ring: -1, Code: ErrCodeIOError, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) ErrorCode {
	switch errno {
	case syscall.EINVAL, syscall.E2BIG:
		return ErrCodeInvalidParameters
	case syscall.EPIPE, syscall.ECONNRESET:
		return ErrCodeConnectionClosed
	case syscall.EPERM, syscall.EACCES:
		return ErrCodePermissionDenied
	case syscall.ENOMEM, syscall.ENOSPC:
		return ErrCodeInsufficientMemory
	case syscall.ETIMEDOUT:
		return ErrCodeTimeout
	default:
		return ErrCodeIOError
	}
}

// IsCode reports whether err is (or wraps) an *Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsErrno reports whether err is (or wraps) an *Error carrying the given
// kernel errno.
func IsErrno(err error, errno syscall.Errno) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno == errno
	}
	return false
}
