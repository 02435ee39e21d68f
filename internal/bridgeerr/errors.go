// Package bridgeerr defines the error taxonomy shared by every layer of the
// host/script bridge.
//
// Errors carry a Kind (what went wrong) and an Op (where). Matching is done on
// Kind, so callers test with the exported sentinels:
//
//	if errors.Is(err, bridgeerr.ErrConversion) { ... }
//
// Host-invoked callbacks log these errors and degrade to a zero result.
// Script-invoked natives throw them back into the scripting runtime.
package bridgeerr

import (
	"fmt"
	"strings"
)

// Kind categorizes the error.
type Kind string

const (
	// KindInitialization is a missing library, export or entry point at
	// bring-up. Fatal for the bridge.
	KindInitialization Kind = "initialization"
	// KindConversion is a value that does not follow the opaque box
	// convention, or an integral conversion that failed.
	KindConversion Kind = "conversion"
	// KindInvocation is an exception raised by a scripted method.
	KindInvocation Kind = "invocation"
	// KindRegistration is an absent or malformed parent type at bind time.
	KindRegistration Kind = "registration"
	// KindProtocolViolation is a programming defect, e.g. submission after
	// shutdown.
	KindProtocolViolation Kind = "protocol_violation"
)

// Error is the structured error type used throughout the bridge.
type Error struct {
	Cause  error
	Kind   Kind
	Op     string
	Detail string
}

// Sentinels for errors.Is.
var (
	ErrInitialization    = &Error{Kind: KindInitialization}
	ErrConversion        = &Error{Kind: KindConversion}
	ErrInvocation        = &Error{Kind: KindInvocation}
	ErrRegistration      = &Error{Kind: KindRegistration}
	ErrProtocolViolation = &Error{Kind: KindProtocolViolation}
)

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func newError(kind Kind, op string, cause error, format string, args []any) *Error {
	e := &Error{Kind: kind, Op: op, Cause: cause}
	if len(args) > 0 {
		e.Detail = fmt.Sprintf(format, args...)
	} else {
		e.Detail = format
	}
	return e
}

// Initialization builds a KindInitialization error.
func Initialization(op string, cause error, format string, args ...any) *Error {
	return newError(KindInitialization, op, cause, format, args)
}

// Conversion builds a KindConversion error.
func Conversion(op string, cause error, format string, args ...any) *Error {
	return newError(KindConversion, op, cause, format, args)
}

// Invocation builds a KindInvocation error.
func Invocation(op string, cause error, format string, args ...any) *Error {
	return newError(KindInvocation, op, cause, format, args)
}

// Registration builds a KindRegistration error.
func Registration(op string, cause error, format string, args ...any) *Error {
	return newError(KindRegistration, op, cause, format, args)
}

// ProtocolViolation builds a KindProtocolViolation error.
func ProtocolViolation(op string, cause error, format string, args ...any) *Error {
	return newError(KindProtocolViolation, op, cause, format, args)
}

// FromPanic converts a recovered panic value into an error of the given kind.
// Errors are wrapped as the cause; anything else is formatted into the detail.
func FromPanic(kind Kind, op string, r any) *Error {
	if err, ok := r.(error); ok {
		return &Error{Kind: kind, Op: op, Cause: err, Detail: "panic"}
	}
	return &Error{Kind: kind, Op: op, Detail: fmt.Sprintf("panic: %v", r)}
}
