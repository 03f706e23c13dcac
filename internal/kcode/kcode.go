// Package kcode implements the kernel's postcode/error types (§6, §7):
// the 32-bit signed return code every public operation produces, and the
// structured *Error that wraps its negative (failure) values. It lives
// under internal/ so every component package (sched, thread, ktimer,
// ksync, kevent, kqueue, kpool, kpubsub) can depend on it without a cycle
// through the root artos package, which re-exports these types by alias.
package kcode

import (
	"errors"
	"fmt"
)

// Postcode is the kernel's 32-bit signed return code (§6). Zero is
// success; positive values are informational wait categories; negative
// values pack {component:10 bits, line:13 bits, subcode:8 bits} and are
// always wrapped in an *Error before reaching a caller that checks with
// errors.Is/As.
type Postcode int32

const (
	// PostcodeOK is success.
	PostcodeOK Postcode = 0

	// Positive informational codes (never wrapped in *Error).
	PostcodeWaitTimeout     Postcode = 1
	PostcodeWaitAvailable   Postcode = 2
	PostcodeWaitUnavailable Postcode = 3
	PostcodeWaitNoData      Postcode = 4
)

// IsOK reports whether pc is the zero success code.
func (pc Postcode) IsOK() bool { return pc == PostcodeOK }

// IsFailure reports whether pc encodes a packed component/line failure.
func (pc Postcode) IsFailure() bool { return pc < 0 }

func (pc Postcode) String() string {
	switch pc {
	case PostcodeOK:
		return "OK"
	case PostcodeWaitTimeout:
		return "WAIT_TIMEOUT"
	case PostcodeWaitAvailable:
		return "WAIT_AVAILABLE"
	case PostcodeWaitUnavailable:
		return "WAIT_UNAVAILABLE"
	case PostcodeWaitNoData:
		return "WAIT_NODATA"
	}
	if pc.IsFailure() {
		comp, line, sub := pc.Unpack()
		return fmt.Sprintf("FAIL(component=%d line=%d subcode=%d)", comp, line, sub)
	}
	return fmt.Sprintf("Postcode(%d)", int32(pc))
}

const (
	componentBits = 10
	lineBits      = 13
	subcodeBits   = 8

	subcodeMask = (1 << subcodeBits) - 1
	lineMask    = (1 << lineBits) - 1
	compMask    = (1 << componentBits) - 1
)

// PackFailure builds a negative Postcode from a component id, source
// line, and subcode, per §6's {component:10, line:13, subcode:8} layout.
func PackFailure(component, line, subcode int) Postcode {
	v := (component&compMask)<<(lineBits+subcodeBits) | (line&lineMask)<<subcodeBits | (subcode & subcodeMask)
	return Postcode(-int32(v))
}

// Unpack splits a negative Postcode back into component, line, subcode.
// Returns zeros for non-failure codes.
func (pc Postcode) Unpack() (component, line, subcode int) {
	if pc >= 0 {
		return 0, 0, 0
	}
	v := int32(-pc)
	subcode = int(v & subcodeMask)
	v >>= subcodeBits
	line = int(v & lineMask)
	v >>= lineBits
	component = int(v & compMask)
	return component, line, subcode
}

// Error wraps a negative Postcode with the context needed to diagnose
// it: which operation failed, which task and primitive were involved,
// and the packed failure code itself.
type Error struct {
	Op        string   // component/operation, e.g. "sem_take"
	TaskID    int32    // task involved, 0 if not applicable
	Primitive string   // primitive handle name, "" if not applicable
	Code      Postcode // always IsFailure()
	Msg       string
	Inner     error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	switch {
	case e.Op != "" && e.Primitive != "":
		return fmt.Sprintf("artos: %s (op=%s primitive=%s)", msg, e.Op, e.Primitive)
	case e.Op != "":
		return fmt.Sprintf("artos: %s (op=%s)", msg, e.Op)
	default:
		return fmt.Sprintf("artos: %s", msg)
	}
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if te, ok := target.(*Error); ok {
		return e.Code == te.Code
	}
	return false
}

// NewError creates a structured error for a bare component failure.
func NewError(op string, code Postcode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// NewTaskError creates a structured error naming the task involved.
func NewTaskError(op string, taskID int32, code Postcode, msg string) *Error {
	return &Error{Op: op, TaskID: taskID, Code: code, Msg: msg}
}

// NewPrimitiveError creates a structured error naming the primitive
// handle involved (semaphore, mutex, queue, etc. name).
func NewPrimitiveError(op, primitive string, code Postcode, msg string) *Error {
	return &Error{Op: op, Primitive: primitive, Code: code, Msg: msg}
}

// WrapError wraps inner with op context, preserving Code/Primitive/TaskID
// if inner is already a structured *Error.
func WrapError(op string, inner error) *Error {
	if inner == nil {
		return nil
	}
	var ae *Error
	if errors.As(inner, &ae) {
		return &Error{Op: op, TaskID: ae.TaskID, Primitive: ae.Primitive, Code: ae.Code, Msg: ae.Msg, Inner: ae.Inner}
	}
	return &Error{Op: op, Code: PackFailure(0, 0, 0), Msg: inner.Error(), Inner: inner}
}

// IsPostcode reports whether err (or anything it wraps) carries Postcode code.
func IsPostcode(err error, code Postcode) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

// TraceFunc receives (component, line) for every negative postcode
// produced by the kernel, the registered trace callback named in §6/§7.
// It is diagnostic only: it never alters kernel state.
type TraceFunc func(component string, line int)

var traceHandler TraceFunc

// SetTraceHandler installs (or clears, with nil) the process-wide trace
// callback.
func SetTraceHandler(fn TraceFunc) { traceHandler = fn }

// Trace fires the registered trace handler for a negative postcode
// produced at (component, line). Safe to call with a nil handler. Every
// component package calls this at the point it returns a failing
// postcode.
func Trace(component string, line int, pc Postcode) {
	if pc >= 0 || traceHandler == nil {
		return
	}
	traceHandler(component, line)
}
