package artos

import "github.com/goartos/kernel/internal/kcode"

// Postcode, Error and the trace hook live in internal/kcode so that
// lower packages (sched, thread, ktimer, ksync, kevent, kqueue, kpool,
// kpubsub) can produce and inspect them without importing this root
// package — only this file, and whatever re-exports it needs, knows
// about kcode from the outside.
type Postcode = kcode.Postcode

const (
	PostcodeOK              = kcode.PostcodeOK
	PostcodeWaitTimeout     = kcode.PostcodeWaitTimeout
	PostcodeWaitAvailable   = kcode.PostcodeWaitAvailable
	PostcodeWaitUnavailable = kcode.PostcodeWaitUnavailable
	PostcodeWaitNoData      = kcode.PostcodeWaitNoData
)

// Error is the structured failure type every blocking primitive returns
// for a negative Postcode (§7).
type Error = kcode.Error

// TraceFunc is the diagnostic hook signature for negative postcodes.
type TraceFunc = kcode.TraceFunc

// PackFailure builds a negative Postcode from a component id, source
// line, and subcode (§6).
func PackFailure(component, line, subcode int) Postcode {
	return kcode.PackFailure(component, line, subcode)
}

// NewError creates a structured error for a bare component failure.
func NewError(op string, code Postcode, msg string) *Error {
	return kcode.NewError(op, code, msg)
}

// NewTaskError creates a structured error naming the task involved.
func NewTaskError(op string, taskID int32, code Postcode, msg string) *Error {
	return kcode.NewTaskError(op, taskID, code, msg)
}

// NewPrimitiveError creates a structured error naming the primitive
// handle involved.
func NewPrimitiveError(op, primitive string, code Postcode, msg string) *Error {
	return kcode.NewPrimitiveError(op, primitive, code, msg)
}

// WrapError wraps inner with op context, preserving Code/Primitive/TaskID
// if inner is already a structured *Error.
func WrapError(op string, inner error) *Error {
	return kcode.WrapError(op, inner)
}

// IsPostcode reports whether err (or anything it wraps) carries code.
func IsPostcode(err error, code Postcode) bool {
	return kcode.IsPostcode(err, code)
}

// SetTraceHandler installs (or clears, with nil) the process-wide trace
// callback fired for every negative postcode produced anywhere in the
// kernel.
func SetTraceHandler(fn TraceFunc) { kcode.SetTraceHandler(fn) }

// Trace fires the registered trace handler. Component packages call this
// at the point they return a failing postcode; it never alters state.
func Trace(component string, line int, pc Postcode) { kcode.Trace(component, line, pc) }
