package errcode

import (
	"context"
	"errors"
)

// Code is a stable, caller-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	InvalidArgument Code = "invalid_argument" // wrong tag, nil handle, zero-length transfer
	InvalidSize     Code = "invalid_size"     // frame over bound, output buffer too small
	NotSupported    Code = "not_supported"    // duplicate identity
	NotFound        Code = "not_found"        // handle not attached
	NoMemory        Code = "no_memory"
	NotAllowed      Code = "not_allowed"   // pin already reserved
	InvalidState    Code = "invalid_state" // no free host slot
	Timeout         Code = "timeout"
	CRC             Code = "crc_mismatch"

	BusUnsupported Code = "bus_unsupported" // no controller for the tag
	Unsupported    Code = "unsupported"     // operation has no meaning on this bus

	Error Code = "error" // generic fallback ("other")
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil && e.Err != e.C {
		s += " (" + e.Err.Error() + ")"
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, errcode.Timeout) match a wrapped *E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap attaches an operation name and cause to a code.
func Wrap(c Code, op string, err error) error {
	return &E{C: c, Op: op, Err: err}
}

// New builds an *E with a short message.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// MapDriverErr maps low-level driver errors to a Code.
// Only timeouts are distinguished; everything else counts as "other".
func MapDriverErr(err error) Code {
	if err == nil {
		return OK
	}
	if Of(err) == Timeout || errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Error
}
