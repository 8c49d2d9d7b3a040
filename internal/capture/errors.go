package capture

import (
	"errors"
	"fmt"
)

// Code classifies a capture failure
type Code string

const (
	CodeWindowNotFound       Code = "WindowNotFound"
	CodeWindowMinimized      Code = "WindowMinimized"
	CodeEmulatorNotConnected Code = "EmulatorNotConnected"
	CodeDeviceNotConnected   Code = "DeviceNotConnected"
	CodeTimeout              Code = "CaptureTimeout"
	CodeHandleClosed         Code = "HandleClosed"
	CodeUnsupported          Code = "UnsupportedCaptureMethod"
	CodeFailed               Code = "CaptureFailed"
)

// Error is a capture failure with its code and the backend that produced it
type Error struct {
	Code Code
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Kind != "" {
		prefix = fmt.Sprintf("%s capture: %s", e.Kind, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrWindowNotFound)
// works regardless of backend or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrWindowNotFound       = &Error{Code: CodeWindowNotFound}
	ErrWindowMinimized      = &Error{Code: CodeWindowMinimized}
	ErrEmulatorNotConnected = &Error{Code: CodeEmulatorNotConnected}
	ErrDeviceNotConnected   = &Error{Code: CodeDeviceNotConnected}
	ErrTimeout              = &Error{Code: CodeTimeout}
	ErrHandleClosed         = &Error{Code: CodeHandleClosed}
	ErrUnsupported          = &Error{Code: CodeUnsupported}
	ErrFailed               = &Error{Code: CodeFailed}
)

func newError(code Code, kind Kind, err error) *Error {
	return &Error{Code: code, Kind: kind, Err: err}
}

// CodeOf returns the capture code carried by err, or "" if err is not a capture error
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// IsTransient reports whether the caller may retry the capture
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeUnsupported, CodeHandleClosed:
		return false
	case "":
		return err != nil
	default:
		return true
	}
}

// IsTargetGone reports whether the error means the window or device is no longer there
func IsTargetGone(err error) bool {
	switch CodeOf(err) {
	case CodeWindowNotFound, CodeEmulatorNotConnected, CodeDeviceNotConnected:
		return true
	}
	return false
}
