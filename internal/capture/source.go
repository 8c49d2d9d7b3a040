package capture

import (
	"errors"
	"fmt"
	"time"

	"github.com/kbinani/screenshot"
)

// DefaultTimeout bounds a single capture when no timeout is configured
const DefaultTimeout = 5 * time.Second

// Deps are the platform pieces the backends are built from
type Deps struct {
	// Windows is nil on platforms without a supported window manager
	Windows WindowSystem

	// Grab copies a desktop region; defaults to screenshot.CaptureRect
	Grab ScreenGrabber

	// DialADB connects to a device; nil disables the adb backend
	DialADB Dialer

	// Timeout bounds every CaptureOnce and device call
	Timeout time.Duration
}

// NewSource returns the backend for kind
func NewSource(kind Kind, deps Deps) (Source, error) {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	switch kind {
	case KindProcessWindow:
		if deps.Windows == nil {
			return nil, newError(CodeUnsupported, kind, errors.New("window capture is not available on this platform"))
		}
		grab := deps.Grab
		if grab == nil {
			grab = screenshot.CaptureRect
		}
		return newPCSource(deps.Windows, grab, timeout), nil

	case KindEmulatorWindow:
		if deps.Windows == nil {
			return nil, newError(CodeUnsupported, kind, errors.New("window capture is not available on this platform"))
		}
		return newEmulatorSource(deps.Windows, timeout), nil

	case KindAdbDevice:
		if deps.DialADB == nil {
			return nil, newError(CodeUnsupported, kind, errors.New("adb is not configured"))
		}
		return newADBSource(deps.DialADB, timeout), nil
	}

	return nil, newError(CodeUnsupported, kind, fmt.Errorf("unknown capture kind %q", kind))
}

// NewSources builds every backend deps can support, keyed by kind
func NewSources(deps Deps) map[Kind]Source {
	sources := make(map[Kind]Source, len(Kinds))
	for _, kind := range Kinds {
		if src, err := NewSource(kind, deps); err == nil {
			sources[kind] = src
		}
	}
	return sources
}
