package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"
)

// WindowSystem is the window-manager surface the window backends need
type WindowSystem interface {
	// FindWindow locates a top-level window by title substring or owning process name
	FindWindow(title, processName string) (uintptr, error)

	// State reports the current window state; ok is false if the window no longer exists
	State(hwnd uintptr) (state WindowState, ok bool)

	// ScreenRect returns the window client area in screen coordinates
	ScreenRect(hwnd uintptr) (image.Rectangle, error)

	// CaptureWindow copies the window contents without requiring focus
	CaptureWindow(hwnd uintptr) (*image.RGBA, error)

	// Hazards samples display settings that distort captured colours
	Hazards() []Hazard
}

// ScreenGrabber copies a region of the desktop
type ScreenGrabber func(rect image.Rectangle) (*image.RGBA, error)

// windowSource serves both window backends. The PC backend grabs the screen
// region under the window; the emulator backend reads the window itself.
type windowSource struct {
	kind    Kind
	ws      WindowSystem
	grab    ScreenGrabber
	timeout time.Duration
	now     func() time.Time
}

func newPCSource(ws WindowSystem, grab ScreenGrabber, timeout time.Duration) *windowSource {
	return &windowSource{kind: KindProcessWindow, ws: ws, grab: grab, timeout: timeout, now: time.Now}
}

func newEmulatorSource(ws WindowSystem, timeout time.Duration) *windowSource {
	return &windowSource{kind: KindEmulatorWindow, ws: ws, timeout: timeout, now: time.Now}
}

func (s *windowSource) Kind() Kind { return s.kind }

// notFound is the code used when the window cannot be resolved
func (s *windowSource) notFound() Code {
	if s.kind == KindEmulatorWindow {
		return CodeEmulatorNotConnected
	}
	return CodeWindowNotFound
}

func (s *windowSource) Open(ctx context.Context, target Target) (*Handle, error) {
	if target.Kind != s.kind {
		return nil, newError(CodeUnsupported, s.kind, fmt.Errorf("target kind %q", target.Kind))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hwnd := target.Window
	if hwnd == 0 {
		if target.Title == "" && target.ProcessName == "" {
			return nil, newError(s.notFound(), s.kind, errors.New("no window handle, title or process name"))
		}
		found, err := s.ws.FindWindow(target.Title, target.ProcessName)
		if err != nil {
			return nil, newError(s.notFound(), s.kind, err)
		}
		hwnd = found
	}

	if _, ok := s.ws.State(hwnd); !ok {
		return nil, newError(s.notFound(), s.kind, fmt.Errorf("window 0x%x does not exist", hwnd))
	}

	return NewHandle(target, hwnd), nil
}

func (s *windowSource) CaptureOnce(ctx context.Context, h *Handle) (Frame, error) {
	if h == nil || h.Closed() {
		return Frame{}, newError(CodeHandleClosed, s.kind, nil)
	}

	state, ok := s.ws.State(h.Window)
	if !ok {
		return Frame{}, newError(s.notFound(), s.kind, fmt.Errorf("window 0x%x is gone", h.Window))
	}
	if state.Minimized {
		return Frame{}, newError(CodeWindowMinimized, s.kind, nil)
	}

	img, err := boundedCapture(ctx, s.timeout, func() (*image.RGBA, error) {
		if s.kind == KindEmulatorWindow {
			return s.ws.CaptureWindow(h.Window)
		}
		rect, err := s.ws.ScreenRect(h.Window)
		if err != nil {
			return nil, err
		}
		return s.grab(rect)
	})
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			return Frame{}, newError(ce.Code, s.kind, ce.Err)
		}
		return Frame{}, newError(CodeFailed, s.kind, err)
	}

	return NewFrame(img, h.NextSeq(), s.now(), state, s.ws.Hazards()), nil
}

func (s *windowSource) Close(h *Handle) error {
	if h == nil || !h.MarkClosed() {
		return newError(CodeHandleClosed, s.kind, nil)
	}
	return nil
}

// boundedCapture runs fn and gives up once ctx ends or timeout elapses.
// A grab that outlives the deadline is abandoned; its result is discarded.
func boundedCapture(ctx context.Context, timeout time.Duration, fn func() (*image.RGBA, error)) (*image.RGBA, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		img *image.RGBA
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, err := fn()
		done <- result{img, err}
	}()

	select {
	case r := <-done:
		return r.img, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Code: CodeTimeout, Err: ctx.Err()}
		}
		return nil, ctx.Err()
	}
}
