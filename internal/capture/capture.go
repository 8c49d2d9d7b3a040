package capture

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync/atomic"
	"time"
)

// Kind tags the capture backend a target is bound to
type Kind string

const (
	// KindProcessWindow captures the on-screen region of a local game window (foreground)
	KindProcessWindow Kind = "pc"
	// KindEmulatorWindow captures an emulator window by handle (background capable)
	KindEmulatorWindow Kind = "emulator"
	// KindAdbDevice pulls screenshots from an Android device over adb
	KindAdbDevice Kind = "adb"
)

// Kinds lists every supported backend
var Kinds = []Kind{KindProcessWindow, KindEmulatorWindow, KindAdbDevice}

// ParseKind converts a config value to a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pc", "window", "process", "process_window":
		return KindProcessWindow, nil
	case "emulator", "emulator_window":
		return KindEmulatorWindow, nil
	case "adb", "device", "adb_device":
		return KindAdbDevice, nil
	}
	return "", &Error{Code: CodeUnsupported, Err: fmt.Errorf("unknown capture method %q", s)}
}

// Target identifies what to capture. It is immutable once bound to a session.
type Target struct {
	Kind Kind

	// Window is a known window handle; zero means locate by Title or ProcessName.
	Window uintptr
	Title  string

	// ExePath and ProcessName locate (and launch) a PC game process.
	ExePath     string
	ProcessName string

	// Serial is the adb device serial, e.g. "127.0.0.1:16384".
	Serial string
}

func (t Target) String() string {
	switch t.Kind {
	case KindAdbDevice:
		return fmt.Sprintf("adb:%s", t.Serial)
	default:
		if t.Window != 0 {
			return fmt.Sprintf("%s:0x%x", t.Kind, t.Window)
		}
		if t.Title != "" {
			return fmt.Sprintf("%s:%q", t.Kind, t.Title)
		}
		return fmt.Sprintf("%s:%s", t.Kind, t.ProcessName)
	}
}

// WindowState is the window condition observed when a frame was captured
type WindowState struct {
	Minimized   bool
	Foreground  bool
	OutOfScreen bool
}

// Hazard is an environment condition known to corrupt captured pixel values
type Hazard string

const (
	HazardNightLight Hazard = "night_light"
	HazardHDR        Hazard = "hdr"
)

// Frame is one captured image. Frames are immutable once created.
type Frame struct {
	img     *image.RGBA
	hazards []Hazard

	Seq        uint64
	CapturedAt time.Time
	Window     WindowState
}

// NewFrame wraps an image as a frame. The caller must not modify img afterwards.
func NewFrame(img *image.RGBA, seq uint64, capturedAt time.Time, state WindowState, hazards []Hazard) Frame {
	var hz []Hazard
	if len(hazards) > 0 {
		hz = make([]Hazard, len(hazards))
		copy(hz, hazards)
	}
	return Frame{
		img:        img,
		hazards:    hz,
		Seq:        seq,
		CapturedAt: capturedAt,
		Window:     state,
	}
}

// Image returns the frame pixels as a read-only image
func (f Frame) Image() image.Image {
	if f.img == nil {
		return image.NewRGBA(image.Rectangle{})
	}
	return f.img
}

// Bounds returns the frame bounds
func (f Frame) Bounds() image.Rectangle {
	if f.img == nil {
		return image.Rectangle{}
	}
	return f.img.Bounds()
}

// Width returns the frame width in pixels
func (f Frame) Width() int { return f.Bounds().Dx() }

// Height returns the frame height in pixels
func (f Frame) Height() int { return f.Bounds().Dy() }

// Hazards returns a copy of the environment hazards sampled with the frame
func (f Frame) Hazards() []Hazard {
	if len(f.hazards) == 0 {
		return nil
	}
	out := make([]Hazard, len(f.hazards))
	copy(out, f.hazards)
	return out
}

// IsZero reports whether the frame carries no image
func (f Frame) IsZero() bool { return f.img == nil }

// Handle is an opened capture target. Sequence numbers are per handle and
// start at zero unless the handle is seeded with ContinueFrom.
type Handle struct {
	ID     uint64
	Target Target

	// Window is the resolved window handle for window backends
	Window uintptr

	seq    atomic.Uint64
	closed atomic.Bool
}

var handleIDs atomic.Uint64

// NewHandle creates a handle for a target
func NewHandle(target Target, window uintptr) *Handle {
	return &Handle{
		ID:     handleIDs.Add(1),
		Target: target,
		Window: window,
	}
}

// NextSeq reserves the next sequence number
func (h *Handle) NextSeq() uint64 {
	return h.seq.Add(1) - 1
}

// ContinueFrom makes the next frame carry sequence number next. A caller that
// reopens a target uses it to keep numbering monotonic across handles.
func (h *Handle) ContinueFrom(next uint64) {
	h.seq.Store(next)
}

// MarkClosed flags the handle closed; it returns false if it already was
func (h *Handle) MarkClosed() bool {
	return h.closed.CompareAndSwap(false, true)
}

// Closed reports whether Close has been called
func (h *Handle) Closed() bool {
	return h.closed.Load()
}

// Source is the polling contract shared by every capture backend
type Source interface {
	// Kind returns the backend tag used for support matrix lookup
	Kind() Kind

	// Open resolves the target and returns a handle for it
	Open(ctx context.Context, target Target) (*Handle, error)

	// CaptureOnce grabs one frame. It never blocks past ctx or the backend timeout.
	CaptureOnce(ctx context.Context, h *Handle) (Frame, error)

	// Close releases the handle
	Close(h *Handle) error
}
