package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"
)

// fakeWindows is an in-memory WindowSystem
type fakeWindows struct {
	mu      sync.Mutex
	windows map[uintptr]*fakeWindow
	hazards []Hazard
	slow    time.Duration
	grabErr error
}

type fakeWindow struct {
	title string
	proc  string
	rect  image.Rectangle
	state WindowState
}

func newFakeWindows() *fakeWindows {
	return &fakeWindows{windows: make(map[uintptr]*fakeWindow)}
}

func (f *fakeWindows) add(hwnd uintptr, title string, w, h int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows[hwnd] = &fakeWindow{
		title: title,
		proc:  "game.exe",
		rect:  image.Rect(100, 100, 100+w, 100+h),
		state: WindowState{Foreground: true},
	}
}

func (f *fakeWindows) set(hwnd uintptr, fn func(*fakeWindow)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f.windows[hwnd])
}

func (f *fakeWindows) remove(hwnd uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.windows, hwnd)
}

func (f *fakeWindows) FindWindow(title, processName string) (uintptr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for hwnd, w := range f.windows {
		if (title != "" && w.title == title) || (processName != "" && w.proc == processName) {
			return hwnd, nil
		}
	}
	return 0, errors.New("no matching window")
}

func (f *fakeWindows) State(hwnd uintptr) (WindowState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[hwnd]
	if !ok {
		return WindowState{}, false
	}
	return w.state, true
}

func (f *fakeWindows) ScreenRect(hwnd uintptr) (image.Rectangle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.windows[hwnd]
	if !ok {
		return image.Rectangle{}, errors.New("gone")
	}
	return w.rect, nil
}

func (f *fakeWindows) CaptureWindow(hwnd uintptr) (*image.RGBA, error) {
	if f.slow > 0 {
		time.Sleep(f.slow)
	}
	if f.grabErr != nil {
		return nil, f.grabErr
	}
	rect, err := f.ScreenRect(hwnd)
	if err != nil {
		return nil, err
	}
	return image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy())), nil
}

func (f *fakeWindows) Hazards() []Hazard {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hazards
}

func grabRect(rect image.Rectangle) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy())), nil
}

func TestOpenThenCaptureReturnsSequenceZero(t *testing.T) {
	ws := newFakeWindows()
	ws.add(0x10, "Game", 1920, 1080)

	src, err := NewSource(KindProcessWindow, Deps{Windows: ws, Grab: grabRect})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	h, err := src.Open(context.Background(), Target{Kind: KindProcessWindow, Title: "Game"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	frame, err := src.CaptureOnce(context.Background(), h)
	if err != nil {
		t.Fatalf("CaptureOnce: %v", err)
	}
	if frame.Seq != 0 {
		t.Errorf("first frame seq = %d, want 0", frame.Seq)
	}
	if frame.Width() != 1920 || frame.Height() != 1080 {
		t.Errorf("frame size = %dx%d, want 1920x1080", frame.Width(), frame.Height())
	}
	if !frame.Window.Foreground {
		t.Error("expected foreground window state on frame")
	}
}

func TestSequenceNumbersStrictlyIncreasePerHandle(t *testing.T) {
	ws := newFakeWindows()
	ws.add(0x10, "Game", 1280, 720)
	src, _ := NewSource(KindEmulatorWindow, Deps{Windows: ws})

	h1, err := src.Open(context.Background(), Target{Kind: KindEmulatorWindow, Window: 0x10})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	h2, err := src.Open(context.Background(), Target{Kind: KindEmulatorWindow, Window: 0x10})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	var last uint64
	for i := 0; i < 5; i++ {
		f, err := src.CaptureOnce(context.Background(), h1)
		if err != nil {
			t.Fatalf("CaptureOnce: %v", err)
		}
		if i > 0 && f.Seq <= last {
			t.Fatalf("seq %d not greater than %d", f.Seq, last)
		}
		last = f.Seq
	}

	f, _ := src.CaptureOnce(context.Background(), h2)
	if f.Seq != 0 {
		t.Errorf("second handle should start at 0, got %d", f.Seq)
	}
}

func TestWindowCaptureErrors(t *testing.T) {
	ws := newFakeWindows()
	ws.add(0x10, "Game", 1920, 1080)
	pc, _ := NewSource(KindProcessWindow, Deps{Windows: ws, Grab: grabRect})
	emu, _ := NewSource(KindEmulatorWindow, Deps{Windows: ws})

	if _, err := pc.Open(context.Background(), Target{Kind: KindProcessWindow, Title: "Missing"}); !errors.Is(err, ErrWindowNotFound) {
		t.Errorf("pc open missing window: got %v, want WindowNotFound", err)
	}
	if _, err := emu.Open(context.Background(), Target{Kind: KindEmulatorWindow, Title: "Missing"}); !errors.Is(err, ErrEmulatorNotConnected) {
		t.Errorf("emulator open missing window: got %v, want EmulatorNotConnected", err)
	}
	if _, err := pc.Open(context.Background(), Target{Kind: KindAdbDevice, Serial: "x"}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("kind mismatch: got %v, want UnsupportedCaptureMethod", err)
	}

	h, err := pc.Open(context.Background(), Target{Kind: KindProcessWindow, Window: 0x10})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	ws.set(0x10, func(w *fakeWindow) { w.state.Minimized = true })
	if _, err := pc.CaptureOnce(context.Background(), h); !errors.Is(err, ErrWindowMinimized) {
		t.Errorf("minimized: got %v, want WindowMinimized", err)
	}

	ws.remove(0x10)
	_, err = pc.CaptureOnce(context.Background(), h)
	if !errors.Is(err, ErrWindowNotFound) {
		t.Errorf("removed: got %v, want WindowNotFound", err)
	}
	if !IsTargetGone(err) || !IsTransient(err) {
		t.Errorf("window not found should be transient and target-gone")
	}

	if err := pc.Close(h); err != nil {
		t.Errorf("Close: %v", err)
	}
	if _, err := pc.CaptureOnce(context.Background(), h); !errors.Is(err, ErrHandleClosed) {
		t.Errorf("closed handle: got %v, want HandleClosed", err)
	}
}

func TestCaptureTimeout(t *testing.T) {
	ws := newFakeWindows()
	ws.add(0x10, "Emu", 1280, 720)
	ws.slow = 200 * time.Millisecond

	src, _ := NewSource(KindEmulatorWindow, Deps{Windows: ws, Timeout: 10 * time.Millisecond})
	h, err := src.Open(context.Background(), Target{Kind: KindEmulatorWindow, Window: 0x10})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	start := time.Now()
	_, err = src.CaptureOnce(context.Background(), h)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want CaptureTimeout", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Errorf("capture blocked past its timeout")
	}
}

func TestFrameCarriesHazards(t *testing.T) {
	ws := newFakeWindows()
	ws.add(0x10, "Game", 1920, 1080)
	ws.hazards = []Hazard{HazardHDR}
	src, _ := NewSource(KindProcessWindow, Deps{Windows: ws, Grab: grabRect})

	h, _ := src.Open(context.Background(), Target{Kind: KindProcessWindow, Window: 0x10})
	f, err := src.CaptureOnce(context.Background(), h)
	if err != nil {
		t.Fatalf("CaptureOnce: %v", err)
	}
	hz := f.Hazards()
	if len(hz) != 1 || hz[0] != HazardHDR {
		t.Fatalf("hazards = %v", hz)
	}
	hz[0] = HazardNightLight
	if f.Hazards()[0] != HazardHDR {
		t.Error("frame hazards must not be mutable through the returned slice")
	}
}

type fakeDevice struct {
	state      string
	failShot   bool
	disconnect int
}

func (d *fakeDevice) State(ctx context.Context) (string, error) { return d.state, nil }

func (d *fakeDevice) Screencap(ctx context.Context) (*image.RGBA, error) {
	if d.failShot {
		return nil, errors.New("screencap failed")
	}
	return image.NewRGBA(image.Rect(0, 0, 1280, 720)), nil
}

func (d *fakeDevice) Disconnect() error { d.disconnect++; return nil }

func TestADBSource(t *testing.T) {
	dev := &fakeDevice{state: "device"}
	dial := func(ctx context.Context, serial string) (Device, error) {
		if serial != "127.0.0.1:16384" {
			return nil, errors.New("cannot connect")
		}
		return dev, nil
	}
	src, err := NewSource(KindAdbDevice, Deps{DialADB: dial})
	if err != nil {
		t.Fatalf("NewSource: %v", err)
	}

	if _, err := src.Open(context.Background(), Target{Kind: KindAdbDevice, Serial: "bad"}); !errors.Is(err, ErrDeviceNotConnected) {
		t.Errorf("bad serial: got %v, want DeviceNotConnected", err)
	}

	h, err := src.Open(context.Background(), Target{Kind: KindAdbDevice, Serial: "127.0.0.1:16384"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	f, err := src.CaptureOnce(context.Background(), h)
	if err != nil {
		t.Fatalf("CaptureOnce: %v", err)
	}
	if f.Seq != 0 || f.Width() != 1280 {
		t.Errorf("unexpected frame seq=%d width=%d", f.Seq, f.Width())
	}

	dev.failShot = true
	if _, err := src.CaptureOnce(context.Background(), h); !errors.Is(err, ErrFailed) {
		t.Errorf("failed screencap on live device: got %v, want CaptureFailed", err)
	}
	dev.state = "offline"
	if _, err := src.CaptureOnce(context.Background(), h); !errors.Is(err, ErrDeviceNotConnected) {
		t.Errorf("offline device: got %v, want DeviceNotConnected", err)
	}

	if err := src.Close(h); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if dev.disconnect != 1 {
		t.Errorf("expected one disconnect, got %d", dev.disconnect)
	}
}

func TestNewSourceUnsupported(t *testing.T) {
	for _, kind := range Kinds {
		if _, err := NewSource(kind, Deps{}); !errors.Is(err, ErrUnsupported) {
			t.Errorf("%s without deps: got %v, want UnsupportedCaptureMethod", kind, err)
		}
	}
	if len(NewSources(Deps{})) != 0 {
		t.Error("no sources expected without deps")
	}
}

func TestMeteredStats(t *testing.T) {
	ws := newFakeWindows()
	ws.add(0x10, "Game", 1920, 1080)
	src, _ := NewSource(KindProcessWindow, Deps{Windows: ws, Grab: grabRect})
	m := NewMetered(src)

	h, _ := m.Open(context.Background(), Target{Kind: KindProcessWindow, Window: 0x10})
	for i := 0; i < 3; i++ {
		if _, err := m.CaptureOnce(context.Background(), h); err != nil {
			t.Fatalf("CaptureOnce: %v", err)
		}
	}
	ws.remove(0x10)
	m.CaptureOnce(context.Background(), h)

	stats := m.Stats()
	if stats.Captures != 3 || stats.Failures != 1 {
		t.Errorf("captures=%d failures=%d, want 3/1", stats.Captures, stats.Failures)
	}
	if stats.Sequence != 2 || stats.Width != 1920 || stats.Height != 1080 {
		t.Errorf("unexpected last frame info: %+v", stats)
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"pc":       KindProcessWindow,
		"Window":   KindProcessWindow,
		"emulator": KindEmulatorWindow,
		"ADB":      KindAdbDevice,
	}
	for in, want := range tests {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseKind("dxgi"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("unknown method should be UnsupportedCaptureMethod, got %v", err)
	}
}

func TestEmulatorWindowLossReportsNotConnected(t *testing.T) {
	ws := newFakeWindows()
	ws.add(0x10, "MuMu", 1280, 720)
	emu, _ := NewSource(KindEmulatorWindow, Deps{Windows: ws})

	h, err := emu.Open(context.Background(), Target{Kind: KindEmulatorWindow, Title: "MuMu"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ws.remove(0x10)

	_, err = emu.CaptureOnce(context.Background(), h)
	if !errors.Is(err, ErrEmulatorNotConnected) {
		t.Errorf("got %v, want EmulatorNotConnected", err)
	}
	if !IsTargetGone(err) {
		t.Error("lost emulator window should count as target gone")
	}
}

func TestBackendErrorsDoNotMutateSentinels(t *testing.T) {
	ws := newFakeWindows()
	ws.add(0x10, "MuMu", 1280, 720)
	ws.grabErr = ErrWindowMinimized
	emu, _ := NewSource(KindEmulatorWindow, Deps{Windows: ws})

	h, err := emu.Open(context.Background(), Target{Kind: KindEmulatorWindow, Window: 0x10})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = emu.CaptureOnce(context.Background(), h)

	var ce *Error
	if !errors.As(err, &ce) || ce.Code != CodeWindowMinimized || ce.Kind != KindEmulatorWindow {
		t.Errorf("got %#v, want minimized error tagged with the emulator backend", err)
	}
	if ce == ErrWindowMinimized || ErrWindowMinimized.Kind != "" {
		t.Error("package sentinel was modified")
	}
}
