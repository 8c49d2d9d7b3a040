package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"
)

// Device is one connected adb device
type Device interface {
	// State returns the adb state string, "device" when usable
	State(ctx context.Context) (string, error)
	Screencap(ctx context.Context) (*image.RGBA, error)
	Disconnect() error
}

// Dialer connects to the device with the given serial
type Dialer func(ctx context.Context, serial string) (Device, error)

type adbSource struct {
	dial    Dialer
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	devices map[uint64]Device
}

func newADBSource(dial Dialer, timeout time.Duration) *adbSource {
	return &adbSource{
		dial:    dial,
		timeout: timeout,
		now:     time.Now,
		devices: make(map[uint64]Device),
	}
}

func (s *adbSource) Kind() Kind { return KindAdbDevice }

func (s *adbSource) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

func (s *adbSource) Open(ctx context.Context, target Target) (*Handle, error) {
	if target.Kind != KindAdbDevice {
		return nil, newError(CodeUnsupported, KindAdbDevice, fmt.Errorf("target kind %q", target.Kind))
	}
	if target.Serial == "" {
		return nil, newError(CodeDeviceNotConnected, KindAdbDevice, errors.New("no device serial"))
	}

	dctx, cancel := s.bounded(ctx)
	defer cancel()

	dev, err := s.dial(dctx, target.Serial)
	if err != nil {
		return nil, s.classify(dctx, err, CodeDeviceNotConnected)
	}

	state, err := dev.State(dctx)
	if err != nil || state != "device" {
		dev.Disconnect()
		if err == nil {
			err = fmt.Errorf("device %s is %q", target.Serial, state)
		}
		return nil, s.classify(dctx, err, CodeDeviceNotConnected)
	}

	h := NewHandle(target, 0)
	s.mu.Lock()
	s.devices[h.ID] = dev
	s.mu.Unlock()
	return h, nil
}

func (s *adbSource) CaptureOnce(ctx context.Context, h *Handle) (Frame, error) {
	if h == nil || h.Closed() {
		return Frame{}, newError(CodeHandleClosed, KindAdbDevice, nil)
	}
	s.mu.Lock()
	dev, ok := s.devices[h.ID]
	s.mu.Unlock()
	if !ok {
		return Frame{}, newError(CodeHandleClosed, KindAdbDevice, nil)
	}

	cctx, cancel := s.bounded(ctx)
	defer cancel()

	img, err := dev.Screencap(cctx)
	if err != nil {
		if cctx.Err() != nil {
			return Frame{}, s.classify(cctx, err, CodeTimeout)
		}
		// Distinguish a vanished device from a failed screencap.
		sctx, scancel := s.bounded(ctx)
		state, serr := dev.State(sctx)
		scancel()
		if serr != nil || state != "device" {
			return Frame{}, newError(CodeDeviceNotConnected, KindAdbDevice, err)
		}
		return Frame{}, newError(CodeFailed, KindAdbDevice, err)
	}

	// A device has no window; it is always "in front" of its own screen.
	return NewFrame(img, h.NextSeq(), s.now(), WindowState{Foreground: true}, nil), nil
}

func (s *adbSource) Close(h *Handle) error {
	if h == nil || !h.MarkClosed() {
		return newError(CodeHandleClosed, KindAdbDevice, nil)
	}
	s.mu.Lock()
	dev := s.devices[h.ID]
	delete(s.devices, h.ID)
	s.mu.Unlock()
	if dev != nil {
		return dev.Disconnect()
	}
	return nil
}

// classify maps a deadline on ctx to CodeTimeout and everything else to fallback
func (s *adbSource) classify(ctx context.Context, err error, fallback Code) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(CodeTimeout, KindAdbDevice, err)
	}
	return newError(fallback, KindAdbDevice, err)
}
