//go:build !windows
// +build !windows

package winapi

import (
	"errors"
	"image"
	"os"

	"jordanella.com/autopilot/internal/capture"
)

// ErrUnsupportedPlatform is returned where window capture is unavailable
var ErrUnsupportedPlatform = errors.New("window capture requires windows")

// System is unavailable outside Windows; every method fails
type System struct{}

// New always fails on this platform
func New() (*System, error) {
	return nil, ErrUnsupportedPlatform
}

func (s *System) FindWindow(title, processName string) (uintptr, error) {
	return 0, ErrUnsupportedPlatform
}

func (s *System) State(hwnd uintptr) (capture.WindowState, bool) {
	return capture.WindowState{}, false
}

func (s *System) ScreenRect(hwnd uintptr) (image.Rectangle, error) {
	return image.Rectangle{}, ErrUnsupportedPlatform
}

func (s *System) CaptureWindow(hwnd uintptr) (*image.RGBA, error) {
	return nil, ErrUnsupportedPlatform
}

func (s *System) Hazards() []capture.Hazard { return nil }

// WindowProcessID always returns 0 on this platform
func WindowProcessID(hwnd uintptr) int32 { return 0 }

// IsElevated reports whether the process runs as root
func IsElevated() bool {
	return os.Geteuid() == 0
}
