//go:build windows
// +build windows

package winapi

import (
	"fmt"
	"image"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/windows"

	"jordanella.com/autopilot/internal/capture"
)

var (
	user32                     = windows.NewLazySystemDLL("user32.dll")
	gdi32                      = windows.NewLazySystemDLL("gdi32.dll")
	procEnumWindows            = user32.NewProc("EnumWindows")
	procGetWindowTextW         = user32.NewProc("GetWindowTextW")
	procGetWindowThreadProcID  = user32.NewProc("GetWindowThreadProcessId")
	procIsWindow               = user32.NewProc("IsWindow")
	procIsWindowVisible        = user32.NewProc("IsWindowVisible")
	procIsIconic               = user32.NewProc("IsIconic")
	procGetForegroundWindow    = user32.NewProc("GetForegroundWindow")
	procGetClientRect          = user32.NewProc("GetClientRect")
	procClientToScreen         = user32.NewProc("ClientToScreen")
	procGetSystemMetrics       = user32.NewProc("GetSystemMetrics")
	procPrintWindow            = user32.NewProc("PrintWindow")
	procGetDC                  = user32.NewProc("GetDC")
	procReleaseDC              = user32.NewProc("ReleaseDC")
	procCreateCompatibleDC     = gdi32.NewProc("CreateCompatibleDC")
	procCreateCompatibleBitmap = gdi32.NewProc("CreateCompatibleBitmap")
	procSelectObject           = gdi32.NewProc("SelectObject")
	procBitBlt                 = gdi32.NewProc("BitBlt")
	procDeleteDC               = gdi32.NewProc("DeleteDC")
	procDeleteObject           = gdi32.NewProc("DeleteObject")
	procGetDIBits              = gdi32.NewProc("GetDIBits")
)

const (
	srcCopy             = 0x00CC0020
	biRGB               = 0
	dibRGBColors        = 0
	pwRenderFullContent = 0x00000002

	smXVirtualScreen  = 76
	smYVirtualScreen  = 77
	smCXVirtualScreen = 78
	smCYVirtualScreen = 79
)

type rect struct {
	Left, Top, Right, Bottom int32
}

type point struct {
	X, Y int32
}

type bitmapInfoHeader struct {
	Size          uint32
	Width         int32
	Height        int32
	Planes        uint16
	BitCount      uint16
	Compression   uint32
	SizeImage     uint32
	XPelsPerMeter int32
	YPelsPerMeter int32
	ClrUsed       uint32
	ClrImportant  uint32
}

type bitmapInfo struct {
	Header bitmapInfoHeader
	Colors [1]uint32
}

// System implements capture.WindowSystem with user32/gdi32
type System struct {
	hazardTTL time.Duration

	mu        sync.Mutex
	hazards   []capture.Hazard
	hazardsAt time.Time
}

// New returns the Windows window system
func New() (*System, error) {
	if err := user32.Load(); err != nil {
		return nil, fmt.Errorf("load user32: %w", err)
	}
	if err := gdi32.Load(); err != nil {
		return nil, fmt.Errorf("load gdi32: %w", err)
	}
	return &System{hazardTTL: 5 * time.Second}, nil
}

// EnumWindows callbacks cannot be released, so one callback serves every search.
var (
	enumMu       sync.Mutex
	enumVisit    func(hwnd uintptr) bool
	enumCallback = windows.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		if enumVisit != nil && !enumVisit(hwnd) {
			return 0
		}
		return 1
	})
)

// eachWindow calls visit for every top-level window until it returns false
func eachWindow(visit func(hwnd uintptr) bool) {
	enumMu.Lock()
	defer enumMu.Unlock()
	enumVisit = visit
	procEnumWindows.Call(enumCallback, 0)
	enumVisit = nil
}

func windowText(hwnd uintptr) string {
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}

// WindowProcessID returns the pid owning hwnd, or 0 if the window is gone
func WindowProcessID(hwnd uintptr) int32 {
	if ok, _, _ := procIsWindow.Call(hwnd); ok == 0 {
		return 0
	}
	var pid uint32
	procGetWindowThreadProcID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))
	return int32(pid)
}

func windowProcessName(hwnd uintptr) string {
	pid := WindowProcessID(hwnd)
	if pid == 0 {
		return ""
	}
	p, err := process.NewProcess(pid)
	if err != nil {
		return ""
	}
	name, err := p.Name()
	if err != nil {
		return ""
	}
	return name
}

// FindWindow returns the first visible top-level window whose title contains
// title, or whose owning process is processName
func (s *System) FindWindow(title, processName string) (uintptr, error) {
	var found uintptr
	eachWindow(func(hwnd uintptr) bool {
		if visible, _, _ := procIsWindowVisible.Call(hwnd); visible == 0 {
			return true
		}
		text := windowText(hwnd)
		if title != "" && text != "" && strings.Contains(text, title) {
			found = hwnd
			return false
		}
		if processName != "" && strings.EqualFold(windowProcessName(hwnd), processName) {
			found = hwnd
			return false
		}
		return true
	})

	if found == 0 {
		return 0, fmt.Errorf("no window with title %q or process %q", title, processName)
	}
	return found, nil
}

func virtualScreen() image.Rectangle {
	x, _, _ := procGetSystemMetrics.Call(smXVirtualScreen)
	y, _, _ := procGetSystemMetrics.Call(smYVirtualScreen)
	w, _, _ := procGetSystemMetrics.Call(smCXVirtualScreen)
	h, _, _ := procGetSystemMetrics.Call(smCYVirtualScreen)
	x0, y0 := int(int32(x)), int(int32(y))
	return image.Rect(x0, y0, x0+int(int32(w)), y0+int(int32(h)))
}

// State reports minimized, foreground and off-screen flags for hwnd
func (s *System) State(hwnd uintptr) (capture.WindowState, bool) {
	if ok, _, _ := procIsWindow.Call(hwnd); ok == 0 {
		return capture.WindowState{}, false
	}

	var state capture.WindowState
	if iconic, _, _ := procIsIconic.Call(hwnd); iconic != 0 {
		state.Minimized = true
	}
	fg, _, _ := procGetForegroundWindow.Call()
	state.Foreground = fg == hwnd

	if !state.Minimized {
		if r, err := s.ScreenRect(hwnd); err == nil {
			state.OutOfScreen = !r.In(virtualScreen())
		}
	}
	return state, true
}

// ScreenRect returns the client area of hwnd in screen coordinates
func (s *System) ScreenRect(hwnd uintptr) (image.Rectangle, error) {
	var r rect
	ret, _, err := procGetClientRect.Call(hwnd, uintptr(unsafe.Pointer(&r)))
	if ret == 0 {
		return image.Rectangle{}, fmt.Errorf("failed to get client rect: %v", err)
	}

	var origin point
	ret, _, err = procClientToScreen.Call(hwnd, uintptr(unsafe.Pointer(&origin)))
	if ret == 0 {
		return image.Rectangle{}, fmt.Errorf("failed to map client origin: %v", err)
	}

	w := int(r.Right - r.Left)
	h := int(r.Bottom - r.Top)
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, fmt.Errorf("invalid window dimensions: %dx%d", w, h)
	}
	x, y := int(origin.X), int(origin.Y)
	return image.Rect(x, y, x+w, y+h), nil
}

// CaptureWindow copies the client area of hwnd, preferring PrintWindow so
// occluded windows still render
func (s *System) CaptureWindow(hwnd uintptr) (*image.RGBA, error) {
	var r rect
	ret, _, err := procGetClientRect.Call(hwnd, uintptr(unsafe.Pointer(&r)))
	if ret == 0 {
		return nil, fmt.Errorf("failed to get client rect: %v", err)
	}
	width := int(r.Right - r.Left)
	height := int(r.Bottom - r.Top)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid window dimensions: %dx%d", width, height)
	}

	hdcWindow, _, err := procGetDC.Call(hwnd)
	if hdcWindow == 0 {
		return nil, fmt.Errorf("failed to get window DC: %v", err)
	}
	defer procReleaseDC.Call(hwnd, hdcWindow)

	hdcMem, _, err := procCreateCompatibleDC.Call(hdcWindow)
	if hdcMem == 0 {
		return nil, fmt.Errorf("failed to create compatible DC: %v", err)
	}
	defer procDeleteDC.Call(hdcMem)

	hBitmap, _, err := procCreateCompatibleBitmap.Call(hdcWindow, uintptr(width), uintptr(height))
	if hBitmap == 0 {
		return nil, fmt.Errorf("failed to create compatible bitmap: %v", err)
	}
	defer procDeleteObject.Call(hBitmap)

	procSelectObject.Call(hdcMem, hBitmap)

	if ok, _, _ := procPrintWindow.Call(hwnd, hdcMem, pwRenderFullContent); ok == 0 {
		ret, _, err = procBitBlt.Call(hdcMem, 0, 0, uintptr(width), uintptr(height), hdcWindow, 0, 0, srcCopy)
		if ret == 0 {
			return nil, fmt.Errorf("BitBlt failed: %v", err)
		}
	}

	var bi bitmapInfo
	bi.Header.Size = uint32(unsafe.Sizeof(bi.Header))
	bi.Header.Width = int32(width)
	bi.Header.Height = -int32(height) // top-down
	bi.Header.Planes = 1
	bi.Header.BitCount = 32
	bi.Header.Compression = biRGB

	buffer := make([]byte, width*height*4)
	ret, _, err = procGetDIBits.Call(
		hdcMem,
		hBitmap,
		0,
		uintptr(height),
		uintptr(unsafe.Pointer(&buffer[0])),
		uintptr(unsafe.Pointer(&bi)),
		dibRGBColors,
	)
	if ret == 0 {
		return nil, fmt.Errorf("GetDIBits failed: %v", err)
	}

	// BGRA -> RGBA, alpha forced opaque since GDI leaves it undefined
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(buffer); i += 4 {
		img.Pix[i] = buffer[i+2]
		img.Pix[i+1] = buffer[i+1]
		img.Pix[i+2] = buffer[i]
		img.Pix[i+3] = 0xff
	}
	return img, nil
}

// Hazards returns the display settings known to distort captured colours.
// Registry reads are cached for a few seconds.
func (s *System) Hazards() []capture.Hazard {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.hazardsAt) < s.hazardTTL {
		return s.hazards
	}

	var hazards []capture.Hazard
	if nightLightEnabled() {
		hazards = append(hazards, capture.HazardNightLight)
	}
	if hdrEnabled() {
		hazards = append(hazards, capture.HazardHDR)
	}
	s.hazards = hazards
	s.hazardsAt = time.Now()
	return hazards
}

// IsElevated reports whether the process token is elevated
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
