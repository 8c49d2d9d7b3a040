package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/logging"
	"jordanella.com/autopilot/internal/winapi"
)

// ErrLaunchFailed wraps every failure to start the target executable
var ErrLaunchFailed = errors.New("launch failed")

// ProcessLister returns the running processes as pid/name pairs
type ProcessLister func(ctx context.Context) ([]ProcessInfo, error)

// ProcessInfo is a running process
type ProcessInfo struct {
	PID  int32
	Name string
}

// Launcher finds and starts local game processes
type Launcher struct {
	logger    *logging.Logger
	list      ProcessLister
	exists    func(pid int32) bool
	windowPID func(hwnd uintptr) int32
	elevated  func() bool
	args      []string
}

// New creates a launcher backed by the system process table
func New(logger *logging.Logger) *Launcher {
	if logger == nil {
		logger = logging.NewLogger("Launcher")
	}
	return &Launcher{
		logger:    logger,
		list:      listProcesses,
		exists:    pidExists,
		windowPID: winapi.WindowProcessID,
		elevated:  winapi.IsElevated,
	}
}

// WithArgs sets extra command-line arguments passed on launch
func (l *Launcher) WithArgs(args ...string) *Launcher {
	l.args = args
	return l
}

func listProcesses(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name == "" {
			continue
		}
		out = append(out, ProcessInfo{PID: p.Pid, Name: name})
	}
	return out, nil
}

func pidExists(pid int32) bool {
	ok, err := process.PidExists(pid)
	return err == nil && ok
}

// ProcessName returns the executable name used to look up a target
func ProcessName(target capture.Target) string {
	if target.ProcessName != "" {
		return target.ProcessName
	}
	if target.ExePath == "" {
		return ""
	}
	path := target.ExePath
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		path = path[i+1:]
	}
	return path
}

// Find looks for a running process matching the target. A target with a
// window handle resolves to the process owning that window.
func (l *Launcher) Find(ctx context.Context, target capture.Target) (int32, bool, error) {
	if target.Window != 0 && l.windowPID != nil {
		if pid := l.windowPID(target.Window); pid > 0 && l.exists(pid) {
			return pid, true, nil
		}
	}
	name := ProcessName(target)
	if name == "" {
		return 0, false, nil
	}
	procs, err := l.list(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("list processes: %w", err)
	}
	for _, p := range procs {
		if strings.EqualFold(p.Name, name) {
			return p.PID, true, nil
		}
	}
	return 0, false, nil
}

// Launch starts the target executable and returns its pid. The process is
// not tied to ctx and keeps running after the session ends.
func (l *Launcher) Launch(ctx context.Context, target capture.Target) (int32, error) {
	if target.ExePath == "" {
		return 0, fmt.Errorf("%w: no executable path configured", ErrLaunchFailed)
	}
	if _, err := os.Stat(target.ExePath); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	cmd := exec.Command(target.ExePath, l.args...)
	cmd.Dir = filepath.Dir(target.ExePath)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
	}
	pid := int32(cmd.Process.Pid)
	go cmd.Wait()

	l.logger.InfoWithContext("Process launched", map[string]interface{}{
		"path": target.ExePath,
		"pid":  pid,
	})
	return pid, nil
}

// Alive reports whether pid is still running
func (l *Launcher) Alive(pid int32) bool {
	if pid <= 0 {
		return false
	}
	return l.exists(pid)
}

// Elevated reports whether this process has administrator rights
func (l *Launcher) Elevated() bool {
	return l.elevated()
}
