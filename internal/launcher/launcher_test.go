package launcher

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/logging"
)

func fakeLauncher(procs []ProcessInfo, alive map[int32]bool) *Launcher {
	return &Launcher{
		logger:   logging.Discard(),
		list:     func(context.Context) ([]ProcessInfo, error) { return procs, nil },
		exists:   func(pid int32) bool { return alive[pid] },
		elevated: func() bool { return true },
	}
}

func TestProcessName(t *testing.T) {
	tests := []struct {
		target capture.Target
		want   string
	}{
		{capture.Target{ProcessName: "game.exe", ExePath: `C:\Games\other.exe`}, "game.exe"},
		{capture.Target{ExePath: `C:\Games\Game\game.exe`}, "game.exe"},
		{capture.Target{ExePath: "/opt/game/bin/game"}, "game"},
		{capture.Target{Title: "Game"}, ""},
	}
	for _, tt := range tests {
		if got := ProcessName(tt.target); got != tt.want {
			t.Errorf("ProcessName(%+v) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestFindMatchesCaseInsensitively(t *testing.T) {
	l := fakeLauncher([]ProcessInfo{{PID: 10, Name: "explorer.exe"}, {PID: 42, Name: "Game.EXE"}}, nil)

	pid, found, err := l.Find(context.Background(), capture.Target{ProcessName: "game.exe"})
	if err != nil || !found || pid != 42 {
		t.Errorf("Find = (%d, %v, %v), want (42, true, nil)", pid, found, err)
	}

	_, found, _ = l.Find(context.Background(), capture.Target{ProcessName: "missing.exe"})
	if found {
		t.Error("found a process that is not running")
	}

	_, found, _ = l.Find(context.Background(), capture.Target{Title: "only a title"})
	if found {
		t.Error("a target without a process name should not match")
	}
}

func TestLaunchMissingExecutable(t *testing.T) {
	l := fakeLauncher(nil, nil)

	_, err := l.Launch(context.Background(), capture.Target{ExePath: filepath.Join(t.TempDir(), "nope.exe")})
	if !errors.Is(err, ErrLaunchFailed) {
		t.Errorf("missing path: err = %v, want ErrLaunchFailed", err)
	}

	_, err = l.Launch(context.Background(), capture.Target{})
	if !errors.Is(err, ErrLaunchFailed) {
		t.Errorf("empty path: err = %v, want ErrLaunchFailed", err)
	}
}

func TestAlive(t *testing.T) {
	l := fakeLauncher(nil, map[int32]bool{7: true})
	if !l.Alive(7) {
		t.Error("pid 7 should be alive")
	}
	if l.Alive(8) || l.Alive(0) {
		t.Error("unknown or zero pid reported alive")
	}
}

func TestFindResolvesWindowOwner(t *testing.T) {
	l := fakeLauncher([]ProcessInfo{{PID: 42, Name: "game.exe"}}, map[int32]bool{42: true, 77: true})
	owners := map[uintptr]int32{0x1234: 77}
	l.windowPID = func(hwnd uintptr) int32 { return owners[hwnd] }

	pid, found, err := l.Find(context.Background(), capture.Target{Window: 0x1234, ProcessName: "game.exe"})
	if err != nil || !found || pid != 77 {
		t.Errorf("Find by window = (%d, %v, %v), want (77, true, nil)", pid, found, err)
	}

	// a window that no longer exists falls back to the process name
	pid, found, _ = l.Find(context.Background(), capture.Target{Window: 0x9999, ProcessName: "game.exe"})
	if !found || pid != 42 {
		t.Errorf("Find fallback = (%d, %v), want (42, true)", pid, found)
	}

	_, found, _ = l.Find(context.Background(), capture.Target{Window: 0x9999})
	if found {
		t.Error("a dead window without a process name should not match")
	}
}
