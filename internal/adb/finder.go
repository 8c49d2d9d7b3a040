package adb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// FindADB attempts to locate the ADB executable
func FindADB(preferredPath string) (string, error) {
	if preferredPath != "" {
		if info, err := os.Stat(preferredPath); err == nil && !info.IsDir() {
			return preferredPath, nil
		}
		name := "adb"
		if runtime.GOOS == "windows" {
			name = "adb.exe"
		}
		for _, candidate := range []string{
			filepath.Join(preferredPath, name),
			filepath.Join(preferredPath, "adb", name),
			filepath.Join(preferredPath, "shell", name),
		} {
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	commonPaths := []string{
		// MuMu Player
		`C:\Program Files\Netease\MuMuPlayer-12.0\shell\adb.exe`,
		`C:\Program Files (x86)\Netease\MuMuPlayer-12.0\shell\adb.exe`,

		// Android SDK
		`C:\Android\sdk\platform-tools\adb.exe`,
		`${LOCALAPPDATA}\Android\Sdk\platform-tools\adb.exe`,

		// PATH
		"adb.exe",
	}

	if runtime.GOOS != "windows" {
		commonPaths = []string{
			"/usr/bin/adb",
			"/usr/local/bin/adb",
			"${HOME}/Android/Sdk/platform-tools/adb",
			"adb",
		}
	}

	for _, path := range commonPaths {
		expandedPath := os.ExpandEnv(path)

		if _, err := os.Stat(expandedPath); err == nil {
			return expandedPath, nil
		}

		if !strings.ContainsAny(path, `/\`) {
			if adbPath, err := exec.LookPath(path); err == nil {
				return adbPath, nil
			}
		}
	}

	return "", fmt.Errorf("adb not found, please specify adb_path in settings")
}

// DeviceInfo is one line of `adb devices`
type DeviceInfo struct {
	Serial string
	State  string
}

// Devices lists attached devices
func Devices(ctx context.Context, adbPath string) ([]DeviceInfo, error) {
	output, err := exec.CommandContext(ctx, adbPath, "devices").CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("adb devices failed: %w, output: %s", err, output)
	}
	return parseDevices(string(output)), nil
}

func parseDevices(output string) []DeviceInfo {
	var devices []DeviceInfo
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}
		devices = append(devices, DeviceInfo{Serial: parts[0], State: parts[1]})
	}
	return devices
}

// commonEmulatorPorts are the default adb ports of popular emulators
var commonEmulatorPorts = []string{
	"16384", // MuMu 12 instance 0
	"16416", // MuMu 12 instance 1
	"16448", // MuMu 12 instance 2
	"7555",  // MuMu 6
	"5555",  // Generic Android emulator / LDPlayer
	"62001", // Nox
}

// DetectSerial returns the first online device, falling back to probing
// common local emulator ports
func DetectSerial(ctx context.Context, adbPath string) (string, error) {
	devices, err := Devices(ctx, adbPath)
	if err != nil {
		return "", err
	}
	for _, d := range devices {
		if d.State == "device" {
			return d.Serial, nil
		}
	}

	for _, port := range commonEmulatorPorts {
		c := NewController(adbPath, "127.0.0.1:"+port)
		if err := c.Connect(ctx); err != nil {
			continue
		}
		if state, err := c.State(ctx); err == nil && state == "device" {
			return c.Serial(), nil
		}
		c.Disconnect()
	}

	return "", fmt.Errorf("could not detect a device: %w", ErrDeviceOffline)
}
