package adb

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"jordanella.com/autopilot/internal/capture"
)

// ErrDeviceOffline is returned when the device is not in the "device" state
var ErrDeviceOffline = errors.New("adb device offline")

// runner executes adb with args; stdoutOnly selects Output over CombinedOutput
type runner func(ctx context.Context, stdoutOnly bool, args ...string) ([]byte, error)

// Controller drives one adb device
type Controller struct {
	path      string
	serial    string
	run       runner
	mu        sync.Mutex
	connected bool
}

// NewController creates a controller for the device with the given serial
func NewController(adbPath, serial string) *Controller {
	c := &Controller{
		path:   adbPath,
		serial: serial,
	}
	c.run = c.execRun
	return c
}

func (c *Controller) execRun(ctx context.Context, stdoutOnly bool, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.path, args...)
	if stdoutOnly {
		return cmd.Output()
	}
	return cmd.CombinedOutput()
}

// Serial returns the device serial
func (c *Controller) Serial() string {
	return c.serial
}

// isNetworkSerial reports whether the serial is host:port and needs adb connect
func (c *Controller) isNetworkSerial() bool {
	return strings.Contains(c.serial, ":")
}

// Connect establishes the connection to the device
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isNetworkSerial() {
		output, err := c.run(ctx, false, "connect", c.serial)
		if err != nil {
			return fmt.Errorf("failed to connect to device %s: %w, output: %s", c.serial, err, output)
		}
		if !strings.Contains(string(output), "connected") {
			return fmt.Errorf("unexpected connect output: %s", strings.TrimSpace(string(output)))
		}
	}

	c.connected = true
	return nil
}

// Disconnect drops a network connection; USB devices are left attached
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false

	if !c.isNetworkSerial() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if output, err := c.run(ctx, false, "disconnect", c.serial); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w, output: %s", c.serial, err, output)
	}
	return nil
}

// IsConnected returns whether Connect succeeded and Disconnect was not called
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// State returns the adb state of the device ("device", "offline", ...)
func (c *Controller) State(ctx context.Context) (string, error) {
	output, err := c.run(ctx, false, "-s", c.serial, "get-state")
	if err != nil {
		return "", fmt.Errorf("get-state failed: %w, output: %s", err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

// Dialer returns a capture dialer that connects controllers through adbPath
func Dialer(adbPath string) capture.Dialer {
	return func(ctx context.Context, serial string) (capture.Device, error) {
		c := NewController(adbPath, serial)
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}
