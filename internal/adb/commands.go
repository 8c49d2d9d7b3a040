package adb

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"strings"
)

// SwipeParams defines parameters for swipe gestures
type SwipeParams struct {
	X1, Y1, X2, Y2 int
	Duration       int // milliseconds
}

// Tap performs a tap at device coordinates
func (c *Controller) Tap(ctx context.Context, x, y int) error {
	_, err := c.Shell(ctx, fmt.Sprintf("input tap %d %d", x, y))
	return err
}

// Swipe performs a swipe gesture
func (c *Controller) Swipe(ctx context.Context, p SwipeParams) error {
	_, err := c.Shell(ctx, fmt.Sprintf("input swipe %d %d %d %d %d", p.X1, p.Y1, p.X2, p.Y2, p.Duration))
	return err
}

// SendKey sends a key event (e.g., "KEYCODE_BACK", "KEYCODE_HOME")
func (c *Controller) SendKey(ctx context.Context, key string) error {
	_, err := c.Shell(ctx, fmt.Sprintf("input keyevent %s", key))
	return err
}

// Input sends text input
func (c *Controller) Input(ctx context.Context, text string) error {
	escapedText := strings.ReplaceAll(text, " ", "%s")
	_, err := c.Shell(ctx, fmt.Sprintf("input text %s", escapedText))
	return err
}

// Shell executes a shell command and returns its trimmed output
func (c *Controller) Shell(ctx context.Context, command string) (string, error) {
	output, err := c.run(ctx, false, "-s", c.serial, "shell", command)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("shell command %q: %w", command, ctx.Err())
		}
		return "", fmt.Errorf("shell command failed: %w, output: %s", err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

// Screencap streams a PNG screenshot from the device and decodes it
func (c *Controller) Screencap(ctx context.Context) (*image.RGBA, error) {
	output, err := c.run(ctx, true, "-s", c.serial, "exec-out", "screencap", "-p")
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("screencap: %w", ctx.Err())
		}
		return nil, fmt.Errorf("screencap failed: %w", err)
	}
	return decodePNG(output)
}

// decodePNG converts screencap output to RGBA
func decodePNG(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("screencap returned no data")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screencap: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	return rgba, nil
}

// ScreenSize returns the current screen size, preferring an override size
func (c *Controller) ScreenSize(ctx context.Context) (width, height int, err error) {
	output, err := c.Shell(ctx, "wm size")
	if err != nil {
		return 0, 0, err
	}
	return parseWindowSize(output)
}

// parseWindowSize parses "Physical size: 1080x1920" with an optional
// "Override size:" line, which wins when present
func parseWindowSize(output string) (int, int, error) {
	var w, h int
	found := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		var lw, lh int
		if _, err := fmt.Sscanf(line, "Override size: %dx%d", &lw, &lh); err == nil {
			return lw, lh, nil
		}
		if _, err := fmt.Sscanf(line, "Physical size: %dx%d", &lw, &lh); err == nil {
			w, h, found = lw, lh, true
		}
	}
	if !found {
		return 0, 0, fmt.Errorf("failed to parse window size: %s", output)
	}
	return w, h, nil
}

// CurrentFocus returns the focused window line from dumpsys
func (c *Controller) CurrentFocus(ctx context.Context) (string, error) {
	output, err := c.Shell(ctx, "dumpsys window | grep -E 'mCurrentFocus'")
	if err != nil {
		return "", err
	}
	return output, nil
}

// IsAppRunning checks if a package has a live process
func (c *Controller) IsAppRunning(ctx context.Context, packageName string) (bool, error) {
	output, err := c.Shell(ctx, fmt.Sprintf("pidof %s", packageName))
	if err != nil {
		return false, nil // pidof exits non-zero when not found
	}
	return len(strings.TrimSpace(output)) > 0, nil
}
