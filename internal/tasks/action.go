package tasks

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"jordanella.com/autopilot/internal/adb"
	"jordanella.com/autopilot/internal/logging"
)

// ErrNoInput is returned by input actions when the target has no input channel
var ErrNoInput = errors.New("no input channel for this target")

// Input delivers gestures and key presses to the target
type Input interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, p adb.SwipeParams) error
	SendKey(ctx context.Context, key string) error
	Input(ctx context.Context, text string) error
}

// Action runs after a match. at is where the condition matched, or the
// zero point when the condition has no location.
type Action func(ctx context.Context, at image.Point) error

// ParseAction builds an action from its config form:
//
//	tap              tap where the condition matched
//	tap:X,Y          tap fixed coordinates
//	swipe:X1,Y1,X2,Y2[,MS]
//	key:KEYCODE_BACK
//	input:some text
//	log              only log the match
func ParseAction(spec, taskID string, in Input, logger *logging.Logger) (Action, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(spec), ":")
	name = strings.ToLower(name)

	needInput := func(run func(ctx context.Context, at image.Point) error) Action {
		return func(ctx context.Context, at image.Point) error {
			if in == nil {
				return ErrNoInput
			}
			return run(ctx, at)
		}
	}

	switch name {
	case "", "log":
		return func(ctx context.Context, at image.Point) error {
			logger.InfoWithContext("Task matched", map[string]interface{}{
				"task": taskID,
				"x":    at.X,
				"y":    at.Y,
			})
			return nil
		}, nil

	case "tap":
		if arg == "" {
			return needInput(func(ctx context.Context, at image.Point) error {
				return in.Tap(ctx, at.X, at.Y)
			}), nil
		}
		v, err := ints(arg, 2, 2)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", spec, err)
		}
		return needInput(func(ctx context.Context, _ image.Point) error {
			return in.Tap(ctx, v[0], v[1])
		}), nil

	case "swipe":
		v, err := ints(arg, 4, 5)
		if err != nil {
			return nil, fmt.Errorf("action %q: %w", spec, err)
		}
		p := adb.SwipeParams{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3], Duration: 300}
		if len(v) == 5 {
			p.Duration = v[4]
		}
		return needInput(func(ctx context.Context, _ image.Point) error {
			return in.Swipe(ctx, p)
		}), nil

	case "key":
		if arg == "" {
			return nil, fmt.Errorf("action %q: missing key code", spec)
		}
		return needInput(func(ctx context.Context, _ image.Point) error {
			return in.SendKey(ctx, arg)
		}), nil

	case "input":
		return needInput(func(ctx context.Context, _ image.Point) error {
			return in.Input(ctx, arg)
		}), nil
	}
	return nil, fmt.Errorf("unknown action %q", spec)
}

func ints(s string, min, max int) ([]int, error) {
	parts := strings.Split(s, ",")
	if len(parts) < min || len(parts) > max {
		return nil, fmt.Errorf("want %d to %d numbers, got %d", min, max, len(parts))
	}
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}
