package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	"jordanella.com/autopilot/internal/capture"
)

var (
	// ErrNoEngineConfigured is returned when text recognition was never set up
	ErrNoEngineConfigured = errors.New("no recognition engine configured")
	// ErrRecognitionFailed wraps every engine-side failure
	ErrRecognitionFailed = errors.New("recognition failed")
)

// Recognizer reads text from a frame. A zero roi means the whole frame.
// Failures are returned to the caller and never affect other tasks.
type Recognizer interface {
	Recognize(ctx context.Context, frame capture.Frame, roi image.Rectangle) (string, error)
}

// Unconfigured is the engine used when none is set up
type Unconfigured struct{}

func (Unconfigured) Recognize(context.Context, capture.Frame, image.Rectangle) (string, error) {
	return "", ErrNoEngineConfigured
}

// Func adapts a function to Recognizer
type Func func(ctx context.Context, frame capture.Frame, roi image.Rectangle) (string, error)

func (f Func) Recognize(ctx context.Context, frame capture.Frame, roi image.Rectangle) (string, error) {
	return f(ctx, frame, roi)
}

// Static returns fixed text regardless of the frame. Useful for dry runs.
type Static struct {
	Text string
}

func (s Static) Recognize(ctx context.Context, frame capture.Frame, roi image.Rectangle) (string, error) {
	if frame.IsZero() {
		return "", fmt.Errorf("%w: empty frame", ErrRecognitionFailed)
	}
	return s.Text, nil
}

// New builds the engine named by kind
func New(kind string, cfg OpenAIConfig) (Recognizer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "none":
		return Unconfigured{}, nil
	case "openai":
		o, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, fmt.Errorf("unknown recognition engine %q", kind)
}

// Contains reports whether text contains want, ignoring case and surrounding space
func Contains(text, want string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(text)), strings.ToLower(strings.TrimSpace(want)))
}
