package validate

import (
	"fmt"
	"strconv"
	"strings"

	"jordanella.com/autopilot/internal/capture"
)

// DefaultTolerance is the relative aspect-ratio tolerance (1%)
const DefaultTolerance = 0.01

// Size is a width and height in pixels
type Size struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// IsZero reports whether both dimensions are zero
func (s Size) IsZero() bool { return s.Width == 0 && s.Height == 0 }

// Covers reports whether s is at least min in both dimensions
func (s Size) Covers(min Size) bool {
	return s.Width >= min.Width && s.Height >= min.Height
}

// ResolutionSpec is one acceptable resolution class for a capture kind.
//
// With Exact set the frame must be exactly Width x Height. Otherwise the frame
// aspect ratio must be within Tolerance of Ratio (or Width:Height when Ratio
// is empty). MinSize is a floor for both modes.
type ResolutionSpec struct {
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	Ratio     string  `yaml:"ratio"`
	Tolerance float64 `yaml:"tolerance"`
	MinSize   Size    `yaml:"min_size"`
	Exact     bool    `yaml:"exact"`
}

// RatioValue returns the spec's aspect ratio as width/height
func (r ResolutionSpec) RatioValue() (float64, error) {
	if r.Ratio != "" {
		return ParseRatio(r.Ratio)
	}
	if r.Width > 0 && r.Height > 0 {
		return float64(r.Width) / float64(r.Height), nil
	}
	return 0, fmt.Errorf("resolution spec has neither ratio nor size")
}

// RatioLabel returns the ratio in "W:H" form for messages
func (r ResolutionSpec) RatioLabel() string {
	if r.Ratio != "" {
		return r.Ratio
	}
	g := gcd(r.Width, r.Height)
	if g == 0 {
		return "any"
	}
	return fmt.Sprintf("%d:%d", r.Width/g, r.Height/g)
}

func (r ResolutionSpec) tolerance() float64 {
	if r.Tolerance <= 0 {
		return DefaultTolerance
	}
	return r.Tolerance
}

// Check validates the spec itself
func (r ResolutionSpec) Check() error {
	if r.Exact && (r.Width <= 0 || r.Height <= 0) {
		return fmt.Errorf("exact resolution spec needs width and height")
	}
	if !r.Exact {
		if _, err := r.RatioValue(); err != nil {
			return err
		}
	}
	if r.Tolerance < 0 || r.Tolerance >= 1 {
		return fmt.Errorf("tolerance %v out of range [0,1)", r.Tolerance)
	}
	return nil
}

// ParseRatio parses "16:9" (or "16/9", or a decimal like "1.7778")
func ParseRatio(s string) (float64, error) {
	s = strings.TrimSpace(s)
	sep := strings.IndexAny(s, ":/")
	if sep < 0 {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v <= 0 {
			return 0, fmt.Errorf("invalid aspect ratio %q", s)
		}
		return v, nil
	}
	w, err1 := strconv.ParseFloat(strings.TrimSpace(s[:sep]), 64)
	h, err2 := strconv.ParseFloat(strings.TrimSpace(s[sep+1:]), 64)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, fmt.Errorf("invalid aspect ratio %q", s)
	}
	return w / h, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// SupportMatrix maps a capture kind to its acceptable resolutions.
// A kind with no entries accepts any resolution.
type SupportMatrix map[capture.Kind][]ResolutionSpec

// DefaultMatrix is used when no support matrix file is configured
func DefaultMatrix() SupportMatrix {
	landscape := ResolutionSpec{Ratio: "16:9", Tolerance: DefaultTolerance, MinSize: Size{1280, 720}}
	return SupportMatrix{
		capture.KindProcessWindow:  {landscape},
		capture.KindEmulatorWindow: {landscape},
		capture.KindAdbDevice: {
			{Width: 1280, Height: 720, Exact: true},
			{Width: 1920, Height: 1080, Exact: true},
			{Width: 2560, Height: 1440, Exact: true},
		},
	}
}

// Check validates every spec in the matrix
func (m SupportMatrix) Check() error {
	for kind, specs := range m {
		for i, spec := range specs {
			if err := spec.Check(); err != nil {
				return fmt.Errorf("%s spec %d: %w", kind, i, err)
			}
		}
	}
	return nil
}
