package validate

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"jordanella.com/autopilot/internal/capture"
)

// Code is the outcome of validating a frame
type Code string

const (
	CodeOk                           Code = "Ok"
	CodeUnsupportedResolution        Code = "UnsupportedResolution"
	CodeUnsupportedAspectRatio       Code = "UnsupportedAspectRatio"
	CodeBelowMinimumSize             Code = "BelowMinimumSize"
	CodeWindowOutOfBoundsOrMinimized Code = "WindowOutOfBoundsOrMinimized"
)

// Cause narrows down a WindowOutOfBoundsOrMinimized result
type Cause string

const (
	CauseMinimized     Cause = "minimized"
	CauseOutOfScreen   Cause = "out_of_screen"
	CauseNotForeground Cause = "not_foreground"
	CauseEmptyFrame    Cause = "empty_frame"
)

// Result describes whether a frame may be used for automation.
// Hazards are reported alongside any code and never block on their own.
type Result struct {
	Code            Code
	Resolution      Size
	Nearest         Size
	Ratio           float64
	SupportedRatios []string
	MinSize         Size
	Cause           Cause
	Hazards         []capture.Hazard
}

// OK reports whether automation may run on the frame
func (r Result) OK() bool { return r.Code == CodeOk }

// Blocking reports whether the result must stop the session
func (r Result) Blocking() bool {
	switch r.Code {
	case CodeUnsupportedResolution, CodeUnsupportedAspectRatio, CodeBelowMinimumSize:
		return true
	}
	return false
}

// Transient reports whether the condition is expected to clear on its own
func (r Result) Transient() bool {
	return r.Code == CodeWindowOutOfBoundsOrMinimized
}

// HazardNames returns the hazards as strings
func (r Result) HazardNames() []string {
	return lo.Map(r.Hazards, func(h capture.Hazard, _ int) string { return string(h) })
}

// Detail returns the structured context carried into session reasons
func (r Result) Detail() map[string]interface{} {
	d := map[string]interface{}{
		"resolution": r.Resolution.String(),
	}
	switch r.Code {
	case CodeUnsupportedResolution:
		d["nearest_supported"] = r.Nearest.String()
	case CodeUnsupportedAspectRatio:
		d["ratio"] = fmt.Sprintf("%.4f", r.Ratio)
		d["supported_ratios"] = r.SupportedRatios
	case CodeBelowMinimumSize:
		d["min_size"] = r.MinSize.String()
	case CodeWindowOutOfBoundsOrMinimized:
		d["cause"] = string(r.Cause)
	}
	if len(r.Hazards) > 0 {
		d["hazards"] = r.HazardNames()
	}
	return d
}

func (r Result) String() string {
	switch r.Code {
	case CodeOk:
		return fmt.Sprintf("Ok(%s)", r.Resolution)
	case CodeUnsupportedResolution:
		return fmt.Sprintf("UnsupportedResolution(%s, nearest %s)", r.Resolution, r.Nearest)
	case CodeUnsupportedAspectRatio:
		return fmt.Sprintf("UnsupportedAspectRatio(%.3f, supported %v)", r.Ratio, r.SupportedRatios)
	case CodeBelowMinimumSize:
		return fmt.Sprintf("BelowMinimumSize(%s < %s)", r.Resolution, r.MinSize)
	default:
		return fmt.Sprintf("%s(%s)", r.Code, r.Cause)
	}
}

// Validator checks frames against a support matrix
type Validator struct {
	matrix SupportMatrix
}

// NewValidator creates a validator; a nil matrix accepts every resolution
func NewValidator(matrix SupportMatrix) *Validator {
	return &Validator{matrix: matrix}
}

// Matrix returns the support matrix in use
func (v *Validator) Matrix() SupportMatrix {
	return v.matrix
}

// Validate checks one frame. It only reads the frame and the matrix.
func (v *Validator) Validate(frame capture.Frame, target capture.Target) Result {
	return Validate(v.matrix, frame, target)
}

// Validate checks one frame against matrix for target's capture kind
func Validate(matrix SupportMatrix, frame capture.Frame, target capture.Target) Result {
	res := Result{
		Code:       CodeOk,
		Resolution: Size{Width: frame.Width(), Height: frame.Height()},
		Hazards:    frame.Hazards(),
	}

	// Window state first: a minimized window's image size is meaningless.
	state := frame.Window
	switch {
	case state.Minimized:
		return transient(res, CauseMinimized)
	case state.OutOfScreen:
		return transient(res, CauseOutOfScreen)
	case target.Kind == capture.KindProcessWindow && !state.Foreground:
		return transient(res, CauseNotForeground)
	case res.Resolution.Width <= 0 || res.Resolution.Height <= 0:
		return transient(res, CauseEmptyFrame)
	}

	specs := matrix[target.Kind]
	if len(specs) == 0 {
		return res
	}

	candidates := lo.Filter(specs, func(s ResolutionSpec, _ int) bool {
		return res.Resolution.Covers(s.MinSize)
	})
	if len(candidates) == 0 {
		res.Code = CodeBelowMinimumSize
		res.MinSize = lo.MinBy(specs, func(a, b ResolutionSpec) bool {
			return a.MinSize.Width*a.MinSize.Height < b.MinSize.Width*b.MinSize.Height
		}).MinSize
		return res
	}

	if lo.ContainsBy(candidates, func(s ResolutionSpec) bool { return matches(s, res.Resolution) }) {
		return res
	}

	ratioSpecs := lo.Reject(candidates, func(s ResolutionSpec, _ int) bool { return s.Exact })
	if len(ratioSpecs) > 0 {
		res.Code = CodeUnsupportedAspectRatio
		res.Ratio = float64(res.Resolution.Width) / float64(res.Resolution.Height)
		res.SupportedRatios = lo.Uniq(lo.Map(ratioSpecs, func(s ResolutionSpec, _ int) string { return s.RatioLabel() }))
		return res
	}

	res.Code = CodeUnsupportedResolution
	nearest := lo.MinBy(candidates, func(a, b ResolutionSpec) bool {
		return distance(a, res.Resolution) < distance(b, res.Resolution)
	})
	res.Nearest = Size{Width: nearest.Width, Height: nearest.Height}
	return res
}

func transient(res Result, cause Cause) Result {
	res.Code = CodeWindowOutOfBoundsOrMinimized
	res.Cause = cause
	return res
}

// matches reports whether size satisfies spec, floor already checked
func matches(spec ResolutionSpec, size Size) bool {
	if spec.Exact {
		return size.Width == spec.Width && size.Height == spec.Height
	}
	supported, err := spec.RatioValue()
	if err != nil {
		return false
	}
	actual := float64(size.Width) / float64(size.Height)
	return math.Abs(actual-supported) <= spec.tolerance()*supported
}

func distance(spec ResolutionSpec, size Size) int {
	dw := spec.Width - size.Width
	dh := spec.Height - size.Height
	return dw*dw + dh*dh
}
