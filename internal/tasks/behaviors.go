package tasks

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strconv"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/cv"
	"jordanella.com/autopilot/internal/logging"
	"jordanella.com/autopilot/internal/recognition"
	"jordanella.com/autopilot/internal/scheduler"
	"jordanella.com/autopilot/pkg/templates"
)

// behavior pairs a condition with an action. The scheduler calls Match and
// Act for one frame back to back, so the last match location is kept here.
type behavior struct {
	match  func(ctx context.Context, frame capture.Frame) (bool, image.Point, error)
	action Action
	at     image.Point
}

func (b *behavior) Match(ctx context.Context, frame capture.Frame) (bool, error) {
	ok, at, err := b.match(ctx, frame)
	if ok {
		b.at = at
	}
	return ok, err
}

func (b *behavior) Act(ctx context.Context, frame capture.Frame) error {
	return b.action(ctx, b.at)
}

func center(r image.Rectangle) image.Point {
	return image.Point{X: (r.Min.X + r.Max.X) / 2, Y: (r.Min.Y + r.Max.Y) / 2}
}

func optionalRect(cfg scheduler.TaskConfig, key string) (image.Rectangle, error) {
	v, ok := cfg.Param(key)
	if !ok || v == "" {
		return image.Rectangle{}, nil
	}
	return cv.ParseRect(v)
}

// newText matches when recognized text in roi contains the "text" param
func newText(cfg scheduler.TaskConfig, env Env) (match func(context.Context, capture.Frame) (bool, image.Point, error), err error) {
	want, ok := cfg.Param("text")
	if !ok || want == "" {
		return nil, errors.New(`"text" param is required`)
	}
	roi, err := optionalRect(cfg, "roi")
	if err != nil {
		return nil, err
	}
	rec := env.Recognizer
	if rec == nil {
		rec = recognition.Unconfigured{}
	}
	log := env.Logger

	return func(ctx context.Context, frame capture.Frame) (bool, image.Point, error) {
		text, err := rec.Recognize(ctx, frame, roi)
		switch {
		case errors.Is(err, recognition.ErrRecognitionFailed):
			// an unreadable frame is a miss, not a task failure
			log.DebugWithContext("Recognition failed", map[string]interface{}{
				"task":  cfg.ID,
				"seq":   frame.Seq,
				"error": err.Error(),
			})
			return false, image.Point{}, nil
		case err != nil:
			return false, image.Point{}, err
		}
		at := center(roi)
		if roi.Empty() {
			at = center(frame.Bounds())
		}
		return recognition.Contains(text, want), at, nil
	}, nil
}

// newTemplate matches when a PNG template is found in the frame
func newTemplate(cfg scheduler.TaskConfig, env Env) (func(context.Context, capture.Frame) (bool, image.Point, error), error) {
	path, ok := cfg.Param("template")
	if !ok || path == "" {
		return nil, errors.New(`"template" param is required`)
	}
	cache := env.Templates
	if cache == nil {
		cache = templates.NewCache(env.TemplateDir)
	}
	needle, err := cache.Get(path)
	if err != nil {
		return nil, err
	}

	mc := cv.DefaultMatchConfig()
	if mc.Method, err = cv.ParseMatchMethod(cfg.ParamOr("method", "ssd")); err != nil {
		return nil, err
	}
	if v, ok := cfg.Param("threshold"); ok {
		if mc.Threshold, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("threshold: %w", err)
		}
	}
	if mc.Region, err = optionalRect(cfg, "region"); err != nil {
		return nil, err
	}
	size := needle.Bounds().Size()

	return func(ctx context.Context, frame capture.Frame) (bool, image.Point, error) {
		haystack, ok := frame.Image().(*image.RGBA)
		if !ok || frame.IsZero() {
			return false, image.Point{}, nil
		}
		res := cv.FindTemplate(haystack, needle, mc)
		return res.Found, res.Location.Add(size.Div(2)), nil
	}, nil
}

// newPixel matches when the average color of a region is within tolerance
func newPixel(cfg scheduler.TaskConfig, env Env) (func(context.Context, capture.Frame) (bool, image.Point, error), error) {
	region, err := optionalRect(cfg, "region")
	if err != nil {
		return nil, err
	}
	if region.Empty() {
		return nil, errors.New(`"region" param is required`)
	}
	want, err := cv.ParseColor(cfg.ParamOr("color", ""))
	if err != nil {
		return nil, err
	}
	tolerance, err := strconv.Atoi(cfg.ParamOr("tolerance", "10"))
	if err != nil || tolerance < 0 || tolerance > 255 {
		return nil, fmt.Errorf("tolerance must be 0-255")
	}

	return func(ctx context.Context, frame capture.Frame) (bool, image.Point, error) {
		img, err := cv.Crop(frame.Image(), region)
		if err != nil {
			return false, image.Point{}, nil
		}
		avg := cv.RegionAverage(img, img.Bounds())
		return cv.ColorDistance(avg, want) <= uint8(tolerance), center(region), nil
	}, nil
}

// newAlways matches every frame. Paired with a one-time task it runs an
// action once as soon as the session is running.
func newAlways(cfg scheduler.TaskConfig, env Env) (func(context.Context, capture.Frame) (bool, image.Point, error), error) {
	return func(ctx context.Context, frame capture.Frame) (bool, image.Point, error) {
		return true, center(frame.Bounds()), nil
	}, nil
}

func ensureLogger(l *logging.Logger) *logging.Logger {
	if l == nil {
		return logging.NewLogger("Tasks")
	}
	return l
}
