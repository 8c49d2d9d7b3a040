package tasks

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"jordanella.com/autopilot/internal/adb"
	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/logging"
	"jordanella.com/autopilot/internal/recognition"
	"jordanella.com/autopilot/internal/scheduler"
)

type recordedInput struct {
	taps   []image.Point
	swipes []adb.SwipeParams
	keys   []string
	texts  []string
}

func (r *recordedInput) Tap(ctx context.Context, x, y int) error {
	r.taps = append(r.taps, image.Point{X: x, Y: y})
	return nil
}

func (r *recordedInput) Swipe(ctx context.Context, p adb.SwipeParams) error {
	r.swipes = append(r.swipes, p)
	return nil
}

func (r *recordedInput) SendKey(ctx context.Context, key string) error {
	r.keys = append(r.keys, key)
	return nil
}

func (r *recordedInput) Input(ctx context.Context, text string) error {
	r.texts = append(r.texts, text)
	return nil
}

func solidFrame(w, h int, c color.RGBA) (*image.RGBA, capture.Frame) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img, capture.NewFrame(img, 1, time.Now(), capture.WindowState{Foreground: true}, nil)
}

func cfg(id, typ string, params ...string) scheduler.TaskConfig {
	c := scheduler.TaskConfig{ID: id, Type: typ, Enabled: true, Kind: scheduler.KindTrigger}
	for i := 0; i+1 < len(params); i += 2 {
		c.Params = append(c.Params, scheduler.Param{Key: params[i], Value: params[i+1]})
	}
	return c
}

func TestParseAction(t *testing.T) {
	in := &recordedInput{}
	log := logging.Discard()
	ctx := context.Background()
	at := image.Point{X: 40, Y: 60}

	cases := []string{"tap", "tap:10,20", "swipe:1,2,3,4", "swipe:1,2,3,4,800", "key:KEYCODE_BACK", "input:hello", "log", ""}
	for _, spec := range cases {
		a, err := ParseAction(spec, "t", in, log)
		if err != nil {
			t.Fatalf("ParseAction(%q): %v", spec, err)
		}
		if err := a(ctx, at); err != nil {
			t.Fatalf("action %q: %v", spec, err)
		}
	}

	if len(in.taps) != 2 || in.taps[0] != at || in.taps[1] != (image.Point{X: 10, Y: 20}) {
		t.Errorf("taps = %v", in.taps)
	}
	if len(in.swipes) != 2 || in.swipes[0].Duration != 300 || in.swipes[1].Duration != 800 {
		t.Errorf("swipes = %+v", in.swipes)
	}
	if len(in.keys) != 1 || in.keys[0] != "KEYCODE_BACK" {
		t.Errorf("keys = %v", in.keys)
	}
	if len(in.texts) != 1 || in.texts[0] != "hello" {
		t.Errorf("texts = %v", in.texts)
	}

	for _, bad := range []string{"tap:1", "swipe:1,2", "key:", "jump", "tap:a,b"} {
		if _, err := ParseAction(bad, "t", in, log); err == nil {
			t.Errorf("ParseAction(%q) should fail", bad)
		}
	}
}

func TestInputActionWithoutChannel(t *testing.T) {
	a, err := ParseAction("tap", "t", nil, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if err := a(context.Background(), image.Point{}); !errors.Is(err, ErrNoInput) {
		t.Errorf("err = %v", err)
	}
}

func TestTextBehavior(t *testing.T) {
	in := &recordedInput{}
	rec := recognition.Func(func(ctx context.Context, frame capture.Frame, roi image.Rectangle) (string, error) {
		return "Daily Reward available", nil
	})
	b, err := Build(cfg("reward", "text", "text", "daily reward", "roi", "100,200,300,400", "action", "tap"),
		Env{Recognizer: rec, Input: in, Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	_, frame := solidFrame(16, 16, color.RGBA{A: 255})

	ok, err := b.Match(context.Background(), frame)
	if err != nil || !ok {
		t.Fatalf("Match = %v, %v", ok, err)
	}
	if err := b.Act(context.Background(), frame); err != nil {
		t.Fatal(err)
	}
	if len(in.taps) != 1 || in.taps[0] != (image.Point{X: 200, Y: 300}) {
		t.Errorf("tap at %v, want roi center", in.taps)
	}
}

func TestTextBehaviorErrors(t *testing.T) {
	_, frame := solidFrame(8, 8, color.RGBA{A: 255})
	ctx := context.Background()

	failing := recognition.Func(func(ctx context.Context, frame capture.Frame, roi image.Rectangle) (string, error) {
		return "", recognition.ErrRecognitionFailed
	})
	b, err := Build(cfg("t", "text", "text", "x"), Env{Recognizer: failing, Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := b.Match(ctx, frame); ok || err != nil {
		t.Errorf("recognition failure should be a miss, got %v, %v", ok, err)
	}

	b, err = Build(cfg("t", "text", "text", "x"), Env{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Match(ctx, frame); !errors.Is(err, recognition.ErrNoEngineConfigured) {
		t.Errorf("no engine err = %v", err)
	}

	if _, err := Build(cfg("t", "text"), Env{}); err == nil {
		t.Error("missing text param should fail")
	}
}

func TestPixelBehavior(t *testing.T) {
	_, frame := solidFrame(20, 20, color.RGBA{R: 250, G: 10, B: 10, A: 255})
	ctx := context.Background()

	red, err := Build(cfg("red", "pixel", "region", "0,0,10,10", "color", "#ff0000", "tolerance", "10"), Env{})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := red.Match(ctx, frame); !ok {
		t.Error("red region should match")
	}

	blue, err := Build(cfg("blue", "pixel", "region", "0,0,10,10", "color", "#0000ff"), Env{})
	if err != nil {
		t.Fatal(err)
	}
	if ok, _ := blue.Match(ctx, frame); ok {
		t.Error("blue should not match")
	}

	outside, err := Build(cfg("off", "pixel", "region", "100,100,110,110", "color", "#ff0000"), Env{})
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := outside.Match(ctx, frame); ok || err != nil {
		t.Errorf("region outside frame = %v, %v", ok, err)
	}

	if _, err := Build(cfg("p", "pixel", "color", "#ff0000"), Env{}); err == nil {
		t.Error("missing region should fail")
	}
	if _, err := Build(cfg("p", "pixel", "region", "0,0,1,1", "color", "#ff0000", "tolerance", "300"), Env{}); err == nil {
		t.Error("tolerance out of range should fail")
	}
}

func TestTemplateBehavior(t *testing.T) {
	dir := t.TempDir()
	needle := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			needle.SetRGBA(x, y, color.RGBA{R: uint8(x * 60), G: uint8(y * 60), B: 200, A: 255})
		}
	}
	f, err := os.Create(filepath.Join(dir, "button.png"))
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, needle); err != nil {
		t.Fatal(err)
	}
	f.Close()

	img, _ := solidFrame(32, 32, color.RGBA{A: 255})
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.SetRGBA(10+x, 20+y, needle.RGBAAt(x, y))
		}
	}
	frame := capture.NewFrame(img, 3, time.Now(), capture.WindowState{Foreground: true}, nil)

	in := &recordedInput{}
	b, err := Build(cfg("btn", "template", "template", "button.png", "threshold", "0.95", "action", "tap"),
		Env{Input: in, TemplateDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := b.Match(context.Background(), frame)
	if err != nil || !ok {
		t.Fatalf("Match = %v, %v", ok, err)
	}
	b.Act(context.Background(), frame)
	if len(in.taps) != 1 || in.taps[0] != (image.Point{X: 12, Y: 22}) {
		t.Errorf("taps = %v", in.taps)
	}

	if _, err := Build(cfg("x", "template", "template", "missing.png"), Env{TemplateDir: dir}); err == nil {
		t.Error("missing template file should fail")
	}
}

func TestBuildUnknownType(t *testing.T) {
	if _, err := Build(cfg("x", "ocr-magic"), Env{}); err == nil {
		t.Error("unknown type should fail")
	}
	if _, err := Build(cfg("x", "always", "action", "fly"), Env{}); err == nil {
		t.Error("unknown action should fail")
	}
}

func TestRegisterAndLoad(t *testing.T) {
	Register("Never", func(cfg scheduler.TaskConfig, env Env) (func(context.Context, capture.Frame) (bool, image.Point, error), error) {
		return func(context.Context, capture.Frame) (bool, image.Point, error) {
			return false, image.Point{}, nil
		}, nil
	})
	found := false
	for _, name := range Types() {
		if name == "never" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Types() = %v", Types())
	}

	s := scheduler.New(scheduler.Options{Logger: logging.Discard()})
	err := Load(s, []scheduler.TaskConfig{
		cfg("a", "never"),
		cfg("b", "always"),
	}, Env{Logger: logging.Discard()})
	if err != nil {
		t.Fatal(err)
	}
	if got := len(s.Snapshot()); got != 2 {
		t.Errorf("loaded %d tasks", got)
	}

	err = Load(s, []scheduler.TaskConfig{cfg("a", "always")}, Env{})
	if !errors.Is(err, scheduler.ErrDuplicateTask) {
		t.Errorf("duplicate err = %v", err)
	}
}
