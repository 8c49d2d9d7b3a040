package recognition

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"

	"jordanella.com/autopilot/internal/capture"
)

func testFrame(w, h int, shade uint8) capture.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// left half dark, right half shaded so the hash has structure
			v := uint8(0)
			if x >= w/2 {
				v = shade
			}
			img.SetRGBA(x, y, color.RGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return capture.NewFrame(img, 0, time.Now(), capture.WindowState{Foreground: true}, nil)
}

func TestUnconfigured(t *testing.T) {
	_, err := Unconfigured{}.Recognize(context.Background(), testFrame(8, 8, 255), image.Rectangle{})
	if !errors.Is(err, ErrNoEngineConfigured) {
		t.Errorf("err = %v", err)
	}
}

func TestNewEngine(t *testing.T) {
	r, err := New("", OpenAIConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.(Unconfigured); !ok {
		t.Errorf("empty kind = %T", r)
	}
	if _, err := New("openai", OpenAIConfig{}); err == nil {
		t.Error("openai without a model should fail")
	}
	if r, err := New("openai", OpenAIConfig{Model: "gpt-4o-mini"}); err != nil || r == nil {
		t.Errorf("openai engine = %v, %v", r, err)
	}
	if _, err := New("tesseract", OpenAIConfig{}); err == nil {
		t.Error("unknown engine should fail")
	}
}

func TestCachedSkipsUnchangedRegions(t *testing.T) {
	calls := 0
	engine := Func(func(ctx context.Context, frame capture.Frame, roi image.Rectangle) (string, error) {
		calls++
		return "Claim", nil
	})
	c := NewCached(engine, 0)
	ctx := context.Background()
	roi := image.Rect(0, 0, 64, 64)

	for i := 0; i < 3; i++ {
		text, err := c.Recognize(ctx, testFrame(64, 64, 255), roi)
		if err != nil || text != "Claim" {
			t.Fatalf("Recognize = %q, %v", text, err)
		}
	}
	if calls != 1 {
		t.Errorf("engine called %d times for identical regions, want 1", calls)
	}
	if hits, misses := c.Stats(); hits != 2 || misses != 1 {
		t.Errorf("hits=%d misses=%d", hits, misses)
	}

	c.Recognize(ctx, testFrame(64, 64, 255), image.Rect(0, 0, 32, 64))
	if calls != 2 {
		t.Errorf("a different roi should miss the cache, calls = %d", calls)
	}
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	fail := true
	engine := Func(func(ctx context.Context, frame capture.Frame, roi image.Rectangle) (string, error) {
		if fail {
			return "", ErrRecognitionFailed
		}
		return "ok", nil
	})
	c := NewCached(engine, 0)
	if _, err := c.Recognize(context.Background(), testFrame(32, 32, 200), image.Rectangle{}); !errors.Is(err, ErrRecognitionFailed) {
		t.Fatalf("err = %v", err)
	}
	fail = false
	if text, err := c.Recognize(context.Background(), testFrame(32, 32, 200), image.Rectangle{}); err != nil || text != "ok" {
		t.Errorf("after failure: %q, %v", text, err)
	}
}

func TestCachedRejectsRegionOutsideFrame(t *testing.T) {
	c := NewCached(Static{Text: "x"}, 0)
	_, err := c.Recognize(context.Background(), testFrame(16, 16, 255), image.Rect(100, 100, 120, 120))
	if !errors.Is(err, ErrRecognitionFailed) {
		t.Errorf("err = %v", err)
	}
}

type fakeChat struct {
	req  openai.ChatCompletionRequest
	resp openai.ChatCompletionResponse
	err  error
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAIRecognize(t *testing.T) {
	chat := &fakeChat{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "  Daily Reward \n"}}},
	}}
	o, err := NewOpenAI(OpenAIConfig{Model: "vision"})
	if err != nil {
		t.Fatal(err)
	}
	o.client = chat

	text, err := o.Recognize(context.Background(), testFrame(16, 16, 255), image.Rect(0, 0, 8, 8))
	if err != nil || text != "Daily Reward" {
		t.Fatalf("Recognize = %q, %v", text, err)
	}
	parts := chat.req.Messages[0].MultiContent
	if len(parts) != 2 || !strings.HasPrefix(parts[1].ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("request parts = %+v", parts)
	}
	if chat.req.Model != "vision" {
		t.Errorf("model = %q", chat.req.Model)
	}
}

func TestOpenAIFailures(t *testing.T) {
	o, _ := NewOpenAI(OpenAIConfig{Model: "vision"})

	o.client = &fakeChat{err: errors.New("503")}
	if _, err := o.Recognize(context.Background(), testFrame(8, 8, 255), image.Rectangle{}); !errors.Is(err, ErrRecognitionFailed) {
		t.Errorf("transport error = %v", err)
	}

	o.client = &fakeChat{}
	if _, err := o.Recognize(context.Background(), testFrame(8, 8, 255), image.Rectangle{}); !errors.Is(err, ErrRecognitionFailed) {
		t.Errorf("empty response error = %v", err)
	}
}

func TestContains(t *testing.T) {
	if !Contains("  DAILY reward claimed", "daily reward") {
		t.Error("case-insensitive match failed")
	}
	if Contains("Shop", "reward") {
		t.Error("unexpected match")
	}
}
