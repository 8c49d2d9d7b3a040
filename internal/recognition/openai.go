package recognition

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/sashabaranov/go-openai"

	"jordanella.com/autopilot/internal/capture"
	"jordanella.com/autopilot/internal/cv"
)

const defaultPrompt = "Transcribe all text visible in this image. Reply with the text only."

// OpenAIConfig configures a vision model used as a text recognizer
type OpenAIConfig struct {
	BaseURL   string
	APIKey    string
	Model     string
	Prompt    string
	MaxTokens int
}

type chatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI recognizes text by sending the region to an OpenAI-compatible
// vision endpoint
type OpenAI struct {
	cfg    OpenAIConfig
	client chatClient
}

// NewOpenAI creates the recognizer. A model name is required.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.Model == "" {
		return nil, errors.New("recognition model is required")
	}
	if cfg.Prompt == "" {
		cfg.Prompt = defaultPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 256
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}, nil
}

func (o *OpenAI) Recognize(ctx context.Context, frame capture.Frame, roi image.Rectangle) (string, error) {
	region, err := cv.Crop(frame.Image(), roi)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognitionFailed, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, region); err != nil {
		return "", fmt.Errorf("%w: encode region: %v", ErrRecognitionFailed, err)
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	req := openai.ChatCompletionRequest{
		Model:               o.cfg.Model,
		MaxCompletionTokens: o.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{
					Type: openai.ChatMessagePartTypeText,
					Text: o.cfg.Prompt,
				},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:image/png;base64,%s", encoded),
					},
				},
			},
		}},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognitionFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrRecognitionFailed)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
