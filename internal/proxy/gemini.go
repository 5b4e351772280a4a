package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient serves completions from Google Gemini.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGeminiClient(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GeminiClient{client: client, model: model, logger: logger}, nil
}

func (g *GeminiClient) Model() string {
	return g.model
}

func (g *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, userContents(req), generationConfig(req))
	if err != nil {
		return "", geminiError(ctx, err)
	}

	text := resp.Text()
	g.logger.Debug("gemini completion finished",
		zap.String("model", g.model),
		zap.Int("response_len", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return text, nil
}

func (g *GeminiClient) Stream(ctx context.Context, req CompletionRequest, onDelta func(string) error) error {
	start := time.Now()
	deltas := 0
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, userContents(req), generationConfig(req)) {
		if err != nil {
			return geminiError(ctx, err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		deltas++
		if err := onDelta(text); err != nil {
			return err
		}
	}

	g.logger.Debug("gemini stream finished",
		zap.String("model", g.model),
		zap.Int("deltas", deltas),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func userContents(req CompletionRequest) []*genai.Content {
	return []*genai.Content{genai.NewContentFromText(req.User, genai.RoleUser)}
}

func generationConfig(req CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(req.Temperature)),
		ResponseMIMEType: "application/json",
	}
	if strings.TrimSpace(req.System) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

// geminiError maps API failures onto UpstreamError so their status reaches
// the caller.
func geminiError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return upstreamFromAPIError(apiErr)
	}
	return err
}

func upstreamFromAPIError(apiErr genai.APIError) *UpstreamError {
	status := apiErr.Code
	if status == 0 {
		status = http.StatusBadGateway
	}
	return &UpstreamError{Status: status, Message: fmt.Sprintf("%d %s", status, apiErr.Message)}
}
