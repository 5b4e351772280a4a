package proxy

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestGenerationConfig(t *testing.T) {
	cfg := generationConfig(CompletionRequest{System: "sys", MaxTokens: 400, Temperature: 0.1})

	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.1, float64(*cfg.Temperature), 1e-6)
	assert.Equal(t, int32(400), cfg.MaxOutputTokens)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "sys", cfg.SystemInstruction.Parts[0].Text)

	bare := generationConfig(CompletionRequest{})
	assert.Nil(t, bare.SystemInstruction)
	assert.Zero(t, bare.MaxOutputTokens)
}

func TestGeminiError(t *testing.T) {
	err := geminiError(context.Background(), genai.APIError{
		Code:    http.StatusTooManyRequests,
		Message: "You exceeded your current quota",
		Status:  "RESOURCE_EXHAUSTED",
	})

	var upstream *UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, http.StatusTooManyRequests, upstream.HTTPStatus())
	assert.Equal(t, "429 You exceeded your current quota", upstream.Message)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, geminiError(ctx, assert.AnError), context.Canceled)
	assert.ErrorIs(t, geminiError(context.Background(), assert.AnError), assert.AnError)
}

func TestNewGeminiClient_RequiresKey(t *testing.T) {
	_, err := NewGeminiClient(context.Background(), "", "", nil)
	assert.Error(t, err)
}
