package proxy

import (
	"context"
	"fmt"
	"net/http"
)

// CompletionRequest is one chat-style prompt for an upstream model.
type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completer is an upstream language model provider.
type Completer interface {
	Model() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// Stream calls onDelta for every text fragment in arrival order. An error
	// returned by onDelta stops the stream and is returned as is.
	Stream(ctx context.Context, req CompletionRequest, onDelta func(delta string) error) error
}

// UpstreamError is a provider failure carrying the HTTP status the provider
// answered with.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream request failed with status %d", e.Status)
	}
	return e.Message
}

// HTTPStatus is the status to relay to the caller, 500 when unknown.
func (e *UpstreamError) HTTPStatus() int {
	if e.Status < 400 || e.Status > 599 {
		return http.StatusInternalServerError
	}
	return e.Status
}
