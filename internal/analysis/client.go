package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const AnalyzePath = "/api/ai/analyze-task"

// AnalyzeRequest is the body of POST /api/ai/analyze-task.
type AnalyzeRequest struct {
	TaskText   string          `json:"taskText"`
	Regenerate bool            `json:"regenerate"`
	Context    *RequestContext `json:"context,omitempty"`
}

type RequestContext struct {
	PreviousAnalysis bool `json:"previousAnalysis"`
}

// ErrorBody is the JSON shape of every non-2xx proxy answer.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Transport sends one analysis request and hands back the undecoded body.
type Transport interface {
	Send(ctx context.Context, req AnalyzeRequest, preferred TransportMode) (*Response, error)
}

// Client talks to the completion proxy over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		// No client-wide timeout: streams stay open for as long as the proxy
		// keeps writing, and the caller's context bounds the request.
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) Send(ctx context.Context, req AnalyzeRequest, preferred TransportMode) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+AnalyzePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", preferred.ContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		statusErr := readStatusError(resp)
		c.logger.Debug("analysis request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("message", statusErr.Message),
			zap.Duration("elapsed", time.Since(start)))
		return nil, statusErr
	}

	mode := ModeFromContentType(resp.Header.Get("Content-Type"))
	c.logger.Debug("analysis response received",
		zap.String("mode", mode.String()),
		zap.Duration("elapsed", time.Since(start)))

	return &Response{Mode: mode, Body: resp.Body}, nil
}

func readStatusError(resp *http.Response) *StatusError {
	statusErr := &StatusError{StatusCode: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err == nil {
		switch {
		case body.Details != "":
			statusErr.Message = body.Details
		case body.Error != "":
			statusErr.Message = body.Error
		}
	}
	if statusErr.Message == "" {
		statusErr.Message = fmt.Sprintf("Request failed (%d)", resp.StatusCode)
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && seconds > 0 {
		statusErr.RetryAfter = time.Duration(seconds) * time.Second
	}
	return statusErr
}
