package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendStreaming(t *testing.T) {
	var got AnalyzeRequest
	var accept string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, AnalyzePath, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		accept = r.Header.Get("Accept")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"complete\",\"result\":{\"steps\":[]}}\n\n")
	}))
	defer ts.Close()

	client := NewClient(ts.URL+"/", ts.Client(), nil)
	resp, err := client.Send(context.Background(), AnalyzeRequest{
		TaskText:   "Plan trip",
		Regenerate: true,
		Context:    &RequestContext{PreviousAnalysis: true},
	}, ModeStreaming)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, ModeStreaming, resp.Mode)
	assert.Equal(t, "text/event-stream", accept)
	assert.Equal(t, "Plan trip", got.TaskText)
	assert.True(t, got.Regenerate)
	require.NotNil(t, got.Context)
	assert.True(t, got.Context.PreviousAnalysis)
}

func TestClient_ServerMayAnswerAtomically(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, `{"ok":true,"result":{"steps":[{"title":"A"}]}}`)
	}))
	defer ts.Close()

	resp, err := NewClient(ts.URL, ts.Client(), nil).Send(context.Background(), AnalyzeRequest{TaskText: "x"}, ModeStreaming)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, ModeAtomic, resp.Mode)
	result, err := (&Decoder{}).Decode(context.Background(), *resp)
	require.NoError(t, err)
	assert.Equal(t, "A", result.Steps[0].Title)
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		body       string
		wantMsg    string
		wantDelay  time.Duration
	}{
		{"details preferred", http.StatusInternalServerError, "", `{"error":"AI analysis failed","details":"upstream exploded"}`, "upstream exploded", 0},
		{"error field", http.StatusTooManyRequests, "7", `{"error":"Too many requests. Please slow down."}`, "Too many requests. Please slow down.", 7 * time.Second},
		{"non json body", http.StatusBadGateway, "", `<html>bad gateway</html>`, "Request failed (502)", 0},
		{"zero retry-after ignored", http.StatusTooManyRequests, "0", `{}`, "Request failed (429)", 0},
		{"date retry-after ignored", http.StatusTooManyRequests, "Wed, 21 Oct 2015 07:28:00 GMT", `{}`, "Request failed (429)", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer ts.Close()

			_, err := NewClient(ts.URL, ts.Client(), nil).Send(context.Background(), AnalyzeRequest{TaskText: "x"}, ModeAtomic)

			var statusErr *StatusError
			require.True(t, errors.As(err, &statusErr))
			assert.Equal(t, tt.status, statusErr.StatusCode)
			assert.Equal(t, tt.wantMsg, statusErr.Message)
			assert.Equal(t, tt.wantDelay, statusErr.RetryAfter)
		})
	}
}

func TestClient_NetworkFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := ts.URL
	client := ts.Client()
	ts.Close()

	_, err := NewClient(url, client, nil).Send(context.Background(), AnalyzeRequest{TaskText: "x"}, ModeAtomic)
	require.Error(t, err)

	var statusErr *StatusError
	assert.False(t, errors.As(err, &statusErr))
}
