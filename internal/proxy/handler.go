package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rcliao/donelist/internal/analysis"
	"github.com/rcliao/donelist/internal/domain"
)

const (
	msgMissingKey    = "Server missing API key"
	msgBadTaskText   = "taskText is required and must be a non-empty string"
	msgTooLong       = "Request took too long"
	msgInvalidJSON   = "Invalid JSON from model"
	msgMissingSteps  = "Model response missing steps[]"
	msgUpstreamError = "AI analysis failed"
	rawPreviewRunes  = 500
)

// analyzeBody is decoded loosely: regenerate only needs to be truthy and
// taskText is checked by hand.
type analyzeBody struct {
	TaskText   json.RawMessage `json:"taskText"`
	Regenerate interface{}     `json:"regenerate"`
}

type analyzeJob struct {
	taskText   string
	regenerate bool
	request    CompletionRequest
}

func (s *Server) handleAnalyze(c *gin.Context) {
	if s.completer == nil {
		c.JSON(http.StatusInternalServerError, analysis.ErrorBody{Error: msgMissingKey})
		return
	}

	job, status, err := s.parseJob(c.Request.Body)
	if err != nil {
		c.JSON(status, analysis.ErrorBody{Error: err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.Timeout)
	defer cancel()

	log := s.logger.With(
		zap.String("model", s.completer.Model()),
		zap.Bool("regenerate", job.regenerate),
		zap.Int("task_len", len(job.taskText)))

	if s.opts.Streaming && acceptsEventStream(c.GetHeader("Accept")) {
		s.streamAnalysis(ctx, c, job, log)
		return
	}
	s.atomicAnalysis(ctx, c, job, log)
}

func (s *Server) parseJob(body io.Reader) (*analyzeJob, int, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		if isBodyTooLarge(err) {
			return nil, http.StatusRequestEntityTooLarge, errors.New("request entity too large")
		}
		return nil, http.StatusBadRequest, errors.New("failed to read request body")
	}

	var req analyzeBody
	if len(strings.TrimSpace(string(raw))) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, http.StatusBadRequest, errors.New("invalid JSON body")
		}
	}

	var text string
	if err := json.Unmarshal(req.TaskText, &text); err != nil || strings.TrimSpace(text) == "" {
		return nil, http.StatusBadRequest, errors.New(msgBadTaskText)
	}

	text = truncateRunes(text, MaxTaskTextRunes)
	regenerate := truthy(req.Regenerate)

	return &analyzeJob{
		taskText:   text,
		regenerate: regenerate,
		request: CompletionRequest{
			System:      SystemPrompt(),
			User:        UserPrompt(text, regenerate),
			MaxTokens:   s.opts.MaxTokens,
			Temperature: s.opts.Temperature,
		},
	}, 0, nil
}

func (s *Server) atomicAnalysis(ctx context.Context, c *gin.Context, job *analyzeJob, log *zap.Logger) {
	text, err := s.completer.Complete(ctx, job.request)
	if err != nil {
		if isDeadline(ctx, err) {
			log.Warn("upstream timed out", zap.Duration("timeout", s.opts.Timeout))
			c.JSON(http.StatusGatewayTimeout, analysis.ErrorBody{
				Error:   msgTooLong,
				Details: fmt.Sprintf("AI response exceeded %g second timeout", s.opts.Timeout.Seconds()),
			})
			return
		}
		status, details := upstreamFailure(err)
		log.Error("analysis failed", zap.Int("status", status), zap.Error(err))
		c.JSON(status, analysis.ErrorBody{Error: msgUpstreamError, Details: details})
		return
	}

	result, err := analysis.ParseModelText(text)
	if err != nil {
		log.Warn("model output rejected", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": modelErrorMessage(err), "raw": truncateRunes(text, rawPreviewRunes)})
		return
	}

	c.JSON(http.StatusOK, envelope{OK: true, Model: s.completer.Model(), Result: result})
}

type envelope struct {
	OK     bool                        `json:"ok"`
	Model  string                      `json:"model"`
	Result *domain.DecompositionResult `json:"result"`
}

func (s *Server) streamAnalysis(ctx context.Context, c *gin.Context, job *analyzeJob, log *zap.Logger) {
	var full strings.Builder
	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)
	}

	err := s.completer.Stream(ctx, job.request, func(delta string) error {
		if delta == "" {
			return nil
		}
		start()
		full.WriteString(delta)
		return writeFrame(c, analysis.Frame{Type: analysis.FrameChunk, Content: delta})
	})
	if err != nil {
		if isDeadline(ctx, err) {
			log.Warn("upstream timed out", zap.Duration("timeout", s.opts.Timeout))
			start()
			s.writeFrameLogged(c, log, analysis.Frame{Type: analysis.FrameKindError, Error: msgTooLong})
			return
		}
		status, details := upstreamFailure(err)
		log.Error("analysis failed", zap.Int("status", status), zap.Error(err))
		if !started {
			// Nothing was streamed yet, so the caller can still see the status.
			c.JSON(status, analysis.ErrorBody{Error: msgUpstreamError, Details: details})
			return
		}
		s.writeFrameLogged(c, log, analysis.Frame{Type: analysis.FrameKindError, Error: details})
		return
	}

	start()
	text := full.String()
	result, err := analysis.ParseModelText(text)
	if err != nil {
		log.Warn("model output rejected", zap.Error(err))
		raw, _ := json.Marshal(truncateRunes(text, rawPreviewRunes))
		s.writeFrameLogged(c, log, analysis.Frame{Type: analysis.FrameKindError, Error: modelErrorMessage(err), Raw: raw})
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		s.writeFrameLogged(c, log, analysis.Frame{Type: analysis.FrameKindError, Error: msgUpstreamError})
		return
	}
	s.writeFrameLogged(c, log, analysis.Frame{
		Type:   analysis.FrameComplete,
		OK:     true,
		Model:  s.completer.Model(),
		Result: payload,
	})
}

func (s *Server) writeFrameLogged(c *gin.Context, log *zap.Logger, frame analysis.Frame) {
	if err := writeFrame(c, frame); err != nil {
		log.Debug("failed to write stream frame", zap.String("type", frame.Type), zap.Error(err))
	}
}

func writeFrame(c *gin.Context, frame analysis.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	c.Writer.Flush()
	return nil
}

func modelErrorMessage(err error) string {
	var schemaErr *analysis.SchemaError
	if errors.As(err, &schemaErr) {
		return msgMissingSteps
	}
	return msgInvalidJSON
}

func upstreamFailure(err error) (int, string) {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return upstream.HTTPStatus(), upstream.Error()
	}
	details := err.Error()
	if details == "" {
		details = "unknown"
	}
	return http.StatusInternalServerError, details
}

func isDeadline(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func acceptsEventStream(accept string) bool {
	return strings.Contains(accept, "text/event-stream")
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
