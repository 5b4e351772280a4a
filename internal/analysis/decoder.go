package analysis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/donelist/internal/domain"
)

type TransportMode int

const (
	ModeAtomic TransportMode = iota
	ModeStreaming
)

func (m TransportMode) String() string {
	switch m {
	case ModeStreaming:
		return "streaming"
	default:
		return "atomic"
	}
}

// ContentType is the media type a client asks for in this mode.
func (m TransportMode) ContentType() string {
	if m == ModeStreaming {
		return "text/event-stream"
	}
	return "application/json"
}

// ModeFromContentType maps a response Content-Type header onto a mode.
func ModeFromContentType(contentType string) TransportMode {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err == nil && mediaType == "text/event-stream" {
		return ModeStreaming
	}
	return ModeAtomic
}

// Response is a successful proxy answer tagged with how its body is framed.
type Response struct {
	Mode TransportMode
	Body io.ReadCloser
}

// maxFrameLine caps a single event-stream line.
const maxFrameLine = 1024 * 1024

// Frame kinds carried in the event stream.
const (
	FrameChunk     = "chunk"
	FrameComplete  = "complete"
	FrameKindError = "error"
)

// Frame is one `data: {...}` payload of the event stream.
type Frame struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Model   string          `json:"model,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// Envelope is the atomic success body.
type Envelope struct {
	OK     bool            `json:"ok"`
	Model  string          `json:"model,omitempty"`
	Result json.RawMessage `json:"result"`
}

// ProgressFunc receives each chunk fragment and the text accumulated so far.
type ProgressFunc func(fragment, accumulated string)

type Decoder struct {
	OnProgress ProgressFunc
	Logger     *zap.Logger
}

const dataPrefix = "data:"

// Decode turns a proxy response into a validated decomposition.
func (d *Decoder) Decode(ctx context.Context, resp Response) (*domain.DecompositionResult, error) {
	switch resp.Mode {
	case ModeStreaming:
		return d.decodeStream(ctx, resp.Body)
	case ModeAtomic:
		return d.decodeAtomic(resp.Body)
	default:
		return nil, fmt.Errorf("unknown transport mode %d", resp.Mode)
	}
}

func (d *Decoder) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

func (d *Decoder) decodeAtomic(body io.Reader) (*domain.DecompositionResult, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &DecodeError{Message: "Failed to read AI response", Err: err}
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &DecodeError{Message: "Failed to parse AI response", Err: err}
	}
	if len(env.Result) == 0 {
		return Validate(nil)
	}
	return ValidateJSON(env.Result)
}

func (d *Decoder) decodeStream(ctx context.Context, body io.Reader) (*domain.DecompositionResult, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameLine)
	scanner.Split(completeLines)
	var accumulated strings.Builder

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		payload, ok := framePayload(scanner.Text())
		if !ok {
			continue
		}

		var frame Frame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			d.logger().Debug("skipping malformed stream frame", zap.Error(err))
			continue
		}

		switch frame.Type {
		case FrameChunk:
			accumulated.WriteString(frame.Content)
			if d.OnProgress != nil {
				d.OnProgress(frame.Content, accumulated.String())
			}
		case FrameComplete:
			if len(frame.Result) == 0 {
				return Validate(nil)
			}
			return ValidateJSON(frame.Result)
		case FrameKindError:
			return nil, &FrameError{Message: frame.Error}
		default:
			d.logger().Debug("ignoring unknown stream frame", zap.String("type", frame.Type))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream interrupted: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.logger().Debug("stream closed without complete frame, recovering from chunks",
		zap.Int("accumulated_len", accumulated.Len()))

	candidate, ok := ExtractTrailingObject(accumulated.String())
	if !ok {
		return nil, &DecodeError{Message: "Failed to parse AI response"}
	}
	return Validate(candidate)
}

// completeLines splits on '\n' like bufio.ScanLines but drops an
// unterminated fragment at EOF, which is never a complete frame.
func completeLines(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), nil, nil
	}
	return 0, nil, nil
}

// framePayload strips the event-data prefix from a complete line.
func framePayload(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	payload := strings.TrimPrefix(line[len(dataPrefix):], " ")
	if payload == "" {
		return "", false
	}
	return payload, true
}
