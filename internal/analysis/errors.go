package analysis

import (
	"fmt"
	"strings"
	"time"
)

// SchemaError means a decoded payload did not carry a steps array. It is
// terminal and never retried.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "AI response missing steps[]: " + e.Reason
}

// DecodeError means the response could not be turned into JSON at all.
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Message == "" {
		return "Failed to parse AI response"
	}
	return e.Message
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx answer from the completion proxy.
type StatusError struct {
	StatusCode int
	Message    string
	// RetryAfter is the server's hint, zero when none was sent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("Request failed (%d)", e.StatusCode)
	}
	return e.Message
}

// FrameError carries the message of an error frame from the event stream.
type FrameError struct {
	Message string
}

func (e *FrameError) Error() string {
	if e.Message == "" {
		return "AI analysis failed"
	}
	return e.Message
}

// IsQuotaMessage reports whether an error text points at exhausted upstream
// quota or billing rather than transient rate limiting.
func IsQuotaMessage(msg string) bool {
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "billing") ||
		strings.Contains(msg, "insufficient_quota")
}
