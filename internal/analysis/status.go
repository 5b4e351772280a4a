package analysis

import (
	"fmt"
	"math"
	"time"

	"github.com/rcliao/donelist/internal/domain"
)

const (
	StatusIdle          = ""
	StatusAnalyzing     = "Analyzing…"
	StatusRegenerating  = "Generating better version…"
	StatusStreaming     = "Generating suggestions…"
	StatusCreated       = "Sub-tasks created"
	StatusRegenerated   = "Better version generated"
	StatusQuotaExceeded = "OpenAI quota exceeded"
	StatusUnavailable   = "AI unavailable"
)

const (
	BillingURL       = "https://platform.openai.com/account/billing"
	QuotaRemediation = "Your OpenAI API key has exceeded its quota. Please add credits to continue using AI suggestions."
)

func RetryingStatus(delay time.Duration) string {
	return fmt.Sprintf("Rate limited, retrying in %ds…", int(math.Ceil(delay.Seconds())))
}

// Observer is how a UI follows an analysis.
type Observer interface {
	OnStatusChange(status string)
	OnStepsChange(steps []domain.Step)
}

// ProgressObserver is optionally implemented by observers that want the raw
// streamed text as it arrives.
type ProgressObserver interface {
	OnProgress(fragment, accumulated string)
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped.
type ObserverFuncs struct {
	Status func(status string)
	Steps  func(steps []domain.Step)
}

func (f ObserverFuncs) OnStatusChange(status string) {
	if f.Status != nil {
		f.Status(status)
	}
}

func (f ObserverFuncs) OnStepsChange(steps []domain.Step) {
	if f.Steps != nil {
		f.Steps(steps)
	}
}

type nopObserver struct{}

func (nopObserver) OnStatusChange(string)       {}
func (nopObserver) OnStepsChange([]domain.Step) {}
