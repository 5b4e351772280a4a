package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/donelist/internal/domain"
)

// SubItemStore persists what an analysis produces.
type SubItemStore interface {
	AddSubItems(taskID string, items []domain.SubItem) (*domain.Task, error)
	ReplaceSubItems(taskID string, items []domain.SubItem) (*domain.Task, error)
	UpdateAnalysis(taskID string, result *domain.DecompositionResult) (*domain.Task, error)
}

// Expander opens a task's sub-item list in the UI.
type Expander interface {
	Expand(taskID string)
}

type Options struct {
	// Mode is the transport requested from the proxy. Retries only happen
	// in ModeAtomic; a streaming request that fails is terminal.
	Mode             TransportMode
	Retry            RetryPolicy
	StatusClearDelay time.Duration
	// Observer callbacks run synchronously and must not call back into the
	// orchestrator.
	Observer Observer
	View     Expander
	Logger   *zap.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultOptions() Options {
	return Options{
		Mode:             ModeStreaming,
		Retry:            DefaultRetryPolicy(),
		StatusClearDelay: 1500 * time.Millisecond,
	}
}

// RequestState is the orchestrator's only mutable state.
type RequestState struct {
	InFlight             bool
	LastAnalyzedTaskText string
	LastAnalyzedTaskID   string
}

// Outcome summarises one Analyze call. Failures are reported here and via
// the observer, never as a returned error.
type Outcome struct {
	Dropped bool
	Status  string
	Steps   []domain.Step
	Result  *domain.DecompositionResult
	Err     error
}

type Orchestrator struct {
	transport Transport
	store     SubItemStore
	guard     *Guard
	opts      Options
	logger    *zap.Logger

	mu    sync.Mutex
	state RequestState

	// emitMu serialises observer calls so a delayed clear can tell whether
	// a newer status was published after it was scheduled.
	emitMu     sync.Mutex
	status     string
	statusSeq  uint64
	clearTimer *time.Timer
}

func NewOrchestrator(transport Transport, store SubItemStore, opts Options) *Orchestrator {
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Orchestrator{
		transport: transport,
		store:     store,
		guard:     NewGuard(),
		opts:      opts,
		logger:    opts.Logger,
	}
}

func (o *Orchestrator) State() RequestState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Status returns the most recently published status.
func (o *Orchestrator) Status() string {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	return o.status
}

// Close cancels a pending status auto-clear.
func (o *Orchestrator) Close() {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	if o.clearTimer != nil {
		o.clearTimer.Stop()
		o.clearTimer = nil
	}
}

// Regenerate re-analyzes the last task passed to a non-regenerating Analyze.
func (o *Orchestrator) Regenerate(ctx context.Context) Outcome {
	state := o.State()
	if state.LastAnalyzedTaskText == "" || state.LastAnalyzedTaskID == "" {
		return Outcome{Dropped: true}
	}
	return o.Analyze(ctx, state.LastAnalyzedTaskText, state.LastAnalyzedTaskID, true)
}

// Analyze decomposes taskText into sub-items of taskID. When another analysis
// is already running the call is dropped without side effects.
func (o *Orchestrator) Analyze(ctx context.Context, taskText, taskID string, isRegenerate bool) Outcome {
	trimmed := strings.TrimSpace(taskText)
	if trimmed == "" || taskID == "" {
		return Outcome{Dropped: true}
	}

	if !o.guard.TryAcquire() {
		o.logger.Debug("analysis already in flight, dropping request", zap.String("task_id", taskID))
		return Outcome{Dropped: true}
	}
	o.begin(trimmed, taskID, isRegenerate)
	defer o.finish()

	log := o.logger.With(zap.String("task_id", taskID), zap.Bool("regenerate", isRegenerate))

	if isRegenerate {
		o.setStatus(StatusRegenerating)
	} else {
		o.setStatus(StatusAnalyzing)
	}
	o.setSteps(nil)

	start := o.opts.Now()
	result, err := o.request(ctx, trimmed, isRegenerate)
	if err != nil {
		return o.fail(log, err)
	}

	if len(result.Steps) > 0 {
		if err := o.persist(taskID, result, isRegenerate); err != nil {
			return o.fail(log, err)
		}
		if o.opts.View != nil {
			o.opts.View.Expand(taskID)
		}
	}

	o.setSteps(result.Steps)

	final := StatusCreated
	if isRegenerate {
		final = StatusRegenerated
	}
	seq := o.setStatus(final)
	o.scheduleClear(seq)

	log.Info("analysis completed",
		zap.Int("steps", len(result.Steps)),
		zap.Duration("elapsed", o.opts.Now().Sub(start)))

	return Outcome{Status: final, Steps: result.Steps, Result: result}
}

func (o *Orchestrator) begin(text, taskID string, isRegenerate bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.state.InFlight = true
	if !isRegenerate {
		o.state.LastAnalyzedTaskText = text
		o.state.LastAnalyzedTaskID = taskID
	}
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	o.state.InFlight = false
	o.mu.Unlock()

	o.guard.Release()
}

func (o *Orchestrator) request(ctx context.Context, text string, isRegenerate bool) (*domain.DecompositionResult, error) {
	req := AnalyzeRequest{
		TaskText:   text,
		Regenerate: isRegenerate,
	}
	if isRegenerate {
		req.Context = &RequestContext{PreviousAnalysis: true}
	}

	for attempt := 0; ; attempt++ {
		resp, err := o.transport.Send(ctx, req, o.opts.Mode)
		if err != nil {
			if o.opts.Mode != ModeAtomic {
				return nil, err
			}
			delay, retry := o.opts.Retry.Next(attempt, err)
			if !retry {
				return nil, err
			}
			o.logger.Info("rate limited, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay))
			o.setStatus(RetryingStatus(delay))
			if err := o.opts.Sleep(ctx, delay); err != nil {
				return nil, err
			}
			continue
		}

		result, err := o.decode(ctx, resp)
		resp.Body.Close()
		return result, err
	}
}

func (o *Orchestrator) decode(ctx context.Context, resp *Response) (*domain.DecompositionResult, error) {
	progress, _ := o.opts.Observer.(ProgressObserver)
	decoder := &Decoder{
		Logger: o.logger,
		OnProgress: func(fragment, accumulated string) {
			o.setStatusIfChanged(StatusStreaming)
			if progress != nil {
				progress.OnProgress(fragment, accumulated)
			}
		},
	}
	return decoder.Decode(ctx, *resp)
}

// persist writes the sub-items first so a task never records an analysis
// whose sub-items failed to save.
func (o *Orchestrator) persist(taskID string, result *domain.DecompositionResult, isRegenerate bool) error {
	now := o.opts.Now()
	items := make([]domain.SubItem, len(result.Steps))
	for i, step := range result.Steps {
		title := strings.TrimSpace(step.Title)
		if title == "" {
			title = fmt.Sprintf("Step %d", i+1)
		}
		items[i] = domain.SubItem{
			ID:    domain.NewSubItemID(taskID, i, now),
			Title: title,
		}
	}

	var err error
	if isRegenerate {
		_, err = o.store.ReplaceSubItems(taskID, items)
	} else {
		_, err = o.store.AddSubItems(taskID, items)
	}
	if err != nil {
		return fmt.Errorf("failed to save sub-items: %w", err)
	}

	if _, err := o.store.UpdateAnalysis(taskID, result); err != nil {
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	return nil
}

func (o *Orchestrator) fail(log *zap.Logger, err error) Outcome {
	msg := err.Error()
	if msg == "" {
		msg = "AI analysis failed"
	}

	status := StatusUnavailable
	step := domain.Step{Title: "Error", Why: msg, FilesToTouch: make([]string, 0)}
	if IsQuotaMessage(msg) {
		status = StatusQuotaExceeded
		step.How = QuotaRemediation + " " + BillingURL
	}

	log.Warn("analysis failed", zap.String("status", status), zap.Error(err))

	o.setStatus(status)
	steps := []domain.Step{step}
	o.setSteps(steps)
	return Outcome{Status: status, Steps: steps, Err: err}
}

func (o *Orchestrator) setStatus(status string) uint64 {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	return o.publishLocked(status)
}

func (o *Orchestrator) setStatusIfChanged(status string) {
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	if o.status != status {
		o.publishLocked(status)
	}
}

func (o *Orchestrator) publishLocked(status string) uint64 {
	o.statusSeq++
	o.status = status
	o.opts.Observer.OnStatusChange(status)
	return o.statusSeq
}

func (o *Orchestrator) setSteps(steps []domain.Step) {
	if steps == nil {
		steps = make([]domain.Step, 0)
	}
	o.emitMu.Lock()
	defer o.emitMu.Unlock()
	o.opts.Observer.OnStepsChange(steps)
}

// scheduleClear resets the status after StatusClearDelay unless something
// newer than seq has been published by then.
func (o *Orchestrator) scheduleClear(seq uint64) {
	if o.opts.StatusClearDelay <= 0 {
		return
	}

	o.emitMu.Lock()
	defer o.emitMu.Unlock()

	if o.clearTimer != nil {
		o.clearTimer.Stop()
	}
	o.clearTimer = time.AfterFunc(o.opts.StatusClearDelay, func() {
		o.emitMu.Lock()
		defer o.emitMu.Unlock()
		if o.statusSeq == seq {
			o.publishLocked(StatusIdle)
		}
	})
}
