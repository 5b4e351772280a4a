package analysis

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/donelist/internal/domain"
	"github.com/rcliao/donelist/internal/storage"
)

type sendResult struct {
	resp *Response
	err  error
}

// fakeTransport replays scripted answers in order and records every request.
type fakeTransport struct {
	mu       sync.Mutex
	answers  []func() sendResult
	requests []AnalyzeRequest
	modes    []TransportMode
	entered  chan struct{}
	block    chan struct{}
}

func (f *fakeTransport) Send(ctx context.Context, req AnalyzeRequest, preferred TransportMode) (*Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.modes = append(f.modes, preferred)
	var answer func() sendResult
	if len(f.answers) > 0 {
		answer = f.answers[0]
		f.answers = f.answers[1:]
	}
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if answer == nil {
		return nil, errors.New("no scripted answer")
	}
	r := answer()
	return r.resp, r.err
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func atomicAnswer(body string) func() sendResult {
	return func() sendResult {
		return sendResult{resp: &Response{Mode: ModeAtomic, Body: io.NopCloser(strings.NewReader(body))}}
	}
}

func streamAnswer(lines ...string) func() sendResult {
	return func() sendResult {
		return sendResult{resp: &Response{Mode: ModeStreaming, Body: io.NopCloser(strings.NewReader(strings.Join(lines, "")))}}
	}
}

func errorAnswer(err error) func() sendResult {
	return func() sendResult { return sendResult{err: err} }
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
	steps    [][]domain.Step
	progress []string
}

func (r *recordingObserver) OnStatusChange(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *recordingObserver) OnStepsChange(steps []domain.Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, steps)
}

func (r *recordingObserver) OnProgress(_, accumulated string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, accumulated)
}

func (r *recordingObserver) statusList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

type recordingExpander struct {
	mu  sync.Mutex
	ids []string
}

func (e *recordingExpander) Expand(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, taskID)
}

type fixture struct {
	transport *fakeTransport
	store     *storage.MemoryStorage
	observer  *recordingObserver
	expander  *recordingExpander
	sleeps    []time.Duration
	orch      *Orchestrator
	task      *domain.Task
}

func newFixture(t *testing.T, mode TransportMode, answers ...func() sendResult) *fixture {
	t.Helper()

	f := &fixture{
		transport: &fakeTransport{answers: answers},
		store:     storage.NewMemoryStorage(),
		observer:  &recordingObserver{},
		expander:  &recordingExpander{},
	}

	task, err := domain.NewTask("Plan a trip", "")
	require.NoError(t, err)
	require.NoError(t, f.store.CreateTask(task))
	f.task = task

	opts := DefaultOptions()
	opts.Mode = mode
	opts.StatusClearDelay = 0
	opts.Observer = f.observer
	opts.View = f.expander
	opts.Sleep = func(_ context.Context, d time.Duration) error {
		f.sleeps = append(f.sleeps, d)
		return nil
	}
	f.orch = NewOrchestrator(f.transport, f.store, opts)
	t.Cleanup(f.orch.Close)
	return f
}

func (f *fixture) subItemTitles(t *testing.T) []string {
	t.Helper()
	task, err := f.store.GetTask(f.task.ID)
	require.NoError(t, err)
	titles := make([]string, 0, len(task.SubItems))
	for _, item := range task.SubItems {
		titles = append(titles, item.Title)
	}
	return titles
}

const twoSteps = `{"ok":true,"result":{"steps":[{"title":"Book flights"},{"title":"Reserve hotel"}]}}`

func TestOrchestrator_AnalyzeAppendsSubItems(t *testing.T) {
	f := newFixture(t, ModeAtomic, atomicAnswer(twoSteps))

	out := f.orch.Analyze(context.Background(), "  Plan a trip  ", f.task.ID, false)

	require.NoError(t, out.Err)
	assert.False(t, out.Dropped)
	assert.Equal(t, StatusCreated, out.Status)
	assert.Equal(t, []string{"Book flights", "Reserve hotel"}, f.subItemTitles(t))
	assert.Equal(t, []string{f.task.ID}, f.expander.ids)
	assert.Equal(t, []string{StatusAnalyzing, StatusCreated}, f.observer.statusList())

	require.Len(t, f.observer.steps, 2)
	assert.Empty(t, f.observer.steps[0])
	assert.Len(t, f.observer.steps[1], 2)

	require.Len(t, f.transport.requests, 1)
	assert.Equal(t, "Plan a trip", f.transport.requests[0].TaskText)
	assert.False(t, f.transport.requests[0].Regenerate)
	assert.Nil(t, f.transport.requests[0].Context)

	stored, err := f.store.GetTask(f.task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastAnalysis)
	assert.Len(t, stored.LastAnalysis.Steps, 2)

	state := f.orch.State()
	assert.False(t, state.InFlight)
	assert.Equal(t, "Plan a trip", state.LastAnalyzedTaskText)
	assert.Equal(t, f.task.ID, state.LastAnalyzedTaskID)
}

func TestOrchestrator_SingleFlight(t *testing.T) {
	f := newFixture(t, ModeAtomic, atomicAnswer(twoSteps), atomicAnswer(twoSteps))
	f.transport.entered = make(chan struct{}, 1)
	f.transport.block = make(chan struct{})

	done := make(chan Outcome, 1)
	go func() {
		done <- f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)
	}()
	<-f.transport.entered

	before := f.orch.State()
	for i := 0; i < 5; i++ {
		out := f.orch.Analyze(context.Background(), "Something else", "other-id", false)
		assert.True(t, out.Dropped)
	}
	assert.Equal(t, before, f.orch.State())
	assert.True(t, before.InFlight)

	close(f.transport.block)
	first := <-done
	assert.False(t, first.Dropped)
	assert.Equal(t, 1, f.transport.calls())
}

func TestOrchestrator_ConcurrentCallsReachNetworkOnce(t *testing.T) {
	f := newFixture(t, ModeAtomic, atomicAnswer(twoSteps))
	f.transport.block = make(chan struct{})

	var wg sync.WaitGroup
	var mu sync.Mutex
	dropped := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)
			if out.Dropped {
				mu.Lock()
				dropped++
				mu.Unlock()
			}
		}()
	}

	// Wait for the winner to reach the transport before letting it finish.
	require.Eventually(t, func() bool { return f.transport.calls() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return dropped == 7
	}, time.Second, time.Millisecond)
	close(f.transport.block)
	wg.Wait()

	assert.Equal(t, 1, f.transport.calls())
}

func TestOrchestrator_GuardReleasedForEveryOutcome(t *testing.T) {
	tests := []struct {
		name   string
		answer func() sendResult
		status string
	}{
		{"success", atomicAnswer(twoSteps), StatusCreated},
		{"schema error", atomicAnswer(`{"ok":true,"result":{"title":"x"}}`), StatusUnavailable},
		{"decode error", atomicAnswer(`not json`), StatusUnavailable},
		{"transport error", errorAnswer(errors.New("connection reset")), StatusUnavailable},
		{"stream error frame", streamAnswer("data: {\"type\":\"error\",\"error\":\"Request took too long\"}\n\n"), StatusUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, ModeAtomic, tt.answer, atomicAnswer(twoSteps))

			first := f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)
			assert.Equal(t, tt.status, first.Status)
			assert.False(t, f.orch.State().InFlight)

			second := f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)
			assert.False(t, second.Dropped)
			assert.Equal(t, StatusCreated, second.Status)
		})
	}
}

func TestOrchestrator_TruncatesToFourSteps(t *testing.T) {
	body := `{"ok":true,"result":{"steps":[{"title":"1"},{"title":"2"},{"title":"3"},{"title":"4"},{"title":"5"},{"title":"6"},{"title":"7"}]}}`
	f := newFixture(t, ModeAtomic, atomicAnswer(body))

	out := f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)

	require.Len(t, out.Steps, 4)
	assert.Equal(t, []string{"1", "2", "3", "4"}, f.subItemTitles(t))
}

func TestOrchestrator_QuotaShortCircuits(t *testing.T) {
	quota := &StatusError{
		StatusCode: http.StatusTooManyRequests,
		Message:    "Error code: 429 - insufficient_quota",
	}
	f := newFixture(t, ModeAtomic, errorAnswer(quota), atomicAnswer(twoSteps))

	out := f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)

	assert.Equal(t, 1, f.transport.calls())
	assert.Empty(t, f.sleeps)
	assert.Equal(t, StatusQuotaExceeded, out.Status)
	require.Len(t, out.Steps, 1)
	assert.Equal(t, "Error", out.Steps[0].Title)
	assert.Contains(t, out.Steps[0].How, BillingURL)
	assert.Empty(t, f.subItemTitles(t))
}

func TestOrchestrator_TransientRetry(t *testing.T) {
	limited := &StatusError{StatusCode: http.StatusTooManyRequests, Message: "Too many requests. Please slow down."}
	f := newFixture(t, ModeAtomic,
		errorAnswer(limited),
		errorAnswer(&StatusError{StatusCode: http.StatusTooManyRequests, RetryAfter: 2 * time.Second}),
		atomicAnswer(`{"ok":true,"result":{"steps":[{"title":"Third time"}]}}`),
	)

	out := f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)

	require.NoError(t, out.Err)
	assert.Equal(t, 3, f.transport.calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.sleeps)
	assert.Equal(t, []string{"Third time"}, f.subItemTitles(t))
	assert.Equal(t, []string{
		StatusAnalyzing,
		"Rate limited, retrying in 1s…",
		"Rate limited, retrying in 2s…",
		StatusCreated,
	}, f.observer.statusList())
}

func TestOrchestrator_RetryBudgetExhausted(t *testing.T) {
	limited := &StatusError{StatusCode: http.StatusTooManyRequests, Message: "Too many requests. Please slow down."}
	f := newFixture(t, ModeAtomic, errorAnswer(limited), errorAnswer(limited), errorAnswer(limited), atomicAnswer(twoSteps))

	out := f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)

	assert.Equal(t, 3, f.transport.calls())
	assert.Equal(t, StatusUnavailable, out.Status)
	assert.Equal(t, "Too many requests. Please slow down.", out.Steps[0].Why)
}

func TestOrchestrator_StreamingDoesNotRetry(t *testing.T) {
	limited := &StatusError{StatusCode: http.StatusTooManyRequests}
	f := newFixture(t, ModeStreaming, errorAnswer(limited), atomicAnswer(twoSteps))

	out := f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)

	assert.Equal(t, 1, f.transport.calls())
	assert.Equal(t, ModeStreaming, f.transport.modes[0])
	assert.Equal(t, StatusUnavailable, out.Status)
	assert.Equal(t, "Request failed (429)", out.Steps[0].Why)
}

func TestOrchestrator_StreamingProgress(t *testing.T) {
	f := newFixture(t, ModeStreaming, streamAnswer(
		"data: {\"type\":\"chunk\",\"content\":\"{\\\"steps\\\":[\"}\n\n",
		"data: {not json\n\n",
		"data: {\"type\":\"chunk\",\"content\":\"{\\\"title\\\":\\\"A\\\"}]}\"}\n\n",
	))

	out := f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)

	require.NoError(t, out.Err)
	assert.Equal(t, []string{"A"}, f.subItemTitles(t))
	assert.Equal(t, []string{`{"steps":[`, `{"steps":[{"title":"A"}]}`}, f.observer.progress)
	// Streaming is published once however many chunks arrive.
	assert.Equal(t, []string{StatusAnalyzing, StatusStreaming, StatusCreated}, f.observer.statusList())
}

func TestOrchestrator_RegenerateReplacesSubItems(t *testing.T) {
	f := newFixture(t, ModeAtomic,
		atomicAnswer(`{"ok":true,"result":{"steps":[{"title":"s1"}]}}`),
		atomicAnswer(`{"ok":true,"result":{"steps":[{"title":"X"}]}}`),
		atomicAnswer(`{"ok":true,"result":{"steps":[{"title":"X"}]}}`),
	)
	ctx := context.Background()

	f.orch.Analyze(ctx, "Plan a trip", f.task.ID, false)
	require.Equal(t, []string{"s1"}, f.subItemTitles(t))

	out := f.orch.Regenerate(ctx)
	require.NoError(t, out.Err)
	assert.Equal(t, StatusRegenerated, out.Status)
	assert.Equal(t, []string{"X"}, f.subItemTitles(t))

	regen := f.transport.requests[1]
	assert.True(t, regen.Regenerate)
	require.NotNil(t, regen.Context)
	assert.True(t, regen.Context.PreviousAnalysis)

	f.orch.Analyze(ctx, "Plan a trip", f.task.ID, false)
	assert.Equal(t, []string{"X", "X"}, f.subItemTitles(t))
}

func TestOrchestrator_RegenerateKeepsLastAnalyzedPair(t *testing.T) {
	f := newFixture(t, ModeAtomic, atomicAnswer(twoSteps), atomicAnswer(twoSteps))

	f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)
	f.orch.Regenerate(context.Background())

	state := f.orch.State()
	assert.Equal(t, "Plan a trip", state.LastAnalyzedTaskText)
	assert.Equal(t, f.task.ID, state.LastAnalyzedTaskID)
}

func TestOrchestrator_RegenerateWithoutHistoryIsDropped(t *testing.T) {
	f := newFixture(t, ModeAtomic)

	out := f.orch.Regenerate(context.Background())

	assert.True(t, out.Dropped)
	assert.Zero(t, f.transport.calls())
}

func TestOrchestrator_BlankInputIsDropped(t *testing.T) {
	f := newFixture(t, ModeAtomic)

	assert.True(t, f.orch.Analyze(context.Background(), "   ", f.task.ID, false).Dropped)
	assert.True(t, f.orch.Analyze(context.Background(), "Plan", "", false).Dropped)
	assert.Zero(t, f.transport.calls())
	assert.Empty(t, f.observer.statusList())
}

func TestOrchestrator_EmptyStepsPersistsNothing(t *testing.T) {
	f := newFixture(t, ModeAtomic, atomicAnswer(`{"ok":true,"result":{"steps":[]}}`))

	out := f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)

	require.NoError(t, out.Err)
	assert.Equal(t, StatusCreated, out.Status)
	assert.Empty(t, f.subItemTitles(t))
	assert.Empty(t, f.expander.ids)
}

func TestOrchestrator_UntitledStepGetsOrdinalTitle(t *testing.T) {
	f := newFixture(t, ModeAtomic, atomicAnswer(`{"ok":true,"result":{"steps":[{"title":"First"},{"why":"no title"}]}}`))

	f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)

	assert.Equal(t, []string{"First", "Step 2"}, f.subItemTitles(t))
}

func TestOrchestrator_MissingTaskSurfacesAsFailure(t *testing.T) {
	f := newFixture(t, ModeAtomic, atomicAnswer(twoSteps))

	out := f.orch.Analyze(context.Background(), "Plan a trip", "missing", false)

	assert.Equal(t, StatusUnavailable, out.Status)
	assert.ErrorIs(t, out.Err, domain.ErrTaskNotFound)
	assert.False(t, f.orch.State().InFlight)
}

func TestOrchestrator_StatusAutoClears(t *testing.T) {
	f := newFixture(t, ModeAtomic, atomicAnswer(twoSteps))
	f.orch.opts.StatusClearDelay = 10 * time.Millisecond

	f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)
	assert.Equal(t, StatusCreated, f.orch.Status())

	require.Eventually(t, func() bool { return f.orch.Status() == StatusIdle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{StatusAnalyzing, StatusCreated, StatusIdle}, f.observer.statusList())
}

func TestOrchestrator_NewerStatusSupersedesClear(t *testing.T) {
	f := newFixture(t, ModeAtomic, atomicAnswer(twoSteps), atomicAnswer(`garbage`))
	f.orch.opts.StatusClearDelay = 20 * time.Millisecond

	f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)
	f.orch.Analyze(context.Background(), "Plan a trip", f.task.ID, false)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StatusUnavailable, f.orch.Status())
}

// failingSubItems rejects sub-item writes but records analyses.
type failingSubItems struct {
	*storage.MemoryStorage
	analyses int
}

func (s *failingSubItems) AddSubItems(string, []domain.SubItem) (*domain.Task, error) {
	return nil, errors.New("disk full")
}

func (s *failingSubItems) UpdateAnalysis(taskID string, result *domain.DecompositionResult) (*domain.Task, error) {
	s.analyses++
	return s.MemoryStorage.UpdateAnalysis(taskID, result)
}

func TestOrchestrator_SubItemFailureLeavesNoAnalysis(t *testing.T) {
	store := &failingSubItems{MemoryStorage: storage.NewMemoryStorage()}
	task, err := domain.NewTask("Plan a trip", "")
	require.NoError(t, err)
	require.NoError(t, store.CreateTask(task))

	opts := DefaultOptions()
	opts.Mode = ModeAtomic
	opts.StatusClearDelay = 0
	orch := NewOrchestrator(&fakeTransport{answers: []func() sendResult{atomicAnswer(twoSteps)}}, store, opts)
	t.Cleanup(orch.Close)

	out := orch.Analyze(context.Background(), "Plan a trip", task.ID, false)

	assert.Equal(t, StatusUnavailable, out.Status)
	assert.ErrorContains(t, out.Err, "failed to save sub-items")
	assert.Zero(t, store.analyses)

	stored, err := store.GetTask(task.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastAnalysis)
	assert.Empty(t, stored.SubItems)
}
