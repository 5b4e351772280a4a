package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/rcliao/donelist/internal/analysis"
	"github.com/rcliao/donelist/internal/domain"
)

// terminalObserver prints status transitions and the final steps of one
// analysis. Streamed text is only counted.
type terminalObserver struct {
	out io.Writer

	mu       sync.Mutex
	received int
	done     bool
}

func newTerminalObserver(out io.Writer) *terminalObserver {
	return &terminalObserver{out: out}
}

func (o *terminalObserver) OnStatusChange(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done || status == analysis.StatusIdle {
		return
	}

	style := statusStyle
	switch status {
	case analysis.StatusQuotaExceeded:
		style = errorStyle
	case analysis.StatusUnavailable:
		style = warnStyle
	}
	fmt.Fprintln(o.out, style.Render(status))
}

func (o *terminalObserver) OnStepsChange(steps []domain.Step) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done || len(steps) == 0 {
		return
	}
	fmt.Fprint(o.out, renderSteps(steps))
}

func (o *terminalObserver) OnProgress(fragment, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received += len(fragment)
}

// finish stops output so a late status clear cannot interleave with what the
// command prints next.
func (o *terminalObserver) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.done = true
	if o.received > 0 {
		fmt.Fprintln(o.out, mutedStyle.Render(fmt.Sprintf("received %d bytes of suggestions", o.received)))
	}
}
