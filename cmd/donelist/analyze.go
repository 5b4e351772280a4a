package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/donelist/internal/analysis"
	"github.com/rcliao/donelist/internal/service"
)

var errNotAnalyzed = errors.New("task has no previous analysis to regenerate")

func analyzeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [task-id] [text]",
		Short: "Break a task into AI-suggested sub-tasks",
		Long: `Send the task (or the given text) to the completion proxy and append
the suggested steps as sub-tasks.

Examples:
  donelist analyze 3f2a...
  donelist analyze 3f2a... "Plan a week in Lisbon on a budget"`,
		Args: cobra.RangeArgs(1, 2),
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			task, err := tasks.Get(args[0])
			if err != nil {
				return err
			}
			text := task.Title
			if len(args) == 2 {
				text = args[1]
			}
			return a.runAnalysis(cmd, tasks, text, task.ID, false)
		}),
	}
}

// regenerateCmd replaces a task's sub-tasks. Each CLI run starts with a fresh
// orchestrator, so the persisted analysis stands in for the remembered
// last-analyzed task.
func regenerateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate [task-id]",
		Short: "Replace a task's sub-tasks with a better version",
		Args:  cobra.ExactArgs(1),
		RunE: withTasks(a, func(cmd *cobra.Command, tasks *service.TaskService, args []string) error {
			task, err := tasks.Get(args[0])
			if err != nil {
				return err
			}
			if task.LastAnalysis == nil {
				return errNotAnalyzed
			}
			return a.runAnalysis(cmd, tasks, task.Title, task.ID, true)
		}),
	}
}

func (a *app) runAnalysis(cmd *cobra.Command, tasks *service.TaskService, text, taskID string, regenerate bool) error {
	out := cmd.OutOrStdout()
	observer := newTerminalObserver(out)
	view := service.NewViewState()
	orch := a.orchestrator(tasks, observer, view)

	ctx, cancel := context.WithTimeout(cmd.Context(), a.cfg.Client.RequestTimeout())
	defer cancel()

	outcome := orch.Analyze(ctx, text, taskID, regenerate)
	observer.finish()

	if outcome.Dropped {
		return fmt.Errorf("nothing to analyze for %q", strings.TrimSpace(text))
	}
	if outcome.Err != nil {
		return &analysisFailure{status: outcome.Status, err: outcome.Err}
	}

	task, err := tasks.Get(taskID)
	if err != nil {
		return err
	}
	fmt.Fprint(out, renderTask(task, view.IsCollapsed(taskID)))
	return nil
}

// analysisFailure is returned after the observer has already shown the error
// step, so only the exit status matters.
type analysisFailure struct {
	status string
	err    error
}

func (e *analysisFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.status, e.err)
}

func (e *analysisFailure) Unwrap() error {
	return e.err
}

var _ analysis.ProgressObserver = (*terminalObserver)(nil)
