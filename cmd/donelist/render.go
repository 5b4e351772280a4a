package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/rcliao/donelist/internal/domain"
)

var (
	accent      = lipgloss.Color("#8BC34A")
	info        = lipgloss.Color("#2196F3")
	warning     = lipgloss.Color("#FFC107")
	destructive = lipgloss.Color("#e53935")
	muted       = lipgloss.Color("#8a94a6")

	titleStyle  = lipgloss.NewStyle().Bold(true)
	doneStyle   = lipgloss.NewStyle().Foreground(muted).Strikethrough(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(muted)
	badgeStyle  = lipgloss.NewStyle().Foreground(info)
	statusStyle = lipgloss.NewStyle().Foreground(accent).Italic(true)
	warnStyle   = lipgloss.NewStyle().Foreground(warning).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(destructive).Bold(true)
	stepStyle   = lipgloss.NewStyle().PaddingLeft(3).Foreground(muted)
)

func checkbox(done bool) string {
	if done {
		return lipgloss.NewStyle().Foreground(accent).Render("[x]")
	}
	return "[ ]"
}

func renderTasks(tasks []*domain.Task, collapsed func(id string) bool) string {
	if len(tasks) == 0 {
		return mutedStyle.Render("No tasks. Add one with `donelist add`.") + "\n"
	}

	var sb strings.Builder
	for _, task := range tasks {
		sb.WriteString(renderTask(task, collapsed(task.ID)))
	}
	return sb.String()
}

func renderTask(task *domain.Task, collapsed bool) string {
	var sb strings.Builder

	title := titleStyle.Render(task.Title)
	if task.Completed {
		title = doneStyle.Render(task.Title)
	}
	sb.WriteString(checkbox(task.Completed) + " " + title)
	if task.IsEveryday {
		sb.WriteString(" " + badgeStyle.Render("everyday"))
	}
	if task.AssignedDate != "" {
		sb.WriteString(" " + badgeStyle.Render(task.AssignedDate))
	}
	sb.WriteString(" " + mutedStyle.Render(task.ID) + "\n")

	if len(task.SubItems) == 0 {
		return sb.String()
	}
	if collapsed {
		done := 0
		for _, item := range task.SubItems {
			if item.Completed {
				done++
			}
		}
		sb.WriteString(mutedStyle.Render(fmt.Sprintf("    ▸ %d/%d sub-tasks", done, len(task.SubItems))) + "\n")
		return sb.String()
	}
	for _, item := range task.SubItems {
		text := item.Title
		if item.Completed {
			text = doneStyle.Render(text)
		}
		sb.WriteString(fmt.Sprintf("    %s %s %s\n", checkbox(item.Completed), text, mutedStyle.Render(item.ID)))
	}
	return sb.String()
}

func renderSteps(steps []domain.Step) string {
	var sb strings.Builder
	for i, step := range steps {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, titleStyle.Render(step.Title)))
		if step.Why != "" {
			sb.WriteString(stepStyle.Render(step.Why) + "\n")
		}
		if step.How != "" {
			sb.WriteString(stepStyle.Render(step.How) + "\n")
		}
	}
	return sb.String()
}
