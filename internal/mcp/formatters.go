package mcp

import (
	"fmt"
	"strings"

	"github.com/rcliao/donelist/internal/analysis"
	"github.com/rcliao/donelist/internal/domain"
	"github.com/rcliao/donelist/internal/search"
)

// FormatTasksAsMarkdown formats a list of tasks as markdown
func FormatTasksAsMarkdown(tasks []*domain.Task) string {
	if len(tasks) == 0 {
		return "📋 **No tasks found**\n\nCreate one with `donelist_task_create`"
	}

	var active, done []*domain.Task
	for _, task := range tasks {
		if task.Completed {
			done = append(done, task)
		} else {
			active = append(active, task)
		}
	}

	var sb strings.Builder
	sb.WriteString("# 📋 Tasks\n\n")
	for _, group := range []struct {
		header string
		tasks  []*domain.Task
	}{
		{"⏳ Active", active},
		{"✅ Completed", done},
	} {
		if len(group.tasks) == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("## %s (%d)\n\n", group.header, len(group.tasks)))
		for _, task := range group.tasks {
			sb.WriteString(formatSingleTask(task))
		}
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String())
}

// FormatSearchResultsAsMarkdown formats ranked search results
func FormatSearchResultsAsMarkdown(query string, results []*search.Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("🔍 **No tasks match** %q", query)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# 🔍 Results for %q (%d)\n\n", query, len(results)))
	for _, r := range results {
		sb.WriteString(fmt.Sprintf("- %s `%s` (%s, %.0f)\n", r.Snippet, r.Task.ID, r.MatchType, r.Score))
	}
	return strings.TrimSpace(sb.String())
}

// FormatTaskAsMarkdown formats a single task with its last analysis
func FormatTaskAsMarkdown(task *domain.Task) string {
	var sb strings.Builder
	sb.WriteString("# 📋 Task Details\n\n")
	sb.WriteString(formatSingleTask(task))

	if a := task.LastAnalysis; a != nil {
		sb.WriteString("\n## 🤖 Last Analysis\n")
		writeList(&sb, "Assumptions", a.Assumptions)
		writeSteps(&sb, a.Steps)
		writeList(&sb, "Risks", a.Risks)
		writeList(&sb, "Test Plan", a.TestPlan)
	}

	return strings.TrimSpace(sb.String())
}

// FormatOutcomeAsMarkdown reports an analysis result and, when known, the
// task it was applied to.
func FormatOutcomeAsMarkdown(out analysis.Outcome, task *domain.Task) string {
	var sb strings.Builder

	icon := "✅"
	if out.Err != nil {
		icon = "⚠️"
	}
	sb.WriteString(fmt.Sprintf("%s **%s**\n", icon, out.Status))
	writeSteps(&sb, out.Steps)

	if task != nil && out.Err == nil {
		sb.WriteString("\n")
		sb.WriteString(formatSingleTask(task))
	}

	return strings.TrimSpace(sb.String())
}

func formatSingleTask(task *domain.Task) string {
	var sb strings.Builder

	checkbox := "[ ]"
	if task.Completed {
		checkbox = "[x]"
	}

	sb.WriteString(fmt.Sprintf("- %s **%s**", checkbox, task.Title))
	if task.IsEveryday {
		sb.WriteString(" 🔁")
	}
	if task.AssignedDate != "" {
		sb.WriteString(fmt.Sprintf(" 📅 %s", task.AssignedDate))
	}
	sb.WriteString(fmt.Sprintf(" `%s`\n", task.ID))

	for _, item := range task.SubItems {
		mark := "[ ]"
		if item.Completed {
			mark = "[x]"
		}
		sb.WriteString(fmt.Sprintf("  - %s %s `%s`\n", mark, item.Title, item.ID))
	}
	return sb.String()
}

func writeSteps(sb *strings.Builder, steps []domain.Step) {
	if len(steps) == 0 {
		return
	}
	sb.WriteString("\n### Steps\n")
	for i, step := range steps {
		sb.WriteString(fmt.Sprintf("%d. **%s**", i+1, step.Title))
		if step.Why != "" {
			sb.WriteString(" - " + step.Why)
		}
		sb.WriteString("\n")
		if step.How != "" {
			sb.WriteString("   " + step.How + "\n")
		}
		if len(step.FilesToTouch) > 0 {
			sb.WriteString("   Files: " + strings.Join(step.FilesToTouch, ", ") + "\n")
		}
	}
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString(fmt.Sprintf("\n### %s\n- %s\n", title, strings.Join(items, "\n- ")))
}
