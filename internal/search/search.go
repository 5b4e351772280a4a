package search

import (
	"sort"
	"strings"

	"github.com/rcliao/donelist/internal/domain"
)

// Match kinds, in the order a task's best snippet is chosen.
const (
	MatchTitle    = "title"
	MatchSubTask  = "subtask"
	MatchAnalysis = "analysis"
)

type TaskStorage interface {
	ListTasks(filter domain.TaskFilter) ([]*domain.Task, error)
}

type Options struct {
	Filter domain.TaskFilter
	Limit  int
	Offset int
}

type Result struct {
	Task      *domain.Task `json:"task"`
	Score     float64      `json:"score"`
	MatchType string       `json:"matchType"`
	Snippet   string       `json:"snippet"`
}

// TaskSearch ranks tasks by where a case-insensitive query appears: the task
// title, its sub-tasks or the steps and notes of its last analysis.
type TaskSearch struct {
	storage TaskStorage
}

func NewTaskSearch(storage TaskStorage) *TaskSearch {
	return &TaskSearch{storage: storage}
}

func (s *TaskSearch) Search(query string, opts Options) ([]*Result, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []*Result{}, nil
	}

	tasks, err := s.storage.ListTasks(opts.Filter)
	if err != nil {
		return nil, err
	}

	results := make([]*Result, 0)
	for _, task := range tasks {
		var candidates []*Result
		if score := titleScore(task, query); score > 0 {
			candidates = append(candidates, &Result{Score: score, MatchType: MatchTitle, Snippet: highlight(task.Title, query)})
		}
		if score, snippet := subTaskScore(task, query); score > 0 {
			candidates = append(candidates, &Result{Score: score, MatchType: MatchSubTask, Snippet: snippet})
		}
		if score, snippet := analysisScore(task, query); score > 0 {
			candidates = append(candidates, &Result{Score: score, MatchType: MatchAnalysis, Snippet: snippet})
		}
		if merged := merge(task, candidates); merged != nil {
			results = append(results, merged)
		}
	}

	// Ties keep storage order, which is newest first.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return paginate(results, opts.Offset, opts.Limit), nil
}

func titleScore(task *domain.Task, query string) float64 {
	title := strings.ToLower(task.Title)
	if !strings.Contains(title, query) {
		return 0
	}
	if title == query {
		return 15
	}
	return 10
}

func subTaskScore(task *domain.Task, query string) (float64, string) {
	var score float64
	snippet := ""
	for _, item := range task.SubItems {
		if strings.Contains(strings.ToLower(item.Title), query) {
			score += 6
			if snippet == "" {
				snippet = "Sub-task: " + highlight(item.Title, query)
			}
		}
	}
	return score, snippet
}

func analysisScore(task *domain.Task, query string) (float64, string) {
	a := task.LastAnalysis
	if a == nil {
		return 0, ""
	}

	var score float64
	snippet := ""
	hit := func(text string, weight float64) {
		if !strings.Contains(strings.ToLower(text), query) {
			return
		}
		score += weight
		if snippet == "" {
			snippet = excerpt(text, query, 100)
		}
	}

	for _, step := range a.Steps {
		hit(step.Title, 4)
		hit(step.Why, 2)
		hit(step.How, 2)
	}
	for _, note := range append(append(append([]string{}, a.Assumptions...), a.Risks...), a.TestPlan...) {
		hit(note, 1)
	}
	return score, snippet
}

// merge sums candidate scores and keeps the snippet of the strongest match.
func merge(task *domain.Task, candidates []*Result) *Result {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	total := 0.0
	for _, c := range candidates {
		total += c.Score
		if c.Score > best.Score {
			best = c
		}
	}
	return &Result{Task: task, Score: total, MatchType: best.MatchType, Snippet: best.Snippet}
}

func paginate(results []*Result, offset, limit int) []*Result {
	if offset > 0 {
		if offset >= len(results) {
			return []*Result{}
		}
		results = results[offset:]
	}
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

func excerpt(text, query string, maxLength int) string {
	index := matchIndex(text, query)
	if index == -1 {
		if len(text) > maxLength {
			return text[:maxLength] + "..."
		}
		return text
	}

	start := index - 30
	if start < 0 {
		start = 0
	}
	end := index + len(query) + 30
	if end > len(text) {
		end = len(text)
	}

	snippet := highlight(text[start:end], query)
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet += "..."
	}
	return snippet
}

func highlight(text, query string) string {
	index := matchIndex(text, query)
	if index == -1 {
		return text
	}
	return text[:index] + "**" + text[index:index+len(query)] + "**" + text[index+len(query):]
}

// matchIndex finds query in text ignoring case. It gives up (-1) when
// lowercasing changes the byte length, since offsets would no longer line up.
func matchIndex(text, query string) int {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		return -1
	}
	return strings.Index(lower, query)
}
