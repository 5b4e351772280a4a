package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DateLayout = "2006-01-02"

var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrSubItemNotFound = errors.New("sub-item not found")
	ErrEmptyTitle      = errors.New("title must not be empty")
)

type Task struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	Completed    bool                 `json:"completed"`
	IsEveryday   bool                 `json:"isEveryday"`
	AssignedDate string               `json:"assignedDate,omitempty"`
	SubItems     []SubItem            `json:"subTasks"`
	LastAnalysis *DecompositionResult `json:"aiAnalysis,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

type SubItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

func NewTask(title, assignedDate string) (*Task, error) {
	clean := strings.TrimSpace(title)
	if clean == "" {
		return nil, ErrEmptyTitle
	}
	if assignedDate != "" {
		if _, err := time.Parse(DateLayout, assignedDate); err != nil {
			return nil, fmt.Errorf("invalid assigned date %q: %w", assignedDate, err)
		}
	}

	now := time.Now()
	return &Task{
		ID:           uuid.New().String(),
		Title:        clean,
		AssignedDate: assignedDate,
		SubItems:     make([]SubItem, 0),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NewSubItemID derives a sub-item identifier from its parent, its position in
// the generated batch and a nanosecond timestamp so rapid successive batches
// for the same task never collide.
func NewSubItemID(taskID string, ordinal int, at time.Time) string {
	return fmt.Sprintf("sub-%s-%d-%d", taskID, ordinal, at.UnixNano())
}

func (t *Task) AppendSubItems(items []SubItem) {
	if t.SubItems == nil {
		t.SubItems = make([]SubItem, 0, len(items))
	}
	t.SubItems = append(t.SubItems, items...)
}

func (t *Task) ReplaceSubItems(items []SubItem) {
	t.SubItems = make([]SubItem, 0, len(items))
	t.SubItems = append(t.SubItems, items...)
}

func (t *Task) ToggleSubItem(subItemID string) error {
	for i := range t.SubItems {
		if t.SubItems[i].ID == subItemID {
			t.SubItems[i].Completed = !t.SubItems[i].Completed
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrSubItemNotFound, subItemID)
}

func (t *Task) AllSubItemsCompleted() bool {
	if len(t.SubItems) == 0 {
		return false
	}
	for _, item := range t.SubItems {
		if !item.Completed {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so storage adapters never hand out pointers into
// their own state.
func (t *Task) Clone() *Task {
	cp := *t
	cp.SubItems = append(make([]SubItem, 0, len(t.SubItems)), t.SubItems...)
	if t.LastAnalysis != nil {
		cp.LastAnalysis = t.LastAnalysis.Clone()
	}
	return &cp
}

type TaskFilter struct {
	Completed    *bool
	AssignedDate *string
	Everyday     *bool
}

func (f TaskFilter) Matches(t *Task) bool {
	if f.Completed != nil && t.Completed != *f.Completed {
		return false
	}
	if f.AssignedDate != nil && t.AssignedDate != *f.AssignedDate {
		return false
	}
	if f.Everyday != nil && t.IsEveryday != *f.Everyday {
		return false
	}
	return true
}

// ParseFilter maps the list view names used by the UI onto a TaskFilter.
func ParseFilter(name string) (TaskFilter, error) {
	switch name {
	case "", "all":
		return TaskFilter{}, nil
	case "active":
		completed := false
		return TaskFilter{Completed: &completed}, nil
	case "completed":
		completed := true
		return TaskFilter{Completed: &completed}, nil
	default:
		return TaskFilter{}, fmt.Errorf("unknown filter %q (want all, active or completed)", name)
	}
}
