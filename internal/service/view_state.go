package service

import (
	"sync"

	"github.com/rcliao/donelist/internal/domain"
)

// ViewState tracks which tasks have their sub-items collapsed. Tasks with
// sub-items start collapsed unless the user expanded them by hand.
type ViewState struct {
	mu               sync.Mutex
	collapsed        map[string]bool
	manuallyExpanded map[string]bool
}

func NewViewState() *ViewState {
	return &ViewState{
		collapsed:        make(map[string]bool),
		manuallyExpanded: make(map[string]bool),
	}
}

// Reconcile applies the default-collapse rule after a (re)load.
func (v *ViewState) Reconcile(tasks []*domain.Task) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, task := range tasks {
		if len(task.SubItems) == 0 {
			continue
		}
		if !v.manuallyExpanded[task.ID] {
			v.collapsed[task.ID] = true
		}
	}
}

// ToggleManual records a user click on the collapse control and returns the
// new collapsed state.
func (v *ViewState) ToggleManual(taskID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.collapsed[taskID] {
		delete(v.collapsed, taskID)
		v.manuallyExpanded[taskID] = true
		return false
	}
	v.collapsed[taskID] = true
	delete(v.manuallyExpanded, taskID)
	return true
}

// Expand forces the task open without counting as a manual expansion, so the
// next Reconcile collapses it again.
func (v *ViewState) Expand(taskID string) {
	v.mu.Lock()
	defer v.mu.Unlock()

	delete(v.collapsed, taskID)
}

func (v *ViewState) IsCollapsed(taskID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.collapsed[taskID]
}

func (v *ViewState) IsManuallyExpanded(taskID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.manuallyExpanded[taskID]
}
