package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/donelist/internal/domain"
)

type MemoryStorage struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks: make(map[string]*domain.Task),
	}
}

func (ms *MemoryStorage) CreateTask(task *domain.Task) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}

	ms.tasks[task.ID] = task.Clone()
	return nil
}

func (ms *MemoryStorage) GetTask(id string) (*domain.Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	task, exists := ms.tasks[id]
	if !exists {
		return nil, notFound(id)
	}

	return task.Clone(), nil
}

// ListTasks returns matching tasks newest first.
func (ms *MemoryStorage) ListTasks(filter domain.TaskFilter) ([]*domain.Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	result := make([]*domain.Task, 0, len(ms.tasks))
	for _, task := range ms.tasks {
		if !filter.Matches(task) {
			continue
		}
		result = append(result, task.Clone())
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (ms *MemoryStorage) UpdateTask(id string, updates map[string]interface{}) (*domain.Task, error) {
	return ms.mutate(id, func(task *domain.Task) error {
		return applyUpdates(task, updates)
	})
}

func (ms *MemoryStorage) DeleteTask(id string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[id]; !exists {
		return notFound(id)
	}

	delete(ms.tasks, id)
	return nil
}

func (ms *MemoryStorage) ClearCompleted() (int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	removed := 0
	for id, task := range ms.tasks {
		if task.Completed {
			delete(ms.tasks, id)
			removed++
		}
	}
	return removed, nil
}

func (ms *MemoryStorage) AddSubItems(taskID string, items []domain.SubItem) (*domain.Task, error) {
	return ms.mutate(taskID, func(task *domain.Task) error {
		task.AppendSubItems(items)
		return nil
	})
}

func (ms *MemoryStorage) ReplaceSubItems(taskID string, items []domain.SubItem) (*domain.Task, error) {
	return ms.mutate(taskID, func(task *domain.Task) error {
		task.ReplaceSubItems(items)
		return nil
	})
}

func (ms *MemoryStorage) ToggleSubItem(taskID, subItemID string) (*domain.Task, error) {
	return ms.mutate(taskID, func(task *domain.Task) error {
		return task.ToggleSubItem(subItemID)
	})
}

func (ms *MemoryStorage) UpdateAnalysis(taskID string, result *domain.DecompositionResult) (*domain.Task, error) {
	return ms.mutate(taskID, func(task *domain.Task) error {
		task.LastAnalysis = result.Clone()
		return nil
	})
}

// mutate applies fn to a copy of the task and only stores it when fn succeeds.
func (ms *MemoryStorage) mutate(id string, fn func(task *domain.Task) error) (*domain.Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[id]
	if !exists {
		return nil, notFound(id)
	}

	updated := task.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	updated.UpdatedAt = time.Now()

	ms.tasks[id] = updated
	return updated.Clone(), nil
}
