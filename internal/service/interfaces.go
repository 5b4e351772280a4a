package service

import (
	"github.com/rcliao/donelist/internal/domain"
)

// TaskStorage interface for task data persistence
type TaskStorage interface {
	CreateTask(task *domain.Task) error
	GetTask(id string) (*domain.Task, error)
	ListTasks(filter domain.TaskFilter) ([]*domain.Task, error)
	UpdateTask(id string, updates map[string]interface{}) (*domain.Task, error)
	DeleteTask(id string) error
	ClearCompleted() (int, error)
	AddSubItems(taskID string, items []domain.SubItem) (*domain.Task, error)
	ReplaceSubItems(taskID string, items []domain.SubItem) (*domain.Task, error)
	ToggleSubItem(taskID, subItemID string) (*domain.Task, error)
	UpdateAnalysis(taskID string, result *domain.DecompositionResult) (*domain.Task, error)
}
