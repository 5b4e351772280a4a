package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/donelist/internal/domain"
	"github.com/rcliao/donelist/internal/search"
)

type TaskService struct {
	storage  TaskStorage
	searcher *search.TaskSearch
	logger   *zap.Logger
}

func NewTaskService(storage TaskStorage, logger *zap.Logger) *TaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskService{
		storage:  storage,
		searcher: search.NewTaskSearch(storage),
		logger:   logger,
	}
}

func (s *TaskService) Create(title, assignedDate string) (*domain.Task, error) {
	task, err := domain.NewTask(title, assignedDate)
	if err != nil {
		return nil, err
	}
	if err := s.storage.CreateTask(task); err != nil {
		return nil, err
	}
	s.logger.Debug("task created", zap.String("task_id", task.ID))
	return task, nil
}

func (s *TaskService) Get(id string) (*domain.Task, error) {
	return s.storage.GetTask(id)
}

func (s *TaskService) List(filter domain.TaskFilter) ([]*domain.Task, error) {
	return s.storage.ListTasks(filter)
}

func (s *TaskService) Search(query string, opts search.Options) ([]*search.Result, error) {
	return s.searcher.Search(query, opts)
}

func (s *TaskService) Update(id string, updates map[string]interface{}) (*domain.Task, error) {
	return s.storage.UpdateTask(id, updates)
}

func (s *TaskService) Toggle(id string) (*domain.Task, error) {
	task, err := s.storage.GetTask(id)
	if err != nil {
		return nil, err
	}
	return s.storage.UpdateTask(id, map[string]interface{}{"completed": !task.Completed})
}

func (s *TaskService) ToggleEveryday(id string) (*domain.Task, error) {
	task, err := s.storage.GetTask(id)
	if err != nil {
		return nil, err
	}
	return s.storage.UpdateTask(id, map[string]interface{}{"isEveryday": !task.IsEveryday})
}

func (s *TaskService) Delete(id string) error {
	return s.storage.DeleteTask(id)
}

func (s *TaskService) ClearCompleted() (int, error) {
	return s.storage.ClearCompleted()
}

func (s *TaskService) AddSubItems(taskID string, items []domain.SubItem) (*domain.Task, error) {
	return s.storage.AddSubItems(taskID, items)
}

func (s *TaskService) ReplaceSubItems(taskID string, items []domain.SubItem) (*domain.Task, error) {
	return s.storage.ReplaceSubItems(taskID, items)
}

// ToggleSubItem flips one sub-item and completes the parent once every
// sub-item is done.
func (s *TaskService) ToggleSubItem(taskID, subItemID string) (*domain.Task, error) {
	task, err := s.storage.ToggleSubItem(taskID, subItemID)
	if err != nil {
		return nil, err
	}

	if task.AllSubItemsCompleted() && !task.Completed {
		task, err = s.storage.UpdateTask(taskID, map[string]interface{}{"completed": true})
		if err != nil {
			return nil, fmt.Errorf("failed to complete parent task: %w", err)
		}
		s.logger.Debug("all sub-items done, parent completed", zap.String("task_id", taskID))
	}
	return task, nil
}

func (s *TaskService) UpdateAnalysis(taskID string, result *domain.DecompositionResult) (*domain.Task, error) {
	return s.storage.UpdateAnalysis(taskID, result)
}
