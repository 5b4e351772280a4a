package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rcliao/donelist/internal/domain"
)

// FileStorage keeps every task in a single JSON document under
// <basePath>/.donelist/tasks.json, newest task first.
type FileStorage struct {
	basePath string
	mu       sync.RWMutex
}

func NewFileStorage(basePath string) (*FileStorage, error) {
	fs := &FileStorage{
		basePath: basePath,
	}

	err := fs.initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize file storage: %w", err)
	}

	return fs, nil
}

func (fs *FileStorage) initialize() error {
	if err := os.MkdirAll(fs.dataDir(), 0755); err != nil {
		return err
	}

	if _, err := os.Stat(fs.tasksPath()); os.IsNotExist(err) {
		return fs.saveJSON(fs.tasksPath(), make([]*domain.Task, 0))
	}

	return nil
}

func (fs *FileStorage) dataDir() string {
	return filepath.Join(fs.basePath, ".donelist")
}

func (fs *FileStorage) tasksPath() string {
	return filepath.Join(fs.dataDir(), "tasks.json")
}

func (fs *FileStorage) saveJSON(path string, data interface{}) error {
	tempPath := path + ".tmp"

	file, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	return os.Rename(tempPath, path)
}

func (fs *FileStorage) loadJSON(path string, target interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(target)
}

func (fs *FileStorage) loadTasks() ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := fs.loadJSON(fs.tasksPath(), &tasks)
	if os.IsNotExist(err) {
		return make([]*domain.Task, 0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fs.tasksPath(), err)
	}

	// Drop null entries a hand-edited file may contain.
	result := tasks[:0]
	for _, t := range tasks {
		if t != nil {
			result = append(result, t)
		}
	}
	return result, nil
}

func (fs *FileStorage) saveTasks(tasks []*domain.Task) error {
	return fs.saveJSON(fs.tasksPath(), tasks)
}

func (fs *FileStorage) CreateTask(task *domain.Task) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tasks, err := fs.loadTasks()
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if t.ID == task.ID {
			return fmt.Errorf("task with ID %s already exists", task.ID)
		}
	}

	tasks = append([]*domain.Task{task.Clone()}, tasks...)
	return fs.saveTasks(tasks)
}

func (fs *FileStorage) GetTask(id string) (*domain.Task, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	tasks, err := fs.loadTasks()
	if err != nil {
		return nil, err
	}

	for _, task := range tasks {
		if task.ID == id {
			return task, nil
		}
	}

	return nil, notFound(id)
}

func (fs *FileStorage) ListTasks(filter domain.TaskFilter) ([]*domain.Task, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	tasks, err := fs.loadTasks()
	if err != nil {
		return nil, err
	}

	result := make([]*domain.Task, 0, len(tasks))
	for _, task := range tasks {
		if filter.Matches(task) {
			result = append(result, task)
		}
	}
	return result, nil
}

func (fs *FileStorage) UpdateTask(id string, updates map[string]interface{}) (*domain.Task, error) {
	return fs.mutate(id, func(task *domain.Task) error {
		return applyUpdates(task, updates)
	})
}

func (fs *FileStorage) DeleteTask(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tasks, err := fs.loadTasks()
	if err != nil {
		return err
	}

	for i, task := range tasks {
		if task.ID == id {
			tasks = append(tasks[:i], tasks[i+1:]...)
			return fs.saveTasks(tasks)
		}
	}

	return notFound(id)
}

func (fs *FileStorage) ClearCompleted() (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tasks, err := fs.loadTasks()
	if err != nil {
		return 0, err
	}

	kept := make([]*domain.Task, 0, len(tasks))
	for _, task := range tasks {
		if !task.Completed {
			kept = append(kept, task)
		}
	}

	if err := fs.saveTasks(kept); err != nil {
		return 0, err
	}
	return len(tasks) - len(kept), nil
}

func (fs *FileStorage) AddSubItems(taskID string, items []domain.SubItem) (*domain.Task, error) {
	return fs.mutate(taskID, func(task *domain.Task) error {
		task.AppendSubItems(items)
		return nil
	})
}

func (fs *FileStorage) ReplaceSubItems(taskID string, items []domain.SubItem) (*domain.Task, error) {
	return fs.mutate(taskID, func(task *domain.Task) error {
		task.ReplaceSubItems(items)
		return nil
	})
}

func (fs *FileStorage) ToggleSubItem(taskID, subItemID string) (*domain.Task, error) {
	return fs.mutate(taskID, func(task *domain.Task) error {
		return task.ToggleSubItem(subItemID)
	})
}

func (fs *FileStorage) UpdateAnalysis(taskID string, result *domain.DecompositionResult) (*domain.Task, error) {
	return fs.mutate(taskID, func(task *domain.Task) error {
		task.LastAnalysis = result.Clone()
		return nil
	})
}

func (fs *FileStorage) mutate(id string, fn func(task *domain.Task) error) (*domain.Task, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tasks, err := fs.loadTasks()
	if err != nil {
		return nil, err
	}

	for i, task := range tasks {
		if task.ID != id {
			continue
		}

		updated := task.Clone()
		if err := fn(updated); err != nil {
			return nil, err
		}
		updated.UpdatedAt = time.Now()

		tasks[i] = updated
		if err := fs.saveTasks(tasks); err != nil {
			return nil, err
		}
		return updated, nil
	}

	return nil, notFound(id)
}
