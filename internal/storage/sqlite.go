package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/donelist/internal/domain"
)

// SQLStorage is the row-store adapter. Every query is scoped by ownerID so
// several users can share one database without seeing each other's tasks; an
// empty owner is a valid (shared) scope.
type SQLStorage struct {
	db      *sql.DB
	dbPath  string
	ownerID string
}

func NewSQLStorage(dbPath, ownerID string) (*SQLStorage, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY
	// and keeps ":memory:" databases from splitting per connection.
	db.SetMaxOpenConns(1)

	store := &SQLStorage{
		db:      db,
		dbPath:  dbPath,
		ownerID: ownerID,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}

func (s *SQLStorage) Path() string {
	return s.dbPath
}

// ForOwner returns a view of the same database scoped to another owner.
func (s *SQLStorage) ForOwner(ownerID string) *SQLStorage {
	return &SQLStorage{db: s.db, dbPath: s.dbPath, ownerID: ownerID}
}

func (s *SQLStorage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		owner_id TEXT NOT NULL DEFAULT '',
		id TEXT NOT NULL,
		title TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		is_everyday INTEGER NOT NULL DEFAULT 0,
		assigned_date TEXT NOT NULL DEFAULT '',
		sub_items_json TEXT NOT NULL DEFAULT '[]',
		analysis_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (owner_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner_created ON tasks(owner_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

const taskColumns = `id, title, completed, is_everyday, assigned_date, sub_items_json, analysis_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task                 domain.Task
		completed, everyday  int
		subItemsJSON         string
		analysisJSON         sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&task.ID, &task.Title, &completed, &everyday, &task.AssignedDate,
		&subItemsJSON, &analysisJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	task.Completed = completed != 0
	task.IsEveryday = everyday != 0

	task.SubItems = make([]domain.SubItem, 0)
	if err := json.Unmarshal([]byte(subItemsJSON), &task.SubItems); err != nil {
		return nil, fmt.Errorf("corrupt sub-items for task %s: %w", task.ID, err)
	}
	if analysisJSON.Valid && analysisJSON.String != "" {
		var result domain.DecompositionResult
		if err := json.Unmarshal([]byte(analysisJSON.String), &result); err != nil {
			return nil, fmt.Errorf("corrupt analysis for task %s: %w", task.ID, err)
		}
		task.LastAnalysis = &result
	}

	var err error
	if task.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &task, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeTask(task *domain.Task) (subItems string, analysis sql.NullString, err error) {
	items := task.SubItems
	if items == nil {
		items = make([]domain.SubItem, 0)
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return "", analysis, err
	}
	if task.LastAnalysis != nil {
		a, err := json.Marshal(task.LastAnalysis)
		if err != nil {
			return "", analysis, err
		}
		analysis = sql.NullString{String: string(a), Valid: true}
	}
	return string(raw), analysis, nil
}

func (s *SQLStorage) CreateTask(task *domain.Task) error {
	subItems, analysis, err := encodeTask(task)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`INSERT INTO tasks (owner_id, `+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ownerID, task.ID, task.Title, boolInt(task.Completed), boolInt(task.IsEveryday),
		task.AssignedDate, subItems, analysis,
		task.CreatedAt.UTC().Format(time.RFC3339Nano), task.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return fmt.Errorf("task with ID %s already exists", task.ID)
		}
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func (s *SQLStorage) GetTask(id string) (*domain.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? AND id = ?`, s.ownerID, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	return task, err
}

func (s *SQLStorage) ListTasks(filter domain.TaskFilter) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE owner_id = ?`
	args := []interface{}{s.ownerID}
	if filter.Completed != nil {
		query += ` AND completed = ?`
		args = append(args, boolInt(*filter.Completed))
	}
	if filter.Everyday != nil {
		query += ` AND is_everyday = ?`
		args = append(args, boolInt(*filter.Everyday))
	}
	if filter.AssignedDate != nil {
		query += ` AND assigned_date = ?`
		args = append(args, *filter.AssignedDate)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, task)
	}
	return result, rows.Err()
}

func (s *SQLStorage) UpdateTask(id string, updates map[string]interface{}) (*domain.Task, error) {
	return s.mutate(id, func(task *domain.Task) error {
		return applyUpdates(task, updates)
	})
}

func (s *SQLStorage) DeleteTask(id string) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE owner_id = ? AND id = ?`, s.ownerID, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLStorage) ClearCompleted() (int, error) {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE owner_id = ? AND completed = 1`, s.ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to clear completed tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLStorage) AddSubItems(taskID string, items []domain.SubItem) (*domain.Task, error) {
	return s.mutate(taskID, func(task *domain.Task) error {
		task.AppendSubItems(items)
		return nil
	})
}

func (s *SQLStorage) ReplaceSubItems(taskID string, items []domain.SubItem) (*domain.Task, error) {
	return s.mutate(taskID, func(task *domain.Task) error {
		task.ReplaceSubItems(items)
		return nil
	})
}

func (s *SQLStorage) ToggleSubItem(taskID, subItemID string) (*domain.Task, error) {
	return s.mutate(taskID, func(task *domain.Task) error {
		return task.ToggleSubItem(subItemID)
	})
}

func (s *SQLStorage) UpdateAnalysis(taskID string, result *domain.DecompositionResult) (*domain.Task, error) {
	return s.mutate(taskID, func(task *domain.Task) error {
		task.LastAnalysis = result.Clone()
		return nil
	})
}

// mutate reads, modifies and writes one row inside a transaction.
func (s *SQLStorage) mutate(id string, fn func(task *domain.Task) error) (*domain.Task, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE owner_id = ? AND id = ?`, s.ownerID, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}

	if err := fn(task); err != nil {
		return nil, err
	}
	task.UpdatedAt = time.Now()

	subItems, analysis, err := encodeTask(task)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(`UPDATE tasks SET title = ?, completed = ?, is_everyday = ?, assigned_date = ?,
		sub_items_json = ?, analysis_json = ?, updated_at = ?
		WHERE owner_id = ? AND id = ?`,
		task.Title, boolInt(task.Completed), boolInt(task.IsEveryday), task.AssignedDate,
		subItems, analysis, task.UpdatedAt.UTC().Format(time.RFC3339Nano),
		s.ownerID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return task, nil
}
