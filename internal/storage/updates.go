package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/rcliao/donelist/internal/domain"
)

// applyUpdates copies the recognised fields of updates onto task. Unknown
// keys are ignored; known keys with the wrong type are rejected.
func applyUpdates(task *domain.Task, updates map[string]interface{}) error {
	for key, value := range updates {
		switch key {
		case "title":
			title, ok := value.(string)
			if !ok {
				return fmt.Errorf("title must be a string")
			}
			title = strings.TrimSpace(title)
			if title == "" {
				return domain.ErrEmptyTitle
			}
			task.Title = title
		case "completed":
			completed, ok := value.(bool)
			if !ok {
				return fmt.Errorf("completed must be a bool")
			}
			task.Completed = completed
		case "isEveryday":
			everyday, ok := value.(bool)
			if !ok {
				return fmt.Errorf("isEveryday must be a bool")
			}
			task.IsEveryday = everyday
		case "assignedDate":
			date, ok := value.(string)
			if !ok {
				return fmt.Errorf("assignedDate must be a string")
			}
			if date != "" {
				if _, err := time.Parse(domain.DateLayout, date); err != nil {
					return fmt.Errorf("invalid assigned date %q: %w", date, err)
				}
			}
			task.AssignedDate = date
		}
	}
	task.UpdatedAt = time.Now()
	return nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
}
