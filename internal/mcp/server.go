package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/donelist/internal/analysis"
	"github.com/rcliao/donelist/internal/domain"
	"github.com/rcliao/donelist/internal/search"
	"github.com/rcliao/donelist/internal/service"
)

// Analyzer is the part of the orchestrator the tool server drives.
type Analyzer interface {
	Analyze(ctx context.Context, taskText, taskID string, isRegenerate bool) analysis.Outcome
	Regenerate(ctx context.Context) analysis.Outcome
	State() analysis.RequestState
}

var (
	ErrAnalysisUnavailable = errors.New("AI analysis is not configured")
	ErrAnalysisBusy        = errors.New("an analysis is already in progress")
)

type MCPServer struct {
	taskService *service.TaskService
	analyzer    Analyzer
	logger      *zap.Logger
}

// NewMCPServer builds the command handler. analyzer may be nil, in which case
// the analysis commands report ErrAnalysisUnavailable.
func NewMCPServer(taskService *service.TaskService, analyzer Analyzer, logger *zap.Logger) *MCPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MCPServer{
		taskService: taskService,
		analyzer:    analyzer,
		logger:      logger,
	}
}

func (s *MCPServer) HandleCommand(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	s.logger.Debug("handling command", zap.String("method", method))

	switch method {
	case "donelist.task.create":
		return s.handleTaskCreate(params)
	case "donelist.task.list":
		return s.handleTaskList(params)
	case "donelist.task.search":
		return s.handleTaskSearch(params)
	case "donelist.task.get":
		return s.handleTaskGet(params)
	case "donelist.task.toggle":
		return s.handleTaskToggle(params)
	case "donelist.task.everyday":
		return s.handleTaskEveryday(params)
	case "donelist.task.delete":
		return s.handleTaskDelete(params)
	case "donelist.task.clear_completed":
		return s.handleClearCompleted()
	case "donelist.subtask.toggle":
		return s.handleSubtaskToggle(params)
	case "donelist.analyze":
		return s.handleAnalyze(ctx, params)
	case "donelist.regenerate":
		return s.handleRegenerate(ctx)
	default:
		return nil, fmt.Errorf("unknown method: %s", method)
	}
}

func decodeParams(params json.RawMessage, target interface{}) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, target); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

type CreateTaskParams struct {
	Title        string `json:"title"`
	AssignedDate string `json:"assignedDate,omitempty"`
	Everyday     bool   `json:"everyday,omitempty"`
}

func (s *MCPServer) handleTaskCreate(params json.RawMessage) (interface{}, error) {
	var p CreateTaskParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	task, err := s.taskService.Create(p.Title, p.AssignedDate)
	if err != nil {
		return nil, err
	}
	if p.Everyday {
		return s.taskService.ToggleEveryday(task.ID)
	}
	return task, nil
}

type ListTasksParams struct {
	// Filter is "all", "active" or "completed".
	Filter   string `json:"filter,omitempty"`
	Date     string `json:"date,omitempty"`
	Everyday *bool  `json:"everyday,omitempty"`
	// Format is "markdown" (default) or "json".
	Format string `json:"format,omitempty"`
}

func (s *MCPServer) handleTaskList(params json.RawMessage) (interface{}, error) {
	var p ListTasksParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}

	filter, err := domain.ParseFilter(p.Filter)
	if err != nil {
		return nil, err
	}
	if p.Date != "" {
		filter.AssignedDate = &p.Date
	}
	filter.Everyday = p.Everyday

	tasks, err := s.taskService.List(filter)
	if err != nil {
		return nil, err
	}
	if p.Format == "json" {
		return tasks, nil
	}
	return FormatTasksAsMarkdown(tasks), nil
}

type SearchTasksParams struct {
	Query  string `json:"query"`
	Filter string `json:"filter,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Format string `json:"format,omitempty"`
}

func (s *MCPServer) handleTaskSearch(params json.RawMessage) (interface{}, error) {
	var p SearchTasksParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	filter, err := domain.ParseFilter(p.Filter)
	if err != nil {
		return nil, err
	}
	if p.Limit == 0 {
		p.Limit = 10
	}

	results, err := s.taskService.Search(p.Query, search.Options{Filter: filter, Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		return nil, err
	}
	if p.Format == "json" {
		return results, nil
	}
	return FormatSearchResultsAsMarkdown(p.Query, results), nil
}

type TaskIDParams struct {
	ID string `json:"id"`
}

func (p TaskIDParams) validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

func (s *MCPServer) taskID(params json.RawMessage) (string, error) {
	var p TaskIDParams
	if err := decodeParams(params, &p); err != nil {
		return "", err
	}
	if err := p.validate(); err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *MCPServer) handleTaskGet(params json.RawMessage) (interface{}, error) {
	id, err := s.taskID(params)
	if err != nil {
		return nil, err
	}
	task, err := s.taskService.Get(id)
	if err != nil {
		return nil, err
	}
	return FormatTaskAsMarkdown(task), nil
}

func (s *MCPServer) handleTaskToggle(params json.RawMessage) (interface{}, error) {
	id, err := s.taskID(params)
	if err != nil {
		return nil, err
	}
	return s.taskService.Toggle(id)
}

func (s *MCPServer) handleTaskEveryday(params json.RawMessage) (interface{}, error) {
	id, err := s.taskID(params)
	if err != nil {
		return nil, err
	}
	return s.taskService.ToggleEveryday(id)
}

func (s *MCPServer) handleTaskDelete(params json.RawMessage) (interface{}, error) {
	id, err := s.taskID(params)
	if err != nil {
		return nil, err
	}
	if err := s.taskService.Delete(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": id}, nil
}

func (s *MCPServer) handleClearCompleted() (interface{}, error) {
	removed, err := s.taskService.ClearCompleted()
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"removed": removed}, nil
}

type SubtaskParams struct {
	TaskID    string `json:"taskId"`
	SubtaskID string `json:"subtaskId"`
}

func (s *MCPServer) handleSubtaskToggle(params json.RawMessage) (interface{}, error) {
	var p SubtaskParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.TaskID == "" || p.SubtaskID == "" {
		return nil, fmt.Errorf("taskId and subtaskId are required")
	}
	return s.taskService.ToggleSubItem(p.TaskID, p.SubtaskID)
}

type AnalyzeParams struct {
	ID string `json:"id"`
	// Text overrides the task title as the analysis input.
	Text string `json:"text,omitempty"`
}

func (s *MCPServer) handleAnalyze(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if s.analyzer == nil {
		return nil, ErrAnalysisUnavailable
	}

	var p AnalyzeParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, fmt.Errorf("id is required")
	}

	task, err := s.taskService.Get(p.ID)
	if err != nil {
		return nil, err
	}
	text := p.Text
	if strings.TrimSpace(text) == "" {
		text = task.Title
	}

	return s.outcome(s.analyzer.Analyze(ctx, text, task.ID, false), task.ID)
}

func (s *MCPServer) handleRegenerate(ctx context.Context) (interface{}, error) {
	if s.analyzer == nil {
		return nil, ErrAnalysisUnavailable
	}
	out := s.analyzer.Regenerate(ctx)
	if out.Dropped {
		return nil, fmt.Errorf("nothing to regenerate or %w", ErrAnalysisBusy)
	}
	return s.outcome(out, s.analyzer.State().LastAnalyzedTaskID)
}

func (s *MCPServer) outcome(out analysis.Outcome, taskID string) (interface{}, error) {
	if out.Dropped {
		return nil, ErrAnalysisBusy
	}

	var task *domain.Task
	if taskID != "" {
		var err error
		if task, err = s.taskService.Get(taskID); err != nil {
			s.logger.Debug("analyzed task not found for outcome", zap.String("task_id", taskID), zap.Error(err))
		}
	}
	return FormatOutcomeAsMarkdown(out, task), nil
}
