package mcp

// Tool maps an MCP tool name onto a server command.
type Tool struct {
	Name        string
	Command     string
	Description string
	InputSchema map[string]interface{}
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func prop(kind, description string) map[string]interface{} {
	return map[string]interface{}{"type": kind, "description": description}
}

var idSchema = objectSchema(map[string]interface{}{"id": prop("string", "Task ID")}, "id")

var tools = []Tool{
	{
		Name:        "donelist_task_create",
		Command:     "donelist.task.create",
		Description: "Create a task, optionally assigned to a day or marked everyday",
		InputSchema: objectSchema(map[string]interface{}{
			"title":        prop("string", "Task title"),
			"assignedDate": prop("string", "Day the task belongs to (YYYY-MM-DD)"),
			"everyday":     prop("boolean", "Repeat the task every day"),
		}, "title"),
	},
	{
		Name:        "donelist_task_list",
		Command:     "donelist.task.list",
		Description: "List tasks, newest first",
		InputSchema: objectSchema(map[string]interface{}{
			"filter":   map[string]interface{}{"type": "string", "enum": []string{"all", "active", "completed"}},
			"date":     prop("string", "Only tasks assigned to this day (YYYY-MM-DD)"),
			"everyday": prop("boolean", "Only everyday (true) or one-off (false) tasks"),
			"format":   map[string]interface{}{"type": "string", "enum": []string{"markdown", "json"}},
		}),
	},
	{
		Name:        "donelist_task_search",
		Command:     "donelist.task.search",
		Description: "Find tasks whose title, sub-tasks or last analysis mention a query",
		InputSchema: objectSchema(map[string]interface{}{
			"query":  prop("string", "Case-insensitive text to look for"),
			"filter": map[string]interface{}{"type": "string", "enum": []string{"all", "active", "completed"}},
			"limit":  prop("integer", "Maximum results (default 10)"),
			"offset": prop("integer", "Results to skip"),
			"format": map[string]interface{}{"type": "string", "enum": []string{"markdown", "json"}},
		}, "query"),
	},
	{
		Name:        "donelist_task_get",
		Command:     "donelist.task.get",
		Description: "Show a task with its sub-tasks and last AI analysis",
		InputSchema: idSchema,
	},
	{
		Name:        "donelist_task_toggle",
		Command:     "donelist.task.toggle",
		Description: "Mark a task done or not done",
		InputSchema: idSchema,
	},
	{
		Name:        "donelist_task_everyday",
		Command:     "donelist.task.everyday",
		Description: "Toggle whether a task repeats every day",
		InputSchema: idSchema,
	},
	{
		Name:        "donelist_task_delete",
		Command:     "donelist.task.delete",
		Description: "Delete a task",
		InputSchema: idSchema,
	},
	{
		Name:        "donelist_task_clear_completed",
		Command:     "donelist.task.clear_completed",
		Description: "Delete every completed task",
		InputSchema: objectSchema(map[string]interface{}{}),
	},
	{
		Name:        "donelist_subtask_toggle",
		Command:     "donelist.subtask.toggle",
		Description: "Toggle a sub-task; completing the last one completes the task",
		InputSchema: objectSchema(map[string]interface{}{
			"taskId":    prop("string", "Parent task ID"),
			"subtaskId": prop("string", "Sub-task ID"),
		}, "taskId", "subtaskId"),
	},
	{
		Name:        "donelist_analyze",
		Command:     "donelist.analyze",
		Description: "Break a task into up to four AI-suggested sub-tasks",
		InputSchema: objectSchema(map[string]interface{}{
			"id":   prop("string", "Task ID"),
			"text": prop("string", "Text to analyze instead of the task title"),
		}, "id"),
	},
	{
		Name:        "donelist_regenerate",
		Command:     "donelist.regenerate",
		Description: "Replace the last analyzed task's sub-tasks with a better version",
		InputSchema: objectSchema(map[string]interface{}{}),
	},
}

func findTool(name string) (Tool, bool) {
	for _, tool := range tools {
		if tool.Name == name {
			return tool, true
		}
	}
	return Tool{}, false
}
