package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ============================================================================
// TODO - the atomic todo tool
// ============================================================================

// TodoItem is one entry on an agent's running task list.
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status"` // pending, in_progress, completed
}

// TodoTool lets an agent externalize its own plan so it survives context
// compression and is visible to a human watching the run. State is held
// per-tool-instance; a registry built by Registry.Filtered shares its
// parent's TodoTool instance rather than getting a new one.
type TodoTool struct {
	mu    sync.Mutex
	items []TodoItem
}

func NewTodoTool() *TodoTool { return &TodoTool{} }

func (t *TodoTool) GetName() string        { return "todo_write" }
func (t *TodoTool) GetDescription() string { return t.GetInfo().Description }

func (t *TodoTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "todo_write",
		Description: "Replace the current task list with a new one, or read it back with action=read",
		Parameters: []ToolParameter{
			{Name: "action", Type: "string", Description: "write | read (default write)", Required: false, Enum: []string{"write", "read"}},
			{Name: "items", Type: "array", Description: "Full replacement list of {content, status} items (action=write)", Required: false},
		},
		ServerURL: "local",
	}
}

func (t *TodoTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	action, _ := args["action"].(string)
	if action == "" {
		action = "write"
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if action == "read" {
		return ToolResult{Success: true, Content: t.render(), Output: t.items, ToolName: "todo_write", ExecutionTime: time.Since(start)}, nil
	}

	raw, ok := args["items"].([]interface{})
	if !ok {
		return ToolResult{Success: false, Error: "items must be an array of {content, status}"}, nil
	}
	items := make([]TodoItem, 0, len(raw))
	for _, r := range raw {
		m, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		status, _ := m["status"].(string)
		if status == "" {
			status = "pending"
		}
		if content == "" {
			continue
		}
		items = append(items, TodoItem{Content: content, Status: status})
	}
	t.items = items

	return ToolResult{
		Success:       true,
		Content:       t.render(),
		ToolName:      "todo_write",
		ExecutionTime: time.Since(start),
		Metadata:      map[string]interface{}{"count": len(items)},
	}, nil
}

// Items returns a defensive copy of the current task list, for callers (the
// agent loop's iteration-limit warning and wrap-up fallback) that need to
// inspect it without going through the tool-call interface.
func (t *TodoTool) Items() []TodoItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TodoItem, len(t.items))
	copy(out, t.items)
	return out
}

func (t *TodoTool) render() string {
	if len(t.items) == 0 {
		return "(empty)"
	}
	var sb strings.Builder
	for _, item := range t.items {
		mark := " "
		switch item.Status {
		case "completed":
			mark = "x"
		case "in_progress":
			mark = "~"
		}
		fmt.Fprintf(&sb, "[%s] %s\n", mark, item.Content)
	}
	return sb.String()
}
