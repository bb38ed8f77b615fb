package loop

import (
	"context"
	"fmt"
	"strings"

	"github.com/taskforge/engine/tool"
)

// ============================================================================
// WRAP-UP (§4.5.2) - forced terminal summary when the iteration budget runs out
// ============================================================================

const wrapUpPrompt = "The iteration budget has been reached. Provide a terminal summary of what was " +
	"accomplished and what remains outstanding. Do not call any tools."

func (l *Loop) wrapUp(ctx context.Context) (string, error) {
	_ = ctx // provider.Generate has no ctx parameter today; kept for a future streaming/cancellable client.

	l.history.AddUserMessage(wrapUpPrompt)
	content, _, tokens, err := l.provider.Generate(l.history.AllMessages(), nil)
	l.tokensUsed += tokens
	if err != nil {
		l.logger.Warn("wrap-up LLM call failed, synthesizing from task list", "error", err)
		return l.synthesizeWrapUp(), nil
	}
	l.history.AddAssistantMessage(content, nil)
	return content, nil
}

// synthesizeWrapUp builds a summary straight from the todo_write tool's live
// task list when the wrap-up LLM call itself fails.
func (l *Loop) synthesizeWrapUp() string {
	t, ok := l.registry.Get("todo_write")
	if !ok {
		return "(iteration budget reached; no task list available to summarize)"
	}
	todo, ok := t.(*tool.TodoTool)
	if !ok {
		return "(iteration budget reached; no task list available to summarize)"
	}

	items := todo.Items()
	if len(items) == 0 {
		return "(iteration budget reached; task list is empty)"
	}

	var sb strings.Builder
	sb.WriteString("Iteration budget reached. Task list at cutoff:\n")
	for _, item := range items {
		fmt.Fprintf(&sb, "- [%s] %s\n", item.Status, item.Content)
	}
	return sb.String()
}
