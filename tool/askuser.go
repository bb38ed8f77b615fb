package tool

import (
	"context"
	"fmt"
	"time"
)

// ============================================================================
// ASK-USER - the atomic ask-user tool (C5 §4.5.3 round-trip)
// ============================================================================

// AwaitingUserInputKey is the ToolResult.Metadata key the agent loop (C5
// §4.5.3) watches for: when set true, the loop — not the tool — prompts the
// human and replaces this result's content with their literal answer before
// appending it as the tool message for this call. ask, if non-nil, is used
// as a fallback by callers that invoke this tool outside the loop's round
// trip (e.g. sub-executors running without an interactive terminal attached).
const AwaitingUserInputKey = "awaiting_user_input"

// AskUserTool asks a clarifying question and waits for a human's reply. It
// never resolves the question itself — it only flags the result as awaiting
// user input — unless a fallback AskUserFunc is supplied, in which case it
// resolves synchronously for callers with no surrounding agent loop.
type AskUserTool struct {
	ask AskUserFunc
}

func NewAskUserTool(ask AskUserFunc) *AskUserTool {
	return &AskUserTool{ask: ask}
}

func (t *AskUserTool) GetName() string        { return "ask_user" }
func (t *AskUserTool) GetDescription() string { return t.GetInfo().Description }

func (t *AskUserTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "ask_user",
		Description: "Ask the human operator a clarifying question and wait for their reply",
		Parameters: []ToolParameter{
			{Name: "question", Type: "string", Description: "The question to ask", Required: true},
		},
		ServerURL: "local",
	}
}

func (t *AskUserTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	question, _ := args["question"].(string)
	if question == "" {
		return ToolResult{Success: false, Error: "question is required"}, nil
	}

	if t.ask == nil {
		// No surrounding agent loop wired a terminal — leave the result
		// marked so whatever does own the round trip can resolve it.
		return ToolResult{
			Success:       true,
			Content:       question,
			ToolName:      "ask_user",
			ExecutionTime: time.Since(start),
			Metadata: map[string]interface{}{
				"question":          question,
				AwaitingUserInputKey: true,
			},
		}, nil
	}

	answer, err := t.ask(ctx, question)
	if err != nil {
		return ToolResult{Success: false, Error: fmt.Sprintf("ask_user failed: %v", err), ExecutionTime: time.Since(start)}, nil
	}

	return ToolResult{
		Success:       true,
		Content:       answer,
		ToolName:      "ask_user",
		ExecutionTime: time.Since(start),
		Metadata:      map[string]interface{}{"question": question},
	}, nil
}
