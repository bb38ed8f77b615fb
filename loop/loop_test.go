package loop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/config"
	"github.com/taskforge/engine/contextwindow"
	"github.com/taskforge/engine/llm"
	"github.com/taskforge/engine/tool"
)

// fakeProvider replays a canned sequence of Generate responses, one per
// call, so a test can script an exact multi-iteration conversation.
type fakeProvider struct {
	calls     [][]llm.Message // captured for assertions
	responses []fakeResponse
	i         int
}

type fakeResponse struct {
	content   string
	toolCalls []llm.ToolCall
	err       error
}

func (f *fakeProvider) Generate(messages []llm.Message, tools []llm.ToolDefinition) (string, []llm.ToolCall, int, error) {
	f.calls = append(f.calls, messages)
	if f.i >= len(f.responses) {
		return "(out of canned responses)", nil, 0, nil
	}
	r := f.responses[f.i]
	f.i++
	return r.content, r.toolCalls, 0, r.err
}

func (f *fakeProvider) GenerateStreaming(messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	return nil, nil
}
func (f *fakeProvider) GetModelName() string    { return "fake" }
func (f *fakeProvider) GetMaxTokens() int       { return 4096 }
func (f *fakeProvider) GetTemperature() float64 { return 0 }
func (f *fakeProvider) Close() error            { return nil }

// echoTool is a minimal Tool used to exercise the execute-then-continue path.
type echoTool struct{}

func (echoTool) GetName() string        { return "echo" }
func (echoTool) GetDescription() string { return "echoes back its input argument" }
func (echoTool) GetInfo() tool.ToolInfo {
	return tool.ToolInfo{Name: "echo", Description: "echoes back its input argument"}
}
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) (tool.ToolResult, error) {
	text, _ := args["text"].(string)
	return tool.ToolResult{Success: true, Content: "echo: " + text, ToolName: "echo"}, nil
}

func newTestLoop(t *testing.T, provider *fakeProvider, opts ...Option) (*Loop, *tool.Registry) {
	t.Helper()
	cfg := &config.AgentConfig{}
	cfg.SetDefaults()
	cfg.Reasoning.MaxIterations = 5

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(echoTool{}))
	require.NoError(t, registry.Register(tool.NewTodoTool()))

	history, err := contextwindow.NewConversationHistory("test-session", "you are a test agent")
	require.NoError(t, err)

	l := New(cfg, registry, provider, history, opts...)
	return l, registry
}

func TestRun_TerminalOnNoToolCalls(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{content: "all done"},
	}}
	l, _ := newTestLoop(t, provider)

	result, err := l.Run(context.Background(), "do the thing")
	require.NoError(t, err)
	assert.Equal(t, "all done", result)
	assert.Equal(t, 0, l.Iteration())
}

func TestRun_ExecutesToolCallThenTerminates(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{toolCalls: []llm.ToolCall{{ID: "call-1", Name: "echo", Arguments: map[string]interface{}{"text": "hi"}}}},
		{content: "finished after tool call"},
	}}
	l, _ := newTestLoop(t, provider)

	result, err := l.Run(context.Background(), "say hi")
	require.NoError(t, err)
	assert.Equal(t, "finished after tool call", result)
	assert.Equal(t, 1, l.Iteration())

	// Second Generate call should have seen the tool result in its messages.
	secondCallMessages := provider.calls[1]
	var sawToolMessage bool
	for _, m := range secondCallMessages {
		if m.Role == contextwindow.RoleTool && m.ToolCallID == "call-1" {
			sawToolMessage = true
			assert.Equal(t, "echo: hi", m.Content)
		}
	}
	assert.True(t, sawToolMessage, "expected the echo result to be appended as a tool message")
}

func TestRun_WrapUpWhenIterationBudgetExhausted(t *testing.T) {
	// Every "normal" Generate call keeps asking for another tool call, so the
	// loop only terminates by hitting its iteration budget; the final
	// response (index == maxIterations) is the forced wrap-up call.
	responses := []fakeResponse{}
	for i := 0; i < 2; i++ {
		responses = append(responses, fakeResponse{
			toolCalls: []llm.ToolCall{{ID: "call", Name: "echo", Arguments: map[string]interface{}{"text": "again"}}},
		})
	}
	responses = append(responses, fakeResponse{content: "wrap-up summary"})
	provider := &fakeProvider{responses: responses}

	l, _ := newTestLoop(t, provider)
	result, err := l.Run(context.Background(), "loop forever", 2)
	require.NoError(t, err)
	assert.Equal(t, "wrap-up summary", result)

	// The wrap-up call must have been made with no tools and must have
	// asked for a summary with no further tool calls.
	lastCallMessages := provider.calls[len(provider.calls)-1]
	lastMsg := lastCallMessages[len(lastCallMessages)-1]
	assert.Contains(t, lastMsg.Content, "iteration budget")
}

func TestRun_WrapUpFallsBackToTaskListOnLLMError(t *testing.T) {
	responses := []fakeResponse{
		{toolCalls: []llm.ToolCall{{ID: "call", Name: "echo", Arguments: map[string]interface{}{"text": "x"}}}},
		{err: assert.AnError}, // the forced wrap-up call itself fails
	}
	provider := &fakeProvider{responses: responses}
	l, registry := newTestLoop(t, provider)

	todoTool, ok := mustGetTodo(t, registry)
	require.True(t, ok)
	_, err := todoTool.Execute(context.Background(), map[string]interface{}{
		"action": "write",
		"items": []interface{}{
			map[string]interface{}{"content": "finish the thing", "status": "in_progress"},
		},
	})
	require.NoError(t, err)

	result, err := l.Run(context.Background(), "task", 1)
	require.NoError(t, err)
	assert.Contains(t, result, "finish the thing")
}

func mustGetTodo(t *testing.T, r *tool.Registry) (*tool.TodoTool, bool) {
	t.Helper()
	tt, ok := r.Get("todo_write")
	if !ok {
		return nil, false
	}
	todo, ok := tt.(*tool.TodoTool)
	return todo, ok
}

func TestRun_CancelledBeforeFirstIteration(t *testing.T) {
	provider := &fakeProvider{}
	l, _ := newTestLoop(t, provider)
	l.Cancel()

	result, err := l.Run(context.Background(), "do something")
	require.NoError(t, err)
	assert.Equal(t, "(Stopped by user)", result)
	assert.Empty(t, provider.calls, "LLM should never be called once cancelled")
}

func TestRun_PauseMenuStop(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{content: "should not reach here"}}}
	l, _ := newTestLoop(t, provider, WithPauseMenu(func(ctx context.Context) (PauseDecision, string, error) {
		return PauseStop, "", nil
	}))
	l.Pause()

	result, err := l.Run(context.Background(), "do something")
	require.NoError(t, err)
	assert.Equal(t, "(Stopped by user)", result)
}

func TestRun_PauseMenuFeedbackInjectsUserMessage(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{content: "ok, adjusted"}}}
	l, _ := newTestLoop(t, provider, WithPauseMenu(func(ctx context.Context) (PauseDecision, string, error) {
		return PauseFeedback, "actually use a different file", nil
	}))
	l.Pause()

	result, err := l.Run(context.Background(), "do something")
	require.NoError(t, err)
	assert.Equal(t, "ok, adjusted", result)

	var sawFeedback bool
	for _, m := range provider.calls[0] {
		if m.Content == "actually use a different file" {
			sawFeedback = true
		}
	}
	assert.True(t, sawFeedback)
}

func TestRun_AskUserRoundTrip(t *testing.T) {
	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(tool.NewAskUserTool(nil))) // nil => marks awaiting_user_input

	provider := &fakeProvider{responses: []fakeResponse{
		{toolCalls: []llm.ToolCall{{ID: "ask-1", Name: "ask_user", Arguments: map[string]interface{}{"question": "which env?"}}}},
		{content: "used staging"},
	}}

	cfg := &config.AgentConfig{}
	cfg.SetDefaults()
	history, err := contextwindow.NewConversationHistory("sess", "sys")
	require.NoError(t, err)

	l := New(cfg, registry, provider, history, WithAskUser(func(ctx context.Context, question string) (string, error) {
		assert.Equal(t, "which env?", question)
		return "staging", nil
	}))

	result, err := l.Run(context.Background(), "pick an environment")
	require.NoError(t, err)
	assert.Equal(t, "used staging", result)

	secondCallMessages := provider.calls[1]
	var resolved bool
	for _, m := range secondCallMessages {
		if m.Role == contextwindow.RoleTool && m.ToolCallID == "ask-1" {
			resolved = true
			assert.Equal(t, "staging", m.Content)
		}
	}
	assert.True(t, resolved)
}

func TestRun_PreTaskSkillInjection(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{content: "done"}}}
	skills := map[string]config.SkillTrigger{
		"deploy": {Pattern: `(?i)deploy`, Workflow: "Follow the standard deploy checklist."},
	}
	cfg := &config.AgentConfig{}
	cfg.SetDefaults()
	registry := tool.NewRegistry()
	history, err := contextwindow.NewConversationHistory("sess", "sys")
	require.NoError(t, err)

	l := New(cfg, registry, provider, history, WithSkills(skills))
	_, err = l.Run(context.Background(), "please deploy the service")
	require.NoError(t, err)

	all := history.AllMessages()
	assert.Contains(t, all[1].Content, "deploy checklist")
}

func TestSpiralTracker_Escalates1_2_3(t *testing.T) {
	tr := newSpiralTracker()

	a1 := tr.Observe(`FileNotFoundError: no such file 'input.csv'`)
	assert.False(t, a1.AskUser)
	assert.Contains(t, a1.Message, "FILE_NOT_FOUND")

	a2 := tr.Observe(`FileNotFoundError: no such file 'other.csv' on line 42, see /tmp/run.log`)
	assert.False(t, a2.AskUser)
	assert.Contains(t, a2.Message, "debug")
	assert.Contains(t, a2.Message, "/tmp/run.log")

	a3 := tr.Observe(`FileNotFoundError: no such file 'third.csv'`)
	assert.True(t, a3.AskUser)
	assert.True(t, a3.ResetCounter)
}

func TestClassifyError_NormalizesAcrossLiteralsAndLineNumbers(t *testing.T) {
	sigA := classifyError(`SyntaxError: unexpected token 'foo' on line 10`)
	sigB := classifyError(`SyntaxError: unexpected token "bar" on line 99`)
	assert.Equal(t, sigA, sigB)
	assert.Equal(t, "SYNTAX_ERROR", sigA)
}
