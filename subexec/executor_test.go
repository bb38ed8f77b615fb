package subexec

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/config"
	"github.com/taskforge/engine/llm"
	"github.com/taskforge/engine/tool"
)

// fakeProvider returns a fixed terminal response immediately, optionally
// recording every call's message count for assertions.
type fakeProvider struct {
	mu      sync.Mutex
	content string
	calls   int
}

func (f *fakeProvider) Generate(messages []llm.Message, tools []llm.ToolDefinition) (string, []llm.ToolCall, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return fmt.Sprintf("%s (msgs=%d)", f.content, len(messages)), nil, 1, nil
}
func (f *fakeProvider) GenerateStreaming(messages []llm.Message, tools []llm.ToolDefinition) (<-chan llm.StreamChunk, error) {
	return nil, nil
}
func (f *fakeProvider) GetModelName() string    { return "fake" }
func (f *fakeProvider) GetMaxTokens() int       { return 4096 }
func (f *fakeProvider) GetTemperature() float64 { return 0 }
func (f *fakeProvider) Close() error            { return nil }

func newTestPool(t *testing.T, provider llm.LLMProvider, profiles map[string]config.ExecutorProfile) *Pool {
	t.Helper()
	agentCfg := &config.AgentConfig{}
	agentCfg.SetDefaults()

	registry := tool.NewRegistry()
	require.NoError(t, registry.Register(echoTool{}))

	llms := llm.NewLLMRegistry()
	require.NoError(t, llms.RegisterLLM("default", provider))

	return New(agentCfg, profiles, registry, llms, nil)
}

type echoTool struct{}

func (echoTool) GetName() string        { return "echo" }
func (echoTool) GetDescription() string { return "echo" }
func (echoTool) GetInfo() tool.ToolInfo { return tool.ToolInfo{Name: "echo", Description: "echo"} }
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) (tool.ToolResult, error) {
	return tool.ToolResult{Success: true, Content: "ok", ToolName: "echo"}, nil
}

func testProfiles() map[string]config.ExecutorProfile {
	p := map[string]config.ExecutorProfile{
		"explore": {Name: "explore", MaxIterations: 3, AllowedTools: []string{"echo"}},
	}
	for name, profile := range p {
		profile.SetDefaults()
		p[name] = profile
	}
	return p
}

func TestSpawn_RunsProfileToCompletion(t *testing.T) {
	provider := &fakeProvider{content: "done exploring"}
	pool := newTestPool(t, provider, testProfiles())

	result := pool.Spawn(context.Background(), "explore", "look around the repo")
	assert.True(t, result.Success)
	assert.Contains(t, result.Output, "done exploring")
	assert.Equal(t, "explore", result.Profile)
	assert.NotEmpty(t, result.SessionID)
	assert.Equal(t, 0, result.Iterations, "a terminal first response should not count as an iteration")

	history := pool.History()
	require.Len(t, history, 1)
	assert.Equal(t, result.SessionID, history[0].SessionID)
}

func TestSpawn_UnknownProfileFails(t *testing.T) {
	pool := newTestPool(t, &fakeProvider{}, testProfiles())
	result := pool.Spawn(context.Background(), "nonexistent", "task")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unknown executor profile")
}

func TestSpawnParallel_BoundedAndCollectsAll(t *testing.T) {
	provider := &fakeProvider{content: "ok"}
	pool := newTestPool(t, provider, testProfiles()).WithParallelism(2)

	specs := make([]Spec, 6)
	for i := range specs {
		specs[i] = Spec{Profile: "explore", Task: fmt.Sprintf("task-%d", i)}
	}

	results := pool.SpawnParallel(context.Background(), specs)
	require.Len(t, results, 6)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.Equal(t, 6, provider.calls)
}

func TestSpawnParallel_FailuresDoNotPropagate(t *testing.T) {
	pool := newTestPool(t, &fakeProvider{}, testProfiles())
	specs := []Spec{{Profile: "explore", Task: "ok"}, {Profile: "missing", Task: "bad"}}

	results := pool.SpawnParallel(context.Background(), specs)
	require.Len(t, results, 2)

	var sawFailure bool
	for _, r := range results {
		if !r.Success {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure)
}

func TestResume_ReusesSessionHistory(t *testing.T) {
	provider := &fakeProvider{content: "first"}
	pool := newTestPool(t, provider, testProfiles())

	first := pool.Spawn(context.Background(), "explore", "start the task")
	require.True(t, first.Success)

	provider.content = "second"
	second := pool.Resume(context.Background(), first.SessionID, "continue the task")
	require.True(t, second.Success)

	// The resumed call's message count should be larger than the first's,
	// proving the same ConversationHistory carried over.
	assert.Contains(t, second.Output, "second")
	assert.Greater(t, extractMsgCount(t, second.Output), extractMsgCount(t, first.Output))
}

func TestResume_UnknownSessionFails(t *testing.T) {
	pool := newTestPool(t, &fakeProvider{}, testProfiles())
	result := pool.Resume(context.Background(), "nonexistent-session", "continue")
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no such session")
}

func extractMsgCount(t *testing.T, output string) int {
	t.Helper()
	idx := strings.Index(output, "msgs=")
	require.GreaterOrEqual(t, idx, 0)
	var n int
	_, err := fmt.Sscanf(output[idx+len("msgs="):], "%d)", &n)
	require.NoError(t, err)
	return n
}
