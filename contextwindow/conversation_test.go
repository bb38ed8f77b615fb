package contextwindow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/llm"
)

func newHistory(t *testing.T) *ConversationHistory {
	t.Helper()
	ch, err := NewConversationHistory("sess-1", "you are a test agent")
	require.NoError(t, err)
	return ch
}

func TestAllMessages_SystemPromptFirst(t *testing.T) {
	ch := newHistory(t)
	ch.AddUserMessage("hello")

	all := ch.AllMessages()
	require.Len(t, all, 2)
	assert.Equal(t, RoleSystem, all[0].Role)
	assert.Equal(t, RoleUser, all[1].Role)
}

func TestValidateAndRepair_RemovesOrphanedToolMessage(t *testing.T) {
	ch := newHistory(t)
	ch.AddUserMessage("do something")
	ch.AddToolMessage("call-that-never-happened", "some result")

	report := ch.ValidateAndRepair()
	assert.Equal(t, 1, report.OrphanedToolMessagesRemoved)
	assert.Equal(t, 0, report.SyntheticToolMessagesAdded)
	assert.Len(t, ch.Messages, 1)
}

func TestValidateAndRepair_InsertsSyntheticResultForUnansweredCall(t *testing.T) {
	ch := newHistory(t)
	ch.AddUserMessage("run the tests")
	ch.AddAssistantMessage("", []llm.ToolCall{{ID: "call-1", Name: "shell_exec"}})
	// no tool message appended for call-1

	report := ch.ValidateAndRepair()
	assert.Equal(t, 1, report.SyntheticToolMessagesAdded)

	last := ch.Messages[len(ch.Messages)-1]
	assert.Equal(t, RoleTool, last.Role)
	assert.Equal(t, "call-1", last.ToolCallID)
	assert.Contains(t, last.Content, "repaired")
}

func TestValidateAndRepair_LeavesPairedCallsAlone(t *testing.T) {
	ch := newHistory(t)
	ch.AddUserMessage("run the tests")
	ch.AddAssistantMessage("", []llm.ToolCall{{ID: "call-1", Name: "shell_exec"}})
	ch.AddToolMessage("call-1", "ok")

	report := ch.ValidateAndRepair()
	assert.False(t, report.Dirty())
	assert.Len(t, ch.Messages, 3)
}

func TestCompressIfNeeded_NoOpBelowThreshold(t *testing.T) {
	ch := newHistory(t)
	for i := 0; i < 10; i++ {
		ch.AddUserMessage("msg")
	}
	changed, err := ch.CompressIfNeeded(100, func(messages []llm.Message) (string, error) {
		t.Fatal("summarizer should not run below threshold")
		return "", nil
	})
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCompressIfNeeded_CollapsesMiddle(t *testing.T) {
	ch := newHistory(t)
	for i := 0; i < 50; i++ {
		ch.AddUserMessage("msg")
	}

	changed, err := ch.CompressIfNeeded(30, func(messages []llm.Message) (string, error) {
		return "summary of the middle", nil
	})
	require.NoError(t, err)
	require.True(t, changed)

	// KHead(5) verbatim + 1 synthesized summary + KTail(20) verbatim
	assert.Len(t, ch.Messages, KHead+1+KTail)
	assert.Equal(t, "summary of the middle", ch.Messages[KHead].Content)
}

func TestCompressIfNeeded_RespectsSafeCutPoints(t *testing.T) {
	ch := newHistory(t)
	for i := 0; i < 20; i++ {
		ch.AddUserMessage("filler")
	}
	// Straddle the ideal tail boundary (len-KTail) with an unanswered tool call
	// so a naive cut would orphan the result.
	ch.AddAssistantMessage("", []llm.ToolCall{{ID: "straddle", Name: "file_op"}})
	for i := 0; i < 5; i++ {
		ch.AddUserMessage("filler")
	}
	ch.AddToolMessage("straddle", "result")
	for i := 0; i < 15; i++ {
		ch.AddUserMessage("filler")
	}

	_, err := ch.CompressIfNeeded(30, func(messages []llm.Message) (string, error) {
		return "summary", nil
	})
	require.NoError(t, err)

	report := ch.ValidateAndRepair()
	assert.False(t, report.Dirty(), "compression must not split a tool call from its result")
}

func TestTokenEstimate_UsesCharsOverFour(t *testing.T) {
	ch, err := NewConversationHistory("sess-2", "")
	require.NoError(t, err)
	ch.AddUserMessage("12345678") // 8 chars -> 2 tokens
	assert.Equal(t, 2, ch.TokenEstimate())
}
