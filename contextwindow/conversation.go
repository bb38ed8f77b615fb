package contextwindow

import (
	"fmt"
	"sync"
	"time"

	"github.com/taskforge/engine/llm"
	"github.com/taskforge/engine/utils"
)

// ============================================================================
// CONTEXT WINDOW (C3) - ordered message log with structural invariants
// ============================================================================
//
// ConversationHistory is the state spine of one Agent Loop instance: an
// append-only log of llm.Message turns plus the M1 repair and compression
// machinery spec'd for C3. Messages are appended, never mutated in place,
// except by validate_and_repair which may remove or insert entries.

const (
	// RoleUser, RoleAssistant, RoleSystem, RoleTool are the four message roles
	// the window understands; RoleTool carries a ToolCallID answering a prior
	// assistant tool call.
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"

	// DefaultCompressThreshold is the soft message-count trigger for
	// compress_if_needed.
	DefaultCompressThreshold = 100

	// KHead and KTail bound the head/tail kept verbatim across a compression cut.
	KHead = 5
	KTail = 20

	// DefaultTokenBudget is the token_estimate() ceiling past which the agent
	// loop calls compress_if_needed (spec §4.5 step 3).
	DefaultTokenBudget = 120_000

	repairedToolMessage = "Tool execution result unavailable — context was repaired"
)

// ConversationError reports a structural problem in a conversation operation.
type ConversationError struct {
	SessionID string
	Operation string
	Message   string
	Err       error
}

func (e *ConversationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.SessionID, e.Operation, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.SessionID, e.Operation, e.Message)
}

func (e *ConversationError) Unwrap() error { return e.Err }

func newConversationError(sessionID, op, msg string) *ConversationError {
	return &ConversationError{SessionID: sessionID, Operation: op, Message: msg}
}

// RepairReport describes what validate_and_repair changed, for logging.
type RepairReport struct {
	OrphanedToolMessagesRemoved int
	SyntheticToolMessagesAdded  int
}

func (r RepairReport) Dirty() bool {
	return r.OrphanedToolMessagesRemoved > 0 || r.SyntheticToolMessagesAdded > 0
}

// ConversationHistory holds one session's message log plus its system prompt.
type ConversationHistory struct {
	mu sync.RWMutex

	SessionID    string
	SystemPrompt string
	Messages     []llm.Message
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewConversationHistory creates an empty conversation history for a session.
func NewConversationHistory(sessionID, systemPrompt string) (*ConversationHistory, error) {
	if sessionID == "" {
		return nil, newConversationError("", "NewConversationHistory", "session ID is required")
	}
	now := time.Now()
	return &ConversationHistory{
		SessionID:    sessionID,
		SystemPrompt: systemPrompt,
		Messages:     make([]llm.Message, 0),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ============================================================================
// APPEND
// ============================================================================

// AddUserMessage appends a plain user turn.
func (ch *ConversationHistory) AddUserMessage(content string) {
	ch.append(llm.Message{Role: RoleUser, Content: content})
}

// AddAssistantMessage appends an assistant turn, including any tool calls it
// requested — their ids must be preserved so the matching tool messages can
// be paired against them (spec §4.5 step 6).
func (ch *ConversationHistory) AddAssistantMessage(content string, toolCalls []llm.ToolCall) {
	ch.append(llm.Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls})
}

// AddToolMessage appends the result of one tool call, addressed by call id.
func (ch *ConversationHistory) AddToolMessage(toolCallID, content string) {
	ch.append(llm.Message{Role: RoleTool, Content: content, ToolCallID: toolCallID})
}

func (ch *ConversationHistory) append(msg llm.Message) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.Messages = append(ch.Messages, msg)
	ch.UpdatedAt = time.Now()
}

// ============================================================================
// ITERATION
// ============================================================================

// AllMessages returns the full message list with the system prompt first,
// as a defensive copy.
func (ch *ConversationHistory) AllMessages() []llm.Message {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	out := make([]llm.Message, 0, len(ch.Messages)+1)
	if ch.SystemPrompt != "" {
		out = append(out, llm.Message{Role: RoleSystem, Content: ch.SystemPrompt})
	}
	out = append(out, ch.Messages...)
	return out
}

// MessageCount returns the number of non-system messages.
func (ch *ConversationHistory) MessageCount() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.Messages)
}

// TokenEstimate is the cheap chars/4 estimate over the full conversation
// (system prompt included), used only to decide when to compress — never
// for billing (spec §4.3). Per-message text is run through
// utils.EstimateTokens and summed rather than concatenated; because each
// piece is rounded down on its own, the sum can come out slightly below
// total_chars/4.
func (ch *ConversationHistory) TokenEstimate() int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()

	total := utils.EstimateTokens(ch.SystemPrompt)
	for _, m := range ch.Messages {
		total += utils.EstimateTokens(m.Content)
		for _, tc := range m.ToolCalls {
			total += utils.EstimateTokens(tc.Name) + utils.EstimateTokens(tc.RawArgs)
		}
	}
	return total
}

// ============================================================================
// M1 REPAIR
// ============================================================================

// ValidateAndRepair enforces M1 (every assistant tool call is answered by
// exactly one tool message, and every tool message answers an open call) with
// a single forward sweep, per spec §4.3.
func (ch *ConversationHistory) ValidateAndRepair() RepairReport {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	var report RepairReport

	// openIndex maps a tool-call id to the index, in the rebuilt slice, of the
	// assistant message that issued it, until it's been answered.
	type pending struct {
		assistantIdx int
		answered     bool
	}
	open := make(map[string]*pending)

	rebuilt := make([]llm.Message, 0, len(ch.Messages))
	for _, msg := range ch.Messages {
		switch msg.Role {
		case RoleTool:
			p, ok := open[msg.ToolCallID]
			if !ok || p.answered {
				// No open call for this id (never issued, or already answered) — drop it.
				report.OrphanedToolMessagesRemoved++
				continue
			}
			p.answered = true
			rebuilt = append(rebuilt, msg)

		case RoleAssistant:
			rebuilt = append(rebuilt, msg)
			idx := len(rebuilt) - 1
			for _, tc := range msg.ToolCalls {
				open[tc.ID] = &pending{assistantIdx: idx}
			}

		default:
			rebuilt = append(rebuilt, msg)
		}
	}

	// Any call still open at end of sweep gets a synthetic tool message
	// inserted immediately after its assistant turn (and after any real tool
	// results already present for that same turn).
	if len(open) > 0 {
		// Group unanswered ids by the assistant message that issued them,
		// preserving call order within that message.
		byAssistant := make(map[int][]string)
		for id, p := range open {
			if !p.answered {
				byAssistant[p.assistantIdx] = append(byAssistant[p.assistantIdx], id)
			}
		}

		var repaired []llm.Message
		for i, msg := range rebuilt {
			repaired = append(repaired, msg)
			if ids, ok := byAssistant[i]; ok {
				// Place synthetic results after this assistant message and
				// after any of its real tool results that immediately follow.
				insertAt := len(repaired)
				for insertAt < len(rebuilt) && rebuilt[insertAt].Role == RoleTool {
					repaired = append(repaired, rebuilt[insertAt])
					insertAt++
				}
				for _, id := range orderToolCallIDs(msg.ToolCalls, ids) {
					repaired = append(repaired, llm.Message{
						Role:       RoleTool,
						Content:    repairedToolMessage,
						ToolCallID: id,
					})
					report.SyntheticToolMessagesAdded++
				}
			}
		}
		rebuilt = repaired
	}

	ch.Messages = rebuilt
	if report.Dirty() {
		ch.UpdatedAt = time.Now()
	}
	return report
}

// orderToolCallIDs returns the subset of want present in calls, in calls' order.
func orderToolCallIDs(calls []llm.ToolCall, want []string) []string {
	wantSet := make(map[string]bool, len(want))
	for _, id := range want {
		wantSet[id] = true
	}
	var ordered []string
	for _, tc := range calls {
		if wantSet[tc.ID] {
			ordered = append(ordered, tc.ID)
		}
	}
	return ordered
}

// ============================================================================
// COMPRESSION
// ============================================================================

// Summarizer reduces a slice of messages to a single descriptive string.
type Summarizer func(messages []llm.Message) (string, error)

// CompressIfNeeded collapses the middle of the conversation into one
// synthesized assistant message once the message count exceeds threshold
// (default DefaultCompressThreshold), per spec §4.3. Returns true if a
// compression happened.
func (ch *ConversationHistory) CompressIfNeeded(threshold int, summarize Summarizer) (bool, error) {
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if len(ch.Messages) <= threshold {
		return false, nil
	}

	idealHeadEnd := KHead
	idealTailStart := len(ch.Messages) - KTail
	if idealTailStart <= idealHeadEnd {
		return false, nil // not enough messages to carve a safe middle
	}

	cutStart, cutEnd, ok := findSafeCutPoints(ch.Messages, idealHeadEnd, idealTailStart)
	if !ok {
		return false, nil
	}

	middle := ch.Messages[cutStart:cutEnd]
	if len(middle) == 0 {
		return false, nil
	}

	summary, err := summarize(middle)
	if err != nil {
		return false, fmt.Errorf("contextwindow: summarize: %w", err)
	}

	compacted := make([]llm.Message, 0, cutStart+1+(len(ch.Messages)-cutEnd))
	compacted = append(compacted, ch.Messages[:cutStart]...)
	compacted = append(compacted, llm.Message{Role: RoleAssistant, Content: summary})
	compacted = append(compacted, ch.Messages[cutEnd:]...)

	ch.Messages = compacted
	ch.UpdatedAt = time.Now()
	return true, nil
}

// findSafeCutPoints searches outward from the ideal [head, tail) boundary for
// a pair of indices that are each a safe cut point: neither index may fall
// between an assistant tool call and its tool result (spec §4.3).
func findSafeCutPoints(messages []llm.Message, idealStart, idealEnd int) (int, int, bool) {
	start, ok := nearestSafeCutPoint(messages, idealStart)
	if !ok {
		return 0, 0, false
	}
	end, ok := nearestSafeCutPoint(messages, idealEnd)
	if !ok || end <= start {
		return 0, 0, false
	}
	return start, end, true
}

// nearestSafeCutPoint searches outward (alternating forward/backward) from
// ideal for the closest index that is safe.
func nearestSafeCutPoint(messages []llm.Message, ideal int) (int, bool) {
	if isSafeCutPoint(messages, ideal) {
		return ideal, true
	}
	for delta := 1; delta < len(messages); delta++ {
		if fwd := ideal + delta; fwd <= len(messages) && isSafeCutPoint(messages, fwd) {
			return fwd, true
		}
		if back := ideal - delta; back >= 0 && isSafeCutPoint(messages, back) {
			return back, true
		}
	}
	return 0, false
}

// isSafeCutPoint reports whether index i is safe: every assistant tool call
// at a position < i has all of its tool results also at positions < i.
func isSafeCutPoint(messages []llm.Message, i int) bool {
	if i < 0 || i > len(messages) {
		return false
	}
	openBefore := make(map[string]bool)
	for idx := 0; idx < i; idx++ {
		msg := messages[idx]
		if msg.Role == RoleAssistant {
			for _, tc := range msg.ToolCalls {
				openBefore[tc.ID] = true
			}
		}
		if msg.Role == RoleTool {
			delete(openBefore, msg.ToolCallID)
		}
	}
	// Any call opened before i that a later (>= i) tool message answers
	// means this cut would split a call from its result.
	for idx := i; idx < len(messages); idx++ {
		if messages[idx].Role == RoleTool && openBefore[messages[idx].ToolCallID] {
			return false
		}
	}
	return true
}

// Clear discards all messages, keeping the system prompt.
func (ch *ConversationHistory) Clear() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.Messages = make([]llm.Message, 0)
	ch.UpdatedAt = time.Now()
}
