package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/taskforge/engine/contextwindow"
	"github.com/taskforge/engine/llm"
	"github.com/taskforge/engine/loop"
	"github.com/taskforge/engine/orchestrator"
	"github.com/taskforge/engine/session"
	"github.com/taskforge/engine/subexec"
	"github.com/taskforge/engine/taskgraph"
)

// run is the CLI's top-level dispatch, returning a process exit code (§6:
// 0 success, 1 usage error, 2 unrecovered failure).
func (c *CLI) run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	configureLogging(c)

	if c.ListSessions {
		return c.runListSessions(ctx)
	}

	eng, err := buildEngine(ctx, c)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnrecover
	}
	defer eng.Close()

	if c.Interactive {
		return c.runREPL(ctx, eng)
	}

	sessionID := c.Resume
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	output, err := c.runOne(ctx, eng, sessionID, c.Task)
	if err != nil {
		fmt.Fprintln(os.Stderr, "taskengine:", err)
		return exitUnrecover
	}
	fmt.Println(output)
	return exitOK
}

// runOne executes a single task, through either the plain agent loop or
// (--subagents) the task-graph orchestrator, and persists the resulting
// session snapshot.
func (c *CLI) runOne(ctx context.Context, eng *engine, sessionID, task string) (string, error) {
	if c.Subagents {
		summary, err := c.runSubagents(ctx, eng, sessionID, task)
		if err != nil {
			return "", err
		}
		return formatSummary(summary), nil
	}
	return c.runSingleAgent(ctx, eng, sessionID, task)
}

// runSingleAgent drives one Agent Loop (C5), optionally resuming a prior
// session's conversation history.
func (c *CLI) runSingleAgent(ctx context.Context, eng *engine, sessionID, task string) (string, error) {
	provider, err := eng.llms.GetLLM(eng.cfg.Agent.LLM)
	if err != nil {
		return "", err
	}

	history, err := c.loadOrNewHistory(ctx, eng, sessionID)
	if err != nil {
		return "", err
	}

	runLoop := loop.New(&eng.cfg.Agent, eng.tools, provider, history,
		loop.WithSkills(eng.cfg.Skills),
		loop.WithAskUser(askUserFromStdin),
		loop.WithIterationWarning(iterationWarningFromStdin),
		loop.WithMetrics(eng.obs.Metrics()),
	)

	output, runErr := runLoop.Run(ctx, task)
	saveErr := c.saveSnapshot(ctx, eng, sessionID, history, task)
	if runErr != nil {
		return "", runErr
	}
	if saveErr != nil {
		return "", saveErr
	}
	return output, nil
}

// loadOrNewHistory reconstructs a ConversationHistory from a saved
// snapshot when resuming, or opens a fresh one otherwise.
func (c *CLI) loadOrNewHistory(ctx context.Context, eng *engine, sessionID string) (*contextwindow.ConversationHistory, error) {
	systemPrompt := eng.cfg.Agent.Prompt.SystemPrompt

	if c.Resume == "" {
		return contextwindow.NewConversationHistory(sessionID, systemPrompt)
	}

	snap, err := eng.sess.Load(ctx, sessionID)
	if err == session.ErrNotFound {
		return contextwindow.NewConversationHistory(sessionID, systemPrompt)
	}
	if err != nil {
		return nil, err
	}

	history, err := contextwindow.NewConversationHistory(sessionID, snap.SystemPrompt)
	if err != nil {
		return nil, err
	}
	replayMessages(history, snap.Messages)
	return history, nil
}

// replayMessages re-adds a snapshot's messages to a fresh ConversationHistory
// in order, translating the loosely-typed tool_calls field back into
// llm.ToolCall values.
func replayMessages(history *contextwindow.ConversationHistory, messages []session.MessageSnapshot) {
	for _, m := range messages {
		switch m.Role {
		case "user":
			history.AddUserMessage(m.Content)
		case "assistant":
			history.AddAssistantMessage(m.Content, toolCallsFromSnapshot(m.ToolCalls))
		case "tool":
			history.AddToolMessage(m.ToolCallID, m.Content)
		}
	}
}

func toolCallsFromSnapshot(raw []map[string]interface{}) []llm.ToolCall {
	if len(raw) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, 0, len(raw))
	for _, m := range raw {
		tc := llm.ToolCall{}
		if id, ok := m["id"].(string); ok {
			tc.ID = id
		}
		if name, ok := m["name"].(string); ok {
			tc.Name = name
		}
		if args, ok := m["arguments"].(map[string]interface{}); ok {
			tc.Arguments = args
		}
		out = append(out, tc)
	}
	return out
}

// saveSnapshot persists the session per spec §6's JSON snapshot contract.
func (c *CLI) saveSnapshot(ctx context.Context, eng *engine, sessionID string, history *contextwindow.ConversationHistory, lastTask string) error {
	now := time.Now()
	snap := &session.Snapshot{
		SessionID:     sessionID,
		SystemPrompt:  eng.cfg.Agent.Prompt.SystemPrompt,
		Messages:      messagesToSnapshot(history.AllMessages()),
		WorkingDir:    eng.cfg.Agent.WorkingDir,
		Model:         eng.cfg.Agent.LLM,
		Temperature:   eng.llmTemperature(),
		MaxIterations: eng.cfg.Agent.Reasoning.MaxIterations,
		Metadata:      map[string]interface{}{"last_task": lastTask},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return eng.sess.Save(ctx, snap)
}

func messagesToSnapshot(messages []llm.Message) []session.MessageSnapshot {
	out := make([]session.MessageSnapshot, 0, len(messages))
	for _, m := range messages {
		ms := session.MessageSnapshot{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			ms.ToolCalls = append(ms.ToolCalls, map[string]interface{}{
				"id": tc.ID, "name": tc.Name, "arguments": tc.Arguments,
			})
		}
		out = append(out, ms)
	}
	return out
}

func (e *engine) llmTemperature() float64 {
	if cfg, ok := e.cfg.LLMs[e.cfg.Agent.LLM]; ok {
		return cfg.Temperature
	}
	return 0
}

// runSubagents decomposes task into a Task Graph via the "plan" sub-executor
// profile, then drives it through the orchestrator (C9).
func (c *CLI) runSubagents(ctx context.Context, eng *engine, sessionID, task string) (*orchestrator.Summary, error) {
	llmConfigs := eng.cfg.LLMs
	pool := subexec.New(&eng.cfg.Agent, eng.cfg.SubExecutors, eng.tools, eng.llms, llmConfigs).
		WithMetrics(eng.obs.Metrics())

	graph, err := decomposeToGraph(ctx, pool, eng.cfg.Agent.WorkingDir, task)
	if err != nil {
		return nil, fmt.Errorf("decompose: %w", err)
	}

	orch := orchestrator.New(eng.cfg.Orchestrator, graph, pool, eng.store, eng.cfg.Agent.WorkingDir).
		WithOriginalGoal(task).
		WithMetrics(eng.obs.Metrics())

	return orch.ExecuteAll(ctx)
}

// planTask is one entry of the "plan" sub-executor's decomposition output.
type planTask struct {
	ID                   string   `json:"id"`
	Content              string   `json:"content"`
	TaskType             string   `json:"task_type"`
	DependsOn            []string `json:"depends_on"`
	CanParallel          bool     `json:"can_parallel"`
	Produces             string   `json:"produces"`
	RequiresVerification bool     `json:"requires_verification"`
}

// decomposeToGraph asks the "plan" profile to break task into a dependency
// graph of sub-tasks, expressed as a JSON array, and builds a taskgraph.Graph
// from the result. A plan that fails to parse falls back to a single
// general-purpose task so --subagents still makes forward progress.
func decomposeToGraph(ctx context.Context, pool *subexec.Pool, workDir, task string) (*taskgraph.Graph, error) {
	prompt := fmt.Sprintf(`Break the following task into a dependency graph of sub-tasks.

TASK: %s

Respond with ONLY a JSON array, no prose, where each element is:
{"id": "t1", "content": "...", "task_type": "research|code|validate|review|general", "depends_on": ["t0"], "can_parallel": false, "produces": "file:path.ext or empty", "requires_verification": false}

Keep it to the minimum number of sub-tasks needed. IDs must be unique.`, task)

	result := pool.Spawn(ctx, "plan", prompt)

	graph := taskgraph.New(workDir)
	plans, err := parsePlan(result.Output)
	if err != nil || len(plans) == 0 {
		fallback := &taskgraph.Task{ID: "t1", Content: task, TaskType: taskgraph.TaskGeneral, CreatedAt: time.Now()}
		if addErr := graph.Add(fallback); addErr != nil {
			return nil, addErr
		}
		return graph, nil
	}

	now := time.Now()
	tasks := make([]*taskgraph.Task, 0, len(plans))
	for _, p := range plans {
		t := &taskgraph.Task{
			ID:                   p.ID,
			Content:              p.Content,
			TaskType:             taskgraph.TaskType(p.TaskType),
			DependsOn:            p.DependsOn,
			CanParallel:          p.CanParallel,
			Produces:             p.Produces,
			RequiresVerification: p.RequiresVerification,
			CreatedAt:            now,
		}
		if t.TaskType == "" {
			t.TaskType = taskgraph.TaskGeneral
		}
		tasks = append(tasks, t)
	}
	if err := graph.AddAll(tasks); err != nil {
		return nil, err
	}
	return graph, nil
}

func parsePlan(raw string) ([]planTask, error) {
	var plans []planTask
	if err := json.Unmarshal([]byte(raw), &plans); err == nil {
		return plans, nil
	}
	start := strings.IndexByte(raw, '[')
	end := strings.LastIndexByte(raw, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found in plan output")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &plans); err != nil {
		return nil, fmt.Errorf("malformed plan JSON: %w", err)
	}
	return plans, nil
}

func formatSummary(s *orchestrator.Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "completed=%d failed=%d", s.Completed, s.Failed)
	if s.Aborted {
		fmt.Fprintf(&sb, " ABORTED (%s)", s.AbortReason)
	}
	if len(s.GateFailures) > 0 {
		sb.WriteString("\nissues:\n")
		for _, issue := range s.GateFailures {
			fmt.Fprintf(&sb, "  - [%s] %s\n", issue.Category, issue.Message)
		}
	}
	return sb.String()
}

// runREPL implements --interactive: read a line, run it as a task against
// the same session, print the result, repeat until EOF or Ctrl-D.
func (c *CLI) runREPL(ctx context.Context, eng *engine) int {
	sessionID := c.Resume
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	fmt.Printf("taskengine interactive session %s (Ctrl-D to exit)\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		output, err := c.runOne(ctx, eng, sessionID, line)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		fmt.Println(output)
	}
	return exitOK
}

func (c *CLI) runListSessions(ctx context.Context) int {
	eng, err := buildEngine(ctx, c)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUnrecover
	}
	defer eng.Close()

	lister := session.Lister{Store: eng.sess}
	summaries := lister.ListSummaries()
	if len(summaries) == 0 {
		fmt.Println("no sessions")
		return exitOK
	}
	for _, s := range summaries {
		fmt.Printf("%s\tcompleted=%d failed=%d total=%d\tupdated=%s\n",
			s.ID, s.TasksCompleted, s.TasksFailed, s.TasksTotal, s.LastUpdateTime.Format(time.RFC3339))
	}
	return exitOK
}
