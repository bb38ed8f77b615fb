// Package loop implements the Agent Loop (C5): a bounded think/act/observe
// cycle that turns one task string into a final answer by repeatedly
// calling an LLM provider with the running conversation and the atomic tool
// registry's schemas, executing whatever tools it asks for, and feeding
// their results back in.
package loop

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskforge/engine/config"
	"github.com/taskforge/engine/contextwindow"
	"github.com/taskforge/engine/llm"
	"github.com/taskforge/engine/observability"
	"github.com/taskforge/engine/tool"
)

var tracer = observability.Tracer("loop")

// providerNameFor derives a metrics label from a model name, since
// llm.LLMProvider only exposes GetModelName — not its provider family.
func providerNameFor(p llm.LLMProvider) string {
	model := p.GetModelName()
	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	case strings.HasPrefix(model, "gemini"):
		return "gemini"
	default:
		return "ollama"
	}
}

// ============================================================================
// LOOP - THE C5 AGENT LOOP
// ============================================================================

// PauseDecision is the human's answer to the pause menu (step 2).
type PauseDecision string

const (
	PauseContinue PauseDecision = "continue"
	PauseStop     PauseDecision = "stop"
	PauseFeedback PauseDecision = "feedback"
)

// PauseMenuFunc presents {continue, stop, provide free-form feedback} and
// returns the choice, plus the feedback text when PauseFeedback is chosen.
type PauseMenuFunc func(ctx context.Context) (PauseDecision, string, error)

// IterationWarningFunc presents the iterations_left <= 3 prompt
// ({wrap-up, continue, increase-by-N}) and returns the chosen action plus,
// for "increase", how many additional iterations to grant.
type IterationWarningFunc func(ctx context.Context, iterationsLeft int) (action string, increaseBy int, err error)

// Loop is one Agent Loop instance. It is not safe for concurrent Run calls —
// a sub-executor (C6) that needs parallelism creates one Loop per task.
type Loop struct {
	cfg      *config.AgentConfig
	registry *tool.Registry
	provider llm.LLMProvider
	history  *contextwindow.ConversationHistory
	skills   map[string]config.SkillTrigger

	pauseMenu     PauseMenuFunc
	iterationWarn IterationWarningFunc
	askUser       tool.AskUserFunc

	iteration  int
	tokensUsed int
	spiral     *spiralTracker

	paused    atomic.Bool
	cancelled atomic.Bool

	logger  *slog.Logger
	metrics *observability.Metrics
}

// Option configures optional Loop collaborators.
type Option func(*Loop)

// WithPauseMenu wires the interactive pause-menu prompt (step 2). Without
// one, Pause() has no effect beyond being silently cleared on the next
// iteration.
func WithPauseMenu(f PauseMenuFunc) Option { return func(l *Loop) { l.pauseMenu = f } }

// WithIterationWarning wires the iterations_left<=3 prompt.
func WithIterationWarning(f IterationWarningFunc) Option {
	return func(l *Loop) { l.iterationWarn = f }
}

// WithAskUser wires the human prompt used to resolve a tool result marked
// awaiting_user_input (§4.5.3). Without one, the tool message for such a
// result is a note saying no interactive handler was available, followed by
// the question.
func WithAskUser(f tool.AskUserFunc) Option { return func(l *Loop) { l.askUser = f } }

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option { return func(l *Loop) { l.logger = logger } }

// WithSkills wires the pre-task skill-trigger table (spec §4.5 "Pre-task
// skill injection").
func WithSkills(skills map[string]config.SkillTrigger) Option {
	return func(l *Loop) { l.skills = skills }
}

// WithMetrics wires the run's Prometheus metrics sink; every LLM call this
// loop makes is recorded through it when set, left nil (no-op) otherwise.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(l *Loop) { l.metrics = metrics }
}

// New builds a Loop over an already-open conversation, tool registry, and
// LLM provider. Callers assemble these three (C3, C1, C4) themselves so a
// sub-executor can hand the loop a Filtered registry and a fresh history.
func New(cfg *config.AgentConfig, registry *tool.Registry, provider llm.LLMProvider, history *contextwindow.ConversationHistory, opts ...Option) *Loop {
	l := &Loop{
		cfg:      cfg,
		registry: registry,
		provider: provider,
		history:  history,
		spiral:   newSpiralTracker(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Pause requests that the next iteration boundary run the pause menu.
func (l *Loop) Pause() { l.paused.Store(true) }

// Cancel requests that the loop stop at the next iteration boundary.
func (l *Loop) Cancel() { l.cancelled.Store(true) }

// Iteration returns the number of completed iterations so far.
func (l *Loop) Iteration() int { return l.iteration }

// TokensUsed returns the sum of tokens billed across every Generate call
// this Run has made so far (including the wrap-up call, if any).
func (l *Loop) TokensUsed() int { return l.tokensUsed }

// Run executes the bounded think/act/observe cycle (§4.5) until a terminal
// assistant message, cancellation, or the iteration budget is exhausted. An
// explicit maxIterations overrides config when > 0.
func (l *Loop) Run(ctx context.Context, task string, maxIterations ...int) (string, error) {
	maxIter := l.cfg.Reasoning.MaxIterations
	if len(maxIterations) > 0 && maxIterations[0] > 0 {
		maxIter = maxIterations[0]
	}

	l.injectSkillIfMatched(task)
	l.history.AddUserMessage(task)

	warnedIterationLimit := false

	for {
		// Step 1: validate_and_repair.
		if report := l.history.ValidateAndRepair(); report.Dirty() {
			l.logger.Warn("context repaired",
				"orphaned_removed", report.OrphanedToolMessagesRemoved,
				"synthetic_added", report.SyntheticToolMessagesAdded)
		}

		// cancellation is checked first so a stop requested mid pause-menu
		// still takes effect immediately.
		if l.cancelled.Load() {
			return "(Stopped by user)", nil
		}

		// Step 2: pause menu.
		if l.paused.Load() {
			if stop, err := l.runPauseMenu(ctx); err != nil {
				return "", err
			} else if stop {
				return "(Stopped by user)", nil
			}
		}

		// Step 3: compress_if_needed, gated on the token budget.
		budget := l.cfg.Reasoning.TokenBudget
		if budget <= 0 {
			budget = contextwindow.DefaultTokenBudget
		}
		if l.history.TokenEstimate() > budget {
			threshold := l.cfg.Reasoning.CompressThreshold
			if threshold <= 0 {
				threshold = contextwindow.DefaultCompressThreshold
			}
			if changed, err := l.history.CompressIfNeeded(threshold, l.summarize); err != nil {
				l.logger.Warn("compression failed, continuing uncompressed", "error", err)
			} else if changed {
				l.logger.Info("context compressed", "tokens", l.history.TokenEstimate())
			}
		}

		// Step 4: C4.chat(messages, tool_schemas).
		tools := toolDefinitionsFrom(l.registry.Schemas())
		_, span := tracer.Start(ctx, "llm.generate",
			trace.WithAttributes(attribute.String("llm.model", l.provider.GetModelName())),
		)
		callStart := time.Now()
		content, toolCalls, tokens, err := l.provider.Generate(l.history.AllMessages(), tools)
		l.metrics.ObserveLLMCall(providerNameFor(l.provider), l.provider.GetModelName(), time.Since(callStart), tokens)
		l.tokensUsed += tokens
		span.SetAttributes(attribute.Int("llm.tokens", tokens))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if err != nil {
			return fmt.Sprintf("(LLM error: %v)", err), nil
		}

		// Step 5: no tool calls -> terminal.
		if len(toolCalls) == 0 {
			l.history.AddAssistantMessage(content, nil)
			return content, nil
		}

		// Step 6: assistant-then-all-tool-results, nothing else in between.
		l.history.AddAssistantMessage(content, toolCalls)
		failures := l.executeAll(ctx, toolCalls)

		// Step 7: deferred spiral check.
		l.runSpiralCheck(failures)

		// Step 8: increment and loop.
		l.iteration++

		iterationsLeft := maxIter - l.iteration
		if !warnedIterationLimit && iterationsLeft <= 3 && iterationsLeft >= 0 && l.hasIncompleteTasks() {
			warnedIterationLimit = true
			grant, err := l.runIterationWarning(ctx, iterationsLeft)
			if err != nil {
				return "", err
			}
			maxIter += grant
		}

		if l.iteration >= maxIter {
			return l.wrapUp(ctx)
		}
	}
}

// executeAll runs every requested tool call in order and appends its result
// as a tool message before anything else is appended (the only safe order
// per §4.5 step 6). It resolves any awaiting_user_input result via the
// ask-user round trip (§4.5.3) before the result is recorded. It returns the
// error text of every failed call for the deferred spiral check.
func (l *Loop) executeAll(ctx context.Context, calls []llm.ToolCall) []string {
	var failures []string
	for _, tc := range calls {
		result := l.registry.Execute(ctx, tc.Name, tc.Arguments)
		content := l.resolveAskUser(ctx, &result)

		l.history.AddToolMessage(tc.ID, content)
		if !result.Success {
			failures = append(failures, result.Error)
		}
	}
	return failures
}

// resolveAskUser implements §4.5.3: when a tool result is marked
// awaiting_user_input, the loop — not the tool — prompts the human and the
// tool message carries their literal answer instead of the tool's payload.
func (l *Loop) resolveAskUser(ctx context.Context, result *tool.ToolResult) string {
	awaiting, _ := result.Metadata[tool.AwaitingUserInputKey].(bool)
	if !awaiting {
		return result.Content
	}
	question := result.Content
	if q, ok := result.Metadata["question"].(string); ok && q != "" {
		question = q
	}
	if l.askUser == nil {
		return fmt.Sprintf("(no interactive handler available to answer: %s)", question)
	}
	answer, err := l.askUser(ctx, question)
	if err != nil {
		return fmt.Sprintf("(failed to get user input: %v)", err)
	}
	return answer
}

// runSpiralCheck feeds every failure from this round into the spiral
// tracker and appends whatever message (if any) it recommends.
func (l *Loop) runSpiralCheck(failures []string) {
	for _, errText := range failures {
		action := l.spiral.Observe(errText)
		if action.Message != "" {
			l.history.AddUserMessage(action.Message)
		}
	}
}

// runPauseMenu runs the pause menu and reports whether the loop should stop.
func (l *Loop) runPauseMenu(ctx context.Context) (stop bool, err error) {
	if l.pauseMenu == nil {
		l.paused.Store(false)
		return false, nil
	}
	decision, feedback, err := l.pauseMenu(ctx)
	if err != nil {
		return false, fmt.Errorf("loop: pause menu: %w", err)
	}
	l.paused.Store(false)
	switch decision {
	case PauseStop:
		l.cancelled.Store(true)
		return true, nil
	case PauseFeedback:
		l.history.AddUserMessage(feedback)
	}
	return false, nil
}

// runIterationWarning runs the iterations_left<=3 prompt and returns how
// many extra iterations, if any, were granted.
func (l *Loop) runIterationWarning(ctx context.Context, iterationsLeft int) (int, error) {
	if l.iterationWarn == nil {
		return 0, nil
	}
	action, increaseBy, err := l.iterationWarn(ctx, iterationsLeft)
	if err != nil {
		return 0, fmt.Errorf("loop: iteration warning: %w", err)
	}
	switch action {
	case "wrap-up":
		// Pull the budget down to the current iteration count so the
		// maxIter check immediately below triggers wrap-up this round.
		return -iterationsLeft, nil
	case "increase":
		if increaseBy > 0 {
			return increaseBy, nil
		}
	}
	return 0, nil
}

// hasIncompleteTasks inspects the todo_write tool's live task list, if one
// is registered, for any item not yet completed.
func (l *Loop) hasIncompleteTasks() bool {
	t, ok := l.registry.Get("todo_write")
	if !ok {
		return false
	}
	todo, ok := t.(*tool.TodoTool)
	if !ok {
		return false
	}
	for _, item := range todo.Items() {
		if item.Status != "completed" {
			return true
		}
	}
	return false
}

// summarize is the contextwindow.Summarizer used by compress_if_needed: one
// LLM call asking for a terse recap of the messages being dropped.
func (l *Loop) summarize(messages []llm.Message) (string, error) {
	prompt := llm.Message{
		Role: contextwindow.RoleUser,
		Content: "Summarize the preceding conversation turns in a few sentences, " +
			"preserving any concrete facts, file paths, or decisions a continuation would need.",
	}
	content, _, tokens, err := l.provider.Generate(append(append([]llm.Message{}, messages...), prompt), nil)
	l.tokensUsed += tokens
	if err != nil {
		return "", fmt.Errorf("loop: summarize: %w", err)
	}
	return content, nil
}

// injectSkillIfMatched implements the "Pre-task skill injection": the first
// configured trigger whose pattern matches the task text gets its workflow
// text prepended as a system-style user message before the task itself.
func (l *Loop) injectSkillIfMatched(task string) {
	name, trigger, ok := matchSkillTrigger(l.skills, task)
	if !ok {
		return
	}
	l.logger.Debug("skill triggered", "skill", name)
	l.history.AddUserMessage(trigger.Workflow)
}
