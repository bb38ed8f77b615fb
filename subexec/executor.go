// Package subexec implements the Sub-Executor System (C6): short-lived,
// profile-scoped agent loops spawned by the orchestrator (C9) or by a
// running Agent Loop to delegate a bounded sub-task. Every sub-executor
// gets its own Context Window and iteration counter, and runs over a Tool
// Registry filtered to its profile's allow-list so it can never spawn a
// further sub-executor itself.
package subexec

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge/engine/config"
	"github.com/taskforge/engine/contextwindow"
	"github.com/taskforge/engine/llm"
	"github.com/taskforge/engine/loop"
	"github.com/taskforge/engine/observability"
	"github.com/taskforge/engine/tool"
)

// ============================================================================
// SUB-EXECUTOR SYSTEM (C6)
// ============================================================================

// defaultParallelism is the bounded worker pool size for spawn_parallel.
const defaultParallelism = 4

// Result is what one sub-executor run reports back to its caller.
type Result struct {
	SessionID  string        `json:"session_id"`
	Profile    string        `json:"profile"`
	Task       string        `json:"task"`
	Success    bool          `json:"success"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Iterations int           `json:"iterations"`
	Tokens     int           `json:"tokens"`
	Duration   time.Duration `json:"duration"`
}

// Spec is one spawn request for SpawnParallel.
type Spec struct {
	Profile string
	Task    string
}

// session is the live state behind one SessionID, kept around so Resume can
// hand the same history and registry back to a second Run call.
type session struct {
	profile  string
	registry *tool.Registry
	provider llm.LLMProvider
	history  *contextwindow.ConversationHistory
}

// Pool owns the profile table and spawns/resumes sub-executors against it.
// Parallelism is a process-wide pool, not per-call, so a caller doing many
// small SpawnParallel batches still respects one global concurrency cap.
type Pool struct {
	agentCfg    *config.AgentConfig
	profiles    map[string]config.ExecutorProfile
	baseTools   *tool.Registry
	llms        *llm.LLMRegistry
	llmConfigs  map[string]config.LLMProviderConfig
	parallelism int
	metrics     *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*session
	history  []Result
}

// New builds a sub-executor pool. agentCfg supplies the reasoning defaults
// (token budget, compress threshold) every spawned loop inherits unless its
// profile overrides max_iterations; baseTools is the full, unfiltered C1
// registry each profile's allow-list narrows from.
func New(agentCfg *config.AgentConfig, profiles map[string]config.ExecutorProfile, baseTools *tool.Registry, llms *llm.LLMRegistry, llmConfigs map[string]config.LLMProviderConfig) *Pool {
	if profiles == nil {
		profiles = config.DefaultExecutorProfiles()
	}
	return &Pool{
		agentCfg:    agentCfg,
		profiles:    profiles,
		baseTools:   baseTools,
		llms:        llms,
		llmConfigs:  llmConfigs,
		parallelism: defaultParallelism,
		sessions:    make(map[string]*session),
	}
}

// WithParallelism overrides the default bounded worker pool size (4).
func (p *Pool) WithParallelism(n int) *Pool {
	if n > 0 {
		p.parallelism = n
	}
	return p
}

// WithMetrics wires the run's Prometheus metrics sink; spawn outcomes are
// recorded through it when set, left nil (no-op) otherwise.
func (p *Pool) WithMetrics(metrics *observability.Metrics) *Pool {
	p.metrics = metrics
	return p
}

// Spawn instantiates a fresh sub-executor under the named profile and runs
// task to completion (or until its own iteration budget / wrap-up).
func (p *Pool) Spawn(ctx context.Context, profileName, task string) Result {
	sessionID := uuid.NewString()
	return p.run(ctx, sessionID, profileName, task, true)
}

// SpawnParallel runs every spec through Spawn concurrently, bounded by the
// pool's parallelism, and returns results in completion order (not input
// order) — a worker's panic-free failure becomes a Result with
// Success=false rather than propagating to the caller.
func (p *Pool) SpawnParallel(ctx context.Context, specs []Spec) []Result {
	results := make(chan Result, len(specs))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(p.parallelism)

	for _, spec := range specs {
		spec := spec
		group.Go(func() error {
			results <- p.safeSpawn(gctx, spec.Profile, spec.Task)
			return nil
		})
	}

	go func() {
		_ = group.Wait()
		close(results)
	}()

	out := make([]Result, 0, len(specs))
	for r := range results {
		out = append(out, r)
	}
	return out
}

// safeSpawn recovers a panicking worker into a failure Result so one bad
// sub-task never takes down the rest of a parallel batch.
func (p *Pool) safeSpawn(ctx context.Context, profileName, task string) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Profile: profileName, Task: task, Success: false, Error: fmt.Sprintf("sub-executor panic: %v", r)}
		}
	}()
	return p.Spawn(ctx, profileName, task)
}

// Resume re-enters an existing session's conversation with a new task,
// reusing its filtered registry, provider, and accumulated history.
func (p *Pool) Resume(ctx context.Context, sessionID, task string) Result {
	p.mu.Lock()
	_, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return Result{SessionID: sessionID, Task: task, Success: false, Error: fmt.Sprintf("no such session %q", sessionID)}
	}
	return p.run(ctx, sessionID, "", task, false)
}

// History returns every Spawn/Resume result recorded so far, oldest first.
func (p *Pool) History() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.history))
	copy(out, p.history)
	return out
}

// run does the actual instantiate-or-resume-then-execute work shared by
// Spawn and Resume.
func (p *Pool) run(ctx context.Context, sessionID, profileName, task string, fresh bool) Result {
	start := time.Now()

	p.mu.Lock()
	sess, exists := p.sessions[sessionID]
	p.mu.Unlock()

	if fresh || !exists {
		profile, ok := p.profiles[profileName]
		if !ok {
			return Result{SessionID: sessionID, Profile: profileName, Task: task, Success: false, Error: fmt.Sprintf("unknown executor profile %q", profileName)}
		}

		provider, err := p.providerFor(profile)
		if err != nil {
			return Result{SessionID: sessionID, Profile: profileName, Task: task, Success: false, Error: err.Error()}
		}

		history, err := contextwindow.NewConversationHistory(sessionID, profile.SystemPrompt)
		if err != nil {
			return Result{SessionID: sessionID, Profile: profileName, Task: task, Success: false, Error: err.Error()}
		}

		// AllowedTools nil means "every tool" (Registry.Filtered's contract);
		// since no spawn/delegate tool is ever registered in the atomic set,
		// this alone already satisfies the no-recursion invariant (P11).
		sess = &session{
			profile:  profileName,
			registry: p.baseTools.Filtered(profile.AllowedTools),
			provider: provider,
			history:  history,
		}
		p.mu.Lock()
		p.sessions[sessionID] = sess
		p.mu.Unlock()
	}

	profile := p.profiles[sess.profile]
	runLoop := loop.New(p.agentCfg, sess.registry, sess.provider, sess.history, loop.WithMetrics(p.metrics))

	maxIter := profile.MaxIterations
	output, err := runLoop.Run(ctx, task, maxIter)

	result := Result{
		SessionID:  sessionID,
		Profile:    sess.profile,
		Task:       task,
		Success:    err == nil,
		Output:     output,
		Iterations: runLoop.Iteration(),
		Tokens:     runLoop.TokensUsed(),
		Duration:   time.Since(start),
	}
	if err != nil {
		result.Error = err.Error()
	}
	p.metrics.ObserveSubExecutorSpawn(sess.profile, result.Success)

	p.mu.Lock()
	p.history = append(p.history, result)
	p.mu.Unlock()

	return result
}

// providerFor resolves (and lazily registers) the LLM provider a profile's
// configured LLM name points to.
func (p *Pool) providerFor(profile config.ExecutorProfile) (llm.LLMProvider, error) {
	name := profile.LLM
	if name == "" {
		name = "default"
	}
	if provider, err := p.llms.GetLLM(name); err == nil {
		return provider, nil
	}
	cfg, ok := p.llmConfigs[name]
	if !ok {
		return nil, fmt.Errorf("subexec: no llm config named %q for profile %q", name, profile.Name)
	}
	return p.llms.CreateLLMFromConfig(name, &cfg)
}
