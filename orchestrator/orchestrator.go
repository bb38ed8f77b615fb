// Package orchestrator implements the Orchestrator (C9): batched execution
// of a Task Graph (C7) through three verification gates, dispatching each
// task to a sub-executor (C6) chosen by its task_type.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge/engine/config"
	"github.com/taskforge/engine/evidence"
	"github.com/taskforge/engine/observability"
	"github.com/taskforge/engine/provenance"
	"github.com/taskforge/engine/subexec"
	"github.com/taskforge/engine/taskgraph"
)

var tracer = observability.Tracer("orchestrator")

// Spawner is the subset of subexec.Pool the orchestrator needs — narrowed
// to an interface so tests can fake sub-executor behavior without a real
// LLM provider.
type Spawner interface {
	Spawn(ctx context.Context, profile, task string) subexec.Result
}

// Orchestrator drives one Task Graph to completion.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	graph    *taskgraph.Graph
	spawner  Spawner
	checker  *provenance.Checker
	store    *evidence.Store
	workDir  string
	logger   *slog.Logger
	metrics  *observability.Metrics
	original string // the user's original goal, for the verification gate's context block

	lastBatchIDs []string // ids of the most recently executed batch, for tasksRequiringVerification's "final batch" clause
}

// New builds an orchestrator over an already-populated graph.
func New(cfg config.OrchestratorConfig, graph *taskgraph.Graph, spawner Spawner, store *evidence.Store, workDir string) *Orchestrator {
	if workDir == "" {
		workDir = "."
	}
	return &Orchestrator{
		cfg:     cfg,
		graph:   graph,
		spawner: spawner,
		checker: provenance.New(store, workDir),
		store:   store,
		workDir: workDir,
		logger:  slog.Default(),
	}
}

// WithOriginalGoal records the user's original request text, surfaced to
// the LLM verification gate as "ORIGINAL USER GOAL" context.
func (o *Orchestrator) WithOriginalGoal(goal string) *Orchestrator {
	o.original = goal
	return o
}

// WithLogger overrides the default slog logger.
func (o *Orchestrator) WithLogger(logger *slog.Logger) *Orchestrator {
	o.logger = logger
	return o
}

// WithMetrics wires the run's Prometheus metrics sink; gate and task
// outcomes are recorded through it when set, left nil (no-op) otherwise.
func (o *Orchestrator) WithMetrics(metrics *observability.Metrics) *Orchestrator {
	o.metrics = metrics
	return o
}

// ExecuteAll drives the graph's execution_order() through batched
// execution, running each of the three gates when their batch conditions
// are met, and returns a run summary (§4.9's algorithm).
func (o *Orchestrator) ExecuteAll(ctx context.Context) (*Summary, error) {
	summary := newSummary()

	batches, err := o.graph.ExecutionOrder()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	dataGatePassed := !o.cfg.EnableDataGate
	execGatePassed := !o.cfg.EnableExecGate

	for _, batchIDs := range batches {
		batch := o.tasksByID(batchIDs)
		o.lastBatchIDs = batchIDs

		if o.cfg.EnableDataGate && !dataGatePassed && batchContainsAnalysis(batch) {
			result := o.runDataGate(batch)
			summary.DataGate = result
			dataGatePassed = result.Passed
			o.metrics.ObserveGate("data_gate", result.Passed)
			if !result.Passed {
				summary.recordGateIssues("data_gate_failed", result.Issues)
				if o.cfg.DataGateStrict {
					summary.Aborted = true
					summary.AbortReason = "data_gate_failed"
					return summary, nil
				}
			}
		}

		if o.cfg.EnableExecGate && !execGatePassed && batchContainsOutput(batch) {
			result := o.runExecGate(batch)
			summary.ExecGate = result
			execGatePassed = result.Passed
			o.metrics.ObserveGate("exec_gate", result.Passed)
			if !result.Passed {
				summary.recordGateIssues("exec_gate_failed", result.Issues)
				if o.cfg.ExecGateStrict {
					summary.Aborted = true
					summary.AbortReason = "exec_gate_failed"
					return summary, nil
				}
			}
		}

		results := o.executeBatch(ctx, batch)
		for _, r := range results {
			if r.err != nil {
				_ = o.graph.SetTaskResult(r.taskID, nil, r.err)
				summary.Failed++
			} else if err := o.graph.SetTaskResult(r.taskID, r.output, nil); err != nil {
				summary.Failed++
			} else if t, ok := o.graph.Get(r.taskID); ok && t.Status == taskgraph.StatusCompleted {
				summary.Completed++
			} else {
				summary.Failed++ // validation inside SetTaskResult rejected it
			}
		}
	}

	if o.cfg.EnableVerification && !summary.Aborted {
		tasks := o.tasksRequiringVerification()
		result := o.runLLMVerificationGate(ctx, tasks)
		summary.Verification = result
		o.metrics.ObserveGate("verification_gate", result.Passed)
		if !result.Passed {
			summary.recordGateIssues("llm_verification_failed", result.Issues)
			if o.cfg.VerificationStrict {
				summary.Aborted = true
				summary.AbortReason = "llm_verification_failed"
			}
		}
	}

	return summary, nil
}

func (o *Orchestrator) tasksByID(ids []string) []*taskgraph.Task {
	out := make([]*taskgraph.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := o.graph.Get(id); ok {
			out = append(out, t)
		}
	}
	return out
}

type taskRunResult struct {
	taskID   string
	taskType string
	profile  string
	output   string
	err      error
	duration time.Duration
}

// executeBatch runs can_parallel tasks concurrently (bounded by
// max_parallel_tasks), then the rest sequentially in list order (§4.10).
func (o *Orchestrator) executeBatch(ctx context.Context, batch []*taskgraph.Task) []taskRunResult {
	var parallel, sequential []*taskgraph.Task
	for _, t := range batch {
		if t.CanParallel {
			parallel = append(parallel, t)
		} else {
			sequential = append(sequential, t)
		}
	}

	var (
		mu      sync.Mutex
		results []taskRunResult
	)
	record := func(r taskRunResult) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}

	if len(parallel) > 0 {
		limit := o.cfg.MaxParallelTasks
		if limit <= 0 {
			limit = 4
		}
		group, gctx := errgroup.WithContext(ctx)
		group.SetLimit(limit)
		for _, t := range parallel {
			t := t
			group.Go(func() error {
				record(o.runTask(gctx, t))
				return nil
			})
		}
		_ = group.Wait()
	}

	for _, t := range sequential {
		record(o.runTask(ctx, t))
	}

	return results
}

// runTask dispatches one task to its selected sub-executor profile, under
// a per-task timeout, injecting its dependencies' results as an "Available
// inputs" block.
func (o *Orchestrator) runTask(ctx context.Context, t *taskgraph.Task) taskRunResult {
	ctx, span := tracer.Start(ctx, "task.execute",
		trace.WithAttributes(
			attribute.String("task.id", t.ID),
			attribute.String("task.type", string(t.TaskType)),
		),
	)
	defer span.End()

	timeout := time.Duration(o.cfg.TaskTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	profile := executorFor(t)
	prompt := o.buildPrompt(t)
	span.SetAttributes(attribute.String("task.profile", profile))

	start := time.Now()
	done := make(chan subexec.Result, 1)
	go func() { done <- o.spawner.Spawn(taskCtx, profile, prompt) }()

	select {
	case result := <-done:
		dur := time.Since(start)
		if !result.Success {
			o.metrics.ObserveTask(string(t.TaskType), profile, dur, false, "exec_failed")
			err := fmt.Errorf("%s", result.Error)
			span.RecordError(err)
			span.SetStatus(codes.Error, "exec_failed")
			return taskRunResult{taskID: t.ID, taskType: string(t.TaskType), profile: profile, err: err, duration: dur}
		}
		o.metrics.ObserveTask(string(t.TaskType), profile, dur, true, "")
		span.SetStatus(codes.Ok, "")
		return taskRunResult{taskID: t.ID, taskType: string(t.TaskType), profile: profile, output: result.Output, duration: dur}
	case <-taskCtx.Done():
		dur := time.Since(start)
		o.metrics.ObserveTask(string(t.TaskType), profile, dur, false, "timeout")
		span.SetStatus(codes.Error, "timeout")
		return taskRunResult{taskID: t.ID, taskType: string(t.TaskType), profile: profile, err: fmt.Errorf("task exceeded its %s timeout", timeout), duration: dur}
	}
}

func (o *Orchestrator) buildPrompt(t *taskgraph.Task) string {
	inputs := o.graph.ResultsFor(t.ID)
	if len(inputs) == 0 {
		return t.Content
	}
	var sb strings.Builder
	sb.WriteString(t.Content)
	sb.WriteString("\n\nAvailable inputs:\n")
	for key, val := range inputs {
		fmt.Fprintf(&sb, "- %s: %v\n", key, val)
	}
	return sb.String()
}

// executorFor implements §4.9's executor-selection table.
func executorFor(t *taskgraph.Task) string {
	switch t.TaskType {
	case taskgraph.TaskResearch:
		return "research"
	case taskgraph.TaskCode:
		return "general"
	case taskgraph.TaskValidate:
		return "general"
	case taskgraph.TaskReview:
		return "reviewer"
	default:
		return "general"
	}
}
