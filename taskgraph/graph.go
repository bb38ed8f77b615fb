package taskgraph

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Graph is tasks keyed by id plus a result registry keyed by result_key
// (spec §3 "Task Graph"). A Graph lives for one orchestrator run.
type Graph struct {
	workDir string

	mu      sync.RWMutex
	tasks   map[string]*Task
	order   []string // insertion order, for stable batch/ready iteration
	results map[string]interface{}
}

// New builds an empty graph. workDir resolves relative `produces=file:...`
// claims during result validation (§4.7.1).
func New(workDir string) *Graph {
	if workDir == "" {
		workDir = "."
	}
	return &Graph{
		workDir: workDir,
		tasks:   make(map[string]*Task),
		results: make(map[string]interface{}),
	}
}

// Add inserts one task, enforcing G1 (acyclic) at this call: an unknown
// dependency id or a cycle introduced by this task's edges is rejected and
// the graph is left unchanged.
func (g *Graph) Add(t *Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("taskgraph: task must have a non-empty id")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[t.ID]; exists {
		return fmt.Errorf("taskgraph: duplicate task id %q", t.ID)
	}
	for _, dep := range t.DependsOn {
		if _, ok := g.tasks[dep]; !ok {
			return fmt.Errorf("unknown_dependency: task %q depends on unknown task %q", t.ID, dep)
		}
	}

	stored := t.clone()
	if stored.Status == "" {
		stored.Status = StatusPending
	}
	if stored.TaskType == "" {
		stored.TaskType = TaskGeneral
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	g.tasks[t.ID] = stored
	g.order = append(g.order, t.ID)

	if path, cyclic := g.detectCyclesLocked(); cyclic {
		// Roll back: this task's own edges are what introduced the cycle.
		delete(g.tasks, t.ID)
		g.order = g.order[:len(g.order)-1]
		return fmt.Errorf("cycle_detected: %v", path)
	}

	g.recomputeBlockedLocked()
	return nil
}

// AddAll adds the tasks one at a time, in list order, through Add, so each
// task's dependencies must already be in the graph or earlier in the list.
// A dependency listed later is rejected as unknown_dependency; for the same
// reason a cycle among the new tasks is reported as unknown_dependency, not
// cycle_detected. On any failure no task from this call is retained.
func (g *Graph) AddAll(tasks []*Task) error {
	added := make([]string, 0, len(tasks))
	for _, t := range tasks {
		if err := g.Add(t); err != nil {
			for _, id := range added {
				g.Remove(id)
			}
			return err
		}
		added = append(added, t.ID)
	}
	return nil
}

// Get returns a defensive copy of the task, if present.
func (g *Graph) Get(id string) (*Task, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// Update applies mutate to the stored task under lock, then recomputes
// blocked status across the graph (a dependency's status change can
// unblock its dependents).
func (g *Graph) Update(id string, mutate func(*Task)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("taskgraph: unknown task %q", id)
	}
	mutate(t)
	g.recomputeBlockedLocked()
	return nil
}

// Remove deletes a task and its position in insertion order. It does not
// validate that no remaining task still depends on it — callers doing
// incremental graph edits are expected to remove leaves first.
func (g *Graph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tasks, id)
	for i, existing := range g.order {
		if existing == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
}

// ResultsFor aggregates result_key -> result over taskID's direct
// dependencies. Execution order guarantees every dependency is already
// completed by the time this is called for a ready task, so the values
// returned are the final, snapshotted results (P6).
func (g *Graph) ResultsFor(taskID string) map[string]interface{} {
	g.mu.RLock()
	defer g.mu.RUnlock()
	t, ok := g.tasks[taskID]
	if !ok {
		return nil
	}
	out := make(map[string]interface{})
	for _, dep := range t.DependsOn {
		depTask, ok := g.tasks[dep]
		if !ok || depTask.ResultKey == "" {
			continue
		}
		if result, ok := g.results[depTask.ResultKey]; ok {
			out[depTask.ResultKey] = result
		}
	}
	return out
}

// Ready returns pending tasks whose dependencies are all completed, in
// insertion order.
func (g *Graph) Ready() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Task
	for _, id := range g.order {
		t := g.tasks[id]
		if t.Status == StatusPending && g.depsCompletedLocked(t) {
			out = append(out, t.clone())
		}
	}
	return out
}

// Blocked returns tasks currently marked blocked, in insertion order.
func (g *Graph) Blocked() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Task
	for _, id := range g.order {
		if t := g.tasks[id]; t.Status == StatusBlocked {
			out = append(out, t.clone())
		}
	}
	return out
}

// ParallelBatch is the subset of Ready() hinted can_parallel.
func (g *Graph) ParallelBatch() []*Task {
	var out []*Task
	for _, t := range g.Ready() {
		if t.CanParallel {
			out = append(out, t)
		}
	}
	return out
}

// ExecutionOrder computes the full topological batching via iterative
// Kahn-style peeling: each batch is every task whose remaining in-degree
// (over not-yet-batched dependencies) is zero. Returns task ids grouped by
// batch. Graph construction already rejects cycles (G1), so this only
// re-detects one defensively if the graph was mutated in a way Add/Update
// couldn't catch.
func (g *Graph) ExecutionOrder() ([][]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.tasks))
	dependents := make(map[string][]string, len(g.tasks))
	for _, id := range g.order {
		t := g.tasks[id]
		inDegree[id] = len(t.DependsOn)
		for _, dep := range t.DependsOn {
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var batches [][]string
	remaining := len(g.order)
	for remaining > 0 {
		var batch []string
		for _, id := range g.order {
			if inDegree[id] == 0 {
				batch = append(batch, id)
			}
		}
		if len(batch) == 0 {
			path, _ := g.detectCyclesLocked()
			return nil, fmt.Errorf("cycle_detected: %v", path)
		}
		sort.Strings(batch)
		batches = append(batches, batch)
		for _, id := range batch {
			inDegree[id] = -1
			remaining--
			for _, dep := range dependents[id] {
				if inDegree[dep] > 0 {
					inDegree[dep]--
				}
			}
		}
	}
	return batches, nil
}

// DetectCycles reports whether the graph currently contains a cycle and, if
// so, one offending path (e.g. [A,B,A]).
func (g *Graph) DetectCycles() ([]string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.detectCyclesLocked()
}

const (
	colorWhite = 0
	colorGray  = 1
	colorBlack = 2
)

func (g *Graph) detectCyclesLocked() ([]string, bool) {
	color := make(map[string]int, len(g.tasks))
	var path []string

	var visit func(id string) ([]string, bool)
	visit = func(id string) ([]string, bool) {
		color[id] = colorGray
		path = append(path, id)
		for _, dep := range g.tasks[id].DependsOn {
			switch color[dep] {
			case colorGray:
				// found the back-edge; trim path to start at dep.
				start := indexOf(path, dep)
				cyclePath := append(append([]string(nil), path[start:]...), dep)
				return cyclePath, true
			case colorWhite:
				if cyclePath, found := visit(dep); found {
					return cyclePath, true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = colorBlack
		return nil, false
	}

	for _, id := range g.order {
		if color[id] == colorWhite {
			if cyclePath, found := visit(id); found {
				return cyclePath, true
			}
		}
	}
	return nil, false
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func (g *Graph) depsCompletedLocked(t *Task) bool {
	for _, dep := range t.DependsOn {
		depTask, ok := g.tasks[dep]
		if !ok || depTask.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// recomputeBlockedLocked implements G2's derived blocked/pending toggle:
// a pending task with an incomplete, non-failed dependency is blocked; one
// whose dependencies just completed moves back to pending. Tasks with a
// failed dependency stay blocked permanently (they can never become ready).
func (g *Graph) recomputeBlockedLocked() {
	for _, t := range g.tasks {
		if t.Status != StatusPending && t.Status != StatusBlocked {
			continue
		}
		if g.depsCompletedLocked(t) {
			t.Status = StatusPending
		} else {
			t.Status = StatusBlocked
		}
	}
}

// SetTaskResult implements the result setter (§4.7): a non-nil taskErr
// fails the task outright; otherwise the result is run through artifact
// and target validation (§4.7.1) before being accepted.
func (g *Graph) SetTaskResult(id string, result interface{}, taskErr error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tasks[id]
	if !ok {
		return fmt.Errorf("taskgraph: unknown task %q", id)
	}

	now := time.Now().UTC()
	if taskErr != nil {
		t.Status = StatusFailed
		t.Error = taskErr.Error()
		t.CompletedAt = &now
		g.recomputeBlockedLocked()
		return nil
	}

	if err := validateArtifact(g.workDir, t.Produces, result); err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		t.CompletedAt = &now
		g.recomputeBlockedLocked()
		return nil
	}
	if err := validateTarget(t.Target, result); err != nil {
		t.Status = StatusFailed
		t.Error = err.Error()
		t.CompletedAt = &now
		g.recomputeBlockedLocked()
		return nil
	}

	t.Status = StatusCompleted
	t.Result = result
	t.CompletedAt = &now
	if t.ResultKey != "" {
		g.results[t.ResultKey] = result
	}
	g.recomputeBlockedLocked()
	return nil
}

// All returns every task, in insertion order.
func (g *Graph) All() []*Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id].clone())
	}
	return out
}
