package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/engine/config"
	"github.com/taskforge/engine/evidence"
	"github.com/taskforge/engine/subexec"
	"github.com/taskforge/engine/taskgraph"
)

// fakeSpawner lets tests drive sub-executor behavior without a real LLM
// provider, keyed by profile so different task types can be scripted
// independently.
type fakeSpawner struct {
	mu          sync.Mutex
	calls       []string
	handler     func(profile, task string) string // returns Output; empty Error unless overridden
	fail        map[string]string                 // profile -> error message
	delay       time.Duration
	inFlight    int32
	maxInFlight int32
}

func (f *fakeSpawner) Spawn(ctx context.Context, profile, task string) subexec.Result {
	f.mu.Lock()
	f.calls = append(f.calls, profile+":"+task)
	f.mu.Unlock()

	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max {
			break
		}
		if atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return subexec.Result{Success: false, Error: "context canceled"}
		}
	}

	if msg, ok := f.fail[profile]; ok {
		return subexec.Result{Success: false, Error: msg}
	}
	out := ""
	if f.handler != nil {
		out = f.handler(profile, task)
	}
	return subexec.Result{Success: true, Output: out}
}

func newChecker(t *testing.T) (*evidence.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := evidence.Open(filepath.Join(dir, "_logs"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func defaultCfg() config.OrchestratorConfig {
	cfg := config.OrchestratorConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestExecuteAll_ParallelFanIn(t *testing.T) {
	store, dir := newChecker(t)
	graph := taskgraph.New(dir)
	require.NoError(t, graph.Add(&taskgraph.Task{ID: "a", Content: "fetch a", TaskType: taskgraph.TaskResearch, CanParallel: true}))
	require.NoError(t, graph.Add(&taskgraph.Task{ID: "b", Content: "fetch b", TaskType: taskgraph.TaskResearch, CanParallel: true}))
	require.NoError(t, graph.Add(&taskgraph.Task{ID: "c", Content: "combine", TaskType: taskgraph.TaskGeneral, DependsOn: []string{"a", "b"}}))

	spawner := &fakeSpawner{handler: func(profile, task string) string { return "ok" }, delay: 20 * time.Millisecond}

	cfg := defaultCfg()
	cfg.EnableDataGate, cfg.EnableExecGate, cfg.EnableVerification = false, false, false
	orch := New(cfg, graph, spawner, store, dir)

	summary, err := orch.ExecuteAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
	assert.False(t, summary.Aborted)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&spawner.maxInFlight), int32(2), "a and b should have run concurrently")
}

func TestExecuteAll_DataGateCatchesFabrication(t *testing.T) {
	store, dir := newChecker(t)
	graph := taskgraph.New(dir)
	// research task claims a fetch that was never logged — scenario 4 from spec §8.
	require.NoError(t, graph.Add(&taskgraph.Task{ID: "fetch", Content: "download dataset", TaskType: taskgraph.TaskResearch}))
	require.NoError(t, graph.Add(&taskgraph.Task{ID: "analyze", Content: "analyze it", TaskType: taskgraph.TaskCode, DependsOn: []string{"fetch"}}))

	spawner := &fakeSpawner{handler: func(profile, task string) string {
		if profile == "research" {
			return `{"url":"https://example.org/data.csv"}`
		}
		return "ok"
	}}

	cfg := defaultCfg()
	cfg.EnableDataGate = true
	cfg.DataGateStrict = true
	cfg.EnableExecGate = false
	cfg.EnableVerification = false
	orch := New(cfg, graph, spawner, store, dir)

	summary, err := orch.ExecuteAll(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Aborted)
	assert.Equal(t, "data_gate_failed", summary.AbortReason)
	require.NotEmpty(t, summary.GateFailures)
	assert.Contains(t, summary.GateFailures[0].Category, "no_fetch_record")
}

func TestExecuteAll_ExecGateCatchesUnrunTests(t *testing.T) {
	store, dir := newChecker(t)
	graph := taskgraph.New(dir)
	require.NoError(t, graph.Add(&taskgraph.Task{ID: "build", Content: "build the project", TaskType: taskgraph.TaskCode}))
	require.NoError(t, graph.Add(&taskgraph.Task{ID: "check", Content: "validate it", TaskType: taskgraph.TaskValidate, DependsOn: []string{"build"}}))

	spawner := &fakeSpawner{handler: func(profile, task string) string {
		// The sub-executor claims success but never actually records an
		// exec-log entry, so the exec gate has nothing to verify against.
		return "done"
	}}

	cfg := defaultCfg()
	cfg.EnableDataGate = false
	cfg.EnableExecGate = true
	cfg.ExecGateStrict = true
	cfg.EnableVerification = false
	orch := New(cfg, graph, spawner, store, dir)

	summary, err := orch.ExecuteAll(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Aborted)
	assert.Equal(t, "exec_gate_failed", summary.AbortReason)
}

func TestExecuteAll_VerificationGateRefutes(t *testing.T) {
	store, dir := newChecker(t)
	require.NoError(t, store.RecordExec(evidence.ExecEntry{Command: "go build ./...", Success: true}))

	graph := taskgraph.New(dir)
	require.NoError(t, graph.Add(&taskgraph.Task{ID: "build", Content: "build the project", TaskType: taskgraph.TaskCode, RequiresVerification: true}))

	spawner := &fakeSpawner{handler: func(profile, task string) string {
		if profile == "verifier" {
			return `{"verdict":"refuted","confidence":0.9,"reasoning":"no evidence the claimed output was produced"}`
		}
		return "done"
	}}

	cfg := defaultCfg()
	cfg.EnableDataGate = false
	cfg.EnableExecGate = false
	cfg.EnableVerification = true
	cfg.VerificationStrict = true
	orch := New(cfg, graph, spawner, store, dir)
	orch.WithOriginalGoal("build and verify the project")

	summary, err := orch.ExecuteAll(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Aborted)
	assert.Equal(t, "llm_verification_failed", summary.AbortReason)
}

func TestExecuteAll_VerificationGatePassesOnConfidentVerdict(t *testing.T) {
	store, dir := newChecker(t)
	graph := taskgraph.New(dir)
	require.NoError(t, graph.Add(&taskgraph.Task{ID: "build", Content: "build the project", TaskType: taskgraph.TaskCode, RequiresVerification: true}))

	spawner := &fakeSpawner{handler: func(profile, task string) string {
		if profile == "verifier" {
			return `{"verdict":"verified","confidence":0.95,"reasoning":"exec log shows a successful build"}`
		}
		return "done"
	}}

	cfg := defaultCfg()
	cfg.EnableDataGate = false
	cfg.EnableExecGate = false
	cfg.EnableVerification = true
	cfg.VerificationStrict = true
	orch := New(cfg, graph, spawner, store, dir)

	summary, err := orch.ExecuteAll(context.Background())
	require.NoError(t, err)
	assert.False(t, summary.Aborted)
	assert.True(t, summary.Verification.Passed)
}

func TestRunTask_HonorsCallerDeadline(t *testing.T) {
	// OrchestratorConfig only expresses whole-second timeouts, so the
	// sub-second timeout path is exercised directly against runTask by
	// wrapping the caller's context in a short deadline.
	store, dir := newChecker(t)
	graph := taskgraph.New(dir)
	require.NoError(t, graph.Add(&taskgraph.Task{ID: "slow", Content: "take forever", TaskType: taskgraph.TaskGeneral}))

	spawner := &fakeSpawner{delay: 200 * time.Millisecond}
	cfg := defaultCfg()
	cfg.EnableDataGate, cfg.EnableExecGate, cfg.EnableVerification = false, false, false
	orch := New(cfg, graph, spawner, store, dir)

	task, ok := graph.Get("slow")
	require.True(t, ok)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	result := orch.runTask(ctx, task)
	require.Error(t, result.err)
}
