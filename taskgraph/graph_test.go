package taskgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAdd(t *testing.T, g *Graph, task *Task) {
	t.Helper()
	require.NoError(t, g.Add(task))
}

func TestLinearChain(t *testing.T) {
	g := New(t.TempDir())
	mustAdd(t, g, &Task{ID: "A", TaskType: TaskResearch, ResultKey: "r"})
	mustAdd(t, g, &Task{ID: "B", TaskType: TaskCode, DependsOn: []string{"A"}})
	mustAdd(t, g, &Task{ID: "C", TaskType: TaskValidate, DependsOn: []string{"B"}})

	batches, err := g.ExecutionOrder()
	require.NoError(t, err)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"A"}, batches[0])
	assert.Equal(t, []string{"B"}, batches[1])
	assert.Equal(t, []string{"C"}, batches[2])

	require.NoError(t, g.SetTaskResult("A", "result-A", nil))
	inputs := g.ResultsFor("B")
	assert.Equal(t, map[string]interface{}{"r": "result-A"}, inputs)

	require.NoError(t, g.SetTaskResult("B", "result-B", nil))
	require.NoError(t, g.SetTaskResult("C", "result-C", nil))

	cTask, ok := g.Get("C")
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, cTask.Status)
}

func TestParallelFanIn(t *testing.T) {
	g := New(t.TempDir())
	mustAdd(t, g, &Task{ID: "R1", CanParallel: true})
	mustAdd(t, g, &Task{ID: "R2", CanParallel: true})
	mustAdd(t, g, &Task{ID: "R3", CanParallel: true})
	mustAdd(t, g, &Task{ID: "D", DependsOn: []string{"R1", "R2", "R3"}})

	batches, err := g.ExecutionOrder()
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.ElementsMatch(t, []string{"R1", "R2", "R3"}, batches[0])
	assert.Equal(t, []string{"D"}, batches[1])

	parallel := g.ParallelBatch()
	assert.Len(t, parallel, 3)

	dTask, _ := g.Get("D")
	assert.Equal(t, StatusBlocked, dTask.Status, "D depends on incomplete tasks")

	for _, id := range []string{"R1", "R2", "R3"} {
		require.NoError(t, g.SetTaskResult(id, nil, nil))
	}
	dTask, _ = g.Get("D")
	assert.Equal(t, StatusPending, dTask.Status, "D should unblock once all deps complete")
}

func TestCycleRejection(t *testing.T) {
	g := New(t.TempDir())
	mustAdd(t, g, &Task{ID: "A", DependsOn: []string{"B"}})
	err := g.Add(&Task{ID: "B", DependsOn: []string{"A"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle_detected")

	// the rejected task must not have been retained.
	_, ok := g.Get("B")
	assert.False(t, ok)
}

func TestUnknownDependencyRejected(t *testing.T) {
	g := New(t.TempDir())
	err := g.Add(&Task{ID: "A", DependsOn: []string{"ghost"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown_dependency")
}

func TestDependencyPriority(t *testing.T) {
	g := New(t.TempDir())
	mustAdd(t, g, &Task{ID: "A"})
	mustAdd(t, g, &Task{ID: "B", DependsOn: []string{"A"}})
	mustAdd(t, g, &Task{ID: "C", DependsOn: []string{"A"}})
	mustAdd(t, g, &Task{ID: "D", DependsOn: []string{"B", "C"}})

	batches, err := g.ExecutionOrder()
	require.NoError(t, err)

	batchOf := make(map[string]int)
	for i, batch := range batches {
		for _, id := range batch {
			batchOf[id] = i
		}
	}
	assert.Less(t, batchOf["A"], batchOf["B"])
	assert.Less(t, batchOf["A"], batchOf["C"])
	assert.Less(t, batchOf["B"], batchOf["D"])
	assert.Less(t, batchOf["C"], batchOf["D"])
}

func TestSetTaskResult_Failure(t *testing.T) {
	g := New(t.TempDir())
	mustAdd(t, g, &Task{ID: "A"})
	require.NoError(t, g.SetTaskResult("A", nil, fmt.Errorf("boom")))
	task, _ := g.Get("A")
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, "boom", task.Error)
}

func TestArtifactValidation_FileMissing(t *testing.T) {
	dir := t.TempDir()
	g := New(dir)
	mustAdd(t, g, &Task{ID: "F", Produces: "file:out/data.csv:csv:100"})

	require.NoError(t, g.SetTaskResult("F", map[string]interface{}{"url": "https://example.org/x.csv"}, nil))
	task, _ := g.Get("F")
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.Error, "artifact_missing")
}

func TestArtifactValidation_CSVRowCount(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out"), 0o755))
	csvContent := "a,b\n1,2\n3,4\n5,6\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "data.csv"), []byte(csvContent), 0o644))

	g := New(dir)
	mustAdd(t, g, &Task{ID: "F", Produces: "file:out/data.csv:csv:3"})
	require.NoError(t, g.SetTaskResult("F", "ok", nil))
	task, _ := g.Get("F")
	assert.Equal(t, StatusCompleted, task.Status)
}

func TestArtifactValidation_CSVRowCountTooFew(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "out"), 0o755))
	csvContent := "a,b\n1,2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out", "data.csv"), []byte(csvContent), 0o644))

	g := New(dir)
	mustAdd(t, g, &Task{ID: "F", Produces: "file:out/data.csv:csv:5+"})
	require.NoError(t, g.SetTaskResult("F", "ok", nil))
	task, _ := g.Get("F")
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.Error, "artifact_row_count")
}

func TestTargetValidation(t *testing.T) {
	g := New(t.TempDir())
	mustAdd(t, g, &Task{ID: "T", Target: &Target{Metric: "accuracy", Operator: OpGE, Value: 0.9}})

	require.NoError(t, g.SetTaskResult("T", map[string]interface{}{"accuracy": 0.95}, nil))
	task, _ := g.Get("T")
	assert.Equal(t, StatusCompleted, task.Status)
}

func TestTargetValidation_NotMet(t *testing.T) {
	g := New(t.TempDir())
	mustAdd(t, g, &Task{ID: "T", Target: &Target{Metric: "accuracy", Operator: OpGE, Value: 0.9}})

	require.NoError(t, g.SetTaskResult("T", map[string]interface{}{"accuracy": 0.5}, nil))
	task, _ := g.Get("T")
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.Error, "target_not_met")
}

func TestTargetValidation_RawNumericResult(t *testing.T) {
	g := New(t.TempDir())
	mustAdd(t, g, &Task{ID: "T", Target: &Target{Metric: "score", Operator: OpGT, Value: 10}})
	require.NoError(t, g.SetTaskResult("T", 15.0, nil))
	task, _ := g.Get("T")
	assert.Equal(t, StatusCompleted, task.Status)
}

func TestResultsFor_SnapshotNotAffectedByLaterPublish(t *testing.T) {
	g := New(t.TempDir())
	mustAdd(t, g, &Task{ID: "A", ResultKey: "k"})
	mustAdd(t, g, &Task{ID: "B", DependsOn: []string{"A"}})

	require.NoError(t, g.SetTaskResult("A", "first", nil))
	inputs := g.ResultsFor("B")
	assert.Equal(t, "first", inputs["k"])

	// A later task republishing the same key does not retroactively change
	// a snapshot already taken.
	snapshot := inputs["k"]
	mustAdd(t, g, &Task{ID: "C", ResultKey: "k", DependsOn: []string{"A"}})
	require.NoError(t, g.SetTaskResult("C", "second", nil))
	assert.Equal(t, "first", snapshot)
}

func TestJSONArtifact(t *testing.T) {
	dir := t.TempDir()
	data, err := json.Marshal([]map[string]int{{"a": 1}, {"a": 2}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rows.json"), data, 0o644))

	g := New(dir)
	mustAdd(t, g, &Task{ID: "J", Produces: "file:rows.json:json:2"})
	require.NoError(t, g.SetTaskResult("J", "ok", nil))
	task, _ := g.Get("J")
	assert.Equal(t, StatusCompleted, task.Status)
}
