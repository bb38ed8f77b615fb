package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskforge/engine/provenance"
	"github.com/taskforge/engine/taskgraph"
)

// GateIssue is one finding surfaced by a gate, independent of which
// provenance check produced it.
type GateIssue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// GateResult is the pass/fail verdict of one of the three gates (§4.9).
type GateResult struct {
	Passed bool        `json:"passed"`
	Issues []GateIssue `json:"issues,omitempty"`
}

func (r *GateResult) addIssue(category, message string) {
	r.Passed = false
	r.Issues = append(r.Issues, GateIssue{Category: category, Message: message})
}

var acquisitionMarkers = []string{"download", "fetch", "scrape", "retrieve"}

func isDataAcquisitionTask(t *taskgraph.Task) bool {
	if t.TaskType == taskgraph.TaskResearch {
		return true
	}
	if strings.HasPrefix(t.Produces, "file:") {
		return true
	}
	lower := strings.ToLower(t.Content)
	for _, marker := range acquisitionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// batchContainsAnalysis reports whether a batch has a task that consumes
// previously acquired data (code/validate work), the trigger for running
// the data gate before it executes.
func batchContainsAnalysis(batch []*taskgraph.Task) bool {
	for _, t := range batch {
		if t.TaskType == taskgraph.TaskCode || t.TaskType == taskgraph.TaskValidate {
			return true
		}
	}
	return false
}

// batchContainsOutput reports whether a batch has a task that claims an
// artifact or performs validation/review, the trigger for the exec gate.
func batchContainsOutput(batch []*taskgraph.Task) bool {
	for _, t := range batch {
		if t.Produces != "" || t.TaskType == taskgraph.TaskValidate || t.TaskType == taskgraph.TaskReview {
			return true
		}
	}
	return false
}

// claimFromTask extracts a DataAcquisitionClaim from a task's own
// (untrusted) result and produces string, for cross-checking against the
// evidence logs.
func claimFromTask(t *taskgraph.Task) provenance.DataAcquisitionClaim {
	claim := provenance.DataAcquisitionClaim{}

	m, ok := t.Result.(map[string]interface{})
	if !ok {
		// Sub-executors report their result as a plain string (subexec.Result.
		// Output); it may itself be a JSON object the agent emitted.
		if s, ok := t.Result.(string); ok {
			var decoded map[string]interface{}
			if json.Unmarshal([]byte(s), &decoded) == nil {
				m = decoded
			}
		}
	}
	if m != nil {
		if url, ok := m["url"].(string); ok {
			claim.URL = url
		} else if url, ok := m["source_url"].(string); ok {
			claim.URL = url
		}
	}
	if strings.HasPrefix(t.Produces, "file:") {
		parts := strings.SplitN(strings.TrimPrefix(t.Produces, "file:"), ":", 3)
		claim.File = parts[0]
		if len(parts) > 1 {
			claim.ExpectedType = parts[1]
		}
	}
	return claim
}

// runDataGate implements §4.9's run_data_gate: every data-acquisition task
// executed so far (completed or failed) must verify against the fetch log
// and filesystem.
func (o *Orchestrator) runDataGate(_ []*taskgraph.Task) GateResult {
	result := GateResult{Passed: true}
	for _, t := range o.graph.All() {
		if t.Status != taskgraph.StatusCompleted && t.Status != taskgraph.StatusFailed {
			continue // not executed yet
		}
		if !isDataAcquisitionTask(t) {
			continue
		}
		claim := claimFromTask(t)
		if claim.URL == "" && claim.File == "" {
			continue
		}
		pr := o.checker.VerifyDataAcquisition(claim)
		for _, issue := range pr.Errors() {
			result.addIssue(issue.Category, fmt.Sprintf("task %s: %s", t.ID, issue.Message))
		}
	}
	return result
}

// runExecGate implements §4.9's run_exec_gate.
func (o *Orchestrator) runExecGate(_ []*taskgraph.Task) GateResult {
	result := GateResult{Passed: true}
	summary := o.checker.ExecutionSummary()

	if summary.Total == 0 {
		result.addIssue("no_execution_record", "no commands have been executed yet")
		return result
	}

	needsTests := graphHasTaskType(o.graph, taskgraph.TaskValidate)
	if needsTests {
		tr := o.checker.VerifyTestsRan()
		for _, issue := range tr.Errors() {
			result.addIssue(issue.Category, issue.Message)
		}
	}

	failureRate := float64(summary.Failed) / float64(summary.Total)
	if failureRate > 0.5 {
		result.addIssue("exec_gate_failed", fmt.Sprintf("execution failure rate %.0f%% exceeds 50%%", failureRate*100))
	}
	if summary.Timeouts > 0 {
		result.addIssue("execution_timeout", fmt.Sprintf("%d execution(s) timed out", summary.Timeouts))
	}
	return result
}

func graphHasTaskType(g *taskgraph.Graph, taskType taskgraph.TaskType) bool {
	for _, t := range g.All() {
		if t.TaskType == taskType {
			return true
		}
	}
	return false
}

// tasksRequiringVerification implements §4.9's selection rule: explicit
// opt-in, membership in the final executed batch, or an artifact claim.
func (o *Orchestrator) tasksRequiringVerification() []*taskgraph.Task {
	finalBatch := make(map[string]bool, len(o.lastBatchIDs))
	for _, id := range o.lastBatchIDs {
		finalBatch[id] = true
	}
	var out []*taskgraph.Task
	for _, t := range o.graph.All() {
		if t.Status != taskgraph.StatusCompleted {
			continue
		}
		if t.RequiresVerification || finalBatch[t.ID] || t.Produces != "" {
			out = append(out, t)
		}
	}
	return out
}
