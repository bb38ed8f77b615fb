// Package taskgraph implements the Task Graph (C7): a DAG of typed tasks
// with dependencies, artifact/target validation, and result propagation,
// batched for execution by the orchestrator (C9) via iterative Kahn-style
// topological ordering.
package taskgraph

import "time"

// Status is a task's position in its pending->in_progress->(completed|
// failed) lifecycle; blocked is derived from unmet dependencies (G2) and
// cleared automatically once they complete.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
	StatusFailed     Status = "failed"
)

// TaskType classifies a task for gate membership and executor selection
// (§4.9's research/code/validate/review/general dispatch table).
type TaskType string

const (
	TaskResearch TaskType = "research"
	TaskCode     TaskType = "code"
	TaskValidate TaskType = "validate"
	TaskReview   TaskType = "review"
	TaskGeneral  TaskType = "general"
)

// Priority is a scheduling hint; the graph itself only orders by
// dependency, never by priority — consumers (C9) may use it to order
// within a batch.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Operator is one of the six comparison operators a Target may use.
type Operator string

const (
	OpGE Operator = ">="
	OpLE Operator = "<="
	OpGT Operator = ">"
	OpLT Operator = "<"
	OpEQ Operator = "=="
	OpNE Operator = "!="
)

// Target is a numeric success criterion: the named metric, extracted from
// a task's result, must satisfy `actual <op> Value`.
type Target struct {
	Metric   string   `json:"metric"`
	Operator Operator `json:"operator"`
	Value    float64  `json:"value"`
}

// Task is one node in the Task Graph (spec §3).
type Task struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Status      Status   `json:"status"`
	TaskType    TaskType `json:"task_type"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	CanParallel bool     `json:"can_parallel,omitempty"`

	// RequiresVerification opts a task into the C9 LLM verification gate
	// regardless of batch position or produces claim. Not part of spec §3's
	// core field list; added because §4.9's tasks_requiring_verification()
	// explicitly tests a per-task "verify=true" flag the data model didn't
	// otherwise carry.
	RequiresVerification bool `json:"requires_verification,omitempty"`

	Result    interface{} `json:"result,omitempty"`
	ResultKey string      `json:"result_key,omitempty"`
	Error     string      `json:"error,omitempty"`

	// Produces is an artifact claim: "file:<path>[:<type>[:<rows>|<rows>+]]",
	// "data", "metrics", or empty (no claim, no validation).
	Produces string  `json:"produces,omitempty"`
	Target   *Target `json:"target,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// clone returns a defensive copy safe to hand to a caller outside the
// graph's lock.
func (t *Task) clone() *Task {
	cp := *t
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Target != nil {
		target := *t.Target
		cp.Target = &target
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}
