// Package provenance implements the Provenance Checker (C8): validation of
// data-acquisition and execution claims against the evidence loggers (C2)
// and the filesystem — never against anything the model itself reported.
// The evidence logs and the filesystem are the only inputs; a task's own
// claimed result is treated as untrusted testimony to be cross-checked,
// not as evidence.
package provenance

import (
	"fmt"
	"time"

	"github.com/taskforge/engine/evidence"
)

// Severity is how seriously a ProvenanceIssue should be taken. Only
// "error" severity flips a ProvenanceResult's Valid to false.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ProvenanceIssue is one finding from a verification call.
type ProvenanceIssue struct {
	Severity Severity               `json:"severity"`
	Category string                 `json:"category"`
	Message  string                 `json:"message"`
	Evidence map[string]interface{} `json:"evidence,omitempty"`
}

func (i ProvenanceIssue) String() string {
	return fmt.Sprintf("[%s] %s: %s", i.Severity, i.Category, i.Message)
}

// ProvenanceResult is the verdict of one verification call.
type ProvenanceResult struct {
	Valid    bool                   `json:"valid"`
	Issues   []ProvenanceIssue      `json:"issues,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func newResult() *ProvenanceResult {
	return &ProvenanceResult{Valid: true, Metadata: map[string]interface{}{"timestamp": time.Now().UTC()}}
}

func (r *ProvenanceResult) addIssue(severity Severity, category, message string, evidence map[string]interface{}) {
	r.Issues = append(r.Issues, ProvenanceIssue{Severity: severity, Category: category, Message: message, Evidence: evidence})
	if severity == SeverityError {
		r.Valid = false
	}
}

// Errors returns only the error-severity issues.
func (r *ProvenanceResult) Errors() []ProvenanceIssue {
	var out []ProvenanceIssue
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			out = append(out, i)
		}
	}
	return out
}

// Warnings returns only the warning-severity issues.
func (r *ProvenanceResult) Warnings() []ProvenanceIssue {
	var out []ProvenanceIssue
	for _, i := range r.Issues {
		if i.Severity == SeverityWarning {
			out = append(out, i)
		}
	}
	return out
}

// Checker verifies claims against one run's evidence logs.
type Checker struct {
	store   *evidence.Store
	workDir string
}

// New wraps an already-open evidence store. workDir resolves relative file
// claims.
func New(store *evidence.Store, workDir string) *Checker {
	if workDir == "" {
		workDir = "."
	}
	return &Checker{store: store, workDir: workDir}
}
