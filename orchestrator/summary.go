package orchestrator

// Summary is the user-facing report of one ExecuteAll run (spec §7's
// "user-visible failure modes" made concrete): counts, gate verdicts, and
// the reason execution stopped early, if it did.
type Summary struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	DataGate     GateResult `json:"data_gate"`
	ExecGate     GateResult `json:"exec_gate"`
	Verification GateResult `json:"verification_gate"`

	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason,omitempty"`

	// GateFailures accumulates every issue recorded by a failing gate,
	// tagged with which gate raised it, for a single top-level report
	// instead of three separate ones a caller has to stitch together.
	GateFailures []GateIssue `json:"gate_failures,omitempty"`
}

func newSummary() *Summary {
	return &Summary{
		DataGate:     GateResult{Passed: true},
		ExecGate:     GateResult{Passed: true},
		Verification: GateResult{Passed: true},
	}
}

// recordGateIssues appends a gate's issues to the run-wide failure list,
// prefixing each with the gate category that raised it so the source is
// traceable without holding onto three separate GateResults.
func (s *Summary) recordGateIssues(gate string, issues []GateIssue) {
	for _, issue := range issues {
		s.GateFailures = append(s.GateFailures, GateIssue{
			Category: gate + "/" + issue.Category,
			Message:  issue.Message,
		})
	}
}
