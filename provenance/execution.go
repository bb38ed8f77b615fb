package provenance

import (
	"fmt"

	"github.com/taskforge/engine/evidence"
)

// VerifyExecution implements §4.8's verify_execution: the most recent exec
// entry matching commandSubstr must exist (when mustHaveRun), succeed (when
// mustHaveSucceeded), and not have timed out.
func (c *Checker) VerifyExecution(commandSubstr string, mustHaveRun, mustHaveSucceeded bool) *ProvenanceResult {
	result := newResult()
	result.Metadata["claimed_command"] = commandSubstr

	if commandSubstr == "" {
		result.addIssue(SeverityError, "no_command", "no command specified to verify", nil)
		return result
	}

	matches := c.store.FindExecution(commandSubstr)
	if len(matches) == 0 {
		if mustHaveRun {
			result.addIssue(SeverityError, "no_execution_record",
				fmt.Sprintf("no execution record found for %q; claims to have run a command but no execution was logged", commandSubstr),
				map[string]interface{}{"claimed_command": commandSubstr})
		}
		return result
	}

	latest := matches[len(matches)-1]
	result.Metadata["execution_entry"] = latest

	if mustHaveSucceeded && !latest.Success {
		result.addIssue(SeverityError, "execution_failed",
			fmt.Sprintf("command execution failed (exit code %d); errors: %v", latest.ExitCode, firstN(latest.ErrorIndicators, 3)),
			execEvidence(latest))
		return result
	}
	if latest.Timeout {
		result.addIssue(SeverityError, "execution_timeout", fmt.Sprintf("command timed out: %s", commandSubstr), execEvidence(latest))
		return result
	}

	result.Metadata["execution_verified"] = true
	return result
}

// VerifyTestsRan implements §4.8's verify_tests_ran: at least one
// verification-flagged exec entry must exist and not all of them may have
// failed.
func (c *Checker) VerifyTestsRan() *ProvenanceResult {
	result := newResult()
	runs := c.store.VerificationRuns()

	if len(runs) == 0 {
		result.addIssue(SeverityError, "no_tests_run",
			"no test/verification commands found in the execution log; claims to have run tests but no test execution was logged", nil)
		return result
	}

	var passed, failed []evidence.ExecEntry
	for _, r := range runs {
		if r.Success {
			passed = append(passed, r)
		} else {
			failed = append(failed, r)
		}
	}
	result.Metadata["total_test_runs"] = len(runs)
	result.Metadata["passed"] = len(passed)
	result.Metadata["failed"] = len(failed)

	switch {
	case len(passed) == 0 && len(failed) > 0:
		result.addIssue(SeverityError, "all_tests_failed",
			fmt.Sprintf("all %d test runs failed; latest failure indicators: %v", len(failed), failed[len(failed)-1].ErrorIndicators),
			map[string]interface{}{"failed_runs": lastN3(failed)})
	case len(failed) > 0:
		result.addIssue(SeverityWarning, "some_tests_failed",
			fmt.Sprintf("%d of %d test runs failed", len(failed), len(runs)),
			map[string]interface{}{"failed_count": len(failed), "passed_count": len(passed)})
	}
	return result
}

// ExecutionSummary implements §4.8's execution_summary().
func (c *Checker) ExecutionSummary() evidence.ExecutionSummary {
	return c.store.ExecutionSummary()
}

func execEvidence(e evidence.ExecEntry) map[string]interface{} {
	return map[string]interface{}{
		"command":   e.Command,
		"exit_code": e.ExitCode,
		"success":   e.Success,
		"timeout":   e.Timeout,
	}
}

func firstN(s []string, n int) []string {
	if n >= len(s) {
		return s
	}
	return s[:n]
}

func lastN3(s []evidence.ExecEntry) []evidence.ExecEntry {
	if len(s) <= 3 {
		return s
	}
	return s[len(s)-3:]
}
