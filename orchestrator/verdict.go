package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/taskforge/engine/taskgraph"
)

// VerificationVerdict is the structured judgment the "verifier" sub-executor
// returns for one task, built from evidence-log context rather than the
// task's own say-so.
type VerificationVerdict struct {
	Verdict               string   `json:"verdict"` // verified | refuted | insufficient
	Confidence            float64  `json:"confidence"`
	Reasoning             string   `json:"reasoning"`
	Issues                []string `json:"issues,omitempty"`
	SupportingFacts       []string `json:"supporting_facts,omitempty"`
	FabricationIndicators []string `json:"fabrication_indicators,omitempty"`
	MissingEvidence       []string `json:"missing_evidence,omitempty"`
}

// parseVerdict tolerates a verifier response that wraps its JSON object in
// prose (a common LLM habit) by extracting between the first '{' and the
// last '}' when a direct unmarshal fails.
func parseVerdict(raw string) (VerificationVerdict, error) {
	var v VerificationVerdict
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v, nil
	}
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return v, fmt.Errorf("no JSON object found in verifier output")
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return v, fmt.Errorf("malformed verifier JSON: %w", err)
	}
	return v, nil
}

// runLLMVerificationGate implements §4.9's LLM verification gate: each
// candidate task is handed only evidence-log and filesystem context (never
// its own claimed result alone) and a "verifier" sub-executor judges
// whether the evidence actually supports the claim.
func (o *Orchestrator) runLLMVerificationGate(ctx context.Context, tasks []*taskgraph.Task) GateResult {
	result := GateResult{Passed: true}
	for _, t := range tasks {
		verdict, err := o.verifyTask(ctx, t)
		if err != nil {
			result.addIssue("verification_error", fmt.Sprintf("task %s: %v", t.ID, err))
			continue
		}
		if verdict.Verdict != "verified" || verdict.Confidence < o.cfg.VerificationThreshold {
			msg := fmt.Sprintf("task %s: verdict=%s confidence=%.2f reasoning=%s", t.ID, verdict.Verdict, verdict.Confidence, verdict.Reasoning)
			result.addIssue("llm_verification_failed", msg)
		}
	}
	return result
}

func (o *Orchestrator) verifyTask(ctx context.Context, t *taskgraph.Task) (VerificationVerdict, error) {
	prompt := o.buildVerificationPrompt(t)
	res := o.spawner.Spawn(ctx, "verifier", prompt)
	if !res.Success {
		return VerificationVerdict{}, fmt.Errorf("verifier sub-executor failed: %s", res.Error)
	}
	return parseVerdict(res.Output)
}

// buildVerificationPrompt assembles the context block the verifier judges
// from: the original goal, the task's claim, recent fetch/exec log entries,
// the claimed artifact's own filesystem state, and the error recorded on
// the task, if any.
func (o *Orchestrator) buildVerificationPrompt(t *taskgraph.Task) string {
	var sb strings.Builder

	sb.WriteString("Judge whether the evidence below actually supports this task's claimed result. Do not trust the claimed result by itself.\n\n")

	if o.original != "" {
		fmt.Fprintf(&sb, "ORIGINAL USER GOAL:\n%s\n\n", o.original)
	}

	fmt.Fprintf(&sb, "TASK:\n%s\n\n", t.Content)

	claimed := fmt.Sprintf("%v", t.Result)
	if len(claimed) > 1024 {
		claimed = claimed[:1024] + "...(truncated)"
	}
	fmt.Fprintf(&sb, "CLAIMED RESULT (untrusted, do not take at face value):\n%s\n\n", claimed)

	if t.Produces != "" {
		fmt.Fprintf(&sb, "CLAIMED ARTIFACT: %s\n", t.Produces)
		if path := artifactPath(t.Produces); path != "" {
			if !strings.HasPrefix(path, "/") {
				path = o.workDir + "/" + path
			}
			sb.WriteString(describeFile(path))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("RECENT FETCH LOG:\n")
	for _, f := range o.store.RecentFetches(5) {
		fmt.Fprintf(&sb, "- %s -> status=%d success=%v bytes=%d\n", f.URL, f.StatusCode, f.Success, f.ContentLength)
	}

	sb.WriteString("\nRECENT EXECUTION LOG:\n")
	for _, e := range o.store.RecentExecutions(5) {
		fmt.Fprintf(&sb, "- %s -> success=%v exit=%d\n", e.Command, e.Success, e.ExitCode)
	}

	if t.Error != "" {
		fmt.Fprintf(&sb, "\nRECORDED TASK ERROR: %s\n", t.Error)
	}

	sb.WriteString("\nRespond with a single JSON object: {\"verdict\": \"verified\"|\"refuted\"|\"insufficient\", \"confidence\": 0.0-1.0, \"reasoning\": \"...\", \"issues\": [...], \"supporting_facts\": [...], \"fabrication_indicators\": [...], \"missing_evidence\": [...]}\n")

	return sb.String()
}

func artifactPath(produces string) string {
	if !strings.HasPrefix(produces, "file:") {
		return ""
	}
	rest := strings.TrimPrefix(produces, "file:")
	parts := strings.SplitN(rest, ":", 2)
	return parts[0]
}

func describeFile(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("FILE STATE: %s does not exist on disk\n", path)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "FILE STATE: %s exists, size=%d bytes\n", path, info.Size())
	data, err := os.ReadFile(path)
	if err == nil {
		preview := string(data)
		if len(preview) > 500 {
			preview = preview[:500] + "...(truncated)"
		}
		fmt.Fprintf(&sb, "FILE PREVIEW:\n%s\n", preview)
	}
	return sb.String()
}
