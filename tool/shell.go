package tool

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/taskforge/engine/evidence"
)

// ============================================================================
// SHELL EXEC - the atomic shell-exec tool
// ============================================================================

// ShellExecTool runs a command through the shell and records every
// invocation in the exec evidence log synchronously at completion.
type ShellExecTool struct {
	workDir string
	timeout time.Duration
	store   *evidence.Store
}

func NewShellExecTool(workDir string, timeout time.Duration, store *evidence.Store) *ShellExecTool {
	return &ShellExecTool{workDir: workDir, timeout: timeout, store: store}
}

func (t *ShellExecTool) GetName() string        { return "shell_exec" }
func (t *ShellExecTool) GetDescription() string { return t.GetInfo().Description }

func (t *ShellExecTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "shell_exec",
		Description: "Run a shell command and capture its combined stdout/stderr",
		Parameters: []ToolParameter{
			{Name: "command", Type: "string", Description: "Shell command to run (supports pipes and redirects)", Required: true},
			{Name: "working_dir", Type: "string", Description: "Working directory override", Required: false},
		},
		ServerURL: "local",
	}
}

func (t *ShellExecTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return ToolResult{Success: false, Error: "command is required"}, nil
	}

	workDir, _ := args["working_dir"].(string)
	if workDir == "" {
		workDir = t.workDir
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if t.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	start := time.Now()
	cmd := exec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = workDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, runErr := cmd.Output()
	elapsed := time.Since(start)

	timedOut := runCtx.Err() == context.DeadlineExceeded
	exitCode := 0
	success := runErr == nil
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	} else if runErr != nil && !timedOut {
		exitCode = -1
	}

	entry := evidence.ExecEntry{
		Command:    command,
		ExitCode:   exitCode,
		Success:    success,
		Timeout:    timedOut,
		StderrHead: firstN(stderr.String(), 500),
	}
	evidence.ClassifyExec(&entry)
	if t.store != nil {
		_ = t.store.RecordExec(entry)
	}

	result := ToolResult{
		Success:       success,
		Content:       string(output) + stderr.String(),
		ToolName:      "shell_exec",
		ExecutionTime: elapsed,
		Metadata: map[string]interface{}{
			"command":   command,
			"exit_code": exitCode,
			"timeout":   timedOut,
		},
	}
	if !success {
		if timedOut {
			result.Error = "command timed out"
		} else {
			result.Error = strings.TrimSpace(stderr.String())
			if result.Error == "" && runErr != nil {
				result.Error = runErr.Error()
			}
		}
	}
	return result, nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
