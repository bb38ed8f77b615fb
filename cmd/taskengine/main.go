// Command taskengine is the CLI front-end for the autonomous task
// execution engine (spec §6): a thin collaborator that wires a config, an
// LLM provider, the atomic tool registry, and (with --subagents) the
// task-graph orchestrator, then drives one task — or a REPL of them — to
// completion.
//
// Usage:
//
//	taskengine "add input validation to the signup handler"
//	taskengine --subagents "research the competing libraries and write a comparison doc"
//	taskengine --interactive
//	taskengine --resume sess-abc123 "continue from where we left off"
//	taskengine --list-sessions
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/taskforge/engine"
)

// CLI is the full flag/argument surface named in spec §6.
type CLI struct {
	Task string `arg:"" optional:"" help:"The task to run. Omit with --interactive or --list-sessions."`

	Interactive bool `short:"i" help:"Run a REPL instead of a single task."`

	Model         string `help:"LLM model id, e.g. claude-sonnet-4-20250514, gpt-4o, gemini-2.0-flash, llama3."`
	ProjectDir    string `name:"project-dir" type:"path" help:"Working directory the tools operate in (default: current directory)."`
	LoadTools     string `name:"load-tools" type:"path" help:"Path to a YAML file of extra MCP servers / skill plugins to merge in."`
	Subagents     bool   `help:"Decompose the task into a Task Graph and run it through the orchestrator's sub-executors instead of a single agent loop."`
	Resume        string `help:"Resume an existing session id."`
	ListSessions  bool   `name:"list-sessions" help:"List known sessions and exit."`
	MaxIterations int    `name:"max-iterations" help:"Override the agent loop's iteration budget."`
	Temperature   float64 `help:"Override the LLM sampling temperature."`
	SystemPrompt  string `name:"system-prompt" type:"path" help:"Path to a file whose contents replace the default system prompt."`

	Config         string `short:"c" type:"path" help:"Path to a YAML config file."`
	SessionBackend string `name:"session-backend" help:"Session store backend: file (default) or sqlite."`
	SessionDir     string `name:"session-dir" type:"path" help:"Directory for session snapshots (default: .sessions)."`
	StatusAddr     string `name:"status-addr" help:"If set, start a local status/metrics HTTP server at this address."`
	JSONLogs       bool   `name:"json-logs" help:"Emit structured JSON logs instead of text."`

	Verbose bool `short:"v" help:"Verbose (debug-level) logging."`
	Quiet   bool `short:"q" help:"Quiet: only warnings and errors."`

	VersionFlag kong.VersionFlag `name:"version" help:"Print version information and exit."`
}

// Exit codes per spec §6: 0 success, 1 usage error, 2 unrecovered failure.
const (
	exitOK        = 0
	exitUsage     = 1
	exitUnrecover = 2
)

func main() {
	var cli CLI
	parser, err := kong.New(&cli,
		kong.Name("taskengine"),
		kong.Description("Autonomous task execution engine."),
		kong.UsageOnError(),
		kong.Vars{"version": engine.GetVersion().String()},
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUnrecover)
	}

	if _, err := parser.Parse(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}

	if err := cli.validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}

	code := cli.run()
	os.Exit(code)
}

// validate enforces the positional/flag combinations spec §6 implies
// ("<task> optional when --interactive or --resume") before any engine
// component is constructed.
func (c *CLI) validate() error {
	if c.ListSessions {
		return nil
	}
	if c.Task == "" && !c.Interactive && c.Resume == "" {
		return fmt.Errorf("taskengine: a task is required unless --interactive, --resume, or --list-sessions is given")
	}
	return nil
}
