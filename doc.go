// Package engine is an autonomous task execution engine: given a goal, it
// plans a dependency graph of tasks, runs each through a bounded sub-executor
// agent loop backed by a pluggable LLM provider, and gates the run's
// output against externally observed evidence before trusting it.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/taskforge/engine/cmd/taskengine@latest
//
// Run a task against a config file:
//
//	taskengine "summarize the open issues in this repo" --config taskengine.yaml
//
// Or run ad hoc, with defaults for everything:
//
//	taskengine --interactive
//
// # Using as a Go Library
//
// Import specific packages directly:
//
//	import (
//	    "github.com/taskforge/engine/llm"
//	    "github.com/taskforge/engine/loop"
//	    "github.com/taskforge/engine/taskgraph"
//	    "github.com/taskforge/engine/orchestrator"
//	)
//
// # Architecture
//
// A single run flows: goal → Task Graph (dependency DAG) → Orchestrator,
// which walks the graph in topological batches, dispatching each task to a
// Sub-Executor (a profile-scoped agent loop with its own tool set and
// context window). Three gates guard the run: a data acquisition gate runs
// before a batch holding code or validate tasks, an execution gate before a
// batch that claims an artifact or holds validate or review tasks (each of
// these two runs again before later such batches until it passes once), and
// an LLM-judged verification gate runs once after the last batch. The
// Provenance Checker backing those gates
// never trusts an agent's own claims: it only credits fetch/execution
// evidence logged independently by the tools that did the work.
//
// # Status
//
// This is a young project. APIs may change between releases.
package engine
