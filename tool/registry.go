package tool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/taskforge/engine/config"
	"github.com/taskforge/engine/evidence"
	"github.com/taskforge/engine/observability"
	"github.com/taskforge/engine/services"
)

// ============================================================================
// REGISTRY - TOOL SYSTEM CORE (C1)
// ============================================================================

// Registry is the C1 tool registry: a flat name→Tool map plus any number of
// remote ToolSources (MCP servers) consulted when a name isn't local.
// Unknown names and malformed arguments never raise — they come back as a
// failure ToolResult, since the caller is an LLM whose output can't be
// trusted to be well-formed.
type Registry struct {
	tools   map[string]Tool
	sources []ToolSource
	metrics *observability.Metrics
}

// NewRegistry returns an empty registry. Use BuildRegistry to get the
// standard atomic tool set instead of assembling one by hand.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) error {
	name := t.GetName()
	if name == "" {
		return fmt.Errorf("tool: cannot register a tool with an empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool: %q already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *Registry) Unregister(name string) error {
	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("tool: %q not registered", name)
	}
	delete(r.tools, name)
	return nil
}

// WithMetrics wires the run's Prometheus metrics sink; tool invocations are
// recorded through it when set, left nil (no-op) otherwise.
func (r *Registry) WithMetrics(metrics *observability.Metrics) *Registry {
	r.metrics = metrics
	return r
}

// AddSource wires a remote ToolSource (e.g. an MCP server) in. Its tools are
// discovered immediately so ListNames/Schemas/Get see them right away.
func (r *Registry) AddSource(ctx context.Context, s ToolSource) error {
	if err := s.DiscoverTools(ctx); err != nil {
		return fmt.Errorf("tool: discover %s: %w", s.GetName(), err)
	}
	r.sources = append(r.sources, s)
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	if t, ok := r.tools[name]; ok {
		return t, true
	}
	for _, s := range r.sources {
		if t, ok := s.GetTool(name); ok {
			return t, true
		}
	}
	return nil, false
}

func (r *Registry) ListNames() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	for _, s := range r.sources {
		for _, info := range s.ListTools() {
			names = append(names, info.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Schemas() []ToolInfo {
	infos := make([]ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, t.GetInfo())
	}
	for _, s := range r.sources {
		infos = append(infos, s.ListTools()...)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Execute runs the named tool, normalizing every failure mode — unknown
// name, empty args, bad arity, or an error from the tool itself — into a
// failure ToolResult rather than letting it propagate.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) (result ToolResult) {
	start := time.Now()
	defer func() {
		category := ""
		if !result.Success {
			category = "execution_error"
		}
		r.metrics.ObserveToolCall(name, result.Success, category)
	}()

	t, ok := r.Get(name)
	if !ok {
		return ToolResult{Success: false, ToolName: name, Error: fmt.Sprintf("unknown tool %q", name), ExecutionTime: time.Since(start)}
	}

	if len(args) == 0 {
		return ToolResult{Success: false, ToolName: name, Error: "empty arguments — the model's tool call likely got truncated", ExecutionTime: time.Since(start)}
	}

	if missing := missingRequired(t.GetInfo(), args); len(missing) > 0 {
		return ToolResult{
			Success:       false,
			ToolName:      name,
			Error:         fmt.Sprintf("missing required argument(s): %v", missing),
			ExecutionTime: time.Since(start),
		}
	}

	result, err := t.Execute(ctx, args)
	result.ToolName = name
	if result.ExecutionTime == 0 {
		result.ExecutionTime = time.Since(start)
	}
	if err != nil {
		result.Success = false
		if result.Error == "" {
			result.Error = err.Error()
		}
	}
	return result
}

// missingRequired reports declared-required parameters absent from args —
// the "argument-arity mismatch" contract from spec §4.1.
func missingRequired(info ToolInfo, args map[string]interface{}) []string {
	var missing []string
	for _, p := range info.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := args[p.Name]; !ok {
			missing = append(missing, p.Name)
		}
	}
	return missing
}

// AskUserFunc prompts a human and returns their reply; wired by the CLI to
// read from the interactive terminal (spec §4.5.3 ask-user round-trip).
type AskUserFunc func(ctx context.Context, question string) (string, error)

// BuildRegistry assembles the atomic tool set named in spec §4.1: shell-exec,
// file-ops, search, web, todo, ask-user, and (if configured) skill, MCP, and
// services sources. The evidence store is threaded through so shell-exec and
// web-fetch can log synchronously at completion — never reconstructed from
// what the model claims happened.
func BuildRegistry(ctx context.Context, cfg *config.ToolConfigs, store *evidence.Store, askUser AskUserFunc, svc *services.Registry) (*Registry, error) {
	if cfg == nil {
		cfg = &config.ToolConfigs{}
		cfg.SetDefaults()
	}

	r := NewRegistry()
	timeout := time.Duration(cfg.CommandTimeout) * time.Second

	locals := []Tool{
		NewShellExecTool(cfg.WorkingDir, timeout, store),
		NewFileTool(cfg.WorkingDir),
		NewFileListTool(cfg.WorkingDir),
		NewSearchFilesTool(cfg.WorkingDir),
		NewSearchContentTool(cfg.WorkingDir),
		NewWebSearchTool(),
		NewWebFetchTool(store),
		NewTodoTool(),
		NewAskUserTool(askUser),
	}
	if svc != nil {
		locals = append(locals, NewServicesLookupTool(svc))
	}
	for _, t := range locals {
		if err := r.Register(t); err != nil {
			return nil, fmt.Errorf("tool: build registry: %w", err)
		}
	}

	for _, skillCfg := range cfg.Skills {
		skillTool, err := NewSkillTool(skillCfg)
		if err != nil {
			return nil, fmt.Errorf("tool: build registry: skill %s: %w", skillCfg.Name, err)
		}
		if err := r.Register(skillTool); err != nil {
			return nil, fmt.Errorf("tool: build registry: %w", err)
		}
	}

	for _, mcpCfg := range cfg.MCPServers {
		source, err := NewMCPSource(mcpCfg)
		if err != nil {
			return nil, fmt.Errorf("tool: build registry: mcp %s: %w", mcpCfg.Name, err)
		}
		if err := r.AddSource(ctx, source); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// Filtered returns a new Registry exposing only the named tools — used by
// the sub-executor system (C6) to enforce a profile's allow-list and, in
// particular, to keep spawn tools out of a sub-executor's own registry so it
// cannot recurse (P11). A nil allow-list means "every tool".
func (r *Registry) Filtered(allowed []string) *Registry {
	if allowed == nil {
		return r
	}
	allow := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allow[name] = true
	}
	out := NewRegistry()
	for name, t := range r.tools {
		if allow[name] {
			out.tools[name] = t
		}
	}
	for _, s := range r.sources {
		out.sources = append(out.sources, &filteredSource{inner: s, allow: allow})
	}
	out.metrics = r.metrics
	return out
}

// filteredSource narrows a ToolSource's visible tools to an allow-list.
type filteredSource struct {
	inner ToolSource
	allow map[string]bool
}

func (f *filteredSource) GetName() string                        { return f.inner.GetName() }
func (f *filteredSource) GetType() string                        { return f.inner.GetType() }
func (f *filteredSource) DiscoverTools(ctx context.Context) error { return nil }
func (f *filteredSource) ListTools() []ToolInfo {
	var out []ToolInfo
	for _, info := range f.inner.ListTools() {
		if f.allow[info.Name] {
			out = append(out, info)
		}
	}
	return out
}
func (f *filteredSource) GetTool(name string) (Tool, bool) {
	if !f.allow[name] {
		return nil, false
	}
	return f.inner.GetTool(name)
}
