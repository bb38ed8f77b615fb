package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/taskforge/engine/config"
	"github.com/taskforge/engine/evidence"
	"github.com/taskforge/engine/llm"
	"github.com/taskforge/engine/observability"
	"github.com/taskforge/engine/services"
	"github.com/taskforge/engine/session"
	"github.com/taskforge/engine/tool"
)

// engine bundles every long-lived collaborator one CLI invocation needs,
// built once from the config file (if any) and CLI flag overrides.
type engine struct {
	cfg     *config.Config
	llms    *llm.LLMRegistry
	tools   *tool.Registry
	store   *evidence.Store
	sess    session.Store
	obs     *observability.Manager
	svc     *services.Registry
	workDir string
}

// buildEngine assembles every collaborator named in SPEC_FULL.md §2's
// package table: config → LLM registry → evidence store → tool registry →
// session store → observability manager.
func buildEngine(ctx context.Context, cli *CLI) (*engine, error) {
	cfg, err := loadConfig(cli)
	if err != nil {
		return nil, err
	}
	applyCLIOverrides(cfg, cli)

	llms := llm.NewLLMRegistry()
	if len(cfg.LLMs) == 0 {
		cfg.LLMs = map[string]config.LLMProviderConfig{"default": providerConfigFromModel(cli.Model)}
		cfg.Agent.LLM = "default"
	}
	for name, llmCfg := range cfg.LLMs {
		llmCfg := llmCfg
		if _, err := llms.CreateLLMFromConfig(name, &llmCfg); err != nil {
			return nil, fmt.Errorf("taskengine: llm %q: %w", name, err)
		}
	}
	if cfg.Agent.LLM == "" {
		for name := range cfg.LLMs {
			cfg.Agent.LLM = name
			break
		}
	}

	store, err := evidence.Open(cfg.Orchestrator.LogDir)
	if err != nil {
		return nil, fmt.Errorf("taskengine: %w", err)
	}

	cfg.Tools.WorkingDir = cfg.Agent.WorkingDir
	if cli.LoadTools != "" {
		if err := mergeExtraTools(&cfg.Tools, cli.LoadTools); err != nil {
			store.Close()
			return nil, err
		}
	}

	svc, err := services.Open(cfg.Services)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("taskengine: %w", err)
	}
	var svcForTools *services.Registry
	if cfg.Services.Path != "" {
		svcForTools = svc
	}
	tools, err := tool.BuildRegistry(ctx, &cfg.Tools, store, askUserFromStdin, svcForTools)
	if err != nil {
		svc.Close()
		store.Close()
		return nil, fmt.Errorf("taskengine: %w", err)
	}

	sess, err := session.Open(cfg.Session)
	if err != nil {
		svc.Close()
		store.Close()
		return nil, fmt.Errorf("taskengine: %w", err)
	}

	obs, err := observability.NewManager(ctx, cfg.Observability, session.Lister{Store: sess})
	if err != nil {
		svc.Close()
		store.Close()
		sess.Close()
		return nil, fmt.Errorf("taskengine: %w", err)
	}
	tools.WithMetrics(obs.Metrics())

	return &engine{
		cfg:     cfg,
		llms:    llms,
		tools:   tools,
		store:   store,
		sess:    sess,
		obs:     obs,
		svc:     svc,
		workDir: cfg.Agent.WorkingDir,
	}, nil
}

func (e *engine) Close() {
	e.obs.Shutdown(context.Background())
	e.sess.Close()
	e.store.Close()
	e.svc.Close()
}

func loadConfig(cli *CLI) (*config.Config, error) {
	if cli.Config != "" {
		return config.Load(cli.Config)
	}
	return config.Zero(), nil
}

// applyCLIOverrides lets flags win over whatever a config file set, per
// spec §6's flag list.
func applyCLIOverrides(cfg *config.Config, cli *CLI) {
	if cli.ProjectDir != "" {
		cfg.Agent.WorkingDir = cli.ProjectDir
	}
	if cli.MaxIterations > 0 {
		cfg.Agent.Reasoning.MaxIterations = cli.MaxIterations
	}
	if cli.Temperature > 0 {
		for name, llmCfg := range cfg.LLMs {
			llmCfg.Temperature = cli.Temperature
			cfg.LLMs[name] = llmCfg
		}
	}
	if cli.SystemPrompt != "" {
		if data, err := os.ReadFile(cli.SystemPrompt); err == nil {
			cfg.Agent.Prompt.SystemPrompt = string(data)
		}
	}
	if cli.SessionBackend != "" {
		cfg.Session.Backend = cli.SessionBackend
	}
	if cli.SessionDir != "" {
		cfg.Session.Dir = cli.SessionDir
	}
	if cli.StatusAddr != "" {
		cfg.Observability.StatusAddr = cli.StatusAddr
	}
	cfg.SetDefaults()
}

// providerConfigFromModel builds a single ad-hoc LLM config from just a
// model id, inferring its provider type the same way the teacher's
// zero-config mode infers provider from model name prefix.
func providerConfigFromModel(model string) config.LLMProviderConfig {
	if model == "" {
		model = "llama3"
	}
	cfg := config.LLMProviderConfig{Model: model}
	switch {
	case strings.HasPrefix(model, "claude"):
		cfg.Type = "anthropic"
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	case strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		cfg.Type = "openai"
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	case strings.HasPrefix(model, "gemini"):
		cfg.Type = "gemini"
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	default:
		cfg.Type = "ollama"
	}
	return cfg
}

// mergeExtraTools loads a YAML file of extra MCP servers / skill plugins
// (--load-tools) and merges them into cfg, additively.
func mergeExtraTools(cfg *config.ToolConfigs, path string) error {
	var extra config.ToolConfigs
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("taskengine: --load-tools %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &extra); err != nil {
		return fmt.Errorf("taskengine: --load-tools %s: %w", path, err)
	}
	cfg.MCPServers = append(cfg.MCPServers, extra.MCPServers...)
	cfg.Skills = append(cfg.Skills, extra.Skills...)
	return nil
}
