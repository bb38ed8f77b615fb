// Package config provides configuration types and utilities for the task
// execution engine. This file contains the main unified configuration entry
// point, loaded from YAML with environment-variable expansion.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document. One YAML file describes the
// LLM providers, the agent loop defaults, the sub-executor profiles, the
// orchestrator's gate settings, and the ambient (session/observability)
// concerns.
type Config struct {
	Version string `yaml:"version,omitempty"`
	Name    string `yaml:"name,omitempty"`

	LLMs map[string]LLMProviderConfig `yaml:"llms,omitempty"`

	Agent        AgentConfig                 `yaml:"agent,omitempty"`
	SubExecutors map[string]ExecutorProfile  `yaml:"sub_executors,omitempty"`
	Tools        ToolConfigs                 `yaml:"tools,omitempty"`
	Orchestrator OrchestratorConfig          `yaml:"orchestrator,omitempty"`
	Session      SessionConfig               `yaml:"session,omitempty"`
	Observability ObservabilityConfig        `yaml:"observability,omitempty"`
	Services     ServicesConfig              `yaml:"services,omitempty"`
	Skills       map[string]SkillTrigger     `yaml:"skills,omitempty"`
}

// Validate validates the whole configuration tree.
func (c *Config) Validate() error {
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llm %q: %w", name, err)
		}
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	for name, p := range c.SubExecutors {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("sub_executor %q: %w", name, err)
		}
	}
	if err := c.Tools.Validate(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

// SetDefaults fills in zero-valued fields across the configuration tree.
func (c *Config) SetDefaults() {
	for name, llm := range c.LLMs {
		llm.SetDefaults()
		c.LLMs[name] = llm
	}
	c.Agent.SetDefaults()
	for name, p := range c.SubExecutors {
		p.SetDefaults()
		c.SubExecutors[name] = p
	}
	c.Tools.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Session.SetDefaults()
	c.Observability.SetDefaults()
	if c.SubExecutors == nil {
		c.SubExecutors = DefaultExecutorProfiles()
	}
}

// Load reads a YAML config file, expanding ${VAR} / ${VAR:-default} against
// the process environment (after loading .env.local and .env from the
// current working directory, if present), then applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	expanded := expandEnvVars(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Zero returns a zero-config Config with every section defaulted, for
// running the engine without an on-disk config file (matches the
// CLI's --interactive / ad-hoc task usage).
func Zero() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// Every section type validates and defaults itself the same way, so Load
// and SetDefaults can treat them uniformly through ConfigInterface.
var (
	_ ConfigInterface = (*Config)(nil)
	_ ConfigInterface = (*LLMProviderConfig)(nil)
	_ ConfigInterface = (*AgentConfig)(nil)
	_ ConfigInterface = (*ReasoningConfig)(nil)
	_ ConfigInterface = (*PromptConfig)(nil)
	_ ConfigInterface = (*ExecutorProfile)(nil)
	_ ConfigInterface = (*ToolConfigs)(nil)
	_ ConfigInterface = (*OrchestratorConfig)(nil)
	_ ConfigInterface = (*SessionConfig)(nil)
	_ ConfigInterface = (*ObservabilityConfig)(nil)
)
