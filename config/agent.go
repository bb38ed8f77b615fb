package config

import "fmt"

// AgentConfig configures one Agent Loop instance (C5).
type AgentConfig struct {
	LLM         string `yaml:"llm,omitempty"` // name into Config.LLMs
	WorkingDir  string `yaml:"working_dir,omitempty"`
	Verbosity   string `yaml:"verbosity,omitempty"` // "quiet", "normal", "debug"
	AutoSave    bool   `yaml:"auto_save,omitempty"`

	Reasoning ReasoningConfig `yaml:"reasoning,omitempty"`
	Prompt    PromptConfig    `yaml:"prompt,omitempty"`
}

func (c *AgentConfig) Validate() error {
	if err := c.Reasoning.Validate(); err != nil {
		return fmt.Errorf("reasoning: %w", err)
	}
	return nil
}

func (c *AgentConfig) SetDefaults() {
	if c.WorkingDir == "" {
		c.WorkingDir = "."
	}
	if c.Verbosity == "" {
		c.Verbosity = "normal"
	}
	c.Reasoning.SetDefaults()
}

// ReasoningConfig drives the agent loop's iteration budget and display.
//
// Source note (spec §9 open question): the reference implementation used
// 120/50/20 as max-iterations defaults at different call sites. This port
// exposes MaxIterations as a single knob and settles on 25 as the default —
// generous enough for multi-step coding tasks, small enough that a runaway
// loop fails fast in CI.
type ReasoningConfig struct {
	Engine            string `yaml:"engine,omitempty"` // "chain-of-thought", "supervisor"
	MaxIterations     int    `yaml:"max_iterations,omitempty"`
	EnableStreaming   bool   `yaml:"enable_streaming,omitempty"`
	ShowThinking      bool   `yaml:"show_thinking,omitempty"`
	ShowDebugInfo     bool   `yaml:"show_debug_info,omitempty"`
	ShowToolExecution bool   `yaml:"show_tool_execution,omitempty"`
	CompressThreshold int    `yaml:"compress_threshold,omitempty"` // message count (C3)
	TokenBudget       int    `yaml:"token_budget,omitempty"`       // estimated-char/4 budget before forcing compression (C5 step 3)
}

func (c *ReasoningConfig) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be non-negative")
	}
	return nil
}

func (c *ReasoningConfig) SetDefaults() {
	if c.Engine == "" {
		c.Engine = "chain-of-thought"
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 25
	}
	if c.CompressThreshold == 0 {
		c.CompressThreshold = 100
	}
	if c.TokenBudget == 0 {
		c.TokenBudget = 120_000
	}
	c.ShowToolExecution = true
}

// PromptSlots allow a caller to override individual pieces of the strategy's
// assembled system prompt without replacing the whole thing.
type PromptConfig struct {
	SystemPrompt string            `yaml:"system_prompt,omitempty"`
	PromptSlots  map[string]string `yaml:"prompt_slots,omitempty"`
}

func (c *PromptConfig) Validate() error { return nil }
func (c *PromptConfig) SetDefaults()    {}
