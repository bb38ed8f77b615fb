package config

import "fmt"

// LLMProviderConfig configures a single named LLM backend (C4).
type LLMProviderConfig struct {
	Type            string  `yaml:"type"` // "ollama", "openai", "anthropic", "gemini"
	Model           string  `yaml:"model"`
	APIKey          string  `yaml:"api_key,omitempty"`
	Host            string  `yaml:"host,omitempty"`
	Temperature     float64 `yaml:"temperature,omitempty"`
	MaxTokens       int     `yaml:"max_tokens,omitempty"`
	Timeout         int     `yaml:"timeout,omitempty"` // seconds
	MaxRetries      int     `yaml:"max_retries,omitempty"`
	RetryDelay      int     `yaml:"retry_delay,omitempty"` // seconds, base delay for backoff
	ReasoningEffort string  `yaml:"reasoning_effort,omitempty"` // forwarded verbatim if the transport supports it (spec §9 open question)
	EnableCaching   bool    `yaml:"enable_caching,omitempty"`
}

func (c *LLMProviderConfig) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("type is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	return nil
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "ollama"
	}
	if c.Host == "" {
		switch c.Type {
		case "openai":
			c.Host = "https://api.openai.com/v1"
		case "anthropic":
			c.Host = "https://api.anthropic.com"
		case "gemini":
			c.Host = "https://generativelanguage.googleapis.com"
		default:
			c.Host = "http://localhost:11434"
		}
	}
	if c.Temperature == 0 {
		c.Temperature = 0.7
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 120
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 1
	}
}
