package config

import "fmt"

// ExecutorProfile configures one named sub-executor profile (C6).
type ExecutorProfile struct {
	Name          string   `yaml:"name,omitempty"`
	Description   string   `yaml:"description,omitempty"`
	SystemPrompt  string   `yaml:"system_prompt,omitempty"`
	LLM           string   `yaml:"llm,omitempty"`
	MaxIterations int      `yaml:"max_iterations,omitempty"`
	AllowedTools  []string `yaml:"allowed_tools,omitempty"` // nil/empty = all tools
	Temperature   float64  `yaml:"temperature,omitempty"`
}

func (c *ExecutorProfile) Validate() error {
	if c.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be non-negative")
	}
	return nil
}

func (c *ExecutorProfile) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 15
	}
	if c.Temperature == 0 {
		c.Temperature = 0.3
	}
}

// DefaultExecutorProfiles returns the built-in profile table from spec §4.6.
func DefaultExecutorProfiles() map[string]ExecutorProfile {
	profiles := map[string]ExecutorProfile{
		"explore": {
			Name:         "explore",
			Description:  "Fast read-only search",
			AllowedTools: []string{"file_read", "file_list", "search_files", "search_content", "shell_exec"},
		},
		"debug": {
			Name:         "debug",
			Description:  "Error investigation",
			AllowedTools: []string{"file_read", "file_list", "search_files", "search_content", "shell_exec", "web_search", "web_fetch", "skill"},
		},
		"research": {
			Name:         "research",
			Description:  "External knowledge",
			AllowedTools: []string{"web_search", "web_fetch", "file_read", "search_files", "search_content"},
		},
		"plan": {
			Name:         "plan",
			Description:  "Planning (read-mostly)",
			AllowedTools: []string{"file_read", "file_list", "search_files", "search_content", "shell_exec", "web_search", "web_fetch", "skill", "todo_write"},
		},
		"general": {
			Name:        "general",
			Description: "Complex multi-step",
			// nil AllowedTools == every registered tool.
		},
		"verifier": {
			Name:         "verifier",
			Description:  "Independent verification",
			AllowedTools: []string{"file_read", "file_list", "search_content"},
			Temperature:  0,
		},
		// Not in spec §4.6's profile table, but §4.9's executor-selection
		// rule routes task_type=review here by name; added as a read-mostly
		// sibling of verifier rather than silently falling back to general.
		"reviewer": {
			Name:         "reviewer",
			Description:  "Code and output review",
			AllowedTools: []string{"file_read", "file_list", "search_files", "search_content"},
			Temperature:  0.2,
		},
	}
	for name, p := range profiles {
		p.Name = name
		p.SetDefaults()
		profiles[name] = p
	}
	return profiles
}
