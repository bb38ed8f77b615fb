package config

import "fmt"

// ToolConfigs configures the C1 tool registry: the atomic local set plus
// any optional remote (MCP) sources.
type ToolConfigs struct {
	CommandTimeout int              `yaml:"command_timeout,omitempty"` // seconds
	WorkingDir     string           `yaml:"working_dir,omitempty"`
	MCPServers     []MCPServerConfig `yaml:"mcp_servers,omitempty"`
	Skills         []SkillPluginConfig `yaml:"skill_plugins,omitempty"`
}

func (c *ToolConfigs) Validate() error {
	for i, s := range c.MCPServers {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("mcp_servers[%d]: %w", i, err)
		}
	}
	return nil
}

func (c *ToolConfigs) SetDefaults() {
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 120
	}
	if c.WorkingDir == "" {
		c.WorkingDir = "."
	}
}

// MCPServerConfig points the tool registry at an external MCP tool source.
type MCPServerConfig struct {
	Name    string `yaml:"name"`
	Command string `yaml:"command,omitempty"` // stdio transport
	URL     string `yaml:"url,omitempty"`      // http/sse transport
}

func (c *MCPServerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Command == "" && c.URL == "" {
		return fmt.Errorf("either command or url is required")
	}
	return nil
}

// SkillPluginConfig points the optional "skill" tool at an external
// go-plugin binary implementing a single workflow-text skill.
type SkillPluginConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// SkillTrigger associates a regex-matched task phrase with a skill
// workflow text, injected by the agent loop before the user's task message
// (spec §4.5 "Pre-task skill injection").
type SkillTrigger struct {
	Pattern  string `yaml:"pattern"`
	Workflow string `yaml:"workflow"`
}
