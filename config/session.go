package config

import "fmt"

// SessionConfig selects and configures the session-snapshot backend (§6).
type SessionConfig struct {
	Backend string `yaml:"backend,omitempty"` // "file" (default) or "sqlite"
	Dir     string `yaml:"dir,omitempty"`      // directory for file backend / sqlite file
}

func (c *SessionConfig) Validate() error {
	switch c.Backend {
	case "", "file", "sqlite":
		return nil
	default:
		return fmt.Errorf("unknown session backend %q", c.Backend)
	}
}

func (c *SessionConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "file"
	}
	if c.Dir == "" {
		c.Dir = ".sessions"
	}
}

// ObservabilityConfig drives the ambient OpenTelemetry wiring.
type ObservabilityConfig struct {
	ServiceName    string `yaml:"service_name,omitempty"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"` // empty = stdout exporter only
	MetricsEnabled bool   `yaml:"metrics_enabled,omitempty"`
	StatusAddr     string `yaml:"status_addr,omitempty"` // empty = status server disabled
}

func (c *ObservabilityConfig) Validate() error { return nil }

func (c *ObservabilityConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "taskengine"
	}
	c.MetricsEnabled = true
}

// ServicesConfig points at the optional YAML registry of containerized
// simulation services that tools may consult (spec §6).
type ServicesConfig struct {
	Path         string `yaml:"path,omitempty"`
	WatchReloads bool   `yaml:"watch_reloads,omitempty"`
}
