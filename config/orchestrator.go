package config

import "fmt"

// OrchestratorConfig drives the C9 orchestrator: parallelism, per-task
// timeout, and the three verification-gate strictness flags.
type OrchestratorConfig struct {
	MaxParallelTasks int `yaml:"max_parallel_tasks,omitempty"`
	TaskTimeoutSecs  int `yaml:"task_timeout,omitempty"`

	EnableDataGate bool `yaml:"enable_data_gate,omitempty"`
	DataGateStrict bool `yaml:"data_gate_strict,omitempty"`

	EnableExecGate bool `yaml:"enable_exec_gate,omitempty"`
	ExecGateStrict bool `yaml:"exec_gate_strict,omitempty"`

	EnableVerification    bool    `yaml:"enable_verification,omitempty"`
	VerificationStrict    bool    `yaml:"verification_strict,omitempty"`
	VerificationThreshold float64 `yaml:"verification_threshold,omitempty"`

	LogDir string `yaml:"log_dir,omitempty"` // evidence log directory (C2)
}

func (c *OrchestratorConfig) Validate() error {
	if c.MaxParallelTasks < 0 {
		return fmt.Errorf("max_parallel_tasks must be non-negative")
	}
	if c.VerificationThreshold < 0 || c.VerificationThreshold > 1 {
		return fmt.Errorf("verification_threshold must be in [0,1]")
	}
	return nil
}

func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxParallelTasks == 0 {
		c.MaxParallelTasks = 4
	}
	if c.TaskTimeoutSecs == 0 {
		c.TaskTimeoutSecs = 300
	}
	if c.VerificationThreshold == 0 {
		c.VerificationThreshold = 0.7
	}
	if c.LogDir == "" {
		c.LogDir = "_logs"
	}
}
