package tool

import (
	"context"
	"fmt"
	"net/rpc"
	"os/exec"
	"time"

	"github.com/hashicorp/go-hclog"
	goplugin "github.com/hashicorp/go-plugin"

	"github.com/taskforge/engine/config"
)

// ============================================================================
// SKILL - the optional, out-of-process skill tool
// ============================================================================
//
// A skill is a pre-packaged workflow implemented as a separate executable,
// loaded as a hashicorp/go-plugin over net/rpc. This keeps a skill's
// dependencies (and crashes) out of the host process.

// skillHandshake pins the magic cookie both sides must agree on before a
// plugin binary is trusted.
var skillHandshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "TASKENGINE_SKILL_PLUGIN",
	MagicCookieValue: "taskengine",
}

// SkillRPC is the interface a skill plugin binary implements.
type SkillRPC interface {
	Run(task string) (string, error)
}

// skillRPCClient is the host-side net/rpc stub dispensed to callers.
type skillRPCClient struct{ client *rpc.Client }

func (c *skillRPCClient) Run(task string) (string, error) {
	var resp string
	err := c.client.Call("Plugin.Run", task, &resp)
	return resp, err
}

// skillRPCServer is embedded in the plugin binary; taskengine's host process
// only ever dials the client side, but the type lives here so both sides of
// the contract are defined in one place.
type skillRPCServer struct{ Impl SkillRPC }

func (s *skillRPCServer) Run(task string, resp *string) error {
	out, err := s.Impl.Run(task)
	*resp = out
	return err
}

// SkillPlugin implements goplugin.Plugin for the net/rpc transport.
type SkillPlugin struct {
	Impl SkillRPC
}

func (p *SkillPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &skillRPCServer{Impl: p.Impl}, nil
}

func (p *SkillPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &skillRPCClient{client: c}, nil
}

// SkillTool bridges a dispensed SkillRPC into the Tool interface.
type SkillTool struct {
	name   string
	client *goplugin.Client
	rpc    SkillRPC
}

// NewSkillTool launches the skill plugin binary at cfg.Path and dispenses
// its RPC interface. The subprocess keeps running until Close is called on
// the returned tool; Registry has no shutdown hook that calls it — callers
// must not call this per-invocation.
func NewSkillTool(cfg config.SkillPluginConfig) (*SkillTool, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("skill %s: path is required", cfg.Name)
	}

	client := goplugin.NewClient(&goplugin.ClientConfig{
		HandshakeConfig: skillHandshake,
		Plugins: map[string]goplugin.Plugin{
			"skill": &SkillPlugin{},
		},
		Cmd:    exec.Command(cfg.Path),
		Logger: hclog.New(&hclog.LoggerOptions{Name: "skill-" + cfg.Name, Level: hclog.Warn}),
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("skill %s: connect: %w", cfg.Name, err)
	}

	raw, err := rpcClient.Dispense("skill")
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("skill %s: dispense: %w", cfg.Name, err)
	}

	impl, ok := raw.(SkillRPC)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("skill %s: plugin does not implement SkillRPC", cfg.Name)
	}

	name := cfg.Name
	if name == "" {
		name = "skill"
	}
	return &SkillTool{name: name, client: client, rpc: impl}, nil
}

func (t *SkillTool) GetName() string        { return t.name }
func (t *SkillTool) GetDescription() string { return t.GetInfo().Description }

func (t *SkillTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.name,
		Description: fmt.Sprintf("Run the %s skill plugin against a task description", t.name),
		Parameters: []ToolParameter{
			{Name: "task", Type: "string", Description: "Task description to hand to the skill", Required: true},
		},
		ServerURL: "plugin",
	}
}

func (t *SkillTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	task, _ := args["task"].(string)
	if task == "" {
		return ToolResult{Success: false, Error: "task is required"}, nil
	}

	out, err := t.rpc.Run(task)
	if err != nil {
		return ToolResult{Success: false, ToolName: t.name, Error: err.Error(), ExecutionTime: time.Since(start)}, nil
	}
	return ToolResult{Success: true, ToolName: t.name, Content: out, ExecutionTime: time.Since(start)}, nil
}

// Close terminates the skill plugin subprocess.
func (t *SkillTool) Close() {
	if t.client != nil {
		t.client.Kill()
	}
}
