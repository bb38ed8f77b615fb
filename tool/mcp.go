package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/taskforge/engine/config"
)

// ============================================================================
// MCP - the remote tool source (Model Context Protocol, stdio transport)
// ============================================================================

// MCPSource connects to an external MCP server over stdio and exposes its
// tools through the ToolSource interface so the registry can delegate to
// them exactly like any local tool.
type MCPSource struct {
	cfg config.MCPServerConfig

	mu     sync.RWMutex
	client *client.Client
	tools  map[string]ToolInfo
}

func NewMCPSource(cfg config.MCPServerConfig) (*MCPSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &MCPSource{cfg: cfg, tools: make(map[string]ToolInfo)}, nil
}

func (s *MCPSource) GetName() string { return s.cfg.Name }
func (s *MCPSource) GetType() string { return "mcp" }

// DiscoverTools connects (stdio transport, command-based servers only — the
// atomic set has no HTTP/SSE MCP need) and lists the server's tools.
func (s *MCPSource) DiscoverTools(ctx context.Context) error {
	if s.cfg.Command == "" {
		return fmt.Errorf("mcp %s: only stdio (command) transport is wired; url is reserved for a future HTTP transport", s.cfg.Name)
	}

	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, nil)
	if err != nil {
		return fmt.Errorf("mcp %s: create client: %w", s.cfg.Name, err)
	}
	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("mcp %s: start: %w", s.cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "taskengine", Version: "1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return fmt.Errorf("mcp %s: initialize: %w", s.cfg.Name, err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		mcpClient.Close()
		return fmt.Errorf("mcp %s: list tools: %w", s.cfg.Name, err)
	}

	tools := make(map[string]ToolInfo, len(listResp.Tools))
	for _, mt := range listResp.Tools {
		tools[mt.Name] = ToolInfo{
			Name:        mt.Name,
			Description: mt.Description,
			ServerURL:   s.cfg.Name,
		}
	}

	s.mu.Lock()
	s.client = mcpClient
	s.tools = tools
	s.mu.Unlock()
	return nil
}

func (s *MCPSource) ListTools() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolInfo, 0, len(s.tools))
	for _, info := range s.tools {
		out = append(out, info)
	}
	return out
}

func (s *MCPSource) GetTool(name string) (Tool, bool) {
	s.mu.RLock()
	info, ok := s.tools[name]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &mcpTool{source: s, info: info}, true
}

// Close terminates the MCP subprocess.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// mcpTool adapts one remote tool to the Tool interface.
type mcpTool struct {
	source *MCPSource
	info   ToolInfo
}

func (t *mcpTool) GetName() string        { return t.info.Name }
func (t *mcpTool) GetDescription() string { return t.info.Description }
func (t *mcpTool) GetInfo() ToolInfo      { return t.info }

func (t *mcpTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	t.source.mu.RLock()
	mcpClient := t.source.client
	t.source.mu.RUnlock()
	if mcpClient == nil {
		return ToolResult{Success: false, Error: "mcp source not connected"}, nil
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.info.Name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return ToolResult{Success: false, ToolName: t.info.Name, Error: err.Error(), ExecutionTime: time.Since(start)}, nil
	}

	var texts []string
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	content, _ := json.Marshal(texts)

	if resp.IsError {
		msg := "mcp tool reported an error"
		if len(texts) > 0 {
			msg = texts[0]
		}
		return ToolResult{Success: false, ToolName: t.info.Name, Error: msg, ExecutionTime: time.Since(start)}, nil
	}

	text := ""
	if len(texts) == 1 {
		text = texts[0]
	} else if len(texts) > 1 {
		text = string(content)
	}

	return ToolResult{Success: true, ToolName: t.info.Name, Content: text, ExecutionTime: time.Since(start)}, nil
}
