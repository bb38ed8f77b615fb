package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/taskforge/engine/services"
)

// ============================================================================
// SERVICES - the atomic services-lookup tool
// ============================================================================

// ServicesLookupTool lets an agent resolve a containerized simulation
// service's endpoint by name instead of the operator hardcoding one into
// every task prompt (spec §6 services registry).
type ServicesLookupTool struct {
	registry *services.Registry
}

func NewServicesLookupTool(registry *services.Registry) *ServicesLookupTool {
	return &ServicesLookupTool{registry: registry}
}

func (t *ServicesLookupTool) GetName() string        { return "services_lookup" }
func (t *ServicesLookupTool) GetDescription() string { return t.GetInfo().Description }

func (t *ServicesLookupTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        "services_lookup",
		Description: "Look up a containerized simulation service's endpoint by name, or list every registered service",
		Parameters: []ToolParameter{
			{Name: "name", Type: "string", Description: "Service name to resolve; omit to list all registered services", Required: false},
		},
		ServerURL: "local",
	}
}

func (t *ServicesLookupTool) Execute(ctx context.Context, args map[string]interface{}) (ToolResult, error) {
	start := time.Now()
	name, _ := args["name"].(string)

	if name == "" {
		entries := t.registry.List()
		return ToolResult{
			Success:       true,
			Content:       fmt.Sprintf("%d registered service(s)", len(entries)),
			Output:        entries,
			ToolName:      "services_lookup",
			ExecutionTime: time.Since(start),
		}, nil
	}

	entry, ok := t.registry.Lookup(name)
	if !ok {
		return ToolResult{Success: false, Error: fmt.Sprintf("no service registered under %q", name), ToolName: "services_lookup"}, nil
	}
	return ToolResult{
		Success:       true,
		Content:       entry.Endpoint,
		Output:        entry,
		ToolName:      "services_lookup",
		ExecutionTime: time.Since(start),
	}, nil
}
