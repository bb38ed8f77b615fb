package loop

import (
	"github.com/taskforge/engine/llm"
	"github.com/taskforge/engine/tool"
)

// ============================================================================
// SCHEMA TRANSLATION - ToolInfo (C1) -> llm.ToolDefinition (C4)
// ============================================================================

// toolDefinitionsFrom converts the registry's atomic ToolInfo list into the
// JSON-schema shape every LLM provider adapter expects.
func toolDefinitionsFrom(infos []tool.ToolInfo) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		defs = append(defs, llm.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  parametersSchema(info.Parameters),
		})
	}
	return defs
}

// parametersSchema builds a JSON Schema "object" node from a flat parameter
// list, the same shape tool/schema.go's ParametersFromStruct produces for
// skill tools, so both paths hand providers a consistent schema dialect.
func parametersSchema(params []tool.ToolParameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	var required []string

	for _, p := range params {
		prop := map[string]interface{}{
			"type":        jsonType(p.Type),
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Type == "array" && p.Items != nil {
			prop["items"] = p.Items
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonType(t string) string {
	if t == "" {
		return "string"
	}
	return t
}
