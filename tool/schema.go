package tool

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// ============================================================================
// SCHEMA - typed argument decoding shared by the atomic tool set
// ============================================================================
//
// Each tool's arguments arrive from the LLM as map[string]any (spec §3); a
// tool that wants stricter shape checking than raw map access defines a
// small Go struct for its arguments, decodes into it with mapstructure, and
// derives its ToolParameter list from the same struct via invopop/jsonschema
// — one source of truth for both validation and the schema advertised to
// the model.

// DecodeArgs maps raw LLM-supplied arguments onto a typed struct, tolerating
// unknown keys (the LLM may pass extras) but reporting real type mismatches.
func DecodeArgs[T any](args map[string]interface{}) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		ErrorUnused:      false,
	})
	if err != nil {
		return out, fmt.Errorf("tool: build decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return out, fmt.Errorf("tool: decode arguments: %w", err)
	}
	return out, nil
}

// ParametersFromStruct derives a ToolParameter list from a Go struct's
// jsonschema-tagged fields, so a tool's advertised schema and its decode
// target never drift apart.
func ParametersFromStruct(v interface{}) []ToolParameter {
	reflector := &jsonschema.Reflector{ExpandedStruct: true, DoNotReference: true}
	schema := reflector.Reflect(v)
	if schema == nil || schema.Properties == nil {
		return nil
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	var params []ToolParameter
	for pair := schema.Properties.Oldest(); pair != nil; pair = pair.Next() {
		name, prop := pair.Key, pair.Value
		params = append(params, ToolParameter{
			Name:        name,
			Type:        prop.Type,
			Description: prop.Description,
			Required:    required[name],
		})
	}
	return params
}
