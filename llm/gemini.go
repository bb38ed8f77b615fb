package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/taskforge/engine/config"
)

// ============================================================================
// GEMINI LLM PROVIDER IMPLEMENTATION
// ============================================================================

// GeminiProvider implements LLMProvider for Google Gemini via the official
// google.golang.org/genai SDK.
type GeminiProvider struct {
	config *config.LLMProviderConfig
	client *genai.Client
}

// NewGeminiProviderFromConfig creates a new Gemini provider from config.
func NewGeminiProviderFromConfig(cfg *config.LLMProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}
	cfg.SetDefaults()

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiProvider{config: cfg, client: client}, nil
}

// buildContents translates Message history into Gemini's content/role shape,
// pulling out system messages into a separate system instruction the way
// Anthropic's adapter pulls them into a system field.
func (p *GeminiProvider) buildContents(messages []Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content
	var systemText string

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if systemText != "" {
				systemText += "\n\n"
			}
			systemText += msg.Content
		case "tool":
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       msg.ToolCallID,
						Name:     msg.ToolCallID,
						Response: map[string]any{"result": msg.Content},
					},
				}},
			})
		case "assistant":
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID: tc.ID, Name: tc.Name, Args: tc.Arguments,
				}})
			}
			contents = append(contents, &genai.Content{Role: "model", Parts: parts})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: msg.Content}}})
		}
	}

	if systemText != "" {
		systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemText}}}
	}
	return contents, systemInstruction
}

func (p *GeminiProvider) buildConfig(systemInstruction *genai.Content, tools []ToolDefinition) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
		Temperature:       genai.Ptr(float32(p.config.Temperature)),
		MaxOutputTokens:   int32(p.config.MaxTokens),
	}
	if len(tools) > 0 {
		genaiTools := make([]*genai.Tool, len(tools))
		for i, t := range tools {
			genaiTools[i] = &genai.Tool{FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			}}}
		}
		cfg.Tools = genaiTools
	}
	return cfg
}

func toGenaiSchema(schema map[string]interface{}) *genai.Schema {
	if schema == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, prop := range props {
			if propMap, ok := prop.(map[string]interface{}); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]interface{}); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	return s
}

// Generate implements LLMProvider.Generate.
func (p *GeminiProvider) Generate(messages []Message, tools []ToolDefinition) (string, []ToolCall, int, error) {
	contents, systemInstruction := p.buildContents(messages)
	cfg := p.buildConfig(systemInstruction, tools)

	resp, err := p.client.Models.GenerateContent(context.Background(), p.config.Model, contents, cfg)
	if err != nil {
		return "", nil, 0, fmt.Errorf("Gemini generation failed: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil, 0, fmt.Errorf("empty response from Gemini")
	}

	var text string
	var toolCalls []ToolCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			toolCalls = append(toolCalls, ToolCall{
				ID:        part.FunctionCall.ID,
				Name:      part.FunctionCall.Name,
				Arguments: part.FunctionCall.Args,
			})
		}
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return text, toolCalls, tokens, nil
}

// GenerateStreaming implements LLMProvider.GenerateStreaming.
func (p *GeminiProvider) GenerateStreaming(messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	contents, systemInstruction := p.buildContents(messages)
	cfg := p.buildConfig(systemInstruction, tools)
	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)
		var totalTokens int

		for resp, err := range p.client.Models.GenerateContentStream(context.Background(), p.config.Model, contents, cfg) {
			if err != nil {
				outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("Gemini streaming error: %w", err)}
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part.Text != "" {
					outputCh <- StreamChunk{Type: "text", Text: part.Text}
				}
				if part.FunctionCall != nil {
					outputCh <- StreamChunk{Type: "tool_call", ToolCall: &ToolCall{
						ID: part.FunctionCall.ID, Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args,
					}}
				}
			}
			if resp.UsageMetadata != nil {
				totalTokens = int(resp.UsageMetadata.TotalTokenCount)
			}
		}

		outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	}()

	return outputCh, nil
}

// GetModelName implements LLMProvider.GetModelName.
func (p *GeminiProvider) GetModelName() string { return p.config.Model }

// GetMaxTokens implements LLMProvider.GetMaxTokens.
func (p *GeminiProvider) GetMaxTokens() int { return p.config.MaxTokens }

// GetTemperature implements LLMProvider.GetTemperature.
func (p *GeminiProvider) GetTemperature() float64 { return p.config.Temperature }

// Close implements LLMProvider.Close.
func (p *GeminiProvider) Close() error { return nil }
