package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/taskforge/engine/config"
	"github.com/taskforge/engine/internal/ollamaclient"
)

// ============================================================================
// OLLAMA LLM PROVIDER IMPLEMENTATION
// ============================================================================
//
// Ollama's /api/chat endpoint accepts the same message-array-plus-tools shape
// as the hosted providers, so OllamaProvider implements the same Generate
// contract instead of the older single-prompt form.

// OllamaProvider implements LLMProvider for Ollama.
type OllamaProvider struct {
	config *config.LLMProviderConfig
	client *ollamaclient.Client
}

// ollamaChatMessage is Ollama's wire format for one conversation turn.
type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function ollamaFunctionCall `json:"function"`
}

type ollamaFunctionCall struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type ollamaChatResponse struct {
	Message   ollamaChatMessage `json:"message"`
	Done      bool              `json:"done"`
	EvalCount int               `json:"eval_count"`
}

// NewOllamaProviderFromConfig creates a new Ollama provider from config.
func NewOllamaProviderFromConfig(cfg *config.LLMProviderConfig) (*OllamaProvider, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OllamaProvider{
		config: cfg,
		client: ollamaclient.NewClientWithTimeout(cfg.Host, time.Duration(cfg.Timeout)*time.Second),
	}, nil
}

func (o *OllamaProvider) buildChatRequest(messages []Message, stream bool, tools []ToolDefinition) map[string]interface{} {
	chatMessages := make([]ollamaChatMessage, 0, len(messages))
	for _, msg := range messages {
		cm := ollamaChatMessage{Role: msg.Role, Content: msg.Content}
		if msg.Role == "tool" {
			cm.Role = "tool"
		}
		for _, tc := range msg.ToolCalls {
			cm.ToolCalls = append(cm.ToolCalls, ollamaToolCall{
				Function: ollamaFunctionCall{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		chatMessages = append(chatMessages, cm)
	}

	payload := map[string]interface{}{
		"model":    o.config.Model,
		"messages": chatMessages,
		"stream":   stream,
		"options": map[string]interface{}{
			"temperature": o.config.Temperature,
			"num_predict": o.config.MaxTokens,
		},
	}

	if len(tools) > 0 {
		ollamaTools := make([]ollamaTool, len(tools))
		for i, t := range tools {
			ollamaTools[i] = ollamaTool{
				Type: "function",
				Function: ollamaToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
		payload["tools"] = ollamaTools
	}

	return payload
}

// Generate implements LLMProvider.Generate.
func (o *OllamaProvider) Generate(messages []Message, tools []ToolDefinition) (string, []ToolCall, int, error) {
	payload := o.buildChatRequest(messages, false, tools)

	resp, err := o.client.MakeRequest(context.Background(), "/api/chat", payload)
	if err != nil {
		return "", nil, 0, fmt.Errorf("failed to call Ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", nil, 0, fmt.Errorf("Ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", nil, 0, fmt.Errorf("failed to decode response: %w", err)
	}

	var toolCalls []ToolCall
	for i, tc := range chatResp.Message.ToolCalls {
		rawArgs, _ := json.Marshal(tc.Function.Arguments)
		toolCalls = append(toolCalls, ToolCall{
			ID:        fmt.Sprintf("ollama-%d", i),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
			RawArgs:   string(rawArgs),
		})
	}

	return chatResp.Message.Content, toolCalls, chatResp.EvalCount, nil
}

// GenerateStreaming implements LLMProvider.GenerateStreaming.
func (o *OllamaProvider) GenerateStreaming(messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	payload := o.buildChatRequest(messages, true, tools)
	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		resp, err := o.client.MakeStreamingRequest(context.Background(), "/api/chat", payload)
		if err != nil {
			outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("failed to call Ollama API: %w", err)}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("Ollama API error (status %d): %s", resp.StatusCode, string(body))}
			return
		}

		decoder := json.NewDecoder(resp.Body)
		var totalTokens int
		for {
			var chunk ollamaChatResponse
			if err := decoder.Decode(&chunk); err != nil {
				if err == io.EOF {
					break
				}
				outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("failed to decode streaming response: %w", err)}
				return
			}

			if chunk.Message.Content != "" {
				outputCh <- StreamChunk{Type: "text", Text: chunk.Message.Content}
			}
			for i, tc := range chunk.Message.ToolCalls {
				rawArgs, _ := json.Marshal(tc.Function.Arguments)
				outputCh <- StreamChunk{Type: "tool_call", ToolCall: &ToolCall{
					ID:        fmt.Sprintf("ollama-%d", i),
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
					RawArgs:   string(rawArgs),
				}}
			}
			if chunk.Done {
				totalTokens = chunk.EvalCount
				break
			}
		}

		outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	}()

	return outputCh, nil
}

// GetModelName implements LLMProvider.GetModelName.
func (o *OllamaProvider) GetModelName() string { return o.config.Model }

// GetMaxTokens implements LLMProvider.GetMaxTokens.
func (o *OllamaProvider) GetMaxTokens() int { return o.config.MaxTokens }

// GetTemperature implements LLMProvider.GetTemperature.
func (o *OllamaProvider) GetTemperature() float64 { return o.config.Temperature }

// Close implements LLMProvider.Close.
func (o *OllamaProvider) Close() error { return nil }
