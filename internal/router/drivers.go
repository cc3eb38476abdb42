package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// Built-in provider kinds.
const (
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindGemini    = "gemini"
	KindOllama    = "ollama"
)

// ── OpenAI-compatible Driver ────────────────────────────────

// OpenAIDriver speaks the OpenAI chat completions API. Gemini and Ollama
// expose the same API on their own base URLs.
type OpenAIDriver struct {
	kind       string
	baseURL    string
	requireKey bool
}

func (d *OpenAIDriver) Kind() string { return d.kind }

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    *string          `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

type openAITool struct {
	Type     string          `json:"type"`
	Function models.ToolSpec `json:"function"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
	Tools    []openAITool    `json:"tools,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func strPtr(s string) *string { return &s }

func (d *OpenAIDriver) Encode(ctx context.Context, cfg contracts.ProviderConfig, req *models.CompletionRequest) (*http.Request, []byte, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = d.baseURL
	}

	wire := openAIRequest{Model: req.Model}
	if req.SystemPrompt != "" {
		wire.Messages = append(wire.Messages, openAIMessage{Role: "system", Content: strPtr(req.SystemPrompt)})
	}
	for _, m := range req.Messages {
		om := openAIMessage{Role: m.Role, Content: strPtr(m.Content), ToolCallID: m.ToolCallID}
		if m.Role == "tool" {
			om.Name = m.Name
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, nil, err
			}
			call := openAIToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, call)
		}
		if len(om.ToolCalls) > 0 && m.Content == "" {
			om.Content = nil
		}
		wire.Messages = append(wire.Messages, om)
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, openAITool{Type: "function", Function: t})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, body, fmt.Errorf("%s: create request: %w", d.kind, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	} else if d.requireKey {
		return httpReq, body, fmt.Errorf("%s: api key not configured", d.kind)
	}
	return httpReq, body, nil
}

func (d *OpenAIDriver) Decode(body []byte) (*models.Completion, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("response has no choices")
	}

	msg := resp.Choices[0].Message
	out := &models.Completion{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if msg.Content != nil {
		out.Text = *msg.Content
	}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.New().String()
		}
		out.ToolCalls = append(out.ToolCalls, models.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: parseArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

// parseArguments decodes a JSON object of tool arguments. Malformed input
// is passed through under "_raw" so the tool sees what the model sent.
func parseArguments(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	if strings.TrimSpace(raw) == "" {
		return args
	}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]interface{}{"_raw": raw}
	}
	return args
}

// ── Anthropic Driver ────────────────────────────────────────

// AnthropicDriver speaks the Anthropic Messages API.
type AnthropicDriver struct{}

func (d *AnthropicDriver) Kind() string { return KindAnthropic }

const anthropicVersion = "2023-06-01"

type anthropicBlock struct {
	Type      string                 `json:"type"`
	Text      string                 `json:"text,omitempty"`
	ID        string                 `json:"id,omitempty"`
	Name      string                 `json:"name,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	ToolUseID string                 `json:"tool_use_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
	MaxTokens int                `json:"max_tokens"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func (d *AnthropicDriver) Encode(ctx context.Context, cfg contracts.ProviderConfig, req *models.CompletionRequest) (*http.Request, []byte, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.anthropic.com"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	wire := anthropicRequest{Model: req.Model, System: req.SystemPrompt, MaxTokens: maxTokens}
	for _, m := range req.Messages {
		var (
			role  = m.Role
			block anthropicBlock
		)
		switch m.Role {
		case "tool":
			// Tool results travel as user turns.
			role = "user"
			block = anthropicBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
		default:
			block = anthropicBlock{Type: "text", Text: m.Content}
		}

		blocks := []anthropicBlock{}
		if block.Type != "text" || block.Text != "" {
			blocks = append(blocks, block)
		}
		for _, tc := range m.ToolCalls {
			input := tc.Arguments
			if input == nil {
				input = map[string]interface{}{}
			}
			blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
		}

		// Consecutive same-role turns merge into one message.
		if n := len(wire.Messages); n > 0 && wire.Messages[n-1].Role == role {
			wire.Messages[n-1].Content = append(wire.Messages[n-1].Content, blocks...)
			continue
		}
		wire.Messages = append(wire.Messages, anthropicMessage{Role: role, Content: blocks})
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, body, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	if cfg.APIKey == "" {
		return httpReq, body, errors.New("anthropic: api key not configured")
	}
	httpReq.Header.Set("x-api-key", cfg.APIKey)
	return httpReq, body, nil
}

func (d *AnthropicDriver) Decode(body []byte) (*models.Completion, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	out := &models.Completion{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}
	var text []string
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			text = append(text, b.Text)
		case "tool_use":
			args := b.Input
			if args == nil {
				args = map[string]interface{}{}
			}
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	out.Text = strings.Join(text, "")
	return out, nil
}
