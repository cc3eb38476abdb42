package models

import (
	"encoding/json"
	"strings"
	"time"
)

// DefaultModel is used for agents created without an explicit model.
const DefaultModel = "gemini-2.5-flash"

// ── Agent ────────────────────────────────────────────────────

// Agent is a configured persona: a model, a system prompt and the tools
// it may call during a turn.
type Agent struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Model        string     `json:"model"`
	SystemPrompt string     `json:"system_prompt"`
	Tools        []Tool     `json:"tools"`
	CreatedDate  time.Time  `json:"created_date"`
	UpdatedDate  time.Time  `json:"updated_date"`
	LastUsedDate *time.Time `json:"last_used_date"`
	Invocations  int64      `json:"invocations"`
}

// ── Tool ─────────────────────────────────────────────────────

// ToolType is the closed set of tool variants an agent may carry.
type ToolType string

const (
	ToolTypeMCP   ToolType = "mcp"
	ToolTypeAPI   ToolType = "api"
	ToolTypeAgent ToolType = "agent"
)

// MCPType selects the transport of an MCP tool.
type MCPType string

const (
	MCPTypeURL     MCPType = "url"
	MCPTypeCommand MCPType = "command"
)

// Tool is a tagged union over {MCP, API, Agent}. Only the fields for the
// tool's Type (and MCPType) are meaningful.
type Tool struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Type        ToolType `json:"type"`

	// MCP
	MCPType MCPType `json:"mcp_type,omitempty"`

	// MCP/URL and API
	URL                 string `json:"url,omitempty"`
	AuthorizationHeader string `json:"authorization_header,omitempty"`

	// MCP/Command
	Command    string `json:"command,omitempty"`
	Parameters string `json:"parameters,omitempty"`

	// Agent
	AgentID   int64  `json:"agent_id,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
}

// ── Session & Message ────────────────────────────────────────

// Session is a conversation bound to exactly one agent.
type Session struct {
	ID           int64     `json:"id"`
	AgentID      int64     `json:"agent_id"`
	AgentName    string    `json:"agent_name,omitempty"`
	CreatedDate  time.Time `json:"created_date"`
	LastUsedDate time.Time `json:"last_used_date"`
	Invocations  int64     `json:"invocations"`
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one append-only conversation entry.
type Message struct {
	ID        int64     `json:"id"`
	AgentID   int64     `json:"agent_id"`
	SessionID int64     `json:"session_id"`
	Datetime  time.Time `json:"datetime"`
	Role      Role      `json:"role"`
	Message   string    `json:"message"`
}

// ── User & Token ─────────────────────────────────────────────

type User struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Username      string     `json:"username"`
	PasswordHash  string     `json:"-"`
	CreatedDate   time.Time  `json:"created_date"`
	LastLoginDate *time.Time `json:"last_login_date"`

	// Populated on admin reads.
	Tokens []AuthorizationToken `json:"tokens,omitempty"`
}

// AuthorizationToken is a bearer credential for the invocation API.
// Token holds the plaintext value only on the response that minted it;
// the store keeps TokenDigest.
type AuthorizationToken struct {
	ID             int64      `json:"id"`
	UserID         int64      `json:"user_id"`
	AgentID        *int64     `json:"agent_id"`
	Token          string     `json:"token,omitempty"`
	TokenDigest    string     `json:"-"`
	TokenHint      string     `json:"token_hint"`
	Active         bool       `json:"active"`
	CreatedDate    time.Time  `json:"created_date"`
	LastUsedDate   *time.Time `json:"last_used_date"`
	ExpireDate     *time.Time `json:"expire_date"`
	Invocations    int64      `json:"invocations"`
	MaxInvocations *int64     `json:"max_invocations"`
}

// Usable reports whether the token may be spent at instant now.
func (t *AuthorizationToken) Usable(now time.Time) bool {
	return t.Active && !t.ExpiredAt(now) && !t.Exhausted()
}

// ExpiredAt reports whether now is at or past the token's expiry.
func (t *AuthorizationToken) ExpiredAt(now time.Time) bool {
	return t.ExpireDate != nil && !now.Before(*t.ExpireDate)
}

// Exhausted reports whether the invocation cap has been reached.
func (t *AuthorizationToken) Exhausted() bool {
	return t.MaxInvocations != nil && t.Invocations >= *t.MaxInvocations
}

// ── Logs ─────────────────────────────────────────────────────

// APIRequest is the captured outbound model request.
type APIRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// APIResponse is the captured model response. Body holds the raw payload
// (or error text when the transport failed before a response arrived).
type APIResponse struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       json.RawMessage   `json:"body,omitempty"`
}

// ModelLog is the immutable audit row for one model call attempt.
type ModelLog struct {
	ID            int64       `json:"id"`
	Datetime      time.Time   `json:"datetime"`
	Model         string      `json:"model"`
	AgentID       int64       `json:"agent_id"`
	SessionID     *int64      `json:"session_id"`
	MessageID     *int64      `json:"message_id"`
	Attempt       int         `json:"attempt"`
	APIRequest    APIRequest  `json:"apiRequest"`
	APIResponse   APIResponse `json:"apiResponse"`
	UserQuery     string      `json:"user_query"`
	AgentResponse string      `json:"agent_response"`
	Error         string      `json:"error,omitempty"`
	Duration      int64       `json:"duration"`
	InputTokens   int64       `json:"input_tokens"`
	OutputTokens  int64       `json:"output_tokens"`
	Tokens        int64       `json:"tokens"`
}

// AgentTestLog records an ad-hoc test panel call outside any session.
type AgentTestLog struct {
	ID       int64     `json:"id"`
	AgentID  int64     `json:"agent_id"`
	Datetime time.Time `json:"datetime"`
	Query    string    `json:"query"`
	Response string    `json:"response"`
}

type ChangeEvent string

const (
	ChangeCreate ChangeEvent = "create"
	ChangeEdit   ChangeEvent = "edit"
	ChangeDelete ChangeEvent = "delete"
)

// AgentChangeLog is the append-only audit trail of admin agent mutations.
type AgentChangeLog struct {
	ID          int64       `json:"id"`
	UserID      int64       `json:"user_id"`
	AgentID     int64       `json:"agent_id"`
	Datetime    time.Time   `json:"datetime"`
	Event       ChangeEvent `json:"event"`
	Description string      `json:"description"`
}

// ── Chat Completion ──────────────────────────────────────────

// ChatMessage is one entry of the conversation context sent to a model.
// Tool results use Role "tool" with ToolCallID set; assistant turns that
// requested tools carry ToolCalls.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// CompletionRequest is one chat-completion call: the agent's system
// prompt, the conversation so far and the tools on offer.
type CompletionRequest struct {
	Model        string        `json:"model"`
	SystemPrompt string        `json:"system_prompt"`
	Messages     []ChatMessage `json:"messages"`
	Tools        []ToolSpec    `json:"tools,omitempty"`
}

// Completion is a model's reply: either final text or tool calls.
type Completion struct {
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	InputTokens  int64      `json:"input_tokens"`
	OutputTokens int64      `json:"output_tokens"`
}

// Exchange is the captured HTTP round trip of one model call attempt.
// Secret headers are redacted before capture.
type Exchange struct {
	Attempt  int         `json:"attempt"`
	Started  time.Time   `json:"started"`
	Duration int64       `json:"duration"` // ms
	Request  APIRequest  `json:"request"`
	Response APIResponse `json:"response"`
	Error    string      `json:"error,omitempty"`
}

// ToolCall is a model's request to run one tool.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolSpec describes a callable tool to the model.
type ToolSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// ToolResult is what a tool call produced. Errors are data: IsError marks
// a failed call whose Content explains the failure.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// TokenUsage is the token accounting of one model call.
type TokenUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// ── MCP Protocol Types ───────────────────────────────────────

type MCPRequest struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type MCPResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *MCPError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type MCPToolCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type MCPToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

type MCPContent struct {
	Type string `json:"type"` // text, image, resource
	Text string `json:"text,omitempty"`
}

// Text joins the text parts of an MCP tool result.
func (r *MCPToolResult) Text() string {
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" || c.Type == "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ── Invocation API ───────────────────────────────────────────

type CreateSessionResponse struct {
	SessionID int64 `json:"session_id"`
}

type InvokeRequest struct {
	UserQuery string `json:"UserQuery"`
}

type InvokeResponse struct {
	Response string `json:"response"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
