package router_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/router"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// mockDriver is a test ProviderDriver that posts to a fixed URL.
type mockDriver struct {
	kind string
	url  string
}

func (d *mockDriver) Kind() string { return d.kind }

func (d *mockDriver) Encode(ctx context.Context, cfg contracts.ProviderConfig, req *models.CompletionRequest) (*http.Request, []byte, error) {
	body, _ := json.Marshal(req)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, nil)
	if err != nil {
		return nil, body, err
	}
	r.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	return r, body, nil
}

func (d *mockDriver) Decode(body []byte) (*models.Completion, error) {
	return &models.Completion{Text: string(body)}, nil
}

func newTestRouter(t *testing.T, providers map[string]contracts.ProviderConfig) *router.ModelRouter {
	t.Helper()
	return router.NewModelRouter(router.Config{
		DefaultProvider: "gemini",
		Timeout:         2 * time.Second,
		MaxRetries:      2,
		RetryBackoff:    time.Millisecond,
		Providers:       providers,
	}, nil)
}

func TestBuiltinDriversRegistered(t *testing.T) {
	mr := newTestRouter(t, nil)
	assert.Equal(t, []string{"anthropic", "gemini", "ollama", "openai"}, mr.ListDrivers())
}

func TestRegisterAndGetDriver(t *testing.T) {
	mr := newTestRouter(t, nil)

	mr.RegisterDriver(&mockDriver{kind: "test-provider"})

	got := mr.GetDriver("test-provider")
	if got == nil {
		t.Fatal("GetDriver() returned nil for registered driver")
	}
	if got.Kind() != "test-provider" {
		t.Errorf("GetDriver().Kind() = %q, want %q", got.Kind(), "test-provider")
	}
	if mr.GetDriver("nonexistent") != nil {
		t.Error("GetDriver(nonexistent) should return nil")
	}
}

func TestProviderFor(t *testing.T) {
	mr := newTestRouter(t, nil)

	tests := []struct {
		model string
		want  string
	}{
		{"gemini-2.5-flash", "gemini"},
		{"claude-sonnet-4", "anthropic"},
		{"gpt-4o", "openai"},
		{"o3-mini", "openai"},
		{"llama3.1:8b", "ollama"},
		{"openai/some-custom-model", "openai"},
		{"mystery-model", "gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, mr.ProviderFor(tt.model))
		})
	}
}

func openAIServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]interface{})) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &body))
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestComplete_OpenAIText(t *testing.T) {
	srv := openAIServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
		assert.Equal(t, "gemini-2.5-flash", body["model"])
		msgs := body["messages"].([]interface{})
		require.Len(t, msgs, 2)
		assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"4"}}],"usage":{"prompt_tokens":10,"completion_tokens":1}}`)
	})

	mr := newTestRouter(t, map[string]contracts.ProviderConfig{
		"gemini": {BaseURL: srv.URL, APIKey: "secret-key"},
	})
	out, exchanges, err := mr.Complete(context.Background(), &models.CompletionRequest{
		Model:        "gemini-2.5-flash",
		SystemPrompt: "Be terse.",
		Messages:     []models.ChatMessage{{Role: "user", Content: "2+2?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "4", out.Text)
	assert.Equal(t, int64(10), out.InputTokens)
	assert.Equal(t, int64(1), out.OutputTokens)

	require.Len(t, exchanges, 1)
	ex := exchanges[0]
	assert.Equal(t, 200, ex.Response.StatusCode)
	assert.Equal(t, "[REDACTED]", ex.Request.Headers["Authorization"])
	assert.NotContains(t, string(ex.Request.Body), "secret-key")
	assert.Equal(t, http.MethodPost, ex.Request.Method)
}

func TestComplete_OpenAIToolCalls(t *testing.T) {
	srv := openAIServer(t, func(w http.ResponseWriter, body map[string]interface{}) {
		tools := body["tools"].([]interface{})
		require.Len(t, tools, 1)
		fn := tools[0].(map[string]interface{})["function"].(map[string]interface{})
		assert.Equal(t, "weather", fn["name"])

		msgs := body["messages"].([]interface{})
		last := msgs[len(msgs)-1].(map[string]interface{})
		assert.Equal(t, "tool", last["role"])
		assert.Equal(t, "call_0", last["tool_call_id"])

		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"weather","arguments":"{\"city\":\"Pune\"}"}}]}}]}`)
	})

	mr := newTestRouter(t, map[string]contracts.ProviderConfig{"openai": {BaseURL: srv.URL, APIKey: "k"}})
	out, _, err := mr.Complete(context.Background(), &models.CompletionRequest{
		Model: "gpt-4o",
		Messages: []models.ChatMessage{
			{Role: "user", Content: "weather?"},
			{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "call_0", Name: "weather", Arguments: map[string]interface{}{}}}},
			{Role: "tool", ToolCallID: "call_0", Name: "weather", Content: "unknown"},
		},
		Tools: []models.ToolSpec{{Name: "weather", Parameters: map[string]interface{}{"type": "object"}}},
	})
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "call_1", out.ToolCalls[0].ID)
	assert.Equal(t, "Pune", out.ToolCalls[0].Arguments["city"])
}

func TestComplete_RetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := openAIServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":"overloaded"}`)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"content":"ok"}}]}`)
	})

	mr := newTestRouter(t, map[string]contracts.ProviderConfig{"gemini": {BaseURL: srv.URL, APIKey: "k"}})
	out, exchanges, err := mr.Complete(context.Background(), &models.CompletionRequest{Model: "gemini-2.5-flash"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Text)
	require.Len(t, exchanges, 3)
	assert.Equal(t, 503, exchanges[0].Response.StatusCode)
	assert.NotEmpty(t, exchanges[0].Error)
	assert.Equal(t, 3, exchanges[2].Attempt)
}

func TestComplete_ExhaustsRetries(t *testing.T) {
	var calls int32
	srv := openAIServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	mr := newTestRouter(t, map[string]contracts.ProviderConfig{"gemini": {BaseURL: srv.URL, APIKey: "k"}})
	_, exchanges, err := mr.Complete(context.Background(), &models.CompletionRequest{Model: "gemini-2.5-flash"})
	require.Error(t, err)

	var ce *router.CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 429, ce.StatusCode)
	assert.Len(t, exchanges, 3)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestComplete_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := openAIServer(t, func(w http.ResponseWriter, _ map[string]interface{}) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"bad model"}}`)
	})

	mr := newTestRouter(t, map[string]contracts.ProviderConfig{"gemini": {BaseURL: srv.URL, APIKey: "k"}})
	_, exchanges, err := mr.Complete(context.Background(), &models.CompletionRequest{Model: "gemini-2.5-flash"})
	require.Error(t, err)
	assert.Len(t, exchanges, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.JSONEq(t, `{"error":{"message":"bad model"}}`, string(exchanges[0].Response.Body))
}

func TestComplete_MissingAPIKey(t *testing.T) {
	mr := newTestRouter(t, nil)
	_, exchanges, err := mr.Complete(context.Background(), &models.CompletionRequest{Model: "gemini-2.5-flash"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key not configured")
	require.Len(t, exchanges, 1, "a failed attempt is still captured")
	assert.Contains(t, exchanges[0].Request.URL, "generativelanguage.googleapis.com")
}

func TestComplete_Anthropic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body struct {
			System   string `json:"system"`
			Messages []struct {
				Role    string                   `json:"role"`
				Content []map[string]interface{} `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sys", body.System)
		require.Len(t, body.Messages, 3)
		// Both tool results merge into one user turn.
		assert.Equal(t, "user", body.Messages[2].Role)
		assert.Len(t, body.Messages[2].Content, 2)
		assert.Equal(t, "tool_result", body.Messages[2].Content[0]["type"])

		io.WriteString(w, `{"content":[{"type":"text","text":"done"},{"type":"tool_use","id":"tu_1","name":"lookup","input":{"q":"x"}}],
			"usage":{"input_tokens":5,"output_tokens":7}}`)
	}))
	defer srv.Close()

	mr := newTestRouter(t, map[string]contracts.ProviderConfig{"anthropic": {BaseURL: srv.URL, APIKey: "k"}})
	out, exchanges, err := mr.Complete(context.Background(), &models.CompletionRequest{
		Model:        "claude-sonnet-4",
		SystemPrompt: "sys",
		Messages: []models.ChatMessage{
			{Role: "user", Content: "hi"},
			{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "a", Name: "lookup"}, {ID: "b", Name: "lookup"}}},
			{Role: "tool", ToolCallID: "a", Content: "1"},
			{Role: "tool", ToolCallID: "b", Content: "2"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out.Text)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "x", out.ToolCalls[0].Arguments["q"])
	assert.Equal(t, int64(7), out.OutputTokens)
	assert.Equal(t, "[REDACTED]", exchanges[0].Request.Headers["X-Api-Key"])
}

func TestComplete_CustomDriver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "plain text reply")
	}))
	defer srv.Close()

	mr := newTestRouter(t, nil)
	mr.RegisterDriver(&mockDriver{kind: "mock", url: srv.URL})

	out, exchanges, err := mr.Complete(context.Background(), &models.CompletionRequest{Model: "mock/anything"})
	require.NoError(t, err)
	assert.Equal(t, "plain text reply", out.Text)
	assert.JSONEq(t, `"plain text reply"`, string(exchanges[0].Response.Body))
}
