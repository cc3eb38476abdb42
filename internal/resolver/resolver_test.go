package resolver_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/resolver"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

func newResolver(t *testing.T) (*resolver.Resolver, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return resolver.New(s, nil, resolver.Options{MaxDelegationDepth: 3}), s
}

func addAgent(t *testing.T, s store.Store, name string, tools ...models.Tool) *models.Agent {
	t.Helper()
	a := &models.Agent{Name: name, Model: models.DefaultModel, Tools: tools}
	require.NoError(t, s.CreateAgent(context.Background(), a))
	return a
}

func requireKind(t *testing.T, err error, want resolver.ErrorKind) {
	t.Helper()
	kind, ok := resolver.KindOf(err)
	require.True(t, ok, "expected ToolError, got %v", err)
	assert.Equal(t, want, kind)
}

func TestResolve_ConfigInvalid(t *testing.T) {
	r, s := newResolver(t)
	owner := addAgent(t, s, "owner")

	tests := []struct {
		name string
		tool models.Tool
	}{
		{"mcp url missing", models.Tool{Name: "a", Type: models.ToolTypeMCP, MCPType: models.MCPTypeURL}},
		{"mcp url bad scheme", models.Tool{Name: "a", Type: models.ToolTypeMCP, MCPType: models.MCPTypeURL, URL: "ftp://x"}},
		{"mcp command missing", models.Tool{Name: "a", Type: models.ToolTypeMCP, MCPType: models.MCPTypeCommand}},
		{"mcp command unbalanced", models.Tool{Name: "a", Type: models.ToolTypeMCP, MCPType: models.MCPTypeCommand, Command: `run "x`}},
		{"mcp unknown transport", models.Tool{Name: "a", Type: models.ToolTypeMCP, MCPType: "pigeon"}},
		{"api missing url", models.Tool{Name: "a", Type: models.ToolTypeAPI}},
		{"agent missing id", models.Tool{Name: "a", Type: models.ToolTypeAgent}},
		{"agent unknown", models.Tool{Name: "a", Type: models.ToolTypeAgent, AgentID: 999}},
		{"unknown type", models.Tool{Name: "a", Type: "grpc"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), owner, tt.tool)
			requireKind(t, err, resolver.ToolConfigInvalid)
		})
	}
}

func TestResolve_Idempotent(t *testing.T) {
	r, s := newResolver(t)
	helper := addAgent(t, s, "helper")
	owner := addAgent(t, s, "owner")

	tools := []models.Tool{
		{Name: "web search", Type: models.ToolTypeMCP, MCPType: models.MCPTypeURL, URL: "http://localhost:1/rpc"},
		{Name: "fs", Type: models.ToolTypeMCP, MCPType: models.MCPTypeCommand, Command: "mcp-fs --ro", Parameters: "--root {{path}}"},
		{Name: "weather", Type: models.ToolTypeAPI, URL: "https://api.example/weather"},
		{Name: "ask helper", Type: models.ToolTypeAgent, AgentID: helper.ID},
	}
	for _, tool := range tools {
		c1, err := r.Resolve(context.Background(), owner, tool)
		require.NoError(t, err)
		c2, err := r.Resolve(context.Background(), owner, tool)
		require.NoError(t, err)
		assert.Equal(t, c1.Spec(), c2.Spec(), tool.Name)
	}

	fs, err := r.Resolve(context.Background(), owner, tools[1])
	require.NoError(t, err)
	assert.Equal(t, "fs", fs.Spec().Name)
	assert.Equal(t, []string{"path"}, fs.Spec().Parameters["required"])

	web, _ := r.Resolve(context.Background(), owner, tools[0])
	assert.Equal(t, "web_search", web.Spec().Name)
}

func TestResolveAll_OrderAndDuplicates(t *testing.T) {
	r, s := newResolver(t)
	owner := addAgent(t, s, "owner",
		models.Tool{Name: "lookup", Type: models.ToolTypeAPI, URL: "http://a.local"},
		models.Tool{Name: "other", Type: models.ToolTypeAPI, URL: "http://b.local"},
		models.Tool{Name: "lookup", Type: models.ToolTypeAPI, URL: "http://c.local"},
	)

	callables, err := r.ResolveAll(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, callables, 3)
	assert.Equal(t, "lookup", callables[0].Spec().Name)
	assert.Equal(t, "other", callables[1].Spec().Name)
	assert.Equal(t, "lookup_2", callables[2].Spec().Name)

	clash := addAgent(t, s, "clash",
		models.Tool{Name: "a", Type: models.ToolTypeAPI, URL: "http://a.local"},
		models.Tool{Name: "a", Type: models.ToolTypeAPI, URL: "http://b.local"},
		models.Tool{Name: "a_2", Type: models.ToolTypeAPI, URL: "http://c.local"},
		models.Tool{Name: "a", Type: models.ToolTypeAPI, URL: "http://d.local"},
	)
	callables, err = r.ResolveAll(context.Background(), clash)
	require.NoError(t, err)
	names := make([]string, 0, len(callables))
	for _, c := range callables {
		names = append(names, c.Spec().Name)
	}
	assert.Equal(t, []string{"a", "a_3", "a_2", "a_4"}, names)

	bad := addAgent(t, s, "bad", models.Tool{Name: "x", Type: models.ToolTypeAPI})
	_, err = r.ResolveAll(context.Background(), bad)
	requireKind(t, err, resolver.ToolConfigInvalid)
}

func TestResolve_DelegationCycles(t *testing.T) {
	r, s := newResolver(t)
	ctx := context.Background()

	// Self-loop.
	self := addAgent(t, s, "self")
	self.Tools = []models.Tool{{Name: "me", Type: models.ToolTypeAgent, AgentID: self.ID}}
	require.NoError(t, s.UpdateAgent(ctx, self))
	_, err := r.ResolveAll(ctx, self)
	requireKind(t, err, resolver.DelegationCycle)

	// Two-cycle.
	a := addAgent(t, s, "a")
	b := addAgent(t, s, "b", models.Tool{Name: "to_a", Type: models.ToolTypeAgent, AgentID: a.ID})
	a.Tools = []models.Tool{{Name: "to_b", Type: models.ToolTypeAgent, AgentID: b.ID}}
	require.NoError(t, s.UpdateAgent(ctx, a))
	_, err = r.ResolveAll(ctx, a)
	requireKind(t, err, resolver.DelegationCycle)
	_, err = r.ResolveAll(ctx, b)
	requireKind(t, err, resolver.DelegationCycle)

	// A chain without a loop back to the owner resolves.
	leaf := addAgent(t, s, "leaf")
	mid := addAgent(t, s, "mid", models.Tool{Name: "leaf", Type: models.ToolTypeAgent, AgentID: leaf.ID})
	top := addAgent(t, s, "top", models.Tool{Name: "mid", Type: models.ToolTypeAgent, AgentID: mid.ID})
	_, err = r.ResolveAll(ctx, top)
	assert.NoError(t, err)
}

type fakeDelegator struct {
	calls  []int64
	chains [][]int64
	answer string
}

func (f *fakeDelegator) Delegate(ctx context.Context, agentID int64, query string) (string, error) {
	f.calls = append(f.calls, agentID)
	f.chains = append(f.chains, resolver.DelegationChain(ctx))
	return f.answer + ":" + query, nil
}

func TestAgentTool_CallAndRuntimeGuard(t *testing.T) {
	r, s := newResolver(t)
	helper := addAgent(t, s, "helper")
	owner := addAgent(t, s, "owner")
	d := &fakeDelegator{answer: "done"}
	r.SetDelegator(d)

	c, err := r.Resolve(context.Background(), owner, models.Tool{Name: "helper", Type: models.ToolTypeAgent, AgentID: helper.ID})
	require.NoError(t, err)

	ctx := resolver.WithDelegation(context.Background(), owner.ID)
	res := c.Call(ctx, map[string]interface{}{"query": "hi"})
	assert.False(t, res.IsError, res.Content)
	assert.Equal(t, "done:hi", res.Content)
	assert.Equal(t, []int64{owner.ID, helper.ID}, d.chains[0])

	res = c.Call(ctx, map[string]interface{}{})
	assert.True(t, res.IsError)

	// Target already on the chain.
	looped := resolver.WithDelegation(ctx, helper.ID)
	res = c.Call(looped, map[string]interface{}{"query": "again"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, string(resolver.DelegationCycle))

	// Too deep.
	deep := context.Background()
	for _, id := range []int64{100, 101, 102, 103} {
		deep = resolver.WithDelegation(deep, id)
	}
	res = c.Call(deep, map[string]interface{}{"query": "deep"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, string(resolver.DelegationCycle))
	assert.Len(t, d.calls, 1)
}

func TestAPITool_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fail" {
			http.Error(w, "nope", http.StatusTeapot)
			return
		}
		var args map[string]interface{}
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &args))
		fmt.Fprintf(w, `{"city":%q,"auth":%q}`, args["city"], r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	r, s := newResolver(t)
	owner := addAgent(t, s, "owner")

	c, err := r.Resolve(context.Background(), owner, models.Tool{Name: "weather", Type: models.ToolTypeAPI, URL: srv.URL, AuthorizationHeader: "Bearer w"})
	require.NoError(t, err)
	res := c.Call(context.Background(), map[string]interface{}{"city": "Pune"})
	assert.False(t, res.IsError)
	assert.JSONEq(t, `{"city":"Pune","auth":"Bearer w"}`, res.Content)

	c, err = r.Resolve(context.Background(), owner, models.Tool{Name: "weather", Type: models.ToolTypeAPI, URL: srv.URL + "/fail"})
	require.NoError(t, err)
	res = c.Call(context.Background(), nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, "418")
}

func TestMCPURLTool_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Params models.MCPToolCallParams `json:"params"`
			ID     string                   `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%q,"result":{"content":[{"type":"text","text":"%s=%v"}],"isError":%v}}`,
			req.ID, req.Params.Name, req.Params.Arguments["q"], req.Params.Arguments["q"] == "bad")
	}))
	defer srv.Close()

	r, s := newResolver(t)
	owner := addAgent(t, s, "owner")
	c, err := r.Resolve(context.Background(), owner, models.Tool{Name: "search", Type: models.ToolTypeMCP, MCPType: models.MCPTypeURL, URL: srv.URL})
	require.NoError(t, err)

	res := c.Call(context.Background(), map[string]interface{}{"q": "go"})
	assert.Equal(t, models.ToolResult{Content: "search=go"}, res)

	res = c.Call(context.Background(), map[string]interface{}{"q": "bad"})
	assert.True(t, res.IsError)

	srv.Close()
	res = c.Call(context.Background(), map[string]interface{}{"q": "go"})
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, string(resolver.ToolExecutionError))
}

func TestMCPCommandTool_FailureIsData(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	r, s := newResolver(t)
	owner := addAgent(t, s, "owner")
	c, err := r.Resolve(context.Background(), owner, models.Tool{
		Name: "broken", Type: models.ToolTypeMCP, MCPType: models.MCPTypeCommand,
		Command: `sh -c "echo cannot start >&2; exit 1"`,
	})
	require.NoError(t, err)

	res := c.Call(context.Background(), nil)
	assert.True(t, res.IsError)
	assert.Contains(t, res.Content, string(resolver.ToolExecutionError))

	c, err = r.Resolve(context.Background(), owner, models.Tool{
		Name: "missing", Type: models.ToolTypeMCP, MCPType: models.MCPTypeCommand,
		Command: "no-such-mcp-binary-xyz",
	})
	require.NoError(t, err)
	res = c.Call(context.Background(), nil)
	assert.True(t, res.IsError)
}

func TestRenderTemplate(t *testing.T) {
	got := resolver.RenderTemplate("--root {{path}} --depth {{ depth }} {{missing}}", map[string]interface{}{
		"path": "/tmp", "depth": 3,
	})
	assert.Equal(t, "--root /tmp --depth 3 ", got)
	assert.Equal(t, []string{"path", "depth"}, resolver.TemplateVars("{{path}} {{depth}} {{path}}"))
}
