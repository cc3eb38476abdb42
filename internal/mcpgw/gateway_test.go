package mcpgw_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/mcpgw"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/process"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// rpcServer answers tools/call by echoing the "q" argument.
func rpcServer(t *testing.T, sse bool) (*httptest.Server, *http.Header) {
	t.Helper()
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		var req struct {
			Method string                   `json:"method"`
			Params models.MCPToolCallParams `json:"params"`
			ID     string                   `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "tools/call", req.Method)

		resp := map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": models.MCPToolResult{Content: []models.MCPContent{
				{Type: "text", Text: fmt.Sprintf("%s:%v", req.Params.Name, req.Params.Arguments["q"])},
			}},
		}
		raw, _ := json.Marshal(resp)
		if sse {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprintf(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestCallHTTP_JSON(t *testing.T) {
	srv, seen := rpcServer(t, false)
	c := mcpgw.NewClient(nil, nil)

	res, err := c.CallHTTP(context.Background(), srv.URL, "Bearer abc", "search", map[string]interface{}{"q": "go"})
	require.NoError(t, err)
	assert.Equal(t, "search:go", res.Text())
	assert.False(t, res.IsError)
	assert.Equal(t, "Bearer abc", seen.Get("Authorization"))
}

func TestCallHTTP_SSE(t *testing.T) {
	srv, seen := rpcServer(t, true)
	c := mcpgw.NewClient(nil, nil)

	res, err := c.CallHTTP(context.Background(), srv.URL, "X-API-Key: k1", "lookup", map[string]interface{}{"q": 42})
	require.NoError(t, err)
	assert.Equal(t, "lookup:42", res.Text())
	assert.Equal(t, "k1", seen.Get("X-API-Key"))
	assert.Empty(t, seen.Get("Authorization"))
}

func TestCallHTTP_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/down":
			http.Error(w, "boom", http.StatusBadGateway)
		case "/rpcerr":
			var req struct{ ID string }
			json.NewDecoder(r.Body).Decode(&req)
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%q,"error":{"code":-32601,"message":"Method not found"}}`, req.ID)
		default:
			w.Write([]byte("plain text answer"))
		}
	}))
	defer srv.Close()
	c := mcpgw.NewClient(nil, nil)

	_, err := c.CallHTTP(context.Background(), srv.URL+"/down", "", "x", nil)
	assert.ErrorContains(t, err, "502")

	_, err = c.CallHTTP(context.Background(), srv.URL+"/rpcerr", "", "x", nil)
	var rpcErr *mcpgw.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)

	res, err := c.CallHTTP(context.Background(), srv.URL+"/raw", "", "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain text answer", res.Text())
}

func TestApplyAuth(t *testing.T) {
	tests := []struct {
		in, header, want string
	}{
		{"Bearer t", "Authorization", "Bearer t"},
		{"Basic dXNlcjpwYXNz", "Authorization", "Basic dXNlcjpwYXNz"},
		{"X-Api-Key: abc", "X-Api-Key", "abc"},
		{"Bearer a:b", "Authorization", "Bearer a:b"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		mcpgw.ApplyAuth(r, tt.in)
		assert.Equal(t, tt.want, r.Header.Get(tt.header), tt.in)
	}
}

// fakeServer is a minimal MCP stdio server: it answers initialize, skips
// the initialized notification and replies to tools/call with a notice
// and a result.
const fakeServer = `
extract() { printf '%s' "$1" | sed 's/.*"id":"\([^"]*\)".*/\1/'; }
read l; id=$(extract "$l")
echo "starting up"
printf '{"jsonrpc":"2.0","id":"%s","result":{"protocolVersion":"2024-11-05"}}\n' "$id"
read n
read c; id=$(extract "$c")
echo "working" >&2
printf '{"jsonrpc":"2.0","method":"notifications/message","params":{}}\n'
printf '{"jsonrpc":"2.0","id":"%s","result":{"content":[{"type":"text","text":"pong"}]}}\n' "$id"
`

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	for _, bin := range []string{"sh", "sed"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not available", bin)
		}
	}
}

func TestCallStdio(t *testing.T) {
	requireShell(t)
	c := mcpgw.NewClient(nil, process.NewRunner(20, 100*time.Millisecond))

	res, stderr, err := c.CallStdio(context.Background(), process.Spec{
		Command: "sh",
		Args:    []string{"-c", fakeServer},
	}, "ping", map[string]interface{}{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, "pong", res.Text())
	assert.Contains(t, stderr, "working")
}

func TestCallStdio_ServerExitsEarly(t *testing.T) {
	requireShell(t)
	c := mcpgw.NewClient(nil, process.NewRunner(20, 100*time.Millisecond))

	_, _, err := c.CallStdio(context.Background(), process.Spec{
		Command: "sh",
		Args:    []string{"-c", "echo fatal >&2; exit 3"},
	}, "ping", nil)
	assert.Error(t, err)
}

func TestCallStdio_Timeout(t *testing.T) {
	requireShell(t)
	c := mcpgw.NewClient(nil, process.NewRunner(20, 100*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, _, err := c.CallStdio(ctx, process.Spec{
		Command: "sh",
		Args:    []string{"-c", "sleep 30"},
	}, "ping", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}
