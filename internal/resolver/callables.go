package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/mcpgw"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/process"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// maxToolOutput bounds the text a single tool call feeds back to the model.
const maxToolOutput = 64 * 1024

func failure(name string, kind ErrorKind, err error) models.ToolResult {
	logToolFailure(name, kind, err)
	return models.ToolResult{Content: fmt.Sprintf("%s: %s", kind, err), IsError: true}
}

func clip(s string) string {
	if len(s) <= maxToolOutput {
		return s
	}
	return s[:maxToolOutput] + "\n…[truncated]"
}

// ── MCP over HTTP ───────────────────────────────────────────

type mcpURLTool struct {
	spec   models.ToolSpec
	tool   models.Tool
	client *mcpgw.Client
}

func (t *mcpURLTool) Spec() models.ToolSpec { return t.spec }
func (t *mcpURLTool) rename(name string)    { t.spec.Name = name }

func (t *mcpURLTool) Call(ctx context.Context, args map[string]interface{}) models.ToolResult {
	res, err := t.client.CallHTTP(ctx, t.tool.URL, t.tool.AuthorizationHeader, t.tool.Name, args)
	if err != nil {
		return failure(t.spec.Name, ToolExecutionError, err)
	}
	return models.ToolResult{Content: clip(res.Text()), IsError: res.IsError}
}

// ── MCP over a spawned command ──────────────────────────────

type mcpCommandTool struct {
	spec   models.ToolSpec
	tool   models.Tool
	bin    string
	args   []string
	client *mcpgw.Client
}

func (t *mcpCommandTool) Spec() models.ToolSpec { return t.spec }
func (t *mcpCommandTool) rename(name string)    { t.spec.Name = name }

func (t *mcpCommandTool) Call(ctx context.Context, args map[string]interface{}) (result models.ToolResult) {
	// The process boundary must never take the pipeline down.
	defer func() {
		if p := recover(); p != nil {
			result = failure(t.spec.Name, ToolExecutionError, fmt.Errorf("panic: %v", p))
		}
	}()

	argv := make([]string, len(t.args))
	for i, a := range t.args {
		if hasTemplate(a) {
			a = RenderTemplate(a, args)
		}
		argv[i] = a
	}

	res, stderr, err := t.client.CallStdio(ctx, process.Spec{Command: t.bin, Args: argv}, t.tool.Name, args)
	if err != nil {
		if stderr != "" {
			err = fmt.Errorf("%w (stderr: %s)", err, lastLines(stderr, 5))
		}
		return failure(t.spec.Name, ToolExecutionError, err)
	}
	return models.ToolResult{Content: clip(res.Text()), IsError: res.IsError}
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}

// ── Plain REST API ──────────────────────────────────────────

type apiTool struct {
	spec   models.ToolSpec
	tool   models.Tool
	client *http.Client
}

func (t *apiTool) Spec() models.ToolSpec { return t.spec }
func (t *apiTool) rename(name string)    { t.spec.Name = name }

func (t *apiTool) Call(ctx context.Context, args map[string]interface{}) models.ToolResult {
	if args == nil {
		args = map[string]interface{}{}
	}
	body, err := json.Marshal(args)
	if err != nil {
		return failure(t.spec.Name, ToolExecutionError, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.tool.URL, bytes.NewReader(body))
	if err != nil {
		return failure(t.spec.Name, ToolExecutionError, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.8")
	mcpgw.ApplyAuth(req, t.tool.AuthorizationHeader)

	resp, err := t.client.Do(req)
	if err != nil {
		return failure(t.spec.Name, ToolExecutionError, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxToolOutput+1))
	if err != nil {
		return failure(t.spec.Name, ToolExecutionError, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure(t.spec.Name, ToolExecutionError,
			fmt.Errorf("%s returned %d: %s", t.tool.URL, resp.StatusCode, clip(string(raw))))
	}
	return models.ToolResult{Content: clip(string(raw))}
}

// ── Agent delegation ────────────────────────────────────────

type agentTool struct {
	spec     models.ToolSpec
	target   int64
	resolver *Resolver
}

func (t *agentTool) Spec() models.ToolSpec { return t.spec }
func (t *agentTool) rename(name string)    { t.spec.Name = name }

func (t *agentTool) Call(ctx context.Context, args map[string]interface{}) models.ToolResult {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return models.ToolResult{Content: `missing required argument "query"`, IsError: true}
	}

	chain := DelegationChain(ctx)
	if onChain(chain, t.target) {
		return failure(t.spec.Name, DelegationCycle, fmt.Errorf("agent %d is already running in this call chain %v", t.target, chain))
	}
	if len(chain) > t.resolver.maxDepth {
		return failure(t.spec.Name, DelegationCycle, fmt.Errorf("delegation depth %d exceeds limit %d", len(chain), t.resolver.maxDepth))
	}

	d := t.resolver.getDelegator()
	if d == nil {
		return failure(t.spec.Name, ToolExecutionError, fmt.Errorf("agent delegation is not available"))
	}

	log.Debug().Int64("agent_id", t.target).Ints64("chain", chain).Msg("Delegating to agent")
	answer, err := d.Delegate(WithDelegation(ctx, t.target), t.target, query)
	if err != nil {
		kind := ToolExecutionError
		if k, ok := KindOf(err); ok && k == DelegationCycle {
			kind = DelegationCycle
		}
		return failure(t.spec.Name, kind, err)
	}
	return models.ToolResult{Content: clip(answer)}
}
