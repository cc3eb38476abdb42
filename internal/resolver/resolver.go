// Package resolver turns an agent's configured tools into callables.
//
// Tools are a closed union: MCP (over a URL or a spawned command), plain
// API endpoints, and delegation to another agent. Resolution validates
// each tool's required fields up front, so a misconfigured tool fails
// with ToolConfigInvalid before any model is called. Calling a resolved
// tool never returns an error: failures come back as a ToolResult with
// IsError set, for the model to read.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/mcpgw"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/process"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// DefaultMaxDelegationDepth bounds nested agent-to-agent calls.
const DefaultMaxDelegationDepth = 4

// ErrorKind classifies a tool failure.
type ErrorKind string

const (
	ToolConfigInvalid  ErrorKind = "ToolConfigInvalid"
	ToolExecutionError ErrorKind = "ToolExecutionError"
	DelegationCycle    ErrorKind = "DelegationCycle"
)

// ToolError describes a tool that could not be resolved or run.
type ToolError struct {
	Kind   ErrorKind
	Tool   string
	Reason string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s: tool %q: %s", e.Kind, e.Tool, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// KindOf returns the tool error kind wrapped in err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// Callable is a resolved tool.
type Callable interface {
	// Spec is the tool description offered to the model.
	Spec() models.ToolSpec
	// Call runs the tool. Failures are reported in the result.
	Call(ctx context.Context, args map[string]interface{}) models.ToolResult
}

// Delegator runs a nested invocation of another agent.
type Delegator interface {
	Delegate(ctx context.Context, agentID int64, query string) (string, error)
}

// Options tune a Resolver.
type Options struct {
	HTTPClient         *http.Client
	MaxDelegationDepth int
}

// Resolver resolves tools against the agent store.
type Resolver struct {
	agents   store.AgentStore
	mcp      *mcpgw.Client
	http     *http.Client
	maxDepth int

	mu        sync.RWMutex
	delegator Delegator
}

// New creates a resolver. The delegator is wired later with SetDelegator
// since the pipeline that implements it depends on the resolver.
func New(agents store.AgentStore, mcp *mcpgw.Client, opts Options) *Resolver {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.MaxDelegationDepth <= 0 {
		opts.MaxDelegationDepth = DefaultMaxDelegationDepth
	}
	if mcp == nil {
		mcp = mcpgw.NewClient(opts.HTTPClient, nil)
	}
	return &Resolver{
		agents:   agents,
		mcp:      mcp,
		http:     opts.HTTPClient,
		maxDepth: opts.MaxDelegationDepth,
	}
}

// SetDelegator installs the handler for agent-type tools.
func (r *Resolver) SetDelegator(d Delegator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegator = d
}

func (r *Resolver) getDelegator() Delegator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.delegator
}

// ResolveAll resolves every tool of owner concurrently. The result keeps
// the declared tool order; the first failure aborts the rest.
func (r *Resolver) ResolveAll(ctx context.Context, owner *models.Agent) ([]Callable, error) {
	callables := make([]Callable, len(owner.Tools))
	g, gctx := errgroup.WithContext(ctx)
	for i := range owner.Tools {
		i, tool := i, owner.Tools[i]
		g.Go(func() error {
			c, err := r.Resolve(gctx, owner, tool)
			if err != nil {
				return err
			}
			callables[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dedupeNames(callables)
	return callables, nil
}

// Resolve validates tool and binds it to its transport. owner is the
// agent the tool belongs to; it anchors the delegation cycle check.
func (r *Resolver) Resolve(ctx context.Context, owner *models.Agent, tool models.Tool) (Callable, error) {
	name := toolName(tool)
	invalid := func(reason string) error {
		return &ToolError{Kind: ToolConfigInvalid, Tool: name, Reason: reason}
	}

	switch tool.Type {
	case models.ToolTypeMCP:
		switch tool.MCPType {
		case models.MCPTypeURL:
			if err := requireURL(tool.URL); err != nil {
				return nil, invalid(err.Error())
			}
			return &mcpURLTool{spec: openSpec(name, tool), tool: tool, client: r.mcp}, nil

		case models.MCPTypeCommand:
			argv, err := process.SplitArgs(tool.Command)
			if err != nil || len(argv) == 0 {
				return nil, invalid("command is required")
			}
			params, err := process.SplitArgs(tool.Parameters)
			if err != nil {
				return nil, invalid("parameters: " + err.Error())
			}
			return &mcpCommandTool{
				spec:   commandSpec(name, tool),
				tool:   tool,
				bin:    argv[0],
				args:   append(argv[1:len(argv):len(argv)], params...),
				client: r.mcp,
			}, nil

		default:
			return nil, invalid(fmt.Sprintf("unknown mcp_type %q", tool.MCPType))
		}

	case models.ToolTypeAPI:
		if err := requireURL(tool.URL); err != nil {
			return nil, invalid(err.Error())
		}
		return &apiTool{spec: openSpec(name, tool), tool: tool, client: r.http}, nil

	case models.ToolTypeAgent:
		if tool.AgentID <= 0 {
			return nil, invalid("agent_id is required")
		}
		target, err := r.agents.GetAgent(ctx, tool.AgentID)
		if err != nil {
			if store.IsNotFound(err) {
				return nil, invalid(fmt.Sprintf("agent %d does not exist", tool.AgentID))
			}
			return nil, err
		}
		if owner != nil {
			if err := r.checkCycle(ctx, owner.ID, target); err != nil {
				return nil, &ToolError{Kind: DelegationCycle, Tool: name, Reason: err.Error()}
			}
		}
		return &agentTool{spec: agentSpec(name, tool, target), target: target.ID, resolver: r}, nil

	default:
		return nil, invalid(fmt.Sprintf("unknown tool type %q", tool.Type))
	}
}

// checkCycle walks the delegation graph reachable from target and fails
// if it leads back to ownerID.
func (r *Resolver) checkCycle(ctx context.Context, ownerID int64, target *models.Agent) error {
	visited := map[int64]bool{}
	path := map[int64]int64{} // agent → the agent that delegates to it
	queue := []*models.Agent{target}
	path[target.ID] = ownerID

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.ID == ownerID {
			return fmt.Errorf("delegation loops back to agent %d via %s", ownerID, describePath(path, cur.ID, ownerID))
		}
		if visited[cur.ID] {
			continue
		}
		visited[cur.ID] = true

		for _, t := range cur.Tools {
			if t.Type != models.ToolTypeAgent || t.AgentID <= 0 || visited[t.AgentID] {
				continue
			}
			next, err := r.agents.GetAgent(ctx, t.AgentID)
			if err != nil {
				if store.IsNotFound(err) {
					continue
				}
				return err
			}
			if _, seen := path[next.ID]; !seen {
				path[next.ID] = cur.ID
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func describePath(parent map[int64]int64, end, owner int64) string {
	hops := []string{fmt.Sprint(end)}
	for cur, n := end, 0; n < 32; n++ {
		p, ok := parent[cur]
		if !ok {
			break
		}
		hops = append([]string{fmt.Sprint(p)}, hops...)
		if p == owner {
			break
		}
		cur = p
	}
	return strings.Join(hops, " → ")
}

func requireURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("url is required")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("url %q must be http or https", raw)
	}
	return nil
}

// ── Tool specs ──────────────────────────────────────────────

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// toolName converts a display name into a function-calling identifier.
func toolName(tool models.Tool) string {
	name := strings.Trim(invalidNameChars.ReplaceAllString(strings.TrimSpace(tool.Name), "_"), "_")
	if name == "" {
		name = string(tool.Type) + "_tool"
	}
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

func describe(tool models.Tool, fallback string) string {
	if d := strings.TrimSpace(tool.Description); d != "" {
		return d
	}
	if fallback != "" {
		return fallback
	}
	return tool.Name
}

func openSpec(name string, tool models.Tool) models.ToolSpec {
	return models.ToolSpec{
		Name:        name,
		Description: describe(tool, ""),
		Parameters: map[string]interface{}{
			"type":                 "object",
			"properties":           map[string]interface{}{},
			"additionalProperties": true,
		},
	}
}

func commandSpec(name string, tool models.Tool) models.ToolSpec {
	vars := TemplateVars(tool.Parameters)
	props := make(map[string]interface{}, len(vars))
	required := make([]string, 0, len(vars))
	for _, v := range vars {
		props[v] = map[string]interface{}{"type": "string"}
		required = append(required, v)
	}
	params := map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return models.ToolSpec{Name: name, Description: describe(tool, ""), Parameters: params}
}

func agentSpec(name string, tool models.Tool, target *models.Agent) models.ToolSpec {
	fallback := fmt.Sprintf("Ask the %q agent. %s", target.Name, strings.TrimSpace(target.Description))
	return models.ToolSpec{
		Name:        name,
		Description: strings.TrimSpace(describe(tool, fallback)),
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "The question or task for the agent.",
				},
			},
			"required": []string{"query"},
		},
	}
}

// dedupeNames suffixes repeated spec names so the model can address
// every tool. Generated names never collide with declared ones.
func dedupeNames(callables []Callable) {
	declared := make(map[string]bool, len(callables))
	for _, c := range callables {
		declared[c.Spec().Name] = true
	}
	used := make(map[string]bool, len(callables))
	for _, c := range callables {
		name := c.Spec().Name
		if !used[name] {
			used[name] = true
			continue
		}
		n, ok := c.(interface{ rename(string) })
		if !ok {
			continue
		}
		candidate := name
		for i := 2; declared[candidate] || used[candidate]; i++ {
			candidate = fmt.Sprintf("%s_%d", name, i)
		}
		n.rename(candidate)
		used[candidate] = true
	}
}

func logToolFailure(name string, kind ErrorKind, err error) {
	log.Warn().Str("tool", name).Str("kind", string(kind)).Err(err).Msg("Tool call failed")
}
