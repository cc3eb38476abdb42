// Package executor implements the invocation pipeline.
//
// One invocation walks the states
//
//	Received → Authorized → SessionBound → ModelRequested →
//	(ToolDispatch → ModelRequested)* → Completed
//
// and exits to Failed from any of them. The model is called through the
// Model Router; tool calls requested by the model run through the
// callables the Tool Resolver bound for the agent. Tool failures are fed
// back to the model as data. Only the final commit (messages, counters
// and the last ModelLog) runs under the per-session lock.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/auth"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/resolver"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/sessions"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/middleware"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

const (
	// DefaultMaxToolIterations caps model ↔ tool round trips per turn.
	DefaultMaxToolIterations = 8
	// DefaultToolTimeout bounds a single tool call.
	DefaultToolTimeout = 30 * time.Second
)

var tracer = otel.Tracer("agentsim/executor")

// ── Errors ──────────────────────────────────────────────────

// ErrorKind classifies a pipeline failure.
type ErrorKind string

const (
	ModelCallFailed  ErrorKind = "ModelCallFailed"
	ToolLoopExceeded ErrorKind = "ToolLoopExceeded"
)

// PipelineError is returned when a turn cannot complete.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// KindOf returns the pipeline error kind wrapped in err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// ── Pipeline ────────────────────────────────────────────────

// Config tunes the pipeline.
type Config struct {
	MaxToolIterations int
	ToolTimeout       time.Duration
	// DefaultModel is used for agents stored without a model.
	DefaultModel string
}

// InvokeRequest is one call to an agent within a session.
type InvokeRequest struct {
	AgentID   int64
	SessionID int64
	Token     string
	Query     string
}

// TestOverrides replace agent settings for a test panel run. Empty
// fields keep the stored value.
type TestOverrides struct {
	Model        string `json:"model,omitempty"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Pipeline runs invocations.
type Pipeline struct {
	store    store.Store
	auth     *auth.Authorizer
	sessions *sessions.Manager
	resolver *resolver.Resolver
	models   contracts.ModelRouterService
	cfg      Config
	now      func() time.Time
}

// NewPipeline creates a pipeline and registers it as the resolver's
// delegator, so agent-type tools run nested invocations through it.
func NewPipeline(st store.Store, authz *auth.Authorizer, sm *sessions.Manager, res *resolver.Resolver, mr contracts.ModelRouterService, cfg Config) *Pipeline {
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = models.DefaultModel
	}
	p := &Pipeline{
		store:    st,
		auth:     authz,
		sessions: sm,
		resolver: res,
		models:   mr,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
	res.SetDelegator(p)
	return p
}

// DefaultModel is the model assumed for agents without one.
func (p *Pipeline) DefaultModel() string { return p.cfg.DefaultModel }

// CreateSession authorizes token for agentID and opens a new session.
// The model is not called.
func (p *Pipeline) CreateSession(ctx context.Context, token string, agentID int64) (*models.Session, error) {
	if _, err := p.auth.Authorize(ctx, token, agentID); err != nil {
		return nil, err
	}
	return p.sessions.CreateSession(ctx, agentID)
}

// Invoke runs one user turn against an existing session.
//
// Flow:
//  1. Authorize the token (spends one invocation)
//  2. Load the agent and bind the session to it
//  3. Resolve the agent's tools
//  4. Call the model with the session history; dispatch tool calls until
//     it answers in text or the iteration cap is hit
//  5. Commit both messages, the counters and the final ModelLog
func (p *Pipeline) Invoke(ctx context.Context, req InvokeRequest) (string, error) {
	ctx, span := tracer.Start(ctx, "invoke", trace.WithAttributes(
		attribute.Int64("agent.id", req.AgentID),
		attribute.Int64("session.id", req.SessionID),
	))
	defer span.End()

	answer, err := p.invoke(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return answer, err
}

func (p *Pipeline) invoke(ctx context.Context, req InvokeRequest) (string, error) {
	caller, err := p.auth.Authorize(ctx, req.Token, req.AgentID)
	if err != nil {
		return "", err
	}
	ctx = middleware.SetCaller(ctx, caller)

	agent, err := p.loadAgent(ctx, req.AgentID)
	if err != nil {
		return "", err
	}
	if _, err := p.sessions.GetOrValidateSession(ctx, req.SessionID, req.AgentID); err != nil {
		return "", err
	}

	history, err := p.store.ListMessages(ctx, store.MessageFilter{SessionID: req.SessionID})
	if err != nil {
		return "", fmt.Errorf("load history: %w", err)
	}

	sessionID := req.SessionID
	result, err := p.runTurn(ctx, agent, &sessionID, history, req.Query)
	if err != nil {
		return "", err
	}
	if err := p.commit(ctx, agent, sessionID, req.Query, result); err != nil {
		return "", err
	}

	log.Info().
		Int64("agent_id", agent.ID).
		Int64("session_id", sessionID).
		Int64("token_id", caller.TokenID).
		Int("tool_calls", result.toolCalls).
		Int64("duration_ms", result.duration.Milliseconds()).
		Msg("Invocation complete")
	return result.answer, nil
}

// Delegate runs query against agentID in a fresh child session. It is
// the entry point for agent-type tools and skips token authorization:
// the outer invocation already paid for the call.
func (p *Pipeline) Delegate(ctx context.Context, agentID int64, query string) (string, error) {
	ctx, span := tracer.Start(ctx, "delegate", trace.WithAttributes(attribute.Int64("agent.id", agentID)))
	defer span.End()

	agent, err := p.loadAgent(ctx, agentID)
	if err != nil {
		return "", err
	}
	session, err := p.sessions.CreateSession(ctx, agentID)
	if err != nil {
		return "", err
	}

	sessionID := session.ID
	result, err := p.runTurn(ctx, agent, &sessionID, nil, query)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if err := p.commit(ctx, agent, sessionID, query, result); err != nil {
		return "", err
	}

	log.Info().
		Int64("agent_id", agentID).
		Int64("session_id", sessionID).
		Ints64("chain", resolver.DelegationChain(ctx)).
		Msg("Delegated invocation complete")
	return result.answer, nil
}

// Test runs query against agentID outside any session, for the admin
// test panel. It writes an AgentTestLog and ModelLogs without a session;
// no messages are stored and no counters change.
func (p *Pipeline) Test(ctx context.Context, agentID int64, query string, overrides TestOverrides) (*models.AgentTestLog, error) {
	ctx, span := tracer.Start(ctx, "test", trace.WithAttributes(attribute.Int64("agent.id", agentID)))
	defer span.End()

	agent, err := p.loadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if overrides.Model != "" {
		agent.Model = overrides.Model
	}
	if overrides.SystemPrompt != "" {
		agent.SystemPrompt = overrides.SystemPrompt
	}

	result, err := p.runTurn(ctx, agent, nil, nil, query)
	if err != nil {
		return nil, err
	}

	wctx := context.WithoutCancel(ctx)
	result.final.AgentResponse = result.answer
	if err := p.store.CreateModelLog(wctx, result.final); err != nil {
		return nil, fmt.Errorf("write model log: %w", err)
	}
	entry := &models.AgentTestLog{AgentID: agentID, Datetime: p.now(), Query: query, Response: result.answer}
	if err := p.store.CreateTestLog(wctx, entry); err != nil {
		return nil, fmt.Errorf("write test log: %w", err)
	}
	return entry, nil
}

func (p *Pipeline) loadAgent(ctx context.Context, id int64) (*models.Agent, error) {
	agent, err := p.store.GetAgent(ctx, id)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &sessions.Error{Kind: sessions.AgentNotFound, AgentID: id}
		}
		return nil, fmt.Errorf("load agent: %w", err)
	}
	if agent.Model == "" {
		agent.Model = p.cfg.DefaultModel
	}
	return agent, nil
}

// ── Turn ────────────────────────────────────────────────────

// turnResult is a completed turn awaiting commit.
type turnResult struct {
	answer    string
	final     *models.ModelLog
	toolCalls int
	duration  time.Duration
}

// runTurn drives the model until it produces a text answer. Every model
// attempt except the final successful one is logged as it happens; the
// final one is returned for the caller to write with the commit.
func (p *Pipeline) runTurn(ctx context.Context, agent *models.Agent, sessionID *int64, history []models.Message, query string) (*turnResult, error) {
	start := time.Now()

	// Mark the agent as running unless the delegating tool already did.
	if chain := resolver.DelegationChain(ctx); len(chain) == 0 || chain[len(chain)-1] != agent.ID {
		ctx = resolver.WithDelegation(ctx, agent.ID)
	}

	callables, err := p.resolver.ResolveAll(ctx, agent)
	if err != nil {
		return nil, err
	}
	specs := make([]models.ToolSpec, 0, len(callables))
	byName := make(map[string]resolver.Callable, len(callables))
	for _, c := range callables {
		spec := c.Spec()
		specs = append(specs, spec)
		byName[spec.Name] = c
	}

	messages := make([]models.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		messages = append(messages, models.ChatMessage{Role: string(m.Role), Content: m.Message})
	}
	messages = append(messages, models.ChatMessage{Role: string(models.RoleUser), Content: query})

	toolCalls := 0
	for round := 0; ; round++ {
		completion, exchanges, err := p.models.Complete(ctx, &models.CompletionRequest{
			Model:        agent.Model,
			SystemPrompt: agent.SystemPrompt,
			Messages:     messages,
			Tools:        specs,
		})

		logs := make([]*models.ModelLog, len(exchanges))
		for i, ex := range exchanges {
			logs[i] = modelLog(agent, sessionID, query, ex)
		}
		if err != nil {
			p.writeLogs(ctx, logs)
			return nil, &PipelineError{Kind: ModelCallFailed, Err: err}
		}

		var final *models.ModelLog
		if n := len(logs); n > 0 {
			final = logs[n-1]
			final.InputTokens = completion.InputTokens
			final.OutputTokens = completion.OutputTokens
			final.Tokens = completion.InputTokens + completion.OutputTokens
			logs = logs[:n-1]
		} else {
			final = modelLog(agent, sessionID, query, models.Exchange{Attempt: 1, Started: p.now()})
		}
		p.writeLogs(ctx, logs)

		if len(completion.ToolCalls) == 0 {
			return &turnResult{
				answer:    completion.Text,
				final:     final,
				toolCalls: toolCalls,
				duration:  time.Since(start),
			}, nil
		}

		// Tool-call responses are intermediate; their log is written now.
		final.AgentResponse = completion.Text
		p.writeLogs(ctx, []*models.ModelLog{final})

		if round >= p.cfg.MaxToolIterations {
			log.Warn().
				Int64("agent_id", agent.ID).
				Int("max_iterations", p.cfg.MaxToolIterations).
				Msg("Tool loop limit reached")
			return nil, &PipelineError{
				Kind: ToolLoopExceeded,
				Err:  fmt.Errorf("model still requesting tools after %d iterations", p.cfg.MaxToolIterations),
			}
		}

		messages = append(messages, models.ChatMessage{
			Role:      string(models.RoleAssistant),
			Content:   completion.Text,
			ToolCalls: completion.ToolCalls,
		})
		for _, tc := range completion.ToolCalls {
			toolCalls++
			res := p.callTool(ctx, byName, tc)
			messages = append(messages, models.ChatMessage{
				Role:       "tool",
				Content:    res.Content,
				ToolCallID: tc.ID,
				Name:       tc.Name,
			})
		}

		log.Debug().
			Int64("agent_id", agent.ID).
			Int("round", round+1).
			Int("tool_calls", len(completion.ToolCalls)).
			Msg("Tool loop continuing")
	}
}

// callTool runs one tool call under its own timeout. Failures, including
// timeouts and unknown tool names, come back as error results.
func (p *Pipeline) callTool(ctx context.Context, byName map[string]resolver.Callable, tc models.ToolCall) models.ToolResult {
	ctx, span := tracer.Start(ctx, "tool.call", trace.WithAttributes(attribute.String("tool.name", tc.Name)))
	defer span.End()

	c, ok := byName[tc.Name]
	if !ok {
		span.SetStatus(codes.Error, "unknown tool")
		return models.ToolResult{Content: fmt.Sprintf("unknown tool %q", tc.Name), IsError: true}
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ToolTimeout)
	defer cancel()

	start := time.Now()
	args := tc.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	res := c.Call(ctx, args)
	if res.IsError {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Content = fmt.Sprintf("%s: timed out after %s", resolver.ToolExecutionError, p.cfg.ToolTimeout)
		}
		span.SetStatus(codes.Error, res.Content)
	}

	log.Debug().
		Str("tool", tc.Name).
		Bool("is_error", res.IsError).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("Tool call finished")
	return res
}

// ── Commit ──────────────────────────────────────────────────

// commit stores the turn under the session lock. The writes are not
// cancelled with the request: the model has already answered.
func (p *Pipeline) commit(ctx context.Context, agent *models.Agent, sessionID int64, query string, result *turnResult) error {
	wctx := context.WithoutCancel(ctx)
	result.final.AgentResponse = result.answer

	unlock, err := p.sessions.Lock(ctx, sessionID)
	if err != nil {
		// Keep the audit row for the attempt even though the turn is lost.
		p.writeLogs(wctx, []*models.ModelLog{result.final})
		return err
	}
	defer unlock()

	now := p.now()
	user := &models.Message{AgentID: agent.ID, SessionID: sessionID, Datetime: now, Role: models.RoleUser, Message: query}
	reply := &models.Message{AgentID: agent.ID, SessionID: sessionID, Datetime: now, Role: models.RoleAssistant, Message: result.answer}
	if err := p.store.AppendMessages(wctx, user, reply); err != nil {
		p.writeLogs(wctx, []*models.ModelLog{result.final})
		return fmt.Errorf("append messages: %w", err)
	}
	if err := p.sessions.RecordInvocation(wctx, sessionID); err != nil {
		return fmt.Errorf("record session invocation: %w", err)
	}
	if err := p.store.TouchAgent(wctx, agent.ID, now); err != nil {
		return fmt.Errorf("record agent invocation: %w", err)
	}

	result.final.MessageID = &reply.ID
	if err := p.store.CreateModelLog(wctx, result.final); err != nil {
		return fmt.Errorf("write model log: %w", err)
	}
	return nil
}

// writeLogs stores audit rows. A failed write is logged and does not
// fail the turn.
func (p *Pipeline) writeLogs(ctx context.Context, logs []*models.ModelLog) {
	ctx = context.WithoutCancel(ctx)
	for _, l := range logs {
		if err := p.store.CreateModelLog(ctx, l); err != nil {
			log.Error().Err(err).Int64("agent_id", l.AgentID).Int("attempt", l.Attempt).Msg("Failed to write model log")
		}
	}
}

func modelLog(agent *models.Agent, sessionID *int64, query string, ex models.Exchange) *models.ModelLog {
	var sid *int64
	if sessionID != nil {
		v := *sessionID
		sid = &v
	}
	return &models.ModelLog{
		Datetime:    ex.Started,
		Model:       agent.Model,
		AgentID:     agent.ID,
		SessionID:   sid,
		Attempt:     ex.Attempt,
		APIRequest:  ex.Request,
		APIResponse: ex.Response,
		UserQuery:   query,
		Error:       ex.Error,
		Duration:    ex.Duration,
	}
}
