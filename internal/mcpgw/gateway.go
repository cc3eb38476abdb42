// Package mcpgw is the outbound MCP (Model Context Protocol) client used by
// tool callables. It speaks JSON-RPC 2.0 over two transports:
//   - HTTP: one POST per call, plain JSON or an SSE-framed reply
//   - stdio: a spawned process exchanging newline-delimited JSON-RPC,
//     with the initialize / notifications/initialized handshake first
package mcpgw

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/process"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// ProtocolVersion is sent in the initialize handshake.
const ProtocolVersion = "2024-11-05"

// maxResponseBytes bounds any MCP reply read from the network.
const maxResponseBytes = 4 << 20

// Client calls tools on remote MCP servers.
type Client struct {
	http   *http.Client
	runner *process.Runner
	grace  time.Duration
}

// NewClient creates an MCP client. Nil arguments get defaults.
func NewClient(httpClient *http.Client, runner *process.Runner) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if runner == nil {
		runner = process.NewRunner(0, 0)
	}
	return &Client{http: httpClient, runner: runner, grace: 500 * time.Millisecond}
}

// RPCError is a JSON-RPC error object returned by a server.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("mcp error %d: %s", e.Code, e.Message)
}

// ── HTTP transport ──────────────────────────────────────────

// CallHTTP invokes tools/call on the MCP server at url.
func (c *Client) CallHTTP(ctx context.Context, url, authorization, name string, args map[string]interface{}) (*models.MCPToolResult, error) {
	id := uuid.New().String()
	body, err := json.Marshal(models.MCPRequest{
		Jsonrpc: "2.0",
		Method:  "tools/call",
		Params:  models.MCPToolCallParams{Name: name, Arguments: args},
		ID:      id,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream")
	ApplyAuth(httpReq, authorization)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tool request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("mcp server returned %d: %s", resp.StatusCode, truncate(string(respBody), 512))
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		for _, data := range sseData(respBody) {
			if r, ok := decodeResponse([]byte(data), id); ok {
				return toolResult(r)
			}
		}
		return nil, errors.New("no JSON-RPC response in event stream")
	}

	if r, ok := decodeResponse(respBody, id); ok {
		return toolResult(r)
	}

	// Not JSON-RPC: treat the raw body as text content.
	return &models.MCPToolResult{
		Content: []models.MCPContent{{Type: "text", Text: string(respBody)}},
	}, nil
}

// ApplyAuth sets the configured authorization on req. A value in
// "Name: value" form sets that header; anything else is sent verbatim as
// Authorization.
func ApplyAuth(req *http.Request, authorization string) {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return
	}
	if name, value, ok := strings.Cut(authorization, ":"); ok && isHeaderName(name) {
		req.Header.Set(strings.TrimSpace(name), strings.TrimSpace(value))
		return
	}
	req.Header.Set("Authorization", authorization)
}

func isHeaderName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// sseData returns the data payloads of each event in an SSE body.
func sseData(body []byte) []string {
	var (
		events []string
		cur    []string
	)
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(cur) > 0 {
				events = append(events, strings.Join(cur, "\n"))
				cur = nil
			}
		case strings.HasPrefix(line, "data:"):
			cur = append(cur, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if len(cur) > 0 {
		events = append(events, strings.Join(cur, "\n"))
	}
	return events
}

// ── stdio transport ─────────────────────────────────────────

// CallStdio spawns spec, performs the MCP handshake and invokes
// tools/call once. The process is stopped before returning.
func (c *Client) CallStdio(ctx context.Context, spec process.Spec, name string, args map[string]interface{}) (*models.MCPToolResult, string, error) {
	proc, err := c.runner.Start(ctx, spec)
	if err != nil {
		return nil, "", err
	}
	defer func() {
		if err := proc.Stop(c.grace); err != nil {
			log.Debug().Err(err).Str("command", spec.Command).Msg("MCP stdio server did not exit cleanly")
		}
	}()

	s := &stdioSession{proc: proc, lines: make(chan []byte), errc: make(chan error, 1)}
	go s.readLoop()

	initID := uuid.New().String()
	if _, err := s.roundTrip(ctx, models.MCPRequest{
		Jsonrpc: "2.0",
		Method:  "initialize",
		Params: map[string]interface{}{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]interface{}{},
			"clientInfo": map[string]string{
				"name":    "agentsim",
				"version": "1.0.0",
			},
		},
		ID: initID,
	}, initID); err != nil {
		return nil, proc.Stderr(), fmt.Errorf("initialize: %w", err)
	}

	if err := s.send(models.MCPRequest{Jsonrpc: "2.0", Method: "notifications/initialized"}); err != nil {
		return nil, proc.Stderr(), fmt.Errorf("initialized notification: %w", err)
	}

	callID := uuid.New().String()
	resp, err := s.roundTrip(ctx, models.MCPRequest{
		Jsonrpc: "2.0",
		Method:  "tools/call",
		Params:  models.MCPToolCallParams{Name: name, Arguments: args},
		ID:      callID,
	}, callID)
	if err != nil {
		return nil, proc.Stderr(), fmt.Errorf("tools/call: %w", err)
	}

	result, err := toolResult(resp)
	return result, proc.Stderr(), err
}

type stdioSession struct {
	proc  *process.Proc
	lines chan []byte
	errc  chan error
}

func (s *stdioSession) readLoop() {
	r := s.proc.Stdout()
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			select {
			case s.lines <- line:
			case <-s.proc.Done():
				// Nobody is reading any more.
				if err == nil {
					continue
				}
			}
		}
		if err != nil {
			s.errc <- err
			return
		}
	}
}

func (s *stdioSession) send(req models.MCPRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	_, err = s.proc.Stdin().Write(raw)
	return err
}

// roundTrip sends req and waits for the response carrying id. Server
// notifications and non-JSON output in between are skipped.
func (s *stdioSession) roundTrip(ctx context.Context, req models.MCPRequest, id string) (*models.MCPResponse, error) {
	if err := s.send(req); err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err := <-s.errc:
			if errors.Is(err, io.EOF) {
				return nil, errors.New("server closed stdout before responding")
			}
			return nil, err
		case line := <-s.lines:
			if resp, ok := decodeResponse(line, id); ok {
				return resp, nil
			}
		}
	}
}

// ── helpers ─────────────────────────────────────────────────

// decodeResponse parses raw as a JSON-RPC response with the given id.
func decodeResponse(raw []byte, id string) (*models.MCPResponse, bool) {
	var resp models.MCPResponse
	if err := json.Unmarshal(bytes.TrimSpace(raw), &resp); err != nil {
		return nil, false
	}
	if resp.ID == nil || fmt.Sprint(resp.ID) != id {
		return nil, false
	}
	if resp.Result == nil && resp.Error == nil {
		return nil, false
	}
	return &resp, true
}

func toolResult(resp *models.MCPResponse) (*models.MCPToolResult, error) {
	if resp.Error != nil {
		return nil, &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	var result models.MCPToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tool result: %w", err)
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
