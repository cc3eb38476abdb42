// Package router implements the Model Router.
//
// The router picks a provider from the model name, hands the request to
// that provider's driver for encoding, sends it, and retries transient
// failures (transport errors, 429 and 5xx) with exponential backoff.
// Each HTTP attempt is captured as an Exchange for the audit log.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// maxResponseBytes bounds a captured model response.
const maxResponseBytes = 8 << 20

// redactedHeaders never reach the audit log in clear text.
var redactedHeaders = map[string]bool{
	"authorization":  true,
	"x-api-key":      true,
	"api-key":        true,
	"x-goog-api-key": true,
}

// Config holds router settings.
type Config struct {
	DefaultProvider string
	Timeout         time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	Providers       map[string]contracts.ProviderConfig
}

// CallError is returned when a completion could not be obtained.
type CallError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *CallError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// ModelRouter routes completions to provider drivers.
type ModelRouter struct {
	client *http.Client
	cfg    Config

	driversMu sync.RWMutex
	drivers   map[string]contracts.ProviderDriver
}

// NewModelRouter creates a router with the built-in drivers registered.
func NewModelRouter(cfg Config, client *http.Client) *ModelRouter {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = KindGemini
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]contracts.ProviderConfig{}
	}

	mr := &ModelRouter{
		client:  client,
		cfg:     cfg,
		drivers: make(map[string]contracts.ProviderDriver),
	}
	mr.RegisterDriver(&OpenAIDriver{kind: KindOpenAI, baseURL: "https://api.openai.com/v1", requireKey: true})
	mr.RegisterDriver(&OpenAIDriver{kind: KindGemini, baseURL: "https://generativelanguage.googleapis.com/v1beta/openai", requireKey: true})
	mr.RegisterDriver(&OpenAIDriver{kind: KindOllama, baseURL: "http://localhost:11434/v1"})
	mr.RegisterDriver(&AnthropicDriver{})
	return mr
}

// ── Driver Registry ─────────────────────────────────────────

// RegisterDriver adds or replaces the driver for its kind.
func (mr *ModelRouter) RegisterDriver(d contracts.ProviderDriver) {
	mr.driversMu.Lock()
	defer mr.driversMu.Unlock()
	mr.drivers[d.Kind()] = d
	log.Debug().Str("kind", d.Kind()).Msg("Provider driver registered")
}

// GetDriver returns the driver for kind, or nil.
func (mr *ModelRouter) GetDriver(kind string) contracts.ProviderDriver {
	mr.driversMu.RLock()
	defer mr.driversMu.RUnlock()
	return mr.drivers[kind]
}

// ListDrivers returns the registered driver kinds, sorted.
func (mr *ModelRouter) ListDrivers() []string {
	mr.driversMu.RLock()
	defer mr.driversMu.RUnlock()
	kinds := make([]string, 0, len(mr.drivers))
	for k := range mr.drivers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// ── Provider Selection ──────────────────────────────────────

// ProviderFor maps a model name to a provider kind.
//
//   - "<kind>/<model>" with a registered kind → that kind
//   - claude-*          → anthropic
//   - gemini-*          → gemini
//   - gpt-*, o1/o3/o4*  → openai
//   - name:tag          → ollama
//   - anything else     → the default provider
func (mr *ModelRouter) ProviderFor(model string) string {
	kind, _ := mr.split(model)
	return kind
}

func (mr *ModelRouter) split(model string) (kind, name string) {
	if prefix, rest, ok := strings.Cut(model, "/"); ok && mr.GetDriver(prefix) != nil {
		return prefix, rest
	}
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude-"):
		return KindAnthropic, model
	case strings.HasPrefix(m, "gemini-"):
		return KindGemini, model
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "chatgpt-"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"), strings.HasPrefix(m, "o4"):
		return KindOpenAI, model
	case strings.Contains(m, ":"):
		return KindOllama, model
	}
	return mr.cfg.DefaultProvider, model
}

// ── Completion ──────────────────────────────────────────────

// Complete sends req to its provider. It returns every attempt's
// Exchange alongside the result, whether or not the call succeeded.
func (mr *ModelRouter) Complete(ctx context.Context, req *models.CompletionRequest) (*models.Completion, []models.Exchange, error) {
	kind, modelName := mr.split(req.Model)
	driver := mr.GetDriver(kind)
	if driver == nil {
		return nil, nil, &CallError{Provider: kind, Err: errors.New("no driver registered")}
	}
	pcfg := mr.cfg.Providers[kind]
	pcfg.Kind = kind

	wire := *req
	wire.Model = modelName

	var (
		exchanges []models.Exchange
		result    *models.Completion
		attempt   int
	)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = mr.cfg.RetryBackoff
	policy.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(mr.cfg.MaxRetries)), ctx)

	operation := func() error {
		attempt++
		completion, ex, err := mr.attempt(ctx, driver, pcfg, &wire, attempt)
		exchanges = append(exchanges, ex)
		if err != nil {
			log.Warn().
				Str("provider", kind).
				Str("model", req.Model).
				Int("attempt", attempt).
				Int("status", ex.Response.StatusCode).
				Err(err).
				Msg("Model call failed")
			return err
		}
		result = completion
		return nil
	}

	if err := backoff.Retry(operation, bo); err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		var ce *CallError
		if !errors.As(err, &ce) {
			err = &CallError{Provider: kind, Err: err}
		}
		return nil, exchanges, err
	}
	return result, exchanges, nil
}

// attempt performs one HTTP round trip. Errors that must not be retried
// are wrapped with backoff.Permanent.
func (mr *ModelRouter) attempt(ctx context.Context, driver contracts.ProviderDriver, pcfg contracts.ProviderConfig, req *models.CompletionRequest, n int) (*models.Completion, models.Exchange, error) {
	ctx, span := otel.Tracer("agentsim/router").Start(ctx, "model.call")
	defer span.End()
	span.SetAttributes(
		attribute.String("model.provider", pcfg.Kind),
		attribute.String("model.name", req.Model),
		attribute.Int("model.attempt", n),
	)

	ctx, cancel := context.WithTimeout(ctx, mr.cfg.Timeout)
	defer cancel()

	ex := models.Exchange{Attempt: n, Started: time.Now().UTC()}
	fail := func(err error, permanent bool) (*models.Completion, models.Exchange, error) {
		ex.Duration = time.Since(ex.Started).Milliseconds()
		ex.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ce := &CallError{Provider: pcfg.Kind, StatusCode: ex.Response.StatusCode, Err: err}
		if permanent {
			return nil, ex, backoff.Permanent(ce)
		}
		return nil, ex, ce
	}

	httpReq, body, err := driver.Encode(ctx, pcfg, req)
	if httpReq != nil {
		ex.Request = models.APIRequest{
			URL:     httpReq.URL.String(),
			Method:  httpReq.Method,
			Headers: captureHeaders(httpReq.Header),
			Body:    jsonOrString(body),
		}
	}
	if err != nil {
		return fail(err, true)
	}

	httpResp, err := mr.client.Do(httpReq)
	if err != nil {
		// Cancellation by the caller is final; a per-attempt timeout is not.
		return fail(err, ctx.Err() != nil && errors.Is(context.Cause(ctx), context.Canceled))
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	ex.Response = models.APIResponse{
		StatusCode: httpResp.StatusCode,
		Headers:    captureHeaders(httpResp.Header),
		Body:       jsonOrString(raw),
	}
	span.SetAttributes(attribute.Int("http.status_code", httpResp.StatusCode))
	if err != nil {
		return fail(fmt.Errorf("read response: %w", err), false)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		err := fmt.Errorf("%s", truncate(strings.TrimSpace(string(raw)), 512))
		return fail(err, !retryable(httpResp.StatusCode))
	}

	completion, err := driver.Decode(raw)
	if err != nil {
		return fail(fmt.Errorf("decode response: %w", err), true)
	}
	ex.Duration = time.Since(ex.Started).Milliseconds()
	span.SetAttributes(
		attribute.Int64("model.input_tokens", completion.InputTokens),
		attribute.Int64("model.output_tokens", completion.OutputTokens),
	)
	return completion, ex, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func captureHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		if redactedHeaders[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// jsonOrString returns b unchanged when it is valid JSON, otherwise as a
// JSON string so it can be stored in a JSON column.
func jsonOrString(b []byte) []byte {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return trimmed
	}
	out, _ := json.Marshal(string(b))
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
