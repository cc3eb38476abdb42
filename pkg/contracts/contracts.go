// Package contracts defines the service interfaces shared across the
// invocation service.
//
// The HTTP handlers and the invocation pipeline depend on these
// interfaces, so a model backend or store can be swapped in the wiring
// code (pkg/server) without touching callers.
package contracts

import (
	"context"
	"net/http"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// Store is a type alias for the internal Store interface.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// ── Model Router Service ────────────────────────────────────

// ModelRouterService performs chat completions.
// Implementation: internal/router.ModelRouter
type ModelRouterService interface {
	// Complete runs one completion, retrying transient failures. Every
	// HTTP attempt is returned as an Exchange, including failed ones.
	Complete(ctx context.Context, req *models.CompletionRequest) (*models.Completion, []models.Exchange, error)

	// ProviderFor reports which provider kind serves model.
	ProviderFor(model string) string
}

// ── Provider Driver ─────────────────────────────────────────

// ProviderConfig holds the connection settings of one provider kind.
type ProviderConfig struct {
	Kind      string
	BaseURL   string
	APIKey    string
	MaxTokens int
}

// ProviderDriver translates completions to and from one provider's wire
// format. The router owns transport, retries and capture.
//
// Drivers are registered in the Model Router via RegisterDriver().
type ProviderDriver interface {
	// Kind returns the provider identifier (e.g. "openai", "anthropic").
	Kind() string

	// Encode builds the HTTP request for req.
	Encode(ctx context.Context, cfg ProviderConfig, req *models.CompletionRequest) (*http.Request, []byte, error)

	// Decode parses a successful response body.
	Decode(body []byte) (*models.Completion, error)
}
