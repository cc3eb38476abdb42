// Authentication types shared by the admin and
// invocation surfaces.

package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated admin caller.
// Produced by an AuthProvider, consumed by admin handlers (change logs
// record Identity.UserID).
type Identity struct {
	// Subject is the unique identifier ("user:<id>" or "apikey:<hash>").
	Subject string `json:"subject"`

	// UserID is the admin user behind the identity; 0 for static API keys.
	UserID int64 `json:"user_id"`

	DisplayName string `json:"display_name,omitempty"`

	// Provider identifies which auth provider authenticated this identity.
	// Values: "apikey", "admin_session"
	Provider string `json:"provider"`

	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// TokenIdentity is what a bearer token resolves to on the invocation API.
type TokenIdentity struct {
	TokenID int64 `json:"token_id"`
	UserID  int64 `json:"user_id"`

	// AgentScope is the single agent the token may call; nil means any.
	AgentScope *int64 `json:"agent_scope,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	// Name returns the provider identifier.
	Name() string

	// Authenticate inspects the request and returns an Identity.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)

	// Enabled returns whether this provider is configured and active.
	Enabled() bool
}

// AuthProviderChain tries providers in priority order until one returns an Identity.
type AuthProviderChain interface {
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
	RegisterProvider(provider AuthProvider)
}
