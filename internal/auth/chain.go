// Package auth implements credential handling for the service:
//
//   - Authorizer: bearer-token authorization for the invocation API,
//     with atomic per-token invocation accounting
//   - ProviderChain: admin API authentication, walking
//     AdminSessionProvider (HMAC login tokens) then APIKeyProvider
//   - token minting/digests and bcrypt password hashing
package auth

import (
	"context"
	"net/http"
	"sync"

	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
	"github.com/rs/zerolog/log"
)

// ProviderChain implements contracts.AuthProviderChain.
// It walks registered providers in order until one returns an Identity.
type ProviderChain struct {
	mu        sync.RWMutex
	providers []contracts.AuthProvider
}

// NewProviderChain creates an auth provider chain seeded with providers.
func NewProviderChain(providers ...contracts.AuthProvider) *ProviderChain {
	c := &ProviderChain{providers: make([]contracts.AuthProvider, 0, len(providers))}
	for _, p := range providers {
		c.RegisterProvider(p)
	}
	return c
}

// RegisterProvider adds a provider to the end of the chain.
func (c *ProviderChain) RegisterProvider(provider contracts.AuthProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, provider)
	log.Info().
		Str("provider", provider.Name()).
		Bool("enabled", provider.Enabled()).
		Msg("🔑 Auth provider registered")
}

// Authenticate walks the chain of providers in order.
//
// Contract:
//   - (*Identity, nil) → authenticated, stop walking
//   - (nil, nil) → no provider recognized the request
//   - (nil, error) → auth attempted but failed, reject immediately
func (c *ProviderChain) Authenticate(ctx context.Context, r *http.Request) (*contracts.Identity, error) {
	c.mu.RLock()
	providers := make([]contracts.AuthProvider, len(c.providers))
	copy(providers, c.providers)
	c.mu.RUnlock()

	for _, p := range providers {
		if !p.Enabled() {
			continue
		}
		identity, err := p.Authenticate(ctx, r)
		if err != nil {
			log.Debug().
				Str("provider", p.Name()).
				Err(err).
				Msg("Auth provider rejected request")
			return nil, err
		}
		if identity != nil {
			log.Debug().
				Str("provider", p.Name()).
				Str("subject", identity.Subject).
				Msg("Request authenticated")
			return identity, nil
		}
	}

	return nil, nil
}

// ListProviders returns the names of all registered providers.
func (c *ProviderChain) ListProviders() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name()
	}
	return names
}
