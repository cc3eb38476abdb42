package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
)

// APIKeyProvider validates static admin API keys from the
// Authorization: Bearer <key> or X-API-Key headers.
type APIKeyProvider struct {
	mu   sync.RWMutex
	keys map[string]bool
}

// NewAPIKeyProvider creates an API key provider. Blank keys are ignored;
// with no keys the provider is disabled.
func NewAPIKeyProvider(keys []string) *APIKeyProvider {
	p := &APIKeyProvider{keys: make(map[string]bool)}
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			p.keys[key] = true
		}
	}
	return p
}

func (p *APIKeyProvider) Name() string { return "apikey" }

func (p *APIKeyProvider) Enabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.keys) > 0
}

// Authenticate returns (nil, nil) if no key is present and an error if a
// key is present but unknown.
func (p *APIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	apiKey := ExtractBearer(r)
	if apiKey == "" {
		return nil, nil
	}

	if !p.validateKey(apiKey) {
		return nil, errors.New("invalid API key")
	}

	return &contracts.Identity{
		Subject:     "apikey:" + Digest(apiKey)[:16],
		Provider:    "apikey",
		DisplayName: "API Key User",
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}, nil
}

func (p *APIKeyProvider) validateKey(candidate string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for key := range p.keys {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

// AddKey adds a new API key at runtime.
func (p *APIKeyProvider) AddKey(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys[key] = true
}

// ExtractBearer returns the credential from Authorization: Bearer, then
// X-API-Key, then the api_key query parameter.
func ExtractBearer(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if key := r.URL.Query().Get("api_key"); key != "" {
		return key
	}
	return ""
}
