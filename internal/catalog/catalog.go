// Package catalog keeps the list of models the admin API offers when
// configuring agents.
//
// The catalog merges two sources:
//
//  1. Built-in entries for the common hosted models.
//  2. Models observed on saved agents, so custom or local models
//     (e.g. "llama3:8b" on Ollama) show up once used.
//
// Each entry carries the provider kind the Model Router would pick for it.
package catalog

import (
	"sort"
	"sync"
)

// Model describes one selectable model.
type Model struct {
	ID              string `json:"id"`
	Provider        string `json:"provider"`
	ContextWindow   int    `json:"context_window,omitempty"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
	// Source is "builtin" or "observed".
	Source string `json:"source"`
}

// ProviderFunc maps a model name to a provider kind.
type ProviderFunc func(model string) string

// Catalog is a thread-safe model list.
type Catalog struct {
	mu       sync.RWMutex
	models   map[string]*Model
	provider ProviderFunc
}

// New creates a catalog loaded with the built-in models. provider may be
// nil, in which case observed models carry no provider.
func New(provider ProviderFunc) *Catalog {
	if provider == nil {
		provider = func(string) string { return "" }
	}
	c := &Catalog{models: make(map[string]*Model), provider: provider}
	c.loadBuiltinDefaults()
	return c
}

// Lookup returns the entry for id.
func (c *Catalog) Lookup(id string) (Model, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[id]
	if !ok {
		return Model{}, false
	}
	return *m, true
}

// List returns every model sorted by provider then id.
func (c *Catalog) List() []Model {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Provider != result[j].Provider {
			return result[i].Provider < result[j].Provider
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Register adds or replaces an entry.
func (c *Catalog) Register(m Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := m
	c.models[m.ID] = &cp
}

// Observe records a model seen on an agent. Known models are left alone.
func (c *Catalog) Observe(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.models[id]; ok {
		return
	}
	c.models[id] = &Model{ID: id, Provider: c.provider(id), Source: "observed"}
}

// Count returns the number of models.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}

func (c *Catalog) loadBuiltinDefaults() {
	defaults := []Model{
		// Gemini
		{ID: "gemini-2.5-pro", Provider: "gemini", ContextWindow: 1048576, MaxOutputTokens: 65536},
		{ID: "gemini-2.5-flash", Provider: "gemini", ContextWindow: 1048576, MaxOutputTokens: 65536},

		// OpenAI
		{ID: "gpt-5", Provider: "openai", ContextWindow: 400000, MaxOutputTokens: 128000},
		{ID: "gpt-4.1", Provider: "openai", ContextWindow: 1047576, MaxOutputTokens: 32768},
		{ID: "gpt-4.1-mini", Provider: "openai", ContextWindow: 1047576, MaxOutputTokens: 32768},
		{ID: "gpt-4.1-nano", Provider: "openai", ContextWindow: 1047576, MaxOutputTokens: 32768},

		// Anthropic
		{ID: "claude-3-opus-20240229", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 4096},
		{ID: "claude-3-sonnet-20240229", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 4096},
		{ID: "claude-3-haiku-20240307", Provider: "anthropic", ContextWindow: 200000, MaxOutputTokens: 4096},
	}
	for _, m := range defaults {
		m.Source = "builtin"
		cp := m
		c.models[m.ID] = &cp
	}
}
