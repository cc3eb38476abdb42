// Package server assembles the agent invocation service: store, token
// authorizer, session manager, tool resolver, model router, pipeline and
// the HTTP API.
//
// This package lives in pkg/ so other binaries can embed the service and
// wrap its handler with their own middleware.
//
// Usage:
//
//	cfg, _ := config.Load("")
//	srv, err := server.New(ctx, cfg)
//	defer srv.Close(ctx)
//	go srv.Janitor.Start(ctx)
//	http.ListenAndServe(fmt.Sprintf(":%d", srv.Port), srv.Handler)
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/api"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/api/handlers"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/api/middleware"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/auth"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/catalog"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/config"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/executor"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/mcpgw"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/process"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/resolver"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/retention"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/router"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/seed"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/sessions"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store/sqlstore"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/telemetry"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
)

// Server holds the initialized service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the open data store. Close releases it.
	Store store.Store

	Pipeline *executor.Pipeline
	Janitor  *retention.Janitor

	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc flushes telemetry.
	ShutdownFunc func(context.Context) error
}

// OpenStore opens the store selected by cfg and applies migrations.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	var st store.Store
	switch cfg.Driver {
	case "memory":
		st = store.NewMemoryStore(cfg.DataDir)
	case sqlstore.DialectSQLite, sqlstore.DialectPostgres:
		s, err := sqlstore.Open(cfg.Driver, cfg.URL)
		if err != nil {
			return nil, err
		}
		st = s
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("driver", cfg.Driver).Msg("Store ready")
	return st, nil
}

// New initializes every component and returns a ready Server.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	st, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	if _, err := seed.Run(ctx, st, seed.Options{
		File:         cfg.Seed.File,
		Defaults:     cfg.Seed.Defaults,
		DefaultModel: cfg.Models.DefaultModel,
	}); err != nil {
		_ = st.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("seed: %w", err)
	}

	httpClient := &http.Client{}
	mr := router.NewModelRouter(RouterConfig(cfg.Models), httpClient)
	log.Info().Strs("drivers", mr.ListDrivers()).Msg("Model router initialized")

	mcp := mcpgw.NewClient(httpClient, process.NewRunner(0, 0))
	res := resolver.New(st, mcp, resolver.Options{
		HTTPClient:         httpClient,
		MaxDelegationDepth: cfg.Pipeline.MaxDelegationDepth,
	})

	authz := auth.NewAuthorizer(st)
	sm := sessions.NewManager(st)
	pipeline := executor.NewPipeline(st, authz, sm, res, mr, executor.Config{
		MaxToolIterations: cfg.Pipeline.MaxToolIterations,
		ToolTimeout:       cfg.Pipeline.ToolTimeout,
		DefaultModel:      cfg.Models.DefaultModel,
	})

	signingKey := cfg.Admin.SigningKey
	if signingKey == "" {
		signingKey, err = randomKey()
		if err != nil {
			_ = st.Close()
			_ = shutdown(ctx)
			return nil, err
		}
		log.Warn().Msg("ADMIN_SIGNING_KEY not set; admin logins will not survive a restart")
	}
	adminSessions := auth.NewAdminSessionProvider(signingKey, cfg.Admin.TokenTTL)
	chain := auth.NewProviderChain(adminSessions, auth.NewAPIKeyProvider(cfg.Admin.APIKeys))
	log.Info().Strs("providers", chain.ListProviders()).Msg("Admin authentication configured")

	cat := catalog.New(mr.ProviderFor)
	if agents, err := st.ListAgents(ctx); err == nil {
		for _, a := range agents {
			cat.Observe(a.Model)
		}
	}

	h := handlers.New(st, pipeline, authz, sm, res, adminSessions, cat)
	handler := api.NewRouter(h, middleware.NewAdminAuth(chain), cfg.CORSOrigins)

	return &Server{
		Handler:      handler,
		Store:        st,
		Pipeline:     pipeline,
		Janitor:      retention.NewJanitor(st, cfg.Retention.Days, cfg.Retention.Interval),
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

// Close releases the store and flushes telemetry.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if s.ShutdownFunc != nil {
		errs = append(errs, s.ShutdownFunc(ctx))
	}
	errs = append(errs, s.Store.Close())
	return errors.Join(errs...)
}

// RouterConfig maps model settings onto the router's provider table.
func RouterConfig(m config.ModelConfig) router.Config {
	providers := map[string]contracts.ProviderConfig{}
	add := func(kind string, p config.ProviderConfig) {
		if p.APIKey != "" || p.BaseURL != "" {
			providers[kind] = contracts.ProviderConfig{Kind: kind, APIKey: p.APIKey, BaseURL: p.BaseURL}
		}
	}
	add(router.KindOpenAI, m.OpenAI)
	add(router.KindAnthropic, m.Anthropic)
	add(router.KindGemini, m.Gemini)
	add(router.KindOllama, m.Ollama)

	return router.Config{
		DefaultProvider: m.DefaultProvider,
		Timeout:         m.Timeout,
		MaxRetries:      m.MaxRetries,
		RetryBackoff:    m.RetryBackoff,
		Providers:       providers,
	}
}

func randomKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
