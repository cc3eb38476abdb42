package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/api/handlers"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/api/middleware"
)

// NewRouter creates the HTTP router with all API routes.
func NewRouter(h *handlers.Handlers, adminAuth *middleware.AdminAuth, corsOrigins []string) http.Handler {
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id", "X-Trace-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	// Invocation API (bearer tokens)
	r.Route("/api/{agent_id}", func(r chi.Router) {
		r.Post("/create_session", h.CreateSession)
		r.Get("/messages", h.ListAgentMessages)
		r.Post("/{session_id}", h.Invoke)
	})

	// Admin API
	r.Route("/admin/v1", func(r chi.Router) {
		r.Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(adminAuth.Handler)

			r.Route("/agents", func(r chi.Router) {
				r.Get("/", h.ListAgents)
				r.Post("/", h.CreateAgent)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetAgent)
					r.Put("/", h.UpdateAgent)
					r.Delete("/", h.DeleteAgent)
					r.Post("/test", h.TestAgent)
					r.Get("/changes", h.ListAgentChanges)
				})
			})

			r.Get("/models", h.ListModels)
			r.Get("/sessions", h.ListSessions)
			r.Get("/messages", h.ListMessages)

			r.Route("/users", func(r chi.Router) {
				r.Get("/", h.ListUsers)
				r.Post("/", h.CreateUser)
				r.Get("/{id}", h.GetUser)
				r.Put("/{id}", h.UpdateUser)
				r.Delete("/{id}", h.DeleteUser)
			})

			r.Route("/tokens", func(r chi.Router) {
				r.Get("/", h.ListTokens)
				r.Post("/", h.CreateToken)
				r.Get("/{id}", h.GetToken)
				r.Put("/{id}", h.UpdateToken)
				r.Delete("/{id}", h.DeleteToken)
			})

			r.Route("/logs", func(r chi.Router) {
				r.Get("/model", h.ListModelLogs)
				r.Get("/model/{id}", h.GetModelLog)
				r.Get("/test", h.ListTestLogs)
				r.Get("/changes", h.ListChangeLogs)
			})

			r.Get("/postman", h.Postman)
		})
	})

	return r
}
