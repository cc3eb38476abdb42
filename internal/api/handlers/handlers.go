// Package handlers implements the HTTP handlers of the agent invocation
// service: the token-authorized invocation API and the admin API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/auth"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/catalog"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/executor"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/resolver"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/sessions"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store         store.Store
	Pipeline      *executor.Pipeline
	Authorizer    *auth.Authorizer
	Sessions      *sessions.Manager
	Resolver      *resolver.Resolver
	AdminSessions *auth.AdminSessionProvider
	Catalog       *catalog.Catalog
}

// New creates a new Handlers instance with all dependencies.
func New(s store.Store, p *executor.Pipeline, authz *auth.Authorizer, sm *sessions.Manager, res *resolver.Resolver, admin *auth.AdminSessionProvider, cat *catalog.Catalog) *Handlers {
	if cat == nil {
		cat = catalog.New(nil)
	}
	return &Handlers{
		Store:         s,
		Pipeline:      p,
		Authorizer:    authz,
		Sessions:      sm,
		Resolver:      res,
		AdminSessions: admin,
		Catalog:       cat,
	}
}

// ── Health ──────────────────────────────────────────────────

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "unhealthy",
			"service": "agentsim",
			"error":   err.Error(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "agentsim",
	})
}

// ── Errors ──────────────────────────────────────────────────

// badRequest marks a request validation failure.
type badRequest struct{ msg string }

func (e *badRequest) Error() string { return e.msg }

func errBadRequest(format string, args ...interface{}) error {
	return &badRequest{msg: fmt.Sprintf(format, args...)}
}

// statusFor maps an error to its HTTP status and the code reported in
// the error body.
func statusFor(err error) (int, string) {
	if kind, ok := auth.KindOf(err); ok {
		if kind == auth.QuotaExceeded {
			return http.StatusTooManyRequests, string(kind)
		}
		return http.StatusUnauthorized, string(kind)
	}
	if kind, ok := sessions.KindOf(err); ok {
		if kind == sessions.SessionAgentMismatch {
			return http.StatusConflict, string(kind)
		}
		return http.StatusNotFound, string(kind)
	}
	if kind, ok := executor.KindOf(err); ok {
		if kind == executor.ModelCallFailed {
			return http.StatusBadGateway, string(kind)
		}
		return http.StatusInternalServerError, string(kind)
	}
	if kind, ok := resolver.KindOf(err); ok {
		return http.StatusInternalServerError, string(kind)
	}

	var br *badRequest
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, "BadRequest"
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "InvalidCredentials"
	case store.IsNotFound(err):
		return http.StatusNotFound, "NotFound"
	case store.IsConflict(err):
		return http.StatusConflict, "Conflict"
	}
	return http.StatusInternalServerError, "Internal"
}

// ── Helpers ─────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": code})
}

// respondErr writes err with the status statusFor assigns it.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= 500 {
		log.Error().Err(err).Str("path", r.URL.Path).Str("code", code).Msg("Request failed")
	}
	respondError(w, status, code, err.Error())
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return errBadRequest("invalid request body: %v", err)
	}
	return nil
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

// queryID parses an optional positive integer query parameter. Absent
// means zero.
func queryID(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errBadRequest("invalid limit %q", raw)
	}
	return store.ClampLimit(n), nil
}
