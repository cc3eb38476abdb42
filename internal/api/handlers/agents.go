package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/executor"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/resolver"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	pkgmw "github.com/Satish-Kalepu/Agents-Simulator/pkg/middleware"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Agent Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// agentRequest is the writable part of an agent.
type agentRequest struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Model        string        `json:"model"`
	SystemPrompt string        `json:"system_prompt"`
	Tools        []models.Tool `json:"tools"`
}

func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.Store.ListAgents(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	respondJSON(w, http.StatusOK, agents)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	agent, err := h.Store.GetAgent(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}

	now := time.Now().UTC()
	agent := &models.Agent{CreatedDate: now}
	applyAgent(agent, req, h.Pipeline.DefaultModel(), now)
	if err := h.validateAgent(r.Context(), agent); err != nil {
		respondErr(w, r, err)
		return
	}

	ctx := r.Context()
	if err := h.Store.CreateAgent(ctx, agent); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.recordChange(ctx, agent.ID, models.ChangeCreate, fmt.Sprintf("Created agent %q with %d tool(s)", agent.Name, len(agent.Tools))); err != nil {
		respondErr(w, r, err)
		return
	}
	h.Catalog.Observe(agent.Model)

	log.Info().Int64("agent_id", agent.ID).Str("name", agent.Name).Msg("Agent created")
	respondJSON(w, http.StatusCreated, agent)
}

func (h *Handlers) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req agentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}

	ctx := r.Context()
	existing, err := h.Store.GetAgent(ctx, id)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	updated := *existing
	applyAgent(&updated, req, h.Pipeline.DefaultModel(), time.Now().UTC())
	if err := h.validateAgent(ctx, &updated); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.Store.UpdateAgent(ctx, &updated); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.recordChange(ctx, id, models.ChangeEdit, describeAgentChange(existing, &updated)); err != nil {
		respondErr(w, r, err)
		return
	}
	h.Catalog.Observe(updated.Model)

	log.Info().Int64("agent_id", id).Msg("Agent updated")
	respondJSON(w, http.StatusOK, updated)
}

// DeleteAgent refuses to drop an agent that still owns sessions unless
// ?force=true, which removes its sessions and messages too. Logs stay.
func (h *Handlers) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	force := r.URL.Query().Get("force") == "true"

	ctx := r.Context()
	agent, err := h.Store.GetAgent(ctx, id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.Store.DeleteAgent(ctx, id, force); err != nil {
		respondErr(w, r, err)
		return
	}

	desc := fmt.Sprintf("Deleted agent %q", agent.Name)
	if force {
		desc += " with its sessions"
	}
	if err := h.recordChange(ctx, id, models.ChangeDelete, desc); err != nil {
		respondErr(w, r, err)
		return
	}

	log.Info().Int64("agent_id", id).Bool("force", force).Msg("Agent deleted")
	w.WriteHeader(http.StatusNoContent)
}

// TestAgent runs the admin test panel against an agent.
func (h *Handlers) TestAgent(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req struct {
		Query string `json:"query"`
		executor.TestOverrides
	}
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondErr(w, r, errBadRequest("query is required"))
		return
	}

	entry, err := h.Pipeline.Test(r.Context(), id, req.Query, req.TestOverrides)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) ListAgentChanges(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	changes, err := h.Store.ListChangeLogs(r.Context(), store.LogFilter{AgentID: id, Limit: limit})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, changes)
}

// ListModels returns the models offered for agent configuration.
func (h *Handlers) ListModels(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Catalog.List())
}

// ── Helpers ─────────────────────────────────────────────────

func applyAgent(agent *models.Agent, req agentRequest, defaultModel string, now time.Time) {
	agent.Name = strings.TrimSpace(req.Name)
	agent.Description = req.Description
	agent.Model = strings.TrimSpace(req.Model)
	if agent.Model == "" {
		agent.Model = defaultModel
	}
	agent.SystemPrompt = req.SystemPrompt
	agent.Tools = req.Tools
	if agent.Tools == nil {
		agent.Tools = []models.Tool{}
	}
	for i := range agent.Tools {
		if agent.Tools[i].ID == "" {
			agent.Tools[i].ID = uuid.New().String()
		}
	}
	agent.UpdatedDate = now
}

// validateAgent checks the agent's tool configuration the same way an
// invocation would, so broken or cyclic tools are refused at write time.
func (h *Handlers) validateAgent(ctx context.Context, agent *models.Agent) error {
	if agent.Name == "" {
		return errBadRequest("name is required")
	}
	for _, t := range agent.Tools {
		switch t.Type {
		case models.ToolTypeMCP, models.ToolTypeAPI, models.ToolTypeAgent:
		default:
			return errBadRequest("tool %q: unknown type %q", t.Name, t.Type)
		}
	}
	if _, err := h.Resolver.ResolveAll(ctx, agent); err != nil {
		if _, ok := resolver.KindOf(err); ok {
			return errBadRequest("%v", err)
		}
		return err
	}
	return nil
}

// recordChange appends the change log row for a committed agent mutation.
// Its error fails the request so a missing row never goes unreported.
func (h *Handlers) recordChange(ctx context.Context, agentID int64, event models.ChangeEvent, description string) error {
	var userID int64
	if id := pkgmw.GetIdentity(ctx); id != nil {
		userID = id.UserID
	}
	entry := &models.AgentChangeLog{
		UserID:      userID,
		AgentID:     agentID,
		Datetime:    time.Now().UTC(),
		Event:       event,
		Description: description,
	}
	if err := h.Store.CreateChangeLog(context.WithoutCancel(ctx), entry); err != nil {
		return fmt.Errorf("write change log for agent %d: %w", agentID, err)
	}
	return nil
}

func describeAgentChange(before, after *models.Agent) string {
	var changed []string
	if before.Name != after.Name {
		changed = append(changed, fmt.Sprintf("name %q → %q", before.Name, after.Name))
	}
	if before.Description != after.Description {
		changed = append(changed, "description")
	}
	if before.Model != after.Model {
		changed = append(changed, fmt.Sprintf("model %s → %s", before.Model, after.Model))
	}
	if before.SystemPrompt != after.SystemPrompt {
		changed = append(changed, "system prompt")
	}
	if len(before.Tools) != len(after.Tools) {
		changed = append(changed, fmt.Sprintf("tools %d → %d", len(before.Tools), len(after.Tools)))
	} else {
		for i := range before.Tools {
			if before.Tools[i] != after.Tools[i] {
				changed = append(changed, "tools")
				break
			}
		}
	}
	if len(changed) == 0 {
		return fmt.Sprintf("Saved agent %q without changes", after.Name)
	}
	return fmt.Sprintf("Updated agent %q: %s", after.Name, strings.Join(changed, ", "))
}
