package handlers

import (
	"net/http"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/postman"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
)

// ══════════════════════════════════════════════════════════════
// ── Sessions, Messages & Logs (read-only) ────────────────────
// ══════════════════════════════════════════════════════════════

// logFilter reads the agent_id, session_id and limit query parameters.
func logFilter(r *http.Request) (store.LogFilter, error) {
	var (
		f   store.LogFilter
		err error
	)
	if f.AgentID, err = queryID(r, "agent_id"); err != nil {
		return f, err
	}
	if f.SessionID, err = queryID(r, "session_id"); err != nil {
		return f, err
	}
	f.Limit, err = queryLimit(r)
	return f, err
}

func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	f, err := logFilter(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	list, err := h.Store.ListSessions(r.Context(), store.SessionFilter{AgentID: f.AgentID, Limit: f.Limit})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) ListMessages(w http.ResponseWriter, r *http.Request) {
	f, err := logFilter(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	msgs, err := h.Store.ListMessages(r.Context(), store.MessageFilter{AgentID: f.AgentID, SessionID: f.SessionID, Limit: f.Limit})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}

func (h *Handlers) ListModelLogs(w http.ResponseWriter, r *http.Request) {
	f, err := logFilter(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	logs, err := h.Store.ListModelLogs(r.Context(), f)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handlers) GetModelLog(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	entry, err := h.Store.GetModelLog(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

func (h *Handlers) ListTestLogs(w http.ResponseWriter, r *http.Request) {
	f, err := logFilter(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	logs, err := h.Store.ListTestLogs(r.Context(), f)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

func (h *Handlers) ListChangeLogs(w http.ResponseWriter, r *http.Request) {
	f, err := logFilter(r)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	logs, err := h.Store.ListChangeLogs(r.Context(), f)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, logs)
}

// Postman returns a collection for the invocation API. base_url defaults
// to the address the request came in on.
func (h *Handlers) Postman(w http.ResponseWriter, r *http.Request) {
	agentID, err := queryID(r, "agent_id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	name := ""
	if agentID != 0 {
		agent, err := h.Store.GetAgent(r.Context(), agentID)
		if err != nil {
			respondErr(w, r, err)
			return
		}
		name = "Agents Simulator: " + agent.Name
	}

	baseURL := r.URL.Query().Get("base_url")
	if baseURL == "" {
		baseURL = requestScheme(r) + "://" + r.Host
	}

	w.Header().Set("Content-Disposition", `attachment; filename="AgentsSimulator.postman_collection.json"`)
	respondJSON(w, http.StatusOK, postman.Build(postman.Options{Name: name, BaseURL: baseURL, AgentID: agentID}))
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		return fwd
	}
	return "http"
}
