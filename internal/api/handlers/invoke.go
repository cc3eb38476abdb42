package handlers

import (
	"net/http"
	"strings"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/executor"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/sessions"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Invocation API ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

func requireBearer(w http.ResponseWriter, r *http.Request) (string, bool) {
	token, ok := bearerToken(r)
	if !ok {
		w.Header().Set("WWW-Authenticate", `Bearer realm="agentsim"`)
		respondError(w, http.StatusUnauthorized, "Unauthorized", "missing or malformed Authorization header")
	}
	return token, ok
}

// CreateSession handles POST /api/{agent_id}/create_session.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	token, ok := requireBearer(w, r)
	if !ok {
		return
	}
	agentID, err := pathID(r, "agent_id")
	if err != nil {
		respondErr(w, r, err)
		return
	}

	session, err := h.Pipeline.CreateSession(r.Context(), token, agentID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.CreateSessionResponse{SessionID: session.ID})
}

// Invoke handles POST /api/{agent_id}/{session_id}.
func (h *Handlers) Invoke(w http.ResponseWriter, r *http.Request) {
	token, ok := requireBearer(w, r)
	if !ok {
		return
	}
	agentID, err := pathID(r, "agent_id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	sessionID, err := pathID(r, "session_id")
	if err != nil {
		respondErr(w, r, err)
		return
	}

	var req models.InvokeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserQuery) == "" {
		respondErr(w, r, errBadRequest("UserQuery is required"))
		return
	}

	answer, err := h.Pipeline.Invoke(r.Context(), executor.InvokeRequest{
		AgentID:   agentID,
		SessionID: sessionID,
		Token:     token,
		Query:     req.UserQuery,
	})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, models.InvokeResponse{Response: answer})
}

// ListAgentMessages handles GET /api/{agent_id}/messages?session_id=.
// The token is checked but no invocation is spent.
func (h *Handlers) ListAgentMessages(w http.ResponseWriter, r *http.Request) {
	token, ok := requireBearer(w, r)
	if !ok {
		return
	}
	agentID, err := pathID(r, "agent_id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	sessionID, err := queryID(r, "session_id")
	if err != nil {
		respondErr(w, r, err)
		return
	}

	ctx := r.Context()
	if _, err := h.Authorizer.Check(ctx, token, agentID); err != nil {
		respondErr(w, r, err)
		return
	}
	if _, err := h.Store.GetAgent(ctx, agentID); err != nil {
		if store.IsNotFound(err) {
			err = &sessions.Error{Kind: sessions.AgentNotFound, AgentID: agentID}
		}
		respondErr(w, r, err)
		return
	}
	if sessionID != 0 {
		if _, err := h.Sessions.GetOrValidateSession(ctx, sessionID, agentID); err != nil {
			respondErr(w, r, err)
			return
		}
	}

	msgs, err := h.Store.ListMessages(ctx, store.MessageFilter{AgentID: agentID, SessionID: sessionID})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, msgs)
}
