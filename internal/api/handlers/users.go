package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/auth"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// ══════════════════════════════════════════════════════════════
// ── Login ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// Login exchanges a username and password for an admin session token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}

	ctx := r.Context()
	user, err := h.Store.GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if store.IsNotFound(err) {
			err = auth.ErrInvalidCredentials
		}
		respondErr(w, r, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		log.Warn().Str("username", user.Username).Msg("Admin login rejected")
		respondErr(w, r, auth.ErrInvalidCredentials)
		return
	}

	token, expires, err := h.AdminSessions.Issue(user.ID, user.Name)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	now := time.Now().UTC()
	if err := h.Store.TouchUserLogin(ctx, user.ID, now); err != nil {
		log.Warn().Err(err).Int64("user_id", user.ID).Msg("Failed to record login time")
	}
	user.LastLoginDate = &now

	log.Info().Int64("user_id", user.ID).Msg("Admin logged in")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expires,
		"user":       user,
	})
}

// ══════════════════════════════════════════════════════════════
// ── User Handlers ────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type userRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// GetUser returns the user with its tokens.
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	ctx := r.Context()
	user, err := h.Store.GetUser(ctx, id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	tokens, err := h.Store.ListTokens(ctx, store.TokenFilter{UserID: id})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	user.Tokens = tokens
	respondJSON(w, http.StatusOK, user)
}

func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondErr(w, r, errBadRequest("username and password are required"))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	user := &models.User{
		Name:         strings.TrimSpace(req.Name),
		Username:     req.Username,
		PasswordHash: hash,
		CreatedDate:  time.Now().UTC(),
	}
	if user.Name == "" {
		user.Name = user.Username
	}
	if err := h.Store.CreateUser(r.Context(), user); err != nil {
		respondErr(w, r, err)
		return
	}

	log.Info().Int64("user_id", user.ID).Str("username", user.Username).Msg("User created")
	respondJSON(w, http.StatusCreated, user)
}

// UpdateUser changes name, username or password. Empty fields are kept.
func (h *Handlers) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req userRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}

	ctx := r.Context()
	user, err := h.Store.GetUser(ctx, id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		user.Name = name
	}
	if username := strings.TrimSpace(req.Username); username != "" {
		user.Username = username
	}
	user.PasswordHash = ""
	if req.Password != "" {
		if user.PasswordHash, err = auth.HashPassword(req.Password); err != nil {
			respondErr(w, r, err)
			return
		}
	}
	if err := h.Store.UpdateUser(ctx, user); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// DeleteUser removes a user and its tokens.
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.Store.DeleteUser(r.Context(), id); err != nil {
		respondErr(w, r, err)
		return
	}
	log.Info().Int64("user_id", id).Msg("User deleted")
	w.WriteHeader(http.StatusNoContent)
}

// ══════════════════════════════════════════════════════════════
// ── Token Handlers ───────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// tokenRequest carries token policy. Pointer fields distinguish "absent"
// from "clear"; ClearExpiry and ClearCap remove a limit on update.
type tokenRequest struct {
	UserID         int64      `json:"user_id"`
	AgentID        *int64     `json:"agent_id"`
	Active         *bool      `json:"active"`
	ExpireDate     *time.Time `json:"expire_date"`
	MaxInvocations *int64     `json:"max_invocations"`
	ClearScope     bool       `json:"clear_agent_id"`
	ClearExpiry    bool       `json:"clear_expire_date"`
	ClearCap       bool       `json:"clear_max_invocations"`
}

func (h *Handlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	userID, err := queryID(r, "user_id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	agentID, err := queryID(r, "agent_id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	tokens, err := h.Store.ListTokens(r.Context(), store.TokenFilter{UserID: userID, AgentID: agentID})
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tokens)
}

func (h *Handlers) GetToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	tok, err := h.Store.GetToken(r.Context(), id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tok)
}

// CreateToken mints a token. The plaintext appears in this response only.
func (h *Handlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if req.UserID <= 0 {
		respondErr(w, r, errBadRequest("user_id is required"))
		return
	}
	if err := validateTokenPolicy(req); err != nil {
		respondErr(w, r, err)
		return
	}

	ctx := r.Context()
	if req.AgentID != nil {
		if _, err := h.Store.GetAgent(ctx, *req.AgentID); err != nil {
			respondErr(w, r, err)
			return
		}
	}

	plain, err := auth.MintToken()
	if err != nil {
		respondErr(w, r, err)
		return
	}
	tok := &models.AuthorizationToken{
		UserID:         req.UserID,
		AgentID:        req.AgentID,
		TokenDigest:    auth.Digest(plain),
		TokenHint:      auth.Hint(plain),
		Active:         req.Active == nil || *req.Active,
		CreatedDate:    time.Now().UTC(),
		ExpireDate:     req.ExpireDate,
		MaxInvocations: req.MaxInvocations,
	}
	if err := h.Store.CreateToken(ctx, tok); err != nil {
		respondErr(w, r, err)
		return
	}
	tok.Token = plain

	log.Info().Int64("token_id", tok.ID).Int64("user_id", tok.UserID).Msg("Token issued")
	respondJSON(w, http.StatusCreated, tok)
}

// UpdateToken edits a token's policy: activation, scope, expiry and cap.
// Counters are never touched.
func (h *Handlers) UpdateToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	var req tokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, r, err)
		return
	}
	if err := validateTokenPolicy(req); err != nil {
		respondErr(w, r, err)
		return
	}

	ctx := r.Context()
	tok, err := h.Store.GetToken(ctx, id)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if req.Active != nil {
		tok.Active = *req.Active
	}
	switch {
	case req.ClearScope:
		tok.AgentID = nil
	case req.AgentID != nil:
		if _, err := h.Store.GetAgent(ctx, *req.AgentID); err != nil {
			respondErr(w, r, err)
			return
		}
		tok.AgentID = req.AgentID
	}
	switch {
	case req.ClearExpiry:
		tok.ExpireDate = nil
	case req.ExpireDate != nil:
		tok.ExpireDate = req.ExpireDate
	}
	switch {
	case req.ClearCap:
		tok.MaxInvocations = nil
	case req.MaxInvocations != nil:
		tok.MaxInvocations = req.MaxInvocations
	}

	if err := h.Store.UpdateToken(ctx, tok); err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, tok)
}

func (h *Handlers) DeleteToken(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		respondErr(w, r, err)
		return
	}
	if err := h.Store.DeleteToken(r.Context(), id); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateTokenPolicy(req tokenRequest) error {
	if req.MaxInvocations != nil && *req.MaxInvocations < 0 {
		return errBadRequest("max_invocations must not be negative")
	}
	if req.AgentID != nil && *req.AgentID <= 0 {
		return errBadRequest("invalid agent_id")
	}
	return nil
}
