// Package seed bootstraps an empty store: either a built-in admin user,
// token and sample agents, or whatever a YAML seed file declares.
package seed

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/auth"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// File is the YAML seed document.
type File struct {
	Users  []UserSeed  `yaml:"users"`
	Agents []AgentSeed `yaml:"agents"`
	Tokens []TokenSeed `yaml:"tokens"`
}

type UserSeed struct {
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type AgentSeed struct {
	Name         string     `yaml:"name"`
	Description  string     `yaml:"description"`
	Model        string     `yaml:"model"`
	SystemPrompt string     `yaml:"system_prompt"`
	Tools        []ToolSeed `yaml:"tools"`
}

type ToolSeed struct {
	Name                string `yaml:"name"`
	Description         string `yaml:"description"`
	Type                string `yaml:"type"`
	MCPType             string `yaml:"mcp_type"`
	URL                 string `yaml:"url"`
	AuthorizationHeader string `yaml:"authorization_header"`
	Command             string `yaml:"command"`
	Parameters          string `yaml:"parameters"`
	// Agent names another seeded agent.
	Agent string `yaml:"agent"`
}

type TokenSeed struct {
	// User is the owning username.
	User string `yaml:"user"`
	// Agent optionally scopes the token to a seeded agent by name.
	Agent string `yaml:"agent"`
	// Token fixes the plaintext. When empty one is minted and printed once.
	Token          string     `yaml:"token"`
	MaxInvocations *int64     `yaml:"max_invocations"`
	Expires        *time.Time `yaml:"expires"`
	Inactive       bool       `yaml:"inactive"`
}

// Options controls Run.
type Options struct {
	File         string
	Defaults     bool
	DefaultModel string
	// Out receives generated credentials, once. Defaults to os.Stdout.
	// They never go through the structured log.
	Out io.Writer
}

// Result reports what was created.
type Result struct {
	Users  int
	Agents int
	Tokens []IssuedToken
}

// IssuedToken is a token created during seeding with its one-time plaintext.
type IssuedToken struct {
	ID    int64
	User  string
	Token string
	// Minted is set when the plaintext was generated rather than declared.
	Minted bool
}

// Run seeds st when it holds no users and no agents. A seed file wins
// over the built-in defaults.
func Run(ctx context.Context, st store.Store, opts Options) (*Result, error) {
	empty, err := isEmpty(ctx, st)
	if err != nil {
		return nil, err
	}
	if !empty {
		log.Debug().Msg("Store already populated, skipping seed")
		return &Result{}, nil
	}

	switch {
	case opts.File != "":
		f, err := LoadFile(opts.File)
		if err != nil {
			return nil, err
		}
		res, err := Apply(ctx, st, f, opts.DefaultModel)
		if err != nil {
			return nil, err
		}
		announce(opts.Out, "", res)
		return res, nil
	case opts.Defaults:
		password, err := randomSecret(12)
		if err != nil {
			return nil, err
		}
		res, err := Apply(ctx, st, Defaults(password), opts.DefaultModel)
		if err != nil {
			return nil, err
		}
		log.Warn().Str("username", "admin").Msg("Seeded admin user with a generated password; change it")
		announce(opts.Out, password, res)
		return res, nil
	}
	return &Result{}, nil
}

// announce prints generated credentials to out.
func announce(out io.Writer, adminPassword string, res *Result) {
	if out == nil {
		out = os.Stdout
	}
	if adminPassword != "" {
		fmt.Fprintf(out, "seeded admin user: username=admin password=%s\n", adminPassword)
	}
	for _, t := range res.Tokens {
		if t.Minted {
			fmt.Fprintf(out, "seeded token %d for %s: %s (it will not be shown again)\n", t.ID, t.User, t.Token)
		}
	}
}

// Defaults is the built-in seed: one admin, one unscoped token and two
// sample agents.
func Defaults(adminPassword string) *File {
	return &File{
		Users: []UserSeed{{Name: "Administrator", Username: "admin", Password: adminPassword}},
		Agents: []AgentSeed{
			{
				Name:         "Customer Service Bot",
				Description:  "Handles customer queries about orders.",
				Model:        "gemini-2.5-flash",
				SystemPrompt: "You are a helpful customer service assistant.",
			},
			{
				Name:         "Code Generator",
				Description:  "Generates code snippets in various languages.",
				Model:        "gemini-2.5-pro",
				SystemPrompt: "You are an expert programmer. Generate clean, efficient code.",
			},
		},
		Tokens: []TokenSeed{{User: "admin"}},
	}
}

// LoadFile parses a YAML seed file.
func LoadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &f, nil
}

// Apply writes f into st. Agents are created before tokens so tokens can
// be scoped by agent name; agent tools may reference each other by name.
func Apply(ctx context.Context, st store.Store, f *File, defaultModel string) (*Result, error) {
	res := &Result{}
	users := make(map[string]int64, len(f.Users))
	for _, u := range f.Users {
		user, err := CreateUser(ctx, st, u.Name, u.Username, u.Password)
		if err != nil {
			return nil, err
		}
		users[user.Username] = user.ID
		res.Users++
	}

	agents := make(map[string]int64, len(f.Agents))
	created := make([]*models.Agent, 0, len(f.Agents))
	now := time.Now().UTC()
	for _, a := range f.Agents {
		if strings.TrimSpace(a.Name) == "" {
			return nil, fmt.Errorf("seed agent: name is required")
		}
		agent := &models.Agent{
			Name:         a.Name,
			Description:  a.Description,
			Model:        a.Model,
			SystemPrompt: a.SystemPrompt,
			CreatedDate:  now,
			UpdatedDate:  now,
		}
		if agent.Model == "" {
			agent.Model = defaultModel
		}
		if err := st.CreateAgent(ctx, agent); err != nil {
			return nil, fmt.Errorf("seed agent %q: %w", a.Name, err)
		}
		agents[a.Name] = agent.ID
		created = append(created, agent)
		res.Agents++
	}

	// Tools go in a second pass so delegation targets exist.
	for i, a := range f.Agents {
		if len(a.Tools) == 0 {
			continue
		}
		agent := created[i]
		for _, t := range a.Tools {
			tool, err := t.toModel(agents)
			if err != nil {
				return nil, fmt.Errorf("seed agent %q: %w", a.Name, err)
			}
			agent.Tools = append(agent.Tools, tool)
		}
		if err := st.UpdateAgent(ctx, agent); err != nil {
			return nil, fmt.Errorf("seed agent %q tools: %w", a.Name, err)
		}
	}

	for _, t := range f.Tokens {
		userID, ok := users[t.User]
		if !ok {
			u, err := st.GetUserByUsername(ctx, t.User)
			if err != nil {
				return nil, fmt.Errorf("seed token: user %q: %w", t.User, err)
			}
			userID = u.ID
		}
		spec := TokenSpec{
			UserID:         userID,
			Plaintext:      t.Token,
			MaxInvocations: t.MaxInvocations,
			ExpireDate:     t.Expires,
			Inactive:       t.Inactive,
		}
		if t.Agent != "" {
			id, ok := agents[t.Agent]
			if !ok {
				return nil, fmt.Errorf("seed token: unknown agent %q", t.Agent)
			}
			spec.AgentID = &id
		}
		tok, plain, err := IssueToken(ctx, st, spec)
		if err != nil {
			return nil, err
		}
		res.Tokens = append(res.Tokens, IssuedToken{ID: tok.ID, User: t.User, Token: plain, Minted: t.Token == ""})
		if t.Token == "" {
			log.Info().Int64("token_id", tok.ID).Str("user", t.User).Msg("Seeded invocation token")
		}
	}

	log.Info().Int("users", res.Users).Int("agents", res.Agents).Int("tokens", len(res.Tokens)).Msg("Store seeded")
	return res, nil
}

func (t ToolSeed) toModel(agents map[string]int64) (models.Tool, error) {
	tool := models.Tool{
		ID:                  uuid.NewString(),
		Name:                t.Name,
		Description:         t.Description,
		Type:                models.ToolType(t.Type),
		MCPType:             models.MCPType(t.MCPType),
		URL:                 t.URL,
		AuthorizationHeader: t.AuthorizationHeader,
		Command:             t.Command,
		Parameters:          t.Parameters,
	}
	if tool.Type == models.ToolTypeAgent {
		id, ok := agents[t.Agent]
		if !ok {
			return tool, fmt.Errorf("tool %q: unknown agent %q", t.Name, t.Agent)
		}
		tool.AgentID = id
		tool.AgentName = t.Agent
	}
	return tool, nil
}

// CreateUser adds a user with a bcrypt password hash.
func CreateUser(ctx context.Context, st store.UserStore, name, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Name:         strings.TrimSpace(name),
		Username:     username,
		PasswordHash: hash,
		CreatedDate:  time.Now().UTC(),
	}
	if user.Name == "" {
		user.Name = username
	}
	if err := st.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user %q: %w", username, err)
	}
	return user, nil
}

// TokenSpec describes a token to issue.
type TokenSpec struct {
	UserID         int64
	AgentID        *int64
	Plaintext      string
	MaxInvocations *int64
	ExpireDate     *time.Time
	Inactive       bool
}

// IssueToken stores a token and returns it with its plaintext. Only the
// digest and hint are persisted.
func IssueToken(ctx context.Context, st store.TokenStore, spec TokenSpec) (*models.AuthorizationToken, string, error) {
	plain := spec.Plaintext
	if plain == "" {
		var err error
		if plain, err = auth.MintToken(); err != nil {
			return nil, "", err
		}
	}
	tok := &models.AuthorizationToken{
		UserID:         spec.UserID,
		AgentID:        spec.AgentID,
		TokenDigest:    auth.Digest(plain),
		TokenHint:      auth.Hint(plain),
		Active:         !spec.Inactive,
		CreatedDate:    time.Now().UTC(),
		ExpireDate:     spec.ExpireDate,
		MaxInvocations: spec.MaxInvocations,
	}
	if err := st.CreateToken(ctx, tok); err != nil {
		return nil, "", fmt.Errorf("create token: %w", err)
	}
	return tok, plain, nil
}

func isEmpty(ctx context.Context, st store.Store) (bool, error) {
	users, err := st.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	agents, err := st.ListAgents(ctx)
	if err != nil {
		return false, err
	}
	return len(users) == 0 && len(agents) == 0, nil
}

func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
