// Package store provides the storage interface and implementations for the
// agent invocation service. MemoryStore backs tests and single-node dev runs;
// sqlstore provides SQLite and PostgreSQL persistence.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// Store is the primary storage interface. Everything above the storage
// layer depends on this interface only.
type Store interface {
	AgentStore
	SessionStore
	MessageStore
	UserStore
	TokenStore
	LogStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs database migrations.
	Migrate(ctx context.Context) error
}

// ── Agent Store ─────────────────────────────────────────────

type AgentStore interface {
	ListAgents(ctx context.Context) ([]models.Agent, error)
	GetAgent(ctx context.Context, id int64) (*models.Agent, error)
	CreateAgent(ctx context.Context, agent *models.Agent) error
	UpdateAgent(ctx context.Context, agent *models.Agent) error

	// DeleteAgent removes an agent. If the agent still owns sessions it
	// fails with *ErrConflict unless cascade is set, in which case its
	// sessions and messages are removed in the same unit of work.
	DeleteAgent(ctx context.Context, id int64, cascade bool) error

	// TouchAgent increments invocations and sets last_used_date atomically.
	TouchAgent(ctx context.Context, id int64, at time.Time) error
}

// ── Session Store ───────────────────────────────────────────

// SessionFilter narrows session listings. Zero values match everything.
type SessionFilter struct {
	AgentID int64
	Limit   int
}

type SessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id int64) (*models.Session, error)

	// ListSessions returns sessions newest first, with AgentName filled in.
	ListSessions(ctx context.Context, filter SessionFilter) ([]models.Session, error)

	// TouchSession increments invocations and sets last_used_date atomically.
	TouchSession(ctx context.Context, id int64, at time.Time) error
}

// ── Message Store ───────────────────────────────────────────

type MessageFilter struct {
	AgentID   int64
	SessionID int64
	Limit     int
}

type MessageStore interface {
	// AppendMessages stores all messages or none, assigning ids in order.
	AppendMessages(ctx context.Context, msgs ...*models.Message) error

	// ListMessages returns messages in conversation order (datetime, id ascending).
	ListMessages(ctx context.Context, filter MessageFilter) ([]models.Message, error)
}

// ── User Store ──────────────────────────────────────────────

type UserStore interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id int64) error
	TouchUserLogin(ctx context.Context, id int64, at time.Time) error
}

// ── Token Store ─────────────────────────────────────────────

type TokenFilter struct {
	UserID  int64
	AgentID int64
}

type TokenStore interface {
	ListTokens(ctx context.Context, filter TokenFilter) ([]models.AuthorizationToken, error)
	GetToken(ctx context.Context, id int64) (*models.AuthorizationToken, error)
	GetTokenByDigest(ctx context.Context, digest string) (*models.AuthorizationToken, error)
	CreateToken(ctx context.Context, token *models.AuthorizationToken) error

	// UpdateToken rewrites the mutable policy fields (active, expiry, cap,
	// scope). Counters are left untouched.
	UpdateToken(ctx context.Context, token *models.AuthorizationToken) error
	DeleteToken(ctx context.Context, id int64) error

	// ConsumeToken spends one invocation in a single atomic step. It
	// succeeds only if the token is usable at instant at, and returns
	// ErrTokenUnusable otherwise.
	ConsumeToken(ctx context.Context, id int64, at time.Time) (*models.AuthorizationToken, error)
}

// ── Log Store ───────────────────────────────────────────────

// LogFilter narrows log listings. Results are newest first.
type LogFilter struct {
	AgentID   int64
	SessionID int64
	Limit     int
}

type LogStore interface {
	CreateModelLog(ctx context.Context, entry *models.ModelLog) error
	GetModelLog(ctx context.Context, id int64) (*models.ModelLog, error)
	ListModelLogs(ctx context.Context, filter LogFilter) ([]models.ModelLog, error)

	CreateTestLog(ctx context.Context, entry *models.AgentTestLog) error
	ListTestLogs(ctx context.Context, filter LogFilter) ([]models.AgentTestLog, error)

	CreateChangeLog(ctx context.Context, entry *models.AgentChangeLog) error
	ListChangeLogs(ctx context.Context, filter LogFilter) ([]models.AgentChangeLog, error)

	// PurgeLogsBefore deletes model and test logs older than cutoff and
	// reports how many rows were removed. Change logs are never purged.
	PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrConflict is returned when a write would violate a uniqueness or
// referential rule.
type ErrConflict struct {
	Entity string
	Reason string
}

func (e *ErrConflict) Error() string {
	return e.Entity + " conflict: " + e.Reason
}

// ErrTokenUnusable is returned by ConsumeToken when the token is inactive,
// expired or out of invocations at the moment of consumption.
var ErrTokenUnusable = errors.New("token is not usable")

// IsNotFound reports whether err is (or wraps) an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}

// IsConflict reports whether err is (or wraps) an *ErrConflict.
func IsConflict(err error) bool {
	var c *ErrConflict
	return errors.As(err, &c)
}

// DefaultListLimit caps listings when the caller passes no limit.
const DefaultListLimit = 500

// ClampLimit applies DefaultListLimit to non-positive limits.
func ClampLimit(n int) int {
	if n <= 0 || n > DefaultListLimit {
		return DefaultListLimit
	}
	return n
}
