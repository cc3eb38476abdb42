// Package sessions binds invocations to conversations. It validates that
// a session belongs to the agent being called, records per-session usage,
// and serializes commits within one session in arrival order.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// ErrorKind classifies a session binding failure.
type ErrorKind string

const (
	AgentNotFound        ErrorKind = "AgentNotFound"
	SessionNotFound      ErrorKind = "SessionNotFound"
	SessionAgentMismatch ErrorKind = "SessionAgentMismatch"
)

// Error is returned when a session cannot be bound to a request.
type Error struct {
	Kind      ErrorKind
	AgentID   int64
	SessionID int64
}

func (e *Error) Error() string {
	switch e.Kind {
	case AgentNotFound:
		return fmt.Sprintf("agent %d not found", e.AgentID)
	case SessionNotFound:
		return fmt.Sprintf("session %d not found", e.SessionID)
	case SessionAgentMismatch:
		return fmt.Sprintf("session %d does not belong to agent %d", e.SessionID, e.AgentID)
	}
	return string(e.Kind)
}

// KindOf returns the session error kind wrapped in err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return "", false
}

// Store is the slice of the entity store the manager needs.
type Store interface {
	store.AgentStore
	store.SessionStore
}

// Manager creates and validates sessions.
type Manager struct {
	store Store
	locks *keyedLock
	now   func() time.Time
}

// NewManager creates a session manager over st.
func NewManager(st Store) *Manager {
	return &Manager{
		store: st,
		locks: newKeyedLock(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession opens a new empty session for agentID.
func (m *Manager) CreateSession(ctx context.Context, agentID int64) (*models.Session, error) {
	if _, err := m.store.GetAgent(ctx, agentID); err != nil {
		if store.IsNotFound(err) {
			return nil, &Error{Kind: AgentNotFound, AgentID: agentID}
		}
		return nil, fmt.Errorf("load agent: %w", err)
	}

	now := m.now()
	session := &models.Session{AgentID: agentID, CreatedDate: now, LastUsedDate: now}
	if err := m.store.CreateSession(ctx, session); err != nil {
		// The agent may have been deleted in between.
		if store.IsNotFound(err) {
			return nil, &Error{Kind: AgentNotFound, AgentID: agentID}
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	log.Info().
		Int64("agent_id", agentID).
		Int64("session_id", session.ID).
		Msg("Session created")
	return session, nil
}

// GetOrValidateSession loads sessionID and checks that it belongs to
// agentID. A session's agent never changes after creation.
func (m *Manager) GetOrValidateSession(ctx context.Context, sessionID, agentID int64) (*models.Session, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &Error{Kind: SessionNotFound, AgentID: agentID, SessionID: sessionID}
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.AgentID != agentID {
		return nil, &Error{Kind: SessionAgentMismatch, AgentID: agentID, SessionID: sessionID}
	}
	return session, nil
}

// RecordInvocation bumps the session's counter and last-used time.
func (m *Manager) RecordInvocation(ctx context.Context, sessionID int64) error {
	if err := m.store.TouchSession(ctx, sessionID, m.now()); err != nil {
		if store.IsNotFound(err) {
			return &Error{Kind: SessionNotFound, SessionID: sessionID}
		}
		return err
	}
	return nil
}

// Lock acquires the commit lock for sessionID. Waiters are admitted in
// arrival order. The returned func releases the lock.
func (m *Manager) Lock(ctx context.Context, sessionID int64) (func(), error) {
	return m.locks.lock(ctx, sessionID)
}
