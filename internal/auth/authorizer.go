package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// ErrorKind classifies a token authorization failure.
type ErrorKind string

const (
	NotFound      ErrorKind = "NotFound"
	Inactive      ErrorKind = "Inactive"
	Expired       ErrorKind = "Expired"
	QuotaExceeded ErrorKind = "QuotaExceeded"
	ScopeMismatch ErrorKind = "ScopeMismatch"
)

// Error is returned by the Authorizer when a bearer token cannot be used.
type Error struct {
	Kind ErrorKind
}

func (e *Error) Error() string {
	switch e.Kind {
	case NotFound:
		return "authorization token not recognized"
	case Inactive:
		return "authorization token is inactive"
	case Expired:
		return "authorization token has expired"
	case QuotaExceeded:
		return "authorization token has reached its invocation limit"
	case ScopeMismatch:
		return "authorization token is not valid for this agent"
	}
	return fmt.Sprintf("authorization failed: %s", e.Kind)
}

// KindOf returns the auth error kind wrapped in err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// Authorizer validates invocation bearer tokens against the token store.
type Authorizer struct {
	tokens store.TokenStore
	now    func() time.Time
}

// NewAuthorizer creates an Authorizer backed by the given token store.
func NewAuthorizer(tokens store.TokenStore) *Authorizer {
	return &Authorizer{
		tokens: tokens,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Used by tests.
func (a *Authorizer) WithClock(now func() time.Time) *Authorizer {
	a.now = now
	return a
}

// Authorize resolves token to its identity and spends one invocation.
// The quota check and the increment happen in one store operation, so
// concurrent callers never push a token past its cap.
func (a *Authorizer) Authorize(ctx context.Context, token string, agentID int64) (*contracts.TokenIdentity, error) {
	tok, err := a.validate(ctx, token, agentID)
	if err != nil {
		return nil, err
	}

	now := a.now()
	spent, err := a.tokens.ConsumeToken(ctx, tok.ID, now)
	if err != nil {
		if !errors.Is(err, store.ErrTokenUnusable) && !store.IsNotFound(err) {
			return nil, fmt.Errorf("consume token: %w", err)
		}
		// Lost a race with another caller or an admin edit. Re-read for
		// the precise reason.
		current, gerr := a.tokens.GetToken(ctx, tok.ID)
		if gerr != nil {
			if store.IsNotFound(gerr) {
				return nil, &Error{Kind: NotFound}
			}
			return nil, fmt.Errorf("reload token: %w", gerr)
		}
		if kind := classify(current, now); kind != "" {
			return nil, &Error{Kind: kind}
		}
		return nil, &Error{Kind: QuotaExceeded}
	}

	log.Debug().
		Int64("token_id", spent.ID).
		Int64("agent_id", agentID).
		Int64("invocations", spent.Invocations).
		Msg("Token authorized")

	return identityOf(spent), nil
}

// Check runs the same validation as Authorize without spending an
// invocation.
func (a *Authorizer) Check(ctx context.Context, token string, agentID int64) (*contracts.TokenIdentity, error) {
	tok, err := a.validate(ctx, token, agentID)
	if err != nil {
		return nil, err
	}
	return identityOf(tok), nil
}

func (a *Authorizer) validate(ctx context.Context, token string, agentID int64) (*models.AuthorizationToken, error) {
	if token == "" {
		return nil, &Error{Kind: NotFound}
	}

	tok, err := a.tokens.GetTokenByDigest(ctx, Digest(token))
	if err != nil {
		if store.IsNotFound(err) {
			return nil, &Error{Kind: NotFound}
		}
		return nil, fmt.Errorf("lookup token: %w", err)
	}

	if kind := classify(tok, a.now()); kind != "" {
		return nil, &Error{Kind: kind}
	}
	if tok.AgentID != nil && *tok.AgentID != agentID {
		return nil, &Error{Kind: ScopeMismatch}
	}
	return tok, nil
}

// classify returns the first failing usability rule, or "" if usable.
func classify(tok *models.AuthorizationToken, now time.Time) ErrorKind {
	switch {
	case !tok.Active:
		return Inactive
	case tok.ExpiredAt(now):
		return Expired
	case tok.Exhausted():
		return QuotaExceeded
	}
	return ""
}

func identityOf(tok *models.AuthorizationToken) *contracts.TokenIdentity {
	id := &contracts.TokenIdentity{TokenID: tok.ID, UserID: tok.UserID}
	if tok.AgentID != nil {
		scope := *tok.AgentID
		id.AgentScope = &scope
	}
	return id
}
