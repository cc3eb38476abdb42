// Package middleware provides request-context helpers shared by the HTTP
// layer and the services it calls.
package middleware

import (
	"context"

	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	callerKey   contextKey = "caller"
)

// SetIdentity stores the authenticated admin Identity in the context.
func SetIdentity(ctx context.Context, identity *contracts.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity retrieves the admin Identity from the context.
// Returns nil if no identity is set.
func GetIdentity(ctx context.Context) *contracts.Identity {
	if v, ok := ctx.Value(identityKey).(*contracts.Identity); ok {
		return v
	}
	return nil
}

// SetCaller stores the token identity of an invocation in the context.
// Delegated sub-invocations inherit it, so accounting stays with the
// physical caller.
func SetCaller(ctx context.Context, caller *contracts.TokenIdentity) context.Context {
	if caller == nil {
		return ctx
	}
	return context.WithValue(ctx, callerKey, caller)
}

// GetCaller returns the invocation's token identity, or nil.
func GetCaller(ctx context.Context) *contracts.TokenIdentity {
	if v, ok := ctx.Value(callerKey).(*contracts.TokenIdentity); ok {
		return v
	}
	return nil
}
