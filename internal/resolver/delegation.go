package resolver

import "context"

type chainKey struct{}

// WithDelegation records that agentID is now running in ctx. Nested
// agent tools consult the chain to refuse cycles at call time.
func WithDelegation(ctx context.Context, agentID int64) context.Context {
	prev := DelegationChain(ctx)
	chain := make([]int64, len(prev), len(prev)+1)
	copy(chain, prev)
	return context.WithValue(ctx, chainKey{}, append(chain, agentID))
}

// DelegationChain returns the agents currently running in ctx, outermost
// first.
func DelegationChain(ctx context.Context) []int64 {
	chain, _ := ctx.Value(chainKey{}).([]int64)
	return chain
}

func onChain(chain []int64, agentID int64) bool {
	for _, id := range chain {
		if id == agentID {
			return true
		}
	}
	return false
}
