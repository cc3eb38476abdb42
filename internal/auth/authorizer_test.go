package auth_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/auth"
	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

func int64p(v int64) *int64 { return &v }

// issue stores a token for user 1 and returns its plaintext.
func issue(t *testing.T, s store.TokenStore, mutate func(*models.AuthorizationToken)) (string, *models.AuthorizationToken) {
	t.Helper()
	plain, err := auth.MintToken()
	require.NoError(t, err)
	tok := &models.AuthorizationToken{
		UserID:      1,
		TokenDigest: auth.Digest(plain),
		TokenHint:   auth.Hint(plain),
		Active:      true,
	}
	if mutate != nil {
		mutate(tok)
	}
	require.NoError(t, s.CreateToken(context.Background(), tok))
	return plain, tok
}

func newStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.CreateUser(context.Background(), &models.User{Name: "u", Username: "u", PasswordHash: "x"}))
	return s
}

func requireKind(t *testing.T, err error, want auth.ErrorKind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := auth.KindOf(err)
	require.True(t, ok, "expected auth.Error, got %v", err)
	assert.Equal(t, want, kind)
}

func TestAuthorize_Success(t *testing.T) {
	s := newStore(t)
	a := auth.NewAuthorizer(s)
	plain, tok := issue(t, s, nil)

	id, err := a.Authorize(context.Background(), plain, 7)
	require.NoError(t, err)
	assert.Equal(t, tok.ID, id.TokenID)
	assert.Equal(t, int64(1), id.UserID)
	assert.Nil(t, id.AgentScope)

	got, err := s.GetToken(context.Background(), tok.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Invocations)
	assert.NotNil(t, got.LastUsedDate)
}

func TestAuthorize_FailureKinds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	tests := []struct {
		name   string
		mutate func(*models.AuthorizationToken)
		agent  int64
		want   auth.ErrorKind
	}{
		{"inactive", func(tk *models.AuthorizationToken) { tk.Active = false }, 1, auth.Inactive},
		{"expired", func(tk *models.AuthorizationToken) { tk.ExpireDate = &past }, 1, auth.Expired},
		{"exhausted", func(tk *models.AuthorizationToken) { tk.MaxInvocations = int64p(0) }, 1, auth.QuotaExceeded},
		{"wrong scope", func(tk *models.AuthorizationToken) { tk.AgentID = int64p(2) }, 1, auth.ScopeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			a := auth.NewAuthorizer(s).WithClock(func() time.Time { return now })
			plain, tok := issue(t, s, tt.mutate)

			_, err := a.Authorize(context.Background(), plain, tt.agent)
			requireKind(t, err, tt.want)

			got, gerr := s.GetToken(context.Background(), tok.ID)
			require.NoError(t, gerr)
			assert.Zero(t, got.Invocations, "failed authorization must not spend")
		})
	}
}

func TestAuthorize_UnknownToken(t *testing.T) {
	s := newStore(t)
	a := auth.NewAuthorizer(s)

	_, err := a.Authorize(context.Background(), "ast_nope", 1)
	requireKind(t, err, auth.NotFound)

	_, err = a.Authorize(context.Background(), "", 1)
	requireKind(t, err, auth.NotFound)
}

func TestAuthorize_ScopedTokenMatchingAgent(t *testing.T) {
	s := newStore(t)
	a := auth.NewAuthorizer(s)
	plain, _ := issue(t, s, func(tk *models.AuthorizationToken) { tk.AgentID = int64p(3) })

	id, err := a.Authorize(context.Background(), plain, 3)
	require.NoError(t, err)
	require.NotNil(t, id.AgentScope)
	assert.Equal(t, int64(3), *id.AgentScope)
}

func TestAuthorize_SingleUseToken(t *testing.T) {
	s := newStore(t)
	a := auth.NewAuthorizer(s)
	plain, _ := issue(t, s, func(tk *models.AuthorizationToken) { tk.MaxInvocations = int64p(1) })

	_, err := a.Authorize(context.Background(), plain, 1)
	require.NoError(t, err)

	_, err = a.Authorize(context.Background(), plain, 1)
	requireKind(t, err, auth.QuotaExceeded)
}

func TestAuthorize_NoOvershootUnderConcurrency(t *testing.T) {
	s := newStore(t)
	a := auth.NewAuthorizer(s)
	plain, tok := issue(t, s, func(tk *models.AuthorizationToken) { tk.MaxInvocations = int64p(5) })

	var (
		wg        sync.WaitGroup
		granted   int64
		exhausted int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Authorize(context.Background(), plain, 1)
			if err == nil {
				atomic.AddInt64(&granted, 1)
				return
			}
			if kind, _ := auth.KindOf(err); kind == auth.QuotaExceeded {
				atomic.AddInt64(&exhausted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), granted)
	assert.Equal(t, int64(45), exhausted)

	got, err := s.GetToken(context.Background(), tok.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Invocations)
}

func TestCheck_DoesNotSpend(t *testing.T) {
	s := newStore(t)
	a := auth.NewAuthorizer(s)
	plain, tok := issue(t, s, func(tk *models.AuthorizationToken) { tk.MaxInvocations = int64p(1) })

	for i := 0; i < 3; i++ {
		_, err := a.Check(context.Background(), plain, 1)
		require.NoError(t, err)
	}
	got, _ := s.GetToken(context.Background(), tok.ID)
	assert.Zero(t, got.Invocations)
}

func TestErrorKindOfWrapped(t *testing.T) {
	err := errors.Join(errors.New("context"), &auth.Error{Kind: auth.Expired})
	kind, ok := auth.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, auth.Expired, kind)

	_, ok = auth.KindOf(errors.New("plain"))
	assert.False(t, ok)
}

// ─── Tokens & passwords ─────────────────────────────────────

func TestMintToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := auth.MintToken()
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(tok, auth.TokenPrefix))
		assert.Len(t, tok, len(auth.TokenPrefix)+43)
		assert.False(t, seen[tok], "duplicate token minted")
		seen[tok] = true
	}
}

func TestDigestAndHint(t *testing.T) {
	d1 := auth.Digest("ast_abc")
	assert.Len(t, d1, 64)
	assert.Equal(t, d1, auth.Digest("ast_abc"))
	assert.NotEqual(t, d1, auth.Digest("ast_abd"))

	assert.Equal(t, "wxyz", auth.Hint("ast_stuvwxyz"))
	assert.Equal(t, "ab", auth.Hint("ab"))
}

func TestPasswords(t *testing.T) {
	hash, err := auth.HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	assert.NoError(t, auth.CheckPassword(hash, "s3cret"))
	assert.ErrorIs(t, auth.CheckPassword(hash, "wrong"), auth.ErrInvalidCredentials)

	_, err = auth.HashPassword("")
	assert.Error(t, err)
}
