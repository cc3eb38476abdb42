package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

// newTestStore creates a fresh in-memory store for tests with snapshotting
// into a temp dir.
func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore(t.TempDir())
	t.Cleanup(func() { s.Close() })
	return s
}

func int64p(v int64) *int64 { return &v }

// ─── Agent CRUD ──────────────────────────────────────────────

func TestCreateAndGetAgent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{
		Name:         "Customer Service Bot",
		Model:        "gemini-2.5-flash",
		SystemPrompt: "You are helpful.",
		Tools:        []models.Tool{{ID: "t1", Name: "lookup", Type: models.ToolTypeAPI, URL: "http://x"}},
	}
	if err := s.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	if agent.ID != 1 {
		t.Errorf("CreateAgent() ID = %d, want 1", agent.ID)
	}

	got, err := s.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if got.Name != "Customer Service Bot" {
		t.Errorf("GetAgent().Name = %q, want %q", got.Name, "Customer Service Bot")
	}
	if len(got.Tools) != 1 || got.Tools[0].Name != "lookup" {
		t.Errorf("GetAgent().Tools = %+v, want one tool named lookup", got.Tools)
	}

	// Mutating the returned copy must not leak into the store.
	got.Tools[0].Name = "changed"
	again, _ := s.GetAgent(ctx, agent.ID)
	if again.Tools[0].Name != "lookup" {
		t.Errorf("store leaked internal state: tool name = %q", again.Tools[0].Name)
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetAgent(context.Background(), 42)
	if !store.IsNotFound(err) {
		t.Fatalf("GetAgent() error = %v, want ErrNotFound", err)
	}
}

func TestUpdateAgent_PreservesCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "a"}
	s.CreateAgent(ctx, agent)
	if err := s.TouchAgent(ctx, agent.ID, time.Now().UTC()); err != nil {
		t.Fatalf("TouchAgent() error = %v", err)
	}

	edit := &models.Agent{ID: agent.ID, Name: "renamed", Invocations: 99}
	if err := s.UpdateAgent(ctx, edit); err != nil {
		t.Fatalf("UpdateAgent() error = %v", err)
	}

	got, _ := s.GetAgent(ctx, agent.ID)
	if got.Name != "renamed" {
		t.Errorf("Name = %q, want %q", got.Name, "renamed")
	}
	if got.Invocations != 1 {
		t.Errorf("Invocations = %d, want 1 (admin edits must not rewrite counters)", got.Invocations)
	}
	if got.LastUsedDate == nil {
		t.Error("LastUsedDate = nil, want preserved value")
	}
}

func TestDeleteAgent_WithSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "a"}
	s.CreateAgent(ctx, agent)
	sess := &models.Session{AgentID: agent.ID}
	s.CreateSession(ctx, sess)
	s.AppendMessages(ctx, &models.Message{AgentID: agent.ID, SessionID: sess.ID, Role: models.RoleUser, Message: "hi"})

	err := s.DeleteAgent(ctx, agent.ID, false)
	if !store.IsConflict(err) {
		t.Fatalf("DeleteAgent(cascade=false) error = %v, want ErrConflict", err)
	}

	if err := s.DeleteAgent(ctx, agent.ID, true); err != nil {
		t.Fatalf("DeleteAgent(cascade=true) error = %v", err)
	}
	if _, err := s.GetSession(ctx, sess.ID); !store.IsNotFound(err) {
		t.Errorf("GetSession() after cascade error = %v, want ErrNotFound", err)
	}
	msgs, _ := s.ListMessages(ctx, store.MessageFilter{SessionID: sess.ID})
	if len(msgs) != 0 {
		t.Errorf("ListMessages() after cascade = %d messages, want 0", len(msgs))
	}
}

// ─── Sessions & Messages ─────────────────────────────────────

func TestCreateSession_UnknownAgent(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateSession(context.Background(), &models.Session{AgentID: 7})
	if !store.IsNotFound(err) {
		t.Fatalf("CreateSession() error = %v, want ErrNotFound", err)
	}
}

func TestListSessions_NewestFirstWithAgentName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{Name: "Code Generator"}
	s.CreateAgent(ctx, agent)
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		s.CreateSession(ctx, &models.Session{AgentID: agent.ID, CreatedDate: base.Add(time.Duration(i) * time.Minute)})
	}

	list, err := s.ListSessions(ctx, store.SessionFilter{AgentID: agent.ID})
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("ListSessions() returned %d, want 3", len(list))
	}
	if list[0].ID != 3 || list[2].ID != 1 {
		t.Errorf("ListSessions() order = [%d %d %d], want [3 2 1]", list[0].ID, list[1].ID, list[2].ID)
	}
	if list[0].AgentName != "Code Generator" {
		t.Errorf("AgentName = %q, want %q", list[0].AgentName, "Code Generator")
	}
}

func TestAppendMessages_OrderAndAgentCheck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a1 := &models.Agent{Name: "a1"}
	a2 := &models.Agent{Name: "a2"}
	s.CreateAgent(ctx, a1)
	s.CreateAgent(ctx, a2)
	sess := &models.Session{AgentID: a1.ID}
	s.CreateSession(ctx, sess)

	at := time.Now().UTC()
	err := s.AppendMessages(ctx,
		&models.Message{AgentID: a1.ID, SessionID: sess.ID, Role: models.RoleUser, Message: "q1", Datetime: at},
		&models.Message{AgentID: a1.ID, SessionID: sess.ID, Role: models.RoleAssistant, Message: "a1", Datetime: at},
	)
	if err != nil {
		t.Fatalf("AppendMessages() error = %v", err)
	}

	// A batch containing a cross-agent message is rejected as a whole.
	err = s.AppendMessages(ctx,
		&models.Message{AgentID: a1.ID, SessionID: sess.ID, Role: models.RoleUser, Message: "q2"},
		&models.Message{AgentID: a2.ID, SessionID: sess.ID, Role: models.RoleAssistant, Message: "bad"},
	)
	if !store.IsConflict(err) {
		t.Fatalf("AppendMessages(cross-agent) error = %v, want ErrConflict", err)
	}

	msgs, _ := s.ListMessages(ctx, store.MessageFilter{SessionID: sess.ID})
	if len(msgs) != 2 {
		t.Fatalf("ListMessages() = %d, want 2", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Errorf("roles = [%s %s], want [user assistant]", msgs[0].Role, msgs[1].Role)
	}
}

// ─── Tokens ──────────────────────────────────────────────────

func newTokenFixture(t *testing.T, s *store.MemoryStore, max *int64) *models.AuthorizationToken {
	t.Helper()
	ctx := context.Background()
	u := &models.User{Name: "Satish", Username: "satish", PasswordHash: "x"}
	if err := s.CreateUser(ctx, u); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	tok := &models.AuthorizationToken{UserID: u.ID, TokenDigest: "digest-1", Active: true, MaxInvocations: max}
	if err := s.CreateToken(ctx, tok); err != nil {
		t.Fatalf("CreateToken() error = %v", err)
	}
	return tok
}

func TestConsumeToken_RespectsCapUnderConcurrency(t *testing.T) {
	s := newTestStore(t)
	tok := newTokenFixture(t, s, int64p(5))

	var wg sync.WaitGroup
	var ok int64
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeToken(context.Background(), tok.ID, time.Now().UTC()); err == nil {
				atomic.AddInt64(&ok, 1)
			}
		}()
	}
	wg.Wait()

	if ok != 5 {
		t.Errorf("successful consumptions = %d, want 5", ok)
	}
	got, _ := s.GetToken(context.Background(), tok.ID)
	if got.Invocations != 5 {
		t.Errorf("Invocations = %d, want 5", got.Invocations)
	}
}

func TestConsumeToken_InactiveAndExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tok := newTokenFixture(t, s, nil)

	past := time.Now().UTC().Add(-time.Hour)
	tok.ExpireDate = &past
	s.UpdateToken(ctx, tok)
	if _, err := s.ConsumeToken(ctx, tok.ID, time.Now().UTC()); err != store.ErrTokenUnusable {
		t.Errorf("ConsumeToken(expired) error = %v, want ErrTokenUnusable", err)
	}

	tok.ExpireDate = nil
	tok.Active = false
	s.UpdateToken(ctx, tok)
	if _, err := s.ConsumeToken(ctx, tok.ID, time.Now().UTC()); err != store.ErrTokenUnusable {
		t.Errorf("ConsumeToken(inactive) error = %v, want ErrTokenUnusable", err)
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateUser(ctx, &models.User{Username: "satish"})
	err := s.CreateUser(ctx, &models.User{Username: "Satish"})
	if !store.IsConflict(err) {
		t.Fatalf("CreateUser(duplicate) error = %v, want ErrConflict", err)
	}
}

// ─── Logs & Persistence ──────────────────────────────────────

func TestPurgeLogsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)

	s.CreateModelLog(ctx, &models.ModelLog{AgentID: 1, Datetime: old})
	s.CreateModelLog(ctx, &models.ModelLog{AgentID: 1})
	s.CreateTestLog(ctx, &models.AgentTestLog{AgentID: 1, Datetime: old})
	s.CreateChangeLog(ctx, &models.AgentChangeLog{AgentID: 1, Datetime: old, Event: models.ChangeCreate})

	n, err := s.PurgeLogsBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("PurgeLogsBefore() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PurgeLogsBefore() purged %d, want 2", n)
	}
	changes, _ := s.ListChangeLogs(ctx, store.LogFilter{AgentID: 1})
	if len(changes) != 1 {
		t.Errorf("change logs = %d, want 1 (never purged)", len(changes))
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := store.NewMemoryStore(dir)
	u := &models.User{Username: "satish", PasswordHash: "$2a$hash"}
	s.CreateUser(ctx, u)
	s.CreateToken(ctx, &models.AuthorizationToken{UserID: u.ID, TokenDigest: "abc", Active: true})
	s.CreateAgent(ctx, &models.Agent{Name: "persisted"})
	s.Close()

	reopened := store.NewMemoryStore(dir)
	defer reopened.Close()

	got, err := reopened.GetUserByUsername(ctx, "satish")
	if err != nil {
		t.Fatalf("GetUserByUsername() after reload error = %v", err)
	}
	if got.PasswordHash != "$2a$hash" {
		t.Errorf("PasswordHash = %q, want it persisted", got.PasswordHash)
	}
	if _, err := reopened.GetTokenByDigest(ctx, "abc"); err != nil {
		t.Errorf("GetTokenByDigest() after reload error = %v", err)
	}

	// IDs continue from the snapshot instead of restarting.
	next := &models.Agent{Name: "next"}
	reopened.CreateAgent(ctx, next)
	if next.ID != 2 {
		t.Errorf("next agent ID = %d, want 2", next.ID)
	}
}
