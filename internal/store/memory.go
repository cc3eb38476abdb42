// In-memory Store implementation.
// Used for tests and single-node dev runs. Supports file-based snapshot
// persistence so data survives restarts.

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
	"github.com/rs/zerolog/log"
)

// SnapshotFile is the name of the snapshot written inside the data dir.
const SnapshotFile = "agentsim.json"

type storedUser struct {
	models.User
	PasswordHash string `json:"password_hash"`
}

type storedToken struct {
	models.AuthorizationToken
	TokenDigest string `json:"token_digest"`
}

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	NextIDs    map[string]int64         `json:"next_ids"`
	Agents     []*models.Agent          `json:"agents"`
	Sessions   []*models.Session        `json:"sessions"`
	Messages   []*models.Message        `json:"messages"`
	Users      []storedUser             `json:"users"`
	Tokens     []storedToken            `json:"tokens"`
	ModelLogs  []*models.ModelLog       `json:"model_logs"`
	TestLogs   []*models.AgentTestLog   `json:"test_logs"`
	ChangeLogs []*models.AgentChangeLog `json:"change_logs"`
}

// MemoryStore implements Store with in-memory maps guarded by one RWMutex.
// Every read returns copies; every counter mutation is a single locked step.
type MemoryStore struct {
	mu       sync.RWMutex
	nextIDs  map[string]int64
	agents   map[int64]*models.Agent
	sessions map[int64]*models.Session
	users    map[int64]*models.User
	tokens   map[int64]*models.AuthorizationToken
	digests  map[string]int64 // token digest → token id

	// append-only
	messages   []*models.Message
	modelLogs  []*models.ModelLog
	testLogs   []*models.AgentTestLog
	changeLogs []*models.AgentChangeLog

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store. If dataDir is non-empty,
// data is persisted to a JSON snapshot in that directory.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		nextIDs:  make(map[string]int64),
		agents:   make(map[int64]*models.Agent),
		sessions: make(map[int64]*models.Session),
		users:    make(map[int64]*models.User),
		tokens:   make(map[int64]*models.AuthorizationToken),
		digests:  make(map[string]int64),
		saveCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, SnapshotFile)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

// saveSnapshot persists all data to disk as JSON.
func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		NextIDs:    m.nextIDs,
		Messages:   m.messages,
		ModelLogs:  m.modelLogs,
		TestLogs:   m.testLogs,
		ChangeLogs: m.changeLogs,
	}
	for _, a := range m.agents {
		snap.Agents = append(snap.Agents, a)
	}
	for _, s := range m.sessions {
		snap.Sessions = append(snap.Sessions, s)
	}
	for _, u := range m.users {
		snap.Users = append(snap.Users, storedUser{User: *u, PasswordHash: u.PasswordHash})
	}
	for _, t := range m.tokens {
		snap.Tokens = append(snap.Tokens, storedToken{AuthorizationToken: *t, TokenDigest: t.TokenDigest})
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

// loadSnapshot reads data from disk on startup.
func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if snap.NextIDs != nil {
		m.nextIDs = snap.NextIDs
	}
	for _, a := range snap.Agents {
		m.agents[a.ID] = a
	}
	for _, s := range snap.Sessions {
		m.sessions[s.ID] = s
	}
	for i := range snap.Users {
		u := snap.Users[i].User
		u.PasswordHash = snap.Users[i].PasswordHash
		m.users[u.ID] = &u
	}
	for i := range snap.Tokens {
		t := snap.Tokens[i].AuthorizationToken
		t.TokenDigest = snap.Tokens[i].TokenDigest
		t.Token = ""
		m.tokens[t.ID] = &t
		m.digests[t.TokenDigest] = t.ID
	}
	m.messages = snap.Messages
	m.modelLogs = snap.ModelLogs
	m.testLogs = snap.TestLogs
	m.changeLogs = snap.ChangeLogs

	log.Info().
		Int("agents", len(m.agents)).
		Int("sessions", len(m.sessions)).
		Int("messages", len(m.messages)).
		Int("users", len(m.users)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times (second call is a no-op).
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// nextID must be called with mu held for writing.
func (m *MemoryStore) nextID(entity string) int64 {
	m.nextIDs[entity]++
	return m.nextIDs[entity]
}

func idKey(id int64) string { return strconv.FormatInt(id, 10) }

func copyAgent(a *models.Agent) *models.Agent {
	c := *a
	c.Tools = append([]models.Tool(nil), a.Tools...)
	return &c
}

// ── Agent Store ─────────────────────────────────────────────

func (m *MemoryStore) ListAgents(_ context.Context) ([]models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		result = append(result, *copyAgent(a))
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedDate.Equal(result[j].CreatedDate) {
			return result[i].CreatedDate.After(result[j].CreatedDate)
		}
		return result[i].ID > result[j].ID
	})
	return result, nil
}

func (m *MemoryStore) GetAgent(_ context.Context, id int64) (*models.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: idKey(id)}
	}
	return copyAgent(a), nil
}

func (m *MemoryStore) CreateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	now := time.Now().UTC()
	agent.ID = m.nextID("agent")
	if agent.CreatedDate.IsZero() {
		agent.CreatedDate = now
	}
	if agent.UpdatedDate.IsZero() {
		agent.UpdatedDate = agent.CreatedDate
	}
	m.agents[agent.ID] = copyAgent(agent)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateAgent(_ context.Context, agent *models.Agent) error {
	m.mu.Lock()
	existing, ok := m.agents[agent.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: idKey(agent.ID)}
	}
	c := copyAgent(agent)
	// Counters and creation time are owned by the store.
	c.CreatedDate = existing.CreatedDate
	c.Invocations = existing.Invocations
	c.LastUsedDate = existing.LastUsedDate
	c.UpdatedDate = time.Now().UTC()
	m.agents[agent.ID] = c
	*agent = *copyAgent(c)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteAgent(_ context.Context, id int64, cascade bool) error {
	m.mu.Lock()
	if _, ok := m.agents[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: idKey(id)}
	}

	owned := 0
	for _, s := range m.sessions {
		if s.AgentID == id {
			owned++
		}
	}
	if owned > 0 && !cascade {
		m.mu.Unlock()
		return &ErrConflict{Entity: "agent", Reason: strconv.Itoa(owned) + " sessions still reference agent " + idKey(id)}
	}

	for sid, s := range m.sessions {
		if s.AgentID == id {
			delete(m.sessions, sid)
		}
	}
	kept := m.messages[:0:0]
	for _, msg := range m.messages {
		if msg.AgentID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	delete(m.agents, id)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) TouchAgent(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	a, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: idKey(id)}
	}
	used := at
	a.Invocations++
	a.LastUsedDate = &used
	m.mu.Unlock()

	m.requestSave()
	return nil
}

// ── Session Store ───────────────────────────────────────────

func (m *MemoryStore) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	if _, ok := m.agents[session.AgentID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "agent", Key: idKey(session.AgentID)}
	}
	now := time.Now().UTC()
	session.ID = m.nextID("session")
	if session.CreatedDate.IsZero() {
		session.CreatedDate = now
	}
	if session.LastUsedDate.IsZero() {
		session.LastUsedDate = session.CreatedDate
	}
	c := *session
	c.AgentName = ""
	m.sessions[session.ID] = &c
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, id int64) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "session", Key: idKey(id)}
	}
	c := *s
	if a, ok := m.agents[s.AgentID]; ok {
		c.AgentName = a.Name
	}
	return &c, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, filter SessionFilter) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []models.Session
	for _, s := range m.sessions {
		if filter.AgentID != 0 && s.AgentID != filter.AgentID {
			continue
		}
		c := *s
		if a, ok := m.agents[s.AgentID]; ok {
			c.AgentName = a.Name
		}
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedDate.Equal(result[j].CreatedDate) {
			return result[i].CreatedDate.After(result[j].CreatedDate)
		}
		return result[i].ID > result[j].ID
	})
	if limit := ClampLimit(filter.Limit); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) TouchSession(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "session", Key: idKey(id)}
	}
	s.Invocations++
	s.LastUsedDate = at
	m.mu.Unlock()

	m.requestSave()
	return nil
}

// ── Message Store ───────────────────────────────────────────

func (m *MemoryStore) AppendMessages(_ context.Context, msgs ...*models.Message) error {
	m.mu.Lock()
	// Validate everything first so the append is all-or-nothing.
	for _, msg := range msgs {
		s, ok := m.sessions[msg.SessionID]
		if !ok {
			m.mu.Unlock()
			return &ErrNotFound{Entity: "session", Key: idKey(msg.SessionID)}
		}
		if s.AgentID != msg.AgentID {
			m.mu.Unlock()
			return &ErrConflict{Entity: "message", Reason: "session " + idKey(s.ID) + " belongs to agent " + idKey(s.AgentID)}
		}
	}
	now := time.Now().UTC()
	for _, msg := range msgs {
		msg.ID = m.nextID("message")
		if msg.Datetime.IsZero() {
			msg.Datetime = now
		}
		c := *msg
		m.messages = append(m.messages, &c)
	}
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, filter MessageFilter) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Message, 0)
	for _, msg := range m.messages {
		if filter.AgentID != 0 && msg.AgentID != filter.AgentID {
			continue
		}
		if filter.SessionID != 0 && msg.SessionID != filter.SessionID {
			continue
		}
		result = append(result, *msg)
	}
	sort.SliceStable(result, func(i, j int) bool {
		if !result[i].Datetime.Equal(result[j].Datetime) {
			return result[i].Datetime.Before(result[j].Datetime)
		}
		return result[i].ID < result[j].ID
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		// Keep the most recent window, still in ascending order.
		result = result[len(result)-filter.Limit:]
	}
	return result, nil
}

// ── User Store ──────────────────────────────────────────────

func (m *MemoryStore) ListUsers(_ context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		result = append(result, *u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "user", Key: idKey(id)}
	}
	c := *u
	return &c, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, username) {
			c := *u
			return &c, nil
		}
	}
	return nil, &ErrNotFound{Entity: "user", Key: username}
}

func (m *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	for _, u := range m.users {
		if strings.EqualFold(u.Username, user.Username) {
			m.mu.Unlock()
			return &ErrConflict{Entity: "user", Reason: "username " + user.Username + " already exists"}
		}
	}
	user.ID = m.nextID("user")
	if user.CreatedDate.IsZero() {
		user.CreatedDate = time.Now().UTC()
	}
	c := *user
	c.Tokens = nil
	m.users[user.ID] = &c
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	existing, ok := m.users[user.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "user", Key: idKey(user.ID)}
	}
	for _, u := range m.users {
		if u.ID != user.ID && strings.EqualFold(u.Username, user.Username) {
			m.mu.Unlock()
			return &ErrConflict{Entity: "user", Reason: "username " + user.Username + " already exists"}
		}
	}
	c := *existing
	c.Name = user.Name
	c.Username = user.Username
	if user.PasswordHash != "" {
		c.PasswordHash = user.PasswordHash
	}
	m.users[user.ID] = &c
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteUser(_ context.Context, id int64) error {
	m.mu.Lock()
	if _, ok := m.users[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "user", Key: idKey(id)}
	}
	delete(m.users, id)
	for tid, t := range m.tokens {
		if t.UserID == id {
			delete(m.digests, t.TokenDigest)
			delete(m.tokens, tid)
		}
	}
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) TouchUserLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	u, ok := m.users[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "user", Key: idKey(id)}
	}
	login := at
	u.LastLoginDate = &login
	m.mu.Unlock()

	m.requestSave()
	return nil
}

// ── Token Store ─────────────────────────────────────────────

func (m *MemoryStore) ListTokens(_ context.Context, filter TokenFilter) ([]models.AuthorizationToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.AuthorizationToken, 0)
	for _, t := range m.tokens {
		if filter.UserID != 0 && t.UserID != filter.UserID {
			continue
		}
		if filter.AgentID != 0 && (t.AgentID == nil || *t.AgentID != filter.AgentID) {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (m *MemoryStore) GetToken(_ context.Context, id int64) (*models.AuthorizationToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "token", Key: idKey(id)}
	}
	c := *t
	return &c, nil
}

func (m *MemoryStore) GetTokenByDigest(_ context.Context, digest string) (*models.AuthorizationToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.digests[digest]
	if !ok {
		return nil, &ErrNotFound{Entity: "token", Key: "digest"}
	}
	c := *m.tokens[id]
	return &c, nil
}

func (m *MemoryStore) CreateToken(_ context.Context, token *models.AuthorizationToken) error {
	m.mu.Lock()
	if _, ok := m.users[token.UserID]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "user", Key: idKey(token.UserID)}
	}
	if _, ok := m.digests[token.TokenDigest]; ok {
		m.mu.Unlock()
		return &ErrConflict{Entity: "token", Reason: "duplicate token"}
	}
	token.ID = m.nextID("token")
	if token.CreatedDate.IsZero() {
		token.CreatedDate = time.Now().UTC()
	}
	c := *token
	c.Token = "" // never retained in plaintext
	m.tokens[token.ID] = &c
	m.digests[token.TokenDigest] = token.ID
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) UpdateToken(_ context.Context, token *models.AuthorizationToken) error {
	m.mu.Lock()
	t, ok := m.tokens[token.ID]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "token", Key: idKey(token.ID)}
	}
	c := *t
	c.Active = token.Active
	c.ExpireDate = token.ExpireDate
	c.MaxInvocations = token.MaxInvocations
	c.AgentID = token.AgentID
	m.tokens[token.ID] = &c
	*token = c
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteToken(_ context.Context, id int64) error {
	m.mu.Lock()
	t, ok := m.tokens[id]
	if !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "token", Key: idKey(id)}
	}
	delete(m.digests, t.TokenDigest)
	delete(m.tokens, id)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) ConsumeToken(_ context.Context, id int64, at time.Time) (*models.AuthorizationToken, error) {
	m.mu.Lock()
	t, ok := m.tokens[id]
	if !ok {
		m.mu.Unlock()
		return nil, &ErrNotFound{Entity: "token", Key: idKey(id)}
	}
	if !t.Usable(at) {
		m.mu.Unlock()
		return nil, ErrTokenUnusable
	}
	// Replace rather than mutate so copies handed out earlier stay stable.
	c := *t
	used := at
	c.Invocations++
	c.LastUsedDate = &used
	m.tokens[id] = &c
	out := c
	m.mu.Unlock()

	m.requestSave()
	return &out, nil
}

// ── Log Store ───────────────────────────────────────────────

func (m *MemoryStore) CreateModelLog(_ context.Context, entry *models.ModelLog) error {
	m.mu.Lock()
	entry.ID = m.nextID("model_log")
	if entry.Datetime.IsZero() {
		entry.Datetime = time.Now().UTC()
	}
	c := *entry
	m.modelLogs = append(m.modelLogs, &c)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) GetModelLog(_ context.Context, id int64) (*models.ModelLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.modelLogs {
		if l.ID == id {
			c := *l
			return &c, nil
		}
	}
	return nil, &ErrNotFound{Entity: "model_log", Key: idKey(id)}
}

func (m *MemoryStore) ListModelLogs(_ context.Context, filter LogFilter) ([]models.ModelLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.ModelLog, 0)
	// Newest first: walk the append-only slice backwards.
	for i := len(m.modelLogs) - 1; i >= 0; i-- {
		l := m.modelLogs[i]
		if filter.AgentID != 0 && l.AgentID != filter.AgentID {
			continue
		}
		if filter.SessionID != 0 && (l.SessionID == nil || *l.SessionID != filter.SessionID) {
			continue
		}
		result = append(result, *l)
		if len(result) >= ClampLimit(filter.Limit) {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) CreateTestLog(_ context.Context, entry *models.AgentTestLog) error {
	m.mu.Lock()
	entry.ID = m.nextID("test_log")
	if entry.Datetime.IsZero() {
		entry.Datetime = time.Now().UTC()
	}
	c := *entry
	m.testLogs = append(m.testLogs, &c)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) ListTestLogs(_ context.Context, filter LogFilter) ([]models.AgentTestLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.AgentTestLog, 0)
	for i := len(m.testLogs) - 1; i >= 0; i-- {
		l := m.testLogs[i]
		if filter.AgentID != 0 && l.AgentID != filter.AgentID {
			continue
		}
		result = append(result, *l)
		if len(result) >= ClampLimit(filter.Limit) {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) CreateChangeLog(_ context.Context, entry *models.AgentChangeLog) error {
	m.mu.Lock()
	entry.ID = m.nextID("change_log")
	if entry.Datetime.IsZero() {
		entry.Datetime = time.Now().UTC()
	}
	c := *entry
	m.changeLogs = append(m.changeLogs, &c)
	m.mu.Unlock()

	m.requestSave()
	return nil
}

func (m *MemoryStore) ListChangeLogs(_ context.Context, filter LogFilter) ([]models.AgentChangeLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.AgentChangeLog, 0)
	for i := len(m.changeLogs) - 1; i >= 0; i-- {
		l := m.changeLogs[i]
		if filter.AgentID != 0 && l.AgentID != filter.AgentID {
			continue
		}
		result = append(result, *l)
		if len(result) >= ClampLimit(filter.Limit) {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) PurgeLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	var purged int64
	keptModel := m.modelLogs[:0:0]
	for _, l := range m.modelLogs {
		if l.Datetime.Before(cutoff) {
			purged++
			continue
		}
		keptModel = append(keptModel, l)
	}
	keptTest := m.testLogs[:0:0]
	for _, l := range m.testLogs {
		if l.Datetime.Before(cutoff) {
			purged++
			continue
		}
		keptTest = append(keptTest, l)
	}
	m.modelLogs = keptModel
	m.testLogs = keptTest
	m.mu.Unlock()

	if purged > 0 {
		m.requestSave()
	}
	return purged, nil
}
