// Package sqlstore implements store.Store on gorm, backed by SQLite
// (modernc, pure Go) or PostgreSQL (pgx).
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/Satish-Kalepu/Agents-Simulator/internal/store"
	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Store is a gorm-backed store.Store.
type Store struct {
	db      *gorm.DB
	dialect string
}

var _ store.Store = (*Store)(nil)

// Open connects to the database for dialect. For SQLite, dsn is a file path.
func Open(dialect, dsn string) (*Store, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	switch dialect {
	case DialectSQLite, "":
		db, err := gorm.Open(sqlite.Dialector{
			DriverName: "sqlite",
			DSN:        sqliteDSN(dsn),
		}, cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// One writer at a time; busy_timeout covers the rest.
		sqlDB.SetMaxOpenConns(1)
		return &Store{db: db, dialect: DialectSQLite}, nil

	case DialectPostgres:
		pgCfg, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		sqlDB := stdlib.OpenDB(*pgCfg)
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), cfg)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return &Store{db: db, dialect: DialectPostgres}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

// DB exposes the underlying gorm handle.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	return RunMigrations(ctx, s.db, s.dialect)
}

func idKey(id int64) string { return strconv.FormatInt(id, 10) }

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key")
}

func notFound(err error, entity, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &store.ErrNotFound{Entity: entity, Key: key}
	}
	return err
}

// ── Agent Store ─────────────────────────────────────────────

func (s *Store) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var rows []agentRecord
	if err := s.db.WithContext(ctx).Order("created_date DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Agent, 0, len(rows))
	for _, r := range rows {
		a, err := r.toModel()
		if err != nil {
			return nil, fmt.Errorf("decode agent %d: %w", r.ID, err)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	var r agentRecord
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "agent", idKey(id))
	}
	a, err := r.toModel()
	if err != nil {
		return nil, fmt.Errorf("decode agent %d: %w", id, err)
	}
	return &a, nil
}

func (s *Store) CreateAgent(ctx context.Context, agent *models.Agent) error {
	now := time.Now().UTC()
	if agent.CreatedDate.IsZero() {
		agent.CreatedDate = now
	}
	if agent.UpdatedDate.IsZero() {
		agent.UpdatedDate = agent.CreatedDate
	}
	rec, err := toAgentRecord(agent)
	if err != nil {
		return err
	}
	rec.ID = 0
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	agent.ID = rec.ID
	return nil
}

func (s *Store) UpdateAgent(ctx context.Context, agent *models.Agent) error {
	rec, err := toAgentRecord(agent)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&agentRecord{}).Where("id = ?", agent.ID).Updates(map[string]interface{}{
		"name":          rec.Name,
		"description":   rec.Description,
		"model":         rec.Model,
		"system_prompt": rec.SystemPrompt,
		"tools":         rec.Tools,
		"updated_date":  now,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &store.ErrNotFound{Entity: "agent", Key: idKey(agent.ID)}
	}
	updated, err := s.GetAgent(ctx, agent.ID)
	if err != nil {
		return err
	}
	*agent = *updated
	return nil
}

func (s *Store) DeleteAgent(ctx context.Context, id int64, cascade bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&agentRecord{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return &store.ErrNotFound{Entity: "agent", Key: idKey(id)}
		}

		var owned int64
		if err := tx.Model(&sessionRecord{}).Where("agent_id = ?", id).Count(&owned).Error; err != nil {
			return err
		}
		if owned > 0 && !cascade {
			return &store.ErrConflict{Entity: "agent", Reason: fmt.Sprintf("%d sessions still reference agent %d", owned, id)}
		}

		if err := tx.Where("agent_id = ?", id).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("agent_id = ?", id).Delete(&sessionRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&agentRecord{}, "id = ?", id).Error
	})
}

func (s *Store) TouchAgent(ctx context.Context, id int64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&agentRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"invocations":    gorm.Expr("invocations + ?", 1),
		"last_used_date": at.UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &store.ErrNotFound{Entity: "agent", Key: idKey(id)}
	}
	return nil
}

// ── Session Store ───────────────────────────────────────────

func (s *Store) CreateSession(ctx context.Context, session *models.Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&agentRecord{}).Where("id = ?", session.AgentID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return &store.ErrNotFound{Entity: "agent", Key: idKey(session.AgentID)}
		}

		now := time.Now().UTC()
		if session.CreatedDate.IsZero() {
			session.CreatedDate = now
		}
		if session.LastUsedDate.IsZero() {
			session.LastUsedDate = session.CreatedDate
		}
		rec := sessionRecord{
			AgentID:      session.AgentID,
			CreatedDate:  session.CreatedDate,
			LastUsedDate: session.LastUsedDate,
			Invocations:  session.Invocations,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		session.ID = rec.ID
		return nil
	})
}

func (s *Store) sessionQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("sessions").
		Select("sessions.id, sessions.agent_id, sessions.created_date, sessions.last_used_date, sessions.invocations, agents.name AS agent_name").
		Joins("LEFT JOIN agents ON agents.id = sessions.agent_id")
}

func (r sessionRow) toModel() models.Session {
	return models.Session{
		ID:           r.ID,
		AgentID:      r.AgentID,
		AgentName:    r.AgentName,
		CreatedDate:  r.CreatedDate.UTC(),
		LastUsedDate: r.LastUsedDate.UTC(),
		Invocations:  r.Invocations,
	}
}

func (s *Store) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	var rows []sessionRow
	if err := s.sessionQuery(ctx).Where("sessions.id = ?", id).Limit(1).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &store.ErrNotFound{Entity: "session", Key: idKey(id)}
	}
	sess := rows[0].toModel()
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, filter store.SessionFilter) ([]models.Session, error) {
	q := s.sessionQuery(ctx)
	if filter.AgentID != 0 {
		q = q.Where("sessions.agent_id = ?", filter.AgentID)
	}
	var rows []sessionRow
	if err := q.Order("sessions.created_date DESC, sessions.id DESC").Limit(store.ClampLimit(filter.Limit)).Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Session, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) TouchSession(ctx context.Context, id int64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&sessionRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"invocations":    gorm.Expr("invocations + ?", 1),
		"last_used_date": at.UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &store.ErrNotFound{Entity: "session", Key: idKey(id)}
	}
	return nil
}

// ── Message Store ───────────────────────────────────────────

func (s *Store) AppendMessages(ctx context.Context, msgs ...*models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owners := make(map[int64]int64)
		for _, msg := range msgs {
			owner, ok := owners[msg.SessionID]
			if !ok {
				var sess sessionRecord
				if err := tx.First(&sess, "id = ?", msg.SessionID).Error; err != nil {
					return notFound(err, "session", idKey(msg.SessionID))
				}
				owner = sess.AgentID
				owners[msg.SessionID] = owner
			}
			if owner != msg.AgentID {
				return &store.ErrConflict{Entity: "message", Reason: fmt.Sprintf("session %d belongs to agent %d", msg.SessionID, owner)}
			}
		}

		now := time.Now().UTC()
		for _, msg := range msgs {
			if msg.Datetime.IsZero() {
				msg.Datetime = now
			}
			rec := messageRecord{
				AgentID:   msg.AgentID,
				SessionID: msg.SessionID,
				Datetime:  msg.Datetime.UTC(),
				Role:      string(msg.Role),
				Message:   msg.Message,
			}
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			msg.ID = rec.ID
		}
		return nil
	})
}

func (s *Store) ListMessages(ctx context.Context, filter store.MessageFilter) ([]models.Message, error) {
	q := s.db.WithContext(ctx).Model(&messageRecord{})
	if filter.AgentID != 0 {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.SessionID != 0 {
		q = q.Where("session_id = ?", filter.SessionID)
	}

	var rows []messageRecord
	if filter.Limit > 0 {
		// Most recent window, flipped back to conversation order below.
		if err := q.Order("datetime DESC, id DESC").Limit(filter.Limit).Find(&rows).Error; err != nil {
			return nil, err
		}
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	} else if err := q.Order("datetime ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// ── User Store ──────────────────────────────────────────────

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var rows []userRecord
	if err := s.db.WithContext(ctx).Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var r userRecord
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user", idKey(id))
	}
	u := r.toModel()
	return &u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var r userRecord
	if err := s.db.WithContext(ctx).First(&r, "lower(username) = lower(?)", username).Error; err != nil {
		return nil, notFound(err, "user", username)
	}
	u := r.toModel()
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.CreatedDate.IsZero() {
		user.CreatedDate = time.Now().UTC()
	}
	rec := userRecord{
		Name:          user.Name,
		Username:      user.Username,
		PasswordHash:  user.PasswordHash,
		CreatedDate:   user.CreatedDate,
		LastLoginDate: user.LastLoginDate,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		if isUniqueViolation(err) {
			return &store.ErrConflict{Entity: "user", Reason: "username " + user.Username + " already exists"}
		}
		return err
	}
	user.ID = rec.ID
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, user *models.User) error {
	fields := map[string]interface{}{
		"name":     user.Name,
		"username": user.Username,
	}
	if user.PasswordHash != "" {
		fields["password_hash"] = user.PasswordHash
	}
	res := s.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", user.ID).Updates(fields)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return &store.ErrConflict{Entity: "user", Reason: "username " + user.Username + " already exists"}
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &store.ErrNotFound{Entity: "user", Key: idKey(user.ID)}
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&tokenRecord{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&userRecord{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &store.ErrNotFound{Entity: "user", Key: idKey(id)}
		}
		return nil
	})
}

func (s *Store) TouchUserLogin(ctx context.Context, id int64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&userRecord{}).Where("id = ?", id).Update("last_login_date", at.UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &store.ErrNotFound{Entity: "user", Key: idKey(id)}
	}
	return nil
}

// ── Token Store ─────────────────────────────────────────────

func (s *Store) ListTokens(ctx context.Context, filter store.TokenFilter) ([]models.AuthorizationToken, error) {
	q := s.db.WithContext(ctx).Model(&tokenRecord{})
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.AgentID != 0 {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	var rows []tokenRecord
	if err := q.Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.AuthorizationToken, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) GetToken(ctx context.Context, id int64) (*models.AuthorizationToken, error) {
	var r tokenRecord
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "token", idKey(id))
	}
	t := r.toModel()
	return &t, nil
}

func (s *Store) GetTokenByDigest(ctx context.Context, digest string) (*models.AuthorizationToken, error) {
	var r tokenRecord
	if err := s.db.WithContext(ctx).First(&r, "token_digest = ?", digest).Error; err != nil {
		return nil, notFound(err, "token", "digest")
	}
	t := r.toModel()
	return &t, nil
}

func (s *Store) CreateToken(ctx context.Context, token *models.AuthorizationToken) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owners int64
		if err := tx.Model(&userRecord{}).Where("id = ?", token.UserID).Count(&owners).Error; err != nil {
			return err
		}
		if owners == 0 {
			return &store.ErrNotFound{Entity: "user", Key: idKey(token.UserID)}
		}

		if token.CreatedDate.IsZero() {
			token.CreatedDate = time.Now().UTC()
		}
		rec := tokenRecord{
			UserID:         token.UserID,
			AgentID:        token.AgentID,
			TokenDigest:    token.TokenDigest,
			TokenHint:      token.TokenHint,
			Active:         token.Active,
			CreatedDate:    token.CreatedDate,
			ExpireDate:     token.ExpireDate,
			Invocations:    token.Invocations,
			MaxInvocations: token.MaxInvocations,
		}
		if err := tx.Create(&rec).Error; err != nil {
			if isUniqueViolation(err) {
				return &store.ErrConflict{Entity: "token", Reason: "duplicate token"}
			}
			return err
		}
		token.ID = rec.ID
		return nil
	})
}

func (s *Store) UpdateToken(ctx context.Context, token *models.AuthorizationToken) error {
	// Select forces gorm to write nil pointers and false booleans too.
	res := s.db.WithContext(ctx).Model(&tokenRecord{}).
		Where("id = ?", token.ID).
		Select("active", "expire_date", "max_invocations", "agent_id").
		Updates(&tokenRecord{
			Active:         token.Active,
			ExpireDate:     token.ExpireDate,
			MaxInvocations: token.MaxInvocations,
			AgentID:        token.AgentID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &store.ErrNotFound{Entity: "token", Key: idKey(token.ID)}
	}
	updated, err := s.GetToken(ctx, token.ID)
	if err != nil {
		return err
	}
	*token = *updated
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&tokenRecord{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &store.ErrNotFound{Entity: "token", Key: idKey(id)}
	}
	return nil
}

// ConsumeToken is a single conditional UPDATE: the usability predicate and
// the increment are evaluated by the database in one statement.
func (s *Store) ConsumeToken(ctx context.Context, id int64, at time.Time) (*models.AuthorizationToken, error) {
	at = at.UTC()
	res := s.db.WithContext(ctx).Model(&tokenRecord{}).
		Where("id = ? AND active = ?", id, true).
		Where("(max_invocations IS NULL OR invocations < max_invocations)").
		Where("(expire_date IS NULL OR expire_date > ?)", at).
		Updates(map[string]interface{}{
			"invocations":    gorm.Expr("invocations + ?", 1),
			"last_used_date": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetToken(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrTokenUnusable
	}
	return s.GetToken(ctx, id)
}

// ── Log Store ───────────────────────────────────────────────

func (s *Store) CreateModelLog(ctx context.Context, entry *models.ModelLog) error {
	if entry.Datetime.IsZero() {
		entry.Datetime = time.Now().UTC()
	}
	rec, err := toModelLogRecord(entry)
	if err != nil {
		return err
	}
	rec.ID = 0
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	entry.ID = rec.ID
	return nil
}

func (s *Store) GetModelLog(ctx context.Context, id int64) (*models.ModelLog, error) {
	var r modelLogRecord
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "model_log", idKey(id))
	}
	l := r.toModel()
	return &l, nil
}

func (s *Store) ListModelLogs(ctx context.Context, filter store.LogFilter) ([]models.ModelLog, error) {
	q := s.db.WithContext(ctx).Model(&modelLogRecord{})
	if filter.AgentID != 0 {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.SessionID != 0 {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	var rows []modelLogRecord
	if err := q.Order("datetime DESC, id DESC").Limit(store.ClampLimit(filter.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.ModelLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) CreateTestLog(ctx context.Context, entry *models.AgentTestLog) error {
	if entry.Datetime.IsZero() {
		entry.Datetime = time.Now().UTC()
	}
	rec := testLogRecord{AgentID: entry.AgentID, Datetime: entry.Datetime, Query: entry.Query, Response: entry.Response}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	entry.ID = rec.ID
	return nil
}

func (s *Store) ListTestLogs(ctx context.Context, filter store.LogFilter) ([]models.AgentTestLog, error) {
	q := s.db.WithContext(ctx).Model(&testLogRecord{})
	if filter.AgentID != 0 {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	var rows []testLogRecord
	if err := q.Order("datetime DESC, id DESC").Limit(store.ClampLimit(filter.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.AgentTestLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) CreateChangeLog(ctx context.Context, entry *models.AgentChangeLog) error {
	if entry.Datetime.IsZero() {
		entry.Datetime = time.Now().UTC()
	}
	rec := changeLogRecord{
		UserID:      entry.UserID,
		AgentID:     entry.AgentID,
		Datetime:    entry.Datetime,
		Event:       string(entry.Event),
		Description: entry.Description,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return err
	}
	entry.ID = rec.ID
	return nil
}

func (s *Store) ListChangeLogs(ctx context.Context, filter store.LogFilter) ([]models.AgentChangeLog, error) {
	q := s.db.WithContext(ctx).Model(&changeLogRecord{})
	if filter.AgentID != 0 {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	var rows []changeLogRecord
	if err := q.Order("datetime DESC, id DESC").Limit(store.ClampLimit(filter.Limit)).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.AgentChangeLog, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func (s *Store) PurgeLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("datetime < ?", cutoff.UTC()).Delete(&modelLogRecord{})
		if res.Error != nil {
			return res.Error
		}
		purged += res.RowsAffected
		res = tx.Where("datetime < ?", cutoff.UTC()).Delete(&testLogRecord{})
		if res.Error != nil {
			return res.Error
		}
		purged += res.RowsAffected
		return nil
	})
	return purged, err
}
