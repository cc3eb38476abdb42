package sqlstore

import (
	"encoding/json"
	"time"

	"github.com/Satish-Kalepu/Agents-Simulator/pkg/models"
	"gorm.io/datatypes"
)

type agentRecord struct {
	ID           int64  `gorm:"primaryKey"`
	Name         string `gorm:"not null"`
	Description  string
	Model        string `gorm:"not null"`
	SystemPrompt string
	Tools        datatypes.JSON
	CreatedDate  time.Time
	UpdatedDate  time.Time
	LastUsedDate *time.Time
	Invocations  int64 `gorm:"not null;default:0"`
}

func (agentRecord) TableName() string { return "agents" }

type sessionRecord struct {
	ID           int64 `gorm:"primaryKey"`
	AgentID      int64 `gorm:"not null;index"`
	CreatedDate  time.Time
	LastUsedDate time.Time
	Invocations  int64 `gorm:"not null;default:0"`
}

func (sessionRecord) TableName() string { return "sessions" }

// sessionRow is a session joined with its agent's name. It is flat because
// Scan ignores unexported embedded structs.
type sessionRow struct {
	ID           int64
	AgentID      int64
	AgentName    string
	CreatedDate  time.Time
	LastUsedDate time.Time
	Invocations  int64
}

type messageRecord struct {
	ID        int64     `gorm:"primaryKey"`
	AgentID   int64     `gorm:"not null"`
	SessionID int64     `gorm:"not null;index"`
	Datetime  time.Time `gorm:"column:datetime"`
	Role      string    `gorm:"not null"`
	Message   string
}

func (messageRecord) TableName() string { return "messages" }

type userRecord struct {
	ID            int64  `gorm:"primaryKey"`
	Name          string `gorm:"not null"`
	Username      string `gorm:"uniqueIndex;not null"`
	PasswordHash  string `gorm:"not null"`
	CreatedDate   time.Time
	LastLoginDate *time.Time
}

func (userRecord) TableName() string { return "users" }

type tokenRecord struct {
	ID             int64  `gorm:"primaryKey"`
	UserID         int64  `gorm:"not null;index"`
	AgentID        *int64 `gorm:"index"`
	TokenDigest    string `gorm:"uniqueIndex;not null"`
	TokenHint      string
	Active         bool `gorm:"not null"`
	CreatedDate    time.Time
	LastUsedDate   *time.Time
	ExpireDate     *time.Time
	Invocations    int64 `gorm:"not null;default:0"`
	MaxInvocations *int64
}

func (tokenRecord) TableName() string { return "authorization_tokens" }

type modelLogRecord struct {
	ID            int64     `gorm:"primaryKey"`
	Datetime      time.Time `gorm:"column:datetime"`
	Model         string
	AgentID       int64 `gorm:"index"`
	SessionID     *int64
	MessageID     *int64
	Attempt       int
	APIRequest    datatypes.JSON `gorm:"column:api_request"`
	APIResponse   datatypes.JSON `gorm:"column:api_response"`
	UserQuery     string
	AgentResponse string
	Error         string `gorm:"column:error"`
	Duration      int64
	InputTokens   int64
	OutputTokens  int64
	Tokens        int64
}

func (modelLogRecord) TableName() string { return "model_logs" }

type testLogRecord struct {
	ID       int64     `gorm:"primaryKey"`
	AgentID  int64     `gorm:"index"`
	Datetime time.Time `gorm:"column:datetime"`
	Query    string
	Response string
}

func (testLogRecord) TableName() string { return "test_logs" }

type changeLogRecord struct {
	ID          int64     `gorm:"primaryKey"`
	UserID      int64     `gorm:"not null"`
	AgentID     int64     `gorm:"index"`
	Datetime    time.Time `gorm:"column:datetime"`
	Event       string    `gorm:"not null"`
	Description string
}

func (changeLogRecord) TableName() string { return "change_logs" }

// ── Conversions ─────────────────────────────────────────────

func toAgentRecord(a *models.Agent) (agentRecord, error) {
	tools := a.Tools
	if tools == nil {
		tools = []models.Tool{}
	}
	raw, err := json.Marshal(tools)
	if err != nil {
		return agentRecord{}, err
	}
	return agentRecord{
		ID:           a.ID,
		Name:         a.Name,
		Description:  a.Description,
		Model:        a.Model,
		SystemPrompt: a.SystemPrompt,
		Tools:        datatypes.JSON(raw),
		CreatedDate:  a.CreatedDate,
		UpdatedDate:  a.UpdatedDate,
		LastUsedDate: a.LastUsedDate,
		Invocations:  a.Invocations,
	}, nil
}

func (r agentRecord) toModel() (models.Agent, error) {
	a := models.Agent{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		Model:        r.Model,
		SystemPrompt: r.SystemPrompt,
		CreatedDate:  r.CreatedDate.UTC(),
		UpdatedDate:  r.UpdatedDate.UTC(),
		LastUsedDate: utcPtr(r.LastUsedDate),
		Invocations:  r.Invocations,
		Tools:        []models.Tool{},
	}
	if len(r.Tools) > 0 {
		if err := json.Unmarshal(r.Tools, &a.Tools); err != nil {
			return a, err
		}
	}
	return a, nil
}

func (r messageRecord) toModel() models.Message {
	return models.Message{
		ID:        r.ID,
		AgentID:   r.AgentID,
		SessionID: r.SessionID,
		Datetime:  r.Datetime.UTC(),
		Role:      models.Role(r.Role),
		Message:   r.Message,
	}
}

func (r userRecord) toModel() models.User {
	return models.User{
		ID:            r.ID,
		Name:          r.Name,
		Username:      r.Username,
		PasswordHash:  r.PasswordHash,
		CreatedDate:   r.CreatedDate.UTC(),
		LastLoginDate: utcPtr(r.LastLoginDate),
	}
}

func (r tokenRecord) toModel() models.AuthorizationToken {
	return models.AuthorizationToken{
		ID:             r.ID,
		UserID:         r.UserID,
		AgentID:        r.AgentID,
		TokenDigest:    r.TokenDigest,
		TokenHint:      r.TokenHint,
		Active:         r.Active,
		CreatedDate:    r.CreatedDate.UTC(),
		LastUsedDate:   utcPtr(r.LastUsedDate),
		ExpireDate:     utcPtr(r.ExpireDate),
		Invocations:    r.Invocations,
		MaxInvocations: r.MaxInvocations,
	}
}

func toModelLogRecord(l *models.ModelLog) (modelLogRecord, error) {
	req, err := json.Marshal(l.APIRequest)
	if err != nil {
		return modelLogRecord{}, err
	}
	resp, err := json.Marshal(l.APIResponse)
	if err != nil {
		return modelLogRecord{}, err
	}
	return modelLogRecord{
		ID:            l.ID,
		Datetime:      l.Datetime,
		Model:         l.Model,
		AgentID:       l.AgentID,
		SessionID:     l.SessionID,
		MessageID:     l.MessageID,
		Attempt:       l.Attempt,
		APIRequest:    datatypes.JSON(req),
		APIResponse:   datatypes.JSON(resp),
		UserQuery:     l.UserQuery,
		AgentResponse: l.AgentResponse,
		Error:         l.Error,
		Duration:      l.Duration,
		InputTokens:   l.InputTokens,
		OutputTokens:  l.OutputTokens,
		Tokens:        l.Tokens,
	}, nil
}

func (r modelLogRecord) toModel() models.ModelLog {
	l := models.ModelLog{
		ID:            r.ID,
		Datetime:      r.Datetime.UTC(),
		Model:         r.Model,
		AgentID:       r.AgentID,
		SessionID:     r.SessionID,
		MessageID:     r.MessageID,
		Attempt:       r.Attempt,
		UserQuery:     r.UserQuery,
		AgentResponse: r.AgentResponse,
		Error:         r.Error,
		Duration:      r.Duration,
		InputTokens:   r.InputTokens,
		OutputTokens:  r.OutputTokens,
		Tokens:        r.Tokens,
	}
	// Rows are written by this package; a decode failure leaves the zero value.
	_ = json.Unmarshal(r.APIRequest, &l.APIRequest)
	_ = json.Unmarshal(r.APIResponse, &l.APIResponse)
	return l
}

func (r testLogRecord) toModel() models.AgentTestLog {
	return models.AgentTestLog{
		ID:       r.ID,
		AgentID:  r.AgentID,
		Datetime: r.Datetime.UTC(),
		Query:    r.Query,
		Response: r.Response,
	}
}

func (r changeLogRecord) toModel() models.AgentChangeLog {
	return models.AgentChangeLog{
		ID:          r.ID,
		UserID:      r.UserID,
		AgentID:     r.AgentID,
		Datetime:    r.Datetime.UTC(),
		Event:       models.ChangeEvent(r.Event),
		Description: r.Description,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
