package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Satish-Kalepu/Agents-Simulator/pkg/contracts"
)

// AdminSessionPrefix marks HMAC admin session tokens so the chain can tell
// them apart from static API keys.
const AdminSessionPrefix = "adm."

// AdminSessionProvider validates HMAC-signed admin session tokens issued
// by the login endpoint.
//
// Token format: "adm." + base64(JSON payload) + "." + base64(HMAC-SHA256)
// Payload: {"sub": "42", "name": "satish", "exp": 1234567890}
type AdminSessionProvider struct {
	secret []byte
	ttl    time.Duration
}

type adminSessionPayload struct {
	Subject string `json:"sub"`
	Name    string `json:"name,omitempty"`
	Exp     int64  `json:"exp"`
}

// NewAdminSessionProvider creates a provider signing with secret.
// An empty secret disables it.
func NewAdminSessionProvider(secret string, ttl time.Duration) *AdminSessionProvider {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AdminSessionProvider{secret: []byte(secret), ttl: ttl}
}

func (p *AdminSessionProvider) Name() string  { return "admin_session" }
func (p *AdminSessionProvider) Enabled() bool { return len(p.secret) > 0 }

// Authenticate returns (nil, nil) for bearer values that are not admin
// session tokens.
func (p *AdminSessionProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	token := ExtractBearer(r)
	if !strings.HasPrefix(token, AdminSessionPrefix) {
		return nil, nil
	}

	payload, err := p.validate(strings.TrimPrefix(token, AdminSessionPrefix))
	if err != nil {
		return nil, fmt.Errorf("invalid admin session: %w", err)
	}

	userID, err := strconv.ParseInt(payload.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid admin session subject")
	}

	return &contracts.Identity{
		Subject:     "user:" + payload.Subject,
		UserID:      userID,
		Provider:    "admin_session",
		DisplayName: payload.Name,
		ExpiresAt:   time.Unix(payload.Exp, 0).UTC(),
	}, nil
}

// Issue signs a session token for the given user.
func (p *AdminSessionProvider) Issue(user int64, name string) (string, time.Time, error) {
	if !p.Enabled() {
		return "", time.Time{}, errors.New("admin sessions are disabled")
	}
	exp := time.Now().Add(p.ttl).UTC()
	payloadBytes, err := json.Marshal(adminSessionPayload{
		Subject: strconv.FormatInt(user, 10),
		Name:    name,
		Exp:     exp.Unix(),
	})
	if err != nil {
		return "", time.Time{}, err
	}

	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return AdminSessionPrefix + payloadB64 + "." + p.sign(payloadB64), exp, nil
}

func (p *AdminSessionProvider) sign(payloadB64 string) string {
	mac := hmac.New(sha256.New, p.secret)
	mac.Write([]byte(payloadB64))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (p *AdminSessionProvider) validate(token string) (*adminSessionPayload, error) {
	i := strings.LastIndexByte(token, '.')
	if i < 0 {
		return nil, errors.New("malformed token: expected payload.signature")
	}
	payloadB64, sigB64 := token[:i], token[i+1:]

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return nil, fmt.Errorf("invalid signature encoding: %w", err)
	}
	expected, _ := base64.RawURLEncoding.DecodeString(p.sign(payloadB64))
	if !hmac.Equal(sig, expected) {
		return nil, errors.New("signature mismatch")
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil, fmt.Errorf("invalid payload encoding: %w", err)
	}

	var payload adminSessionPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}
	if payload.Exp > 0 && time.Now().Unix() > payload.Exp {
		return nil, errors.New("token expired")
	}
	if payload.Subject == "" {
		return nil, errors.New("missing subject")
	}
	return &payload, nil
}
