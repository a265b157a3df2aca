// Package session reads the signed-in staff member's token and identity
// from the terminal's local settings table.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stationedge/conn"
	"stationedge/store"
)

// Settings keys.
const (
	KeyToken     = "auth_token"
	KeyStaffID   = "staff_id"
	KeyStaffName = "staff_name"
)

// ErrNoSession means no staff member is signed in on this terminal.
var ErrNoSession = errors.New("session: no stored token")

// Settings is the key-value store holding the session.
type Settings interface {
	GetSetting(key string) (string, error)
	SetSettings(kv map[string]string) error
	DeleteSetting(key string) error
}

// Identity is the staff member the stored token belongs to.
type Identity struct {
	StaffID   string    `json:"staffId"`
	StaffName string    `json:"staffName"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Source loads credentials at authentication time. It never caches, so a
// re-login through the settings table takes effect on the next connect.
type Source struct {
	settings Settings
}

func New(settings Settings) *Source {
	return &Source{settings: settings}
}

// Token returns the stored bearer token.
func (s *Source) Token() (string, error) {
	tok, err := s.settings.GetSetting(KeyToken)
	if errors.Is(err, store.ErrNotFound) || (err == nil && tok == "") {
		return "", ErrNoSession
	}
	if err != nil {
		return "", fmt.Errorf("session: read token: %w", err)
	}
	return tok, nil
}

// Credentials implements conn.CredentialSource.
func (s *Source) Credentials() (conn.Credentials, error) {
	tok, err := s.Token()
	if err != nil {
		return conn.Credentials{}, err
	}
	id := s.identity(tok)
	return conn.Credentials{
		Token:     tok,
		StaffID:   id.StaffID,
		StaffName: id.StaffName,
		ExpiresAt: id.ExpiresAt,
	}, nil
}

// Identity returns who is signed in.
func (s *Source) Identity() (Identity, error) {
	tok, err := s.Token()
	if err != nil {
		return Identity{}, err
	}
	return s.identity(tok), nil
}

// Save stores a new session, replacing any previous one.
func (s *Source) Save(token, staffID, staffName string) error {
	if token == "" {
		return errors.New("session: empty token")
	}
	return s.settings.SetSettings(map[string]string{
		KeyToken:     token,
		KeyStaffID:   staffID,
		KeyStaffName: staffName,
	})
}

// Clear signs the staff member out.
func (s *Source) Clear() error {
	for _, k := range []string{KeyToken, KeyStaffID, KeyStaffName} {
		if err := s.settings.DeleteSetting(k); err != nil {
			return fmt.Errorf("session: clear %s: %w", k, err)
		}
	}
	return nil
}

func (s *Source) identity(tok string) Identity {
	var id Identity
	id.StaffID, _ = s.settings.GetSetting(KeyStaffID)
	id.StaffName, _ = s.settings.GetSetting(KeyStaffName)

	claims := parseClaims(tok)
	id.ExpiresAt = claims.expires
	if id.StaffID == "" {
		id.StaffID = claims.subject
	}
	if id.StaffName == "" {
		id.StaffName = claims.name
	}
	return id
}

type tokenClaims struct {
	subject string
	name    string
	expires time.Time
}

// parseClaims reads the claims of a JWT without verifying its signature;
// the server verifies. Opaque tokens yield empty claims.
func parseClaims(tok string) tokenClaims {
	var out tokenClaims
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok, claims); err != nil {
		return out
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.expires = exp.Time
	}
	out.subject, _ = claims.GetSubject()
	if name, ok := claims["name"].(string); ok {
		out.name = name
	}
	return out
}
