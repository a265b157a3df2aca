package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"stationedge/store"
)

func testSource(t *testing.T) *Source {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestNoSession(t *testing.T) {
	s := testSource(t)
	if _, err := s.Credentials(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestCredentialsFromJWT(t *testing.T) {
	s := testSource(t)
	exp := time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC)
	tok := signedToken(t, jwt.MapClaims{"sub": "s-42", "name": "Amal", "exp": exp.Unix()})
	if err := s.Save(tok, "", ""); err != nil {
		t.Fatalf("save: %v", err)
	}

	c, err := s.Credentials()
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if c.Token != tok || c.StaffID != "s-42" || c.StaffName != "Amal" {
		t.Errorf("credentials = %+v", c)
	}
	if !c.ExpiresAt.Equal(exp) {
		t.Errorf("expires = %v, want %v", c.ExpiresAt, exp)
	}
}

func TestStoredIdentityWins(t *testing.T) {
	s := testSource(t)
	tok := signedToken(t, jwt.MapClaims{"sub": "from-token"})
	s.Save(tok, "s-7", "Nour")

	id, err := s.Identity()
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id.StaffID != "s-7" || id.StaffName != "Nour" {
		t.Errorf("identity = %+v", id)
	}
	if !id.ExpiresAt.IsZero() {
		t.Errorf("expires = %v, want zero", id.ExpiresAt)
	}
}

func TestOpaqueToken(t *testing.T) {
	s := testSource(t)
	s.Save("opaque-token", "s-1", "Sami")
	c, err := s.Credentials()
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if c.StaffID != "s-1" || !c.ExpiresAt.IsZero() {
		t.Errorf("credentials = %+v", c)
	}
}

func TestClear(t *testing.T) {
	s := testSource(t)
	s.Save("opaque-token", "s-1", "Sami")
	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := s.Token(); !errors.Is(err, ErrNoSession) {
		t.Errorf("token after clear: %v", err)
	}
}
