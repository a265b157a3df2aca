package www

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"net/http"

	"stationedge/store"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionName = "stationedge_admin"

	// keySetting stores the generated cookie key so admin logins survive a
	// restart when no session_secret is configured.
	keySetting = "web_session_key"
)

// keyStore is the settings table holding the generated cookie key.
type keyStore interface {
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
}

// sessionStore holds the station administrator's login. Staff sessions for
// the station server live in the session package instead.
type sessionStore struct {
	store *sessions.CookieStore
}

func newSessionStore(secret string, keys keyStore) *sessionStore {
	cs := sessions.NewCookieStore(sessionKey(secret, keys))
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   12 * 60 * 60, // one shift
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	return &sessionStore{store: cs}
}

// sessionKey prefers the configured secret, then the stored key, and
// generates and stores a new key as a last step.
func sessionKey(secret string, keys keyStore) []byte {
	if key, err := base64.StdEncoding.DecodeString(secret); err == nil && len(key) >= 32 {
		return key
	}
	if keys != nil {
		stored, err := keys.GetSetting(keySetting)
		if err == nil {
			if key, err := base64.StdEncoding.DecodeString(stored); err == nil && len(key) >= 32 {
				return key
			}
		} else if !errors.Is(err, store.ErrNotFound) {
			log.Printf("www: read session key: %v", err)
		}
	}

	key := make([]byte, 32)
	rand.Read(key)
	if keys != nil {
		if err := keys.SetSetting(keySetting, base64.StdEncoding.EncodeToString(key)); err != nil {
			log.Printf("www: store session key: %v", err)
		}
	}
	return key
}

func (s *sessionStore) get(r *http.Request) *sessions.Session {
	sess, _ := s.store.Get(r, sessionName)
	return sess
}

func (s *sessionStore) getUser(r *http.Request) (username string, ok bool) {
	u, exists := s.get(r).Values["username"]
	if !exists {
		return "", false
	}
	username, ok = u.(string)
	return username, ok && username != ""
}

func (s *sessionStore) setUser(w http.ResponseWriter, r *http.Request, username string) error {
	sess := s.get(r)
	sess.Values["username"] = username
	return sess.Save(r, w)
}

func (s *sessionStore) clear(w http.ResponseWriter, r *http.Request) {
	sess := s.get(r)
	delete(sess.Values, "username")
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		log.Printf("www: clear session: %v", err)
	}
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// EnsureAdmin creates the admin account when none exists. It reports
// whether an account was created.
func EnsureAdmin(db *store.DB, username, password string) (bool, error) {
	exists, err := db.AdminUserExists()
	if err != nil || exists {
		return false, err
	}
	if username == "" || password == "" {
		return false, errors.New("admin username and password are required")
	}
	hash, err := hashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := db.CreateAdminUser(username, hash); err != nil {
		return false, err
	}
	return true, nil
}
