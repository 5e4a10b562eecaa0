package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"finitefield.org/fashion-web/internal/auth"
)

const (
	sessionCookieName = "FASHION_WEB_SESSION"
	sessionLifetime   = 30 * 24 * time.Hour
)

var errSessionKeyRequired = errors.New("session: signing key is required")

// SessionData is the signed state kept in the session cookie. The cart itself lives server side,
// keyed by ID.
type SessionData struct {
	ID        string    `json:"id"`
	UserID    string    `json:"uid,omitempty"`
	Email     string    `json:"email,omitempty"`
	Token     string    `json:"tok,omitempty"`
	CSRFToken string    `json:"csrf,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	dirty bool
}

// MarkDirty schedules the cookie to be rewritten.
func (s *SessionData) MarkDirty() {
	s.dirty = true
	s.UpdatedAt = time.Now().UTC()
}

// RegenerateID assigns a new id and CSRF token, e.g. after sign in.
func (s *SessionData) RegenerateID() {
	s.ID = randID()
	s.CSRFToken = newCSRFToken()
	s.MarkDirty()
}

// SignIn attaches a customer to the session.
func (s *SessionData) SignIn(user auth.User) {
	wasAuthed := s.UserID != ""
	s.UserID = user.ID
	s.Email = user.Email
	s.Token = user.Token
	if !wasAuthed {
		s.RegenerateID()
		return
	}
	s.MarkDirty()
}

// SignOut forgets the customer and rotates the session id.
func (s *SessionData) SignOut() {
	s.UserID = ""
	s.Email = ""
	s.Token = ""
	s.RegenerateID()
}

// User returns the signed-in customer, or nil.
func (s *SessionData) User() *auth.User {
	if s == nil || s.UserID == "" {
		return nil
	}
	return &auth.User{ID: s.UserID, Email: s.Email, Token: s.Token}
}

// Sessions issues and verifies HMAC-signed session cookies.
type Sessions struct {
	key    []byte
	secure bool
	now    func() time.Time
}

// NewSessions builds the cookie codec. secure marks cookies Secure, as production requires.
func NewSessions(signingKey string, secure bool) (*Sessions, error) {
	if strings.TrimSpace(signingKey) == "" {
		return nil, errSessionKeyRequired
	}
	return &Sessions{key: []byte(signingKey), secure: secure, now: time.Now}, nil
}

// Middleware loads or starts a session and exposes it, and its user, on the request context.
func (m *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sd, fromCookie := m.read(r)
		if sd.ID == "" {
			now := m.now().UTC()
			sd = &SessionData{ID: randID(), CSRFToken: newCSRFToken(), CreatedAt: now, UpdatedAt: now, dirty: true}
		}

		rw := NewResponseRecorder(w)
		rw.SetBeforeWrite(func(w http.ResponseWriter) {
			if sd.dirty || !fromCookie {
				m.write(w, sd)
			}
		})
		next.ServeHTTP(rw, r.WithContext(contextWithSession(r.Context(), sd)))
		if !rw.Written() && (sd.dirty || !fromCookie) {
			m.write(w, sd)
		}
	})
}

// Secure reports whether cookies are marked Secure.
func (m *Sessions) Secure() bool { return m.secure }

func contextWithSession(ctx context.Context, sd *SessionData) context.Context {
	ctx = context.WithValue(ctx, ctxKeySession, sd)
	if user := sd.User(); user != nil {
		ctx = auth.WithUser(ctx, user)
	}
	return ctx
}

// GetSession returns the request session. Outside the middleware it returns an empty session.
func GetSession(r *http.Request) *SessionData {
	if sd, ok := r.Context().Value(ctxKeySession).(*SessionData); ok && sd != nil {
		return sd
	}
	return &SessionData{}
}

func (m *Sessions) sign(payload []byte) []byte {
	mac := hmac.New(sha256.New, m.key)
	mac.Write(payload)
	return mac.Sum(nil)
}

func (m *Sessions) read(r *http.Request) (*SessionData, bool) {
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return &SessionData{}, false
	}
	payloadPart, sigPart, ok := strings.Cut(c.Value, ".")
	if !ok {
		return &SessionData{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(payloadPart)
	if err != nil {
		return &SessionData{}, false
	}
	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil || !hmac.Equal(sig, m.sign(payload)) {
		return &SessionData{}, false
	}
	var sd SessionData
	if err := json.Unmarshal(payload, &sd); err != nil {
		return &SessionData{}, false
	}
	return &sd, true
}

func (m *Sessions) write(w http.ResponseWriter, sd *SessionData) {
	payload, err := json.Marshal(sd)
	if err != nil {
		return
	}
	value := base64.RawURLEncoding.EncodeToString(payload) + "." + base64.RawURLEncoding.EncodeToString(m.sign(payload))
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  m.now().Add(sessionLifetime),
	})
	sd.dirty = false
}

func randID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
