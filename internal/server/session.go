// Package server provides the HTTP server and WebSocket handler for the web interface.
package server

import (
	"context"
	cryptorand "crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"maps"
	"net/http"
	"sync"
	"time"
)

const (
	sessionCookieName = "screenrec_session"
	sessionDuration   = 24 * time.Hour
	// A session used with less than this left is extended, so a signed-in
	// user is never logged out in the middle of a recording.
	sessionRenewWithin = 12 * time.Hour
	csrfTokenDuration  = 10 * time.Minute
	sweepInterval      = time.Minute
)

// A session is the login of one user.
type session struct {
	userID    string
	createdAt time.Time
	expiresAt time.Time
}

// userIDKey is the request context key of the signed-in user id.
type userIDKey struct{}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFrom returns the signed-in user id of a request context, or "".
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// SessionManager manages login sessions and single-use CSRF tokens.
// It is safe for concurrent use.
type SessionManager struct {
	now func() time.Time

	mu         sync.Mutex
	sessions   map[string]*session
	csrfTokens map[string]time.Time // Token to expiry
	lastSweep  time.Time
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		now:        time.Now,
		sessions:   make(map[string]*session),
		csrfTokens: make(map[string]time.Time),
	}
}

// generateToken returns a cryptographically secure random token.
func generateToken() string {
	b := make([]byte, 32)
	if _, err := cryptorand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// sweepLocked drops expired sessions and CSRF tokens, at most once per
// sweepInterval. The caller holds sm.mu.
func (sm *SessionManager) sweepLocked(now time.Time) {
	if now.Sub(sm.lastSweep) < sweepInterval {
		return
	}
	sm.lastSweep = now
	maps.DeleteFunc(sm.sessions, func(_ string, s *session) bool {
		return !now.Before(s.expiresAt)
	})
	maps.DeleteFunc(sm.csrfTokens, func(_ string, exp time.Time) bool {
		return !now.Before(exp)
	})
}

// Create creates a new session for userID and returns the token, or "" if
// no token could be generated.
func (sm *SessionManager) Create(userID string) string {
	token := generateToken()
	if token == "" {
		return ""
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	sm.sweepLocked(now)
	sm.sessions[token] = &session{
		userID:    userID,
		createdAt: now,
		expiresAt: now.Add(sessionDuration),
	}
	return token
}

// Validate reports whether a session token is valid.
func (sm *SessionManager) Validate(token string) bool {
	_, ok := sm.UserID(token)
	return ok
}

// UserID returns the user of a valid session token and extends the session
// when it is close to expiring.
func (sm *SessionManager) UserID(token string) (string, bool) {
	if token == "" {
		return "", false
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	sess, ok := sm.sessions[token]
	if !ok {
		return "", false
	}

	now := sm.now()
	if !now.Before(sess.expiresAt) {
		delete(sm.sessions, token)
		return "", false
	}
	if sess.expiresAt.Sub(now) < sessionRenewWithin {
		sess.expiresAt = now.Add(sessionDuration)
	}
	return sess.userID, true
}

// RequestUserID returns the user of the request's session cookie.
func (sm *SessionManager) RequestUserID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		return "", false
	}
	return sm.UserID(cookie.Value)
}

// Delete removes a session token.
func (sm *SessionManager) Delete(token string) {
	if token == "" {
		return
	}
	sm.mu.Lock()
	delete(sm.sessions, token)
	sm.mu.Unlock()
}

// AuthMiddleware returns middleware that requires a valid session cookie and
// stores its user id in the request context. Unauthenticated requests are
// redirected to /login.
func (sm *SessionManager) AuthMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			userID, ok := sm.RequestUserID(r)
			if !ok {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			next(w, r.WithContext(WithUserID(r.Context(), userID)))
		}
	}
}

// setSessionCookie sets or clears the session cookie.
func setSessionCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// Login checks the credentials and, if they match, starts a session whose
// user id is the username.
func (sm *SessionManager) Login(w http.ResponseWriter, r *http.Request, username, password, configUser, configPass string) bool {
	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(configUser)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(configPass)) == 1
	if !userMatch || !passMatch {
		return false
	}

	token := sm.Create(username)
	if token == "" {
		return false
	}

	setSessionCookie(w, r, token, int(sessionDuration.Seconds()))
	return true
}

// Logout clears the session cookie and deletes the session.
func (sm *SessionManager) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sm.Delete(cookie.Value)
	}
	setSessionCookie(w, r, "", -1)
}

// CreateCSRFToken generates a new login form token.
func (sm *SessionManager) CreateCSRFToken() string {
	token := generateToken()
	if token == "" {
		return ""
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	now := sm.now()
	sm.sweepLocked(now)
	sm.csrfTokens[token] = now.Add(csrfTokenDuration)
	return token
}

// ValidateCSRFToken reports whether a CSRF token is valid and consumes it.
func (sm *SessionManager) ValidateCSRFToken(token string) bool {
	if token == "" {
		return false
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	exp, ok := sm.csrfTokens[token]
	if !ok {
		return false
	}
	delete(sm.csrfTokens, token)
	return sm.now().Before(exp)
}
