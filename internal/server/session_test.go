package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoginCreatesUserSession(t *testing.T) {
	sm := NewSessionManager()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	require.True(t, sm.Login(rec, req, "alice", "secret", "alice", "secret"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, sessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	userID, ok := sm.UserID(cookies[0].Value)
	require.True(t, ok)
	assert.Equal(t, "alice", userID)
}

func TestLoginRejectsWrongCredentials(t *testing.T) {
	sm := NewSessionManager()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)

	assert.False(t, sm.Login(rec, req, "alice", "wrong", "alice", "secret"))
	assert.False(t, sm.Login(rec, req, "bob", "secret", "alice", "secret"))
	assert.Empty(t, rec.Result().Cookies())
}

// clock is a settable time source for session expiry.
type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newClockedManager() (*SessionManager, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sm := NewSessionManager()
	sm.now = c.now
	return sm, c
}

func TestExpiredSessionIsRemoved(t *testing.T) {
	sm, c := newClockedManager()
	token := sm.Create("alice")

	c.t = c.t.Add(sessionDuration)
	_, ok := sm.UserID(token)
	assert.False(t, ok)
	assert.NotContains(t, sm.sessions, token)
}

func TestSessionInUseIsExtended(t *testing.T) {
	sm, c := newClockedManager()
	token := sm.Create("alice")

	// Used shortly before expiry, then again after the original expiry.
	c.t = c.t.Add(sessionDuration - time.Hour)
	_, ok := sm.UserID(token)
	require.True(t, ok)

	c.t = c.t.Add(2 * time.Hour)
	userID, ok := sm.UserID(token)
	require.True(t, ok)
	assert.Equal(t, "alice", userID)
}

func TestSweepDropsExpiredTokens(t *testing.T) {
	sm, c := newClockedManager()
	stale := sm.Create("alice")
	csrf := sm.CreateCSRFToken()

	c.t = c.t.Add(sessionDuration + sweepInterval)
	fresh := sm.Create("bob")

	assert.NotContains(t, sm.sessions, stale)
	assert.NotContains(t, sm.csrfTokens, csrf)
	assert.Contains(t, sm.sessions, fresh)
}

func TestExpiredCSRFTokenIsRejected(t *testing.T) {
	sm, c := newClockedManager()
	token := sm.CreateCSRFToken()

	c.t = c.t.Add(csrfTokenDuration)
	assert.False(t, sm.ValidateCSRFToken(token))
}

func TestAuthMiddlewareInjectsUser(t *testing.T) {
	sm := NewSessionManager()
	token := sm.Create("alice")

	var seen string
	handler := sm.AuthMiddleware()(func(_ http.ResponseWriter, r *http.Request) {
		seen = UserIDFrom(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	handler(httptest.NewRecorder(), req)
	assert.Equal(t, "alice", seen)

	seen = ""
	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, seen)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestLogoutDeletesSession(t *testing.T) {
	sm := NewSessionManager()
	token := sm.Create("alice")

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: token})
	sm.Logout(httptest.NewRecorder(), req)

	assert.False(t, sm.Validate(token))
}

func TestCSRFTokenIsSingleUse(t *testing.T) {
	sm := NewSessionManager()
	token := sm.CreateCSRFToken()

	assert.True(t, sm.ValidateCSRFToken(token))
	assert.False(t, sm.ValidateCSRFToken(token))
	assert.False(t, sm.ValidateCSRFToken(""))
}
