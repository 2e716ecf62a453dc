package api_test

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func postToken(s *testServer, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewBufferString(body))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return s.do(req)
}

func statusWithCookie(s *testServer, cookie *http.Cookie) int {
	req := httptest.NewRequest(http.MethodGet, "/logs/missing", nil)
	req.AddCookie(cookie)
	return s.do(req).Code
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, testAuthConfig())

	for _, path := range []string{"/status/abc", "/logs/abc", "/download/abc"} {
		rec := s.do(httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/status/abc", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, testAuthConfig())

	rec := postToken(s, `{"username":"admin","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = postToken(s, `{"username":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postToken(s, `{"username":"admin","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"token_type":"bearer"`)
	assert.Contains(t, rec.Body.String(), `"expires_in":3600`)

	access := cookieByName(rec, "access_token")
	require.NotNil(t, access)
	assert.True(t, access.HttpOnly)
	require.NotNil(t, cookieByName(rec, "refresh_token"))

	// The cookie alone authenticates; the route then 404s on the unknown task.
	assert.Equal(t, http.StatusNotFound, statusWithCookie(s, access))
}

func TestRefreshTokenRotation(t *testing.T) {
	s := newTestServer(t, testAuthConfig())

	rec := postToken(s, `{"username":"admin","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	refresh := cookieByName(rec, "refresh_token")
	access := cookieByName(rec, "access_token")

	t.Run("no refresh cookie", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, postToken(s, "").Code)
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		forged := &http.Cookie{Name: "refresh_token", Value: access.Value}
		assert.Equal(t, http.StatusUnauthorized, postToken(s, "", forged).Code)
	})

	t.Run("rotate", func(t *testing.T) {
		rotated := postToken(s, "", refresh)
		require.Equal(t, http.StatusOK, rotated.Code, rotated.Body.String())

		newRefresh := cookieByName(rotated, "refresh_token")
		require.NotNil(t, newRefresh)
		assert.NotEqual(t, refresh.Value, newRefresh.Value)

		// The presented refresh token is single use.
		assert.Equal(t, http.StatusUnauthorized, postToken(s, "", refresh).Code)
		assert.Equal(t, http.StatusOK, postToken(s, "", newRefresh).Code)
	})
}

func TestRefreshTokenRejectedAsAccessToken(t *testing.T) {
	s := newTestServer(t, testAuthConfig())

	rec := postToken(s, `{"username":"admin","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	refresh := cookieByName(rec, "refresh_token")

	req := httptest.NewRequest(http.MethodGet, "/logs/missing", nil)
	req.Header.Set("Authorization", "Bearer "+refresh.Value)
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func TestExpiredAccessToken(t *testing.T) {
	cfg := testAuthConfig()
	cfg.AccessTTL = -time.Minute
	s := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/logs/missing", nil)
	req.Header.Set("Authorization", "Bearer "+s.token)
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func TestTokenFromOtherIssuerRejected(t *testing.T) {
	s := newTestServer(t, testAuthConfig())

	other := testAuthConfig()
	other.JWTIssuer = "someone-else"
	foreign := newTestServer(t, other)

	req := httptest.NewRequest(http.MethodGet, "/logs/missing", nil)
	req.Header.Set("Authorization", "Bearer "+foreign.token)
	assert.Equal(t, http.StatusUnauthorized, s.do(req).Code)
}

func TestLogout(t *testing.T) {
	s := newTestServer(t, testAuthConfig())

	rec := postToken(s, `{"username":"admin","password":"hunter2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	access := cookieByName(rec, "access_token")
	refresh := cookieByName(rec, "refresh_token")

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(access)
	req.AddCookie(refresh)
	out := s.do(req)
	require.Equal(t, http.StatusOK, out.Code)
	assert.JSONEq(t, `{"ok":true}`, out.Body.String())

	cleared := cookieByName(out, "access_token")
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	assert.Equal(t, http.StatusUnauthorized, statusWithCookie(s, access))
	assert.Equal(t, http.StatusUnauthorized, postToken(s, "", refresh).Code)

	// Logging out without any tokens still succeeds.
	assert.Equal(t, http.StatusOK, s.do(httptest.NewRequest(http.MethodPost, "/logout", nil)).Code)
}
