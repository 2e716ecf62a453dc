package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cracknum-backend/internal/config"
	"cracknum-backend/internal/database"
	"cracknum-backend/pkg/api"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"

	accessType  = "access"
	refreshType = "refresh"
)

type tokenClaims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// Authenticator issues HS256 access/refresh token pairs for the single admin
// account and guards routes with them. Revoked token ids live in the database
// until their natural expiry.
type Authenticator struct {
	db  *gorm.DB
	cfg config.Auth
	now func() time.Time
}

func NewAuthenticator(db *gorm.DB, cfg config.Auth) *Authenticator {
	return &Authenticator{db: db, cfg: cfg, now: time.Now}
}

func (a *Authenticator) issue(subject, typ string, ttl time.Duration) (string, *tokenClaims, error) {
	now := a.now()
	claims := &tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    a.cfg.JWTIssuer,
			Audience:  jwt.ClaimStrings{a.cfg.JWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: typ,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.JWTSecret))
	if err != nil {
		return "", nil, fmt.Errorf("error signing %s token: %w", typ, err)
	}
	return signed, claims, nil
}

func (a *Authenticator) validate(r *http.Request, token, typ string) (*tokenClaims, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return []byte(a.cfg.JWTSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.cfg.JWTIssuer),
		jwt.WithAudience(a.cfg.JWTAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, CodedErrorf(http.StatusUnauthorized, "invalid token: %v", err)
	}
	if claims.Type != typ {
		return nil, CodedErrorf(http.StatusUnauthorized, "invalid token: expected %s token", typ)
	}

	revoked, err := database.IsTokenRevoked(r.Context(), a.db, claims.ID)
	if err != nil {
		return nil, CodedError(http.StatusInternalServerError, err)
	}
	if revoked {
		return nil, CodedErrorf(http.StatusUnauthorized, "invalid token: token revoked")
	}
	return claims, nil
}

func accessTokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := r.Cookie(AccessCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := accessTokenFromRequest(r)
		if token == "" {
			writeError(w, CodedErrorf(http.StatusUnauthorized, "missing access token"))
			return
		}

		if _, err := a.validate(r, token, accessType); err != nil {
			writeError(w, err)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) setCookie(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   a.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if a.cfg.CookieDomain != "" && a.cfg.CookieDomain != "localhost" {
		cookie.Domain = a.cfg.CookieDomain
	}
	http.SetCookie(w, cookie)
}

func (a *Authenticator) issuePair(w http.ResponseWriter, subject string) (api.TokenResponse, error) {
	access, _, err := a.issue(subject, accessType, a.cfg.AccessTTL)
	if err != nil {
		return api.TokenResponse{}, err
	}
	refresh, _, err := a.issue(subject, refreshType, a.cfg.RefreshTTL)
	if err != nil {
		return api.TokenResponse{}, err
	}

	a.setCookie(w, AccessCookie, access, a.cfg.AccessTTL)
	a.setCookie(w, RefreshCookie, refresh, a.cfg.RefreshTTL)

	return api.TokenResponse{
		AccessToken: access,
		TokenType:   "bearer",
		ExpiresIn:   int(a.cfg.AccessTTL.Seconds()),
	}, nil
}

func (a *Authenticator) checkCredentials(req api.LoginRequest) bool {
	userOk := subtle.ConstantTimeCompare([]byte(req.Username), []byte(a.cfg.AdminUser)) == 1
	passOk := subtle.ConstantTimeCompare([]byte(req.Password), []byte(a.cfg.AdminPassword)) == 1
	return userOk && passOk
}

// IssueToken logs in with a username/password body. Without a body it rotates
// the refresh cookie: the presented refresh token is revoked and a new pair
// is issued.
func (a *Authenticator) IssueToken(w http.ResponseWriter, r *http.Request) {
	res, err := a.issueToken(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	WriteJsonResponse(w, res)
}

func (a *Authenticator) issueToken(w http.ResponseWriter, r *http.Request) (api.TokenResponse, error) {
	var req api.LoginRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	switch {
	case err == nil:
		if !a.checkCredentials(req) {
			return api.TokenResponse{}, CodedErrorf(http.StatusUnauthorized, "invalid credentials")
		}
		slog.Info("issued tokens", "subject", req.Username)
		return a.issuePair(w, req.Username)
	case !errors.Is(err, io.EOF):
		return api.TokenResponse{}, CodedErrorf(http.StatusBadRequest, "unable to parse request body")
	}

	cookie, err := r.Cookie(RefreshCookie)
	if err != nil || cookie.Value == "" {
		return api.TokenResponse{}, CodedErrorf(http.StatusUnauthorized, "no refresh token")
	}

	claims, err := a.validate(r, cookie.Value, refreshType)
	if err != nil {
		return api.TokenResponse{}, err
	}

	if err := database.RevokeToken(r.Context(), a.db, claims.ID, claims.ExpiresAt.Time); err != nil {
		return api.TokenResponse{}, CodedError(http.StatusInternalServerError, err)
	}

	return a.issuePair(w, claims.Subject)
}

func (a *Authenticator) revoke(r *http.Request, token, typ string) {
	claims, err := a.validate(r, token, typ)
	if err != nil {
		return
	}
	if err := database.RevokeToken(r.Context(), a.db, claims.ID, claims.ExpiresAt.Time); err != nil {
		slog.Error("error revoking token", "type", typ, "error", err)
	}
}

// Logout revokes whatever tokens the caller presents and always clears the
// cookies.
func (a *Authenticator) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(RefreshCookie); err == nil && cookie.Value != "" {
		a.revoke(r, cookie.Value, refreshType)
	}
	if token := accessTokenFromRequest(r); token != "" {
		a.revoke(r, token, accessType)
	}

	a.setCookie(w, AccessCookie, "", -time.Second)
	a.setCookie(w, RefreshCookie, "", -time.Second)

	WriteJsonResponse(w, api.LogoutResponse{Ok: true})
}
