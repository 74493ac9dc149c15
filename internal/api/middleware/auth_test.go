package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/parishdesk/internal/auth"
	"github.com/hugh/parishdesk/internal/tenancy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newToken(t *testing.T, jwtService *auth.JWTService) (*tenancy.Claims, string) {
	t.Helper()

	claims := &tenancy.Claims{
		SessionID:      "01HZX3J6R0C4E1TQ8V5M9W2ABC",
		UserID:         uuid.New(),
		OrganizationID: uuid.New(),
		Roles:          []string{tenancy.RoleAdmin},
		ExpiresAt:      time.Now().Add(time.Hour),
	}
	token, err := jwtService.GenerateToken(claims)
	require.NoError(t, err)
	return claims, token
}

// fakeSessions answers GetClaims from a fixed set of open sessions.
type fakeSessions struct {
	open map[string]bool
	err  error
}

func (f fakeSessions) GetClaims(_ context.Context, id tenancy.Identity) (*tenancy.Claims, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !f.open[id.SessionID] {
		return nil, tenancy.ErrSessionNotFound
	}
	return &tenancy.Claims{SessionID: id.SessionID, UserID: id.UserID}, nil
}

func TestAuth_TokenSources(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", 24*time.Hour)
	claims, token := newToken(t, jwtService)
	sessions := fakeSessions{open: map[string]bool{claims.SessionID: true}}

	tests := []struct {
		name  string
		apply func(r *http.Request)
	}{
		{name: "authorization header", apply: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }},
		{name: "cookie", apply: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "token", Value: token}) }},
		{name: "x-auth-token header", apply: func(r *http.Request) { r.Header.Set("X-Auth-Token", token) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Auth(jwtService, sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				id := GetIdentity(r.Context())
				require.NotNil(t, id)
				assert.Equal(t, claims.UserID, id.UserID)
				assert.Equal(t, claims.SessionID, id.SessionID)
				assert.Equal(t, claims.UserID, GetUserID(r.Context()))
				// Organization claims in the token are not trusted here.
				assert.Equal(t, uuid.Nil, GetOrganizationID(r.Context()))
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			tt.apply(req)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
		})
	}
}

func TestAuth_Rejects(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", 24*time.Hour)
	other := auth.NewJWTService("other-secret", 24*time.Hour)
	_, foreign := newToken(t, other)

	tests := []struct {
		name   string
		path   string
		accept string
		token  string
		want   int
	}{
		{name: "no token", path: "/api/v1/me", want: http.StatusUnauthorized},
		{name: "malformed token", path: "/api/v1/me", token: "not-a-jwt", want: http.StatusUnauthorized},
		{name: "wrong signing key", path: "/api/v1/me", token: foreign, want: http.StatusUnauthorized},
		{name: "web page redirects", path: "/petitions", accept: "text/html", want: http.StatusFound},
		{name: "api path never redirects", path: "/api/v1/me", accept: "text/html", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := Auth(jwtService, fakeSessions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusFound {
				assert.Equal(t, "/login", rec.Header().Get("Location"))
			}
		})
	}
}

func TestAuth_ClosedSession(t *testing.T) {
	jwtService := auth.NewJWTService("test-secret", 24*time.Hour)
	_, token := newToken(t, jwtService)

	tests := []struct {
		name     string
		sessions fakeSessions
		accept   string
		path     string
		want     int
	}{
		{name: "logged out", sessions: fakeSessions{}, path: "/api/v1/organizations", want: http.StatusUnauthorized},
		{name: "logged out web page", sessions: fakeSessions{}, path: "/organizations/select", accept: "text/html", want: http.StatusFound},
		{name: "store failure", sessions: fakeSessions{err: errors.New("connection reset")}, path: "/api/v1/organizations", want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := Auth(jwtService, tt.sessions)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodPost, tt.path, nil)
			req.Header.Set("Authorization", "Bearer "+token)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.False(t, called)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetIdentity(req.Context()))
	assert.Equal(t, uuid.Nil, GetUserID(req.Context()))
	assert.Equal(t, uuid.Nil, GetOrganizationID(req.Context()))
	assert.Nil(t, GetRoles(req.Context()))
}
