package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/parishdesk/internal/auth"
	"github.com/hugh/parishdesk/internal/tenancy"
	"github.com/hugh/parishdesk/pkg/util"
)

type contextKey string

const (
	IdentityKey       contextKey = "identity"
	OrganizationIDKey contextKey = "organization_id"
	RolesKey          contextKey = "roles"
)

// SessionLookup reads the claims of an open session. It returns
// tenancy.ErrSessionNotFound once the session is closed or expired.
type SessionLookup interface {
	GetClaims(ctx context.Context, id tenancy.Identity) (*tenancy.Claims, error)
}

// Auth resolves the caller's identity from a signed token whose session is
// still open. Organization and role claims in the token are ignored here;
// Tenant reconciles them against the session store.
func Auth(tokens auth.TokenService, sessions SessionLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				handleUnauthorized(w, r)
				return
			}

			claims, err := tokens.ValidateToken(token)
			if err != nil {
				handleUnauthorized(w, r)
				return
			}

			id := claims.Identity()
			if _, err := sessions.GetClaims(r.Context(), *id); err != nil {
				if errors.Is(err, tenancy.ErrSessionNotFound) {
					handleUnauthorized(w, r)
					return
				}
				util.LoggerFrom(r.Context()).Error("session lookup failed", "session_id", id.SessionID, "error", err)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
				return
			}

			ctx := WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func tokenFromRequest(r *http.Request) string {
	// 1. Authorization header (API requests)
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	// 2. Cookie (web pages)
	if cookie, err := r.Cookie("token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	// 3. X-Auth-Token header (localStorage fallback for AJAX)
	return r.Header.Get("X-Auth-Token")
}

// isWebRequest reports whether r is a browser page load rather than an API call.
func isWebRequest(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html") && !strings.HasPrefix(r.URL.Path, "/api/")
}

// handleUnauthorized returns appropriate response based on request type
func handleUnauthorized(w http.ResponseWriter, r *http.Request) {
	if isWebRequest(r) {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *tenancy.Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

// GetIdentity returns the authenticated identity, or nil.
func GetIdentity(ctx context.Context) *tenancy.Identity {
	if id, ok := ctx.Value(IdentityKey).(*tenancy.Identity); ok {
		return id
	}
	return nil
}

func GetUserID(ctx context.Context) uuid.UUID {
	if id := GetIdentity(ctx); id != nil {
		return id.UserID
	}
	return uuid.Nil
}

// GetOrganizationID returns the organization validated by Tenant. It is
// uuid.Nil outside a tenant-scoped route.
func GetOrganizationID(ctx context.Context) uuid.UUID {
	if id, ok := ctx.Value(OrganizationIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetRoles returns the caller's roles in the validated organization.
func GetRoles(ctx context.Context) []string {
	if roles, ok := ctx.Value(RolesKey).([]string); ok {
		return roles
	}
	return nil
}
