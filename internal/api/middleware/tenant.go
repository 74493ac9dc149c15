package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hugh/parishdesk/internal/auth"
	"github.com/hugh/parishdesk/internal/tenancy"
	"github.com/hugh/parishdesk/pkg/util"
)

// RefreshedTokenHeader carries a re-minted token after the session's claims
// were reissued.
const RefreshedTokenHeader = "X-Refreshed-Token"

type errorBody struct {
	Error string `json:"error"`
}

// Tenant resolves the caller's selected organization through the guard and
// stores it in the request context. Requests that cannot be resolved never
// reach next.
func Tenant(guard *tenancy.Guard, tokens auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope, err := guard.Resolve(r.Context(), GetIdentity(r.Context()))
			if err != nil {
				WriteTenancyError(w, r, err)
				return
			}

			if scope.Reissued {
				token, err := tokens.GenerateToken(scope.Claims)
				if err != nil {
					util.LoggerFrom(r.Context()).Error("failed to mint refreshed token", "error", err)
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
					return
				}
				SetTokenCookie(w, r, token)
				w.Header().Set(RefreshedTokenHeader, token)
			}

			ctx := context.WithValue(r.Context(), OrganizationIDKey, scope.OrganizationID)
			ctx = context.WithValue(ctx, RolesKey, scope.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireOrgRole admits the request only when the caller holds role in the
// organization validated by Tenant, re-checked against the membership store.
func RequireOrgRole(gate *tenancy.RoleGate, role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if err := gate.RequireRole(ctx, GetIdentity(ctx), GetOrganizationID(ctx), role); err != nil {
				WriteTenancyError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteTenancyError maps tenancy failures to HTTP responses.
func WriteTenancyError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tenancy.ErrUnauthenticated):
		handleUnauthorized(w, r)
	case errors.Is(err, tenancy.ErrNoOrganizationSelected):
		if isWebRequest(r) {
			http.Redirect(w, r, "/organizations/select", http.StatusFound)
			return
		}
		writeJSON(w, http.StatusConflict, errorBody{Error: "choose an organization"})
	case errors.Is(err, tenancy.ErrInsufficientRole):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "insufficient role"})
	case errors.Is(err, tenancy.ErrNotAMember):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "not a member of this organization"})
	case errors.Is(err, tenancy.ErrStaleClaimsRefreshFailed):
		util.LoggerFrom(r.Context()).Warn("claims refresh failed", "error", err)
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "session refresh failed, retry"})
	default:
		util.LoggerFrom(r.Context()).Error("tenancy store failure", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// SetTokenCookie stores token in the cookie read by Auth.
func SetTokenCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
