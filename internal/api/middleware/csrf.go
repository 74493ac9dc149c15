package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/hugh/parishdesk/internal/auth"
)

const (
	csrfTokenLength = 32
	csrfCookieName  = "csrf_token"
	csrfHeaderName  = "X-CSRF-Token"
	csrfFormField   = "csrf_token"
	csrfTokenExpiry = 24 * time.Hour
)

type csrfToken struct {
	value     string
	expiresAt time.Time
}

// CSRFStore holds one token per session id, in memory.
type CSRFStore struct {
	mu     sync.Mutex
	tokens map[string]csrfToken
}

func NewCSRFStore() *CSRFStore {
	return &CSRFStore{tokens: make(map[string]csrfToken)}
}

// GetOrCreate returns the live token for sessionID, minting one if needed.
func (s *CSRFStore) GetOrCreate(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if tok, ok := s.tokens[sessionID]; ok && now.Before(tok.expiresAt) {
		return tok.value, nil
	}

	// Opportunistic sweep; the map only grows with logins.
	for id, tok := range s.tokens {
		if now.After(tok.expiresAt) {
			delete(s.tokens, id)
		}
	}

	buf := make([]byte, csrfTokenLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	value := base64.URLEncoding.EncodeToString(buf)
	s.tokens[sessionID] = csrfToken{value: value, expiresAt: now.Add(csrfTokenExpiry)}
	return value, nil
}

// Validate checks provided against the token issued for sessionID.
func (s *CSRFStore) Validate(sessionID, provided string) bool {
	s.mu.Lock()
	tok, ok := s.tokens[sessionID]
	s.mu.Unlock()

	if !ok || time.Now().After(tok.expiresAt) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(tok.value), []byte(provided)) == 1
}

// Forget drops the token of an ended session.
func (s *CSRFStore) Forget(sessionID string) {
	s.mu.Lock()
	delete(s.tokens, sessionID)
	s.mu.Unlock()
}

// CSRF protects cookie-authenticated writes. Tokens are keyed on the session
// id carried by the token cookie. Bearer-token requests are exempt.
func CSRF(store *CSRFStore, tokens auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
				ensureCSRFCookie(w, r, store, tokens)
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") != "" {
				next.ServeHTTP(w, r)
				return
			}

			sessionID := cookieSessionID(r, tokens)
			if sessionID == "" {
				// No cookie session: nothing for a forged request to ride on.
				next.ServeHTTP(w, r)
				return
			}

			provided := r.Header.Get(csrfHeaderName)
			if provided == "" {
				provided = r.FormValue(csrfFormField)
			}
			if provided == "" {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "CSRF token missing"})
				return
			}
			if !store.Validate(sessionID, provided) {
				writeJSON(w, http.StatusForbidden, errorBody{Error: "invalid CSRF token"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func ensureCSRFCookie(w http.ResponseWriter, r *http.Request, store *CSRFStore, tokens auth.TokenService) {
	sessionID := cookieSessionID(r, tokens)
	if sessionID == "" {
		return
	}
	if c, err := r.Cookie(csrfCookieName); err == nil && store.Validate(sessionID, c.Value) {
		return
	}

	token, err := store.GetOrCreate(sessionID)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false, // read by page scripts
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(csrfTokenExpiry.Seconds()),
	})
}

// cookieSessionID returns the sid of a valid token cookie, or "".
func cookieSessionID(r *http.Request, tokens auth.TokenService) string {
	cookie, err := r.Cookie("token")
	if err != nil || cookie.Value == "" {
		return ""
	}
	claims, err := tokens.ValidateToken(cookie.Value)
	if err != nil {
		return ""
	}
	return claims.SessionID
}
