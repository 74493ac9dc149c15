// Package session stores the claims of signed-in sessions and reissues them
// on request. Sessions live in Redis or, as a fallback, in the database.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/parishdesk/internal/tenancy"
	"github.com/oklog/ulid/v2"
)

// Store is a tenancy.ClaimsStore that also owns the session lifecycle.
type Store interface {
	tenancy.ClaimsStore
	// Create opens a session with no claims yet and returns its id.
	Create(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*tenancy.Claims, error)
	Delete(ctx context.Context, sessionID string) error
}

// Compile-time interface satisfaction checks
var (
	_ Store = (*DBStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// NewID returns a new lexicographically sortable session id.
func NewID() string {
	return ulid.Make().String()
}

// ValidID reports whether s looks like a session id.
func ValidID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

func emptyClaims(id string, userID uuid.UUID, now time.Time, ttl time.Duration) *tenancy.Claims {
	return &tenancy.Claims{
		SessionID: id,
		UserID:    userID,
		Roles:     []string{},
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
}
