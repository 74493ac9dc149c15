// Package tenancy keeps a user's memberships, selected organization and
// session claims consistent, and is the only way tenant-scoped operations
// learn which organization they may touch.
//
// Operations call Guard.Require before any tenant query and use only the
// organization id it returns. Privileged operations additionally call
// RoleGate.RequireRole, which re-reads memberships instead of trusting claims.
package tenancy

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Identity is an authenticated caller. It is always passed explicitly.
type Identity struct {
	UserID    uuid.UUID
	SessionID string
}

func (id *Identity) valid() bool {
	return id != nil && id.UserID != uuid.Nil && id.SessionID != ""
}

// Membership is one organization a user belongs to and the roles held there.
type Membership struct {
	OrganizationID uuid.UUID
	Roles          []string
}

func (m Membership) HasRole(role string) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Claims are the organization and roles embedded in a session as of the last
// issuance. The row-filtering layer trusts them.
type Claims struct {
	SessionID      string
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Roles          []string
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// Matches reports whether the claims carry exactly orgID and the given role
// set. Role order and duplicates are ignored.
func (c *Claims) Matches(orgID uuid.UUID, roles []string) bool {
	if c == nil || c.OrganizationID != orgID {
		return false
	}
	have, want := NormalizeRoles(c.Roles), NormalizeRoles(roles)
	if len(have) != len(want) {
		return false
	}
	for i := range have {
		if have[i] != want[i] {
			return false
		}
	}
	return true
}

// NormalizeRoles lowercases, trims, deduplicates and sorts role tags.
// Empty tags are dropped.
func NormalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	out := make([]string, 0, len(roles))
	for _, r := range roles {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// MembershipStore is the durable user → (organization, roles) mapping.
type MembershipStore interface {
	GetMemberships(ctx context.Context, userID uuid.UUID) ([]Membership, error)
	// GetMembership returns nil, nil when the user is not a member.
	GetMembership(ctx context.Context, userID, orgID uuid.UUID) (*Membership, error)
}

// SelectionStore is the durable user → selected organization mapping.
type SelectionStore interface {
	GetSelection(ctx context.Context, userID uuid.UUID) (uuid.UUID, bool, error)
	// SetSelection fails with ErrNotAMember unless the user belongs to orgID.
	SetSelection(ctx context.Context, userID, orgID uuid.UUID) error
	// ClearSelection removes the selection only while it still references
	// orgID, so a concurrent switch is never undone.
	ClearSelection(ctx context.Context, userID, orgID uuid.UUID) error
}

// ClaimsStore reads and reissues session claims. ReissueClaims must be
// idempotent: reissuing claims that already match is a no-op.
// Both methods return ErrSessionNotFound for unknown or expired sessions.
type ClaimsStore interface {
	GetClaims(ctx context.Context, id Identity) (*Claims, error)
	ReissueClaims(ctx context.Context, id Identity, orgID uuid.UUID, roles []string) (*Claims, error)
}
