package tenancy

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// RoleGate guards privileged operations. Unlike Guard it never trusts session
// claims: every check re-reads the membership store, so a role revoked after
// the claims were issued takes effect on the next call.
type RoleGate struct {
	memberships MembershipStore
	logger      *slog.Logger
}

func NewRoleGate(memberships MembershipStore, logger *slog.Logger) *RoleGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleGate{memberships: memberships, logger: logger}
}

// RequireRole fails with ErrInsufficientRole unless the caller currently
// holds role in orgID.
func (g *RoleGate) RequireRole(ctx context.Context, id *Identity, orgID uuid.UUID, role string) error {
	if !id.valid() {
		return ErrUnauthenticated
	}
	if orgID == uuid.Nil {
		return ErrInsufficientRole
	}

	membership, err := g.memberships.GetMembership(ctx, id.UserID, orgID)
	if err != nil {
		return storeError("reading membership", err)
	}
	if membership == nil || !membership.HasRole(role) {
		g.logger.Info("role check denied",
			"user_id", id.UserID,
			"org_id", orgID,
			"role", role,
		)
		return ErrInsufficientRole
	}
	return nil
}
