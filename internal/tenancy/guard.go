package tenancy

import (
	"context"

	"github.com/google/uuid"
)

// Guard is the entry point every tenant-scoped operation calls before it
// touches data. The organization is always derived from the caller's
// selection, never supplied by the caller.
type Guard struct {
	sync *Synchronizer
}

func NewGuard(sync *Synchronizer) *Guard {
	return &Guard{sync: sync}
}

// Require returns the organization the caller may operate against.
// It fails with ErrUnauthenticated, ErrNoOrganizationSelected,
// ErrStaleClaimsRefreshFailed or an ErrStore-wrapped error; there is no
// fallback organization.
func (g *Guard) Require(ctx context.Context, id *Identity) (uuid.UUID, error) {
	scope, err := g.Resolve(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	return scope.OrganizationID, nil
}

// Resolve is Require returning the full scope, for callers that need to
// forward reissued claims to the client.
func (g *Guard) Resolve(ctx context.Context, id *Identity) (*Scope, error) {
	if !id.valid() {
		return nil, ErrUnauthenticated
	}
	return g.sync.Sync(ctx, *id)
}
