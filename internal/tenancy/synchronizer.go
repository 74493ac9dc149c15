package tenancy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshAttempts = 2
	maxRefreshAttempts     = 5

	// reissueTimeout bounds a shared reissue once it is detached from the
	// request that started it.
	reissueTimeout = 5 * time.Second
)

var errReissueMismatch = errors.New("reissued claims do not match requested scope")

// Scope is the outcome of a successful freshness check.
type Scope struct {
	OrganizationID uuid.UUID
	Roles          []string
	Claims         *Claims
	// Reissued is set when this check had to refresh the session claims.
	Reissued bool
}

// Synchronizer reconciles a session's claims against the authoritative
// selection and membership state.
type Synchronizer struct {
	memberships MembershipStore
	selections  SelectionStore
	claims      ClaimsStore
	attempts    int
	logger      *slog.Logger

	// Collapses concurrent reissues for the same session and scope.
	inflight singleflight.Group
}

// NewSynchronizer builds a Synchronizer. attempts bounds reissue calls per
// check; values outside [1,5] fall back to DefaultRefreshAttempts or 5.
func NewSynchronizer(memberships MembershipStore, selections SelectionStore, claims ClaimsStore, attempts int, logger *slog.Logger) *Synchronizer {
	if attempts <= 0 {
		attempts = DefaultRefreshAttempts
	}
	if attempts > maxRefreshAttempts {
		attempts = maxRefreshAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		memberships: memberships,
		selections:  selections,
		claims:      claims,
		attempts:    attempts,
		logger:      logger,
	}
}

// EnsureFresh returns the selected organization once the session claims are
// known to match it, reissuing them first when they are stale.
func (s *Synchronizer) EnsureFresh(ctx context.Context, id Identity) (uuid.UUID, error) {
	scope, err := s.Sync(ctx, id)
	if err != nil {
		return uuid.Nil, err
	}
	return scope.OrganizationID, nil
}

// Sync is EnsureFresh returning the full scope.
func (s *Synchronizer) Sync(ctx context.Context, id Identity) (*Scope, error) {
	orgID, ok, err := s.selections.GetSelection(ctx, id.UserID)
	if err != nil {
		return nil, storeError("reading selection", err)
	}
	if !ok {
		return nil, ErrNoOrganizationSelected
	}

	memberships, err := s.memberships.GetMemberships(ctx, id.UserID)
	if err != nil {
		return nil, storeError("reading memberships", err)
	}

	membership, found := findMembership(memberships, orgID)
	if !found {
		s.logger.Info("clearing dangling selection",
			"user_id", id.UserID,
			"org_id", orgID,
		)
		if err := s.selections.ClearSelection(ctx, id.UserID, orgID); err != nil {
			return nil, storeError("clearing dangling selection", err)
		}
		return nil, ErrNoOrganizationSelected
	}
	roles := NormalizeRoles(membership.Roles)

	claims, err := s.claims.GetClaims(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return nil, storeError("reading claims", err)
	}

	if claims.Matches(orgID, roles) {
		s.logger.Debug("claims fresh", "session_id", id.SessionID, "org_id", orgID)
		return &Scope{OrganizationID: orgID, Roles: roles, Claims: claims}, nil
	}

	fresh, err := s.refresh(ctx, id, orgID, roles)
	if err != nil {
		return nil, err
	}
	return &Scope{OrganizationID: orgID, Roles: roles, Claims: fresh, Reissued: true}, nil
}

func (s *Synchronizer) refresh(ctx context.Context, id Identity, orgID uuid.UUID, roles []string) (*Claims, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStaleClaimsRefreshFailed, err)
	}

	key := id.SessionID + "|" + orgID.String() + "|" + strings.Join(roles, ",")
	ch := s.inflight.DoChan(key, func() (interface{}, error) {
		// Every waiter shares this call, so it outlives the caller that
		// started it.
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reissueTimeout)
		defer cancel()
		return s.reissue(rctx, id, orgID, roles)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Claims), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrStaleClaimsRefreshFailed, ctx.Err())
	}
}

func (s *Synchronizer) reissue(ctx context.Context, id Identity, orgID uuid.UUID, roles []string) (*Claims, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		claims, err := s.claims.ReissueClaims(ctx, id, orgID, roles)
		switch {
		case err == nil && claims.Matches(orgID, roles):
			s.logger.Info("claims reissued",
				"session_id", id.SessionID,
				"org_id", orgID,
				"roles", roles,
				"attempt", attempt,
			)
			return claims, nil
		case err == nil:
			err = errReissueMismatch
		case errors.Is(err, ErrSessionNotFound):
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}

		lastErr = err
		s.logger.Warn("claims reissue failed",
			"session_id", id.SessionID,
			"org_id", orgID,
			"attempt", attempt,
			"error", err,
		)
	}
	return nil, fmt.Errorf("%w: %w", ErrStaleClaimsRefreshFailed, lastErr)
}

func findMembership(memberships []Membership, orgID uuid.UUID) (Membership, bool) {
	for _, m := range memberships {
		if m.OrganizationID == orgID {
			return m, true
		}
	}
	return Membership{}, false
}
