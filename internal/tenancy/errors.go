package tenancy

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated          = errors.New("unauthenticated")
	ErrNoOrganizationSelected   = errors.New("no organization selected")
	ErrInsufficientRole         = errors.New("insufficient role")
	ErrStaleClaimsRefreshFailed = errors.New("stale claims refresh failed")
	ErrNotAMember               = errors.New("not a member of organization")
	ErrSessionNotFound          = errors.New("session not found")
	ErrStore                    = errors.New("tenancy store failure")
)

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
