package tenancy

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
)

// Switcher changes a user's selected organization. It is a pure selection
// write: session claims are left alone and reconciled by the next
// Guard.Require.
type Switcher struct {
	selections SelectionStore
	logger     *slog.Logger
}

func NewSwitcher(selections SelectionStore, logger *slog.Logger) *Switcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Switcher{selections: selections, logger: logger}
}

func (s *Switcher) Switch(ctx context.Context, id *Identity, orgID uuid.UUID) error {
	if !id.valid() {
		return ErrUnauthenticated
	}
	if orgID == uuid.Nil {
		return ErrNotAMember
	}

	if err := s.selections.SetSelection(ctx, id.UserID, orgID); err != nil {
		if errors.Is(err, ErrNotAMember) {
			return err
		}
		return storeError("writing selection", err)
	}

	s.logger.Info("organization selected", "user_id", id.UserID, "org_id", orgID)
	return nil
}
