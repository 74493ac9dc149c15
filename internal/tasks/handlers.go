package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

// SelectionSweeper clears selections that point at organizations the user no
// longer belongs to.
type SelectionSweeper interface {
	ClearDanglingSelections(ctx context.Context) (int64, error)
}

// SessionPurger deletes expired sessions. Stores that expire entries on their
// own do not need one.
type SessionPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

type Handler struct {
	selections SelectionSweeper
	sessions   SessionPurger
	logger     *slog.Logger
}

// NewHandler builds the housekeeping handler. sessions may be nil.
func NewHandler(selections SelectionSweeper, sessions SessionPurger, logger *slog.Logger) *Handler {
	return &Handler{
		selections: selections,
		sessions:   sessions,
		logger:     logger,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeClearDanglingSelections, h.HandleClearDanglingSelections)
	mux.HandleFunc(TypePurgeSessions, h.HandlePurgeSessions)
}

// HandleClearDanglingSelections removes selections left behind by revoked
// memberships. Guarded requests clear them lazily too; the sweep keeps the
// table from accumulating rows for users who never come back.
func (h *Handler) HandleClearDanglingSelections(ctx context.Context, t *asynq.Task) error {
	n, err := h.selections.ClearDanglingSelections(ctx)
	if err != nil {
		return fmt.Errorf("clear dangling selections: %w", err)
	}

	if n > 0 {
		h.logger.Info("cleared dangling selections", "count", n)
	} else {
		h.logger.Debug("no dangling selections")
	}
	return nil
}

func (h *Handler) HandlePurgeSessions(ctx context.Context, t *asynq.Task) error {
	if h.sessions == nil {
		h.logger.Debug("session store expires entries itself, skipping purge")
		return nil
	}

	n, err := h.sessions.PurgeExpired(ctx)
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}

	h.logger.Info("purged expired sessions", "count", n)
	return nil
}
