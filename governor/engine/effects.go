package engine

import (
	"context"
	"log/slog"
)

type Notification struct {
	Session Session
	Text    string
}

// Mutable container for the side-effects of processing one message. These are collected while stages run and applied in bulk once the full chain has accepted.
type Effects struct {
	Notifications []Notification

	commits   []func()
	rollbacks []func()
}

// Applies commit hooks, then delivers notifications. Failures are logged and do not affect the result.
func (e *Effects) commit(ctx context.Context, logger *slog.Logger) {
	for _, fn := range e.commits {
		runHook(logger, "commit", fn)
	}
	for _, n := range e.Notifications {
		if err := n.Session.Send(ctx, n.Text); err != nil {
			logger.Warn("failed to deliver notification", "to", n.Session.ID(), "err", err)
		}
	}
	e.rollbacks = nil
}

func (e *Effects) rollback(logger *slog.Logger) {
	e.rollbackFrom(logger, 0)
	e.commits = nil
	e.Notifications = nil
}

// runs rollbacks registered at or after index idx, newest first, and forgets them
func (e *Effects) rollbackFrom(logger *slog.Logger, idx int) {
	for i := len(e.rollbacks) - 1; i >= idx; i-- {
		runHook(logger, "rollback", e.rollbacks[i])
	}
	e.rollbacks = e.rollbacks[:idx]
}

func runHook(logger *slog.Logger, kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("effect hook panicked", "kind", kind, "err", r)
		}
	}()
	fn()
}
