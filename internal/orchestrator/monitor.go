package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// TimeoutMonitor sweeps waiting sessions and expires the ones whose
// response window has passed. It runs independently of the schedulers
// and never blocks them; an expiry that races a concurrent user reply
// simply loses the compare-and-swap, which is expected, not an error.
type TimeoutMonitor struct {
	store    SessionStore
	machine  *StateMachine
	interval time.Duration
	window   time.Duration
	logger   *slog.Logger
}

// NewTimeoutMonitor creates a timeout monitor. interval is the sweep
// period; window is the default response deadline for sessions without
// a question-specific deadline.
func NewTimeoutMonitor(
	store SessionStore,
	machine *StateMachine,
	interval, window time.Duration,
	logger *slog.Logger,
) *TimeoutMonitor {
	return &TimeoutMonitor{
		store:    store,
		machine:  machine,
		interval: interval,
		window:   window,
		logger:   logger,
	}
}

// Start runs the sweep loop until ctx is canceled
func (tm *TimeoutMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(tm.interval)
	defer ticker.Stop()

	tm.logger.Info("Timeout monitor started",
		"sweep_interval", tm.interval,
		"response_window", tm.window,
	)

	for {
		select {
		case <-ticker.C:
			if err := tm.Sweep(ctx); err != nil {
				tm.logger.Error("Timeout sweep failed", "error", err)
			}
		case <-ctx.Done():
			tm.logger.Info("Timeout monitor stopped")
			return
		}
	}
}

// Sweep expires every waiting session past its deadline. Exported so
// tests can drive the monitor without the ticker.
func (tm *TimeoutMonitor) Sweep(ctx context.Context) error {
	sessions, err := tm.store.ListSessions(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, session := range sessions {
		if session.Status != StatusWaitingForUser || session.WaitingSince == nil {
			continue
		}

		deadline := session.WaitingSince.Add(tm.window)
		question, qerr := tm.store.PendingQuestionFor(ctx, session.ID)
		if qerr == nil && question != nil {
			deadline = question.Deadline
		}
		if now.Before(deadline) {
			continue
		}

		swapped, terr := tm.machine.Transition(ctx, session.ID, StatusWaitingForUser, StatusTimedOut,
			func(s *Session) {
				s.Reason = ReasonResponseTimeout
				s.WaitingSince = nil
			})
		if terr != nil {
			return terr
		}
		if !swapped {
			// A user reply got there first
			tm.logger.Debug("Timeout lost race to user input", "session_id", session.ID)
			continue
		}

		if question != nil {
			_ = tm.store.ResolveQuestion(ctx, question.ID, QuestionExpired, "")
		}
		tm.logger.Info("Session timed out waiting for user",
			"session_id", session.ID,
			"waiting_since", session.WaitingSince,
		)
	}
	return nil
}

// EntryDeleter is implemented by message logs that support purging a
// session's entries during retention cleanup
type EntryDeleter interface {
	DeleteEntries(ctx context.Context, sessionID string) error
}

// CleanupMonitor deletes terminal sessions older than a maximum age
type CleanupMonitor struct {
	store    SessionStore
	log      MessageLog
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
}

// NewCleanupMonitor creates a cleanup monitor
func NewCleanupMonitor(store SessionStore, log MessageLog, interval, maxAge time.Duration, logger *slog.Logger) *CleanupMonitor {
	return &CleanupMonitor{
		store:    store,
		log:      log,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Start runs the cleanup loop until ctx is canceled
func (cm *CleanupMonitor) Start(ctx context.Context) {
	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deleted, err := cm.Sweep(ctx)
			if err != nil {
				cm.logger.Error("Cleanup sweep failed", "error", err)
			} else if deleted > 0 {
				cm.logger.Info("Cleaned up stale sessions", "count", deleted)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sweep removes terminal sessions whose last update is older than
// maxAge. Live sessions are never touched.
func (cm *CleanupMonitor) Sweep(ctx context.Context) (int, error) {
	sessions, err := cm.store.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	deleted := 0
	for _, session := range sessions {
		if !session.Status.Terminal() {
			continue
		}
		if now.Sub(session.UpdatedAt) <= cm.maxAge {
			continue
		}
		if err := cm.store.DeleteSession(ctx, session.ID); err != nil {
			cm.logger.Error("Failed to delete stale session",
				"session_id", session.ID,
				"error", err,
			)
			continue
		}
		if deleter, ok := cm.log.(EntryDeleter); ok {
			if err := deleter.DeleteEntries(ctx, session.ID); err != nil {
				cm.logger.Error("Failed to delete stale session log",
					"session_id", session.ID,
					"error", err,
				)
			}
		}
		deleted++
	}
	return deleted, nil
}
