package orchestrator

import (
	"context"
	"log/slog"
)

// StateMachine owns every session status mutation. All transitions go
// through a compare-and-swap on the prior status, so a side effect such
// as writing the final output is applied exactly once even when two
// triggers race (a timeout firing concurrently with a late user reply,
// for example).
type StateMachine struct {
	store  SessionStore
	events *Broadcaster
	logger *slog.Logger
}

// NewStateMachine creates a state machine over the given store
func NewStateMachine(store SessionStore, events *Broadcaster, logger *slog.Logger) *StateMachine {
	return &StateMachine{
		store:  store,
		events: events,
		logger: logger,
	}
}

// Transition attempts the expected -> next swap, applying mutate to the
// record only when the swap succeeds. A failed swap is not an error:
// it means another trigger won the race and the caller should reload.
func (m *StateMachine) Transition(
	ctx context.Context,
	sessionID string,
	expected, next SessionStatus,
	mutate func(*Session),
) (bool, error) {
	swapped, err := m.store.CompareAndSwapStatus(ctx, sessionID, expected, next, mutate)
	if err != nil {
		return false, err
	}
	if !swapped {
		m.logger.Debug("Status swap lost race",
			"session_id", sessionID,
			"expected", expected,
			"next", next,
		)
		return false, nil
	}

	m.logger.Info("Session status changed",
		"session_id", sessionID,
		"from", expected,
		"to", next,
	)

	// A pending question must not outlive the waiting state that parked
	// the session. Timeout, cancel, and cap-breach all land here.
	if expected == StatusWaitingForUser && next.Terminal() {
		if question, qerr := m.store.PendingQuestionFor(ctx, sessionID); qerr == nil && question != nil {
			if rerr := m.store.ResolveQuestion(ctx, question.ID, QuestionExpired, ""); rerr != nil {
				m.logger.Error("Failed to retire pending question",
					"session_id", sessionID,
					"question_id", question.ID,
					"error", rerr,
				)
			}
		}
	}

	var reason FailureReason
	if next == StatusFailed || next == StatusTimedOut {
		if sess, gerr := m.store.GetSession(ctx, sessionID); gerr == nil && sess != nil {
			reason = sess.Reason
		}
	}
	m.events.PublishStatus(ctx, sessionID, next, reason)
	return true, nil
}

// Fail moves the session to Failed from whichever non-terminal status
// it currently holds. Used for cancellation and unrecoverable agent
// errors, which may strike in any state. Returns false if the session
// was already terminal.
func (m *StateMachine) Fail(
	ctx context.Context,
	sessionID string,
	reason FailureReason,
	detail string,
) (bool, error) {
	mutate := func(s *Session) {
		s.Reason = reason
		s.StatusDetail = detail
		s.WaitingSince = nil
	}
	for _, from := range []SessionStatus{StatusActive, StatusProcessing, StatusWaitingForUser} {
		swapped, err := m.Transition(ctx, sessionID, from, StatusFailed, mutate)
		if err != nil {
			return false, err
		}
		if swapped {
			return true, nil
		}
	}
	return false, nil
}
