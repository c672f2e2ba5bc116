package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// InterventionGate handles user-driven interruptions of the dialogue:
// supplementary input, clarifying question answers, and explicit pause
// requests. It holds no state of its own; every decision is validated
// against the session record and applied through the state machine's
// compare-and-swap, so a concurrent timeout or cancel loses or wins the
// race cleanly.
type InterventionGate struct {
	store   SessionStore
	log     MessageLog
	machine *StateMachine
	events  *Broadcaster
	logger  *slog.Logger
}

// NewInterventionGate creates an intervention gate
func NewInterventionGate(
	store SessionStore,
	log MessageLog,
	machine *StateMachine,
	events *Broadcaster,
	logger *slog.Logger,
) *InterventionGate {
	return &InterventionGate{
		store:   store,
		log:     log,
		machine: machine,
		events:  events,
		logger:  logger,
	}
}

// SubmitUserInput accepts a supplementary input while the session is
// WaitingForUser. Accepted input is cumulative: it is appended to the
// log and every later product turn sees all of it, not only the latest.
//
// If a clarifying question is pending, the input is queued for the next
// cycle and the question keeps blocking; answering takes precedence.
// Attempting an input at the intervention cap fails the session.
func (g *InterventionGate) SubmitUserInput(ctx context.Context, sessionID, text string) (*Session, error) {
	session, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status != StatusWaitingForUser {
		return session, fmt.Errorf("%w: submit input while %s", ErrInvalidTransition, session.Status)
	}

	if session.InterventionCount >= session.MaxInterventions {
		if _, err := g.machine.Transition(ctx, sessionID, StatusWaitingForUser, StatusFailed,
			func(s *Session) {
				s.Reason = ReasonInterventionLimit
				s.WaitingSince = nil
			}); err != nil {
			return nil, err
		}
		session, _ = g.store.GetSession(ctx, sessionID)
		return session, ErrInterventionLimit
	}

	question, err := g.store.PendingQuestionFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if question != nil {
		// Queue the input for the next cycle without resuming; the
		// pending question still blocks progress.
		swapped, serr := g.store.CompareAndSwapStatus(ctx, sessionID,
			StatusWaitingForUser, StatusWaitingForUser,
			func(s *Session) { s.InterventionCount++ })
		if serr != nil {
			return nil, serr
		}
		if !swapped {
			return session, fmt.Errorf("%w: session left waiting state", ErrInvalidTransition)
		}
	} else {
		swapped, serr := g.machine.Transition(ctx, sessionID, StatusWaitingForUser, StatusProcessing,
			func(s *Session) {
				s.InterventionCount++
				s.WaitingSince = nil
			})
		if serr != nil {
			return nil, serr
		}
		if !swapped {
			// The timeout monitor won the race
			return session, fmt.Errorf("%w: session left waiting state", ErrInvalidTransition)
		}
	}

	entry := &Entry{
		SessionID: sessionID,
		Role:      RoleUser,
		Kind:      KindSupplementaryInput,
		Content:   text,
	}
	if _, err := g.log.Append(ctx, entry); err != nil {
		return nil, err
	}
	g.events.PublishEntry(ctx, entry)

	g.logger.Info("Supplementary input accepted",
		"session_id", sessionID,
		"queued_behind_question", question != nil,
	)

	return g.store.GetSession(ctx, sessionID)
}

// AnswerQuestion resolves the pending clarifying question and resumes
// the dialogue. The cycle restarts at the product step so the
// requirement is regenerated with the new information.
func (g *InterventionGate) AnswerQuestion(ctx context.Context, sessionID, questionID, text string) (*Session, error) {
	session, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status != StatusWaitingForUser {
		return session, fmt.Errorf("%w: answer question while %s", ErrInvalidTransition, session.Status)
	}

	question, err := g.store.PendingQuestionFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if question == nil {
		return session, fmt.Errorf("%w: no pending question", ErrInvalidTransition)
	}
	if question.ID != questionID {
		return session, fmt.Errorf("%w: question %s is not pending", ErrInvalidTransition, questionID)
	}

	swapped, err := g.machine.Transition(ctx, sessionID, StatusWaitingForUser, StatusProcessing,
		func(s *Session) { s.WaitingSince = nil })
	if err != nil {
		return nil, err
	}
	if !swapped {
		// Expected race: the timeout monitor expired the session first
		return session, fmt.Errorf("%w: session left waiting state", ErrInvalidTransition)
	}

	if err := g.store.ResolveQuestion(ctx, question.ID, QuestionAnswered, text); err != nil {
		return nil, err
	}

	entry := &Entry{
		SessionID:      sessionID,
		Role:           RoleUser,
		Kind:           KindUserReply,
		Content:        text,
		ParentSequence: question.EntrySequence,
	}
	if _, err := g.log.Append(ctx, entry); err != nil {
		return nil, err
	}
	g.events.PublishEntry(ctx, entry)

	g.logger.Info("Clarifying question answered",
		"session_id", sessionID,
		"question_id", questionID,
	)

	return g.store.GetSession(ctx, sessionID)
}

// RequestPause moves a running session into WaitingForUser so the user
// can add input. No clarifying question is created for an explicit
// pause.
func (g *InterventionGate) RequestPause(ctx context.Context, sessionID string) (*Session, error) {
	session, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	now := time.Now()
	mutate := func(s *Session) { s.WaitingSince = &now }
	for _, from := range []SessionStatus{StatusActive, StatusProcessing} {
		swapped, terr := g.machine.Transition(ctx, sessionID, from, StatusWaitingForUser, mutate)
		if terr != nil {
			return nil, terr
		}
		if swapped {
			return g.store.GetSession(ctx, sessionID)
		}
	}
	return session, fmt.Errorf("%w: pause while %s", ErrInvalidTransition, session.Status)
}
