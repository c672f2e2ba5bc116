package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSchedulerBusy is returned when a cycle is already in flight for the
// session. Within one process the guard enforces the single-writer
// invariant: no two agent calls for the same session run concurrently.
var ErrSchedulerBusy = errors.New("turn already in flight for session")

// errCycleSuperseded signals that the session left Processing (terminal
// status, or a user pause) while a cycle was in flight; the late result
// is discarded and the cycle stops cleanly.
var errCycleSuperseded = errors.New("session is no longer processing")

type cycleOutcome int

const (
	// cycleContinue means the reviewer rejected and another cycle follows
	cycleContinue cycleOutcome = iota
	// cycleCompleted means the reviewer approved
	cycleCompleted
	// cycleFailed means the session hit a cap or lost its status race
	cycleFailed
	// cycleWaiting means the session parked in WaitingForUser
	cycleWaiting
)

// TurnScheduler drives the product -> technical -> review dialogue for a
// session. It is stateless apart from the in-flight guard: progress is
// re-derived from the session record and message log, so a restarted
// process picks up where the log left off.
type TurnScheduler struct {
	store     SessionStore
	log       MessageLog
	caller    AgentCaller
	machine   *StateMachine
	events    *Broadcaster
	assembler *Assembler
	logger    *slog.Logger

	// ResponseWindow is how long a clarifying question waits for an answer
	ResponseWindow time.Duration

	inflight sync.Map
}

// NewTurnScheduler creates a scheduler
func NewTurnScheduler(
	store SessionStore,
	log MessageLog,
	caller AgentCaller,
	machine *StateMachine,
	events *Broadcaster,
	assembler *Assembler,
	responseWindow time.Duration,
	logger *slog.Logger,
) *TurnScheduler {
	return &TurnScheduler{
		store:          store,
		log:            log,
		caller:         caller,
		machine:        machine,
		events:         events,
		assembler:      assembler,
		ResponseWindow: responseWindow,
		logger:         logger,
	}
}

// Run advances the session until it completes, fails, or parks waiting
// for user input. It is safe to call whenever the session is Active, or
// Processing after an intervention resumed it; any other status returns
// immediately. Only one Run per session may be in flight.
func (ts *TurnScheduler) Run(ctx context.Context, sessionID string) error {
	if _, loaded := ts.inflight.LoadOrStore(sessionID, struct{}{}); loaded {
		return ErrSchedulerBusy
	}
	defer ts.inflight.Delete(sessionID)

	for {
		session, err := ts.store.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return ErrSessionNotFound
		}

		switch {
		case session.Status.Terminal():
			return nil
		case session.Status == StatusWaitingForUser:
			return nil
		case session.Status == StatusActive:
			swapped, terr := ts.machine.Transition(ctx, sessionID, StatusActive, StatusProcessing, nil)
			if terr != nil {
				return terr
			}
			if !swapped {
				// Lost to a concurrent cancel or pause; reload and re-examine
				continue
			}
		case session.Status == StatusProcessing:
			// Resumed by the intervention gate
		}

		outcome, err := ts.runCycle(ctx, session)
		if err != nil {
			if errors.Is(err, errCycleSuperseded) {
				// The session left Processing under us. Re-read rather
				// than return: an intervention may already have resumed
				// it, and its Run was turned away by the guard we hold.
				continue
			}
			ts.logger.Error("Cycle failed with agent error",
				"session_id", sessionID,
				"error", err,
			)
			if _, ferr := ts.machine.Fail(ctx, sessionID, ReasonAgentError, err.Error()); ferr != nil {
				return ferr
			}
			return err
		}

		switch outcome {
		case cycleCompleted, cycleFailed, cycleWaiting:
			return nil
		case cycleContinue:
		}
	}
}

// runCycle performs one product -> technical -> review pass
func (ts *TurnScheduler) runCycle(ctx context.Context, session *Session) (cycleOutcome, error) {
	sessionID := session.ID

	// Product turn: regenerate the requirement from the goal plus all
	// accumulated user input and reviewer feedback.
	output, err := ts.callRole(ctx, session, RoleProduct)
	if err != nil {
		return cycleFailed, fmt.Errorf("product turn: %w", err)
	}

	if question, ok := ParseClarifyingQuestion(output); ok {
		return ts.parkWithQuestion(ctx, session, question)
	}

	reqEntry, err := ts.append(ctx, &Entry{
		SessionID: sessionID,
		Role:      RoleProduct,
		Kind:      KindRequirement,
		Content:   output,
	})
	if err != nil {
		return cycleFailed, err
	}

	// Technical turn
	output, err = ts.callRole(ctx, session, RoleTechnical)
	if err != nil {
		return cycleFailed, fmt.Errorf("technical turn: %w", err)
	}
	solEntry, err := ts.append(ctx, &Entry{
		SessionID:      sessionID,
		Role:           RoleTechnical,
		Kind:           KindSolution,
		Content:        output,
		ParentSequence: reqEntry.Sequence,
	})
	if err != nil {
		return cycleFailed, err
	}

	// Review turn
	output, err = ts.callRole(ctx, session, RoleReview)
	if err != nil {
		return cycleFailed, fmt.Errorf("review turn: %w", err)
	}

	verdict, feedback := ParseReviewVerdict(output)
	if verdict == VerdictApproved {
		final := ExtractFinalPrompt(output, reqEntry.Content, solEntry.Content)
		if _, err = ts.append(ctx, &Entry{
			SessionID:      sessionID,
			Role:           RoleReview,
			Kind:           KindApproval,
			Content:        output,
			ParentSequence: solEntry.Sequence,
		}); err != nil {
			return cycleFailed, err
		}
		now := time.Now()
		swapped, terr := ts.machine.Transition(ctx, sessionID, StatusProcessing, StatusCompleted,
			func(s *Session) {
				s.IterationCount++
				s.FinalOutput = final
				s.CompletedAt = &now
			})
		if terr != nil {
			return cycleFailed, terr
		}
		if !swapped {
			return cycleFailed, nil
		}
		ts.logger.Info("Session completed",
			"session_id", sessionID,
			"iterations", session.IterationCount+1,
		)
		return cycleCompleted, nil
	}

	if verdict == VerdictAmbiguous {
		ts.logger.Warn("Ambiguous review verdict treated as rejection",
			"session_id", sessionID,
		)
	}

	if _, err = ts.append(ctx, &Entry{
		SessionID:      sessionID,
		Role:           RoleReview,
		Kind:           KindReviewFeedback,
		Content:        feedback,
		ParentSequence: solEntry.Sequence,
		Ambiguous:      verdict == VerdictAmbiguous,
	}); err != nil {
		return cycleFailed, err
	}

	next := session.IterationCount + 1
	if next >= session.MaxIterations {
		_, terr := ts.machine.Transition(ctx, sessionID, StatusProcessing, StatusFailed,
			func(s *Session) {
				s.IterationCount++
				s.Reason = ReasonIterationLimit
				s.LastFeedback = feedback
			})
		if terr != nil {
			return cycleFailed, terr
		}
		ts.logger.Info("Session failed on iteration limit",
			"session_id", sessionID,
			"iterations", next,
		)
		return cycleFailed, nil
	}

	swapped, terr := ts.machine.Transition(ctx, sessionID, StatusProcessing, StatusActive,
		func(s *Session) {
			s.IterationCount++
			s.LastFeedback = feedback
		})
	if terr != nil {
		return cycleFailed, terr
	}
	if !swapped {
		// Cancelled or paused while the review ran; the loop re-examines
		return cycleFailed, nil
	}
	return cycleContinue, nil
}

// parkWithQuestion records the clarifying question and moves the session
// to WaitingForUser
func (ts *TurnScheduler) parkWithQuestion(ctx context.Context, session *Session, question string) (cycleOutcome, error) {
	entry, err := ts.append(ctx, &Entry{
		SessionID: session.ID,
		Role:      RoleProduct,
		Kind:      KindClarifyingQuestion,
		Content:   question,
	})
	if err != nil {
		return cycleFailed, err
	}

	now := time.Now()
	pq := &PendingQuestion{
		ID:            uuid.NewString(),
		SessionID:     session.ID,
		Text:          question,
		AskedAt:       now,
		Deadline:      now.Add(ts.ResponseWindow),
		Status:        QuestionPending,
		EntrySequence: entry.Sequence,
	}
	if err := ts.store.CreateQuestion(ctx, pq); err != nil {
		return cycleFailed, err
	}

	swapped, err := ts.machine.Transition(ctx, session.ID, StatusProcessing, StatusWaitingForUser,
		func(s *Session) {
			s.WaitingSince = &now
		})
	if err != nil {
		return cycleFailed, err
	}
	if !swapped {
		// The session went terminal under us; retire the question
		_ = ts.store.ResolveQuestion(ctx, pq.ID, QuestionExpired, "")
		return cycleFailed, nil
	}
	ts.logger.Info("Session waiting on clarifying question",
		"session_id", session.ID,
		"question_id", pq.ID,
	)
	return cycleWaiting, nil
}

// callRole assembles the context for a role and invokes the agent caller
func (ts *TurnScheduler) callRole(ctx context.Context, session *Session, role Role) (string, error) {
	entries, err := ts.log.EntriesFrom(ctx, session.ID, 0)
	if err != nil {
		return "", err
	}
	payload := ts.assembler.BuildContext(role, session.Input, entries)
	return ts.caller.Call(ctx, role, payload)
}

// append writes an entry after re-checking that the session is still
// Processing. The check discards results of agent calls that outlasted
// a concurrent cancel, timeout, or user pause.
func (ts *TurnScheduler) append(ctx context.Context, entry *Entry) (*Entry, error) {
	session, err := ts.store.GetSession(ctx, entry.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status != StatusProcessing {
		return nil, errCycleSuperseded
	}

	if _, err := ts.log.Append(ctx, entry); err != nil {
		return nil, err
	}
	ts.events.PublishEntry(ctx, entry)
	return entry, nil
}
