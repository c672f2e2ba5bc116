package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyInput is returned when a session is created without a goal
var ErrEmptyInput = errors.New("session input cannot be empty")

// SessionDefaults carries the caps applied when a create request leaves
// them unset
type SessionDefaults struct {
	MaxIterations    int
	MaxInterventions int
}

// Service is the session control surface. Every method is safe to call
// concurrently with an in-flight scheduler cycle; correctness rests on
// the compare-and-swap discipline in the state machine, not on locks
// held here.
type Service struct {
	store     SessionStore
	log       MessageLog
	machine   *StateMachine
	scheduler *TurnScheduler
	gate      *InterventionGate
	events    *Broadcaster
	defaults  SessionDefaults
	logger    *slog.Logger
}

// NewService creates the control surface over the core components
func NewService(
	store SessionStore,
	log MessageLog,
	machine *StateMachine,
	scheduler *TurnScheduler,
	gate *InterventionGate,
	events *Broadcaster,
	defaults SessionDefaults,
	logger *slog.Logger,
) *Service {
	return &Service{
		store:     store,
		log:       log,
		machine:   machine,
		scheduler: scheduler,
		gate:      gate,
		events:    events,
		defaults:  defaults,
		logger:    logger,
	}
}

// CreateSession records a new session and starts its first dialogue
// cycle in the background
func (svc *Service) CreateSession(ctx context.Context, input string, maxIterations, maxInterventions int) (*Session, error) {
	if input == "" {
		return nil, ErrEmptyInput
	}
	if maxIterations <= 0 {
		maxIterations = svc.defaults.MaxIterations
	}
	if maxInterventions <= 0 {
		maxInterventions = svc.defaults.MaxInterventions
	}

	now := time.Now()
	session := &Session{
		ID:               uuid.NewString(),
		Input:            input,
		Status:           StatusActive,
		MaxIterations:    maxIterations,
		MaxInterventions: maxInterventions,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := svc.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	svc.logger.Info("Session created",
		"session_id", session.ID,
		"max_iterations", maxIterations,
		"max_interventions", maxInterventions,
	)

	svc.resume(ctx, session.ID)
	return session, nil
}

// GetSession returns the session record
func (svc *Service) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := svc.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions returns all known sessions
func (svc *Service) ListSessions(ctx context.Context) ([]*Session, error) {
	return svc.store.ListSessions(ctx)
}

// PendingQuestion returns the session's pending clarifying question, or nil
func (svc *Service) PendingQuestion(ctx context.Context, sessionID string) (*PendingQuestion, error) {
	return svc.store.PendingQuestionFor(ctx, sessionID)
}

// History returns the session's log entries from fromSeq onward
func (svc *Service) History(ctx context.Context, sessionID string, fromSeq uint64) ([]*Entry, error) {
	session, err := svc.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return svc.log.EntriesFrom(ctx, sessionID, fromSeq)
}

// Subscribe returns an ordered event stream for the session with replay
// from fromSeq
func (svc *Service) Subscribe(ctx context.Context, sessionID string, fromSeq uint64) (*Subscription, error) {
	return svc.events.Subscribe(ctx, sessionID, fromSeq)
}

// SubmitUserInput accepts supplementary input through the gate and
// resumes the scheduler when the session went back to Processing
func (svc *Service) SubmitUserInput(ctx context.Context, sessionID, text string) (*Session, error) {
	session, err := svc.gate.SubmitUserInput(ctx, sessionID, text)
	if err != nil {
		return session, err
	}
	if session != nil && session.Status == StatusProcessing {
		svc.resume(ctx, sessionID)
	}
	return session, nil
}

// AnswerQuestion answers the pending clarifying question through the
// gate and resumes the scheduler from the product step
func (svc *Service) AnswerQuestion(ctx context.Context, sessionID, questionID, text string) (*Session, error) {
	session, err := svc.gate.AnswerQuestion(ctx, sessionID, questionID, text)
	if err != nil {
		return session, err
	}
	if session != nil && session.Status == StatusProcessing {
		svc.resume(ctx, sessionID)
	}
	return session, nil
}

// RequestPause parks a running session in WaitingForUser
func (svc *Service) RequestPause(ctx context.Context, sessionID string) (*Session, error) {
	return svc.gate.RequestPause(ctx, sessionID)
}

// CancelSession fails the session with reason user_cancelled. An
// in-flight agent call is not aborted; its late result is discarded by
// the scheduler's pre-append status check.
func (svc *Service) CancelSession(ctx context.Context, sessionID string) (*Session, error) {
	session, err := svc.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	cancelled, err := svc.machine.Fail(ctx, sessionID, ReasonUserCancelled, "cancelled by user")
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return session, fmt.Errorf("%w: cancel while %s", ErrInvalidTransition, session.Status)
	}
	return svc.store.GetSession(ctx, sessionID)
}

// resume runs the scheduler in the background, detached from the
// caller's request lifetime. A busy guard is not final: the cycle
// holding it may be winding down after losing a status race, so keep
// retrying while the session still needs a driver.
func (svc *Service) resume(ctx context.Context, sessionID string) {
	runCtx := context.WithoutCancel(ctx)
	go func() {
		for {
			err := svc.scheduler.Run(runCtx, sessionID)
			if errors.Is(err, ErrSchedulerBusy) {
				time.Sleep(5 * time.Millisecond)
				session, gerr := svc.store.GetSession(runCtx, sessionID)
				if gerr != nil || session == nil {
					return
				}
				if session.Status == StatusActive || session.Status == StatusProcessing {
					continue
				}
				return
			}
			if err != nil {
				svc.logger.Error("Scheduler run ended with error",
					"session_id", sessionID,
					"error", err,
				)
			}
			return
		}
	}()
}
