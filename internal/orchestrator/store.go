package orchestrator

import (
	"context"
	"errors"
)

var (
	// ErrSessionNotFound is returned when a session ID does not exist
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when an event does not apply to
	// the session's current status. It is a local rejection, never fatal
	// for the session.
	ErrInvalidTransition = errors.New("event does not apply to current session status")
	// ErrInterventionLimit is returned when a supplementary input is
	// attempted after the intervention cap was already reached
	ErrInterventionLimit = errors.New("intervention limit reached")
)

// SessionStore defines the interface for session record storage.
// Defined here rather than in the storage package to avoid import
// cycles; storage backends implement this interface directly.
//
// CompareAndSwapStatus is the single mutation primitive: the update is
// applied only if the session's current status equals expected, which
// serializes concurrent transition attempts without locks held by
// callers.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	// CompareAndSwapStatus atomically moves the session from expected to
	// next and applies mutate to the record while the swap is held.
	// Returns (false, nil) when the current status differs from expected.
	CompareAndSwapStatus(
		ctx context.Context,
		sessionID string,
		expected, next SessionStatus,
		mutate func(*Session),
	) (bool, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// CreateQuestion records a clarifying question. Implementations must
	// reject a second pending question for the same session.
	CreateQuestion(ctx context.Context, question *PendingQuestion) error
	// PendingQuestionFor returns the session's pending question, or nil
	PendingQuestionFor(ctx context.Context, sessionID string) (*PendingQuestion, error)
	// ResolveQuestion marks a question answered or expired
	ResolveQuestion(ctx context.Context, questionID string, status QuestionStatus, answer string) error
}

// MessageLog defines the interface for the append-only per-session
// dialogue log. Append assigns the entry's sequence number atomically;
// it is the only mutual-exclusion point per session.
type MessageLog interface {
	// Append stores the entry, assigning entry.Sequence and returning it
	Append(ctx context.Context, entry *Entry) (uint64, error)
	// EntriesFrom returns entries with Sequence >= fromSeq in sequence
	// order; fromSeq zero returns the full log
	EntriesFrom(ctx context.Context, sessionID string, fromSeq uint64) ([]*Entry, error)
	// LastSequence returns the highest assigned sequence, zero if none
	LastSequence(ctx context.Context, sessionID string) (uint64, error)
}
