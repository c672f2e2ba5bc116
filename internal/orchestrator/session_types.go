package orchestrator

import (
	"time"
)

// SessionStatus represents the lifecycle status of a prompt generation session
type SessionStatus string

const (
	// StatusActive indicates the session is ready for the next dialogue cycle
	StatusActive SessionStatus = "active"
	// StatusProcessing indicates an agent turn is in flight
	StatusProcessing SessionStatus = "processing"
	// StatusWaitingForUser indicates the session is paused for user input
	StatusWaitingForUser SessionStatus = "waiting_for_user"
	// StatusCompleted indicates the reviewer approved and a final prompt exists
	StatusCompleted SessionStatus = "completed"
	// StatusFailed indicates the session ended without an approved prompt
	StatusFailed SessionStatus = "failed"
	// StatusTimedOut indicates the user input deadline expired
	StatusTimedOut SessionStatus = "timed_out"
)

// Terminal reports whether the status is final. Terminal sessions are
// immutable; every status mutation is gated on a compare-and-swap that
// can only start from a non-terminal status.
func (s SessionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusTimedOut
}

// FailureReason is the machine-readable reason attached to a terminal
// Failed or TimedOut session.
type FailureReason string

const (
	// ReasonAgentError indicates an agent call failed irrecoverably
	ReasonAgentError FailureReason = "agent_error"
	// ReasonIterationLimit indicates maxIterations cycles ran without approval
	ReasonIterationLimit FailureReason = "iteration_limit_exceeded"
	// ReasonInterventionLimit indicates the user exceeded maxInterventions
	ReasonInterventionLimit FailureReason = "intervention_limit_exceeded"
	// ReasonResponseTimeout indicates the WaitingForUser deadline passed
	ReasonResponseTimeout FailureReason = "response_timeout"
	// ReasonUserCancelled indicates the user cancelled the session
	ReasonUserCancelled FailureReason = "user_cancelled"
)

// Session represents one prompt generation session
type Session struct {
	ID    string
	Input string

	Status SessionStatus
	// Reason is set only when Status is Failed or TimedOut
	Reason FailureReason
	// StatusDetail carries optional human-readable detail for the last transition
	StatusDetail string

	IterationCount    int
	MaxIterations     int
	InterventionCount int
	MaxInterventions  int

	// WaitingSince is set on entry to WaitingForUser and cleared on exit.
	// The timeout monitor compares it against the response window.
	WaitingSince *time.Time

	// FinalOutput is non-empty iff Status is Completed
	FinalOutput string
	// LastFeedback is the most recent reviewer feedback, kept so a failed
	// session can still explain itself
	LastFeedback string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// QuestionStatus is the lifecycle status of a clarifying question
type QuestionStatus string

const (
	// QuestionPending indicates the question is awaiting an answer
	QuestionPending QuestionStatus = "pending"
	// QuestionAnswered indicates the user answered within the deadline
	QuestionAnswered QuestionStatus = "answered"
	// QuestionExpired indicates the deadline passed before an answer arrived
	QuestionExpired QuestionStatus = "expired"
)

// PendingQuestion is a clarifying question blocking cycle progress.
// At most one pending question exists per session; a pending question
// implies the session is WaitingForUser.
type PendingQuestion struct {
	ID        string
	SessionID string
	Text      string
	AskedAt   time.Time
	Deadline  time.Time
	Status    QuestionStatus
	Answer    string
	// EntrySequence is the sequence number of the clarifying_question
	// entry in the message log, used as the parent of the user_reply
	EntrySequence uint64
}
