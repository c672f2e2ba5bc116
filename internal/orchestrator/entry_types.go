package orchestrator

import (
	"time"
)

// Role identifies a dialogue participant
type Role string

const (
	// RoleProduct is the product-owner role that turns the goal into requirements
	RoleProduct Role = "product"
	// RoleTechnical is the technical role that turns requirements into a solution
	RoleTechnical Role = "technical"
	// RoleReview is the reviewer role that approves or rejects the pair
	RoleReview Role = "review"
	// RoleUser marks entries the user contributed mid-session
	RoleUser Role = "user"
)

// EntryKind classifies a message log entry
type EntryKind string

const (
	// KindRequirement is the product role's requirement statement
	KindRequirement EntryKind = "requirement"
	// KindSolution is the technical role's proposed solution
	KindSolution EntryKind = "solution"
	// KindReviewFeedback is a rejection (or ambiguous verdict) with feedback
	KindReviewFeedback EntryKind = "review_feedback"
	// KindApproval is the reviewer's approval
	KindApproval EntryKind = "approval"
	// KindClarifyingQuestion is a question the product role asked the user
	KindClarifyingQuestion EntryKind = "clarifying_question"
	// KindUserReply is the user's answer to a clarifying question
	KindUserReply EntryKind = "user_reply"
	// KindSupplementaryInput is extra user input accepted mid-session
	KindSupplementaryInput EntryKind = "supplementary_input"
)

// Entry is one immutable record in a session's message log. Sequence
// numbers are assigned atomically at append time and are strictly
// increasing per session with no gaps.
type Entry struct {
	SessionID string    `json:"session_id"`
	Sequence  uint64    `json:"sequence_number"`
	Role      Role      `json:"role"`
	Kind      EntryKind `json:"kind"`
	Content   string    `json:"content"`
	// ParentSequence loosely threads replies to the entry they respond
	// to; zero means no parent
	ParentSequence uint64 `json:"parent_sequence,omitempty"`
	// Ambiguous marks review feedback whose verdict could not be
	// classified and was conservatively treated as a rejection
	Ambiguous bool      `json:"ambiguous,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
