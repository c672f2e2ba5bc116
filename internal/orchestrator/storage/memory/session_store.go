package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/promptloom/promptloom/internal/orchestrator"
)

var (
	errSessionNil      = errors.New("session cannot be nil")
	errSessionIDEmpty  = errors.New("session ID cannot be empty")
	errSessionExists   = errors.New("session already exists")
	errQuestionNil     = errors.New("question cannot be nil")
	errQuestionIDEmpty = errors.New("question ID cannot be empty")
	errQuestionPending = errors.New("session already has a pending question")
)

// SessionStore implements orchestrator.SessionStore using in-memory maps
type SessionStore struct {
	mu        sync.RWMutex
	sessions  map[string]*orchestrator.Session
	questions map[string]*orchestrator.PendingQuestion
	// pending indexes the pending question ID per session
	pending map[string]string
}

// NewSessionStore creates a new in-memory session store
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:  make(map[string]*orchestrator.Session),
		questions: make(map[string]*orchestrator.PendingQuestion),
		pending:   make(map[string]string),
	}
}

// CreateSession adds a new session record
func (s *SessionStore) CreateSession(ctx context.Context, session *orchestrator.Session) error {
	if session == nil {
		return errSessionNil
	}
	if session.ID == "" {
		return errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return errSessionExists
	}

	// Store a copy to prevent external modifications
	sessionCopy := copySession(session)
	if sessionCopy.CreatedAt.IsZero() {
		sessionCopy.CreatedAt = time.Now()
	}
	if sessionCopy.UpdatedAt.IsZero() {
		sessionCopy.UpdatedAt = sessionCopy.CreatedAt
	}

	s.sessions[session.ID] = sessionCopy

	return nil
}

// GetSession retrieves a session by ID, nil if not found
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*orchestrator.Session, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, nil
	}

	return copySession(session), nil
}

// ListSessions retrieves all sessions
func (s *SessionStore) ListSessions(ctx context.Context) ([]*orchestrator.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*orchestrator.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		result = append(result, copySession(session))
	}

	return result, nil
}

// CompareAndSwapStatus atomically moves the session from expected to
// next, applying mutate while the lock is held
func (s *SessionStore) CompareAndSwapStatus(
	ctx context.Context,
	sessionID string,
	expected, next orchestrator.SessionStatus,
	mutate func(*orchestrator.Session),
) (bool, error) {
	if sessionID == "" {
		return false, errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return false, orchestrator.ErrSessionNotFound
	}
	if session.Status != expected {
		return false, nil
	}

	session.Status = next
	if mutate != nil {
		mutate(session)
	}
	session.UpdatedAt = time.Now()

	return true, nil
}

// DeleteSession removes a session and its questions. Idempotent.
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	if questionID, ok := s.pending[sessionID]; ok {
		delete(s.questions, questionID)
		delete(s.pending, sessionID)
	}
	for id, question := range s.questions {
		if question.SessionID == sessionID {
			delete(s.questions, id)
		}
	}

	return nil
}

// CreateQuestion records a clarifying question. A session can hold at
// most one pending question at a time.
func (s *SessionStore) CreateQuestion(ctx context.Context, question *orchestrator.PendingQuestion) error {
	if question == nil {
		return errQuestionNil
	}
	if question.ID == "" {
		return errQuestionIDEmpty
	}
	if question.SessionID == "" {
		return errSessionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[question.SessionID]; !exists {
		return orchestrator.ErrSessionNotFound
	}
	if _, exists := s.pending[question.SessionID]; exists {
		return errQuestionPending
	}

	questionCopy := *question
	if questionCopy.Status == "" {
		questionCopy.Status = orchestrator.QuestionPending
	}
	s.questions[question.ID] = &questionCopy
	s.pending[question.SessionID] = question.ID

	return nil
}

// PendingQuestionFor returns the session's pending question, nil if none
func (s *SessionStore) PendingQuestionFor(ctx context.Context, sessionID string) (*orchestrator.PendingQuestion, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	questionID, ok := s.pending[sessionID]
	if !ok {
		return nil, nil
	}
	question := s.questions[questionID]

	questionCopy := *question
	return &questionCopy, nil
}

// ResolveQuestion marks a question answered or expired. Resolving a
// question that is no longer pending is a no-op.
func (s *SessionStore) ResolveQuestion(ctx context.Context, questionID string, status orchestrator.QuestionStatus, answer string) error {
	if questionID == "" {
		return errQuestionIDEmpty
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	question, exists := s.questions[questionID]
	if !exists || question.Status != orchestrator.QuestionPending {
		return nil
	}

	question.Status = status
	question.Answer = answer
	delete(s.pending, question.SessionID)

	return nil
}

func copySession(session *orchestrator.Session) *orchestrator.Session {
	sessionCopy := *session
	if session.WaitingSince != nil {
		t := *session.WaitingSince
		sessionCopy.WaitingSince = &t
	}
	if session.CompletedAt != nil {
		t := *session.CompletedAt
		sessionCopy.CompletedAt = &t
	}
	return &sessionCopy
}
