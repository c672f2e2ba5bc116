package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testStore is a minimal in-memory SessionStore for unit tests
type testStore struct {
	mu        sync.Mutex
	sessions  map[string]*Session
	questions map[string]*PendingQuestion
	pending   map[string]string
}

func newTestStore() *testStore {
	return &testStore{
		sessions:  make(map[string]*Session),
		questions: make(map[string]*PendingQuestion),
		pending:   make(map[string]string),
	}
}

func (s *testStore) CreateSession(ctx context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return errors.New("session already exists")
	}
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *testStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *session
	return &cp, nil
}

func (s *testStore) ListSessions(ctx context.Context) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		cp := *session
		result = append(result, &cp)
	}
	return result, nil
}

func (s *testStore) CompareAndSwapStatus(
	ctx context.Context,
	sessionID string,
	expected, next SessionStatus,
	mutate func(*Session),
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return false, ErrSessionNotFound
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

func (s *testStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	if qid, ok := s.pending[sessionID]; ok {
		delete(s.questions, qid)
		delete(s.pending, sessionID)
	}
	return nil
}

func (s *testStore) CreateQuestion(ctx context.Context, question *PendingQuestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.pending[question.SessionID]; exists {
		return errors.New("question already pending")
	}
	cp := *question
	s.questions[question.ID] = &cp
	s.pending[question.SessionID] = question.ID
	return nil
}

func (s *testStore) PendingQuestionFor(ctx context.Context, sessionID string) (*PendingQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qid, ok := s.pending[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *s.questions[qid]
	return &cp, nil
}

func (s *testStore) ResolveQuestion(ctx context.Context, questionID string, status QuestionStatus, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	question, ok := s.questions[questionID]
	if !ok || question.Status != QuestionPending {
		return nil
	}
	question.Status = status
	question.Answer = answer
	delete(s.pending, question.SessionID)
	return nil
}

// testLog is a minimal in-memory MessageLog for unit tests
type testLog struct {
	mu      sync.Mutex
	entries map[string][]*Entry
	lastSeq map[string]uint64
}

func newTestLog() *testLog {
	return &testLog{
		entries: make(map[string][]*Entry),
		lastSeq: make(map[string]uint64),
	}
}

func (l *testLog) Append(ctx context.Context, entry *Entry) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	seq := l.lastSeq[entry.SessionID] + 1
	l.lastSeq[entry.SessionID] = seq
	entry.Sequence = seq
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	cp := *entry
	l.entries[entry.SessionID] = append(l.entries[entry.SessionID], &cp)
	return seq, nil
}

func (l *testLog) EntriesFrom(ctx context.Context, sessionID string, fromSeq uint64) ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	result := make([]*Entry, 0)
	for _, entry := range l.entries[sessionID] {
		if entry.Sequence >= fromSeq {
			cp := *entry
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (l *testLog) LastSequence(ctx context.Context, sessionID string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq[sessionID], nil
}

func (l *testLog) DeleteEntries(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, sessionID)
	delete(l.lastSeq, sessionID)
	return nil
}

// scriptedCaller returns canned responses per role, consuming each
// queue front to back. It also tracks concurrent calls so tests can
// assert the single-writer invariant.
type scriptedCaller struct {
	mu        sync.Mutex
	responses map[Role][]string
	errs      map[Role]error
	calls     []Role

	inflight    int
	maxInflight int
}

func newScriptedCaller() *scriptedCaller {
	return &scriptedCaller{
		responses: make(map[Role][]string),
		errs:      make(map[Role]error),
	}
}

func (c *scriptedCaller) script(role Role, responses ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses[role] = append(c.responses[role], responses...)
}

func (c *scriptedCaller) failRole(role Role, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs[role] = err
}

func (c *scriptedCaller) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func (c *scriptedCaller) Call(ctx context.Context, role Role, payload *ContextPayload) (string, error) {
	c.mu.Lock()
	c.inflight++
	if c.inflight > c.maxInflight {
		c.maxInflight = c.inflight
	}
	c.calls = append(c.calls, role)
	err := c.errs[role]
	var resp string
	if err == nil {
		queue := c.responses[role]
		if len(queue) == 0 {
			err = errors.New("no scripted response for role " + string(role))
		} else {
			resp = queue[0]
			c.responses[role] = queue[1:]
		}
	}
	c.mu.Unlock()

	// Yield so racing triggers get a chance to interleave
	time.Sleep(time.Millisecond)

	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
	return resp, err
}

// harness wires the full core stack over the test store and log
type harness struct {
	store     *testStore
	log       *testLog
	caller    *scriptedCaller
	events    *Broadcaster
	machine   *StateMachine
	assembler *Assembler
	scheduler *TurnScheduler
	gate      *InterventionGate
	svc       *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := testLogger()
	store := newTestStore()
	log := newTestLog()
	caller := newScriptedCaller()
	events := NewBroadcaster(log, 64, logger)
	machine := NewStateMachine(store, events, logger)
	assembler := NewAssembler(0)
	scheduler := NewTurnScheduler(store, log, caller, machine, events, assembler, 50*time.Millisecond, logger)
	gate := NewInterventionGate(store, log, machine, events, logger)
	svc := NewService(store, log, machine, scheduler, gate, events,
		SessionDefaults{MaxIterations: 5, MaxInterventions: 3}, logger)
	return &harness{
		store:     store,
		log:       log,
		caller:    caller,
		events:    events,
		machine:   machine,
		assembler: assembler,
		scheduler: scheduler,
		gate:      gate,
		svc:       svc,
	}
}

// newSession seeds an Active session directly in the store
func (h *harness) newSession(t *testing.T, id, goal string, maxIterations, maxInterventions int) *Session {
	t.Helper()
	now := time.Now()
	session := &Session{
		ID:               id,
		Input:            goal,
		Status:           StatusActive,
		MaxIterations:    maxIterations,
		MaxInterventions: maxInterventions,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := h.store.CreateSession(context.Background(), session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return session
}

func (h *harness) mustGet(t *testing.T, id string) *Session {
	t.Helper()
	session, err := h.store.GetSession(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session == nil {
		t.Fatalf("session %s not found", id)
	}
	return session
}

// waitForStatus polls until the session reaches the wanted status
func (h *harness) waitForStatus(t *testing.T, id string, want SessionStatus) *Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		session := h.mustGet(t, id)
		if session.Status == want {
			return session
		}
		time.Sleep(5 * time.Millisecond)
	}
	session := h.mustGet(t, id)
	t.Fatalf("session %s never reached %s, stuck at %s", id, want, session.Status)
	return nil
}

func entriesOf(t *testing.T, log MessageLog, sessionID string) []*Entry {
	t.Helper()
	entries, err := log.EntriesFrom(context.Background(), sessionID, 0)
	if err != nil {
		t.Fatalf("EntriesFrom failed: %v", err)
	}
	return entries
}

func countKind(entries []*Entry, kind EntryKind) int {
	n := 0
	for _, e := range entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}
