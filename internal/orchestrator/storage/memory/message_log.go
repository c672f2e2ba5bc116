package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/promptloom/promptloom/internal/orchestrator"
)

var errEntryNil = errors.New("entry cannot be nil")

// MessageLog implements orchestrator.MessageLog using per-session slices
type MessageLog struct {
	mu      sync.RWMutex
	entries map[string][]*orchestrator.Entry
	lastSeq map[string]uint64
}

// NewMessageLog creates a new in-memory message log
func NewMessageLog() *MessageLog {
	return &MessageLog{
		entries: make(map[string][]*orchestrator.Entry),
		lastSeq: make(map[string]uint64),
	}
}

// Append stores the entry and assigns the next sequence number for its
// session. Sequences are monotonic and gap-free per session.
func (l *MessageLog) Append(ctx context.Context, entry *orchestrator.Entry) (uint64, error) {
	if entry == nil {
		return 0, errEntryNil
	}
	if entry.SessionID == "" {
		return 0, errSessionIDEmpty
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seq := l.lastSeq[entry.SessionID] + 1
	l.lastSeq[entry.SessionID] = seq

	entryCopy := *entry
	entryCopy.Sequence = seq
	if entryCopy.CreatedAt.IsZero() {
		entryCopy.CreatedAt = time.Now()
	}
	l.entries[entry.SessionID] = append(l.entries[entry.SessionID], &entryCopy)

	entry.Sequence = seq
	entry.CreatedAt = entryCopy.CreatedAt

	return seq, nil
}

// EntriesFrom returns entries with Sequence >= fromSeq in sequence order
func (l *MessageLog) EntriesFrom(ctx context.Context, sessionID string, fromSeq uint64) ([]*orchestrator.Entry, error) {
	if sessionID == "" {
		return nil, errSessionIDEmpty
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.entries[sessionID]
	result := make([]*orchestrator.Entry, 0, len(all))
	for _, entry := range all {
		if entry.Sequence >= fromSeq {
			entryCopy := *entry
			result = append(result, &entryCopy)
		}
	}

	return result, nil
}

// LastSequence returns the highest assigned sequence for the session
func (l *MessageLog) LastSequence(ctx context.Context, sessionID string) (uint64, error) {
	if sessionID == "" {
		return 0, errSessionIDEmpty
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.lastSeq[sessionID], nil
}

// DeleteEntries removes a session's log. Used by retention cleanup.
func (l *MessageLog) DeleteEntries(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errSessionIDEmpty
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.entries, sessionID)
	delete(l.lastSeq, sessionID)

	return nil
}
