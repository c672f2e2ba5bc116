package orchestrator

import (
	"context"
	"log/slog"
	"sync"
)

// EventType discriminates broadcast events
type EventType string

const (
	// EventEntry signals a message log append
	EventEntry EventType = "entry"
	// EventStatusChange signals a session status transition
	EventStatusChange EventType = "status_change"
)

// Event is one item on a session's ordered event stream. Status change
// events carry the sequence number of the latest log entry so that
// delivery stays non-decreasing per session.
type Event struct {
	SessionID string        `json:"session_id"`
	Sequence  uint64        `json:"sequence_number"`
	Type      EventType     `json:"type"`
	Entry     *Entry        `json:"entry,omitempty"`
	Status    SessionStatus `json:"status,omitempty"`
	Reason    FailureReason `json:"reason,omitempty"`
}

// Subscription is a live, ordered event stream for one session. The
// channel is closed when the subscriber falls behind and is dropped;
// the consumer must resubscribe with replay rather than lose events.
type Subscription struct {
	C <-chan Event

	b         *Broadcaster
	sessionID string
	id        uint64
}

// Close unregisters the subscription and closes its channel
func (s *Subscription) Close() {
	s.b.unsubscribe(s.sessionID, s.id)
}

type subscriber struct {
	ch     chan Event
	closed bool
}

// Broadcaster fans out message log appends and status transitions to
// subscribed observers in log order. Delivery is at-least-once:
// replayed entries may duplicate live ones, and consumers treat a
// repeated sequence number as a no-op.
type Broadcaster struct {
	log    MessageLog
	logger *slog.Logger

	mu        sync.Mutex
	subs      map[string]map[uint64]*subscriber
	nextSubID uint64
	buffer    int
}

// NewBroadcaster creates a broadcaster. buffer bounds each subscriber's
// channel; a subscriber that overflows it is disconnected.
func NewBroadcaster(log MessageLog, buffer int, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		log:    log,
		logger: logger,
		subs:   make(map[string]map[uint64]*subscriber),
		buffer: buffer,
	}
}

// Subscribe returns an event stream for the session starting at
// fromSeq. Entries already in the log are replayed into the stream
// before any live event, under the same lock that serializes publishes,
// so no event between replay and live registration can be missed.
func (b *Broadcaster) Subscribe(ctx context.Context, sessionID string, fromSeq uint64) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	replay, err := b.log.EntriesFrom(ctx, sessionID, fromSeq)
	if err != nil {
		return nil, err
	}

	sub := &subscriber{
		ch: make(chan Event, b.buffer+len(replay)),
	}
	for _, e := range replay {
		sub.ch <- Event{
			SessionID: e.SessionID,
			Sequence:  e.Sequence,
			Type:      EventEntry,
			Entry:     e,
		}
	}

	b.nextSubID++
	id := b.nextSubID
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[uint64]*subscriber)
	}
	b.subs[sessionID][id] = sub

	return &Subscription{
		C:         sub.ch,
		b:         b,
		sessionID: sessionID,
		id:        id,
	}, nil
}

// PublishEntry broadcasts a freshly appended log entry
func (b *Broadcaster) PublishEntry(ctx context.Context, entry *Entry) {
	b.publish(Event{
		SessionID: entry.SessionID,
		Sequence:  entry.Sequence,
		Type:      EventEntry,
		Entry:     entry,
	})
}

// PublishStatus broadcasts a session status transition. The event is
// dropped when the last sequence cannot be read: a zero-sequence event
// would break the non-decreasing order subscribers rely on.
func (b *Broadcaster) PublishStatus(ctx context.Context, sessionID string, status SessionStatus, reason FailureReason) {
	seq, err := b.log.LastSequence(ctx, sessionID)
	if err != nil {
		b.logger.Error("Dropping status event, last sequence unavailable",
			"session_id", sessionID,
			"status", status,
			"error", err,
		)
		return
	}
	b.publish(Event{
		SessionID: sessionID,
		Sequence:  seq,
		Type:      EventStatusChange,
		Status:    status,
		Reason:    reason,
	})
}

func (b *Broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs[ev.SessionID] {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber: disconnect instead of dropping events
			// silently. The closed channel tells the consumer to
			// resubscribe with replay.
			sub.closed = true
			close(sub.ch)
			delete(b.subs[ev.SessionID], id)
			b.logger.Warn("Subscriber disconnected on buffer overflow",
				"session_id", ev.SessionID,
				"subscriber_id", id,
			)
		}
	}
}

func (b *Broadcaster) unsubscribe(sessionID string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[sessionID][id]
	if !ok {
		return
	}
	sub.closed = true
	close(sub.ch)
	delete(b.subs[sessionID], id)
	if len(b.subs[sessionID]) == 0 {
		delete(b.subs, sessionID)
	}
}

// SubscriberCount returns the number of live subscribers for a session
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}
