package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func appendEntries(t *testing.T, log MessageLog, sessionID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := log.Append(context.Background(), &Entry{
			SessionID: sessionID,
			Role:      RoleProduct,
			Kind:      KindRequirement,
			Content:   "entry",
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
}

func recvEvent(t *testing.T, c <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-c:
		if !ok {
			t.Fatal("Channel closed while expecting an event")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for event")
	}
	return Event{}
}

func TestBroadcaster_ReplayReproducesLog(t *testing.T) {
	log := newTestLog()
	b := NewBroadcaster(log, 8, testLogger())
	appendEntries(t, log, "s1", 3)

	sub, err := b.Subscribe(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	for want := uint64(1); want <= 3; want++ {
		ev := recvEvent(t, sub.C)
		if ev.Type != EventEntry || ev.Sequence != want {
			t.Fatalf("Expected entry event seq %d, got %+v", want, ev)
		}
	}
}

func TestBroadcaster_ReplayFromSequence(t *testing.T) {
	log := newTestLog()
	b := NewBroadcaster(log, 8, testLogger())
	appendEntries(t, log, "s1", 5)

	sub, err := b.Subscribe(context.Background(), "s1", 4)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	if ev := recvEvent(t, sub.C); ev.Sequence != 4 {
		t.Errorf("Expected seq 4 first, got %d", ev.Sequence)
	}
	if ev := recvEvent(t, sub.C); ev.Sequence != 5 {
		t.Errorf("Expected seq 5 next, got %d", ev.Sequence)
	}
}

func TestBroadcaster_ReplayThenLiveIsOrdered(t *testing.T) {
	log := newTestLog()
	b := NewBroadcaster(log, 8, testLogger())
	appendEntries(t, log, "s1", 2)

	sub, err := b.Subscribe(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	entry := &Entry{SessionID: "s1", Role: RoleTechnical, Kind: KindSolution, Content: "live"}
	if _, err := log.Append(context.Background(), entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	b.PublishEntry(context.Background(), entry)

	var last uint64
	for want := 0; want < 3; want++ {
		ev := recvEvent(t, sub.C)
		if ev.Sequence < last {
			t.Fatalf("Sequence went backwards: %d after %d", ev.Sequence, last)
		}
		last = ev.Sequence
	}
	if last != 3 {
		t.Errorf("Expected live event with seq 3 last, got %d", last)
	}
}

func TestBroadcaster_StatusEventCarriesLastSequence(t *testing.T) {
	log := newTestLog()
	b := NewBroadcaster(log, 8, testLogger())
	appendEntries(t, log, "s1", 2)

	sub, err := b.Subscribe(context.Background(), "s1", 100)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	b.PublishStatus(context.Background(), "s1", StatusFailed, ReasonUserCancelled)

	ev := recvEvent(t, sub.C)
	if ev.Type != EventStatusChange {
		t.Fatalf("Expected status_change, got %s", ev.Type)
	}
	if ev.Sequence != 2 {
		t.Errorf("Status event should carry the last log sequence, got %d", ev.Sequence)
	}
	if ev.Status != StatusFailed || ev.Reason != ReasonUserCancelled {
		t.Errorf("Unexpected status payload: %+v", ev)
	}
}

func TestBroadcaster_SlowSubscriberDisconnected(t *testing.T) {
	log := newTestLog()
	b := NewBroadcaster(log, 1, testLogger())

	sub, err := b.Subscribe(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Fill the buffer without consuming, then overflow it
	b.PublishStatus(context.Background(), "s1", StatusProcessing, "")
	b.PublishStatus(context.Background(), "s1", StatusActive, "")

	if n := b.SubscriberCount("s1"); n != 0 {
		t.Errorf("Overflowed subscriber must be dropped, count %d", n)
	}

	// The buffered event is still readable, then the channel closes
	recvEvent(t, sub.C)
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("Expected closed channel after overflow")
		}
	case <-time.After(time.Second):
		t.Error("Channel never closed after overflow")
	}
}

func TestBroadcaster_CloseUnsubscribes(t *testing.T) {
	log := newTestLog()
	b := NewBroadcaster(log, 8, testLogger())

	sub, err := b.Subscribe(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if n := b.SubscriberCount("s1"); n != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", n)
	}

	sub.Close()
	if n := b.SubscriberCount("s1"); n != 0 {
		t.Errorf("Expected 0 subscribers after Close, got %d", n)
	}
	// Closing twice is safe
	sub.Close()
}

// faultyLog fails LastSequence on demand
type faultyLog struct {
	*testLog
	failLastSeq bool
}

func (l *faultyLog) LastSequence(ctx context.Context, sessionID string) (uint64, error) {
	if l.failLastSeq {
		return 0, errors.New("log unavailable")
	}
	return l.testLog.LastSequence(ctx, sessionID)
}

func TestBroadcaster_StatusEventDroppedWhenSequenceUnavailable(t *testing.T) {
	log := &faultyLog{testLog: newTestLog()}
	events := NewBroadcaster(log, 8, testLogger())
	appendEntries(t, log, "s1", 2)

	sub, err := events.Subscribe(context.Background(), "s1", 0)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()
	recvEvent(t, sub.C)
	recvEvent(t, sub.C)

	// A zero-sequence status event would regress the stream order, so
	// the publish is skipped entirely
	log.failLastSeq = true
	events.PublishStatus(context.Background(), "s1", StatusProcessing, "")
	log.failLastSeq = false

	events.PublishStatus(context.Background(), "s1", StatusCompleted, "")
	ev := recvEvent(t, sub.C)
	if ev.Type != EventStatusChange || ev.Status != StatusCompleted {
		t.Fatalf("Expected the completed status event, got %+v", ev)
	}
	if ev.Sequence != 2 {
		t.Errorf("Expected sequence 2, got %d", ev.Sequence)
	}

	if n := events.SubscriberCount("s1"); n != 1 {
		t.Errorf("Subscriber must stay connected, got %d", n)
	}
}
