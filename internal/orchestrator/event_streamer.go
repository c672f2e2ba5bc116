package orchestrator

import (
	"context"
	"log/slog"
	"sync"
)

const (
	notificationMethodEvent       = "notifications/sessions/event"
	notificationMethodResubscribe = "notifications/sessions/resubscribe"
)

// EventStreamer bridges the core broadcaster to connected clients: each
// watch forwards one session's ordered event stream as notifications.
// When a subscription is dropped on overflow, the client receives a
// resubscribe notice carrying the last delivered sequence so it can
// replay from there instead of losing events.
type EventStreamer struct {
	streams *StreamManager
	events  *Broadcaster
	logger  *slog.Logger

	mu      sync.Mutex
	watches map[string][]*Subscription
}

// NewEventStreamer creates an event streamer
func NewEventStreamer(streams *StreamManager, events *Broadcaster, logger *slog.Logger) *EventStreamer {
	return &EventStreamer{
		streams: streams,
		events:  events,
		logger:  logger,
		watches: make(map[string][]*Subscription),
	}
}

// Watch subscribes the client to a session's events starting at fromSeq
// and forwards them until the session goes terminal, the client
// disconnects, or the subscription overflows.
func (es *EventStreamer) Watch(ctx context.Context, clientID, sessionID string, fromSeq uint64) error {
	sub, err := es.events.Subscribe(ctx, sessionID, fromSeq)
	if err != nil {
		return err
	}

	es.mu.Lock()
	es.watches[clientID] = append(es.watches[clientID], sub)
	es.mu.Unlock()

	es.logger.Debug("Client watching session",
		"client_id", clientID,
		"session_id", sessionID,
		"from_sequence", fromSeq,
	)

	go es.forward(clientID, sessionID, sub)
	return nil
}

// Unwatch closes every subscription held for the client
func (es *EventStreamer) Unwatch(clientID string) {
	es.mu.Lock()
	subs := es.watches[clientID]
	delete(es.watches, clientID)
	es.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (es *EventStreamer) forward(clientID, sessionID string, sub *Subscription) {
	var lastSeq uint64
	for ev := range sub.C {
		stream := es.streams.Get(clientID)
		if stream == nil {
			sub.Close()
			return
		}

		lastSeq = ev.Sequence
		if err := stream.SendNotification(map[string]interface{}{
			"method": notificationMethodEvent,
			"params": ev,
		}); err != nil {
			es.logger.Error("Failed to forward event",
				"client_id", clientID,
				"session_id", sessionID,
				"sequence", ev.Sequence,
				"error", err,
			)
		}

		if ev.Type == EventStatusChange && ev.Status.Terminal() {
			sub.Close()
			return
		}
	}

	// Channel closed without Close: the broadcaster dropped us on
	// overflow. Tell the client to resubscribe with replay.
	if stream := es.streams.Get(clientID); stream != nil {
		_ = stream.SendNotification(map[string]interface{}{
			"method": notificationMethodResubscribe,
			"params": map[string]interface{}{
				"session_id":    sessionID,
				"last_sequence": lastSeq,
			},
		})
	}
}
