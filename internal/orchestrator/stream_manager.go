package orchestrator

import (
	"encoding/json"
	"sync"
)

// NotificationSender defines the interface for pushing notifications to
// a connected client. It abstracts the actual transport so the streamer
// works with any SSE or stdio implementation.
type NotificationSender interface {
	SendNotification(notification map[string]interface{}) error
}

// ClientStream represents one connected observer
type ClientStream struct {
	ClientID string
	sender   NotificationSender
}

// SendNotification sends a notification through this client's transport
func (c *ClientStream) SendNotification(notification map[string]interface{}) error {
	return c.sender.SendNotification(notification)
}

// StreamManager tracks connected observer clients for event streaming
type StreamManager struct {
	streams map[string]*ClientStream
	mu      sync.RWMutex
}

// NewStreamManager creates a new stream manager
func NewStreamManager() *StreamManager {
	return &StreamManager{
		streams: make(map[string]*ClientStream),
	}
}

// Register registers a client with a notification sender
func (sm *StreamManager) Register(clientID string, sender NotificationSender) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.streams[clientID] = &ClientStream{
		ClientID: clientID,
		sender:   sender,
	}
}

// Get retrieves a client stream by ID, nil if not connected
func (sm *StreamManager) Get(clientID string) *ClientStream {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.streams[clientID]
}

// Unregister removes a client stream
func (sm *StreamManager) Unregister(clientID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.streams, clientID)
}

// Count returns the number of connected clients
func (sm *StreamManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.streams)
}

// ChannelNotificationSender implements NotificationSender using a
// channel. Useful for testing and for buffered delivery.
type ChannelNotificationSender struct {
	ch chan<- string
}

// NewChannelNotificationSender creates a sender that writes JSON to a channel
func NewChannelNotificationSender(ch chan<- string) *ChannelNotificationSender {
	return &ChannelNotificationSender{ch: ch}
}

// SendNotification marshals the notification to JSON and sends it to the channel
func (s *ChannelNotificationSender) SendNotification(notification map[string]interface{}) error {
	data, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	s.ch <- string(data)
	return nil
}
