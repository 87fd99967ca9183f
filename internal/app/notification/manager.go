// Package notification provides the notification manager for broadcasting frames.
package notification

import (
	"sync"

	"github.com/google/uuid"

	"github.com/osa030/musicisland/internal/domain/frame"
)

// DefaultBuffer is the number of frames queued per subscriber.
const DefaultBuffer = 16

// subscription represents a subscriber's subscription.
type subscription struct {
	id string
	ch chan frame.Frame
}

// Manager manages frame subscriptions and broadcasting.
// Broadcast never blocks; a subscriber that falls behind loses its oldest frames.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	buffer        int
	sequenceNo    uint64
	last          *frame.Frame
	closed        bool
}

// NewManager creates a new notification manager.
func NewManager(buffer int) *Manager {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Manager{
		subscriptions: make(map[string]*subscription),
		buffer:        buffer,
	}
}

// Subscribe adds a new subscription and returns its ID and frame channel.
// The last broadcast frame, if any, is delivered first.
func (m *Manager) Subscribe() (string, <-chan frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	ch := make(chan frame.Frame, m.buffer)
	if m.last != nil {
		ch <- *m.last
	}
	if m.closed {
		close(ch)
		return id, ch
	}
	m.subscriptions[id] = &subscription{id: id, ch: ch}
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[subscriptionID]; ok {
		delete(m.subscriptions, subscriptionID)
		close(sub.ch)
	}
}

// Broadcast stamps the frame with the next sequence number and queues it
// for every subscriber. The stamped frame is returned.
func (m *Manager) Broadcast(f frame.Frame) frame.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sequenceNo++
	f.SequenceNo = m.sequenceNo
	m.last = &f

	if m.closed {
		return f
	}
	for _, sub := range m.subscriptions {
		select {
		case sub.ch <- f:
		default:
			// Drop the oldest frame to make room.
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- f
		}
	}
	return f
}

// Last returns the last broadcast frame.
func (m *Manager) Last() (frame.Frame, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return frame.Frame{}, false
	}
	return *m.last, true
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, sub := range m.subscriptions {
		delete(m.subscriptions, id)
		close(sub.ch)
	}
}
