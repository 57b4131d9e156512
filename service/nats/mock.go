package nats

import (
	"context"
	"sync"
)

// MockPublisher records rescue events in memory. Like JetStream it routes
// events by subject and drops duplicates of a message id.
type MockPublisher struct {
	mu        sync.RWMutex
	bySubject map[string][]*RescueEvent
	seen      map[string]bool
	order     []*RescueEvent
	err       error
	closed    bool
}

// NewMockPublisher creates an empty mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		bySubject: map[string][]*RescueEvent{},
		seen:      map[string]bool{},
	}
}

// PublishRescue records the event, or returns the error set with FailWith.
func (m *MockPublisher) PublishRescue(ctx context.Context, event *RescueEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	id := msgID(event)
	if m.seen[id] {
		return nil
	}
	m.seen[id] = true
	subject := Subject(event.CompromisedWallet)
	m.bySubject[subject] = append(m.bySubject[subject], event)
	m.order = append(m.order, event)
	return nil
}

// Close marks the publisher closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Published returns the events on subject in publish order. An empty subject
// or StreamSubjects returns every event.
func (m *MockPublisher) Published(subject string) []*RescueEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.bySubject[subject]
	if subject == "" || subject == StreamSubjects {
		src = m.order
	}
	out := make([]*RescueEvent, len(src))
	copy(out, src)
	return out
}

// Count is the number of distinct events published.
func (m *MockPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// FailWith makes later publishes return err. A nil err clears it.
func (m *MockPublisher) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Closed reports whether Close was called.
func (m *MockPublisher) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
