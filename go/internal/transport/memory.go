package transport

import (
	"context"
	"sync"
)

// Memory is an in-process PubSub for tests and single-process setups.
// Delivery is synchronous and in publish order per subject.
type Memory struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]Handler
	closed bool
}

// NewMemory creates an empty in-memory transport.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[int]Handler)}
}

// Publish delivers data to every current subscriber of the subject.
func (m *Memory) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrUnavailable
	}
	handlers := make([]Handler, 0, len(m.subs[subject]))
	for _, h := range m.subs[subject] {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(data)
	}
	return nil
}

// Subscribe registers a handler for the subject.
func (m *Memory) Subscribe(subject string, h Handler) (Unsubscribe, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrUnavailable
	}

	if m.subs[subject] == nil {
		m.subs[subject] = make(map[int]Handler)
	}
	id := m.nextID
	m.nextID++
	m.subs[subject][id] = h

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs[subject], id)
	}, nil
}

// Close drops all subscriptions; further operations fail with ErrUnavailable.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = make(map[string]map[int]Handler)
}
