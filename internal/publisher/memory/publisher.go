// Package memory contains an in-memory publisher used when Pub/Sub is not configured, and in tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// DefaultCapacity bounds how many events New keeps.
const DefaultCapacity = 100

// Publisher keeps the most recent published events for inspection.
type Publisher struct {
	mu       sync.RWMutex
	capacity int
	total    int
	messages []PublishedMessage
	failWith error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
	Data    []byte
}

// New returns a memory Publisher holding at most DefaultCapacity events.
func New() *Publisher {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity returns a memory Publisher holding at most capacity events. Older events are dropped.
func NewWithCapacity(capacity int) *Publisher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Publisher{capacity: capacity}
}

// FailWith makes later Publish calls return err. Passing nil restores normal behaviour.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failWith = err
}

// Publish encodes the payload as it would go on the wire, records it and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return "", p.failWith
	}
	p.total++
	id := fmt.Sprintf("memory-%d", p.total)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload, Data: data})
	if over := len(p.messages) - p.capacity; over > 0 {
		p.messages = append(p.messages[:0:0], p.messages[over:]...)
	}
	return id, nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
