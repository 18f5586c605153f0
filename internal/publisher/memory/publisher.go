// Package memory contains an in-process Notifier for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// DefaultRetain caps how many messages New keeps.
const DefaultRetain = 10000

// Publisher keeps published outcome messages for inspection. Once Retain
// messages are held the oldest are discarded.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	seq      int
	retain   int
	err      error
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID         string
	Payload    any
	Attributes map[string]string
}

// New returns a Publisher retaining DefaultRetain messages.
func New() *Publisher {
	return NewWithRetain(DefaultRetain)
}

// NewWithRetain returns a Publisher keeping at most retain messages; zero or
// less keeps everything.
func NewWithRetain(retain int) *Publisher {
	return &Publisher{retain: retain}
}

// FailWith makes subsequent publishes return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(ctx context.Context, payload any, attrs map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, PublishedMessage{ID: id, Payload: payload, Attributes: maps.Clone(attrs)})
	if p.retain > 0 && len(p.messages) > p.retain {
		p.messages = append([]PublishedMessage(nil), p.messages[len(p.messages)-p.retain:]...)
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

// Matching returns retained publishes whose attribute key equals value, for
// example Matching("sku", "A-1") or Matching("status", "Failed").
func (p *Publisher) Matching(key, value string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, msg := range p.messages {
		if v, ok := msg.Attributes[key]; ok && v == value {
			out = append(out, msg)
		}
	}
	return out
}
