package pubsub

import (
	"context"
	"sync"
)

// MemoryBroker delivers messages synchronously inside the process. It keeps
// retained messages and replays them to new subscribers the way an MQTT
// broker does.
type MemoryBroker struct {
	mu        sync.RWMutex
	connected bool
	closed    bool
	subs      []memorySub
	retained  map[string][]byte
	published []Message
}

type memorySub struct {
	pattern string
	handler Handler
	ctx     context.Context
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{retained: make(map[string][]byte)}
}

func (b *MemoryBroker) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.connected = true
	return nil
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte, retain bool) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	msg := Message{Topic: topic, Payload: append([]byte(nil), payload...), Retained: retain}
	b.published = append(b.published, msg)
	if retain {
		if len(payload) == 0 {
			delete(b.retained, topic)
		} else {
			b.retained[topic] = msg.Payload
		}
	}
	var targets []memorySub
	for _, s := range b.subs {
		if Match(s.pattern, topic) {
			targets = append(targets, s)
		}
	}
	b.mu.Unlock()

	// delivery is live, not a replay
	msg.Retained = false
	for _, s := range targets {
		s.handler(s.ctx, msg)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, pattern string, handler Handler) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return ErrNotConnected
	}
	b.subs = append(b.subs, memorySub{pattern: pattern, handler: handler, ctx: ctx})
	var replay []Message
	for topic, payload := range b.retained {
		if Match(pattern, topic) {
			replay = append(replay, Message{Topic: topic, Payload: payload, Retained: true})
		}
	}
	b.mu.Unlock()

	for _, m := range replay {
		handler(ctx, m)
	}
	return nil
}

func (b *MemoryBroker) Connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = false
	b.closed = true
	b.subs = nil
	return nil
}

// Retained returns the retained payload for topic.
func (b *MemoryBroker) Retained(topic string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.retained[topic]
	return p, ok
}

// Published returns every message published so far, in order.
func (b *MemoryBroker) Published() []Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Message, len(b.published))
	copy(out, b.published)
	return out
}
