package broker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBuffer = 100

type subscriber struct {
	ch   chan Message
	done chan struct{}
}

// InMemoryBroker fans messages out to every subscriber of a topic inside one
// process. Subscribers only see messages published after they subscribed.
type InMemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string][]*subscriber
	closed bool

	quit     chan struct{}
	quitOnce sync.Once
	offset   atomic.Int64
}

// NewInMemoryBroker creates a new InMemoryBroker instance.
func NewInMemoryBroker() *InMemoryBroker {
	return &InMemoryBroker{
		subs: make(map[string][]*subscriber),
		quit: make(chan struct{}),
	}
}

// Publish delivers the message to the current subscribers of topic. It blocks
// while a subscriber's buffer is full.
func (b *InMemoryBroker) Publish(ctx context.Context, topic string, key string, value []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	msg := Message{
		Topic:     topic,
		Key:       key,
		Value:     append([]byte(nil), value...),
		Offset:    b.offset.Add(1) - 1,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, s := range b.subs[topic] {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-b.quit:
			return ErrClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a new subscriber for topic.
func (b *InMemoryBroker) Subscribe(ctx context.Context, topic string, groupID string) (<-chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}

	s := &subscriber{
		ch:   make(chan Message, subscriberBuffer),
		done: make(chan struct{}),
	}
	b.subs[topic] = append(b.subs[topic], s)

	go func() {
		select {
		case <-ctx.Done():
			close(s.done)
			b.remove(topic, s)
		case <-b.quit:
		}
	}()

	return s.ch, nil
}

func (b *InMemoryBroker) remove(topic string, s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, cur := range subs {
		if cur == s {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			close(s.ch)
			return
		}
	}
}

// Close closes every subscriber channel.
func (b *InMemoryBroker) Close() error {
	b.quitOnce.Do(func() { close(b.quit) })

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
		delete(b.subs, topic)
	}
	return nil
}
