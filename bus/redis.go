package bus

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus adapts a Redis pub/sub connection to the MessageBus contract.
// Redis preserves publish order per connection, which satisfies the per-sender
// FIFO guarantee the topic layer needs.
type RedisBus struct {
	ctx    context.Context
	client *redis.Client
	pubsub *redis.PubSub

	mu       sync.Mutex
	nextID   int
	handlers map[int]func(topic string, data []byte)
}

// NewRedisBus opens a subscriber connection and starts its read loop. The
// context bounds every Redis call the bus makes.
func NewRedisBus(ctx context.Context, client *redis.Client) *RedisBus {
	b := &RedisBus{
		ctx:      ctx,
		client:   client,
		pubsub:   client.Subscribe(ctx),
		handlers: make(map[int]func(topic string, data []byte)),
	}
	go b.readLoop()
	return b
}

func (b *RedisBus) readLoop() {
	for msg := range b.pubsub.Channel() {
		b.mu.Lock()
		handlers := make([]func(string, []byte), 0, len(b.handlers))
		for _, h := range b.handlers {
			handlers = append(handlers, h)
		}
		b.mu.Unlock()
		for _, h := range handlers {
			h(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (b *RedisBus) Publish(topic string, data []byte) error {
	return b.client.Publish(b.ctx, topic, data).Err()
}

func (b *RedisBus) Subscribe(topic string) error {
	return b.pubsub.Subscribe(b.ctx, topic)
}

func (b *RedisBus) Unsubscribe(topic string) error {
	return b.pubsub.Unsubscribe(b.ctx, topic)
}

func (b *RedisBus) OnMessage(fn func(topic string, data []byte)) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Close tears down the subscriber connection, ending the read loop.
func (b *RedisBus) Close() error {
	return b.pubsub.Close()
}
