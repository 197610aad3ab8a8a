// Package bus scopes publish/subscribe traffic to a single room topic. It
// does not implement a transport of its own: a MessageBus collaborator is
// injected, and the package ships an in-process hub and a Redis adapter.
package bus

import (
	"sync"

	"github.com/MHolmes91/trivir/envelope"
)

// MessageBus is the transport collaborator contract. Delivery is best-effort
// and at most once per underlying delivery; the only ordering guarantee the
// topic layer relies on is FIFO from a single sender to a single topic.
type MessageBus interface {
	Publish(topic string, data []byte) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	// OnMessage registers a receive callback and returns a function that
	// removes it. All registered callbacks see every delivery.
	OnMessage(fn func(topic string, data []byte)) (cancel func())
}

// TopicBus binds a MessageBus to one room topic and speaks envelopes instead
// of raw bytes. Frames that do not decode to a known event type are dropped.
type TopicBus struct {
	bus    MessageBus
	topic  string
	cancel func()

	mu       sync.Mutex
	nextID   int
	handlers map[int]func(*envelope.Event)
	closed   bool
}

// NewTopicBus subscribes the underlying bus to the room's topic and starts
// dispatching incoming events.
func NewTopicBus(mb MessageBus, roomCode string) (*TopicBus, error) {
	topic, err := Topic(roomCode)
	if err != nil {
		return nil, err
	}
	if err := mb.Subscribe(topic); err != nil {
		return nil, err
	}
	tb := &TopicBus{
		bus:      mb,
		topic:    topic,
		handlers: make(map[int]func(*envelope.Event)),
	}
	tb.cancel = mb.OnMessage(tb.receive)
	return tb, nil
}

// Topic returns the normalized topic string this bus is bound to.
func (tb *TopicBus) Topic() string {
	return tb.topic
}

// Publish encodes the event as a bus frame and publishes it on the room topic.
func (tb *TopicBus) Publish(ev *envelope.Event) error {
	b, err := envelope.Encode(ev)
	if err != nil {
		return err
	}
	return tb.bus.Publish(tb.topic, b)
}

// OnEvent registers a handler for every event received on the room topic and
// returns a function that removes it. Handlers fan out: each one receives its
// own copy of every event. Removal stops future dispatch only; a delivery
// already in flight still completes.
func (tb *TopicBus) OnEvent(handler func(*envelope.Event)) (cancel func()) {
	tb.mu.Lock()
	id := tb.nextID
	tb.nextID++
	tb.handlers[id] = handler
	tb.mu.Unlock()
	return func() {
		tb.mu.Lock()
		delete(tb.handlers, id)
		tb.mu.Unlock()
	}
}

// Close detaches from the underlying bus and unsubscribes the topic.
func (tb *TopicBus) Close() error {
	tb.mu.Lock()
	if tb.closed {
		tb.mu.Unlock()
		return nil
	}
	tb.closed = true
	tb.mu.Unlock()
	tb.cancel()
	return tb.bus.Unsubscribe(tb.topic)
}

func (tb *TopicBus) receive(topic string, data []byte) {
	if topic != tb.topic {
		return
	}
	ev := envelope.Decode(data)
	if ev == nil {
		// Unparseable frames from untrusted peers are dropped, not fatal.
		return
	}
	tb.mu.Lock()
	handlers := make([]func(*envelope.Event), 0, len(tb.handlers))
	for _, h := range tb.handlers {
		handlers = append(handlers, h)
	}
	tb.mu.Unlock()
	for _, h := range handlers {
		h(ev.Clone())
	}
}
