package bus

import "sync"

// MemBus is the in-process MessageBus used when no external transport is
// injected. It is an explicit value composed in at construction time, never a
// hidden global: tests build their own and link them together.
//
// Dispatch is synchronous on the publisher's goroutine, which gives FIFO
// ordering per sender for free.
type MemBus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(topic string, data []byte)
	subs     map[string]int
	links    []*MemBus
}

func NewMemBus() *MemBus {
	return &MemBus{
		handlers: make(map[int]func(topic string, data []byte)),
		subs:     make(map[string]int),
	}
}

// Link joins two buses so publishes on either side reach subscribers on both.
// Links are transitive: linking a-b and b-c connects all three.
func (b *MemBus) Link(other *MemBus) {
	if other == nil || other == b {
		return
	}
	b.mu.Lock()
	b.links = append(b.links, other)
	b.mu.Unlock()
	other.mu.Lock()
	other.links = append(other.links, b)
	other.mu.Unlock()
}

func (b *MemBus) Publish(topic string, data []byte) error {
	seen := map[*MemBus]bool{}
	b.walk(seen, topic, data)
	return nil
}

func (b *MemBus) walk(seen map[*MemBus]bool, topic string, data []byte) {
	if seen[b] {
		return
	}
	seen[b] = true
	b.deliver(topic, data)
	b.mu.Lock()
	links := append([]*MemBus(nil), b.links...)
	b.mu.Unlock()
	for _, l := range links {
		l.walk(seen, topic, data)
	}
}

func (b *MemBus) deliver(topic string, data []byte) {
	b.mu.Lock()
	if b.subs[topic] == 0 {
		b.mu.Unlock()
		return
	}
	handlers := make([]func(string, []byte), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(topic, data)
	}
}

func (b *MemBus) Subscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic]++
	return nil
}

func (b *MemBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] > 0 {
		b.subs[topic]--
	}
	return nil
}

func (b *MemBus) OnMessage(fn func(topic string, data []byte)) (cancel func()) {
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
