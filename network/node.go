// Package network connects a peer to a relay over websocket and exposes the
// connection as a bus.MessageBus. A Node is the transport a peer uses when
// multicast discovery cannot reach the other players, for example across NAT.
package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/MHolmes91/trivir/bus"
	"github.com/MHolmes91/trivir/identity"
	"github.com/MHolmes91/trivir/relay"
)

// Node is a relay-backed MessageBus. The zero value is not usable; build one
// with NewNode and connect it with Dial before publishing.
type Node struct {
	id     *identity.Identity
	logger *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	nextID   int
	handlers map[int]func(topic string, data []byte)
	topics   map[string]int
	closed   bool
}

var _ bus.MessageBus = (*Node)(nil)

type option func(*Node) *Node

// WithLogger replaces the node's logger.
func WithLogger(l *slog.Logger) option {
	return func(n *Node) *Node {
		n.logger = l
		return n
	}
}

// NewNode builds a disconnected node owned by the given identity.
func NewNode(id *identity.Identity, opts ...option) (*Node, error) {
	if id == nil {
		return nil, errors.New("network: identity is required")
	}
	n := &Node{
		id:       id,
		logger:   slog.Default(),
		handlers: make(map[int]func(topic string, data []byte)),
		topics:   make(map[string]int),
	}
	for _, opt := range opts {
		n = opt(n)
	}
	return n, nil
}

// Identity returns the identity this node signs and filters with.
func (n *Node) Identity() *identity.Identity {
	return n.id
}

// Dial connects to a relay. addr accepts either a host:port or a full ws://
// URL; the /ws path is added when missing. Dial resubscribes any topics that
// were registered before the connection existed, so Subscribe before Dial is
// allowed.
func (n *Node) Dial(addr string) error {
	u, err := relayURL(addr)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		return fmt.Errorf("dial relay %s: %w", u, err)
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		conn.Close()
		return errors.New("network: node is closed")
	}
	n.conn = conn
	topics := make([]string, 0, len(n.topics))
	for t, c := range n.topics {
		if c > 0 {
			topics = append(topics, t)
		}
	}
	n.mu.Unlock()

	for _, t := range topics {
		if err := n.write(relay.Frame{Op: "sub", Topic: t}); err != nil {
			conn.Close()
			return err
		}
	}
	go n.readLoop(conn)
	n.logger.Info("connected to relay", "relay", u, "peer", n.id.ID)
	return nil
}

func relayURL(addr string) (string, error) {
	if addr == "" {
		return "", errors.New("network: relay address is empty")
	}
	u, err := url.Parse(addr)
	if err != nil || u.Scheme == "" {
		u = &url.URL{Scheme: "ws", Host: addr}
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("network: unsupported relay scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

func (n *Node) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			n.mu.Lock()
			closed := n.closed
			n.mu.Unlock()
			if !closed {
				n.logger.Warn("relay connection lost", "err", err)
			}
			return
		}
		var f relay.Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Topic == "" {
			continue
		}
		n.mu.Lock()
		handlers := make([]func(string, []byte), 0, len(n.handlers))
		for _, h := range n.handlers {
			handlers = append(handlers, h)
		}
		n.mu.Unlock()
		for _, h := range handlers {
			h(f.Topic, f.Data)
		}
	}
}

// gorilla/websocket allows one concurrent writer per connection. The conn
// pointer is published under n.mu by Dial, so it is fetched under the same
// lock here.
func (n *Node) write(f relay.Frame) error {
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return errors.New("network: not connected")
	}
	return conn.WriteJSON(f)
}

func (n *Node) Publish(topic string, data []byte) error {
	return n.write(relay.Frame{Op: "pub", Topic: topic, Data: data})
}

func (n *Node) Subscribe(topic string) error {
	n.mu.Lock()
	n.topics[topic]++
	first := n.topics[topic] == 1
	connected := n.conn != nil
	n.mu.Unlock()
	if first && connected {
		return n.write(relay.Frame{Op: "sub", Topic: topic})
	}
	return nil
}

func (n *Node) Unsubscribe(topic string) error {
	n.mu.Lock()
	if n.topics[topic] > 0 {
		n.topics[topic]--
	}
	last := n.topics[topic] == 0
	connected := n.conn != nil
	n.mu.Unlock()
	if last && connected {
		return n.write(relay.Frame{Op: "unsub", Topic: topic})
	}
	return nil
}

func (n *Node) OnMessage(fn func(topic string, data []byte)) (cancel func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.handlers[id] = fn
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		delete(n.handlers, id)
		n.mu.Unlock()
	}
}

// Close tears down the relay connection. The node cannot be redialed after.
func (n *Node) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	conn := n.conn
	n.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
