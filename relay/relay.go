// Package relay implements the websocket relay that carries bus traffic for
// peers without multicast reachability. A relay holds no game state at all:
// it forwards opaque frames between topics and a pluggable backend bus, so
// multiple relay instances backed by the same Redis converge into one
// logical bus.
package relay

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/MHolmes91/trivir/bus"
)

// Frame is the client-to-relay wire format. Op is "pub", "sub" or "unsub";
// Data is only present for "pub".
type Frame struct {
	Op    string `json:"op,omitempty"`
	Topic string `json:"topic"`
	Data  []byte `json:"data,omitempty"`
}

// Server relays frames between websocket clients and a backend MessageBus.
type Server struct {
	backend bus.MessageBus
	logger  *slog.Logger
	upgrade websocket.Upgrader

	// Backend subscriptions are refcounted across clients because not every
	// backend refcounts internally: go-redis tracks channels as a set, so a
	// second Subscribe collapses into the first and one Unsubscribe would
	// drop the channel for every remaining client.
	subMu sync.Mutex
	subs  map[string]int
}

// New builds a relay over the given backend. A nil backend gets a private
// in-process bus, which is enough for a single relay instance.
func New(backend bus.MessageBus, logger *slog.Logger) *Server {
	if backend == nil {
		backend = bus.NewMemBus()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		backend: backend,
		logger:  logger,
		upgrade: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		subs: make(map[string]int),
	}
}

// retain subscribes the backend when a topic gains its first client.
func (s *Server) retain(topic string) error {
	s.subMu.Lock()
	s.subs[topic]++
	first := s.subs[topic] == 1
	s.subMu.Unlock()
	if !first {
		return nil
	}
	return s.backend.Subscribe(topic)
}

// release unsubscribes the backend only when a topic's last client goes.
func (s *Server) release(topic string) error {
	s.subMu.Lock()
	if s.subs[topic] == 0 {
		s.subMu.Unlock()
		return nil
	}
	s.subs[topic]--
	last := s.subs[topic] == 0
	if last {
		delete(s.subs, topic)
	}
	s.subMu.Unlock()
	if !last {
		return nil
	}
	return s.backend.Unsubscribe(topic)
}

// Handler returns the relay's HTTP routes: /ws for peers, /healthz for
// load balancers.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.serveWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	return r
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu     sync.Mutex
	topics map[string]bool
}

func (c *client) send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

func (c *client) subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topics[topic]
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, topics: make(map[string]bool)}
	cancel := s.backend.OnMessage(func(topic string, data []byte) {
		if !c.subscribed(topic) {
			return
		}
		if err := c.send(Frame{Topic: topic, Data: data}); err != nil {
			s.logger.Debug("relay write failed", "topic", topic, "err", err)
		}
	})
	defer cancel()
	defer conn.Close()
	defer func() {
		// Release backend subscriptions the client never gave back.
		c.mu.Lock()
		topics := make([]string, 0, len(c.topics))
		for t := range c.topics {
			topics = append(topics, t)
		}
		c.mu.Unlock()
		for _, t := range topics {
			if err := s.release(t); err != nil {
				s.logger.Debug("backend unsubscribe failed", "topic", t, "err", err)
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Topic == "" {
			// Peers are untrusted; malformed frames are dropped.
			continue
		}
		switch f.Op {
		case "pub":
			if err := s.backend.Publish(f.Topic, f.Data); err != nil {
				s.logger.Error("backend publish failed", "topic", f.Topic, "err", err)
			}
		case "sub":
			c.mu.Lock()
			first := !c.topics[f.Topic]
			c.topics[f.Topic] = true
			c.mu.Unlock()
			if first {
				if err := s.retain(f.Topic); err != nil {
					s.logger.Error("backend subscribe failed", "topic", f.Topic, "err", err)
				}
			}
		case "unsub":
			c.mu.Lock()
			had := c.topics[f.Topic]
			delete(c.topics, f.Topic)
			c.mu.Unlock()
			if had {
				if err := s.release(f.Topic); err != nil {
					s.logger.Error("backend unsubscribe failed", "topic", f.Topic, "err", err)
				}
			}
		}
	}
}
