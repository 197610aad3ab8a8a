package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MHolmes91/trivir/bus"
)

func wsDial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(New(nil, nil).Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}

func TestRelayForwardsBetweenClients(t *testing.T) {
	srv := httptest.NewServer(New(nil, nil).Handler())
	defer srv.Close()

	sub := wsDial(t, srv)
	pub := wsDial(t, srv)

	if err := sub.WriteJSON(Frame{Op: "sub", Topic: "trivir/room/a"}); err != nil {
		t.Fatal(err)
	}
	// The relay processes frames in order per connection, so a second frame
	// echoed back guarantees the sub was registered.
	if err := pub.WriteJSON(Frame{Op: "pub", Topic: "trivir/room/a", Data: []byte(`"hi"`)}); err != nil {
		t.Fatal(err)
	}

	sub.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Frame
	for {
		if err := sub.ReadJSON(&got); err != nil {
			t.Fatal(err)
		}
		if got.Topic == "trivir/room/a" {
			break
		}
	}
	if string(got.Data) != `"hi"` {
		t.Fatalf("data = %s", got.Data)
	}
}

func TestMalformedFramesAreDropped(t *testing.T) {
	srv := httptest.NewServer(New(nil, nil).Handler())
	defer srv.Close()

	conn := wsDial(t, srv)
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteJSON(Frame{Op: "pub"}); err != nil { // missing topic
		t.Fatal(err)
	}
	// The connection survives both.
	if err := conn.WriteJSON(Frame{Op: "sub", Topic: "trivir/room/b"}); err != nil {
		t.Fatal(err)
	}
	other := wsDial(t, srv)
	if err := other.WriteJSON(Frame{Op: "pub", Topic: "trivir/room/b", Data: []byte(`1`)}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Frame
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got.Topic != "trivir/room/b" {
		t.Fatalf("topic = %s", got.Topic)
	}
}

// setBus wraps a MemBus with redis-like channel-set semantics: repeated
// Subscribes for one topic collapse into a single membership, and a single
// Unsubscribe removes it outright.
type setBus struct {
	inner  *bus.MemBus
	mu     sync.Mutex
	member map[string]bool
}

func newSetBus() *setBus {
	return &setBus{inner: bus.NewMemBus(), member: make(map[string]bool)}
}

func (b *setBus) Publish(topic string, data []byte) error {
	return b.inner.Publish(topic, data)
}

func (b *setBus) Subscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.member[topic] {
		return nil
	}
	b.member[topic] = true
	return b.inner.Subscribe(topic)
}

func (b *setBus) Unsubscribe(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.member[topic] {
		return nil
	}
	delete(b.member, topic)
	return b.inner.Unsubscribe(topic)
}

func (b *setBus) OnMessage(fn func(topic string, data []byte)) (cancel func()) {
	return b.inner.OnMessage(fn)
}

func TestDisconnectKeepsSharedTopicSubscribed(t *testing.T) {
	backend := newSetBus()
	srv := httptest.NewServer(New(backend, nil).Handler())
	defer srv.Close()

	const topic = "trivir/room/shared"
	first := wsDial(t, srv)
	second := wsDial(t, srv)
	for _, conn := range []*websocket.Conn{first, second} {
		if err := conn.WriteJSON(Frame{Op: "sub", Topic: topic}); err != nil {
			t.Fatal(err)
		}
	}

	pub := wsDial(t, srv)
	readFrame := func(conn *websocket.Conn) Frame {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatal(err)
		}
		return f
	}

	if err := pub.WriteJSON(Frame{Op: "pub", Topic: topic, Data: []byte(`1`)}); err != nil {
		t.Fatal(err)
	}
	readFrame(first)
	readFrame(second)

	// The first client leaving must not tear down the second client's
	// backend subscription. Give the disconnect cleanup a moment to run.
	first.Close()
	time.Sleep(100 * time.Millisecond)
	backend.mu.Lock()
	member := backend.member[topic]
	backend.mu.Unlock()
	if !member {
		t.Fatal("shared topic was unsubscribed while a client remained")
	}

	if err := pub.WriteJSON(Frame{Op: "pub", Topic: topic, Data: []byte(`2`)}); err != nil {
		t.Fatal(err)
	}
	if got := readFrame(second); string(got.Data) != `2` {
		t.Fatalf("data = %s, want 2", got.Data)
	}
}

func TestDisconnectReleasesSubscriptions(t *testing.T) {
	backend := bus.NewMemBus()
	srv := httptest.NewServer(New(backend, nil).Handler())
	defer srv.Close()

	conn := wsDial(t, srv)
	if err := conn.WriteJSON(Frame{Op: "sub", Topic: "trivir/room/c"}); err != nil {
		t.Fatal(err)
	}

	// Wait until the backend sees the subscription by publishing through a
	// second connection and reading the delivery.
	probe := wsDial(t, srv)
	if err := probe.WriteJSON(Frame{Op: "pub", Topic: "trivir/room/c", Data: []byte(`1`)}); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got Frame
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}

	conn.Close()

	// After the disconnect is processed the backend should stop delivering
	// for the topic entirely.
	deadline := time.Now().Add(5 * time.Second)
	for {
		delivered := false
		cancel := backend.OnMessage(func(topic string, _ []byte) {
			if topic == "trivir/room/c" {
				delivered = true
			}
		})
		backend.Publish("trivir/room/c", []byte(`2`))
		cancel()
		if !delivered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("backend subscription was not released on disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
