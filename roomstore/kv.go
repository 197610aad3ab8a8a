package roomstore

import (
	"fmt"
	"strings"
	"sync"
)

// KV is the replicated key-value collaborator backing a room store. The store
// only needs point reads, point writes, bounded iteration over a key's
// immediate children, and a way to link two instances so writes gossip
// between them. How a real backend replicates is its own business.
type KV interface {
	Get(key string) (value []byte, ok bool, err error)
	Put(key string, value []byte) error
	// MapChildren calls fn for every immediate child of key observed within
	// the backend's bounded collection window.
	MapChildren(key string, fn func(child string, value []byte)) error
	Link(other KV) error
}

// MemKV is the in-memory KV used when no replicated backend is injected. It
// is built explicitly and passed in at composition time, never reached
// through a package-level default. Linked instances gossip every put to each
// other, re-propagating transitively; an unchanged value is not re-sent,
// which keeps gossip loops finite.
type MemKV struct {
	mu    sync.Mutex
	items map[string][]byte
	links []*MemKV
}

func NewMemKV() *MemKV {
	return &MemKV{items: make(map[string][]byte)}
}

// Link connects two in-memory instances in both directions.
func (kv *MemKV) Link(other KV) error {
	peer, ok := other.(*MemKV)
	if !ok {
		return fmt.Errorf("cannot link %T to a MemKV", other)
	}
	if peer == kv {
		return nil
	}
	kv.mu.Lock()
	kv.links = append(kv.links, peer)
	kv.mu.Unlock()
	peer.mu.Lock()
	peer.links = append(peer.links, kv)
	peer.mu.Unlock()
	// Exchange current contents so a late-linked peer catches up.
	kv.pushAll(peer)
	peer.pushAll(kv)
	return nil
}

func (kv *MemKV) pushAll(to *MemKV) {
	kv.mu.Lock()
	snapshot := make(map[string][]byte, len(kv.items))
	for k, v := range kv.items {
		snapshot[k] = v
	}
	kv.mu.Unlock()
	for k, v := range snapshot {
		to.receive(k, v)
	}
}

func (kv *MemKV) Get(key string) ([]byte, bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.items[key]
	return v, ok, nil
}

func (kv *MemKV) Put(key string, value []byte) error {
	kv.receive(key, value)
	return nil
}

func (kv *MemKV) receive(key string, value []byte) {
	kv.mu.Lock()
	if existing, ok := kv.items[key]; ok && string(existing) == string(value) {
		kv.mu.Unlock()
		return
	}
	kv.items[key] = append([]byte(nil), value...)
	links := append([]*MemKV(nil), kv.links...)
	kv.mu.Unlock()
	for _, l := range links {
		l.receive(key, value)
	}
}

func (kv *MemKV) MapChildren(key string, fn func(child string, value []byte)) error {
	prefix := key + "/"
	kv.mu.Lock()
	children := make(map[string][]byte)
	for k, v := range kv.items {
		rest, ok := strings.CutPrefix(k, prefix)
		if !ok || rest == "" || strings.Contains(rest, "/") {
			continue
		}
		children[rest] = v
	}
	kv.mu.Unlock()
	for child, value := range children {
		fn(child, value)
	}
	return nil
}
