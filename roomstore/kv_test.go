package roomstore

import (
	"testing"
)

func TestMemKVGetPut(t *testing.T) {
	kv := NewMemKV()
	if _, ok, _ := kv.Get("missing"); ok {
		t.Fatal("Get on empty kv reported a value")
	}
	if err := kv.Put("a/b", []byte("x")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := kv.Get("a/b")
	if err != nil || !ok || string(v) != "x" {
		t.Fatalf("Get = %q ok=%v err=%v", v, ok, err)
	}
}

func TestMemKVMapChildrenImmediate(t *testing.T) {
	kv := NewMemKV()
	puts := map[string]string{
		"rooms/quiz/players/p1":       "a",
		"rooms/quiz/players/p2":       "b",
		"rooms/quiz/players/p1/extra": "nested, must be skipped",
		"rooms/quiz/scores/p1":        "other branch",
		"rooms/quiz/players":          "the prefix itself",
	}
	for k, v := range puts {
		if err := kv.Put(k, []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	seen := map[string]string{}
	err := kv.MapChildren("rooms/quiz/players", func(child string, value []byte) {
		seen[child] = string(value)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(seen) != 2 || seen["p1"] != "a" || seen["p2"] != "b" {
		t.Errorf("MapChildren saw %v, want exactly p1=a p2=b", seen)
	}
}

func TestMemKVLinkGossips(t *testing.T) {
	a, b := NewMemKV(), NewMemKV()
	// Pre-link write must be exchanged at link time.
	if err := a.Put("k/early", []byte("before")); err != nil {
		t.Fatal(err)
	}
	if err := a.Link(b); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := b.Get("k/early"); !ok || string(v) != "before" {
		t.Errorf("link did not exchange existing contents: %q ok=%v", v, ok)
	}
	// Post-link writes propagate both ways.
	if err := b.Put("k/late", []byte("after")); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := a.Get("k/late"); !ok || string(v) != "after" {
		t.Errorf("put on b did not reach a: %q ok=%v", v, ok)
	}
}

func TestMemKVGossipIsTransitive(t *testing.T) {
	a, b, c := NewMemKV(), NewMemKV(), NewMemKV()
	if err := a.Link(b); err != nil {
		t.Fatal(err)
	}
	if err := b.Link(c); err != nil {
		t.Fatal(err)
	}
	if err := a.Put("k/v", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := c.Get("k/v"); !ok || string(v) != "x" {
		t.Errorf("write on a did not gossip through b to c: %q ok=%v", v, ok)
	}
	// Re-putting the same bytes must not loop forever; just exercise it.
	if err := c.Put("k/v", []byte("x")); err != nil {
		t.Fatal(err)
	}
}

type notMemKV struct{ KV }

func TestMemKVLinkRejectsForeignBackend(t *testing.T) {
	if err := NewMemKV().Link(notMemKV{}); err == nil {
		t.Fatal("linking a non-MemKV backend should fail")
	}
}
