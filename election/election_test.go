package election

import (
	"math/rand"
	"testing"
)

func ts(v int64) *int64 { return &v }

func TestElectEarliestJoinerWins(t *testing.T) {
	candidates := []Candidate{
		{PeerID: "A", JoinedAt: ts(100)},
		{PeerID: "B", JoinedAt: ts(200)},
		{PeerID: "C", JoinedAt: ts(150)},
	}
	sel := Elect(candidates, "")
	if sel == nil || sel.PeerID != "A" {
		t.Fatalf("Elect = %+v, want A", sel)
	}
}

func TestElectAfterIncumbentLeaves(t *testing.T) {
	// A was host but is gone from the candidate set: earliest remaining wins.
	candidates := []Candidate{
		{PeerID: "B", JoinedAt: ts(200)},
		{PeerID: "C", JoinedAt: ts(150)},
	}
	sel := Elect(candidates, "A")
	if sel == nil || sel.PeerID != "C" {
		t.Fatalf("Elect = %+v, want C", sel)
	}
}

func TestElectStickyIncumbency(t *testing.T) {
	candidates := []Candidate{
		{PeerID: "A", JoinedAt: ts(100)},
		{PeerID: "B", JoinedAt: ts(200)},
	}
	sel := Elect(candidates, "B")
	if sel == nil || sel.PeerID != "B" {
		t.Fatalf("Elect = %+v, want incumbent B to stay host", sel)
	}
}

func TestElectTieBreak(t *testing.T) {
	candidates := []Candidate{
		{PeerID: "peer-b", JoinedAt: ts(1000)},
		{PeerID: "peer-a", JoinedAt: ts(1000)},
		{PeerID: "peer-c"},
	}
	sel := Elect(candidates, "")
	if sel == nil || sel.PeerID != "peer-a" {
		t.Fatalf("Elect = %+v, want peer-a (equal timestamp, smaller id)", sel)
	}
}

func TestElectMissingJoinedAtSortsLast(t *testing.T) {
	candidates := []Candidate{
		{PeerID: "aaa"},
		{PeerID: "zzz", JoinedAt: ts(9999)},
	}
	sel := Elect(candidates, "")
	if sel == nil || sel.PeerID != "zzz" {
		t.Fatalf("Elect = %+v, want zzz (known join time beats unknown)", sel)
	}
}

func TestElectOnlyUnknownJoinTimes(t *testing.T) {
	candidates := []Candidate{{PeerID: "b"}, {PeerID: "a"}, {PeerID: "c"}}
	sel := Elect(candidates, "")
	if sel == nil || sel.PeerID != "a" {
		t.Fatalf("Elect = %+v, want a by id order", sel)
	}
}

func TestElectDeduplicatesKeepingMinimum(t *testing.T) {
	// A peer re-announcing with a later timestamp cannot lower its priority.
	candidates := []Candidate{
		{PeerID: "A", JoinedAt: ts(500)},
		{PeerID: "B", JoinedAt: ts(300)},
		{PeerID: "A", JoinedAt: ts(100)},
	}
	sel := Elect(candidates, "")
	if sel == nil || sel.PeerID != "A" {
		t.Fatalf("Elect = %+v, want A via its earliest claim", sel)
	}
	if sel.JoinedAt == nil || *sel.JoinedAt != 100 {
		t.Errorf("selection kept joinedAt %v, want 100", sel.JoinedAt)
	}
}

func TestElectEmpty(t *testing.T) {
	if sel := Elect(nil, ""); sel != nil {
		t.Fatalf("Elect(nil) = %+v, want nil", sel)
	}
	if sel := Elect([]Candidate{{PeerID: ""}}, ""); sel != nil {
		t.Fatalf("Elect with only blank ids = %+v, want nil", sel)
	}
}

func TestElectOrderInvariant(t *testing.T) {
	candidates := []Candidate{
		{PeerID: "A", JoinedAt: ts(100)},
		{PeerID: "B", JoinedAt: ts(100)},
		{PeerID: "C", JoinedAt: ts(50)},
		{PeerID: "D"},
		{PeerID: "C", JoinedAt: ts(75)},
	}
	want := Elect(candidates, "")
	if want == nil {
		t.Fatal("no selection from non-empty set")
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		shuffled := append([]Candidate(nil), candidates...)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		got := Elect(shuffled, "")
		if got == nil || got.PeerID != want.PeerID {
			t.Fatalf("permutation %d elected %+v, want %s", i, got, want.PeerID)
		}
	}
}

func TestElectIncumbentDedupedJoinTime(t *testing.T) {
	candidates := []Candidate{
		{PeerID: "A", JoinedAt: ts(900)},
		{PeerID: "A", JoinedAt: ts(200)},
	}
	sel := Elect(candidates, "A")
	if sel == nil || sel.JoinedAt == nil || *sel.JoinedAt != 200 {
		t.Fatalf("incumbent selection = %+v, want joinedAt 200", sel)
	}
}
