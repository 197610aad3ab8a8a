package discovery

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseAnnouncement(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  *Announcement
	}{
		{
			name:  "valid",
			input: `{"peerId":"abc","room":"pub-quiz","joinedAt":1000}`,
			want:  &Announcement{PeerID: "abc", Room: "pub-quiz", JoinedAt: 1000},
		},
		{name: "malformed", input: `{"peerId":`},
		{name: "missing peer id", input: `{"room":"pub-quiz"}`},
		{name: "empty", input: ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAnnouncement([]byte(tt.input))
			if tt.want == nil {
				if got != nil {
					t.Errorf("ParseAnnouncement = %+v, want nil", got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Errorf("ParseAnnouncement = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func entryFor(t *testing.T, ann Announcement) Entry {
	t.Helper()
	b, err := json.Marshal(ann)
	if err != nil {
		t.Fatal(err)
	}
	return Entry{Info: b, Time: time.Now()}
}

func TestCandidatesAccumulate(t *testing.T) {
	entries := make(chan Entry)
	stop := make(chan struct{})
	defer close(stop)
	out := Candidates(entries, "pub-quiz", stop)

	entries <- entryFor(t, Announcement{PeerID: "a", Room: "pub-quiz", JoinedAt: 100})
	set := <-out
	if len(set) != 1 || set[0].PeerID != "a" {
		t.Fatalf("first snapshot = %+v", set)
	}

	entries <- entryFor(t, Announcement{PeerID: "b", Room: "pub-quiz", JoinedAt: 200})
	set = <-out
	if len(set) != 2 {
		t.Fatalf("second snapshot has %d candidates, want 2", len(set))
	}
}

func TestCandidatesIgnoreOtherRoomsAndGarbage(t *testing.T) {
	entries := make(chan Entry)
	stop := make(chan struct{})
	defer close(stop)
	out := Candidates(entries, "pub-quiz", stop)

	entries <- entryFor(t, Announcement{PeerID: "x", Room: "another-room", JoinedAt: 100})
	entries <- Entry{Info: []byte("junk"), Time: time.Now()}
	entries <- entryFor(t, Announcement{PeerID: "a", Room: "pub-quiz", JoinedAt: 100})

	set := <-out
	if len(set) != 1 || set[0].PeerID != "a" {
		t.Fatalf("snapshot = %+v, want only peer a", set)
	}
}

func TestCandidatesKeepEarliestClaim(t *testing.T) {
	entries := make(chan Entry)
	stop := make(chan struct{})
	defer close(stop)
	out := Candidates(entries, "r", stop)

	entries <- entryFor(t, Announcement{PeerID: "a", Room: "r", JoinedAt: 500})
	<-out
	// A later claim for the same peer changes nothing.
	entries <- entryFor(t, Announcement{PeerID: "a", Room: "r", JoinedAt: 900})
	// An earlier claim does.
	entries <- entryFor(t, Announcement{PeerID: "a", Room: "r", JoinedAt: 100})
	set := <-out
	if len(set) != 1 || *set[0].JoinedAt != 100 {
		t.Fatalf("snapshot = %+v, want a@100", set)
	}
}

func TestCandidatesStop(t *testing.T) {
	entries := make(chan Entry)
	stop := make(chan struct{})
	out := Candidates(entries, "r", stop)
	close(stop)
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("received a snapshot after stop")
		}
	case <-time.After(time.Second):
		t.Fatal("candidate stream did not close after stop")
	}
}

func TestCandidatesEndWithEntries(t *testing.T) {
	entries := make(chan Entry)
	out := Candidates(entries, "r", make(chan struct{}))
	close(entries)
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("received a snapshot after the entry stream ended")
		}
	case <-time.After(time.Second):
		t.Fatal("candidate stream did not close with its source")
	}
}

func TestAnnouncerLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("multicast loopback")
	}
	a := &Announcer{
		Announcement: Announcement{PeerID: "peer-a", Room: "r", JoinedAt: 1},
		Port:         9753,
		Interval:     50 * time.Millisecond,
	}
	b := &Announcer{
		Announcement: Announcement{PeerID: "peer-b", Room: "r", JoinedAt: 2},
		Port:         9753,
		Interval:     50 * time.Millisecond,
	}
	if err := a.Start(); err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer a.Close()
	if err := b.Start(); err != nil {
		t.Skipf("multicast unavailable: %v", err)
	}
	defer b.Close()

	timeout := time.After(3 * time.Second)
	for {
		select {
		case entry := <-a.Entries:
			ann := ParseAnnouncement(entry.Info)
			if ann != nil && ann.PeerID == "peer-b" {
				return
			}
		case <-timeout:
			t.Fatal("peer-a never heard peer-b")
		}
	}
}
