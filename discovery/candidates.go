package discovery

import (
	"github.com/MHolmes91/trivir/election"
)

// Candidates folds a stream of discovery entries into host-election candidate
// sets for one room. A new snapshot is emitted whenever the set changes:
// a peer appears, or re-announces an earlier join time. Announcements for
// other rooms and unparseable payloads are ignored.
//
// The returned channel closes when stop closes or the entry stream ends, so
// the sequence is lazy, possibly infinite, and explicitly cancellable.
func Candidates(entries <-chan Entry, room string, stop <-chan struct{}) <-chan []election.Candidate {
	out := make(chan []election.Candidate, 1)
	go func() {
		defer close(out)
		joined := make(map[string]int64)
		for {
			select {
			case <-stop:
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				ann := ParseAnnouncement(entry.Info)
				if ann == nil || ann.Room != room {
					continue
				}
				if prev, seen := joined[ann.PeerID]; seen && prev <= ann.JoinedAt {
					continue
				}
				joined[ann.PeerID] = ann.JoinedAt
				select {
				case out <- snapshot(joined):
				case <-stop:
					return
				}
			}
		}
	}()
	return out
}

func snapshot(joined map[string]int64) []election.Candidate {
	candidates := make([]election.Candidate, 0, len(joined))
	for peerID, joinedAt := range joined {
		at := joinedAt
		candidates = append(candidates, election.Candidate{PeerID: peerID, JoinedAt: &at})
	}
	return candidates
}
