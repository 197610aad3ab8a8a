// Package election computes which peer currently hosts a room. There is no
// voting round: every peer runs the same pure function over the candidate set
// it has observed, and peers that observe the same set pick the same host.
package election

import "sort"

// Candidate is a peer eligible to host. JoinedAt is the claimed join time in
// Unix milliseconds; nil means the peer never announced one.
type Candidate struct {
	PeerID   string
	JoinedAt *int64
}

// Selection is the elected host.
type Selection struct {
	PeerID   string
	JoinedAt *int64
}

// Elect picks the host from a candidate set.
//
// Duplicate peer ids are collapsed keeping the minimum claimed JoinedAt, so a
// peer re-announcing with a later timestamp cannot demote itself and shuffle
// the ordering. If currentHostID is still among the candidates it stays host
// (sticky incumbency). Otherwise the earliest joiner wins, ties broken by
// lexicographically smallest peer id; candidates without a JoinedAt sort after
// every candidate that has one. An empty candidate set elects nobody.
//
// The result depends only on the set of candidates, never on slice order.
func Elect(candidates []Candidate, currentHostID string) *Selection {
	byID := make(map[string]Candidate)
	for _, c := range candidates {
		if c.PeerID == "" {
			continue
		}
		existing, ok := byID[c.PeerID]
		if !ok {
			byID[c.PeerID] = c
			continue
		}
		if earlier(c.JoinedAt, existing.JoinedAt) {
			byID[c.PeerID] = c
		}
	}
	if len(byID) == 0 {
		return nil
	}
	if currentHostID != "" {
		if incumbent, ok := byID[currentHostID]; ok {
			return &Selection{PeerID: incumbent.PeerID, JoinedAt: incumbent.JoinedAt}
		}
	}
	ordered := make([]Candidate, 0, len(byID))
	for _, c := range byID {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if earlier(a.JoinedAt, b.JoinedAt) {
			return true
		}
		if earlier(b.JoinedAt, a.JoinedAt) {
			return false
		}
		return a.PeerID < b.PeerID
	})
	winner := ordered[0]
	return &Selection{PeerID: winner.PeerID, JoinedAt: winner.JoinedAt}
}

// earlier reports whether a strictly precedes b, with unknown (nil) join
// times ordered after every known one.
func earlier(a, b *int64) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return *a < *b
	}
}
