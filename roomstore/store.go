// Package roomstore replicates a room's players, scores and signed event log
// across peers as a set of last-write-wins registers over an injected
// key-value backend.
//
// The merge rule is the whole consistency story: for one logical key the
// record with the strictly greater version timestamp wins, and on an exact
// tie the most recently observed write wins. The rule is associative,
// commutative and idempotent over the set of all observed writes, so peers
// that see the same writes in any order converge on the same state. A store
// never regresses a key to a value older than one it has already shown.
//
// Reads are snapshots of current local knowledge: they wait out a short
// quiescence window after the last observed update, bounded by a hard cap,
// and then return whatever has been observed.
package roomstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MHolmes91/trivir/bus"
	"github.com/MHolmes91/trivir/envelope"
	"github.com/MHolmes91/trivir/identity"
	"github.com/MHolmes91/trivir/trivia"
)

const (
	segPlayers = "players"
	segScores  = "scores"
	segEvents  = "events"

	defaultQuiescence = 100 * time.Millisecond
	defaultReadBound  = time.Second
)

type record struct {
	value   []byte
	version int64
}

// Store is one peer's view of one room.
type Store struct {
	kv      KV
	id      *identity.Identity
	topic   string
	quiesce time.Duration
	bound   time.Duration

	mu      sync.Mutex
	replica map[string]map[string]record
}

type option func(*Store)

// WithQuiescence overrides the read quiescence window and its hard bound,
// mainly to keep tests fast.
func WithQuiescence(window, bound time.Duration) option {
	return func(s *Store) {
		s.quiesce = window
		s.bound = bound
	}
}

// New builds a store for roomCode on top of kv. The identity signs every
// locally appended event; it must not be nil.
func New(kv KV, id *identity.Identity, roomCode string, opts ...option) (*Store, error) {
	if id == nil {
		return nil, fmt.Errorf("roomstore requires an identity")
	}
	topic, err := bus.Topic(roomCode)
	if err != nil {
		return nil, err
	}
	s := &Store{
		kv:      kv,
		id:      id,
		topic:   topic,
		quiesce: defaultQuiescence,
		bound:   defaultReadBound,
		replica: map[string]map[string]record{
			segPlayers: {},
			segScores:  {},
			segEvents:  {},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) key(segment, id string) string {
	return s.topic + "/" + segment + "/" + id
}

// observe merges one record into the local replica and reports whether the
// visible value changed. Lower versions lose; equal versions go to the most
// recent arrival.
func (s *Store) observe(segment, id string, value []byte, version int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.replica[segment][id]
	if ok {
		if version < existing.version {
			return false
		}
		if version == existing.version && string(value) == string(existing.value) {
			return false
		}
	}
	s.replica[segment][id] = record{value: append([]byte(nil), value...), version: version}
	return true
}

func (s *Store) current(segment, id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.replica[segment][id]
	return rec.value, ok
}

// write merges locally, then puts the merged winner to the backend. If the
// local write lost the merge, the winner is what gets (re)put, so a stale
// writer cannot regress the replicated value either.
func (s *Store) write(segment, id string, value []byte, version int64) error {
	s.observe(segment, id, value, version)
	winner, _ := s.current(segment, id)
	return s.kv.Put(s.key(segment, id), winner)
}

// SetPlayer upserts a player register, versioned by JoinedAt.
func (s *Store) SetPlayer(p trivia.Player) error {
	if p.ID == "" {
		return fmt.Errorf("player has no id")
	}
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.write(segPlayers, p.ID, b, p.JoinedAt)
}

// Players returns every observed player, earliest joiner first.
func (s *Store) Players() ([]trivia.Player, error) {
	if err := s.settle(segPlayers); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]trivia.Player, 0, len(s.replica[segPlayers]))
	for _, rec := range s.replica[segPlayers] {
		var p trivia.Player
		if err := json.Unmarshal(rec.value, &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetScore upserts a score register, versioned by UpdatedAt.
func (s *Store) SetScore(sc trivia.Score) error {
	if sc.PlayerID == "" {
		return fmt.Errorf("score has no player id")
	}
	b, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	return s.write(segScores, sc.PlayerID, b, sc.UpdatedAt)
}

// Scores returns every observed score, ordered by player id.
func (s *Store) Scores() ([]trivia.Score, error) {
	if err := s.settle(segScores); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]trivia.Score, 0, len(s.replica[segScores]))
	for _, rec := range s.replica[segScores] {
		var sc trivia.Score
		if err := json.Unmarshal(rec.value, &sc); err != nil {
			continue
		}
		out = append(out, sc)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out, nil
}

// AppendEvent signs the event with this peer's identity and publishes it into
// the replicated log. The event is mutated in place: after a successful
// append it carries this peer's signature and public key.
func (s *Store) AppendEvent(ev *envelope.Event) error {
	if ev.ID == "" {
		return fmt.Errorf("event has no id")
	}
	if err := envelope.Sign(ev, s.id); err != nil {
		return err
	}
	return s.observeEventRecord(ev)
}

// ObserveEvent stores a foreign event record as-is, without re-signing.
// Unverifiable events are stored too: the log is store-and-forward, and
// callers filter with VerifyEvent before trusting anything in it.
func (s *Store) ObserveEvent(ev *envelope.Event) error {
	if ev == nil || ev.ID == "" {
		return fmt.Errorf("event has no id")
	}
	return s.observeEventRecord(ev)
}

func (s *Store) observeEventRecord(ev *envelope.Event) error {
	b, err := envelope.EncodeRecord(ev)
	if err != nil {
		return err
	}
	return s.write(segEvents, ev.ID, b, ev.Timestamp)
}

// Events returns the observed event log sorted ascending by timestamp.
// Verification status is deliberately ignored here; call VerifyEvent before
// acting on any entry's payload.
func (s *Store) Events() ([]*envelope.Event, error) {
	if err := s.settle(segEvents); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]*envelope.Event, 0, len(s.replica[segEvents]))
	for _, rec := range s.replica[segEvents] {
		if ev := envelope.DecodeRecord(rec.value); ev != nil {
			out = append(out, ev)
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// VerifyEvent reports whether the event's signature is valid for its claimed
// id, timestamp and payload.
func (s *Store) VerifyEvent(ev *envelope.Event) bool {
	return envelope.Verify(ev)
}

// settle scans the backend until a scan observes nothing new, waiting one
// quiescence window between scans, bounded by the read cap.
func (s *Store) settle(segment string) error {
	deadline := time.Now().Add(s.bound)
	for {
		changed, err := s.scan(segment)
		if err != nil {
			return err
		}
		if !changed || time.Now().After(deadline) {
			return nil
		}
		time.Sleep(s.quiesce)
	}
}

func (s *Store) scan(segment string) (bool, error) {
	changed := false
	err := s.kv.MapChildren(s.topic+"/"+segment, func(child string, value []byte) {
		version, ok := versionOf(segment, value)
		if !ok {
			// Garbage from the backend is dropped at the merge boundary.
			return
		}
		if s.observe(segment, child, value, version) {
			changed = true
		}
	})
	return changed, err
}

func versionOf(segment string, value []byte) (int64, bool) {
	switch segment {
	case segPlayers:
		var p trivia.Player
		if json.Unmarshal(value, &p) != nil || p.ID == "" {
			return 0, false
		}
		return p.JoinedAt, true
	case segScores:
		var sc trivia.Score
		if json.Unmarshal(value, &sc) != nil || sc.PlayerID == "" {
			return 0, false
		}
		return sc.UpdatedAt, true
	case segEvents:
		ev := envelope.DecodeRecord(value)
		if ev == nil || ev.ID == "" {
			return 0, false
		}
		return ev.Timestamp, true
	}
	return 0, false
}
