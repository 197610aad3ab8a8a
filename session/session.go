// Package session ties one peer's room state together: the game engine, the
// replicated room store, the topic bus and host election. The session is the
// only writer to its engine; everything arriving from the bus or the store
// goes through it.
//
// Events travel twice. The topic bus carries lightweight frames for live
// mirroring between connected peers, and the room store carries the full
// signed records so late joiners and reconnecting peers can replay what they
// missed. Mirror operations are idempotent, so receiving a frame for
// something already applied, including the peer's own publishes echoed back
// by the bus, is harmless.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MHolmes91/trivir/bus"
	"github.com/MHolmes91/trivir/election"
	"github.com/MHolmes91/trivir/envelope"
	"github.com/MHolmes91/trivir/identity"
	"github.com/MHolmes91/trivir/roomstore"
	"github.com/MHolmes91/trivir/trivia"
)

// Config assembles a session. Identity, Bus, KV and Game.RoomCode are
// required; the rest defaults.
type Config struct {
	Identity *identity.Identity
	Bus      bus.MessageBus
	KV       roomstore.KV
	Game     trivia.Config
	Logger   *slog.Logger

	// QuiesceWindow and QuiesceBound tune the store's read settling; zero
	// keeps the store defaults. Tests shrink them.
	QuiesceWindow time.Duration
	QuiesceBound  time.Duration
}

// Session is one peer's view of one room.
type Session struct {
	id       *identity.Identity
	logger   *slog.Logger
	password string

	mu     sync.Mutex
	engine *trivia.Engine
	hostID string

	store  *roomstore.Store
	topics *bus.TopicBus
	cancel func()
	closed bool
}

// New wires a session into the room and starts mirroring remote events. It
// does not join the game; call Join for that.
func New(cfg Config) (*Session, error) {
	if cfg.Identity == nil {
		return nil, errors.New("session: identity is required")
	}
	if cfg.Bus == nil {
		return nil, errors.New("session: message bus is required")
	}
	if cfg.KV == nil {
		return nil, errors.New("session: kv backend is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	engine, err := trivia.NewEngine(cfg.Game)
	if err != nil {
		return nil, err
	}
	var store *roomstore.Store
	if cfg.QuiesceWindow > 0 || cfg.QuiesceBound > 0 {
		store, err = roomstore.New(cfg.KV, cfg.Identity, cfg.Game.RoomCode,
			roomstore.WithQuiescence(cfg.QuiesceWindow, cfg.QuiesceBound))
	} else {
		store, err = roomstore.New(cfg.KV, cfg.Identity, cfg.Game.RoomCode)
	}
	if err != nil {
		return nil, err
	}
	topics, err := bus.NewTopicBus(cfg.Bus, cfg.Game.RoomCode)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:       cfg.Identity,
		logger:   cfg.Logger.With("room", topics.Topic(), "peer", cfg.Identity.ID),
		password: cfg.Game.Password,
		engine:   engine,
		store:    store,
		topics:   topics,
	}
	s.cancel = topics.OnEvent(s.mirror)
	return s, nil
}

// PeerID returns this peer's stable id, which doubles as its player id.
func (s *Session) PeerID() string {
	return s.id.ID
}

// Store exposes the replicated room store, mainly so callers can link KV
// backends and read the event log.
func (s *Session) Store() *roomstore.Store {
	return s.store
}

// Close detaches the session from the bus. The engine state stays readable.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	return s.topics.Close()
}

// Join enters the local player into the game, replicates the membership and
// announces it on the bus.
func (s *Session) Join(name, password string) error {
	s.mu.Lock()
	ev, err := func() (*envelope.Event, error) {
		p := trivia.Player{ID: s.id.ID, Name: name}
		if err := s.engine.JoinPlayer(p, password); err != nil {
			return nil, err
		}
		joined := s.lookupPlayer(s.id.ID)
		if err := s.store.SetPlayer(joined); err != nil {
			return nil, fmt.Errorf("replicate join: %w", err)
		}
		return s.record(envelope.TypeJoin, map[string]any{
			"peer":     s.id.ID,
			"name":     name,
			"joinedAt": joined.JoinedAt,
		})
	}()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.publish(ev)
}

// Leave marks the local player disconnected and announces the departure.
func (s *Session) Leave() error {
	s.mu.Lock()
	ev, err := func() (*envelope.Event, error) {
		if err := s.engine.LeavePlayer(s.id.ID); err != nil {
			return nil, err
		}
		if err := s.store.SetPlayer(s.lookupPlayer(s.id.ID)); err != nil {
			return nil, fmt.Errorf("replicate leave: %w", err)
		}
		return s.record(envelope.TypeLeave, map[string]any{"peer": s.id.ID})
	}()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.publish(ev)
}

// StartGame draws the question list and announces it so every peer plays the
// same questions in the same order. Only the elected host should call this.
func (s *Session) StartGame() error {
	s.mu.Lock()
	ev, err := func() (*envelope.Event, error) {
		if err := s.engine.StartGame(); err != nil {
			return nil, err
		}
		questions, err := toPayloadValue(s.engine.Snapshot().SelectedQuestions)
		if err != nil {
			return nil, err
		}
		return s.record(envelope.TypeGameStart, map[string]any{
			"peer":      s.id.ID,
			"questions": questions,
		})
	}()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.publish(ev)
}

// StartRound opens the next answer window and announces it.
func (s *Session) StartRound() error {
	s.mu.Lock()
	ev, err := func() (*envelope.Event, error) {
		if err := s.engine.StartRound(); err != nil {
			return nil, err
		}
		return s.record(envelope.TypeRoundStart, map[string]any{
			"peer":  s.id.ID,
			"round": s.engine.Snapshot().Round,
		})
	}()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.publish(ev)
}

// SubmitAnswer records the local player's answer and announces it so the host
// counts it. It reports whether the answer counted locally.
func (s *Session) SubmitAnswer(choiceIndex int) (bool, error) {
	s.mu.Lock()
	if !s.engine.SubmitAnswer(s.id.ID, choiceIndex) {
		s.mu.Unlock()
		return false, nil
	}
	ev, err := s.record(envelope.TypeAnswerSubmit, map[string]any{
		"peer":   s.id.ID,
		"choice": choiceIndex,
	})
	s.mu.Unlock()
	if err != nil {
		return true, err
	}
	return true, s.publish(ev)
}

// EndRound closes the active round, replicates the updated scores and
// announces the result.
func (s *Session) EndRound() error {
	s.mu.Lock()
	ev, err := func() (*envelope.Event, error) {
		if err := s.engine.EndRound(); err != nil {
			return nil, err
		}
		return s.recordRoundEnd()
	}()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.publish(ev)
}

// recordRoundEnd replicates scores and records the result of the round that
// just closed. Called with the lock held.
func (s *Session) recordRoundEnd() (*envelope.Event, error) {
	if err := s.replicateScores(); err != nil {
		return nil, err
	}
	result := s.engine.Snapshot().LastRoundResult
	awarded, err := toPayloadValue(result.Awarded)
	if err != nil {
		return nil, err
	}
	return s.record(envelope.TypeRoundEnd, map[string]any{
		"peer":    s.id.ID,
		"round":   result.Round,
		"awarded": awarded,
	})
}

// EndGame force-completes the game and announces the end.
func (s *Session) EndGame() error {
	s.mu.Lock()
	ev, err := func() (*envelope.Event, error) {
		if s.engine.Snapshot().Status == trivia.StatusCompleted {
			return nil, nil
		}
		if err := s.engine.EndGame(); err != nil {
			return nil, err
		}
		if err := s.replicateScores(); err != nil {
			return nil, err
		}
		return s.record(envelope.TypeGameEnd, map[string]any{"peer": s.id.ID})
	}()
	s.mu.Unlock()
	if err != nil || ev == nil {
		return err
	}
	return s.publish(ev)
}

// Tick expires an overdue round. When it closes one it behaves exactly like
// EndRound: scores replicate and the result is announced.
func (s *Session) Tick() (bool, error) {
	s.mu.Lock()
	if !s.engine.Tick() {
		s.mu.Unlock()
		return false, nil
	}
	ev, err := s.recordRoundEnd()
	s.mu.Unlock()
	if err != nil {
		return true, err
	}
	return true, s.publish(ev)
}

// RunTicker drives Tick at the given interval until the context ends. Only
// the elected host closes rounds; everyone else's ticks are no-ops because
// the mirror applies the host's round-end first in the common case, and
// duplicate round-ends are absorbed by the engine anyway.
func (s *Session) RunTicker(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.isHost() {
				continue
			}
			closed, err := s.Tick()
			if err != nil {
				s.logger.Error("round tick failed", "err", err)
			} else if closed {
				s.logger.Info("round expired")
			}
		}
	}
}

// Snapshot returns a deep copy of the local game state.
func (s *Session) Snapshot() *trivia.Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Snapshot()
}

// Host elects the room host from the replicated player set. The result is
// sticky: once this session has seen a host it keeps it for as long as the
// peer remains a connected player.
func (s *Session) Host() (*election.Selection, error) {
	players, err := s.store.Players()
	if err != nil {
		return nil, err
	}
	candidates := make([]election.Candidate, 0, len(players))
	for _, p := range players {
		if !p.Connected {
			continue
		}
		joinedAt := p.JoinedAt
		candidates = append(candidates, election.Candidate{
			PeerID:   p.ID,
			JoinedAt: &joinedAt,
		})
	}
	s.mu.Lock()
	incumbent := s.hostID
	s.mu.Unlock()
	sel := election.Elect(candidates, incumbent)
	s.mu.Lock()
	if sel != nil {
		s.hostID = sel.PeerID
	} else {
		s.hostID = ""
	}
	s.mu.Unlock()
	return sel, nil
}

// IsHost reports whether this peer is currently the elected host.
func (s *Session) IsHost() (bool, error) {
	sel, err := s.Host()
	if err != nil {
		return false, err
	}
	return sel != nil && sel.PeerID == s.id.ID, nil
}

func (s *Session) isHost() bool {
	host, err := s.IsHost()
	if err != nil {
		s.logger.Warn("host election read failed", "err", err)
		return false
	}
	return host
}

// lookupPlayer is called with the lock held, right after an engine mutation.
func (s *Session) lookupPlayer(id string) trivia.Player {
	for _, p := range s.engine.Snapshot().Players {
		if p.ID == id {
			return p
		}
	}
	return trivia.Player{ID: id}
}

func (s *Session) replicateScores() error {
	for _, sc := range s.engine.Snapshot().Scores {
		if err := s.store.SetScore(sc); err != nil {
			return fmt.Errorf("replicate score for %s: %w", sc.PlayerID, err)
		}
	}
	return nil
}

// record appends the signed record to the replicated log and returns the
// event for publishing. Called with the lock held; the bus publish happens
// after the lock is released so an in-process transport delivering
// synchronously into another session can never deadlock two sessions against
// each other.
func (s *Session) record(t envelope.Type, payload map[string]any) (*envelope.Event, error) {
	ev := envelope.New(t, payload)
	if err := s.store.AppendEvent(ev); err != nil {
		return nil, fmt.Errorf("append %s event: %w", t, err)
	}
	return ev, nil
}

func (s *Session) publish(ev *envelope.Event) error {
	if err := s.topics.Publish(ev); err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// mirror applies a frame from the bus onto the local engine. The peer's own
// publishes echo back from the bus; they are filtered before the lock, which
// also keeps in-process transports from re-entering a held session mutex.
// Rejections of remote frames are logged at debug and dropped.
func (s *Session) mirror(ev *envelope.Event) {
	peer, _ := ev.Payload["peer"].(string)
	if peer == s.id.ID {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case envelope.TypeJoin:
		if peer == "" {
			return
		}
		name, _ := ev.Payload["name"].(string)
		joinedAt := payloadInt64(ev.Payload["joinedAt"])
		// Remote peers already passed their own password check before
		// announcing, so mirrored joins reuse the local room password.
		err := s.engine.JoinPlayer(trivia.Player{ID: peer, Name: name, JoinedAt: joinedAt}, s.password)
		if err != nil {
			s.logger.Debug("mirror join dropped", "peer", peer, "err", err)
		}
	case envelope.TypeLeave:
		if peer == "" {
			return
		}
		if err := s.engine.LeavePlayer(peer); err != nil {
			s.logger.Debug("mirror leave dropped", "peer", peer, "err", err)
		}
	case envelope.TypeGameStart:
		questions, err := payloadQuestions(ev.Payload["questions"])
		if err != nil {
			s.logger.Debug("mirror game-start dropped", "err", err)
			return
		}
		if err := s.engine.StartGameWith(questions); err != nil {
			s.logger.Debug("mirror game-start dropped", "err", err)
		}
	case envelope.TypeRoundStart:
		if err := s.engine.StartRound(); err != nil {
			s.logger.Debug("mirror round-start dropped", "err", err)
		}
	case envelope.TypeAnswerSubmit:
		if peer == "" {
			return
		}
		choice := payloadInt(ev.Payload["choice"], -1)
		s.engine.SubmitAnswer(peer, choice)
	case envelope.TypeRoundEnd:
		if err := s.engine.EndRound(); err != nil {
			s.logger.Debug("mirror round-end dropped", "err", err)
		}
	case envelope.TypeGameEnd:
		if err := s.engine.EndGame(); err != nil {
			s.logger.Debug("mirror game-end dropped", "err", err)
		}
	}
}

// toPayloadValue round-trips v through JSON so payloads hold only plain JSON
// types, which keeps envelope signing and cloning well defined.
func toPayloadValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func payloadQuestions(v any) ([]trivia.Question, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var questions []trivia.Question
	if err := json.Unmarshal(b, &questions); err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, errors.New("empty question list")
	}
	return questions, nil
}

// payloadInt64 reads a numeric payload field. JSON decoding hands numbers
// back as float64.
func payloadInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func payloadInt(v any, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	}
	return fallback
}
