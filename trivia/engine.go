// Package trivia implements the round-based trivia game state machine. One
// Engine owns one Game and its in-flight answer set exclusively; every
// mutation goes through the documented operations and every returned state is
// a deep copy. The engine is a single logical actor: callers that drive it
// from multiple goroutines serialize around it themselves.
package trivia

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

var (
	ErrInvalidPassword      = errors.New("invalid room password")
	ErrInvalidPlayer        = errors.New("invalid player")
	ErrGameEnded            = errors.New("game already ended")
	ErrGameAlreadyStarted   = errors.New("game already started")
	ErrGameNotStarted       = errors.New("game not started")
	ErrNoPlayers            = errors.New("no players in lobby")
	ErrRoundActive          = errors.New("round already active")
	ErrNoActiveRound        = errors.New("no active round")
	ErrNoQuestionsRemaining = errors.New("no questions remaining")
)

// Config configures one game engine. Zero values fall back to sensible
// defaults; Rand and Now are injectable so tests run deterministically.
type Config struct {
	RoomCode         string
	Password         string
	QuestionCount    int
	RoundDuration    time.Duration
	PointsPerCorrect int
	Catalog          []Question
	Rand             *rand.Rand
	Now              func() time.Time
}

const (
	defaultQuestionCount    = 5
	defaultRoundDuration    = 30 * time.Second
	defaultPointsPerCorrect = 100
)

// Engine arbitrates one trivia game. The instance running it is the round
// arbiter for itself; other peers mirror its effects via replicated events.
type Engine struct {
	cfg     Config
	game    Game
	answers map[string]int
}

func NewEngine(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.RoomCode) == "" {
		return nil, fmt.Errorf("blank room code")
	}
	if cfg.QuestionCount <= 0 {
		cfg.QuestionCount = defaultQuestionCount
	}
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = defaultRoundDuration
	}
	if cfg.PointsPerCorrect <= 0 {
		cfg.PointsPerCorrect = defaultPointsPerCorrect
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg: cfg,
		game: Game{
			RoomCode:    cfg.RoomCode,
			Status:      StatusLobby,
			RoundStatus: RoundIdle,
		},
		answers: make(map[string]int),
	}, nil
}

func (e *Engine) nowMilli() int64 {
	return e.cfg.Now().UnixMilli()
}

// CanJoin reports whether the supplied password admits a player: either no
// password is configured, or the trimmed attempt matches it.
func (e *Engine) CanJoin(password string) bool {
	return e.cfg.Password == "" || strings.TrimSpace(password) == e.cfg.Password
}

// JoinPlayer admits a player to the game. Re-joining with an existing id
// updates the name and connectivity in place rather than duplicating the
// player; the original JoinedAt is preserved. A score record is created
// lazily on first join.
func (e *Engine) JoinPlayer(p Player, password string) error {
	if !e.CanJoin(password) {
		return ErrInvalidPassword
	}
	if e.game.Status == StatusCompleted {
		return ErrGameEnded
	}
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
		return ErrInvalidPlayer
	}
	now := e.nowMilli()
	for i := range e.game.Players {
		if e.game.Players[i].ID == p.ID {
			e.game.Players[i].Name = p.Name
			e.game.Players[i].Connected = true
			e.game.Players[i].LeftAt = nil
			return nil
		}
	}
	joinedAt := p.JoinedAt
	if joinedAt == 0 {
		joinedAt = now
	}
	e.game.Players = append(e.game.Players, Player{
		ID:        p.ID,
		Name:      p.Name,
		JoinedAt:  joinedAt,
		Connected: true,
	})
	e.game.Scores = append(e.game.Scores, Score{
		PlayerID:  p.ID,
		UpdatedAt: now,
	})
	return nil
}

// LeavePlayer soft-leaves: the player is marked disconnected and stamped, but
// neither the player nor its score is removed.
func (e *Engine) LeavePlayer(id string) error {
	for i := range e.game.Players {
		if e.game.Players[i].ID == id {
			now := e.nowMilli()
			e.game.Players[i].Connected = false
			e.game.Players[i].LeftAt = &now
			return nil
		}
	}
	return fmt.Errorf("%w: unknown id %q", ErrInvalidPlayer, id)
}

// StartGame selects the game's questions and moves the lobby in progress.
// Selection is a Fisher-Yates shuffle of the cloned catalog driven by the
// injected random source, truncated to the configured count.
func (e *Engine) StartGame() error {
	switch e.game.Status {
	case StatusInProgress:
		return ErrGameAlreadyStarted
	case StatusCompleted:
		return ErrGameEnded
	}
	if len(e.game.Players) == 0 {
		return ErrNoPlayers
	}
	pool := make([]Question, len(e.cfg.Catalog))
	for i, q := range e.cfg.Catalog {
		pool[i] = q.Clone()
	}
	for i := len(pool) - 1; i > 0; i-- {
		j := e.cfg.Rand.Intn(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}
	count := e.cfg.QuestionCount
	if count > len(pool) {
		count = len(pool)
	}
	now := e.nowMilli()
	e.game.SelectedQuestions = pool[:count]
	e.game.Status = StatusInProgress
	e.game.RoundStatus = RoundIdle
	e.game.Round = 0
	e.game.CurrentQuestion = nil
	e.game.RoundEndsAt = nil
	e.game.LastRoundResult = nil
	e.game.StartedAt = &now
	e.answers = make(map[string]int)
	return nil
}

// StartGameWith starts the game with an explicit, already ordered question
// list instead of drawing one from the catalog. Peers mirroring a start that
// another instance decided use this so everyone plays the same questions in
// the same order.
func (e *Engine) StartGameWith(questions []Question) error {
	switch e.game.Status {
	case StatusInProgress:
		return ErrGameAlreadyStarted
	case StatusCompleted:
		return ErrGameEnded
	}
	if len(questions) == 0 {
		return ErrNoQuestionsRemaining
	}
	selected := make([]Question, len(questions))
	for i, q := range questions {
		selected[i] = q.Clone()
	}
	now := e.nowMilli()
	e.game.SelectedQuestions = selected
	e.game.Status = StatusInProgress
	e.game.RoundStatus = RoundIdle
	e.game.Round = 0
	e.game.CurrentQuestion = nil
	e.game.RoundEndsAt = nil
	e.game.LastRoundResult = nil
	e.game.StartedAt = &now
	e.answers = make(map[string]int)
	return nil
}

// StartRound advances to the next question and opens the answer window.
func (e *Engine) StartRound() error {
	switch e.game.Status {
	case StatusLobby:
		return ErrGameNotStarted
	case StatusCompleted:
		return ErrGameEnded
	}
	if e.game.RoundStatus == RoundActive {
		return ErrRoundActive
	}
	if e.game.Round >= len(e.game.SelectedQuestions) {
		return ErrNoQuestionsRemaining
	}
	q := e.game.SelectedQuestions[e.game.Round].Clone()
	e.game.Round++
	e.game.CurrentQuestion = &q
	endsAt := e.nowMilli() + e.cfg.RoundDuration.Milliseconds()
	e.game.RoundEndsAt = &endsAt
	e.game.RoundStatus = RoundActive
	e.answers = make(map[string]int)
	return nil
}

// SubmitAnswer records one answer for the active round. It reports false,
// never an error, when the answer cannot count: late and duplicate answers
// are steady-state traffic in this system, not exceptions. The first answer
// a player lands in a round is the one that sticks.
func (e *Engine) SubmitAnswer(playerID string, choiceIndex int) bool {
	if e.game.Status != StatusInProgress || e.game.RoundStatus != RoundActive {
		return false
	}
	if e.game.CurrentQuestion == nil || e.game.RoundEndsAt == nil {
		return false
	}
	if e.nowMilli() >= *e.game.RoundEndsAt {
		return false
	}
	connected := false
	for i := range e.game.Players {
		if e.game.Players[i].ID == playerID {
			connected = e.game.Players[i].Connected
			break
		}
	}
	if !connected {
		return false
	}
	if _, answered := e.answers[playerID]; answered {
		return false
	}
	if choiceIndex < 0 || choiceIndex >= len(e.game.CurrentQuestion.Choices) {
		return false
	}
	e.answers[playerID] = choiceIndex
	return true
}

// EndRound closes the active round, awarding the configured points to every
// recorded correct answer. Ending the last round completes the game.
func (e *Engine) EndRound() error {
	if e.game.Status != StatusInProgress || e.game.RoundStatus != RoundActive {
		return ErrNoActiveRound
	}
	question := *e.game.CurrentQuestion
	now := e.nowMilli()
	result := RoundResult{
		Round:    e.game.Round,
		Question: question,
		Answers:  make(map[string]int, len(e.answers)),
		Awarded:  make(map[string]int),
	}
	for playerID, choice := range e.answers {
		result.Answers[playerID] = choice
		if choice != question.AnswerIndex {
			continue
		}
		result.Awarded[playerID] = e.cfg.PointsPerCorrect
		for i := range e.game.Scores {
			if e.game.Scores[i].PlayerID == playerID {
				e.game.Scores[i].Score += e.cfg.PointsPerCorrect
				e.game.Scores[i].UpdatedAt = now
				break
			}
		}
	}
	e.game.LastRoundResult = &result
	e.game.RoundStatus = RoundComplete
	e.game.CurrentQuestion = nil
	e.game.RoundEndsAt = nil
	e.answers = make(map[string]int)
	if e.game.Round >= len(e.game.SelectedQuestions) {
		e.game.Status = StatusCompleted
		e.game.EndedAt = &now
	}
	return nil
}

// Tick auto-expires the active round once its deadline has elapsed. It is
// driven by an external periodic clock and reports whether it closed a round.
// On a completed game it is a no-op.
func (e *Engine) Tick() bool {
	if e.game.Status != StatusInProgress || e.game.RoundStatus != RoundActive {
		return false
	}
	if e.game.RoundEndsAt == nil || e.nowMilli() < *e.game.RoundEndsAt {
		return false
	}
	return e.EndRound() == nil
}

// EndGame force-completes the game, closing any active round first. Calling
// it on a completed game is a no-op.
func (e *Engine) EndGame() error {
	if e.game.Status == StatusCompleted {
		return nil
	}
	if e.game.RoundStatus == RoundActive {
		if err := e.EndRound(); err != nil {
			return err
		}
	}
	if e.game.Status != StatusCompleted {
		now := e.nowMilli()
		e.game.Status = StatusCompleted
		e.game.EndedAt = &now
	}
	return nil
}

// Snapshot returns a deep copy of the game state. Nothing the caller does to
// the snapshot can reach the engine's own state.
func (e *Engine) Snapshot() *Game {
	return e.game.Clone()
}
