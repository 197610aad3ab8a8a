package trivia

// Status is the outer lifecycle of a game.
type Status string

const (
	StatusLobby      Status = "lobby"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// RoundStatus is the nested round lifecycle, cycling inside an in-progress
// game until the question list runs out.
type RoundStatus string

const (
	RoundIdle     RoundStatus = "idle"
	RoundActive   RoundStatus = "active"
	RoundComplete RoundStatus = "complete"
)

// Player is a participant. Players are never deleted: leaving only flips
// Connected and stamps LeftAt, so scoring history survives departures.
type Player struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	JoinedAt  int64  `json:"joinedAt"`
	Connected bool   `json:"connected"`
	LeftAt    *int64 `json:"leftAt,omitempty"`
}

// Score is one player's cumulative total, created lazily on first join.
type Score struct {
	PlayerID  string `json:"playerId"`
	Score     int    `json:"score"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Question is a static catalog entry. AnswerIndex is a 0-based index into
// Choices.
type Question struct {
	ID          string   `json:"id"`
	Prompt      string   `json:"prompt"`
	Choices     []string `json:"choices"`
	AnswerIndex int      `json:"answerIndex"`
}

// Clone returns a copy that shares nothing with the original, so catalog
// entries are never aliased into a running game.
func (q Question) Clone() Question {
	out := q
	out.Choices = append([]string(nil), q.Choices...)
	return out
}

// RoundResult records what happened in a finished round.
type RoundResult struct {
	Round    int            `json:"round"`
	Question Question       `json:"question"`
	Answers  map[string]int `json:"answers"`
	Awarded  map[string]int `json:"awarded"`
}

// Game is the full state of one trivia game.
type Game struct {
	RoomCode          string       `json:"roomCode"`
	Status            Status       `json:"status"`
	RoundStatus       RoundStatus  `json:"roundStatus"`
	Round             int          `json:"round"`
	SelectedQuestions []Question   `json:"selectedQuestions"`
	CurrentQuestion   *Question    `json:"currentQuestion,omitempty"`
	RoundEndsAt       *int64       `json:"roundEndsAt,omitempty"`
	Players           []Player     `json:"players"`
	Scores            []Score      `json:"scores"`
	LastRoundResult   *RoundResult `json:"lastRoundResult,omitempty"`
	StartedAt         *int64       `json:"startedAt,omitempty"`
	EndedAt           *int64       `json:"endedAt,omitempty"`
}

// Clone deep-copies the game so no internal state is aliased to callers.
func (g *Game) Clone() *Game {
	out := *g
	out.SelectedQuestions = make([]Question, len(g.SelectedQuestions))
	for i, q := range g.SelectedQuestions {
		out.SelectedQuestions[i] = q.Clone()
	}
	if g.CurrentQuestion != nil {
		q := g.CurrentQuestion.Clone()
		out.CurrentQuestion = &q
	}
	out.RoundEndsAt = cloneInt64(g.RoundEndsAt)
	out.StartedAt = cloneInt64(g.StartedAt)
	out.EndedAt = cloneInt64(g.EndedAt)
	out.Players = make([]Player, len(g.Players))
	for i, p := range g.Players {
		p.LeftAt = cloneInt64(p.LeftAt)
		out.Players[i] = p
	}
	out.Scores = append([]Score(nil), g.Scores...)
	if g.LastRoundResult != nil {
		r := *g.LastRoundResult
		r.Question = g.LastRoundResult.Question.Clone()
		r.Answers = cloneIntMap(g.LastRoundResult.Answers)
		r.Awarded = cloneIntMap(g.LastRoundResult.Awarded)
		out.LastRoundResult = &r
	}
	return &out
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneIntMap(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
