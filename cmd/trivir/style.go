package main

import (
	"strconv"
	"time"

	"github.com/pterm/pterm"

	"github.com/MHolmes91/trivir/session"
	"github.com/MHolmes91/trivir/trivia"
)

func printRoom(s *session.Session, g *trivia.Game) {
	var panels []pterm.Panel
	for _, p := range g.Players {
		panels = append(panels, pterm.Panel{Data: printPlayerInfo(p, scoreFor(g, p.ID), p.ID == s.PeerID())})
	}
	status := pterm.Panel{Data: printStatusInfo(s, g)}
	rows := [][]pterm.Panel{panels, {status}}
	if g.RoundStatus == trivia.RoundActive && g.CurrentQuestion != nil {
		rows = append(rows, []pterm.Panel{{Data: printQuestionInfo(g)}})
	}
	if g.LastRoundResult != nil {
		rows = append(rows, []pterm.Panel{{Data: printResultInfo(g)}})
	}
	pterm.DefaultPanel.WithPanels(rows).Render()
}

func scoreFor(g *trivia.Game, playerID string) int {
	for _, sc := range g.Scores {
		if sc.PlayerID == playerID {
			return sc.Score
		}
	}
	return 0
}

func printPlayerInfo(p trivia.Player, score int, main bool) string {
	hpadding := 4
	if main {
		hpadding = 10
	}
	pbox := pterm.DefaultBox.WithHorizontalPadding(hpadding).WithTopPadding(1).WithBottomPadding(1)
	var status string
	if p.Connected {
		status = pterm.LightGreen("Online")
	} else {
		status = pterm.LightRed("Left")
	}
	return pbox.WithTitle(p.Name).WithTitleTopLeft().Sprintf("Score: %d\n%s", score, status)
}

func printStatusInfo(s *session.Session, g *trivia.Game) string {
	host := "unknown"
	if sel, err := s.Host(); err == nil && sel != nil {
		host = sel.PeerID
		if sel.PeerID == s.PeerID() {
			host = pterm.LightCyan("you")
		}
	}
	info := "Room: " + g.RoomCode +
		" | Status: " + string(g.Status) +
		" | Round " + strconv.Itoa(g.Round) + "/" + strconv.Itoa(len(g.SelectedQuestions)) +
		" | Host: " + host
	return pterm.DefaultHeader.WithBackgroundStyle(pterm.BgBlue.ToStyle()).Sprint(info)
}

func printQuestionInfo(g *trivia.Game) string {
	q := g.CurrentQuestion
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	body := q.Prompt + "\n"
	for i, c := range q.Choices {
		body += "\n  " + strconv.Itoa(i+1) + ". " + c
	}
	if g.RoundEndsAt != nil {
		left := time.UnixMilli(*g.RoundEndsAt).Sub(time.Now()).Round(time.Second)
		if left > 0 {
			body += "\n\n" + pterm.LightYellow(left.String()+" left")
		}
	}
	return pbox.WithTitle(pterm.LightGreen("|QUESTION "+strconv.Itoa(g.Round)+"|")).WithTitleTopCenter().Sprint(body)
}

func printResultInfo(g *trivia.Game) string {
	r := g.LastRoundResult
	pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
	body := pterm.Sprintfln("Round %d: %s", r.Round, r.Question.Choices[r.Question.AnswerIndex])
	if len(r.Awarded) == 0 {
		body += "Nobody scored"
	}
	for playerID, points := range r.Awarded {
		body += pterm.Sprintfln("%s +%d", playerName(g, playerID), points)
	}
	return pbox.WithTitle(pterm.LightYellow("|LAST ROUND|")).WithTitleTopCenter().Sprint(body)
}

func playerName(g *trivia.Game, id string) string {
	for _, p := range g.Players {
		if p.ID == id {
			return p.Name
		}
	}
	return id
}
