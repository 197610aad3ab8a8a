package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/MHolmes91/trivir/bus"
	"github.com/MHolmes91/trivir/discovery"
	"github.com/MHolmes91/trivir/identity"
	"github.com/MHolmes91/trivir/network"
	"github.com/MHolmes91/trivir/roomstore"
	"github.com/MHolmes91/trivir/session"
	"github.com/MHolmes91/trivir/trivia"
)

func main() {
	relayAddr := flag.String("relay", "", "relay address to dial (host:port or ws:// URL); empty plays locally")
	dbPath := flag.String("db", "", "identity database path (default ~/.trivir/identity.db)")
	discoveryPort := flag.Int("discovery-port", 9734, "UDP multicast discovery port")
	flag.Parse()

	handler := pterm.NewSlogHandler(&pterm.DefaultLogger)
	logger := slog.New(handler)

	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("T", pterm.FgCyan.ToStyle()),
		putils.LettersFromStringWithStyle("rivir", pterm.FgDarkGray.ToStyle()),
	).Render()

	id, err := loadIdentity(*dbPath, logger)
	if err != nil {
		logger.Error("could not load identity", "err", err)
		os.Exit(1)
	}
	pterm.Info.Printfln("Your peer id: %s", id.ID)

	name, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Enter your name").Show()
	room, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Enter the room code").Show()
	password, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Enter the room password (empty for none)").WithMask("*").Show()
	pterm.Println()

	var mb bus.MessageBus
	if *relayAddr != "" {
		node, err := network.NewNode(id, network.WithLogger(logger))
		if err != nil {
			logger.Error("could not build network node", "err", err)
			os.Exit(1)
		}
		spinner, _ := pterm.DefaultSpinner.Start("Connecting to relay " + *relayAddr + " ...")
		if err := node.Dial(*relayAddr); err != nil {
			spinner.Fail()
			logger.Error("relay connection failed", "err", err)
			os.Exit(1)
		}
		spinner.Success()
		defer node.Close()
		mb = node
	} else {
		pterm.Info.Println("No relay configured, playing on this machine only")
		mb = bus.NewMemBus()
	}

	s, err := session.New(session.Config{
		Identity: id,
		Bus:      mb,
		KV:       roomstore.NewMemKV(),
		Game: trivia.Config{
			RoomCode: room,
			Password: password,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("could not open room session", "err", err)
		os.Exit(1)
	}
	defer s.Close()

	if err := s.Join(name, password); err != nil {
		logger.Error("could not join the room", "err", err)
		os.Exit(1)
	}
	pterm.Success.Printfln("Joined room %q as %s", room, name)

	announcer := &discovery.Announcer{
		Announcement: discovery.Announcement{
			PeerID:   id.ID,
			Room:     room,
			JoinedAt: time.Now().UnixMilli(),
		},
		Port:     uint16(*discoveryPort),
		Interval: 2 * time.Second,
	}
	if err := announcer.Start(); err != nil {
		logger.Warn("multicast discovery unavailable", "err", err)
	} else {
		defer announcer.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.RunTicker(ctx, time.Second)

	runLobby(s, logger)
}

func loadIdentity(path string, logger *slog.Logger) (*identity.Identity, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			logger.Warn("no home directory, using an ephemeral identity", "err", err)
			return identity.Generate()
		}
		path = filepath.Join(home, ".trivir", "identity.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	st, err := identity.OpenBoltStorage(path)
	if err != nil {
		return nil, err
	}
	return identity.New(st)
}

func runLobby(s *session.Session, logger *slog.Logger) {
	const (
		actStart  = "Start game"
		actRound  = "Start round"
		actAnswer = "Answer"
		actEnd    = "End round"
		actBoard  = "Show room"
		actFinish = "End game"
		actQuit   = "Quit"
	)
	for {
		g := s.Snapshot()
		printRoom(s, g)

		var options []string
		switch {
		case g.Status == trivia.StatusLobby:
			options = []string{actStart, actBoard, actQuit}
		case g.Status == trivia.StatusCompleted:
			options = []string{actBoard, actQuit}
		case g.RoundStatus == trivia.RoundActive:
			options = []string{actAnswer, actEnd, actBoard, actQuit}
		default:
			options = []string{actRound, actFinish, actBoard, actQuit}
		}

		choice, _ := pterm.DefaultInteractiveSelect.WithDefaultText("What next?").WithOptions(options).Show()
		switch choice {
		case actStart:
			if err := s.StartGame(); err != nil {
				pterm.Error.Printfln("Cannot start the game: %v", err)
			}
		case actRound:
			if err := s.StartRound(); err != nil {
				pterm.Error.Printfln("Cannot start a round: %v", err)
			}
		case actAnswer:
			answerPrompt(s)
		case actEnd:
			if err := s.EndRound(); err != nil {
				pterm.Error.Printfln("Cannot end the round: %v", err)
			}
		case actFinish:
			if confirm, _ := pterm.DefaultInteractiveConfirm.WithDefaultText("End the game for everyone?").Show(); !confirm {
				continue
			}
			if err := s.EndGame(); err != nil {
				pterm.Error.Printfln("Cannot end the game: %v", err)
			}
		case actBoard:
			// Loop re-renders.
		case actQuit:
			if err := s.Leave(); err != nil {
				logger.Warn("leave announcement failed", "err", err)
			}
			pterm.Info.Println("Bye!")
			return
		}
	}
}

func answerPrompt(s *session.Session) {
	g := s.Snapshot()
	q := g.CurrentQuestion
	if q == nil {
		pterm.Warning.Println("The round already closed")
		return
	}
	choice, _ := pterm.DefaultInteractiveSelect.WithDefaultText(q.Prompt).WithOptions(q.Choices).Show()
	for i, c := range q.Choices {
		if c != choice {
			continue
		}
		ok, err := s.SubmitAnswer(i)
		if err != nil {
			pterm.Error.Printfln("Answer not delivered: %v", err)
			return
		}
		if !ok {
			pterm.Warning.Println("Answer did not count (too late or already answered)")
			return
		}
		pterm.Success.Println("Answer locked in")
		return
	}
}
