// Command spectator follows a game over its WebSocket and prints a summary
// of every message. Lines typed on stdin are sent as actions:
//
//	advance [PHASE]
//	play SIDE CARD [TARGET...]
//	basic SIDE [TARGET]
//
// With -record DIR the action results seen live are saved as DIR/<game>.replay
// on exit. With -replay DIR a saved replay is played back offline instead.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
	"github.com/buenosos/buenosos-server-go/internal/realtime"
)

type inbound struct {
	Type     string          `json:"type"`
	State    *game.GameState `json:"state,omitempty"`
	LogEntry *game.LogEntry  `json:"logEntry,omitempty"`
	Code     string          `json:"code,omitempty"`
	Message  string          `json:"message,omitempty"`
}

func main() {
	server := flag.String("url", "http://localhost:3001", "server base URL")
	gameID := flag.String("game", "", "game id")
	token := flag.String("token", "", "player token")
	recordDir := flag.String("record", "", "save the action results seen to this directory")
	replayDir := flag.String("replay", "", "play back <dir>/<game>.replay instead of connecting")
	delay := flag.Duration("delay", 0, "pause between entries during playback")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *replayDir != "" {
		if *gameID == "" {
			logger.Fatal("-game is required")
		}
		replay, err := game.LoadReplayFromFile(*replayDir, *gameID)
		if err != nil {
			logger.Fatal("failed to load replay", zap.String("dir", *replayDir), zap.Error(err))
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		playback(ctx, logger, replay, *delay)
		return
	}

	if *gameID == "" || *token == "" {
		logger.Fatal("both -game and -token are required")
	}

	var recording *game.Replay
	if *recordDir != "" {
		recording = game.NewReplay(*gameID)
	}

	wsURL, err := socketURL(*server, *gameID, *token)
	if err != nil {
		logger.Fatal("invalid server URL", zap.Error(err))
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		logger.Fatal("failed to connect", zap.String("game_id", *gameID), zap.Error(err))
	}
	defer conn.Close()
	logger.Info("connected", zap.String("game_id", *gameID))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
					logger.Warn("connection lost", zap.Error(err))
				}
				return
			}
			if entry := report(logger, data); entry != nil && recording != nil {
				recording.Record(*entry)
			}
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			msg, err := parseCommand(*gameID, scanner.Text())
			if err != nil {
				logger.Warn("ignored command", zap.Error(err))
				continue
			}
			if msg == nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Error("failed to send", zap.Error(err))
				return
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-done:
	case <-sigChan:
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
	logger.Info("disconnected")

	if recording != nil {
		if err := recording.SaveToFile(*recordDir); err != nil {
			logger.Error("failed to save recording", zap.Error(err))
			return
		}
		logger.Info("recording saved", zap.String("dir", *recordDir), zap.Int("entries", recording.Size()))
	}
}

// socketURL turns an http(s) base URL into the game's ws(s) endpoint.
func socketURL(base, gameID, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws/games/" + url.PathEscape(gameID)
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String(), nil
}

// parseCommand converts a stdin line to an outbound message. Blank lines
// yield nil.
func parseCommand(gameID, line string) (*realtime.Incoming, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}
	msg := &realtime.Incoming{GameID: gameID}
	switch strings.ToLower(fields[0]) {
	case "advance":
		msg.Type = realtime.TypeAdvancePhase
		if len(fields) > 1 {
			phase, err := rules.ParsePhase(fields[1])
			if err != nil {
				return nil, err
			}
			msg.RequestedPhase = &phase
		}
	case "play":
		if len(fields) < 3 {
			return nil, fmt.Errorf("usage: play SIDE CARD [TARGET...]")
		}
		seat, err := rules.ParseSeat(fields[1])
		if err != nil {
			return nil, err
		}
		msg.Type = realtime.TypePlayCard
		msg.Side = seat
		msg.CardID = strings.ToUpper(fields[2])
		msg.Targets = fields[3:]
	case "basic":
		if len(fields) < 2 {
			return nil, fmt.Errorf("usage: basic SIDE [TARGET]")
		}
		seat, err := rules.ParseSeat(fields[1])
		if err != nil {
			return nil, err
		}
		msg.Type = realtime.TypeUseBasicAction
		msg.Side = seat
		if len(fields) > 2 {
			msg.Target = fields[2]
		}
	default:
		return nil, fmt.Errorf("unknown command %q", fields[0])
	}
	return msg, nil
}

// report logs one server message and returns the log entry it carries, if
// any.
func report(logger *zap.Logger, data []byte) *game.LogEntry {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("undecodable message", zap.Error(err))
		return nil
	}

	switch msg.Type {
	case realtime.TypeGameState:
		if msg.State == nil {
			return nil
		}
		s := msg.State
		fields := []zap.Field{
			zap.String("status", string(s.Status)),
			zap.Int("turn", s.Markers.Turn),
			zap.Stringer("phase", s.Markers.Phase),
			zap.Int("stability", s.Markers.Stability),
			zap.Int("trust", s.Markers.Trust),
			zap.Int("malosos_budget", s.Seats.Malosos.BudgetRemaining),
			zap.Int("buenosos_budget", s.Seats.Buenosos.BudgetRemaining),
		}
		if s.Winner != "" {
			fields = append(fields, zap.String("winner", string(s.Winner)))
		}
		if n := len(s.Log); n > 0 {
			fields = append(fields, zap.String("last_action", s.Log[n-1].Action))
		}
		logger.Info("game state", fields...)
	case realtime.TypeActionResult:
		if msg.LogEntry != nil {
			logger.Info("action result",
				zap.String("action", msg.LogEntry.Action),
				zap.String("actor", string(msg.LogEntry.Actor)),
				zap.Any("details", msg.LogEntry.Details),
			)
		}
		return msg.LogEntry
	case realtime.TypeError:
		logger.Warn("server error", zap.String("code", msg.Code), zap.String("message", msg.Message))
	default:
		logger.Debug("unhandled message", zap.String("type", msg.Type))
	}
	return nil
}
