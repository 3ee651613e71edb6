package realtime

import (
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// Message types on the game channel.
const (
	TypeGameState    = "GAME_STATE"
	TypeActionResult = "ACTION_RESULT"
	TypeError        = "ERROR"

	TypePlayCard       = "PLAY_CARD"
	TypeUseBasicAction = "USE_BASIC_ACTION"
	TypeAdvancePhase   = "ADVANCE_PHASE"
)

// GameStateMessage carries the full state after any change.
type GameStateMessage struct {
	Type  string          `json:"type"`
	State *game.GameState `json:"state"`
}

// NewGameStateMessage wraps state for broadcast.
func NewGameStateMessage(state *game.GameState) GameStateMessage {
	return GameStateMessage{Type: TypeGameState, State: state}
}

// ActionResultMessage is sent only to the player who played a card.
type ActionResultMessage struct {
	Type     string        `json:"type"`
	LogEntry game.LogEntry `json:"logEntry"`
	Diff     any           `json:"diff"`
}

// ErrorMessage is sent only to the client whose message failed.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorMessage builds an ERROR message.
func NewErrorMessage(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Code: code, Message: message}
}

// Incoming is any client message. Fields not used by Type are ignored.
type Incoming struct {
	Type           string       `json:"type"`
	GameID         string       `json:"gameId,omitempty"`
	Side           rules.Seat   `json:"side,omitempty"`
	CardID         string       `json:"cardId,omitempty"`
	Targets        []string     `json:"targets,omitempty"`
	Target         string       `json:"target,omitempty"`
	RequestedPhase *rules.Phase `json:"requestedPhase,omitempty"`
}
