package table

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// ExportPlayer is a player as it appears in an export. Tokens are never exported.
type ExportPlayer struct {
	ID          string     `json:"id"`
	Seat        rules.Role `json:"seat"`
	DisplayName string     `json:"displayName"`
}

// Export is the downloadable record of a game.
type Export struct {
	GameID               string                  `json:"gameId"`
	ExportedAt           time.Time               `json:"exportedAt"`
	Config               game.Config             `json:"config"`
	Status               rules.Status            `json:"status"`
	Winner               *rules.Seat             `json:"winner"`
	Markers              game.Markers            `json:"markers"`
	Services             map[string]game.Service `json:"services"`
	Campaign             game.CampaignState      `json:"campaign"`
	ServicesRecovered    []string                `json:"servicesRecovered"`
	ServicesThatWentDown []string                `json:"servicesThatWentDown"`
	Checksum             *game.StateChecksum     `json:"checksum"`
	Players              []ExportPlayer          `json:"players"`
	Logs                 []game.LogEntry         `json:"logs"`
}

// ExportGame assembles the final state, players and persisted log of a game.
func (m *Manager) ExportGame(ctx context.Context, gameID string) (*Export, error) {
	state, err := m.store.LoadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	players, err := m.store.PlayersByGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	logs, err := m.store.LogsByGame(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	checksum, err := game.ComputeChecksum(state)
	if err != nil {
		return nil, err
	}

	out := &Export{
		GameID:               state.ID,
		ExportedAt:           m.now().UTC(),
		Config:               state.Config,
		Status:               state.Status,
		Markers:              state.Markers,
		Services:             state.Services,
		Campaign:             state.Campaign,
		ServicesRecovered:    state.ServicesRecovered,
		ServicesThatWentDown: state.ServicesThatWentDown,
		Checksum:             checksum,
		Players:              make([]ExportPlayer, 0, len(players)),
		Logs:                 logs,
	}
	if state.Winner != "" {
		winner := state.Winner
		out.Winner = &winner
	}
	for _, p := range players {
		out.Players = append(out.Players, ExportPlayer{ID: p.ID, Seat: p.Seat, DisplayName: p.DisplayName})
	}
	return out, nil
}

// ExportReplay writes the persisted log of a game as a replay stream.
func (m *Manager) ExportReplay(ctx context.Context, gameID string, w io.Writer) error {
	if _, err := m.store.LoadGame(ctx, gameID); err != nil {
		return err
	}
	logs, err := m.store.LogsByGame(ctx, gameID)
	if err != nil {
		return fmt.Errorf("list logs: %w", err)
	}
	if _, err := game.NewReplayFromLog(gameID, logs).WriteTo(w); err != nil {
		return fmt.Errorf("write replay: %w", err)
	}
	return nil
}

// ServiceChange records how one service moved during an action.
type ServiceChange struct {
	FromState rules.ServiceState `json:"fromState"`
	ToState   rules.ServiceState `json:"toState"`
	FromInt   int                `json:"fromInt"`
	ToInt     int                `json:"toInt"`
}

// StateDiff summarises what an action changed on the board.
type StateDiff struct {
	Services map[string]ServiceChange `json:"services,omitempty"`
	Markers  *game.Markers            `json:"markers,omitempty"`
	Budget   map[rules.Seat]int       `json:"budget,omitempty"`
}

// Diff compares two states of the same game. Nil states give an empty diff.
func Diff(before, after *game.GameState) StateDiff {
	var d StateDiff
	if before == nil || after == nil {
		return d
	}

	ids := make([]string, 0, len(after.Services))
	for id := range after.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		was, now := before.Services[id], after.Services[id]
		if was.State == now.State && was.Int == now.Int {
			continue
		}
		if d.Services == nil {
			d.Services = make(map[string]ServiceChange)
		}
		d.Services[id] = ServiceChange{FromState: was.State, ToState: now.State, FromInt: was.Int, ToInt: now.Int}
	}

	if before.Markers != after.Markers {
		markers := after.Markers
		d.Markers = &markers
	}

	for _, seat := range rules.Seats {
		was, now := before.Seats.Get(seat).BudgetRemaining, after.Seats.Get(seat).BudgetRemaining
		if was != now {
			if d.Budget == nil {
				d.Budget = make(map[rules.Seat]int)
			}
			d.Budget[seat] = now
		}
	}
	return d
}
