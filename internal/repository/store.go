// Package repository persists games, players and game logs.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/config"
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

var (
	// ErrNotFound is returned when a game or player does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique key is already taken.
	ErrConflict = errors.New("conflict")
)

// GameSummary is the list view of a stored game.
type GameSummary struct {
	ID        string       `json:"id"`
	Status    rules.Status `json:"status"`
	Config    game.Config  `json:"config"`
	Winner    rules.Seat   `json:"winner,omitempty"`
	Turn      int          `json:"turn"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Player binds a token hash to one role in one game.
type Player struct {
	ID          string     `json:"id"`
	GameID      string     `json:"gameId"`
	Seat        rules.Role `json:"seat"`
	DisplayName string     `json:"displayName"`
	TokenHash   string     `json:"-"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Store is the persistence collaborator of the game coordinator.
type Store interface {
	CreateGame(ctx context.Context, state *game.GameState) error
	SaveGame(ctx context.Context, state *game.GameState) error
	LoadGame(ctx context.Context, id string) (*game.GameState, error)
	ListGames(ctx context.Context) ([]GameSummary, error)

	CreatePlayer(ctx context.Context, player Player) error
	PlayerByTokenHash(ctx context.Context, hash string) (Player, error)
	PlayersByGame(ctx context.Context, gameID string) ([]Player, error)

	// AppendLogs stores entries with sequence numbers starting at firstSeq.
	AppendLogs(ctx context.Context, gameID string, firstSeq int, entries []game.LogEntry) error
	LogsByGame(ctx context.Context, gameID string) ([]game.LogEntry, error)

	// Commit saves state and appends entries from firstSeq atomically. On
	// error neither the state nor the log changes.
	Commit(ctx context.Context, state *game.GameState, firstSeq int, entries []game.LogEntry) error

	Ping(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Info("using in-memory store")
		return NewMemoryStore(), nil
	case config.DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN, logger)
	case config.DriverPostgres:
		return OpenPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func summaryOf(s *game.GameState) GameSummary {
	return GameSummary{
		ID:        s.ID,
		Status:    s.Status,
		Config:    s.Config,
		Winner:    s.Winner,
		Turn:      s.Markers.Turn,
		CreatedAt: time.UnixMilli(s.CreatedAt).UTC(),
		UpdatedAt: time.UnixMilli(s.UpdatedAt).UTC(),
	}
}
