package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/buenosos/buenosos-server-go/internal/game"
)

// MemoryStore keeps everything in process memory. States are stored in
// their encoded form so callers never share a live state with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	games   map[string][]byte
	players map[string]Player // keyed by token hash
	logs    map[string][]game.LogEntry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		games:   make(map[string][]byte),
		players: make(map[string]Player),
		logs:    make(map[string][]game.LogEntry),
	}
}

func (m *MemoryStore) CreateGame(ctx context.Context, state *game.GameState) error {
	data, err := game.MarshalState(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.games[state.ID]; ok {
		return fmt.Errorf("game %s: %w", state.ID, ErrConflict)
	}
	m.games[state.ID] = data
	return nil
}

func (m *MemoryStore) SaveGame(ctx context.Context, state *game.GameState) error {
	data, err := game.MarshalState(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.games[state.ID]; !ok {
		return fmt.Errorf("game %s: %w", state.ID, ErrNotFound)
	}
	m.games[state.ID] = data
	return nil
}

// Commit saves state and appends its new log entries, or does neither.
func (m *MemoryStore) Commit(ctx context.Context, state *game.GameState, firstSeq int, entries []game.LogEntry) error {
	data, err := game.MarshalState(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.games[state.ID]; !ok {
		return fmt.Errorf("game %s: %w", state.ID, ErrNotFound)
	}
	existing := m.logs[state.ID]
	if firstSeq != len(existing) {
		return fmt.Errorf("log sequence %d for game %s (have %d): %w", firstSeq, state.ID, len(existing), ErrConflict)
	}
	m.games[state.ID] = data
	m.logs[state.ID] = append(existing, entries...)
	return nil
}

func (m *MemoryStore) LoadGame(ctx context.Context, id string) (*game.GameState, error) {
	m.mu.RLock()
	data, ok := m.games[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
	}
	return game.UnmarshalState(data)
}

func (m *MemoryStore) ListGames(ctx context.Context) ([]GameSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]GameSummary, 0, len(m.games))
	for _, data := range m.games {
		state, err := game.UnmarshalState(data)
		if err != nil {
			return nil, err
		}
		out = append(out, summaryOf(state))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) CreatePlayer(ctx context.Context, player Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.games[player.GameID]; !ok {
		return fmt.Errorf("game %s: %w", player.GameID, ErrNotFound)
	}
	if _, ok := m.players[player.TokenHash]; ok {
		return fmt.Errorf("player token: %w", ErrConflict)
	}
	m.players[player.TokenHash] = player
	return nil
}

func (m *MemoryStore) PlayerByTokenHash(ctx context.Context, hash string) (Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	player, ok := m.players[hash]
	if !ok {
		return Player{}, fmt.Errorf("player: %w", ErrNotFound)
	}
	return player, nil
}

func (m *MemoryStore) PlayersByGame(ctx context.Context, gameID string) ([]Player, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Player
	for _, player := range m.players {
		if player.GameID == gameID {
			out = append(out, player)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) AppendLogs(ctx context.Context, gameID string, firstSeq int, entries []game.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.logs[gameID]
	if firstSeq != len(existing) {
		return fmt.Errorf("log sequence %d for game %s (have %d): %w", firstSeq, gameID, len(existing), ErrConflict)
	}
	m.logs[gameID] = append(existing, entries...)
	return nil
}

func (m *MemoryStore) LogsByGame(ctx context.Context, gameID string) ([]game.LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return append([]game.LogEntry{}, m.logs[gameID]...), nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
