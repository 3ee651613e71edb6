// Package realtime fans game updates out to WebSocket clients grouped in
// one room per game.
package realtime

import (
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/game"
)

// Hub is the registry of connected clients by game id.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: logger,
	}
}

// Subscribe adds c to the room of its game.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.gameID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[c.gameID] = room
	}
	room[c] = struct{}{}
	size := len(room)
	h.mu.Unlock()

	h.logger.Info("client subscribed",
		zap.String("game_id", c.gameID),
		zap.String("player_id", c.playerID),
		zap.Int("room_size", size),
	)
}

// Unsubscribe removes c and closes its outbound queue. Empty rooms are dropped.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	room, ok := h.rooms[c.gameID]
	if ok {
		if _, member := room[c]; member {
			delete(room, c)
		} else {
			ok = false
		}
		if len(room) == 0 {
			delete(h.rooms, c.gameID)
		}
	}
	h.mu.Unlock()

	c.closeSend()
	if ok {
		h.logger.Info("client unsubscribed",
			zap.String("game_id", c.gameID),
			zap.String("player_id", c.playerID),
		)
	}
}

// Publish sends msg to every client in the game's room. Clients whose
// queue is full are dropped.
func (h *Hub) Publish(gameID string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.rooms[gameID]))
	for c := range h.rooms[gameID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(data) {
			h.logger.Warn("dropping slow client",
				zap.String("game_id", gameID),
				zap.String("player_id", c.playerID),
			)
			h.Unsubscribe(c)
		}
	}
	return nil
}

// PublishState broadcasts a GAME_STATE message for state.
func (h *Hub) PublishState(gameID string, state *game.GameState) {
	if err := h.Publish(gameID, NewGameStateMessage(state)); err != nil {
		h.logger.Error("failed to publish game state", zap.String("game_id", gameID), zap.Error(err))
	}
}

// RoomSize returns the number of clients watching a game.
func (h *Hub) RoomSize(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[gameID])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()

	for _, room := range rooms {
		for c := range room {
			c.closeSend()
		}
	}
}
