package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
)

// ErrClientClosed is returned when sending to a client that has left.
var ErrClientClosed = errors.New("client closed")

// Client is one WebSocket connection bound to a game and a player.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	gameID   string
	playerID string
	logger   *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewClient wraps conn. The client is not subscribed until Subscribe.
func NewClient(hub *Hub, conn *websocket.Conn, gameID, playerID string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		gameID:   gameID,
		playerID: playerID,
		logger:   hub.logger,
		send:     make(chan []byte, sendBufferSize),
	}
}

// GameID returns the game the client watches.
func (c *Client) GameID() string {
	return c.gameID
}

// PlayerID returns the player behind the connection.
func (c *Client) PlayerID() string {
	return c.playerID
}

// Send queues msg for this client only.
func (c *Client) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if !c.enqueue(data) {
		return ErrClientClosed
	}
	return nil
}

func (c *Client) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump delivers each inbound message to handle until the connection
// fails, then unsubscribes the client.
func (c *Client) ReadPump(handle func(c *Client, data []byte)) {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read failed",
					zap.String("game_id", c.gameID),
					zap.String("player_id", c.playerID),
					zap.Error(err),
				)
			}
			return
		}
		handle(c, data)
	}
}

// WritePump drains the outbound queue and keeps the connection alive with
// pings. It returns when the queue is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
