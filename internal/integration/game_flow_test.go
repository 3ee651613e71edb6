package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/buenosos/buenosos-server-go/internal/config"
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/catalog"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
	"github.com/buenosos/buenosos-server-go/internal/realtime"
	"github.com/buenosos/buenosos-server-go/internal/repository"
	"github.com/buenosos/buenosos-server-go/internal/server"
	"github.com/buenosos/buenosos-server-go/internal/table"
)

type gameServerEnv struct {
	http    *httptest.Server
	store   repository.Store
	manager *table.Manager
	hub     *realtime.Hub
	logger  *zap.Logger
}

func newGameServerEnv(t testing.TB, dbPath string) *gameServerEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	store, err := repository.Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, DSN: dbPath}, logger)
	require.NoError(t, err)

	clock := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	cat := catalog.Default()
	engine := game.NewEngine(cat, logger,
		game.WithRandom(game.NewRandom(42)),
		game.WithClock(func() time.Time { return clock }),
	)
	hub := realtime.NewHub(logger)
	manager := table.NewManager(store, engine, logger, table.WithPublisher(hub))
	api := server.NewAPI(manager, hub, cat, "*", logger)
	srv := httptest.NewServer(api.Handler())

	env := &gameServerEnv{http: srv, store: store, manager: manager, hub: hub, logger: logger}
	t.Cleanup(env.close)
	return env
}

func (e *gameServerEnv) close() {
	if e.http == nil {
		return
	}
	e.hub.Close()
	e.http.Close()
	_ = e.store.Close()
	e.http = nil
}

func (e *gameServerEnv) post(t testing.TB, path, token string, body any) map[string]any {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(http.MethodPost, e.http.URL+path, bytes.NewReader(payload))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Less(t, resp.StatusCode, 300, "POST %s returned %d", path, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (e *gameServerEnv) dial(t testing.TB, gameID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/ws/games/" + gameID + "?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type stateMessage struct {
	Type  string          `json:"type"`
	State *game.GameState `json:"state"`
	Code  string          `json:"code"`
}

func readState(t testing.TB, conn *websocket.Conn) *game.GameState {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg stateMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, realtime.TypeGameState, msg.Type, "unexpected %s %s", msg.Type, msg.Code)
	require.NotNil(t, msg.State)
	return msg.State
}

// TestGameFlowSurvivesRestart drives a game through a full turn over the
// socket, restarts the server on the same database and checks the game,
// its players and its log come back unchanged.
func TestGameFlowSurvivesRestart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flow.db")
	env := newGameServerEnv(t, dbPath)

	created := env.post(t, "/api/games", "", map[string]any{"displayName": "Ana", "config": map[string]any{"turnLimit": 3}})
	gameID := created["gameId"].(string)
	facilitatorToken := created["token"].(string)
	malososToken := env.post(t, "/api/games/"+gameID+"/join", "", map[string]any{"seat": "MALOSOS", "displayName": "Mallory"})["token"].(string)
	buenososToken := env.post(t, "/api/games/"+gameID+"/join", "", map[string]any{"seat": "BUENOSOS", "displayName": "Bob"})["token"].(string)

	facilitator := env.dial(t, gameID, facilitatorToken)
	assert.Equal(t, rules.StatusLobby, readState(t, facilitator).Status)
	buenosos := env.dial(t, gameID, buenososToken)
	readState(t, buenosos)

	env.post(t, "/api/games/"+gameID+"/start", facilitatorToken, nil)
	started := readState(t, facilitator)
	readState(t, buenosos)
	require.Equal(t, rules.StatusRunning, started.Status)
	assert.Len(t, started.Seats.Malosos.Hand, 5)
	assert.Len(t, started.Seats.Buenosos.Hand, 5)

	var current *game.GameState
	for i := 0; i < 20; i++ {
		require.NoError(t, facilitator.WriteJSON(realtime.Incoming{Type: realtime.TypeAdvancePhase, GameID: gameID}))
		current = readState(t, facilitator)
		other := readState(t, buenosos)
		require.Equal(t, len(current.Log), len(other.Log))
		if current.Markers.Turn == 2 || current.Status == rules.StatusFinished {
			break
		}
	}
	require.NotNil(t, current)
	require.Equal(t, 2, current.Markers.Turn, "a full turn should complete within 20 advances")

	want, err := game.Checksum(current)
	require.NoError(t, err)

	env.close()

	restarted := newGameServerEnv(t, dbPath)
	ctx := context.Background()

	reloaded, err := restarted.manager.GetGame(ctx, gameID)
	require.NoError(t, err)
	got, err := game.Checksum(reloaded)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	logs, err := restarted.store.LogsByGame(ctx, gameID)
	require.NoError(t, err)
	require.Len(t, logs, len(reloaded.Log))
	for i := range logs {
		assert.Equal(t, reloaded.Log[i].ID, logs[i].ID)
	}

	player, err := restarted.manager.Authenticate(ctx, malososToken)
	require.NoError(t, err)
	assert.Equal(t, rules.RoleMalosos, player.Seat)

	export, err := restarted.manager.ExportGame(ctx, gameID)
	require.NoError(t, err)
	assert.Len(t, export.Players, 3)
	assert.Len(t, export.Logs, len(logs))
	assert.Equal(t, want, export.Checksum.Hash)

	conn := restarted.dial(t, gameID, buenososToken)
	assert.Equal(t, 2, readState(t, conn).Markers.Turn)
}
