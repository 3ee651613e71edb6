// Package server exposes the game coordinator over REST, WebSocket and gRPC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/auth"
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/catalog"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
	"github.com/buenosos/buenosos-server-go/internal/realtime"
	"github.com/buenosos/buenosos-server-go/internal/repository"
	"github.com/buenosos/buenosos-server-go/internal/table"
)

const maxBodyBytes = 1 << 20

// API serves the REST routes and the game WebSocket.
type API struct {
	manager  *table.Manager
	hub      *realtime.Hub
	catalog  *catalog.Catalog
	origin   string
	upgrader websocket.Upgrader
	logger   *zap.Logger
	now      func() time.Time
}

// NewAPI wires the transport to manager and hub. frontendOrigin is the
// single browser origin allowed by CORS; "*" allows any.
func NewAPI(manager *table.Manager, hub *realtime.Hub, cat *catalog.Catalog, frontendOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &API{
		manager: manager,
		hub:     hub,
		catalog: cat,
		origin:  frontendOrigin,
		logger:  logger,
		now:     time.Now,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     a.allowedOrigin,
	}
	return a
}

// Handler returns the routed handler with CORS, logging and panic recovery.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.health)
	mux.HandleFunc("GET /api/catalog", a.getCatalog)
	mux.HandleFunc("POST /api/games", a.createGame)
	mux.HandleFunc("GET /api/games", a.listGames)
	mux.HandleFunc("POST /api/games/{gameId}/join", a.joinGame)
	mux.HandleFunc("GET /api/games/{gameId}", a.withGameAccess(a.getGame))
	mux.HandleFunc("POST /api/games/{gameId}/start", a.withGameAccess(a.lifecycle(a.manager.StartGame)))
	mux.HandleFunc("POST /api/games/{gameId}/pause", a.withGameAccess(a.lifecycle(a.manager.PauseGame)))
	mux.HandleFunc("POST /api/games/{gameId}/resume", a.withGameAccess(a.lifecycle(a.manager.ResumeGame)))
	mux.HandleFunc("GET /api/games/{gameId}/export", a.withGameAccess(a.exportGame))
	mux.HandleFunc("GET /ws/games/{gameId}", a.serveWS)

	return a.recoverPanics(a.logRequests(a.cors(mux)))
}

func (a *API) allowedOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || a.origin == "*" || origin == a.origin
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (a.origin == "*" || origin == a.origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGameAccess requires a bearer token belonging to the game in the path.
func (a *API) withGameAccess(next func(http.ResponseWriter, *http.Request, repository.Player)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.BearerToken(r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		player, err := a.manager.Authenticate(r.Context(), token)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		if err := a.manager.Authorize(player, r.PathValue("gameId")); err != nil {
			a.writeError(w, r, err)
			return
		}
		next(w, r, player)
	}
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": a.now().UTC().Format(time.RFC3339Nano),
	})
}

func (a *API) getCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mapId":    a.catalog.MapID(),
		"services": a.catalog.Services(),
		"cards":    a.catalog.Cards(),
	})
}

type gameSettings struct {
	TurnLimit         int                    `json:"turnLimit"`
	BudgetPerTurn     int                    `json:"budgetPerTurn"`
	IntermittenceMode game.IntermittenceMode `json:"intermittenceMode"`
	MapID             string                 `json:"mapId"`
}

// createGameBody accepts the settings flat or nested under config; nested
// values win field by field.
type createGameBody struct {
	DisplayName string        `json:"displayName"`
	Seat        rules.Role    `json:"seat"`
	Config      *gameSettings `json:"config"`
	gameSettings
}

func (b createGameBody) settings() game.Config {
	cfg := game.Config{
		TurnLimit:         b.TurnLimit,
		BudgetPerTurn:     b.BudgetPerTurn,
		IntermittenceMode: b.IntermittenceMode,
		MapID:             b.MapID,
	}
	if n := b.Config; n != nil {
		if n.TurnLimit != 0 {
			cfg.TurnLimit = n.TurnLimit
		}
		if n.BudgetPerTurn != 0 {
			cfg.BudgetPerTurn = n.BudgetPerTurn
		}
		if n.IntermittenceMode != "" {
			cfg.IntermittenceMode = n.IntermittenceMode
		}
		if n.MapID != "" {
			cfg.MapID = n.MapID
		}
	}
	return cfg
}

func (a *API) createGame(w http.ResponseWriter, r *http.Request) {
	var body createGameBody
	if err := decodeBody(r, &body, true); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.manager.CreateGame(r.Context(), table.CreateGameRequest{
		DisplayName: body.DisplayName,
		Seat:        body.Seat,
		Config:      body.settings(),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *API) listGames(w http.ResponseWriter, r *http.Request) {
	games, err := a.manager.ListGames(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"games": games})
}

func (a *API) joinGame(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Seat        rules.Role `json:"seat"`
		DisplayName string     `json:"displayName"`
	}
	if err := decodeBody(r, &body, false); err != nil {
		a.writeError(w, r, err)
		return
	}
	res, err := a.manager.JoinGame(r.Context(), r.PathValue("gameId"), table.JoinGameRequest{
		Seat:        body.Seat,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) getGame(w http.ResponseWriter, r *http.Request, _ repository.Player) {
	state, err := a.manager.GetGame(r.Context(), r.PathValue("gameId"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

// lifecycle adapts a status transition of the coordinator to a route.
func (a *API) lifecycle(op func(context.Context, string) (*game.GameState, error)) func(http.ResponseWriter, *http.Request, repository.Player) {
	return func(w http.ResponseWriter, r *http.Request, _ repository.Player) {
		state, err := op(r.Context(), r.PathValue("gameId"))
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": state})
	}
}

func (a *API) exportGame(w http.ResponseWriter, r *http.Request, _ repository.Player) {
	gameID := r.PathValue("gameId")
	if r.URL.Query().Get("format") == "replay" {
		w.Header().Set("Content-Type", "application/gzip")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="game-%s.replay"`, gameID))
		if err := a.manager.ExportReplay(r.Context(), gameID, w); err != nil {
			w.Header().Del("Content-Disposition")
			a.writeError(w, r, err)
		}
		return
	}

	export, err := a.manager.ExportGame(r.Context(), gameID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="game-%s-export.json"`, gameID))
	writeJSON(w, http.StatusOK, export)
}

// decodeBody reads a JSON body into v. An empty body is accepted only when
// allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: invalid JSON body: %v", table.ErrBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := classify(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, apiError{Error: code, Message: message})
}
