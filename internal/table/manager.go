// Package table coordinates games between the transports, the engine and
// the store. Every mutation of a game runs under that game's lock.
package table

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/auth"
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
	"github.com/buenosos/buenosos-server-go/internal/repository"
)

var (
	// ErrBadRequest is returned for missing or malformed request fields.
	ErrBadRequest = errors.New("bad request")
	// ErrSeatTaken is returned when joining an occupied player seat.
	ErrSeatTaken = errors.New("seat taken")
	// ErrGameFinished is returned when joining a finished game.
	ErrGameFinished = errors.New("game finished")
	// ErrInvalidToken is returned when no player holds the token.
	ErrInvalidToken = errors.New("invalid token")
	// ErrForbidden is returned when a token belongs to another game.
	ErrForbidden = errors.New("player does not belong to this game")
)

// Publisher fans a new game state out to the game's subscribers.
type Publisher interface {
	PublishState(gameID string, state *game.GameState)
}

type nopPublisher struct{}

func (nopPublisher) PublishState(string, *game.GameState) {}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets where new states are pushed after each mutation.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.publisher = p
		}
	}
}

// WithDefaults sets the settings used for fields a create request leaves empty.
func WithDefaults(cfg game.Config) Option {
	return func(m *Manager) {
		m.defaults = cfg.WithDefaults()
	}
}

// Manager owns the game lifecycle: creation, seating, engine operations
// and persistence.
type Manager struct {
	store     repository.Store
	engine    *game.Engine
	publisher Publisher
	defaults  game.Config
	logger    *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a coordinator over store and engine.
func NewManager(store repository.Store, engine *game.Engine, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:     store,
		engine:    engine,
		publisher: nopPublisher{},
		defaults:  game.DefaultConfig(),
		logger:    logger,
		now:       time.Now,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Engine returns the rules engine the manager drives.
func (m *Manager) Engine() *game.Engine {
	return m.engine
}

// lock acquires the per-game mutex and returns its release.
func (m *Manager) lock(gameID string) func() {
	m.mu.Lock()
	l, ok := m.locks[gameID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[gameID] = l
	}
	m.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// CreateGameRequest describes a new game and its first player.
type CreateGameRequest struct {
	DisplayName string
	Seat        rules.Role
	Config      game.Config
}

// CreateGameResult is returned to the creator. Token is only ever shown here.
type CreateGameResult struct {
	GameID string            `json:"gameId"`
	Token  string            `json:"token"`
	Player repository.Player `json:"player"`
	State  *game.GameState   `json:"state"`
}

// CreateGame stores a lobby game and seats its creator, FACILITATOR unless
// the request names another role.
func (m *Manager) CreateGame(ctx context.Context, req CreateGameRequest) (*CreateGameResult, error) {
	if req.Seat == "" {
		req.Seat = rules.RoleFacilitator
	}
	if !req.Seat.Valid() {
		return nil, fmt.Errorf("%w: unknown seat %q", ErrBadRequest, req.Seat)
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		req.DisplayName = "Player"
	}

	cfg := m.fillConfig(req.Config)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	state := m.engine.Initialize(cfg, uuid.NewString())
	if err := m.store.CreateGame(ctx, state); err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}

	token, player, err := m.seatPlayer(ctx, state.ID, req.Seat, req.DisplayName)
	if err != nil {
		return nil, err
	}

	m.logger.Info("game created",
		zap.String("game_id", state.ID),
		zap.String("seat", string(player.Seat)),
		zap.Int("turn_limit", cfg.TurnLimit),
		zap.String("intermittence_mode", string(cfg.IntermittenceMode)),
	)
	return &CreateGameResult{GameID: state.ID, Token: token, Player: player, State: state}, nil
}

func (m *Manager) fillConfig(cfg game.Config) game.Config {
	if cfg.TurnLimit == 0 {
		cfg.TurnLimit = m.defaults.TurnLimit
	}
	if cfg.BudgetPerTurn == 0 {
		cfg.BudgetPerTurn = m.defaults.BudgetPerTurn
	}
	if cfg.IntermittenceMode == "" {
		cfg.IntermittenceMode = m.defaults.IntermittenceMode
	}
	if cfg.MapID == "" {
		cfg.MapID = m.defaults.MapID
	}
	return cfg
}

func (m *Manager) seatPlayer(ctx context.Context, gameID string, seat rules.Role, displayName string) (string, repository.Player, error) {
	token := auth.NewToken()
	player := repository.Player{
		ID:          uuid.NewString(),
		GameID:      gameID,
		Seat:        seat,
		DisplayName: displayName,
		TokenHash:   auth.HashToken(token),
		CreatedAt:   time.UnixMilli(m.now().UnixMilli()).UTC(),
	}
	if err := m.store.CreatePlayer(ctx, player); err != nil {
		return "", repository.Player{}, fmt.Errorf("create player: %w", err)
	}
	return token, player, nil
}

// JoinGameRequest asks for a seat in an existing game.
type JoinGameRequest struct {
	Seat        rules.Role
	DisplayName string
}

// JoinGameResult carries the new player's token.
type JoinGameResult struct {
	GameID      string     `json:"gameId"`
	Token       string     `json:"token"`
	PlayerID    string     `json:"playerId"`
	Seat        rules.Role `json:"seat"`
	DisplayName string     `json:"displayName"`
}

// JoinGame seats a new player. BUENOSOS and MALOSOS hold one player each;
// any number of facilitators may join.
func (m *Manager) JoinGame(ctx context.Context, gameID string, req JoinGameRequest) (*JoinGameResult, error) {
	if req.Seat == "" || strings.TrimSpace(req.DisplayName) == "" {
		return nil, fmt.Errorf("%w: seat and displayName are required", ErrBadRequest)
	}
	if !req.Seat.Valid() {
		return nil, fmt.Errorf("%w: unknown seat %q", ErrBadRequest, req.Seat)
	}

	unlock := m.lock(gameID)
	defer unlock()

	state, err := m.store.LoadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if state.Status == rules.StatusFinished {
		return nil, ErrGameFinished
	}

	if req.Seat != rules.RoleFacilitator {
		players, err := m.store.PlayersByGame(ctx, gameID)
		if err != nil {
			return nil, fmt.Errorf("list players: %w", err)
		}
		for _, p := range players {
			if p.Seat == req.Seat {
				return nil, fmt.Errorf("%w: %s", ErrSeatTaken, req.Seat)
			}
		}
	}

	token, player, err := m.seatPlayer(ctx, gameID, req.Seat, req.DisplayName)
	if err != nil {
		return nil, err
	}

	m.logger.Info("player joined",
		zap.String("game_id", gameID),
		zap.String("player_id", player.ID),
		zap.String("seat", string(player.Seat)),
	)
	return &JoinGameResult{
		GameID:      gameID,
		Token:       token,
		PlayerID:    player.ID,
		Seat:        player.Seat,
		DisplayName: player.DisplayName,
	}, nil
}

// Authenticate resolves a bearer token to its player.
func (m *Manager) Authenticate(ctx context.Context, token string) (repository.Player, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return repository.Player{}, auth.ErrMissingToken
	}
	player, err := m.store.PlayerByTokenHash(ctx, auth.HashToken(token))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Player{}, ErrInvalidToken
		}
		return repository.Player{}, err
	}
	return player, nil
}

// Authorize checks that player belongs to gameID.
func (m *Manager) Authorize(player repository.Player, gameID string) error {
	if player.GameID != gameID {
		return ErrForbidden
	}
	return nil
}

// GetGame loads the current state of a game.
func (m *Manager) GetGame(ctx context.Context, gameID string) (*game.GameState, error) {
	return m.store.LoadGame(ctx, gameID)
}

// ListGames returns every stored game, newest first.
func (m *Manager) ListGames(ctx context.Context) ([]repository.GameSummary, error) {
	return m.store.ListGames(ctx)
}

// StartGame deals the opening hands and sets the game running.
func (m *Manager) StartGame(ctx context.Context, gameID string) (*game.GameState, error) {
	return m.mutate(ctx, gameID, m.engine.Start)
}

// PauseGame suspends a running game.
func (m *Manager) PauseGame(ctx context.Context, gameID string) (*game.GameState, error) {
	return m.mutate(ctx, gameID, m.engine.Pause)
}

// ResumeGame continues a paused game.
func (m *Manager) ResumeGame(ctx context.Context, gameID string) (*game.GameState, error) {
	return m.mutate(ctx, gameID, m.engine.Resume)
}

// ActionResult is what the acting player learns about their card play.
type ActionResult struct {
	State    *game.GameState `json:"-"`
	LogEntry game.LogEntry   `json:"logEntry"`
	Diff     StateDiff       `json:"diff"`
}

// PlayCard plays cardID from seat's hand on behalf of player.
func (m *Manager) PlayCard(ctx context.Context, player repository.Player, seat rules.Seat, cardID string, targets []string) (*ActionResult, error) {
	if err := checkSeat(player, seat); err != nil {
		return nil, err
	}

	var (
		entry  game.LogEntry
		before *game.GameState
	)
	state, err := m.mutate(ctx, player.GameID, func(s *game.GameState) (*game.GameState, error) {
		next, logEntry, err := m.engine.PlayCard(s, seat, cardID, targets)
		if err != nil {
			return nil, err
		}
		before, entry = s, logEntry
		return next, nil
	})
	if err != nil {
		return nil, err
	}
	return &ActionResult{State: state, LogEntry: entry, Diff: Diff(before, state)}, nil
}

// UseBasicAction spends seat's free action for the turn on behalf of player.
func (m *Manager) UseBasicAction(ctx context.Context, player repository.Player, seat rules.Seat, target string) (*game.GameState, error) {
	if err := checkSeat(player, seat); err != nil {
		return nil, err
	}
	return m.mutate(ctx, player.GameID, func(s *game.GameState) (*game.GameState, error) {
		return m.engine.UseBasicAction(s, seat, target)
	})
}

// AdvancePhase moves the game on. Any seated role may advance.
func (m *Manager) AdvancePhase(ctx context.Context, player repository.Player, requested *rules.Phase) (*game.GameState, error) {
	return m.mutate(ctx, player.GameID, func(s *game.GameState) (*game.GameState, error) {
		return m.engine.Advance(s, requested)
	})
}

func checkSeat(player repository.Player, seat rules.Seat) error {
	if !player.Seat.CanActFor(seat) {
		return &game.Error{
			Code:    game.CodeNotAuthorized,
			Message: fmt.Sprintf("%s cannot act for %s", player.Seat, seat),
		}
	}
	return nil
}

// mutate runs op against the stored state under the game lock, commits
// the result with its new log entries and publishes it before unlocking so
// subscribers see states in commit order.
func (m *Manager) mutate(ctx context.Context, gameID string, op func(*game.GameState) (*game.GameState, error)) (*game.GameState, error) {
	unlock := m.lock(gameID)
	defer unlock()

	next, err := m.apply(ctx, gameID, op)
	if err != nil {
		m.logger.Debug("game operation rejected", zap.String("game_id", gameID), zap.Error(err))
		return nil, err
	}

	m.logger.Debug("game updated",
		zap.String("game_id", gameID),
		zap.String("status", string(next.Status)),
		zap.Int("turn", next.Markers.Turn),
		zap.Stringer("phase", next.Markers.Phase),
	)
	m.publisher.PublishState(gameID, next)
	return next, nil
}

func (m *Manager) apply(ctx context.Context, gameID string, op func(*game.GameState) (*game.GameState, error)) (*game.GameState, error) {
	state, err := m.store.LoadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}
	next, err := op(state)
	if err != nil {
		return nil, err
	}
	if err := m.persist(ctx, state, next); err != nil {
		return nil, err
	}
	return next, nil
}

func (m *Manager) persist(ctx context.Context, before, after *game.GameState) error {
	first := len(before.Log)
	var entries []game.LogEntry
	if len(after.Log) > first {
		entries = after.Log[first:]
	}
	if err := m.store.Commit(ctx, after, first, entries); err != nil {
		return fmt.Errorf("commit game: %w", err)
	}
	return nil
}
