package game

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/game/catalog"
	"github.com/buenosos/buenosos-server-go/internal/game/effects"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// Engine enacts the rules. It holds no game state: every operation takes a
// snapshot and returns a new one, validating before it copies anything, so
// a rejected operation leaves the caller's snapshot valid. The engine does
// no I/O; callers serialize operations per game.
type Engine struct {
	catalog *catalog.Catalog
	logger  *zap.Logger
	random  Random
	now     func() time.Time
	newID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRandom injects the randomness source.
func WithRandom(r Random) Option {
	return func(e *Engine) {
		if r != nil {
			e.random = r
		}
	}
}

// WithClock injects the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine over cat. A nil logger disables logging.
func NewEngine(cat *catalog.Catalog, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		catalog: cat,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.random == nil {
		seed, err := NewSeed()
		if err != nil {
			seed = time.Now().UnixNano()
		}
		e.random = NewRandom(seed)
	}
	return e
}

// Catalog returns the reference data the engine plays with.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

func (e *Engine) timestamp() int64 {
	return e.now().UnixMilli()
}

// appendLog records an entry at the state's current turn and the given phase.
func (e *Engine) appendLog(s *GameState, phase rules.Phase, action string, actor rules.Seat, details map[string]any) LogEntry {
	if details == nil {
		details = map[string]any{}
	}
	entry := LogEntry{
		ID:        e.newID(),
		Turn:      s.Markers.Turn,
		Phase:     phase,
		Timestamp: e.timestamp(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	}
	s.Log = append(s.Log, entry)
	return entry
}

// Initialize builds a lobby game from the catalog. Decks are in catalog
// order and hands are empty until Start. An empty id gets a new UUID.
func (e *Engine) Initialize(cfg Config, id string) *GameState {
	if id == "" {
		id = e.newID()
	}
	cfg = cfg.WithDefaults()
	now := e.timestamp()

	services := make(map[string]Service)
	for _, def := range e.catalog.Services() {
		services[def.ID] = Service{
			ID:            def.ID,
			Name:          def.Name,
			Crit:          def.Crit,
			Int:           def.IntMax,
			IntMax:        def.IntMax,
			State:         rules.StateOK,
			Dependencies:  cloneStrings(def.Dependencies),
			CitizenFacing: def.CitizenFacing,
			DownEffect:    def.DownEffect,
		}
	}

	newSeat := func(side rules.Side) SeatState {
		return SeatState{
			BudgetRemaining: cfg.BudgetPerTurn,
			Hand:            []string{},
			Deck:            e.catalog.Deck(side),
			Discard:         []string{},
		}
	}

	return &GameState{
		ID:       id,
		Status:   rules.StatusLobby,
		Config:   cfg,
		Services: services,
		Seats: Seats{
			Malosos:  newSeat(rules.SideMalosos),
			Buenosos: newSeat(rules.SideBuenosos),
		},
		EventDeck:    e.catalog.Deck(rules.SideEvent),
		EventDiscard: []string{},
		Markers: Markers{
			Stability: StabilityMax,
			Trust:     TrustMax,
			Turn:      1,
			Phase:     rules.PhaseMaintenance,
		},
		Campaign:             CampaignState{CompletedPhases: []rules.CampaignPhase{}},
		TemporaryEffects:     effects.List{},
		ServicesRecovered:    []string{},
		ServicesThatWentDown: []string{},
		Log:                  []LogEntry{},
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// Start shuffles the three decks, deals five cards to each seat and sets
// the game running at turn 1, MAINTENANCE.
func (e *Engine) Start(state *GameState) (*GameState, error) {
	if state.Status != rules.StatusLobby {
		return nil, newError(CodeGameNotRunning, "game is not in lobby state")
	}

	s := state.Clone()
	for _, seat := range rules.Seats {
		st := s.Seats.Get(seat)
		st.Deck = shuffled(e.random, e.catalog.Deck(rules.SideOf(seat)))
		st.Hand = []string{}
		st.Discard = []string{}
		st.BudgetRemaining = s.Config.BudgetPerTurn
		st.BasicActionUsed = false
		e.drawTo(st, handTarget)
	}
	s.EventDeck = shuffled(e.random, e.catalog.Deck(rules.SideEvent))
	s.EventDiscard = []string{}

	s.Status = rules.StatusRunning
	s.Markers.Turn = 1
	s.Markers.Phase = rules.PhaseMaintenance
	s.UpdatedAt = e.timestamp()
	e.appendLog(s, rules.PhaseMaintenance, ActionGameStarted, "", map[string]any{"config": s.Config})

	e.logger.Debug("game started", zap.String("game_id", s.ID))
	return s, nil
}

// Pause suspends a running game.
func (e *Engine) Pause(state *GameState) (*GameState, error) {
	if state.Status != rules.StatusRunning {
		return nil, newError(CodeGameNotRunning, "game is not running")
	}
	s := state.Clone()
	s.Status = rules.StatusPaused
	s.UpdatedAt = e.timestamp()
	e.appendLog(s, s.Markers.Phase, ActionGamePaused, "", nil)
	return s, nil
}

// Resume continues a paused game where it stopped.
func (e *Engine) Resume(state *GameState) (*GameState, error) {
	if state.Status != rules.StatusPaused {
		return nil, newError(CodeGameNotRunning, "game is not paused")
	}
	s := state.Clone()
	s.Status = rules.StatusRunning
	s.UpdatedAt = e.timestamp()
	e.appendLog(s, s.Markers.Phase, ActionGameResumed, "", nil)
	return s, nil
}

// drawTo fills the hand up to size, reshuffling the discard into the deck
// when it runs out. Drawing stops early if both are empty.
func (e *Engine) drawTo(st *SeatState, size int) {
	for len(st.Hand) < size {
		if len(st.Deck) == 0 {
			if len(st.Discard) == 0 {
				return
			}
			st.Deck = shuffled(e.random, st.Discard)
			st.Discard = []string{}
		}
		st.Hand = append(st.Hand, st.Deck[0])
		st.Deck = st.Deck[1:]
	}
}

// trimHand discards from the end of the hand down to limit.
func trimHand(st *SeatState, limit int) {
	if len(st.Hand) <= limit {
		return
	}
	st.Discard = append(st.Discard, st.Hand[limit:]...)
	st.Hand = st.Hand[:limit:limit]
}

func snapshotServices(s *GameState) map[string]Service {
	return cloneServices(s.Services)
}
