package table

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/buenosos/buenosos-server-go/internal/auth"
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/catalog"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
	"github.com/buenosos/buenosos-server-go/internal/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	states []*game.GameState
}

func (p *recordingPublisher) PublishState(gameID string, state *game.GameState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

type fixture struct {
	manager   *Manager
	store     *repository.MemoryStore
	publisher *recordingPublisher
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	clock := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	engine := game.NewEngine(catalog.Default(), zaptest.NewLogger(t),
		game.WithRandom(game.NewRandom(1)),
		game.WithClock(func() time.Time { return clock }),
	)
	store := repository.NewMemoryStore()
	publisher := &recordingPublisher{}
	opts = append([]Option{WithPublisher(publisher)}, opts...)
	return fixture{
		manager:   NewManager(store, engine, zaptest.NewLogger(t), opts...),
		store:     store,
		publisher: publisher,
	}
}

// createAndSeat creates a game and seats both factions, returning every player.
func (f fixture) createAndSeat(t *testing.T) (facilitator, malosos, buenosos repository.Player) {
	t.Helper()
	ctx := context.Background()
	created, err := f.manager.CreateGame(ctx, CreateGameRequest{DisplayName: "Ana"})
	require.NoError(t, err)

	join := func(seat rules.Role) repository.Player {
		res, err := f.manager.JoinGame(ctx, created.GameID, JoinGameRequest{Seat: seat, DisplayName: string(seat)})
		require.NoError(t, err)
		player, err := f.manager.Authenticate(ctx, res.Token)
		require.NoError(t, err)
		return player
	}
	return created.Player, join(rules.RoleMalosos), join(rules.RoleBuenosos)
}

// TestCreateGameDefaults verifies the creator is seated as facilitator and
// empty settings come from the manager defaults.
func TestCreateGameDefaults(t *testing.T) {
	f := newFixture(t, WithDefaults(game.Config{TurnLimit: 6}))
	ctx := context.Background()

	res, err := f.manager.CreateGame(ctx, CreateGameRequest{Config: game.Config{BudgetPerTurn: 5}})
	require.NoError(t, err)

	assert.Equal(t, rules.RoleFacilitator, res.Player.Seat)
	assert.Equal(t, "Player", res.Player.DisplayName)
	assert.Equal(t, res.GameID, res.Player.GameID)
	assert.Equal(t, auth.HashToken(res.Token), res.Player.TokenHash)
	assert.Equal(t, 6, res.State.Config.TurnLimit)
	assert.Equal(t, 5, res.State.Config.BudgetPerTurn)
	assert.Equal(t, game.IntermittenceDeterministic, res.State.Config.IntermittenceMode)
	assert.Equal(t, rules.StatusLobby, res.State.Status)

	stored, err := f.manager.GetGame(ctx, res.GameID)
	require.NoError(t, err)
	assert.Equal(t, rules.StatusLobby, stored.Status)

	player, err := f.manager.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.Player.ID, player.ID)

	games, err := f.manager.ListGames(ctx)
	require.NoError(t, err)
	assert.Len(t, games, 1)
}

func TestCreateGameRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.CreateGame(ctx, CreateGameRequest{Seat: "REFEREE"})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = f.manager.CreateGame(ctx, CreateGameRequest{Config: game.Config{IntermittenceMode: "chaotic"}})
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = f.manager.CreateGame(ctx, CreateGameRequest{Config: game.Config{TurnLimit: -1}})
	assert.ErrorIs(t, err, ErrBadRequest)
}

// TestJoinGame verifies seat rules: one player per faction, any number of
// facilitators.
func TestJoinGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.CreateGame(ctx, CreateGameRequest{DisplayName: "Ana"})
	require.NoError(t, err)

	steps := []struct {
		name    string
		gameID  string
		req     JoinGameRequest
		wantErr error
	}{
		{name: "missing seat", gameID: created.GameID, req: JoinGameRequest{DisplayName: "Bo"}, wantErr: ErrBadRequest},
		{name: "missing name", gameID: created.GameID, req: JoinGameRequest{Seat: rules.RoleMalosos}, wantErr: ErrBadRequest},
		{name: "unknown seat", gameID: created.GameID, req: JoinGameRequest{Seat: "REFEREE", DisplayName: "Bo"}, wantErr: ErrBadRequest},
		{name: "unknown game", gameID: "ghost", req: JoinGameRequest{Seat: rules.RoleMalosos, DisplayName: "Bo"}, wantErr: repository.ErrNotFound},
		{name: "attacker", gameID: created.GameID, req: JoinGameRequest{Seat: rules.RoleMalosos, DisplayName: "Bo"}},
		{name: "second attacker", gameID: created.GameID, req: JoinGameRequest{Seat: rules.RoleMalosos, DisplayName: "Cy"}, wantErr: ErrSeatTaken},
		{name: "defender", gameID: created.GameID, req: JoinGameRequest{Seat: rules.RoleBuenosos, DisplayName: "Di"}},
		{name: "second facilitator", gameID: created.GameID, req: JoinGameRequest{Seat: rules.RoleFacilitator, DisplayName: "Ed"}},
	}
	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			res, err := f.manager.JoinGame(ctx, step.gameID, step.req)
			if step.wantErr != nil {
				assert.ErrorIs(t, err, step.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, step.req.Seat, res.Seat)
			assert.Equal(t, step.req.DisplayName, res.DisplayName)
			assert.NotEmpty(t, res.Token)
		})
	}

	players, err := f.store.PlayersByGame(ctx, created.GameID)
	require.NoError(t, err)
	assert.Len(t, players, 4)
}

func TestJoinFinishedGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.CreateGame(ctx, CreateGameRequest{})
	require.NoError(t, err)

	state := created.State.Clone()
	state.Status = rules.StatusFinished
	state.Winner = rules.SeatBuenosos
	require.NoError(t, f.store.SaveGame(ctx, state))

	_, err = f.manager.JoinGame(ctx, created.GameID, JoinGameRequest{Seat: rules.RoleMalosos, DisplayName: "Bo"})
	assert.ErrorIs(t, err, ErrGameFinished)
}

func TestAuthenticateAndAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.manager.CreateGame(ctx, CreateGameRequest{})
	require.NoError(t, err)
	second, err := f.manager.CreateGame(ctx, CreateGameRequest{})
	require.NoError(t, err)

	_, err = f.manager.Authenticate(ctx, "  ")
	assert.ErrorIs(t, err, auth.ErrMissingToken)

	_, err = f.manager.Authenticate(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	player, err := f.manager.Authenticate(ctx, first.Token)
	require.NoError(t, err)
	assert.NoError(t, f.manager.Authorize(player, first.GameID))
	assert.ErrorIs(t, f.manager.Authorize(player, second.GameID), ErrForbidden)
}

// TestLifecycleMutationsPersistAndPublish verifies each state change is
// saved with its log entries and pushed to subscribers.
func TestLifecycleMutationsPersistAndPublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.CreateGame(ctx, CreateGameRequest{})
	require.NoError(t, err)
	id := created.GameID

	state, err := f.manager.StartGame(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rules.StatusRunning, state.Status)
	assert.Len(t, state.Seats.Malosos.Hand, 5)

	state, err = f.manager.PauseGame(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rules.StatusPaused, state.Status)

	_, err = f.manager.PauseGame(ctx, id)
	assert.ErrorIs(t, err, game.ErrGameNotRunning)

	state, err = f.manager.ResumeGame(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rules.StatusRunning, state.Status)

	_, err = f.manager.StartGame(ctx, id)
	assert.ErrorIs(t, err, game.ErrGameNotRunning)

	assert.Equal(t, 3, f.publisher.count())

	stored, err := f.store.LoadGame(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rules.StatusRunning, stored.Status)

	logs, err := f.store.LogsByGame(ctx, id)
	require.NoError(t, err)
	require.Len(t, logs, len(state.Log))
	assert.Equal(t, game.ActionGameStarted, logs[0].Action)
	assert.Equal(t, game.ActionGamePaused, logs[1].Action)
	assert.Equal(t, game.ActionGameResumed, logs[2].Action)

	_, err = f.manager.StartGame(ctx, "ghost")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPlayCardChecksSeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, buenosos := f.createAndSeat(t)
	_, err := f.manager.StartGame(ctx, buenosos.GameID)
	require.NoError(t, err)
	published := f.publisher.count()

	_, err = f.manager.PlayCard(ctx, buenosos, rules.SeatMalosos, "M01", []string{"S1"})
	assert.ErrorIs(t, err, game.ErrNotAuthorized)

	_, err = f.manager.UseBasicAction(ctx, buenosos, rules.SeatMalosos, "")
	assert.ErrorIs(t, err, game.ErrNotAuthorized)

	assert.Equal(t, published, f.publisher.count())
}

// TestPlayCardReportsDiff verifies the actor gets the log entry and what
// changed on the board.
func TestPlayCardReportsDiff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	facilitator, malosos, _ := f.createAndSeat(t)
	_, err := f.manager.StartGame(ctx, malosos.GameID)
	require.NoError(t, err)

	state, err := f.store.LoadGame(ctx, malosos.GameID)
	require.NoError(t, err)
	state.Markers.Phase = rules.PhaseMalososAttack
	state.Seats.Malosos.Hand = []string{"M01"}
	require.NoError(t, f.store.SaveGame(ctx, state))

	res, err := f.manager.PlayCard(ctx, malosos, rules.SeatMalosos, "M01", []string{"S1"})
	require.NoError(t, err)
	assert.Equal(t, game.ActionCardPlayed, res.LogEntry.Action)
	assert.Equal(t, rules.SeatMalosos, res.LogEntry.Actor)
	assert.Equal(t, map[rules.Seat]int{rules.SeatMalosos: 6}, res.Diff.Budget)
	assert.Empty(t, res.State.Seats.Malosos.Hand)

	_, err = f.manager.PlayCard(ctx, facilitator, rules.SeatMalosos, "M01", []string{"S1"})
	assert.ErrorIs(t, err, game.ErrInvalidTarget)

	logs, err := f.store.LogsByGame(ctx, malosos.GameID)
	require.NoError(t, err)
	assert.Equal(t, game.ActionCardPlayed, logs[len(logs)-1].Action)
}

// TestAdvancePhaseAnyRole verifies any seated role may advance the phase and
// that an unknown requested phase is rejected.
func TestAdvancePhaseAnyRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, buenosos := f.createAndSeat(t)
	started, err := f.manager.StartGame(ctx, buenosos.GameID)
	require.NoError(t, err)

	advanced, err := f.manager.AdvancePhase(ctx, buenosos, nil)
	require.NoError(t, err)
	assert.Greater(t, len(advanced.Log), len(started.Log))

	logs, err := f.store.LogsByGame(ctx, buenosos.GameID)
	require.NoError(t, err)
	assert.Len(t, logs, len(advanced.Log))

	bogus := rules.Phase(99)
	state, err := f.store.LoadGame(ctx, buenosos.GameID)
	require.NoError(t, err)
	if !state.Markers.Phase.IsAutomatic() {
		_, err = f.manager.AdvancePhase(ctx, buenosos, &bogus)
		assert.ErrorIs(t, err, game.ErrInvalidPhase)
	}
}

// TestConcurrentActionsSerialize verifies the per-game lock: only one of
// many simultaneous basic actions for the same seat can succeed.
func TestConcurrentActionsSerialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	facilitator, _, _ := f.createAndSeat(t)
	_, err := f.manager.StartGame(ctx, facilitator.GameID)
	require.NoError(t, err)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.UseBasicAction(ctx, facilitator, rules.SeatMalosos, "")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else if assert.ErrorIs(t, err, game.ErrInvalidPhase) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, rejected)

	state, err := f.store.LoadGame(ctx, facilitator.GameID)
	require.NoError(t, err)
	logs, err := f.store.LogsByGame(ctx, facilitator.GameID)
	require.NoError(t, err)
	assert.Len(t, logs, len(state.Log))
}

type slowPublisher struct {
	delay   time.Duration
	mu      sync.Mutex
	logLens []int
}

func (p *slowPublisher) PublishState(_ string, state *game.GameState) {
	time.Sleep(p.delay)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logLens = append(p.logLens, len(state.Log))
}

// TestPublishFollowsCommitOrder verifies subscribers receive states in the
// order they were committed even when publishing is slow, so the last
// state pushed is the newest one.
func TestPublishFollowsCommitOrder(t *testing.T) {
	publisher := &slowPublisher{delay: 20 * time.Millisecond}
	f := newFixture(t, WithPublisher(publisher))
	ctx := context.Background()
	facilitator, _, _ := f.createAndSeat(t)
	_, err := f.manager.StartGame(ctx, facilitator.GameID)
	require.NoError(t, err)

	const workers = 6
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.manager.AdvancePhase(ctx, facilitator, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.store.LoadGame(ctx, facilitator.GameID)
	require.NoError(t, err)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.Len(t, publisher.logLens, workers+1)
	for i := 1; i < len(publisher.logLens); i++ {
		assert.Greater(t, publisher.logLens[i], publisher.logLens[i-1], "publish %d arrived out of order", i)
	}
	assert.Equal(t, len(stored.Log), publisher.logLens[len(publisher.logLens)-1])
}

type failingCommitStore struct {
	*repository.MemoryStore
}

func (s failingCommitStore) Commit(context.Context, *game.GameState, int, []game.LogEntry) error {
	return errors.New("disk full")
}

// TestFailedCommitLeavesGameUnchanged verifies a mutation whose commit
// fails is neither stored nor published.
func TestFailedCommitLeavesGameUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, err := f.manager.CreateGame(ctx, CreateGameRequest{})
	require.NoError(t, err)

	engine := f.manager.Engine()
	publisher := &recordingPublisher{}
	broken := NewManager(failingCommitStore{f.store}, engine, zaptest.NewLogger(t), WithPublisher(publisher))

	_, err = broken.StartGame(ctx, created.GameID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Zero(t, publisher.count())

	stored, err := f.store.LoadGame(ctx, created.GameID)
	require.NoError(t, err)
	assert.Equal(t, rules.StatusLobby, stored.Status)
	logs, err := f.store.LogsByGame(ctx, created.GameID)
	require.NoError(t, err)
	assert.Len(t, logs, len(stored.Log))
}

func TestExportGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	facilitator, _, _ := f.createAndSeat(t)
	id := facilitator.GameID
	_, err := f.manager.StartGame(ctx, id)
	require.NoError(t, err)
	state, err := f.manager.AdvancePhase(ctx, facilitator, nil)
	require.NoError(t, err)

	export, err := f.manager.ExportGame(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, export.GameID)
	assert.Nil(t, export.Winner)
	assert.Equal(t, state.Markers, export.Markers)
	seats := make([]rules.Role, 0, len(export.Players))
	for _, p := range export.Players {
		seats = append(seats, p.Seat)
	}
	assert.ElementsMatch(t, []rules.Role{rules.RoleFacilitator, rules.RoleMalosos, rules.RoleBuenosos}, seats)
	assert.Len(t, export.Logs, len(state.Log))

	sum, err := game.ComputeChecksum(state)
	require.NoError(t, err)
	assert.Equal(t, sum, export.Checksum)

	var buf bytes.Buffer
	require.NoError(t, f.manager.ExportReplay(ctx, id, &buf))
	replay, err := game.ReadReplay(&buf)
	require.NoError(t, err)
	assert.Equal(t, id, replay.GameID)
	assert.Equal(t, len(state.Log), replay.Size())

	_, err = f.manager.ExportGame(ctx, "ghost")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.ErrorIs(t, f.manager.ExportReplay(ctx, "ghost", &buf), repository.ErrNotFound)
}

func TestDiff(t *testing.T) {
	assert.Equal(t, StateDiff{}, Diff(nil, nil))

	before := &game.GameState{
		Services: map[string]game.Service{
			"S1": {ID: "S1", Int: 5, State: rules.StateOK},
			"S2": {ID: "S2", Int: 3, State: rules.StateOK},
		},
		Markers: game.Markers{Stability: 100, Trust: 50, Turn: 1},
	}
	after := before.Clone()
	after.Services["S1"] = game.Service{ID: "S1", Int: 0, State: rules.StateDown}
	after.Markers.Trust = 47
	after.Seats.Buenosos.BudgetRemaining = 3

	d := Diff(before, after)
	assert.Equal(t, map[string]ServiceChange{
		"S1": {FromState: rules.StateOK, ToState: rules.StateDown, FromInt: 5, ToInt: 0},
	}, d.Services)
	require.NotNil(t, d.Markers)
	assert.Equal(t, 47, d.Markers.Trust)
	assert.Equal(t, map[rules.Seat]int{rules.SeatBuenosos: 3}, d.Budget)
}
