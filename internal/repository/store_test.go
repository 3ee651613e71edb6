package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/buenosos/buenosos-server-go/internal/config"
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/catalog"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

func newEngine(t *testing.T) *game.Engine {
	t.Helper()
	clock := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	return game.NewEngine(catalog.Default(), zaptest.NewLogger(t),
		game.WithRandom(game.NewRandom(7)),
		game.WithClock(func() time.Time { return clock }),
	)
}

// storeFactories builds every store implementation that can run without
// external services.
func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store {
			path := filepath.Join(t.TempDir(), "nested", "buenosos.db")
			store, err := OpenSQLite(context.Background(), path, zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	for name, factory := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

// TestStoreGameLifecycle verifies create, load, save and list.
func TestStoreGameLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		e := newEngine(t)
		lobby := e.Initialize(game.DefaultConfig(), "game-1")

		require.NoError(t, store.CreateGame(ctx, lobby))
		assert.ErrorIs(t, store.CreateGame(ctx, lobby), ErrConflict)

		loaded, err := store.LoadGame(ctx, "game-1")
		require.NoError(t, err)
		assert.Equal(t, rules.StatusLobby, loaded.Status)
		lobbySum, err := game.Checksum(lobby)
		require.NoError(t, err)
		loadedLobbySum, err := game.Checksum(loaded)
		require.NoError(t, err)
		assert.Equal(t, lobbySum, loadedLobbySum)

		running, err := e.Start(loaded)
		require.NoError(t, err)
		require.NoError(t, store.SaveGame(ctx, running))

		loaded, err = store.LoadGame(ctx, "game-1")
		require.NoError(t, err)
		assert.Equal(t, rules.StatusRunning, loaded.Status)
		assert.Equal(t, running.Seats, loaded.Seats)
		sum, err := game.Checksum(running)
		require.NoError(t, err)
		loadedSum, err := game.Checksum(loaded)
		require.NoError(t, err)
		assert.Equal(t, sum, loadedSum)

		games, err := store.ListGames(ctx)
		require.NoError(t, err)
		require.Len(t, games, 1)
		assert.Equal(t, "game-1", games[0].ID)
		assert.Equal(t, rules.StatusRunning, games[0].Status)
		assert.Equal(t, 1, games[0].Turn)
	})
}

// TestStoreMissingGame verifies not-found errors.
func TestStoreMissingGame(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		_, err := store.LoadGame(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)

		err = store.SaveGame(ctx, newEngine(t).Initialize(game.DefaultConfig(), "nope"))
		assert.ErrorIs(t, err, ErrNotFound)

		games, err := store.ListGames(ctx)
		require.NoError(t, err)
		assert.Empty(t, games)
	})
}

// TestStorePlayers verifies token-hash lookup and per-game listing.
func TestStorePlayers(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		require.NoError(t, store.CreateGame(ctx, newEngine(t).Initialize(game.DefaultConfig(), "game-1")))

		now := time.UnixMilli(time.Now().UnixMilli()).UTC()
		facilitator := Player{ID: "p1", GameID: "game-1", Seat: rules.RoleFacilitator, DisplayName: "Ana", TokenHash: "h1", CreatedAt: now}
		attacker := Player{ID: "p2", GameID: "game-1", Seat: rules.RoleMalosos, DisplayName: "Bo", TokenHash: "h2", CreatedAt: now.Add(time.Second)}
		require.NoError(t, store.CreatePlayer(ctx, facilitator))
		require.NoError(t, store.CreatePlayer(ctx, attacker))

		dup := attacker
		dup.ID = "p3"
		assert.ErrorIs(t, store.CreatePlayer(ctx, dup), ErrConflict)

		orphan := Player{ID: "p4", GameID: "ghost", Seat: rules.RoleBuenosos, TokenHash: "h4", CreatedAt: now}
		assert.ErrorIs(t, store.CreatePlayer(ctx, orphan), ErrNotFound)

		found, err := store.PlayerByTokenHash(ctx, "h2")
		require.NoError(t, err)
		assert.Equal(t, attacker, found)

		_, err = store.PlayerByTokenHash(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		players, err := store.PlayersByGame(ctx, "game-1")
		require.NoError(t, err)
		assert.Equal(t, []Player{facilitator, attacker}, players)
	})
}

// TestStoreLogs verifies append ordering and sequence conflicts.
func TestStoreLogs(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		e := newEngine(t)
		lobby := e.Initialize(game.DefaultConfig(), "game-1")
		require.NoError(t, store.CreateGame(ctx, lobby))

		s, err := e.Start(lobby)
		require.NoError(t, err)
		s, err = e.Advance(s, nil)
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(s.Log), 2)

		require.NoError(t, store.AppendLogs(ctx, "game-1", 0, s.Log[:1]))
		require.NoError(t, store.AppendLogs(ctx, "game-1", 1, s.Log[1:]))
		require.NoError(t, store.AppendLogs(ctx, "game-1", len(s.Log), nil))

		assert.ErrorIs(t, store.AppendLogs(ctx, "game-1", 1, []game.LogEntry{{ID: "again", Turn: 1}}), ErrConflict)

		logs, err := store.LogsByGame(ctx, "game-1")
		require.NoError(t, err)
		require.Len(t, logs, len(s.Log))
		for i := range logs {
			assert.Equal(t, s.Log[i].ID, logs[i].ID)
			assert.Equal(t, s.Log[i].Action, logs[i].Action)
			assert.Equal(t, s.Log[i].Phase, logs[i].Phase)
		}

		empty, err := store.LogsByGame(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

// TestSQLiteMigrationsAreIdempotent verifies reopening an existing file
// does not re-run migrations.
func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "buenosos.db")

	first, err := OpenSQLite(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, first.CreateGame(ctx, newEngine(t).Initialize(game.DefaultConfig(), "kept")))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(ctx, path, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer second.Close()

	var applied int
	require.NoError(t, second.sqlDB.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+migrationTable).Scan(&applied))
	assert.Equal(t, 1, applied)

	_, err = second.LoadGame(ctx, "kept")
	assert.NoError(t, err)
}

// TestOpenSelectsDriver verifies Open dispatches on the configured driver.
func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	store, err := Open(ctx, config.DatabaseConfig{Driver: config.DriverMemory}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	store, err = Open(ctx, config.DatabaseConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "x.db")}, nil)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, store)
	require.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())

	_, err = Open(ctx, config.DatabaseConfig{Driver: "mysql"}, nil)
	assert.Error(t, err)
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a (id INT);\n-- +migrate Down\nDROP TABLE a;\n"
	assert.Equal(t, "\nCREATE TABLE a (id INT);\n", extractUpMigration(content))
	assert.Equal(t, "SELECT 1;", extractUpMigration("SELECT 1;"))
}

// TestStoreCommitIsAtomic verifies a commit whose log append conflicts
// leaves both the saved state and the log untouched.
func TestStoreCommitIsAtomic(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		e := newEngine(t)
		lobby := e.Initialize(game.DefaultConfig(), "game-1")
		require.NoError(t, store.CreateGame(ctx, lobby))

		started, err := e.Start(lobby)
		require.NoError(t, err)
		require.NoError(t, store.Commit(ctx, started, 0, started.Log))

		advanced, err := e.Advance(started, nil)
		require.NoError(t, err)
		fresh := advanced.Log[len(started.Log):]
		require.NotEmpty(t, fresh)

		err = store.Commit(ctx, advanced, 0, fresh)
		assert.ErrorIs(t, err, ErrConflict)

		stored, err := store.LoadGame(ctx, "game-1")
		require.NoError(t, err)
		assert.Equal(t, started.Markers.Phase, stored.Markers.Phase)
		assert.Len(t, stored.Log, len(started.Log))

		logs, err := store.LogsByGame(ctx, "game-1")
		require.NoError(t, err)
		assert.Len(t, logs, len(started.Log))

		require.NoError(t, store.Commit(ctx, advanced, len(started.Log), fresh))
		logs, err = store.LogsByGame(ctx, "game-1")
		require.NoError(t, err)
		assert.Len(t, logs, len(advanced.Log))

		err = store.Commit(ctx, e.Initialize(game.DefaultConfig(), "ghost"), 0, nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
