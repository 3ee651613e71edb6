package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// SQLiteStore persists games in a single SQLite file.
type SQLiteStore struct {
	sqlDB  *sql.DB
	logger *zap.Logger
}

// OpenSQLite opens the database at path, creating its directory, and
// applies the embedded migrations.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one connection keeps per-connection pragmas in force and serializes writers
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := applySQLiteMigrations(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("sqlite store opened", zap.String("path", cleanPath))
	return &SQLiteStore{sqlDB: sqlDB, logger: logger}, nil
}

func applySQLiteMigrations(ctx context.Context, sqlDB *sql.DB) error {
	migrations, err := loadMigrations("sqlite")
	if err != nil {
		return err
	}

	createSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);
`, migrationTable)
	if _, err := sqlDB.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range migrations {
		var found int
		err := sqlDB.QueryRowContext(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = ?", m.name).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}

		tx, err := sqlDB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.up); err != nil && !isAlreadyExistsError(err) {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT OR IGNORE INTO %s (name, applied_at) VALUES (?, ?)", migrationTable),
			m.name, time.Now().UTC().UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.name, err)
		}
	}
	return nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) CreateGame(ctx context.Context, state *game.GameState) error {
	stateJSON, configJSON, err := encodeGame(state)
	if err != nil {
		return err
	}
	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO games (id, created_at, updated_at, status, config_json, state_json)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		state.ID, state.CreatedAt, state.UpdatedAt, string(state.Status), string(configJSON), string(stateJSON),
	)
	if err != nil {
		return fmt.Errorf("create game %s: %w", state.ID, mapSQLiteError(err))
	}
	return nil
}

func (s *SQLiteStore) SaveGame(ctx context.Context, state *game.GameState) error {
	return saveSQLiteGame(ctx, s.sqlDB, state)
}

// Commit saves state and appends its new log entries in one transaction.
func (s *SQLiteStore) Commit(ctx context.Context, state *game.GameState, firstSeq int, entries []game.LogEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := saveSQLiteGame(ctx, tx, state); err != nil {
			return err
		}
		return appendSQLiteLogs(ctx, tx, state.ID, firstSeq, entries)
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func saveSQLiteGame(ctx context.Context, db sqlExecer, state *game.GameState) error {
	stateJSON, configJSON, err := encodeGame(state)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE games SET updated_at = ?, status = ?, config_json = ?, state_json = ? WHERE id = ?`,
		state.UpdatedAt, string(state.Status), string(configJSON), string(stateJSON), state.ID,
	)
	if err != nil {
		return fmt.Errorf("save game %s: %w", state.ID, mapSQLiteError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("save game %s: %w", state.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) LoadGame(ctx context.Context, id string) (*game.GameState, error) {
	var stateJSON string
	err := s.sqlDB.QueryRowContext(ctx, `SELECT state_json FROM games WHERE id = ?`, id).Scan(&stateJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	return game.UnmarshalState([]byte(stateJSON))
}

func (s *SQLiteStore) ListGames(ctx context.Context) ([]GameSummary, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT state_json FROM games ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	defer rows.Close()

	out := []GameSummary{}
	for rows.Next() {
		var stateJSON string
		if err := rows.Scan(&stateJSON); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		state, err := game.UnmarshalState([]byte(stateJSON))
		if err != nil {
			return nil, err
		}
		out = append(out, summaryOf(state))
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreatePlayer(ctx context.Context, player Player) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO players (id, game_id, seat, display_name, token_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		player.ID, player.GameID, string(player.Seat), player.DisplayName, player.TokenHash, player.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create player: %w", mapSQLiteError(err))
	}
	return nil
}

func (s *SQLiteStore) PlayerByTokenHash(ctx context.Context, hash string) (Player, error) {
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, game_id, seat, display_name, token_hash, created_at FROM players WHERE token_hash = ?`, hash)
	player, err := scanPlayer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Player{}, fmt.Errorf("player: %w", ErrNotFound)
		}
		return Player{}, fmt.Errorf("load player: %w", err)
	}
	return player, nil
}

func (s *SQLiteStore) PlayersByGame(ctx context.Context, gameID string) ([]Player, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, game_id, seat, display_name, token_hash, created_at
		 FROM players WHERE game_id = ? ORDER BY created_at, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var out []Player
	for rows.Next() {
		player, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		out = append(out, player)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendLogs(ctx context.Context, gameID string, firstSeq int, entries []game.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return appendSQLiteLogs(ctx, tx, gameID, firstSeq, entries)
	})
}

func appendSQLiteLogs(ctx context.Context, db sqlExecer, gameID string, firstSeq int, entries []game.LogEntry) error {
	for i, entry := range entries {
		entryJSON, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("encode log entry: %w", err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO logs (id, game_id, seq, turn, phase, timestamp, entry_json)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, gameID, firstSeq+i, entry.Turn, entry.Phase.String(), entry.Timestamp, string(entryJSON),
		); err != nil {
			return fmt.Errorf("append log %d: %w", firstSeq+i, mapSQLiteError(err))
		}
	}
	return nil
}

func (s *SQLiteStore) LogsByGame(ctx context.Context, gameID string) ([]game.LogEntry, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT entry_json FROM logs WHERE game_id = ? ORDER BY seq`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	out := []game.LogEntry{}
	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		var entry game.LogEntry
		if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (Player, error) {
	var (
		player    Player
		seat      string
		createdAt int64
	)
	if err := row.Scan(&player.ID, &player.GameID, &seat, &player.DisplayName, &player.TokenHash, &createdAt); err != nil {
		return Player{}, err
	}
	player.Seat = rules.Role(seat)
	player.CreatedAt = time.UnixMilli(createdAt).UTC()
	return player, nil
}

func encodeGame(state *game.GameState) (stateJSON, configJSON []byte, err error) {
	stateJSON, err = game.MarshalState(state)
	if err != nil {
		return nil, nil, err
	}
	configJSON, err = json.Marshal(state.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("encode config: %w", err)
	}
	return stateJSON, configJSON, nil
}

// mapSQLiteError turns constraint violations into the package's sentinel
// errors.
func mapSQLiteError(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}

var _ Store = (*SQLiteStore)(nil)
