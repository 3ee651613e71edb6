package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/config"
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/rules"
)

// PostgreSQL error codes mapped to sentinel errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresStore persists games in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgres connects a pool sized from cfg and applies the embedded
// migrations.
func OpenPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := applyPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	stats := pool.Stat()
	logger.Info("database connection pool initialized",
		zap.Int32("total_conns", stats.TotalConns()),
		zap.Int32("idle_conns", stats.IdleConns()),
		zap.Int32("max_conns", stats.MaxConns()),
	)
	return &PostgresStore{pool: pool, logger: logger}, nil
}

func applyPostgresMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`, migrationTable)); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, m := range migrations {
		var found int
		err := pool.QueryRow(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = $1", m.name).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.up); err != nil && !isAlreadyExistsError(err) {
				return fmt.Errorf("exec migration %s: %w", m.name, err)
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (name, applied_at) VALUES ($1, $2) ON CONFLICT DO NOTHING", migrationTable),
				m.name, time.Now().UTC().UnixMilli())
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) CreateGame(ctx context.Context, state *game.GameState) error {
	stateJSON, configJSON, err := encodeGame(state)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO games (id, created_at, updated_at, status, config_json, state_json)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		state.ID, state.CreatedAt, state.UpdatedAt, string(state.Status), configJSON, stateJSON,
	)
	if err != nil {
		return fmt.Errorf("create game %s: %w", state.ID, mapPgError(err))
	}
	return nil
}

func (p *PostgresStore) SaveGame(ctx context.Context, state *game.GameState) error {
	return savePostgresGame(ctx, p.pool, state)
}

// Commit saves state and appends its new log entries in one transaction.
func (p *PostgresStore) Commit(ctx context.Context, state *game.GameState, firstSeq int, entries []game.LogEntry) error {
	batch, err := logBatch(state.ID, firstSeq, entries)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if err := savePostgresGame(ctx, tx, state); err != nil {
			return err
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("append logs: %w", mapPgError(err))
		}
		return nil
	})
}

type pgExecer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func savePostgresGame(ctx context.Context, db pgExecer, state *game.GameState) error {
	stateJSON, configJSON, err := encodeGame(state)
	if err != nil {
		return err
	}
	tag, err := db.Exec(ctx,
		`UPDATE games SET updated_at = $1, status = $2, config_json = $3, state_json = $4 WHERE id = $5`,
		state.UpdatedAt, string(state.Status), configJSON, stateJSON, state.ID,
	)
	if err != nil {
		return fmt.Errorf("save game %s: %w", state.ID, mapPgError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save game %s: %w", state.ID, ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) LoadGame(ctx context.Context, id string) (*game.GameState, error) {
	var stateJSON []byte
	err := p.pool.QueryRow(ctx, `SELECT state_json FROM games WHERE id = $1`, id).Scan(&stateJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("game %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load game %s: %w", id, err)
	}
	return game.UnmarshalState(stateJSON)
}

func (p *PostgresStore) ListGames(ctx context.Context) ([]GameSummary, error) {
	rows, err := p.pool.Query(ctx, `SELECT state_json FROM games ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}
	states, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*game.GameState, error) {
		var stateJSON []byte
		if err := row.Scan(&stateJSON); err != nil {
			return nil, err
		}
		return game.UnmarshalState(stateJSON)
	})
	if err != nil {
		return nil, fmt.Errorf("list games: %w", err)
	}

	out := make([]GameSummary, 0, len(states))
	for _, state := range states {
		out = append(out, summaryOf(state))
	}
	return out, nil
}

func (p *PostgresStore) CreatePlayer(ctx context.Context, player Player) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO players (id, game_id, seat, display_name, token_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		player.ID, player.GameID, string(player.Seat), player.DisplayName, player.TokenHash, player.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("create player: %w", mapPgError(err))
	}
	return nil
}

func (p *PostgresStore) PlayerByTokenHash(ctx context.Context, hash string) (Player, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, game_id, seat, display_name, token_hash, created_at FROM players WHERE token_hash = $1`, hash)
	if err != nil {
		return Player{}, fmt.Errorf("load player: %w", err)
	}
	player, err := pgx.CollectExactlyOneRow(rows, collectPlayer)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Player{}, fmt.Errorf("player: %w", ErrNotFound)
		}
		return Player{}, fmt.Errorf("load player: %w", err)
	}
	return player, nil
}

func (p *PostgresStore) PlayersByGame(ctx context.Context, gameID string) ([]Player, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, game_id, seat, display_name, token_hash, created_at
		 FROM players WHERE game_id = $1 ORDER BY created_at, id`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	players, err := pgx.CollectRows(rows, collectPlayer)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	return players, nil
}

func collectPlayer(row pgx.CollectableRow) (Player, error) {
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

func (p *PostgresStore) AppendLogs(ctx context.Context, gameID string, firstSeq int, entries []game.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch, err := logBatch(gameID, firstSeq, entries)
	if err != nil {
		return err
	}
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("append logs: %w", mapPgError(err))
	}
	return nil
}

func logBatch(gameID string, firstSeq int, entries []game.LogEntry) (*pgx.Batch, error) {
	batch := &pgx.Batch{}
	for i, entry := range entries {
		entryJSON, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("encode log entry: %w", err)
		}
		batch.Queue(
			`INSERT INTO logs (id, game_id, seq, turn, phase, timestamp, entry_json)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			entry.ID, gameID, firstSeq+i, entry.Turn, entry.Phase.String(), entry.Timestamp, entryJSON,
		)
	}
	return batch, nil
}

func (p *PostgresStore) LogsByGame(ctx context.Context, gameID string) ([]game.LogEntry, error) {
	rows, err := p.pool.Query(ctx, `SELECT entry_json FROM logs WHERE game_id = $1 ORDER BY seq`, gameID)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (game.LogEntry, error) {
		var (
			entryJSON []byte
			entry     game.LogEntry
		)
		if err := row.Scan(&entryJSON); err != nil {
			return entry, err
		}
		err := json.Unmarshal(entryJSON, &entry)
		return entry, err
	})
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	if entries == nil {
		entries = []game.LogEntry{}
	}
	return entries, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %v", ErrConflict, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
	}
	return err
}

var _ Store = (*PostgresStore)(nil)
