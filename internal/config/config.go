// Package config loads server configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// BUENOSOS_DATABASE_DRIVER overrides database.driver.
const EnvPrefix = "BUENOSOS"

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Game     GameConfig     `mapstructure:"game"`
}

// ServerConfig holds listener and HTTP settings.
type ServerConfig struct {
	HTTPAddress       string        `mapstructure:"http_address"`
	GRPCAddress       string        `mapstructure:"grpc_address"`
	FrontendOrigin    string        `mapstructure:"frontend_origin"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// DatabaseConfig selects and tunes the store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GameConfig holds defaults for newly created games.
type GameConfig struct {
	TurnLimit         int    `mapstructure:"turn_limit"`
	BudgetPerTurn     int    `mapstructure:"budget_per_turn"`
	IntermittenceMode string `mapstructure:"intermittence_mode"`
	MapID             string `mapstructure:"map_id"`
	// Seed fixes the engine's random source; 0 draws one at startup.
	Seed int64 `mapstructure:"seed"`
}

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":3001")
	v.SetDefault("server.grpc_address", ":9090")
	v.SetDefault("server.frontend_origin", "http://localhost:5173")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.read_header_timeout", 5*time.Second)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "data/buenosos.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("game.turn_limit", 8)
	v.SetDefault("game.budget_per_turn", 8)
	v.SetDefault("game.intermittence_mode", "deterministic")
	v.SetDefault("game.map_id", "standard")
	v.SetDefault("game.seed", 0)
}

// Load reads the configuration at path. An empty path skips the file and
// uses defaults plus environment overrides; a missing file at an explicit
// path is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != DriverMemory && c.Database.DSN == "" {
		return errors.New("database dsn is required")
	}
	if c.Game.TurnLimit <= 0 {
		return fmt.Errorf("game.turn_limit must be positive, got %d", c.Game.TurnLimit)
	}
	if c.Game.BudgetPerTurn <= 0 {
		return fmt.Errorf("game.budget_per_turn must be positive, got %d", c.Game.BudgetPerTurn)
	}
	switch c.Game.IntermittenceMode {
	case "deterministic", "random":
	default:
		return fmt.Errorf("unknown intermittence mode %q", c.Game.IntermittenceMode)
	}
	return nil
}
