package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/buenosos/buenosos-server-go/internal/config"
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/catalog"
	tabletopmcp "github.com/buenosos/buenosos-server-go/internal/mcp"
	"github.com/buenosos/buenosos-server-go/internal/repository"
	"github.com/buenosos/buenosos-server-go/internal/table"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	driver := flag.String("driver", config.DriverMemory, "store driver: memory, sqlite or postgres")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg.Database.Driver = *driver

	// stdout carries the MCP protocol; zap's development config logs to stderr.
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	store, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	seed := cfg.Game.Seed
	if seed == 0 {
		if seed, err = game.NewSeed(); err != nil {
			logger.Fatal("failed to seed random source", zap.Error(err))
		}
	}
	cat := catalog.Default()
	engine := game.NewEngine(cat, logger.Named("engine"), game.WithRandom(game.NewRandom(seed)))
	manager := table.NewManager(store, engine, logger.Named("table"),
		table.WithDefaults(game.Config{
			TurnLimit:         cfg.Game.TurnLimit,
			BudgetPerTurn:     cfg.Game.BudgetPerTurn,
			IntermittenceMode: game.IntermittenceMode(cfg.Game.IntermittenceMode),
			MapID:             cfg.Game.MapID,
		}),
	)

	if err := tabletopmcp.New(manager, cat, logger.Named("mcp")).Serve(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
