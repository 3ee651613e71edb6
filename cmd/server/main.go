package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/buenosos/buenosos-server-go/internal/config"
	"github.com/buenosos/buenosos-server-go/internal/game"
	"github.com/buenosos/buenosos-server-go/internal/game/catalog"
	"github.com/buenosos/buenosos-server-go/internal/realtime"
	"github.com/buenosos/buenosos-server-go/internal/repository"
	"github.com/buenosos/buenosos-server-go/internal/server"
	"github.com/buenosos/buenosos-server-go/internal/table"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting BuenOsos server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := repository.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	// Initialize engine
	seed := cfg.Game.Seed
	if seed == 0 {
		if seed, err = game.NewSeed(); err != nil {
			logger.Fatal("failed to seed random source", zap.Error(err))
		}
	}
	cat := catalog.Default()
	engine := game.NewEngine(cat, logger.Named("engine"), game.WithRandom(game.NewRandom(seed)))
	logger.Info("engine initialized",
		zap.String("map_id", cat.MapID()),
		zap.Int("cards", len(cat.Cards())),
		zap.Int64("seed", seed),
	)

	hub := realtime.NewHub(logger.Named("realtime"))
	manager := table.NewManager(store, engine, logger.Named("table"),
		table.WithPublisher(hub),
		table.WithDefaults(game.Config{
			TurnLimit:         cfg.Game.TurnLimit,
			BudgetPerTurn:     cfg.Game.BudgetPerTurn,
			IntermittenceMode: game.IntermittenceMode(cfg.Game.IntermittenceMode),
			MapID:             cfg.Game.MapID,
		}),
	)

	api := server.NewAPI(manager, hub, cat, cfg.Server.FrontendOrigin, logger.Named("http"))
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddress,
		Handler:           api.Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	grpcServer := server.NewGRPCServer(manager, logger.Named("grpc"))
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddress)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("address", cfg.Server.GRPCAddress), zap.Error(err))
	}

	errCh := make(chan error, 2)

	// Start gRPC server
	go func() {
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			errCh <- serveErr
		}
	}()

	// Start HTTP and WebSocket server
	go func() {
		logger.Info("starting HTTP server", zap.String("address", cfg.Server.HTTPAddress))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve http: %w", serveErr)
		}
	}()

	logger.Info("BuenOsos server initialized",
		zap.String("version", version),
		zap.String("http_address", cfg.Server.HTTPAddress),
		zap.String("grpc_address", cfg.Server.GRPCAddress),
		zap.String("database_driver", cfg.Database.Driver),
	)

	// Wait for termination signal or a listener failure
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr := <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	// Graceful shutdown
	logger.Info("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Close every socket so handlers blocked in reads return
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	grpcServer.Stop(shutdownCtx)

	logger.Info("BuenOsos server stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
