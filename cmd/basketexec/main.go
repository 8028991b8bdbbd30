package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/basketexec/internal/api"
	"github.com/Aidin1998/basketexec/internal/config"
	"github.com/Aidin1998/basketexec/internal/execution"
	"github.com/Aidin1998/basketexec/internal/venue"
	"github.com/Aidin1998/basketexec/internal/venue/sim"
	"github.com/Aidin1998/basketexec/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	minNotional, err := decimal.NewFromString(cfg.Trading.MinNotional)
	if err != nil {
		zapLogger.Fatal("invalid min notional", zap.String("value", cfg.Trading.MinNotional), zap.Error(err))
	}

	// The simulated venue stands in for a real execution venue; it enforces
	// the same request ceiling the dispatcher mirrors.
	simVenue := sim.New(cfg.Venue.RequestsPerWindow, cfg.Venue.Window)
	simVenue.AutoSeedDefaults(decimal.NewFromInt(100), decimal.NewFromFloat(0.05), decimal.NewFromInt(1000), 20)
	execVenue := venue.NewRateLimited(simVenue, cfg.Venue.RequestsPerWindow, cfg.Venue.Window)

	svc := execution.NewService(zapLogger, execution.Config{
		WindowCapacity: cfg.Venue.RequestsPerWindow,
		Window:         cfg.Venue.Window,
		TickInterval:   cfg.Trading.TickInterval,
		MinNotional:    minNotional,
	}, execVenue)

	if err := svc.Start(); err != nil {
		zapLogger.Fatal("failed to start execution service", zap.Error(err))
	}

	server := api.NewServer(zapLogger, svc)
	go func() {
		if err := server.Start(cfg.Server.Addr); err != nil {
			zapLogger.Fatal("API server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down")
	if err := svc.Stop(); err != nil {
		zapLogger.Error("failed to stop execution service", zap.Error(err))
	}
}
