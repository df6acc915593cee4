package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"prism-arena/internal/api"
	"prism-arena/internal/config"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			slog.Info("no .env file found, using environment variables only")
		}
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Log)
	slog.SetDefault(log)

	log.Info("prism-arena server",
		"tick_rate", cfg.Sim.TickRateHz,
		"max_entities", cfg.Sim.MaxEntities,
		"map_radius", cfg.Sim.MapRadius,
		"rings", len(cfg.Tuning.Rings),
	)

	rooms := api.NewRoomManager(cfg, log, api.EngineMetrics{})
	rooms.Start()

	if os.Getenv("DISABLE_DEBUG_SERVER") != "true" {
		if err := api.StartDebugServer(api.DefaultObservabilityConfig(), log); err != nil {
			log.Warn("debug server disabled", "error", err)
		}
	}

	server := api.NewServer(cfg, rooms, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Error("api server stopped", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	log.Info("server ready")
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	rooms.Stop()
	log.Info("goodbye")
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(os.Stdout, nil)
	} else {
		handler = slog.NewTextHandler(os.Stdout, nil)
	}
	return slog.New(handler)
}
