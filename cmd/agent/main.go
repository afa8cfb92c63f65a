package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/deriv-trading/agent/internal/api"
	"github.com/deriv-trading/agent/internal/broadcast"
	"github.com/deriv-trading/agent/internal/config"
	"github.com/deriv-trading/agent/internal/orchestrator"
	"github.com/deriv-trading/agent/internal/persistence"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("starting deriv trading agent...")

	cfg, err := config.Load("config.yaml", ".env")
	if err != nil {
		log.Warn().Err(err).Msg("failed to load config.yaml, falling back to defaults")
		cfg, err = config.DefaultConfig(".env")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to resolve configuration")
		}
	}

	store, err := persistence.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open persistence store")
	}

	var hub *broadcast.Hub
	if cfg.API.Enabled {
		hub = broadcast.New()
	}

	orch := orchestrator.New(cfg, store, hub)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Addr, orch)
		go func() {
			if err := apiServer.Start(); err != nil {
				log.Error().Err(err).Msg("api: server error")
			}
		}()
	}

	if err := orch.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start orchestrator")
	}

	log.Info().
		Str("symbol", cfg.Trading.Symbol).
		Msg("deriv trading agent started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	fatal := false
	select {
	case <-quit:
		log.Info().Msg("shutting down...")
	case <-orch.Fatal():
		log.Error().Msg("fatal condition reported, shutting down")
		fatal = true
	}

	orch.Stop()

	if apiServer != nil {
		if err := apiServer.Shutdown(); err != nil {
			log.Error().Err(err).Msg("api: shutdown error")
		}
	}

	if fatal {
		log.Error().Msg("deriv trading agent stopped due to a fatal error")
		os.Exit(1)
	}

	log.Info().Msg("deriv trading agent stopped")
}
