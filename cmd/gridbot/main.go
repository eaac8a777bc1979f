// Gridbot - Spot Grid Trading Bot
//
// Rests a ladder of limit orders across a configured price band and
// harvests the spread every time price oscillates through a level:
//
// 1. Compute grid levels (arithmetic or geometric spacing)
// 2. Rest buys below the current price
// 3. Buy fills flip into sells one level up
// 4. Sell fills close the oldest inventory FIFO and re-arm a buy below
// 5. Circuit breaker halts everything when the day goes wrong
//
// Single long-running process. Exits 0 on clean shutdown, 1 on fatal
// init error. SIGINT/SIGTERM request graceful shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/gridbot/bot"
	"github.com/web3guy0/gridbot/internal/config"
)

const version = "1.2.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration (reads .env + environment)
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.JSONLogs {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("version", version).
		Str("symbol", cfg.Grid.Symbol).
		Int("levels", cfg.Grid.NumGrids).
		Str("spacing", cfg.Grid.Spacing).
		Bool("dry_run", cfg.Trading.DryRun).
		Msg("⚡ Gridbot starting...")

	b, err := bot.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize bot")
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info().Msg("🛑 Received shutdown signal")
		cancel()
	}()

	if err := b.Run(ctx); err != nil {
		log.Error().Err(err).Msg("🚨 Bot exited with error")
		os.Exit(1)
	}

	log.Info().Msg("👋 Goodbye!")
}
