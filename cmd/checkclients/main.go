// Command checkclients runs one expiry pass over every server and exits. It is
// meant for system cron when the bot's own schedule is disabled.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/rs/zerolog/log"

	"github.com/BatmanBruc/wgshop-bot/internal/config"
	"github.com/BatmanBruc/wgshop-bot/internal/expiry"
	"github.com/BatmanBruc/wgshop-bot/internal/handlers"
	"github.com/BatmanBruc/wgshop-bot/internal/logging"
	"github.com/BatmanBruc/wgshop-bot/internal/qr"
	"github.com/BatmanBruc/wgshop-bot/internal/wgeasy"
	"github.com/BatmanBruc/wgshop-bot/store"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logging.Init(logging.Config{Component: "checkclients"})
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "checkclients"})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer pgStore.Close()

	registry, err := wgeasy.NewRegistry(cfg.Servers, cfg.WGPassword, cfg.WGTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up wg-easy clients")
	}

	qrCache, err := qr.NewCache(cfg.QRDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare QR directory")
	}

	b, err := bot.New(cfg.BotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bot")
	}

	scanner := expiry.NewScanner(pgStore, registry, handlers.NewTelegramNotifier(b, cfg.Servers), qrCache,
		expiry.Config{Servers: cfg.Servers})

	failed := false
	for _, r := range scanner.Run(ctx) {
		if r.Err != nil || r.Failed > 0 {
			failed = true
			log.Warn().Err(r.Err).Str("server", r.Server).Int("warned", r.Warned).
				Int("removed", r.Removed).Int("failed", r.Failed).Msg("server checked with errors")
			continue
		}
		log.Info().Str("server", r.Server).Int("warned", r.Warned).Int("removed", r.Removed).Msg("server checked")
	}
	if failed {
		pgStore.Close()
		os.Exit(1)
	}
}
