package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog/log"

	"github.com/BatmanBruc/wgshop-bot/internal/approval"
	"github.com/BatmanBruc/wgshop-bot/internal/config"
	"github.com/BatmanBruc/wgshop-bot/internal/expiry"
	"github.com/BatmanBruc/wgshop-bot/internal/flow"
	"github.com/BatmanBruc/wgshop-bot/internal/handlers"
	"github.com/BatmanBruc/wgshop-bot/internal/logging"
	"github.com/BatmanBruc/wgshop-bot/internal/metrics"
	"github.com/BatmanBruc/wgshop-bot/internal/middleware"
	"github.com/BatmanBruc/wgshop-bot/internal/qr"
	"github.com/BatmanBruc/wgshop-bot/internal/scheduler"
	"github.com/BatmanBruc/wgshop-bot/internal/wgeasy"
	"github.com/BatmanBruc/wgshop-bot/store"
	"github.com/BatmanBruc/wgshop-bot/types"
)

const expiryTask = "expiry"

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logging.Init(logging.Config{Component: "bot"})
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, Component: "bot"})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.InitMetrics()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server stopped")
			}
		}()
	}

	pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer pgStore.Close()

	// A claim older than twice the lock TTL belongs to an approval that died.
	lockTTL := 2*cfg.WGTimeout + 30*time.Second
	var locker types.Locker = store.NewLocalLocker()
	if cfg.Redis != nil {
		rdb, err := store.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, "wgshop")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		defer rdb.Close()
		locker = store.NewRedisLocker(rdb, lockTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("approval locks in Redis")
	}

	registry, err := wgeasy.NewRegistry(cfg.Servers, cfg.WGPassword, cfg.WGTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up wg-easy clients")
	}

	qrCache, err := qr.NewCache(cfg.QRDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare QR directory")
	}

	var h *handlers.Handlers

	httpClient := &http.Client{
		Timeout: 2 * time.Minute,
	}
	pollTimeout := 50 * time.Second

	b, err := bot.New(
		cfg.BotToken,
		bot.WithHTTPClient(pollTimeout, httpClient),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bot")
	}

	notifier := handlers.NewTelegramNotifier(b, cfg.Servers)

	machine := flow.NewMachine(pgStore, notifier, flow.Config{
		OperatorID:   cfg.OperatorID,
		Servers:      cfg.Servers,
		PaymentURL:   cfg.PaymentURL,
		PaymentPrice: cfg.PaymentPrice,
		ClaimTimeout: 2 * lockTTL,
	})
	restored, err := machine.Restore(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to restore conversations")
	}
	log.Info().Int("conversations", restored).Msg("conversation state restored")

	workflow := approval.NewWorkflow(machine, pgStore, registry, notifier, locker,
		qr.NewPNGEncoder(0), qrCache, approval.Config{
			OperatorID:   cfg.OperatorID,
			SupportEmail: cfg.SupportEmail,
		})

	scanner := expiry.NewScanner(pgStore, registry, notifier, qrCache, expiry.Config{Servers: cfg.Servers})

	sched := scheduler.NewScheduler(scheduler.Config{})
	var scanTrigger func() bool
	if cfg.ExpirySchedule != "" {
		if err := sched.Add(expiryTask, cfg.ExpirySchedule, func(ctx context.Context) {
			logReports(scanner.Run(ctx))
		}); err != nil {
			log.Fatal().Err(err).Msg("invalid EXPIRY_SCHEDULE")
		}
		scanTrigger = func() bool { return sched.Trigger(expiryTask) }
		log.Info().Str("schedule", cfg.ExpirySchedule).Msg("expiry scan scheduled")
	} else {
		log.Info().Msg("expiry scan disabled, run checkclients from cron")
	}
	sched.Start()
	defer sched.Stop()

	h = handlers.NewHandlers(machine, workflow, cfg.OperatorID, scanTrigger)

	handlerChain := middleware.RecoverMiddleware(
		middleware.RequestIDMiddleware(
			middleware.AnalyzeMessageMiddleware(
				h.MainHandler,
			),
		),
	)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, handlerChain)

	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, handlerChain)

	log.Info().Int("servers", len(cfg.Servers)).Int64("operator", cfg.OperatorID).Msg("bot started")
	b.Start(ctx)
	log.Info().Msg("bot stopped")
}

func logReports(reports []expiry.Report) {
	for _, r := range reports {
		ev := log.Info()
		if r.Err != nil || r.Failed > 0 {
			ev = log.Warn().Err(r.Err)
		}
		ev.Str("server", r.Server).
			Int("warned", r.Warned).
			Int("removed", r.Removed).
			Int("failed", r.Failed).
			Msg("expiry scan finished")
	}
}
