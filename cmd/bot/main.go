// Command bot runs the Telegram side of the support desk: it turns user
// messages into tickets and delivers operator replies queued by the
// dashboard.
package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-support-desk/internal/bot"
	"github.com/tbourn/go-support-desk/internal/config"
	"github.com/tbourn/go-support-desk/internal/observability"
	"github.com/tbourn/go-support-desk/internal/repo"
	"github.com/tbourn/go-support-desk/internal/services"
	"github.com/tbourn/go-support-desk/internal/sysutil"
)

var version = "dev"

// longPollTimeout is the getUpdates timeout in seconds.
const longPollTimeout = 60

func main() {
	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, string(observability.ProcessBot))
	if err := cfg.ValidateBot(); err != nil {
		log.Fatal().Err(err).Msg("invalid bot configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, observability.ProcessBot, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DB.Driver).Msg("open database")
	}
	defer func() { _ = repo.Close(db) }()
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram login failed")
	}
	api.Debug = cfg.Bot.Debug
	log.Info().Str("bot", api.Self.UserName).Int64("admin_id", cfg.Bot.AdminID).Str("version", version).Msg("bot authorized")
	if cfg.Bot.AdminID == 0 {
		log.Warn().Msg("ADMIN_ID not set: admin commands and notifications are disabled")
	}

	tickets := services.NewTicketService(db)
	tickets.MaxTextRunes = cfg.MaxTextRunes

	poller := &bot.Poller{
		Client:      api,
		Outbox:      &services.DeliveryService{DB: db},
		Interval:    cfg.Bot.PollInterval,
		Batch:       cfg.Bot.PollBatch,
		MaxAttempts: cfg.Bot.MaxAttempts,
		BackoffMax:  cfg.Bot.BackoffMax,
		RetryBase:   cfg.Bot.RetryBase,
	}
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("delivery poller stopped")
		}
	}()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = longPollTimeout
	updates := api.GetUpdatesChan(u)
	go func() {
		<-ctx.Done()
		api.StopReceivingUpdates()
	}()

	if err := bot.New(api, tickets, cfg.Bot.AdminID).Run(ctx, updates); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bot stopped")
	}
	log.Info().Msg("bot shut down")
}
