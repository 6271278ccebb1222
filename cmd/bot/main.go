package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/PaulSonOfLars/gotgbot/v2/ext"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/conversation"
	"chatrelay/internal/credentials"
	"chatrelay/internal/metrics"
	"chatrelay/internal/providers/registry"
	"chatrelay/internal/queue"
	"chatrelay/internal/setup"
	"chatrelay/internal/storage"
	"chatrelay/internal/telegram"
)

type backends struct {
	creds   credentials.Store
	history conversation.Store
	holder  setup.StateHolder
	limiter chat.Limiter
	dedupe  telegram.Deduper
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("update_mode", cfg.UpdateMode).
		Str("state_backend", cfg.StateBackend).
		Str("default_provider", cfg.DefaultProvider).
		Bool("audit_log", cfg.DB.DSN != "").
		Msg("starting chatrelay")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.Global()

	reg := registry.New(registry.Config{
		Providers:       buildProviders(cfg.Providers),
		DefaultProvider: cfg.DefaultProvider,
		HTTPClient:      &http.Client{Timeout: cfg.HTTP.ClientTimeout},
		Timeout:         cfg.HTTP.ClientTimeout,
		MaxRetries:      cfg.HTTP.MaxRetries,
		BackoffBase:     cfg.HTTP.BackoffBase,
		Logger:          log.Logger,
		Metrics:         m,
	})
	for _, e := range reg.All() {
		log.Info().
			Str("provider", e.ID).
			Str("model", e.Adapter.Model()).
			Bool("env_credential", e.Adapter.HasEnvCredential()).
			Msg("provider registered")
	}

	var be backends
	var checks []healthCheck
	switch cfg.StateBackend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to connect redis")
		}
		defer rdb.Close()
		checks = append(checks, healthCheck{name: "redis", ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }})
		prefix := cfg.Redis.KeyPrefix
		be = backends{
			creds:   credentials.NewRedisStore(rdb, prefix),
			history: conversation.NewRedisStore(rdb, prefix, cfg.Redis.HistoryTTL),
			holder:  setup.NewRedisHolder(rdb, prefix, cfg.Redis.SetupTTL),
			limiter: queue.NewRateLimiter(rdb, prefix, cfg.Rate.PerHour),
			dedupe:  queue.NewUpdateDeduplicator(rdb, prefix, cfg.Redis.UpdateTTL),
		}
	default:
		be = backends{
			creds:   credentials.NewMemoryStore(),
			history: conversation.NewMemoryStore(),
			holder:  setup.NewMemoryHolder(),
		}
	}

	var audit telegram.AuditLog
	var auditor setup.Auditor
	if cfg.DB.DSN != "" {
		store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize storage")
		}
		defer store.Close()
		audit, auditor = store, store
		checks = append(checks, healthCheck{name: "audit_db", ping: store.Ping})
	}

	machine := setup.NewMachine(setup.Config{
		Registry:    reg,
		Credentials: be.creds,
		Holder:      be.holder,
		Auditor:     auditor,
		Logger:      log.Logger,
		Metrics:     m,
	})
	router := chat.NewRouter(chat.Config{
		Registry:     reg,
		Credentials:  be.creds,
		Conversation: be.history,
		Limiter:      be.limiter,
		Logger:       log.Logger,
		Metrics:      m,
	})
	service := telegram.NewService(telegram.Config{
		Router:       router,
		Machine:      machine,
		Registry:     reg,
		Credentials:  be.creds,
		Conversation: be.history,
		Audit:        audit,
		Logger:       log.Logger,
		Metrics:      m,
	})

	bot, err := gotgbot.NewBot(cfg.BotToken, nil)
	if err != nil {
		log.Fatal().Msg(sanitizeTelegramErr(err, cfg.BotToken))
	}
	log.Info().Str("bot_username", bot.User.Username).Int64("bot_id", bot.User.Id).Msg("telegram bot initialized")

	logTelegramErr := func(err error) {
		log.Error().Str("component", "telegram").Msg(sanitizeTelegramErr(err, cfg.BotToken))
	}
	dispatcher := ext.NewDispatcher(&ext.DispatcherOpts{
		MaxRoutines:      100,
		UnhandledErrFunc: logTelegramErr,
		Processor: telegram.Processor{
			Dedupe:  be.dedupe,
			Metrics: m,
			Logger:  log.Logger,
		},
	})
	service.Register(dispatcher)
	updater := ext.NewUpdater(dispatcher, &ext.UpdaterOpts{
		UnhandledErrFunc: logTelegramErr,
	})

	var webhookHandler http.HandlerFunc
	var webhookRoute string
	switch cfg.UpdateMode {
	case config.UpdateModeWebhook:
		path := cfg.Webhook.SecretPath
		if path == "" {
			path = "telegram"
		}
		if err := updater.AddWebhook(bot, path, &ext.AddWebhookOpts{SecretToken: cfg.Webhook.SecretToken}); err != nil {
			log.Fatal().Err(err).Msg("failed to configure webhook handler")
		}
		webhookURL := strings.TrimSuffix(cfg.Webhook.PublicURL, "/") + "/" + path
		if _, err := bot.SetWebhook(webhookURL, &gotgbot.SetWebhookOpts{
			SecretToken: cfg.Webhook.SecretToken,
		}); err != nil {
			log.Fatal().Msg(sanitizeTelegramErr(err, cfg.BotToken))
		}
		log.Info().Str("webhook_url", webhookURL).Msg("webhook registered")
		webhookRoute = "/" + path
		webhookHandler = updater.GetHandlerFunc("/")
	default:
		if err := updater.StartPolling(bot, &ext.PollingOpts{
			EnableWebhookDeletion: true,
			DropPendingUpdates:    true,
			GetUpdatesOpts: &gotgbot.GetUpdatesOpts{
				Timeout: 50,
				RequestOpts: &gotgbot.RequestOpts{
					Timeout: 60 * time.Second,
				},
			},
		}); err != nil {
			log.Fatal().Msg(sanitizeTelegramErr(err, cfg.BotToken))
		}
		log.Info().Msg("polling mode started")
	}

	errCh := make(chan error, 1)
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Webhook.HealthPath, healthHandler(checks))
	mux.Handle(cfg.Webhook.MetricsPath, promhttp.Handler())
	if webhookHandler != nil {
		mux.HandleFunc(webhookRoute, webhookHandler)
	}
	httpServer := &http.Server{
		Addr:              cfg.Webhook.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Webhook.WebhookTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.Webhook.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := updater.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop updater")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// sanitizeTelegramErr strips the bot token from errors that embed request URLs.
func sanitizeTelegramErr(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}

	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
		msg = strings.ReplaceAll(msg, "bot"+botID+"/", "bot<redacted>/")
	}
	return msg
}
