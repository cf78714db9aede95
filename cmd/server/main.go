package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/smarthome-labs/nuki-bridge/internal/api"
	"github.com/smarthome-labs/nuki-bridge/internal/auth"
	"github.com/smarthome-labs/nuki-bridge/internal/bus"
	"github.com/smarthome-labs/nuki-bridge/internal/config"
	"github.com/smarthome-labs/nuki-bridge/internal/domain"
	"github.com/smarthome-labs/nuki-bridge/internal/nukiapi"
	"github.com/smarthome-labs/nuki-bridge/internal/registration"
	"github.com/smarthome-labs/nuki-bridge/internal/state"
	"github.com/smarthome-labs/nuki-bridge/internal/store"
)

// hookTimeout bounds the best-effort fan-out work done per accepted event.
const hookTimeout = 5 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	var publisher *bus.Publisher
	if cfg.KafkaBrokers != "" {
		publisher = bus.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer publisher.Close()
		logger.Info("event bus enabled", "topic", cfg.KafkaTopic)
	}

	// Re-authentication is user-actionable: all we can do here is make it
	// loud for the config layer to pick up.
	session := auth.NewSessionManager(
		cfg.NukiTokenURL,
		cfg.NukiClientID,
		cfg.NukiClientSecret,
		cfg.TokenRefreshMargin,
		pgStore,
		func(err error) {
			logger.Error("re-authentication required", "error", err)
		},
		logger,
	)

	if token, err := pgStore.LoadToken(ctx); err != nil {
		logger.Error("failed to load persisted token", "error", err)
	} else if token != nil {
		session.Restore(token)
		logger.Info("session restored", "expires_at", token.ExpiresAt)
	} else {
		logger.Warn("no stored credential, authorization flow required")
	}

	aggregator := state.NewAggregator(logger)

	if states, err := pgStore.ListDeviceStates(ctx); err != nil {
		logger.Error("failed to load device states", "error", err)
	} else {
		for _, st := range states {
			aggregator.Restore(st)
		}
		logger.Info("device states restored", "devices", len(states))
	}

	// Fan accepted events out to the snapshot cache, the durable store
	// and the event bus. All best-effort: the in-memory state is already
	// committed when these run.
	aggregator.OnAccept(func(ev *domain.NormalizedEvent, st *domain.DeviceState) {
		hctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()

		if err := redisStore.SetDeviceSnapshot(hctx, st); err != nil {
			logger.Error("failed to cache device snapshot", "device_id", st.DeviceID, "error", err)
		}
		if err := pgStore.UpsertDeviceState(hctx, st); err != nil {
			logger.Error("failed to persist device state", "device_id", st.DeviceID, "error", err)
		}
		if publisher != nil {
			if err := publisher.Publish(hctx, ev, st); err != nil {
				logger.Error("failed to publish lock event", "device_id", st.DeviceID, "error", err)
			}
		}
	})

	apiClient := nukiapi.NewClient(cfg.NukiAPIURL, session, logger)

	coordinator := registration.NewCoordinator(apiClient, pgStore, func(err error) {
		logger.Error("webhook registration needs attention", "error", err)
	}, logger)

	webhookID := cfg.WebhookID
	if webhookID == "" {
		webhookID = uuid.NewString()
		logger.Info("generated webhook id", "webhook_id", webhookID)
	}
	targetURL := strings.TrimRight(cfg.PublicBaseURL, "/") + "/webhook/" + webhookID

	// Registration and auth-map seeding need a valid session; when the
	// credential is missing they are retried after the next authorization.
	if session.State() == auth.StateAuthorized {
		go bootstrapUpstream(ctx, coordinator, apiClient, aggregator, targetURL, logger)
	}

	webhookHandler := api.NewWebhookHandler(webhookID, cfg.WebhookSecret, aggregator, redisStore, logger)
	deviceHandler := api.NewDeviceHandler(aggregator)
	authHandler := api.NewAuthHandler(session, func() {
		bootstrapUpstream(ctx, coordinator, apiClient, aggregator, targetURL, logger)
	}, logger)
	router := api.NewRouter(webhookHandler, deviceHandler, authHandler, func() string {
		return string(session.State())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// bootstrapUpstream reconciles the webhook registration and seeds the
// actor-name map from the upstream auth listing.
func bootstrapUpstream(ctx context.Context, coordinator *registration.Coordinator, client *nukiapi.Client, aggregator *state.Aggregator, targetURL string, logger *slog.Logger) {
	bctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	desired := domain.WebhookRegistration{
		TargetURL:  targetURL,
		EventTypes: []string{"DEVICE_LOGS", "DEVICE_STATUS"},
	}
	if reg, err := coordinator.EnsureRegistered(bctx, desired); err != nil {
		logger.Error("webhook registration failed", "error", err)
	} else {
		logger.Info("webhook registered upstream", "webhook_id", reg.WebhookID)
	}

	auths, err := client.ListAuths(bctx)
	if err != nil {
		logger.Warn("auth listing skipped", "error", err)
		return
	}
	for _, a := range auths {
		aggregator.SetActorName(a.AuthID.String(), a.Name)
	}
	logger.Info("actor map seeded", "auths", len(auths))

	locks, err := client.ListSmartlocks(bctx)
	if err != nil {
		logger.Warn("smartlock listing skipped", "error", err)
		return
	}
	logger.Info("smartlocks discovered", "count", len(locks))
}
