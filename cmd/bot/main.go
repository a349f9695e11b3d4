package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/nearbyplaces/internal/adapters/cache"
	"github.com/zatekoja/nearbyplaces/internal/adapters/providers/places"
	"github.com/zatekoja/nearbyplaces/internal/api/handlers"
	"github.com/zatekoja/nearbyplaces/internal/api/routes"
	"github.com/zatekoja/nearbyplaces/internal/application/services"
	"github.com/zatekoja/nearbyplaces/internal/domain/providers"
	"github.com/zatekoja/nearbyplaces/internal/infrastructure/clients/redis"
	"github.com/zatekoja/nearbyplaces/internal/infrastructure/notifications"
	"github.com/zatekoja/nearbyplaces/internal/infrastructure/observability"
	"github.com/zatekoja/nearbyplaces/pkg/config"
)

const memoryCacheEntries = 4096

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.App.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize metrics")
	}

	checks := map[string]routes.HealthChecker{}
	var cacheProvider providers.CacheProvider
	if cfg.Redis.Enabled {
		redisClient, err := redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.RedisAddr()).Msg("redis unavailable, using in-memory cache")
		} else {
			defer redisClient.Close()
			cacheProvider = cache.NewRedisAdapter(redisClient)
			checks["redis"] = redisClient
			log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("connected to redis")
		}
	}
	if cacheProvider == nil {
		cacheProvider = cache.NewMemoryAdapter(memoryCacheEntries)
	}

	placesProvider, err := places.NewPlacesProvider(cfg.Places, cacheProvider, observability.Component("places"), metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create places provider")
	}

	storeOpts := []services.SessionStoreOption{services.WithStoreLogger(observability.Component("sessions"))}
	if cfg.Session.Persist {
		storeOpts = append(storeOpts, services.WithSnapshots(cacheProvider))
	}
	store := services.NewSessionStore(cfg.Session.IdleTTL, storeOpts...)
	engine := services.NewPaginationEngine(store, placesProvider, observability.Component("pagination"))
	dispatcher := services.NewDispatcher(store, engine, observability.Component("dispatcher"), metrics)

	sweeper := services.NewSessionSweeper(store, cfg.Session.SweepInterval, observability.Component("sweeper"), metrics)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	sender, err := notifications.NewWhatsAppCloudSender(cfg.WhatsApp, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create WhatsApp sender")
	}
	replies := services.NewReplyService(sender, placesProvider, observability.Component("replies"))

	webhook := handlers.NewWhatsAppWebhookHandler(dispatcher, replies, cacheProvider, cfg.WhatsApp,
		cfg.App.DispatchTimeout, observability.Component("webhook"))
	if cfg.WhatsApp.AppSecret == "" {
		log.Warn().Msg("WHATSAPP_APP_SECRET not set, webhook signatures are not verified")
	}

	router := routes.NewRouter(webhook, checks, metrics)
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Str("places_provider", cfg.Places.Provider).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	// Let accepted deliveries finish their replies.
	drained := make(chan struct{})
	go func() {
		webhook.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn().Msg("shutdown timed out with replies still in flight")
	}

	log.Info().Msg("server stopped")
}
