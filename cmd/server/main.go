package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/openclaw/wagate-server-go/internal/adapter/bridge"
	"github.com/openclaw/wagate-server-go/internal/config"
	"github.com/openclaw/wagate-server-go/internal/database"
	"github.com/openclaw/wagate-server-go/internal/handler"
	"github.com/openclaw/wagate-server-go/internal/jobs"
	"github.com/openclaw/wagate-server-go/internal/middleware"
	"github.com/openclaw/wagate-server-go/internal/pairing"
	"github.com/openclaw/wagate-server-go/internal/redis"
	"github.com/openclaw/wagate-server-go/internal/repository"
	"github.com/openclaw/wagate-server-go/internal/service"
	"github.com/openclaw/wagate-server-go/internal/session"
	"github.com/openclaw/wagate-server-go/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	ownerRepo := repository.NewOwnerRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db, cfg.PairingPayloadKey)
	messageRepo := repository.NewMessageRepository(db.DB)

	ctx, cancel = context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := jobs.ReconcileOnStartup(ctx, sessionRepo); err != nil {
		log.Fatal().Err(err).Msg("failed to reconcile sessions")
	}
	cancel()

	broker := sse.NewBroker(redisClient)

	dispatcher := service.NewWebhookDispatcher(sessionRepo, ownerRepo, broker, service.WebhookOptions{
		MaxAttempts:   cfg.WebhookMaxAttempts,
		Timeout:       cfg.WebhookTimeout(),
		RatePerSecond: cfg.WebhookRatePerSecond,
		SigningSecret: cfg.WebhookSigningSecret,
	})
	dispatcher.Start()

	orchestrator := session.NewOrchestrator(sessionRepo, ownerRepo, bridge.NewDriver(cfg.BridgeURL, cfg.BridgeToken), session.Options{
		PairingExpiry:      cfg.PairingExpiry(),
		MaxConcurrentOpens: cfg.MaxConcurrentOpens,
		OpenQueueTimeout:   cfg.OpenQueueTimeout(),
		Encoder:            pairing.NewEncoder(0),
		Notifier:           dispatcher,
	})

	rateLimiter := service.NewRateLimiter(redisClient)
	messageService := service.NewMessageService(
		messageRepo, orchestrator, sessionRepo, rateLimiter, dispatcher, cfg.MaxMediaBytes,
	)

	authMiddleware := middleware.NewAuthMiddleware(ownerRepo)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	sessionHandler := handler.NewSessionHandler(orchestrator)
	messageHandler := handler.NewMessageHandler(messageService, cfg.MaxMediaBytes)
	eventsHandler := handler.NewEventsHandler(broker)
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": db.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}, orchestrator.Registry().Len)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(config.IPRequestsPerMinute, time.Minute))
		r.Use(authMiddleware.Handler)

		// long-lived stream, outside the request timeout
		r.Get("/events", eventsHandler.ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

			// media uploads carry their own body limit
			r.Mount("/sessions/{sessionID}/messages", messageHandler.Routes())

			r.Group(func(r chi.Router) {
				r.Use(bodyLimitMiddleware.Handler)
				r.Mount("/sessions", sessionHandler.Routes())
			})
		})
	})

	cleanupJob := jobs.NewCleanupJob(messageRepo, cfg.MessageRetention(), config.CleanupJobInterval)
	cleanupJob.Start()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		session.NewSweeper(orchestrator, cfg.SweepInterval()).Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}

		drainCtx, drainCancel := context.WithTimeout(shutdownCtx, config.OrchestratorDrainMax)
		defer drainCancel()
		if err := orchestrator.Shutdown(drainCtx); err != nil {
			log.Error().Err(err).Msg("session orchestrator did not drain")
		}
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("webhook dispatcher did not drain")
		}

		cleanupJob.Stop()
		broker.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
