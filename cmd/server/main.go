package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aquaminds/meter-relay-go/internal/config"
	"github.com/aquaminds/meter-relay-go/internal/database"
	"github.com/aquaminds/meter-relay-go/internal/handler"
	"github.com/aquaminds/meter-relay-go/internal/jobs"
	"github.com/aquaminds/meter-relay-go/internal/middleware"
	"github.com/aquaminds/meter-relay-go/internal/model"
	"github.com/aquaminds/meter-relay-go/internal/redis"
	"github.com/aquaminds/meter-relay-go/internal/registry"
	"github.com/aquaminds/meter-relay-go/internal/relay"
	"github.com/aquaminds/meter-relay-go/internal/repository"
	"github.com/aquaminds/meter-relay-go/internal/service"
	"github.com/aquaminds/meter-relay-go/internal/token"
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
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	meterRepo := repository.NewMeterRepository(db.DB)
	pairingRepo := repository.NewPairingSecretRepository(db.DB)
	recordRepo := repository.NewRecordRepository(db.DB)

	issuer := token.NewIssuer(cfg.JWTSecret)

	hub := relay.NewHub(redisClient)
	defer hub.Close()

	deviceSessions := registry.New[model.Identity]()
	userSessions := registry.New[model.Identity]()

	meterService := service.NewMeterService(meterRepo, recordRepo)
	pairingService := service.NewPairingService(db, pairingRepo, meterRepo, issuer, cfg.PairingTTL())
	recordService := service.NewRecordService(recordRepo)

	authMiddleware := middleware.NewAuthMiddleware(issuer)
	redeemLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.RedeemRatePerMin)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	meterHandler := handler.NewMeterHandler(
		meterService, pairingService, authMiddleware.Handler, redeemLimitMiddleware.Handler,
	)
	ingestHandler := relay.NewIngestHandler(issuer, deviceSessions, recordService, hub)
	distributeHandler := relay.NewDistributeHandler(issuer, userSessions, hub)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1/meters", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(bodyLimitMiddleware.Handler)
		r.Mount("/", meterHandler.Routes())
	})

	// Relay channels hold their connections open; no request timeout.
	r.Route("/ws", func(r chi.Router) {
		r.Get("/ingest", ingestHandler.ServeHTTP)
		r.Get("/distribute", distributeHandler.ServeHTTP)
	})

	cleanupJob := jobs.NewCleanupJob(pairingRepo, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
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
