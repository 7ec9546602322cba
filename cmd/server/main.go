package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/paymind/sessionpay/internal/config"
	"github.com/paymind/sessionpay/internal/database"
	"github.com/paymind/sessionpay/internal/handler"
	"github.com/paymind/sessionpay/internal/ledger"
	"github.com/paymind/sessionpay/internal/middleware"
	"github.com/paymind/sessionpay/internal/redis"
	"github.com/paymind/sessionpay/internal/repository"
	"github.com/paymind/sessionpay/internal/service"
	"github.com/paymind/sessionpay/internal/sse"
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

	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DatabaseURL, "up"); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")
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

	var sessionLedger service.SessionLedger
	if cfg.LedgerEnabled() {
		dialCtx, dialCancel := context.WithTimeout(context.Background(), config.LedgerCallTimeout)
		ethClient, err := ethclient.DialContext(dialCtx, cfg.LedgerRPCURL)
		dialCancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to ledger rpc")
		}
		defer ethClient.Close()

		sessionLedger = ledger.NewSessionReader(
			ethClient,
			common.HexToAddress(cfg.SettlementContract),
			common.HexToAddress(cfg.FundingToken),
		)
		log.Info().
			Str("settlement", cfg.SettlementContract).
			Int64("chainId", cfg.ChainID).
			Msg("ledger verification enabled")
	}

	ownerRepo := repository.NewOwnerRepository(db.DB)
	sessionRepo := repository.NewSessionRepository(db.DB)
	paymentRepo := repository.NewPaymentRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	sessionService := service.NewSessionService(sessionRepo, sessionLedger, broker)
	enforcer := service.NewSpendEnforcer(sessionRepo)
	nonceGuard := service.NewNonceGuard(redisClient.Client, cfg.NonceTTL())
	paymentService := service.NewPaymentService(
		db, sessionRepo, paymentRepo, enforcer, nonceGuard, broker, cfg.ChainID,
	)
	rateLimiter := service.NewRateLimiter(redisClient.Client)

	authMiddleware := middleware.NewAuthMiddleware(ownerRepo)
	ownerRateLimit := middleware.NewOwnerRateLimitMiddleware(rateLimiter)
	paymentRateLimit := middleware.NewIPRateLimitMiddleware(
		rateLimiter, cfg.PaymentRateLimitPerMin, time.Minute, "payments",
	)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(cfg.BodyLimitBytes)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	sessionHandler := handler.NewSessionHandler(sessionService)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	eventsHandler := handler.NewEventsHandler(broker)
	configHandler := handler.NewConfigHandler(cfg)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"ledger":    cfg.LedgerEnabled(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/config", configHandler.ServeHTTP)

		r.Route("/payments", func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(paymentRateLimit.Handler)
			r.Mount("/", paymentHandler.Routes())
		})

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Handler)
			r.Use(ownerRateLimit.Handler)

			r.With(chimiddleware.Timeout(config.ServerRequestTimeout)).
				Mount("/sessions", sessionHandler.Routes())
			r.Get("/events", eventsHandler.ServeHTTP)
		})
	})

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
