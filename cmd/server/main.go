package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/navigapp/navigapp-server-go/internal/config"
	"github.com/navigapp/navigapp-server-go/internal/database"
	"github.com/navigapp/navigapp-server-go/internal/handler"
	"github.com/navigapp/navigapp-server-go/internal/jobs"
	"github.com/navigapp/navigapp-server-go/internal/middleware"
	"github.com/navigapp/navigapp-server-go/internal/redis"
	"github.com/navigapp/navigapp-server-go/internal/repository"
	"github.com/navigapp/navigapp-server-go/internal/service"
	"github.com/navigapp/navigapp-server-go/internal/telegram"
	"github.com/navigapp/navigapp-server-go/internal/token"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	setLogLevel(cfg.LogLevel)
	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
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
	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
		log.Info().Msg("database schema applied")
	}
	cancel()
	log.Info().Msg("database connected")

	ctx, cancel = context.WithTimeout(context.Background(), config.DBPingTimeout)
	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	userRepo := repository.NewUserRepository(db.DB)
	authRequestRepo := repository.NewAuthRequestRepository(db.DB)
	sessionRepo := repository.NewAuthSessionRepository(db.DB)

	tokens, err := token.NewService(
		cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTokenTTL, cfg.RefreshTokenTTL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token service")
	}

	verifier := telegram.NewVerifier(
		cfg.TelegramBotToken,
		telegram.WithMaxAge(config.InitDataMaxAge),
		telegram.WithDemoIdentity(cfg.DemoAuthEnabled),
	)
	if cfg.DemoAuthEnabled {
		log.Warn().Msg("demo identity enabled: never use this outside local development")
	}

	rateLimiter := service.NewRateLimiter(redisClient.Client)
	authService := service.NewAuthService(
		db, userRepo, authRequestRepo, sessionRepo, tokens, verifier,
		cfg.WebAppBaseURL, cfg.AuthHashTTL,
	)
	botService := service.NewBotService(
		authService, telegram.NewBotClient(cfg.TelegramBotToken), rateLimiter, userRepo,
	)

	authMiddleware := middleware.NewAuthMiddleware(authService)
	botKeyMiddleware := middleware.NewBotKeyMiddleware(cfg.BotAPIKey)
	authLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.AuthIPLimit, config.AuthIPWindow, "auth",
	)
	refreshLimitMiddleware := middleware.NewIPRateLimitMiddleware(
		rateLimiter, config.RefreshIPLimit, config.RefreshIPWindow, "refresh",
	)
	webhookMiddleware := middleware.NewTelegramWebhookMiddleware(cfg.TelegramWebhookSecret)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(cfg.IsProduction())
	corsMiddleware := middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins)

	authHandler := handler.NewAuthHandler(authService, handler.AuthHandlerConfig{
		BotKey:       botKeyMiddleware.Handler,
		RequireAuth:  authMiddleware.Handler,
		AuthLimit:    authLimitMiddleware.Handler,
		RefreshLimit: refreshLimitMiddleware.Handler,
	})
	telegramHandler := handler.NewTelegramHandler(botService)
	redisPing := handler.PingFunc(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": db,
		"redis":    redisPing,
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)
	r.Use(securityHeadersMiddleware.Handler)

	r.Method(http.MethodGet, "/health", healthHandler)

	r.Route("/auth", func(r chi.Router) {
		r.Use(corsMiddleware.Handler)
		r.Mount("/", authHandler.Routes())
	})

	r.Route("/telegram", func(r chi.Router) {
		r.Use(webhookMiddleware.Handler)
		r.Post("/webhook", telegramHandler.Webhook)
	})

	cleanupJob := jobs.NewCleanupJob(
		authRequestRepo, sessionRepo, config.CleanupJobInterval, config.AuthRequestRetention,
	)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.AppEnv).Msg("starting server")
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
