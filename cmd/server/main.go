package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	api "github.com/gatehouse-id/gatehouse/api/echo"
	"github.com/gatehouse-id/gatehouse/cache"
	redisstore "github.com/gatehouse-id/gatehouse/cache/redis"
	"github.com/gatehouse-id/gatehouse/config"
	"github.com/gatehouse-id/gatehouse/flow"
	"github.com/gatehouse-id/gatehouse/internal/auth"
	"github.com/gatehouse-id/gatehouse/mongodb"
	"github.com/gatehouse-id/gatehouse/services"
	"github.com/gatehouse-id/gatehouse/tracing"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
		log.Warn().Str("configured", cfg.LogLevel).Msg("invalid LOG_LEVEL, defaulting to info")
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	log.Info().
		Str("http_port", cfg.HTTPPort).
		Str("mongo_db", cfg.MongoDBName).
		Str("issuer", cfg.Issuer).
		Msg("starting gatehouse")

	tracerProvider, err := tracing.InitTracerProvider(cfg.OtelServiceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	ctx := context.Background()
	if err := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	db := mongodb.GetDB()

	userRepo, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize user repository")
	}
	flowRepo, err := mongodb.NewFlowRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize flow repository")
	}
	sessionRepo, err := mongodb.NewSessionRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize session repository")
	}
	oauthRepo, err := mongodb.NewOAuthRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize oauth repository")
	}
	consentRepo, err := mongodb.NewConsentRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize consent repository")
	}
	tenantRepo, err := mongodb.NewTenantRepository(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tenant repository")
	}

	var sessionStore cache.SessionStore
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to Redis")
		}
		sessionStore = redisstore.NewSessionStore(client, "gatehouse")
		log.Info().Str("addr", cfg.RedisAddr).Msg("using Redis session store")
	} else {
		sessionStore = cache.NewMemorySessionStore(time.Duration(cfg.SessionTTLHour) * time.Hour)
		log.Info().Msg("using in-memory session store")
	}

	hasher := auth.NewBcryptPasswordHasher(cfg.BcryptCost, cfg.PasswordVerifyWorkers)

	sessionSvc := services.NewSessionService(sessionRepo, sessionStore,
		time.Duration(cfg.SessionTTLHour)*time.Hour)
	userSvc := services.NewUserService(userRepo)
	tokenSvc := services.NewTokenService(oauthRepo,
		[]byte(cfg.TokenSigningSecret), cfg.Issuer,
		time.Duration(cfg.AccessTokenTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLHour)*time.Hour)
	oauthSvc := services.NewOAuthService(oauthRepo, consentRepo, tokenSvc)

	resolver := flow.NewResolver(flowRepo, tenantRepo)
	executor := flow.NewExecutor(flowRepo, userSvc, sessionSvc, consentRepo, hasher)

	e := echo.New()
	e.HideBanner = true
	api.NewAPI(resolver, executor, oauthSvc, tokenSvc, sessionSvc, userSvc, hasher).
		RegisterRoutes(e, cfg.CORSAllowedOrigins)

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("HTTP server listening")
		if err := e.Start(":" + cfg.HTTPPort); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start HTTP server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}
	executor.Stop()
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer provider shutdown error")
	}
	if err := mongodb.Disconnect(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("MongoDB disconnect error")
	}

	log.Info().Msg("server stopped")
}
