package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"medportal/internal/cache"
	"medportal/internal/config"
	"medportal/internal/database"
	"medportal/internal/events"
	"medportal/internal/guard"
	"medportal/internal/handlers"
	"medportal/internal/jobs"
	"medportal/internal/log"
	"medportal/internal/repository"
	"medportal/internal/security"
	"medportal/internal/server"
	"medportal/internal/service"
	"medportal/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	// Misconfigured security never degrades into serving without auth.
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	keys, err := security.NewKeyring([]byte(cfg.Security.SigningSecret), cfg.Security.RotationGrace)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init signing keyring")
	}
	if prev := cfg.Security.PreviousSigningSecret; prev != "" {
		if err := keys.Retain([]byte(prev)); err != nil {
			logger.Fatal().Err(err).Msg("failed to retain previous signing secret")
		}
	}
	tokens, err := security.NewTokenManager(keys, cfg.Security.TokenConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init token manager")
	}
	hasher, err := security.NewPasswordHasher(cfg.Password.Policy())
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init password hasher")
	}
	landing, err := cfg.Landing()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid landing table")
	}
	accessGuard := guard.New(tokens, guard.Policy{
		LoginPath: cfg.Security.LoginPath,
		Landing:   guard.Landing(landing),
	}, logger)

	ctx := context.Background()
	var checks []handlers.HealthCheck

	var dbPool *pgxpool.Pool
	var accounts service.AccountStore
	if cfg.Postgres.DSN != "" {
		dbPool, err = database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect postgres")
		}
		if err := database.Migrate(ctx, dbPool); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
		accounts = repository.NewAccountRepository(dbPool)
		checks = append(checks, handlers.HealthCheck{Name: "database", Ping: dbPool.Ping})
	} else {
		logger.Warn().Msg("no postgres dsn configured, accounts are kept in memory")
		accounts = repository.NewMemoryAccountRepository()
	}

	var redisClient *redis.Client
	var publisher events.Publisher = events.Discard
	var trimmer jobs.StreamTrimmer
	if cfg.Redis.Addr != "" {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect redis")
		}
		stream := events.NewStreamPublisher(redisClient, cfg.Events.Stream, cfg.Events.MaxLen)
		publisher = stream
		trimmer = stream
		checks = append(checks, handlers.HealthCheck{
			Name: "cache",
			Ping: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	var avatars *service.AvatarService
	if cfg.Storage.Endpoint != "" {
		objectStore, err := storage.NewObjectStore(cfg.Storage)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init object store")
		}
		if err := objectStore.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Msg("ensure bucket failed")
		}
		avatars = service.NewAvatarService(accounts, objectStore, cfg.Storage.MaxPictureBytes, logger)
		checks = append(checks, handlers.HealthCheck{Name: "storage", Ping: objectStore.Ping})
	}

	authService, err := service.NewAuthService(accounts, hasher, tokens, publisher, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init auth service")
	}

	handlerSet := handlers.NewHandlerSet(logger, cfg, authService, avatars, accessGuard, checks...)
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(keys, trimmer, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go rotateOnHangup(sigCtx, keys, logger)

	waitForShutdown(sigCtx, logger, httpServer, scheduler, dbPool, redisClient)
}

// rotateOnHangup re-reads configuration on SIGHUP and rotates the signing
// key when the secret changed. An invalid reload keeps the current key.
func rotateOnHangup(ctx context.Context, keys *security.Keyring, logger zerolog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		cfg, err := config.Load()
		if err == nil {
			err = cfg.Validate()
		}
		if err != nil {
			logger.Error().Err(err).Msg("reload rejected, keeping current signing key")
			continue
		}

		before := keys.Active().ID
		if err := keys.Rotate([]byte(cfg.Security.SigningSecret)); err != nil {
			logger.Error().Err(err).Msg("signing key rotation failed")
			continue
		}
		if after := keys.Active().ID; after != before {
			logger.Info().
				Str("previous_kid", before).
				Str("kid", after).
				Msg("signing key rotated")
		} else {
			logger.Info().Msg("signing secret unchanged")
		}
	}
}

func waitForShutdown(ctx context.Context, logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop()

	if db != nil {
		db.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close error")
		}
	}

	logger.Info().Msg("server exited cleanly")
}
