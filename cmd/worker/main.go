package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"medportal/internal/cache"
	"medportal/internal/config"
	"medportal/internal/log"
	"medportal/internal/queue"
	"medportal/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)

	if cfg.Redis.Addr == "" {
		logger.Fatal().Msg("redis.addr is required for the worker")
	}
	client, err := cache.NewRedisClient(context.Background(), cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	processor := tasks.NewProcessor(client, logger)
	consumer := queue.NewConsumer(
		client,
		cfg.Events.Stream,
		cfg.Events.Group,
		cfg.Events.Consumer,
		cfg.Events.ClaimInterval,
		logger,
		processor,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("consumer stopped unexpectedly")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
