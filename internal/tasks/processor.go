package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"medportal/internal/events"
)

const statsTTL = 90 * 24 * time.Hour

// StatsKey is the per-day hash holding one counter per event kind.
func StatsKey(day time.Time) string {
	return "auth:stats:" + day.UTC().Format("2006-01-02")
}

// Processor turns auth events into daily counters.
type Processor struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewProcessor(client *redis.Client, logger zerolog.Logger) *Processor {
	return &Processor{
		client: client,
		logger: logger,
	}
}

func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	ev, err := events.Decode(msg.Values)
	if err != nil {
		if errors.Is(err, events.ErrInvalidEvent) {
			// Unreadable entries would be redelivered forever; drop them.
			p.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("skipping invalid event")
			return nil
		}
		return fmt.Errorf("decode event: %w", err)
	}

	key := StatsKey(ev.At)
	pipe := p.client.TxPipeline()
	pipe.HIncrBy(ctx, key, string(ev.Kind), 1)
	pipe.Expire(ctx, key, statsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record %s: %w", ev.Kind, err)
	}

	entry := p.logger.Info()
	if ev.Kind == events.LoginFailed {
		entry = p.logger.Debug()
	}
	entry.
		Str("kind", string(ev.Kind)).
		Str("subject", ev.Subject).
		Str("role", ev.Role).
		Time("at", ev.At).
		Msg("auth event")
	return nil
}

// Stats reads the counters for one day.
func (p *Processor) Stats(ctx context.Context, day time.Time) (map[string]string, error) {
	return p.client.HGetAll(ctx, StatsKey(day)).Result()
}
