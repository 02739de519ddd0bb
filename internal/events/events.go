package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Kind string

const (
	AccountRegistered Kind = "account.registered"
	LoginSucceeded    Kind = "login.succeeded"
	LoginFailed       Kind = "login.failed"
	PasswordChanged   Kind = "password.changed"
)

var ErrInvalidEvent = errors.New("invalid event")

func (k Kind) Valid() bool {
	switch k {
	case AccountRegistered, LoginSucceeded, LoginFailed, PasswordChanged:
		return true
	}
	return false
}

// Event is one auth occurrence. Subject is empty for failed logins against
// unknown emails; events never carry credentials or tokens.
type Event struct {
	Kind    Kind
	Subject string
	Role    string
	At      time.Time
}

func (e Event) values() map[string]any {
	return map[string]any{
		"kind":    string(e.Kind),
		"subject": e.Subject,
		"role":    e.Role,
		"at":      e.At.UTC().Format(time.RFC3339Nano),
	}
}

// Decode rebuilds an event from stream entry values.
func Decode(values map[string]interface{}) (Event, error) {
	field := func(name string) string {
		s, _ := values[name].(string)
		return s
	}

	ev := Event{
		Kind:    Kind(field("kind")),
		Subject: field("subject"),
		Role:    field("role"),
	}
	if !ev.Kind.Valid() {
		return Event{}, fmt.Errorf("%w: kind %q", ErrInvalidEvent, ev.Kind)
	}
	at, err := time.Parse(time.RFC3339Nano, field("at"))
	if err != nil {
		return Event{}, fmt.Errorf("%w: at: %v", ErrInvalidEvent, err)
	}
	ev.At = at
	return ev, nil
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// StreamPublisher appends events to a redis stream, trimming it
// approximately to maxLen.
type StreamPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewStreamPublisher(client *redis.Client, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

func (p *StreamPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: ev.values(),
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Trim caps the stream at maxLen entries.
func (p *StreamPublisher) Trim(ctx context.Context) (int64, error) {
	if p.maxLen <= 0 {
		return 0, nil
	}
	return p.client.XTrimMaxLen(ctx, p.stream, p.maxLen).Result()
}

type discard struct{}

func (discard) Publish(context.Context, Event) error { return nil }

// Discard drops every event. Used when no redis is configured.
var Discard Publisher = discard{}
