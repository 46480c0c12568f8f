package events

import (
	"context"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel carrying job events between the
// worker and API processes.
const DefaultChannel = "job_events"

// Publisher is the worker-side half of the event bus. Delivery is
// best-effort: events published while no subscriber is connected are lost,
// clients fall back to polling the job store.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RedisPublisher broadcasts events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher builds a publisher for the given channel; an empty
// channel name selects DefaultChannel.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, payload).Err()
}

// RedisSubscriber is the gateway-side half of the event bus.
type RedisSubscriber struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisSubscriber(client *redis.Client, channel string, logger *slog.Logger) *RedisSubscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSubscriber{client: client, channel: channel, logger: logger}
}

// Run receives events until the context is cancelled, invoking deliver for
// each decoded event. Undecodable payloads are logged and skipped.
func (s *RedisSubscriber) Run(ctx context.Context, deliver func(Event)) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := Unmarshal([]byte(msg.Payload))
			if err != nil {
				s.logger.Warn("Dropping undecodable event",
					slog.String("channel", s.channel),
					slog.String("error", err.Error()),
				)
				continue
			}
			deliver(ev)
		}
	}
}
