package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"meshrelay/internal/relay"
)

// DefaultRedisChannel is the pub/sub channel events are published on.
const DefaultRedisChannel = "meshrelay:events"

// Publisher is the part of *redis.Client the forwarder uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisForwarder publishes relay events as JSON to a Redis channel so the
// dashboard can follow the mesh without a websocket of its own.
type RedisForwarder struct {
	pub     Publisher
	channel string
	node    string
	log     zerolog.Logger
}

// envelope is the payload published for every event.
type envelope struct {
	Node string `json:"node"`
	relay.Event
}

// NewRedisClient connects to redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewRedisForwarder(pub Publisher, channel, node string, log zerolog.Logger) *RedisForwarder {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisForwarder{
		pub:     pub,
		channel: channel,
		node:    node,
		log:     log.With().Str("component", "redis").Logger(),
	}
}

// Run publishes events until ctx is cancelled or events is closed. Publish
// failures are logged and the event is skipped.
func (f *RedisForwarder) Run(ctx context.Context, events <-chan relay.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := f.Forward(ctx, evt); err != nil {
				f.log.Warn().Err(err).Str("kind", string(evt.Kind)).Msg("event publish failed")
			}
		}
	}
}

// Forward publishes a single event.
func (f *RedisForwarder) Forward(ctx context.Context, evt relay.Event) error {
	payload, err := json.Marshal(envelope{Node: f.node, Event: evt})
	if err != nil {
		return err
	}
	return f.pub.Publish(ctx, f.channel, payload).Err()
}
