package subscription

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ajitpratap0/mcp-session-go/pkg/config"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
)

// Bus carries change announcements between server processes that share
// subscribers of the same catalogs
type Bus interface {
	Publish(ctx context.Context, t Target) error
	// Subscribe calls fn for every target published by any process, this one
	// included, until ctx is done
	Subscribe(ctx context.Context, fn func(Target)) error
	Close() error
}

const defaultChannel = "mcp:changes"

// RedisBus is a Bus over Redis Pub/Sub
type RedisBus struct {
	client  redis.UniversalClient
	channel string
	logger  logging.Logger
}

// NewRedisBus returns a bus publishing on channel. An empty channel means
// "mcp:changes".
func NewRedisBus(client redis.UniversalClient, channel string, logger logging.Logger) *RedisBus {
	if channel == "" {
		channel = defaultChannel
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &RedisBus{client: client, channel: channel, logger: logger.WithFields(logging.String("component", "redis-bus"))}
}

// DialRedisBus connects to the configured Redis server and checks it answers
func DialRedisBus(ctx context.Context, cfg config.RedisConfig, logger logging.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisBus(client, cfg.Channel, logger), nil
}

// Publish announces t to every subscribed process
func (b *RedisBus) Publish(ctx context.Context, t Target) error {
	if err := b.client.Publish(ctx, b.channel, t.String()).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe blocks delivering announcements to fn until ctx is done
func (b *RedisBus) Subscribe(ctx context.Context, fn func(Target)) error {
	ps := b.client.Subscribe(ctx, b.channel)
	defer ps.Close()

	// confirms the subscription before reading
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.channel, err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			t, err := ParseTarget(msg.Payload)
			if err != nil {
				b.logger.Warn("ignoring bad change announcement", logging.ErrorField(err))
				continue
			}
			fn(t)
		}
	}
}

// Close closes the Redis client
func (b *RedisBus) Close() error {
	return b.client.Close()
}
