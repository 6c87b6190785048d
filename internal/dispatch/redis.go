package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStreamPublisher appends start and stop commands to a single Redis
// stream, mirroring the one durable queue both routing keys are bound to on
// AMQP. Consumers tell commands apart by the routing_key field. XADD returns
// only after the entry is stored, which is the acceptance point.
type RedisStreamPublisher struct {
	client redis.Cmdable
	stream string
	maxLen int64
}

var _ Publisher = (*RedisStreamPublisher)(nil)

// NewRedisStreamPublisher wraps a go-redis client writing to stream. maxLen
// caps the stream approximately; zero keeps every entry.
func NewRedisStreamPublisher(client redis.Cmdable, stream string, maxLen int64) (*RedisStreamPublisher, error) {
	if stream == "" {
		return nil, errors.New("redis dispatch stream name required")
	}
	return &RedisStreamPublisher{client: client, stream: stream, maxLen: maxLen}, nil
}

// Publish implements Publisher.
func (p *RedisStreamPublisher) Publish(ctx context.Context, routingKey string, body []byte) error {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{"routing_key": routingKey, "body": body},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s (%s): %w", p.stream, routingKey, err)
	}
	return nil
}
