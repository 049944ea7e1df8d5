package bus

import (
	"context"

	"github.com/redis/go-redis/v9"

	"fxgateway/config"
	"fxgateway/logger"
)

// Compile-time check that RedisBus implements Bus.
var _ Bus = (*RedisBus)(nil)

// RedisBus implements Bus on a single Redis connection pool.
type RedisBus struct {
	client *redis.Client
	log    *logger.Log
}

func NewRedisBus(cfg config.RedisConfig) *RedisBus {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisBus{
		client: client,
		log:    logger.GetLogger(),
	}
}

// NewRedisBusFromClient wraps an existing client; tests use this with
// miniredis.
func NewRedisBusFromClient(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		log:    logger.GetLogger(),
	}
}

func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, channel, payload).Err()
}

func (b *RedisBus) PublishString(ctx context.Context, channel, message string) error {
	return b.client.Publish(ctx, channel, message).Err()
}

// PushBounded is the push-then-trim contract for the k-line buffer: the list
// never exceeds limit entries after the pipeline executes.
func (b *RedisBus) PushBounded(ctx context.Context, key string, payload []byte, limit int64) error {
	pipe := b.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, limit-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBus) Range(ctx context.Context, key string) ([][]byte, error) {
	values, err := b.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (b *RedisBus) Set(ctx context.Context, key, value string) error {
	return b.client.Set(ctx, key, value, 0).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channels...)
	// Wait for the subscription to be confirmed before commands can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message, 64),
	}
	go sub.forward()
	return sub, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

func (s *redisSubscription) forward() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		s.out <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
