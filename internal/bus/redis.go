package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"squad/internal/shared/async"
	"squad/internal/shared/logging"
)

func newLockToken() string { return uuid.NewString() }

// RedisBus implements Bus, Locker, and Cache on a shared redis instance so
// multiple orchestrator nodes and external workers see the same channels and
// locks.
type RedisBus struct {
	client *redis.Client
	logger logging.Logger
}

// NewRedisBus wraps an existing client. The caller owns the client lifecycle
// unless Close is used.
func NewRedisBus(client *redis.Client, logger logging.Logger) (*RedisBus, error) {
	if client == nil {
		return nil, fmt.Errorf("redis bus requires client")
	}
	return &RedisBus{client: client, logger: logging.OrNop(logger)}, nil
}

// Publish marshals the event and publishes it on the channel.
func (b *RedisBus) Publish(ctx context.Context, channel string, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan Event
}

func (s *redisSubscription) Events() <-chan Event { return s.ch }

func (s *redisSubscription) Close() error { return s.pubsub.Close() }

func (b *RedisBus) wrap(pubsub *redis.PubSub) Subscription {
	sub := &redisSubscription{pubsub: pubsub, ch: make(chan Event, 256)}
	async.Go(b.logger, "redis-subscription", func() {
		defer close(sub.ch)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				b.logger.Warn("discarding malformed event on %s: %v", msg.Channel, err)
				continue
			}
			sub.ch <- event
		}
	})
	return sub
}

// Subscribe registers an exact-match subscription.
func (b *RedisBus) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	return b.wrap(b.client.Subscribe(ctx, channel)), nil
}

// PSubscribe registers a glob-pattern subscription (redis PSUBSCRIBE).
func (b *RedisBus) PSubscribe(ctx context.Context, pattern string) (Subscription, error) {
	return b.wrap(b.client.PSubscribe(ctx, pattern)), nil
}

// Close closes the underlying client.
func (b *RedisBus) Close() error { return b.client.Close() }

// releaseScript deletes the lock key only when it still holds our token, so a
// lock that expired and was re-acquired elsewhere is never stolen back.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisLock struct {
	client *redis.Client
	name   string
	token  string
}

func (l *redisLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.name}, l.token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", l.name, err)
	}
	return nil
}

// Acquire takes the named lock with SET NX PX; (nil, nil) when held elsewhere.
func (b *RedisBus) Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	token := newLockToken()
	ok, err := b.client.SetNX(ctx, name, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}
	return &redisLock{client: b.client, name: name, token: token}, nil
}

// AcquireBlocking retries Acquire until wait elapses.
func (b *RedisBus) AcquireBlocking(ctx context.Context, name string, ttl, wait time.Duration) (Lock, error) {
	return blockingAcquire(ctx, b, name, ttl, wait)
}

// Get returns the cached value; a miss is (nil, false, nil).
func (b *RedisBus) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := b.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores the value with ttl.
func (b *RedisBus) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Delete removes the key.
func (b *RedisBus) Delete(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}
