package bus

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"squad/internal/shared/logging"
)

// MemoryBus is an in-process Bus, Locker, and Cache for single-node runs and
// tests. Pattern subscriptions use shell-style globs, matching the redis
// PSUBSCRIBE semantics the production backend provides.
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[*memorySubscription]struct{}
	locks  map[string]memoryLockEntry
	cache  map[string]memoryCacheEntry
	closed bool
	logger logging.Logger
}

type memoryLockEntry struct {
	token     string
	expiresAt time.Time
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryBus builds an empty in-process bus.
func NewMemoryBus(logger logging.Logger) *MemoryBus {
	return &MemoryBus{
		subs:   make(map[*memorySubscription]struct{}),
		locks:  make(map[string]memoryLockEntry),
		cache:  make(map[string]memoryCacheEntry),
		logger: logging.OrNop(logger),
	}
}

type memorySubscription struct {
	bus     *MemoryBus
	pattern string
	glob    bool
	ch      chan Event
	once    sync.Once
}

func (s *memorySubscription) Events() <-chan Event { return s.ch }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (s *memorySubscription) matches(channel string) bool {
	if !s.glob {
		return s.pattern == channel
	}
	ok, err := path.Match(s.pattern, channel)
	return err == nil && ok
}

// Publish delivers the event to every matching subscriber. Slow subscribers
// drop events rather than block the publisher.
func (b *MemoryBus) Publish(_ context.Context, channel string, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("memory bus closed")
	}
	targets := make([]*memorySubscription, 0, len(b.subs))
	for sub := range b.subs {
		if sub.matches(channel) {
			targets = append(targets, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("dropping event %s on %s: subscriber buffer full", event.Kind, channel)
		}
	}
	return nil
}

func (b *MemoryBus) subscribe(pattern string, glob bool) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("memory bus closed")
	}
	sub := &memorySubscription{bus: b, pattern: pattern, glob: glob, ch: make(chan Event, 256)}
	b.subs[sub] = struct{}{}
	return sub, nil
}

// Subscribe registers an exact-match subscription.
func (b *MemoryBus) Subscribe(_ context.Context, channel string) (Subscription, error) {
	return b.subscribe(channel, false)
}

// PSubscribe registers a glob-pattern subscription.
func (b *MemoryBus) PSubscribe(_ context.Context, pattern string) (Subscription, error) {
	return b.subscribe(pattern, true)
}

// Close terminates every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	subs := make([]*memorySubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.closed = true
	b.mu.Unlock()
	for _, sub := range subs {
		_ = sub.Close()
	}
	return nil
}

type memoryLock struct {
	bus   *MemoryBus
	name  string
	token string
}

func (l *memoryLock) Release(_ context.Context) error {
	l.bus.mu.Lock()
	defer l.bus.mu.Unlock()
	if entry, ok := l.bus.locks[l.name]; ok && entry.token == l.token {
		delete(l.bus.locks, l.name)
	}
	return nil
}

// Acquire takes the named lock when free or expired; returns (nil, nil) when
// it is held by someone else.
func (b *MemoryBus) Acquire(_ context.Context, name string, ttl time.Duration) (Lock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if entry, ok := b.locks[name]; ok && entry.expiresAt.After(now) {
		return nil, nil
	}
	token := newLockToken()
	b.locks[name] = memoryLockEntry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLock{bus: b, name: name, token: token}, nil
}

// AcquireBlocking retries Acquire until wait elapses.
func (b *MemoryBus) AcquireBlocking(ctx context.Context, name string, ttl, wait time.Duration) (Lock, error) {
	return blockingAcquire(ctx, b, name, ttl, wait)
}

// Get returns the cached value when present and not expired.
func (b *MemoryBus) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.cache[key]
	if !ok || entry.expiresAt.Before(time.Now()) {
		delete(b.cache, key)
		return nil, false, nil
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

// Set stores the value for ttl.
func (b *MemoryBus) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	b.cache[key] = memoryCacheEntry{value: stored, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes the key.
func (b *MemoryBus) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.cache, key)
	return nil
}
