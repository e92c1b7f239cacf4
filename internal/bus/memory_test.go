package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitEvent(t *testing.T, sub Subscription) Event {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return Event{}
}

func TestMemoryBusExactAndPatternDelivery(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus(nil)
	defer b.Close()

	exact, err := b.Subscribe(ctx, TeamChannel("T1", KindTaskCreated))
	require.NoError(t, err)
	pattern, err := b.PSubscribe(ctx, TeamPattern("T1", "task"))
	require.NoError(t, err)
	other, err := b.Subscribe(ctx, TeamChannel("T2", KindTaskCreated))
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, TeamChannel("T1", KindTaskCreated), Event{
		Kind: KindTaskCreated,
		Data: map[string]any{"task_id": "t-1"},
	}))

	got := waitEvent(t, exact)
	assert.Equal(t, KindTaskCreated, got.Kind)
	assert.Equal(t, "t-1", got.Data["task_id"])
	assert.False(t, got.Timestamp.IsZero())

	got = waitEvent(t, pattern)
	assert.Equal(t, KindTaskCreated, got.Kind)

	select {
	case event := <-other.Events():
		t.Fatalf("T2 subscriber received foreign event %v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus(nil)
	defer b.Close()

	lock, err := b.Acquire(ctx, "task_lock:t-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, lock)

	second, err := b.Acquire(ctx, "task_lock:t-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second, "lock must be exclusive")

	require.NoError(t, lock.Release(ctx))
	third, err := b.Acquire(ctx, "task_lock:t-1", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, third)
}

func TestMemoryLockExpires(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus(nil)
	defer b.Close()

	lock, err := b.Acquire(ctx, "task_lock:t-2", 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, lock)

	time.Sleep(20 * time.Millisecond)
	second, err := b.Acquire(ctx, "task_lock:t-2", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, second, "expired lock should be reacquirable")

	// Releasing the stale handle must not free the new holder's lock.
	require.NoError(t, lock.Release(ctx))
	third, err := b.Acquire(ctx, "task_lock:t-2", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBus(nil)
	defer b.Close()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	value, ok, err := b.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	time.Sleep(30 * time.Millisecond)
	_, ok, err = b.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSnapshotCacheInvalidate(t *testing.T) {
	cache := NewSnapshotCache[string](4, time.Minute)
	cache.Put("worker:w1", "idle")
	v, ok := cache.Get("worker:w1")
	require.True(t, ok)
	assert.Equal(t, "idle", v)

	cache.Invalidate("worker:w1")
	_, ok = cache.Get("worker:w1")
	assert.False(t, ok)
}
