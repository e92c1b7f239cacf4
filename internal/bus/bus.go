// Package bus provides the volatile coordination fabric: pub/sub event
// channels, named locks with TTL, and a short-TTL key/value cache.
//
// The bus is advisory. The relational store is the source of truth; a publish
// failure is logged by callers and never rolls back a committed transaction,
// and a cache miss always falls through to the store.
package bus

import (
	"context"
	"time"
)

// Event is the wire payload published on every channel. The shape is stable
// for external consumers: {kind, data, timestamp}.
type Event struct {
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// Event kinds published by the orchestrator.
const (
	KindTaskCreated        = "task.created"
	KindTaskClaimed        = "task.claimed"
	KindTaskCompleted      = "task.completed"
	KindTaskFailed         = "task.failed"
	KindWorkflowStarted    = "workflow.started"
	KindWorkflowCompleted  = "workflow.completed"
	KindWorkflowFailed     = "workflow.failed"
	KindWorkflowCancelled  = "workflow.cancelled"
	KindAgentStatus        = "agent.status"
	KindKnowledgeShared    = "knowledge.shared"
	KindDecisionProposed   = "decision.proposed"
	KindMessagePosted      = "message.posted"
	KindMemberAdded        = "member.added"
	KindMemberStateChanged = "member.state_changed"
)

// TeamChannel returns the channel name for a team-scoped event kind, following
// the fixed scheme team:{T}:events:{kind}.
func TeamChannel(team, kind string) string {
	return "team:" + team + ":events:" + kind
}

// TeamPattern returns the glob pattern matching every event kind with the
// given prefix for a team, e.g. TeamPattern("T1", "task") = "team:T1:events:task.*".
func TeamPattern(team, prefix string) string {
	return "team:" + team + ":events:" + prefix + ".*"
}

// Subscription is a live event feed. Events carries published events until
// Close; the channel is closed afterwards.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// Bus publishes and subscribes to event channels. Subscribe matches a channel
// exactly; PSubscribe matches a glob pattern such as "team:T1:events:task.*".
type Bus interface {
	Publish(ctx context.Context, channel string, event Event) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	PSubscribe(ctx context.Context, pattern string) (Subscription, error)
	Close() error
}

// Lock is a held named lock.
type Lock interface {
	// Release frees the lock. Releasing an expired or already-released lock
	// is a no-op.
	Release(ctx context.Context) error
}

// Locker hands out named locks with a TTL. Acquire returns (nil, nil) when
// the lock is held elsewhere; AcquireBlocking retries until the wait budget
// or the context expires.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (Lock, error)
	AcquireBlocking(ctx context.Context, name string, ttl, wait time.Duration) (Lock, error)
}

// Cache is a short-TTL key/value store for frequently read aggregates.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// blockingAcquire implements AcquireBlocking on top of a polling Acquire.
// Both backends share the same cadence.
func blockingAcquire(ctx context.Context, locker Locker, name string, ttl, wait time.Duration) (Lock, error) {
	deadline := time.Now().Add(wait)
	for {
		lock, err := locker.Acquire(ctx, name, ttl)
		if err != nil {
			return nil, err
		}
		if lock != nil {
			return lock, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}
