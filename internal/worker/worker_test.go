package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad/internal/bus"
	"squad/internal/history"
	"squad/internal/task"
	"squad/internal/tracker"
)

type fixture struct {
	bus     *bus.MemoryBus
	tasks   *task.Service
	records *history.MemStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := bus.NewMemoryBus(nil)
	t.Cleanup(func() { _ = mem.Close() })
	service, err := task.NewService(task.NewMemStore(), mem, mem, nil)
	require.NoError(t, err)
	return &fixture{bus: mem, tasks: service, records: history.NewMemStore()}
}

func startWorker(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func taskStatus(t *testing.T, f *fixture, id string) task.Status {
	t.Helper()
	got, err := f.tasks.Get(context.Background(), id)
	require.NoError(t, err)
	return got.Status
}

func TestWorkerDrainsDependencyChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	w, err := New("T1", "w1", "", f.tasks, f.bus, func(_ context.Context, claimed *task.Task) (map[string]any, error) {
		return map[string]any{"done": claimed.Title}, nil
	}, nil)
	require.NoError(t, err)
	startWorker(t, w)

	first, err := f.tasks.Create(ctx, task.CreateRequest{Team: "T1", Title: "build", Creator: "alice"})
	require.NoError(t, err)
	second, err := f.tasks.Create(ctx, task.CreateRequest{
		Team: "T1", Title: "ship", Creator: "alice", DependsOn: []string{first.ID},
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return taskStatus(t, f, second.ID) == task.StatusSuccess
	}, 3*time.Second, 10*time.Millisecond, "cascade should promote and complete the dependent")

	completed, err := f.tasks.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "w1", completed.Assignee)
	assert.Equal(t, map[string]any{"done": "build"}, completed.Result)
}

func TestConcurrentWorkersClaimEachTaskOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var executions atomic.Int32
	handler := func(context.Context, *task.Task) (map[string]any, error) {
		executions.Add(1)
		return nil, nil
	}
	for _, id := range []string{"w1", "w2"} {
		w, err := New("T1", id, "", f.tasks, f.bus, handler, nil)
		require.NoError(t, err)
		startWorker(t, w)
	}

	created, err := f.tasks.Create(ctx, task.CreateRequest{Team: "T1", Title: "once", Creator: "alice"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return taskStatus(t, f, created.ID) == task.StatusSuccess
	}, 3*time.Second, 10*time.Millisecond)
	// Give the losing worker time to surface a double execution if one exists.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), executions.Load())
}

func TestTrackedWorkerRecordsOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tr, err := tracker.New(f.records, nil)
	require.NoError(t, err)

	w, err := New("T1", "w1", "builder", f.tasks, f.bus, func(context.Context, *task.Task) (map[string]any, error) {
		return nil, nil
	}, nil, WithTracker(tr))
	require.NoError(t, err)
	startWorker(t, w)

	created, err := f.tasks.Create(ctx, task.CreateRequest{Team: "T1", Title: "tracked", Creator: "alice"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return taskStatus(t, f, created.ID) == task.StatusSuccess
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		records, err := f.records.Query(ctx, history.Filter{Persona: "builder", Outcome: history.OutcomeSuccess})
		return err == nil && len(records) == 1
	}, time.Second, 10*time.Millisecond)
}
