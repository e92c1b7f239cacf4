package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad/internal/bus"
	"squad/internal/dag"
	"squad/internal/task"
)

type fixture struct {
	engine *Engine
	store  *MemStore
	tasks  *task.Service
	bus    *bus.MemoryBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	memBus := bus.NewMemoryBus(nil)
	t.Cleanup(func() { _ = memBus.Close() })
	store := NewMemStore()
	tasks, err := task.NewService(task.NewMemStore(), memBus, memBus, nil,
		task.WithWorkflowStates(States(store)))
	require.NoError(t, err)
	engine, err := NewEngine(store, tasks, memBus, nil)
	require.NoError(t, err)
	return &fixture{engine: engine, store: store, tasks: tasks, bus: memBus}
}

func linearGraph(t *testing.T) *dag.Graph {
	t.Helper()
	g := dag.New("", "release")
	for _, id := range []string{"plan", "build", "ship"} {
		require.NoError(t, g.AddNode(&dag.Node{ID: id, Title: id}))
	}
	require.NoError(t, g.AddEdge("plan", "build"))
	require.NoError(t, g.AddEdge("build", "ship"))
	return g
}

func (f *fixture) mustFinish(ctx context.Context, t *testing.T, taskID, worker string) {
	t.Helper()
	claimed, err := f.tasks.Claim(ctx, taskID, worker)
	require.NoError(t, err)
	require.NotNil(t, claimed, "claim should win, no competitors")
	_, err = f.tasks.Complete(ctx, taskID, nil)
	require.NoError(t, err)
}

func TestCreateRejectsCyclicAndEmptyGraphs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.Create(ctx, "T1", dag.New("", "empty"))
	require.Error(t, err)

	g := dag.New("", "bad")
	require.NoError(t, g.AddNode(&dag.Node{ID: "a", Title: "a"}))
	require.NoError(t, g.AddNode(&dag.Node{ID: "b", Title: "b"}))
	require.NoError(t, g.AddEdge("a", "b"))
	// Force a cycle past AddEdge's guard to prove Create re-validates.
	g.Edges = append(g.Edges, dag.Edge{From: "b", To: "a"})
	g.Nodes["a"].DependsOn = append(g.Nodes["a"].DependsOn, "b")
	g.Nodes["b"].Dependents = append(g.Nodes["b"].Dependents, "a")
	_, err = f.engine.Create(ctx, "T1", g)
	require.ErrorIs(t, err, dag.ErrCycle)
}

func TestCreateInstantiatesTasksInDependencyOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d, err := f.engine.Create(ctx, "T1", linearGraph(t))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, d.Status)
	require.Len(t, d.TaskIDs, 3, "tasks exist before start")

	planID := d.TaskIDs["plan"]
	buildID := d.TaskIDs["build"]
	plan, err := f.tasks.Get(ctx, planID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusReady, plan.Status, "entry node starts ready")
	build, err := f.tasks.Get(ctx, buildID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, build.Status)
	assert.Equal(t, []string{planID}, build.DependsOn, "node deps map to task ids")

	started, err := f.engine.Start(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, started.Status)
	require.NotNil(t, started.StartedAt)

	_, err = f.engine.Start(ctx, d.ID)
	require.Error(t, err, "start is not repeatable")
}

// failingTasks refuses batch instantiation, standing in for a store outage.
type failingTasks struct{}

func (failingTasks) CreateBatch(context.Context, []task.CreateRequest) ([]*task.Task, error) {
	return nil, errors.New("store down")
}

func (failingTasks) SetStatus(context.Context, string, task.Status) (*task.Task, error) {
	return nil, errors.New("store down")
}

func (failingTasks) ListByWorkflow(context.Context, string) ([]*task.Task, error) {
	return nil, errors.New("store down")
}

func (failingTasks) CancelPending(context.Context, string) ([]string, error) {
	return nil, errors.New("store down")
}

func TestCreateMarksRunFailedWhenInstantiationFails(t *testing.T) {
	ctx := context.Background()
	memBus := bus.NewMemoryBus(nil)
	t.Cleanup(func() { _ = memBus.Close() })
	store := NewMemStore()
	engine, err := NewEngine(store, failingTasks{}, memBus, nil)
	require.NoError(t, err)

	_, err = engine.Create(ctx, "T1", linearGraph(t))
	require.Error(t, err)

	runs, err := store.ListByTeam(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestLinearRunCompletesThroughExecutor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stop := mustStartExecutor(ctx, t, f)
	defer stop()

	d, err := f.engine.Create(ctx, "T1", linearGraph(t))
	require.NoError(t, err)
	d, err = f.engine.Start(ctx, d.ID)
	require.NoError(t, err)

	for _, node := range []string{"plan", "build", "ship"} {
		taskID := d.TaskIDs[node]
		require.Eventually(t, func() bool {
			current, err := f.tasks.Get(ctx, taskID)
			return err == nil && current.Status == task.StatusReady
		}, 2*time.Second, 10*time.Millisecond, "node %s should become ready", node)
		f.mustFinish(ctx, t, taskID, "w1")
	}

	require.Eventually(t, func() bool {
		current, err := f.engine.Get(ctx, d.ID)
		return err == nil && current.Status == StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	final, err := f.engine.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.InDelta(t, 100, final.Progress, 1e-9)
	require.NotNil(t, final.CompletedAt)
}

func TestFailedTaskFailsRunOnceNothingActive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d, err := f.engine.Create(ctx, "T1", linearGraph(t))
	require.NoError(t, err)
	d, err = f.engine.Start(ctx, d.ID)
	require.NoError(t, err)

	planID := d.TaskIDs["plan"]
	claimed, err := f.tasks.Claim(ctx, planID, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	_, err = f.tasks.Fail(ctx, planID, "toolchain broken")
	require.NoError(t, err)

	reconciled, err := f.engine.Reconcile(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, reconciled.Status)
	assert.NotEmpty(t, reconciled.Error)
	assert.InDelta(t, 0, reconciled.Progress, 1e-9)
}

func TestPauseBlocksAndResumeRestoresDispatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d, err := f.engine.Create(ctx, "T1", linearGraph(t))
	require.NoError(t, err)
	d, err = f.engine.Start(ctx, d.ID)
	require.NoError(t, err)

	paused, err := f.engine.Pause(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, paused.Status)

	plan, err := f.tasks.Get(ctx, d.TaskIDs["plan"])
	require.NoError(t, err)
	assert.Equal(t, task.StatusBlocked, plan.Status)

	claimed, err := f.tasks.Claim(ctx, plan.ID, "w1")
	require.NoError(t, err)
	assert.Nil(t, claimed, "blocked tasks are not claimable")

	resumed, err := f.engine.Resume(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, resumed.Status)
	plan, err = f.tasks.Get(ctx, plan.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusReady, plan.Status)
}

func TestCompletionDuringPauseHoldsDependents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d, err := f.engine.Create(ctx, "T1", linearGraph(t))
	require.NoError(t, err)
	d, err = f.engine.Start(ctx, d.ID)
	require.NoError(t, err)

	planID := d.TaskIDs["plan"]
	buildID := d.TaskIDs["build"]
	claimed, err := f.tasks.Claim(ctx, planID, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Pause while plan is in flight; it finishes on its own.
	_, err = f.engine.Pause(ctx, d.ID)
	require.NoError(t, err)
	_, err = f.tasks.Complete(ctx, planID, nil)
	require.NoError(t, err)

	build, err := f.tasks.Get(ctx, buildID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusBlocked, build.Status, "cascade must not dispatch into a paused run")
	claimed, err = f.tasks.Claim(ctx, buildID, "w2")
	require.NoError(t, err)
	assert.Nil(t, claimed)

	_, err = f.engine.Resume(ctx, d.ID)
	require.NoError(t, err)
	build, err = f.tasks.Get(ctx, buildID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusReady, build.Status, "resume releases the held dependent")
	claimed, err = f.tasks.Claim(ctx, buildID, "w2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
}

func TestCancelStopsPendingWork(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var terminal []Definition
	f.engine.OnTerminal(func(d Definition) { terminal = append(terminal, d) })

	d, err := f.engine.Create(ctx, "T1", linearGraph(t))
	require.NoError(t, err)
	d, err = f.engine.Start(ctx, d.ID)
	require.NoError(t, err)

	cancelled, err := f.engine.Cancel(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	for node, taskID := range d.TaskIDs {
		current, err := f.tasks.Get(ctx, taskID)
		require.NoError(t, err)
		assert.Equal(t, task.StatusCancelled, current.Status, "node %s", node)
	}
	require.Len(t, terminal, 1)
	assert.Equal(t, StatusCancelled, terminal[0].Status)

	_, err = f.engine.Cancel(ctx, d.ID)
	require.Error(t, err, "cancel is terminal")
}

func TestCriticalPathFollowsLongestChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	g := dag.New("", "diamond")
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, g.AddNode(&dag.Node{ID: id, Title: id}))
	}
	require.NoError(t, g.AddEdge("a", "b"))
	require.NoError(t, g.AddEdge("b", "c"))
	require.NoError(t, g.AddEdge("c", "e"))
	require.NoError(t, g.AddEdge("a", "d"))
	require.NoError(t, g.AddEdge("d", "e"))

	d, err := f.engine.Create(ctx, "T1", g)
	require.NoError(t, err)
	path, err := f.engine.CriticalPath(ctx, d.ID)
	require.NoError(t, err)
	ids := make([]string, 0, len(path))
	for _, node := range path {
		ids = append(ids, node.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "e"}, ids)
}

func mustStartExecutor(ctx context.Context, t *testing.T, f *fixture) func() {
	t.Helper()
	executor, err := NewExecutor("T1", f.engine, f.bus, nil)
	require.NoError(t, err)
	return executor.Start(ctx)
}
