package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad/internal/bus"
)

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemStore, *bus.MemoryBus) {
	t.Helper()
	store := NewMemStore()
	memBus := bus.NewMemoryBus(nil)
	t.Cleanup(func() { _ = memBus.Close() })
	service, err := NewService(store, memBus, memBus, nil, opts...)
	require.NoError(t, err)
	return service, store, memBus
}

func TestCreatePromotesEntryTasks(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	entry, err := service.Create(ctx, CreateRequest{Team: "T1", Title: "A", Priority: 10, Creator: "admin"})
	require.NoError(t, err)
	assert.Equal(t, StatusReady, entry.Status)

	dependent, err := service.Create(ctx, CreateRequest{
		Team: "T1", Title: "B", Priority: 10, Creator: "admin", DependsOn: []string{entry.ID},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, dependent.Status)
}

func TestCreateRejectsMissingDependency(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	_, err := service.Create(ctx, CreateRequest{
		Team: "T1", Title: "B", DependsOn: []string{"ghost"},
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClaimCompleteCascade(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	a, err := service.Create(ctx, CreateRequest{Team: "T1", Title: "A"})
	require.NoError(t, err)
	b, err := service.Create(ctx, CreateRequest{Team: "T1", Title: "B", DependsOn: []string{a.ID}})
	require.NoError(t, err)
	c, err := service.Create(ctx, CreateRequest{Team: "T1", Title: "C", DependsOn: []string{b.ID}})
	require.NoError(t, err)

	claimed, err := service.Claim(ctx, a.ID, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "w1", claimed.Assignee)
	assert.Equal(t, StatusRunning, claimed.Status)
	assert.NotNil(t, claimed.ClaimedAt)

	completed, err := service.Complete(ctx, a.ID, map[string]any{"k": 1})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, completed.Status)

	bNow, err := service.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, bNow.Status, "B promoted by cascade")

	cNow, err := service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cNow.Status, "C still waits on B")
}

func TestFanInStaysPendingUntilAllDependenciesSucceed(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	design, _ := service.Create(ctx, CreateRequest{Team: "T1", Title: "Design"})
	fe, _ := service.Create(ctx, CreateRequest{Team: "T1", Title: "FE", DependsOn: []string{design.ID}})
	be, _ := service.Create(ctx, CreateRequest{Team: "T1", Title: "BE", DependsOn: []string{design.ID}})
	tests, _ := service.Create(ctx, CreateRequest{Team: "T1", Title: "Tests", DependsOn: []string{fe.ID, be.ID}})

	_, err := service.Claim(ctx, design.ID, "w1")
	require.NoError(t, err)
	_, err = service.Complete(ctx, design.ID, nil)
	require.NoError(t, err)

	// Both branches ready simultaneously; two workers claim concurrently.
	feClaim, err := service.Claim(ctx, fe.ID, "w1")
	require.NoError(t, err)
	require.NotNil(t, feClaim)
	beClaim, err := service.Claim(ctx, be.ID, "w2")
	require.NoError(t, err)
	require.NotNil(t, beClaim)

	_, err = service.Complete(ctx, fe.ID, nil)
	require.NoError(t, err)
	join, err := service.Get(ctx, tests.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, join.Status, "fan-in waits for BE")

	_, err = service.Complete(ctx, be.ID, nil)
	require.NoError(t, err)
	join, err = service.Get(ctx, tests.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, join.Status)
}

func TestConcurrentClaimAdmitsOneWinner(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newTestService(t)

	created, err := service.Create(ctx, CreateRequest{Team: "T1", Title: "contended"})
	require.NoError(t, err)

	const claimers = 16
	var wg sync.WaitGroup
	winners := make(chan string, claimers)
	for i := 0; i < claimers; i++ {
		worker := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := service.Claim(ctx, created.ID, worker)
			if err == nil && claimed != nil {
				winners <- claimed.Assignee
			}
		}()
	}
	wg.Wait()
	close(winners)

	var got []string
	for w := range winners {
		got = append(got, w)
	}
	require.Len(t, got, 1, "exactly one claim must win")

	stored, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, got[0], stored.Assignee)
	assert.Equal(t, StatusRunning, stored.Status)
}

func TestFailBlocksDependents(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	a, _ := service.Create(ctx, CreateRequest{Team: "T1", Title: "A"})
	b, _ := service.Create(ctx, CreateRequest{Team: "T1", Title: "B", DependsOn: []string{a.ID}})

	_, err := service.Claim(ctx, a.ID, "w1")
	require.NoError(t, err)
	failed, err := service.Fail(ctx, a.ID, "exploded")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, failed.Status)
	assert.Equal(t, "exploded", failed.Error)

	bNow, err := service.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, bNow.Status)
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newTestService(t)

	a, _ := service.Create(ctx, CreateRequest{Team: "T1", Title: "A"})
	_, err := service.Claim(ctx, a.ID, "w1")
	require.NoError(t, err)
	_, err = service.Complete(ctx, a.ID, nil)
	require.NoError(t, err)

	_, err = service.Complete(ctx, a.ID, nil)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = service.Fail(ctx, a.ID, "late")
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = store.SetStatus(ctx, a.ID, StatusReady)
	require.ErrorIs(t, err, ErrInvalidTransition)

	claimed, err := service.Claim(ctx, a.ID, "w2")
	require.NoError(t, err)
	assert.Nil(t, claimed, "terminal task cannot be claimed")
}

func TestReadyOrderingAndRoleFilter(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	service.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	_, err := service.Create(ctx, CreateRequest{Team: "T1", Title: "low", Priority: 1})
	require.NoError(t, err)
	_, err = service.Create(ctx, CreateRequest{Team: "T1", Title: "high-old", Priority: 9})
	require.NoError(t, err)
	_, err = service.Create(ctx, CreateRequest{Team: "T1", Title: "high-new", Priority: 9})
	require.NoError(t, err)
	_, err = service.Create(ctx, CreateRequest{Team: "T1", Title: "reviewer-only", Priority: 5, RequiredRole: "reviewer"})
	require.NoError(t, err)

	ready, err := service.Ready(ctx, "T1", "", "w1", 10)
	require.NoError(t, err)
	require.Len(t, ready, 3, "role-restricted task hidden from roleless worker")
	assert.Equal(t, "high-old", ready[0].Title)
	assert.Equal(t, "high-new", ready[1].Title)
	assert.Equal(t, "low", ready[2].Title)

	ready, err = service.Ready(ctx, "T1", "reviewer", "w2", 10)
	require.NoError(t, err)
	require.Len(t, ready, 4)
}

type stubFairness struct {
	mu          sync.Mutex
	assignments []string
	cooling     map[string]bool
}

func (f *stubFairness) RecordAssignment(team, worker string, _ time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignments = append(f.assignments, worker)
}

func (f *stubFairness) InCoolingOff(_, worker string, _ time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cooling[worker]
}

func TestCoolingOffWorkerGetsNoTasks(t *testing.T) {
	ctx := context.Background()
	fairness := &stubFairness{cooling: map[string]bool{"hot": true}}
	service, _, _ := newTestService(t, WithFairness(fairness))

	created, err := service.Create(ctx, CreateRequest{Team: "T1", Title: "A"})
	require.NoError(t, err)

	ready, err := service.Ready(ctx, "T1", "", "hot", 10)
	require.NoError(t, err)
	assert.Empty(t, ready)

	ready, err = service.Ready(ctx, "T1", "", "cold", 10)
	require.NoError(t, err)
	require.Len(t, ready, 1)

	_, err = service.Claim(ctx, created.ID, "cold")
	require.NoError(t, err)
	assert.Equal(t, []string{"cold"}, fairness.assignments)
}

type stubWorkflowStates struct {
	mu     sync.Mutex
	paused map[string]bool
}

func (s *stubWorkflowStates) Paused(_ context.Context, workflowID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused[workflowID], nil
}

func (s *stubWorkflowStates) setPaused(workflowID string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused[workflowID] = paused
}

func TestCascadeHoldsDependentsOfPausedWorkflow(t *testing.T) {
	ctx := context.Background()
	states := &stubWorkflowStates{paused: map[string]bool{}}
	service, _, _ := newTestService(t, WithWorkflowStates(states))

	a, err := service.Create(ctx, CreateRequest{Team: "T1", Title: "A", Workflow: "wf1"})
	require.NoError(t, err)
	b, err := service.Create(ctx, CreateRequest{Team: "T1", Title: "B", Workflow: "wf1", DependsOn: []string{a.ID}})
	require.NoError(t, err)

	_, err = service.Claim(ctx, a.ID, "w1")
	require.NoError(t, err)
	states.setPaused("wf1", true)
	_, err = service.Complete(ctx, a.ID, nil)
	require.NoError(t, err)

	bNow, err := service.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBlocked, bNow.Status, "paused workflow holds the dependent")

	claimed, err := service.Claim(ctx, b.ID, "w2")
	require.NoError(t, err)
	assert.Nil(t, claimed, "blocked task is not claimable")

	// Resuming re-runs the dependency check and releases the task.
	states.setPaused("wf1", false)
	_, err = service.SetStatus(ctx, b.ID, StatusReady)
	require.NoError(t, err)
	claimed, err = service.Claim(ctx, b.ID, "w2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, StatusRunning, claimed.Status)
}

func TestCreateBatchResolvesInBatchDependencies(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t)

	reqs := []CreateRequest{
		{ID: "batch-a", Team: "T1", Title: "A", Workflow: "wf1"},
		{ID: "batch-b", Team: "T1", Title: "B", Workflow: "wf1", DependsOn: []string{"batch-a"}},
	}
	created, err := service.CreateBatch(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, StatusReady, created[0].Status, "entry task dispatches immediately")
	assert.Equal(t, StatusPending, created[1].Status, "in-batch dependency keeps the dependent pending")

	listed, err := service.ListByWorkflow(ctx, "wf1")
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestCreateBatchRejectsMissingDependency(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newTestService(t)

	_, err := service.CreateBatch(ctx, []CreateRequest{
		{ID: "batch-a", Team: "T1", Title: "A"},
		{ID: "batch-b", Team: "T1", Title: "B", DependsOn: []string{"ghost"}},
	})
	require.ErrorIs(t, err, ErrNotFound)

	// A failed batch persists nothing.
	_, err = store.Get(ctx, "batch-a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEventOrderingPerTask(t *testing.T) {
	ctx := context.Background()
	service, _, memBus := newTestService(t)

	sub, err := memBus.PSubscribe(ctx, bus.TeamPattern("T1", "task"))
	require.NoError(t, err)
	defer sub.Close()

	created, err := service.Create(ctx, CreateRequest{Team: "T1", Title: "A"})
	require.NoError(t, err)
	_, err = service.Claim(ctx, created.ID, "w1")
	require.NoError(t, err)
	_, err = service.Complete(ctx, created.ID, map[string]any{"k": 1})
	require.NoError(t, err)

	var kinds []string
	timeout := time.After(time.Second)
	for len(kinds) < 3 {
		select {
		case event := <-sub.Events():
			if event.Data["task_id"] == created.ID {
				kinds = append(kinds, event.Kind)
			}
		case <-timeout:
			t.Fatalf("timed out, got %v", kinds)
		}
	}
	assert.Equal(t, []string{bus.KindTaskCreated, bus.KindTaskClaimed, bus.KindTaskCompleted}, kinds)
}
