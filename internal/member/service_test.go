package member

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad/internal/bus"
	"squad/internal/task"
)

type fakeTaskCounts map[task.Status]int

func (f fakeTaskCounts) CountByAssignee(context.Context, string, string) (map[task.Status]int, error) {
	return f, nil
}

func newTestService(t *testing.T, counts fakeTaskCounts) *Service {
	t.Helper()
	memBus := bus.NewMemoryBus(nil)
	t.Cleanup(func() { _ = memBus.Close() })
	if counts == nil {
		counts = fakeTaskCounts{}
	}
	service, err := NewService(NewMemStore(), counts, memBus, nil)
	require.NoError(t, err)
	return service
}

func addActiveMember(ctx context.Context, t *testing.T, service *Service, worker string) *Membership {
	t.Helper()
	m, err := service.AddMember(ctx, AddMemberRequest{
		Team: "T1", Worker: worker, Persona: "builder", Role: "dev",
		AddedBy: "admin", InitialState: StateActive,
	})
	require.NoError(t, err)
	return m
}

func TestAddMemberDefaultsAndUniqueness(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, nil)

	m, err := service.AddMember(ctx, AddMemberRequest{Team: "T1", Worker: "w1", AddedBy: "admin"})
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, m.State)
	assert.Nil(t, m.ActivatedAt)

	_, err = service.AddMember(ctx, AddMemberRequest{Team: "T1", Worker: "w1"})
	require.Error(t, err, "(team, worker) is unique")
}

func TestStateTransitionsRecordHistoryAndStamps(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, nil)

	_, err := service.AddMember(ctx, AddMemberRequest{Team: "T1", Worker: "w1"})
	require.NoError(t, err)

	m, err := service.UpdateMemberState(ctx, "T1", "w1", StateActive, "ready to work")
	require.NoError(t, err)
	assert.Equal(t, StateActive, m.State)
	require.NotNil(t, m.ActivatedAt)
	require.Len(t, m.StateHistory, 1)
	assert.Equal(t, StateInitializing, m.StateHistory[0].From)
	assert.Equal(t, StateActive, m.StateHistory[0].To)

	m, err = service.UpdateMemberState(ctx, "T1", "w1", StateOnStandby, "low load")
	require.NoError(t, err)
	assert.Len(t, m.StateHistory, 2)

	_, err = service.UpdateMemberState(ctx, "T1", "w1", State("vanished"), "")
	require.Error(t, err)
}

func TestRetirementRequiresCompletedHandoff(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, nil)
	addActiveMember(ctx, t, service, "w1")

	_, err := service.UpdateMemberState(ctx, "T1", "w1", StateRetired, "moving on")
	require.ErrorIs(t, err, ErrHandoffIncomplete, "no handoff at all")

	_, err = service.InitiateHandoff(ctx, "T1", "w1", "admin")
	require.NoError(t, err)
	_, err = service.UpdateMemberState(ctx, "T1", "w1", StateRetired, "moving on")
	require.ErrorIs(t, err, ErrHandoffIncomplete, "handoff not completed yet")

	_, err = service.CompleteHandoff(ctx, "T1", "w1", "w1", Handoff{
		Checklist: HandoffChecklist{Artifacts: true, Docs: true, Lessons: true},
		Lessons:   []string{"keep the build green"},
	})
	require.NoError(t, err)

	m, err := service.UpdateMemberState(ctx, "T1", "w1", StateRetired, "moving on")
	require.NoError(t, err)
	assert.Equal(t, StateRetired, m.State)
	require.NotNil(t, m.RetiredAt)
	assert.Equal(t, "moving on", m.RetirementReason)
}

func TestCompleteHandoffIsFinal(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, nil)
	addActiveMember(ctx, t, service, "w1")

	_, err := service.InitiateHandoff(ctx, "T1", "w1", "admin")
	require.NoError(t, err)
	_, err = service.CompleteHandoff(ctx, "T1", "w1", "w1", Handoff{})
	require.NoError(t, err)
	_, err = service.CompleteHandoff(ctx, "T1", "w1", "w1", Handoff{})
	require.Error(t, err)
}

func TestAssignRoleKeepsHistoryAndResolves(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, nil)

	_, err := service.AssignRole(ctx, "T1", "reviewer", "w1", "admin", "initial")
	require.NoError(t, err)
	assignment, err := service.AssignRole(ctx, "T1", "reviewer", "w2", "admin", "rotation")
	require.NoError(t, err)
	assert.Equal(t, "w2", assignment.CurrentWorker)
	require.Len(t, assignment.History, 2)
	assert.Equal(t, "w1", assignment.History[0].Worker)

	worker, err := service.ResolveRole(ctx, "T1", "reviewer")
	require.NoError(t, err)
	assert.Equal(t, "w2", worker)

	worker, err = service.ResolveRole(ctx, "T1", "unassigned")
	require.NoError(t, err)
	assert.Empty(t, worker)
}

func TestPerformanceJoinsTaskCounters(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, fakeTaskCounts{
		task.StatusSuccess: 6,
		task.StatusFailed:  2,
		task.StatusRunning: 1,
		task.StatusReady:   1,
	})
	addActiveMember(ctx, t, service, "w1")

	report, err := service.Performance(ctx, "T1", "w1")
	require.NoError(t, err)
	assert.InDelta(t, 60.0, report.CompletionRate, 1e-9, "6 of 10 countable tasks")
	assert.Equal(t, 6, report.TaskCounts[task.StatusSuccess])
}

func TestPerformanceWithNoTasks(t *testing.T) {
	ctx := context.Background()
	service := newTestService(t, fakeTaskCounts{})
	addActiveMember(ctx, t, service, "w1")

	report, err := service.Performance(ctx, "T1", "w1")
	require.NoError(t, err)
	assert.Zero(t, report.CompletionRate)
}
