package retention

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squad/internal/history"
)

func seed(ctx context.Context, t *testing.T, store *history.MemStore, id, persona string, outcome history.Outcome, started time.Time) {
	t.Helper()
	require.NoError(t, store.Upsert(ctx, &history.Record{
		ID: id, Persona: persona, Outcome: outcome, StartedAt: started,
	}))
}

func newJanitor(t *testing.T, store *history.MemStore, cfg Config, now time.Time) *Janitor {
	t.Helper()
	j, err := NewJanitor(store, cfg, nil)
	require.NoError(t, err)
	j.Now = func() time.Time { return now }
	return j
}

// Ten executions evenly spaced from 100 days ago to today: six successes and
// four failures all at least 90 days old. Dry-run and the real sweep must
// agree, and failures must survive the shorter success cutoff.
func TestDryRunMatchesApplyAndFailuresSurvive(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemStore()
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		seed(ctx, t, store, fmt.Sprintf("failed-%d", i), "builder", history.OutcomeFailed, now.AddDate(0, 0, -(100 - i)))
	}
	successAges := []int{95, 80, 70, 50, 20, 0}
	expectedDoomed := 0
	for i, age := range successAges {
		seed(ctx, t, store, fmt.Sprintf("ok-%d", i), "builder", history.OutcomeSuccess, now.AddDate(0, 0, -age))
		if age > 60 {
			expectedDoomed++
		}
	}

	cfg := Config{
		Strategy:            StrategyTime,
		MaxAgeDays:          60,
		KeepFailedLonger:    true,
		FailedRetentionDays: 365,
		DryRun:              true,
	}
	dry := newJanitor(t, store, cfg, now)
	dryReport, err := dry.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, dryReport.Scanned)
	assert.Equal(t, expectedDoomed, dryReport.Deleted)

	unchanged, err := store.Query(ctx, history.Filter{})
	require.NoError(t, err)
	assert.Len(t, unchanged, 10, "dry-run deletes nothing")

	cfg.DryRun = false
	apply := newJanitor(t, store, cfg, now)
	applyReport, err := apply.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, dryReport.Deleted, applyReport.Deleted, "apply matches the dry-run count")

	failures, err := store.Query(ctx, history.Filter{Outcome: history.OutcomeFailed})
	require.NoError(t, err)
	assert.Len(t, failures, 4, "failures keep the longer retention")
}

func TestCountStrategyKeepsNewestPerPersona(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemStore()
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		seed(ctx, t, store, fmt.Sprintf("a-%d", i), "builder", history.OutcomeSuccess, now.Add(-time.Duration(i)*time.Hour))
	}
	for i := 0; i < 2; i++ {
		seed(ctx, t, store, fmt.Sprintf("b-%d", i), "reviewer", history.OutcomeSuccess, now.Add(-time.Duration(i)*time.Hour))
	}

	j := newJanitor(t, store, Config{Strategy: StrategyCount, MaxRecordsPerKey: 3}, now)
	report, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Deleted, "only builder has surplus")

	remaining, err := store.Query(ctx, history.Filter{Persona: "builder"})
	require.NoError(t, err)
	require.Len(t, remaining, 3)
	assert.Equal(t, "a-0", remaining[0].ID, "newest survive")
}

func TestHybridAppliesTimeThenCount(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemStore()
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	seed(ctx, t, store, "old", "builder", history.OutcomeSuccess, now.AddDate(0, 0, -100))
	for i := 0; i < 4; i++ {
		seed(ctx, t, store, fmt.Sprintf("new-%d", i), "builder", history.OutcomeSuccess, now.Add(-time.Duration(i)*time.Hour))
	}

	j := newJanitor(t, store, Config{
		Strategy:         StrategyHybrid,
		MaxAgeDays:       60,
		MaxRecordsPerKey: 2,
	}, now)
	report, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Deleted, "one by age, two by count")

	remaining, err := store.Query(ctx, history.Filter{})
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}

func TestStatusStrategyUsesPerOutcomeAges(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemStore()
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	seed(ctx, t, store, "ok-old", "p", history.OutcomeSuccess, now.AddDate(0, 0, -91))
	seed(ctx, t, store, "ok-new", "p", history.OutcomeSuccess, now.AddDate(0, 0, -89))
	seed(ctx, t, store, "failed-old", "p", history.OutcomeFailed, now.AddDate(0, 0, -100))
	seed(ctx, t, store, "cancelled-old", "p", history.OutcomeCancelled, now.AddDate(0, 0, -31))
	seed(ctx, t, store, "stale-running", "p", history.OutcomeRunning, now.AddDate(0, 0, -8))

	j := newJanitor(t, store, Config{Strategy: StrategyStatus}, now)
	report, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Deleted)

	remaining, err := store.Query(ctx, history.Filter{})
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, r := range remaining {
		ids[r.ID] = true
	}
	assert.True(t, ids["ok-new"])
	assert.True(t, ids["failed-old"], "failed keeps 365 days")
	assert.False(t, ids["stale-running"], "stale running records age out after 7 days")
}

func TestRunningRecordsSurviveTimeAndCount(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemStore()
	now := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	seed(ctx, t, store, "running", "p", history.OutcomeRunning, now.AddDate(0, 0, -200))

	j := newJanitor(t, store, Config{Strategy: StrategyTime, MaxAgeDays: 30}, now)
	report, err := j.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Deleted)
}
