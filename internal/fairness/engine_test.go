package fairness

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoolingOffStartsAtThresholdAndScales(t *testing.T) {
	cfg := Config{
		WindowHours:         24,
		AssignmentThreshold: 3,
		CoolingOffMinutes:   10,
		MinCoolingMinutes:   5,
		MaxCoolingMinutes:   60,
		ScalingFactor:       2,
	}
	e := NewEngine(cfg, nil)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	e.RecordAssignment("T1", "w1", at)
	e.RecordAssignment("T1", "w1", at.Add(time.Minute))
	assert.False(t, e.InCoolingOff("T1", "w1", at.Add(2*time.Minute)), "below threshold")

	e.RecordAssignment("T1", "w1", at.Add(2*time.Minute))
	until, cooling := e.CoolingOffUntil("T1", "w1", at.Add(2*time.Minute))
	require.True(t, cooling)
	assert.Equal(t, at.Add(2*time.Minute).Add(10*time.Minute), until, "base duration at threshold")
	assert.True(t, e.InCoolingOff("T1", "w1", at.Add(5*time.Minute)))
	assert.False(t, e.InCoolingOff("T1", "w1", at.Add(20*time.Minute)), "period elapsed")

	// One more assignment doubles the period.
	e.RecordAssignment("T1", "w1", at.Add(3*time.Minute))
	until, cooling = e.CoolingOffUntil("T1", "w1", at.Add(3*time.Minute))
	require.True(t, cooling)
	assert.Equal(t, at.Add(3*time.Minute).Add(20*time.Minute), until)
}

func TestCoolingOffClampsToMax(t *testing.T) {
	cfg := Config{
		WindowHours:         24,
		AssignmentThreshold: 2,
		CoolingOffMinutes:   30,
		MinCoolingMinutes:   5,
		MaxCoolingMinutes:   60,
		ScalingFactor:       10,
	}
	e := NewEngine(cfg, nil)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 6; i++ {
		e.RecordAssignment("T1", "w1", at.Add(time.Duration(i)*time.Second))
	}
	until, cooling := e.CoolingOffUntil("T1", "w1", at.Add(6*time.Second))
	require.True(t, cooling)
	assert.Equal(t, at.Add(5*time.Second).Add(60*time.Minute), until, "clamped to max minutes")
}

func TestWindowExpiryForgetsAssignments(t *testing.T) {
	cfg := Config{WindowHours: 1, AssignmentThreshold: 2, CoolingOffMinutes: 10}
	e := NewEngine(cfg, nil)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	e.RecordAssignment("T1", "w1", at)
	e.RecordAssignment("T1", "w1", at.Add(time.Minute))
	assert.Equal(t, 2, e.AssignmentCount("T1", "w1", at.Add(2*time.Minute)))
	assert.Equal(t, 0, e.AssignmentCount("T1", "w1", at.Add(2*time.Hour)))
	assert.False(t, e.InCoolingOff("T1", "w1", at.Add(2*time.Hour)))
}

func TestWeightAdjustmentPenalizesOverRepresentation(t *testing.T) {
	e := NewEngine(Config{WindowHours: 24, Sensitivity: 1, MaxWeightAdjustment: 0.25}, nil)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		e.RecordAssignment("T1", "busy", at)
	}
	e.RecordAssignment("T1", "idle", at)

	busy := e.WeightAdjustment("T1", "busy", at)
	idle := e.WeightAdjustment("T1", "idle", at)
	assert.Negative(t, busy)
	assert.Positive(t, idle)
	assert.LessOrEqual(t, busy, 0.25)
	assert.GreaterOrEqual(t, busy, -0.25)
	assert.Equal(t, -0.25, busy, "8/9 share against 1/2 target clamps to max")
}

func TestFairnessScoreTracksEvenness(t *testing.T) {
	e := NewEngine(Config{WindowHours: 24}, nil)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 1.0, e.Score("T1", at), "no activity scores 1")

	for _, w := range []string{"w1", "w2", "w3"} {
		e.RecordAssignment("T1", w, at)
	}
	assert.InDelta(t, 1.0, e.Score("T1", at), 1e-9, "even split scores 1")

	for i := 0; i < 20; i++ {
		e.RecordAssignment("T1", "w1", at)
	}
	assert.Less(t, e.Score("T1", at), 0.7, "skew drops the score")
}

func TestSuggestedThresholdDriftsWithLoad(t *testing.T) {
	cfg := Config{WindowHours: 24, AssignmentThreshold: 3, AdaptationRate: 0.5}
	e := NewEngine(cfg, nil)
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 3.0, e.SuggestedThreshold("T1"), "base before any activity")

	for i := 0; i < 12; i++ {
		e.RecordAssignment("T1", "w1", at.Add(time.Duration(i)*time.Minute))
	}
	suggested := e.SuggestedThreshold("T1")
	assert.Greater(t, suggested, 3.0, "sustained load above base raises the suggestion")
	assert.LessOrEqual(t, suggested, 6.0, "clamped to twice the base")
}

func TestGiniProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("gini stays in [0,1)", prop.ForAll(
		func(counts []int) bool {
			g := Gini(counts)
			return g >= 0 && g < 1
		},
		gen.SliceOf(gen.IntRange(0, 1000)),
	))
	properties.Property("even distributions score 0", prop.ForAll(
		func(n int, c int) bool {
			counts := make([]int, n)
			for i := range counts {
				counts[i] = c
			}
			return Gini(counts) < 1e-9
		},
		gen.IntRange(1, 50),
		gen.IntRange(1, 100),
	))
	properties.TestingRun(t)
}

func TestAdaptiveThresholdDriftsWithinBounds(t *testing.T) {
	threshold := NewAdaptiveThreshold("grade", 0.7, 0.5, 0.9, 0.5)
	assert.Equal(t, 0.7, threshold.Value())

	// Consistently high observations pull the cut-point up, never past max.
	for i := 0; i < 50; i++ {
		threshold.Observe(0.95)
	}
	assert.Greater(t, threshold.Value(), 0.7)
	assert.LessOrEqual(t, threshold.Value(), 0.9)

	for i := 0; i < 100; i++ {
		threshold.Observe(0.1)
	}
	assert.GreaterOrEqual(t, threshold.Value(), 0.5)
	assert.NotEmpty(t, threshold.History())
}

func TestIncidentLifecycle(t *testing.T) {
	log := NewIncidentLog()
	incident := log.Report("T1", "w1", SeverityHigh, "starved of work", "w2")
	assert.Equal(t, IncidentReported, incident.Status)

	_, err := log.Transition(incident.ID, IncidentResolved, "")
	require.Error(t, err, "cannot resolve before confirmation")

	for _, step := range []IncidentStatus{IncidentInvestigating, IncidentConfirmed, IncidentMitigated, IncidentResolved} {
		updated, err := log.Transition(incident.ID, step, "step")
		require.NoError(t, err)
		assert.Equal(t, step, updated.Status)
	}

	resolved := log.List("T1", IncidentResolved)
	require.Len(t, resolved, 1)
	assert.Len(t, resolved[0].History, 4)

	_, err = log.Transition(incident.ID, IncidentFalsePositive, "")
	require.Error(t, err, "resolved is terminal")
}
