// Package fairness spreads work across a team: it tracks who has been
// assigned what over a rolling window and derives cooling-off periods, scoring
// adjustments, and a distribution score from it.
package fairness

import (
	"math"
	"sort"
	"sync"
	"time"

	"squad/internal/shared/logging"
)

// Config tunes the engine. Zero fields fall back to Default values.
type Config struct {
	WindowHours         int
	AssignmentThreshold int
	CoolingOffMinutes   int     // base cooling-off duration
	MinCoolingMinutes   int
	MaxCoolingMinutes   int
	ScalingFactor       float64 // cooling-off grows by this factor per assignment over threshold
	AdaptationRate      float64
	Sensitivity         float64
	MaxWeightAdjustment float64
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		WindowHours:         24,
		AssignmentThreshold: 5,
		CoolingOffMinutes:   30,
		MinCoolingMinutes:   5,
		MaxCoolingMinutes:   240,
		ScalingFactor:       2.0,
		AdaptationRate:      0.1,
		Sensitivity:         1.0,
		MaxWeightAdjustment: 0.25,
	}
}

func (c Config) withDefaults() Config {
	d := Default()
	if c.WindowHours <= 0 {
		c.WindowHours = d.WindowHours
	}
	if c.AssignmentThreshold <= 0 {
		c.AssignmentThreshold = d.AssignmentThreshold
	}
	if c.CoolingOffMinutes <= 0 {
		c.CoolingOffMinutes = d.CoolingOffMinutes
	}
	if c.MinCoolingMinutes <= 0 {
		c.MinCoolingMinutes = d.MinCoolingMinutes
	}
	if c.MaxCoolingMinutes <= 0 {
		c.MaxCoolingMinutes = d.MaxCoolingMinutes
	}
	if c.ScalingFactor <= 0 {
		c.ScalingFactor = d.ScalingFactor
	}
	if c.AdaptationRate <= 0 {
		c.AdaptationRate = d.AdaptationRate
	}
	if c.Sensitivity <= 0 {
		c.Sensitivity = d.Sensitivity
	}
	if c.MaxWeightAdjustment <= 0 {
		c.MaxWeightAdjustment = d.MaxWeightAdjustment
	}
	return c
}

// Engine is the in-process fairness tracker. It implements the task service's
// Fairness port.
type Engine struct {
	cfg    Config
	logger logging.Logger

	mu          sync.Mutex
	assignments map[string][]time.Time // team + "/" + worker -> assignment times
	thresholds  map[string]*AdaptiveThreshold
}

// NewEngine builds the engine.
func NewEngine(cfg Config, logger logging.Logger) *Engine {
	return &Engine{
		cfg:         cfg.withDefaults(),
		logger:      logging.OrNop(logger),
		assignments: make(map[string][]time.Time),
		thresholds:  make(map[string]*AdaptiveThreshold),
	}
}

func key(team, worker string) string { return team + "/" + worker }

// RecordAssignment notes that worker was handed a task at the given time.
func (e *Engine) RecordAssignment(team, worker string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := key(team, worker)
	e.assignments[k] = e.pruneLocked(e.assignments[k], at)
	e.assignments[k] = append(e.assignments[k], at)
	e.observeLoadLocked(team, at)
}

// observeLoadLocked feeds the team's mean per-worker assignment count into its
// adaptive threshold so the suggested cut-point tracks actual load.
func (e *Engine) observeLoadLocked(team string, at time.Time) {
	counts := e.windowCountsLocked(team, at)
	if len(counts) == 0 {
		return
	}
	total := 0
	for _, c := range counts {
		total += c
	}
	threshold, ok := e.thresholds[team]
	if !ok {
		base := float64(e.cfg.AssignmentThreshold)
		threshold = NewAdaptiveThreshold(team, base, base, 2*base, e.cfg.AdaptationRate)
		e.thresholds[team] = threshold
	}
	threshold.Observe(float64(total) / float64(len(counts)))
}

// SuggestedThreshold returns the team's adaptive assignment threshold. It
// starts at the configured value and drifts toward the observed mean load,
// never below the configured base. Advisory only; cooling-off uses the
// configured threshold.
func (e *Engine) SuggestedThreshold(team string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if threshold, ok := e.thresholds[team]; ok {
		return threshold.Value()
	}
	return float64(e.cfg.AssignmentThreshold)
}

// AssignmentCount returns worker's assignments inside the rolling window.
func (e *Engine) AssignmentCount(team, worker string, at time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := key(team, worker)
	e.assignments[k] = e.pruneLocked(e.assignments[k], at)
	return len(e.assignments[k])
}

// InCoolingOff reports whether worker is excluded from dispatch at the given
// time.
func (e *Engine) InCoolingOff(team, worker string, at time.Time) bool {
	until, cooling := e.CoolingOffUntil(team, worker, at)
	return cooling && at.Before(until)
}

// CoolingOffUntil returns when worker's current cooling-off period ends. The
// period starts at the assignment that crossed the threshold and grows by
// scaling_factor for each assignment past it, clamped to [min, max] minutes.
func (e *Engine) CoolingOffUntil(team, worker string, at time.Time) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := key(team, worker)
	e.assignments[k] = e.pruneLocked(e.assignments[k], at)
	times := e.assignments[k]
	if len(times) < e.cfg.AssignmentThreshold {
		return time.Time{}, false
	}
	over := len(times) - e.cfg.AssignmentThreshold
	minutes := float64(e.cfg.CoolingOffMinutes) * math.Pow(e.cfg.ScalingFactor, float64(over))
	minutes = math.Min(math.Max(minutes, float64(e.cfg.MinCoolingMinutes)), float64(e.cfg.MaxCoolingMinutes))
	last := times[len(times)-1]
	return last.Add(time.Duration(minutes * float64(time.Minute))), true
}

// WeightAdjustment returns the multiplicative scoring delta for worker in
// [-max, +max]: negative when the worker is over-represented against the even
// 1/N share, positive when under-represented. Callers scale scores by
// (1 + delta).
func (e *Engine) WeightAdjustment(team, worker string, at time.Time) float64 {
	counts := e.windowCounts(team, at)
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 || len(counts) == 0 {
		return 0
	}
	share := float64(counts[worker]) / float64(total)
	target := 1.0 / float64(len(counts))
	delta := (target - share) * e.cfg.Sensitivity
	maxAdj := e.cfg.MaxWeightAdjustment
	return math.Min(math.Max(delta, -maxAdj), maxAdj)
}

// Score returns the team's fairness score 1 - Gini over windowed assignment
// counts. 1 means perfectly even; a team with no activity scores 1.
func (e *Engine) Score(team string, at time.Time) float64 {
	counts := e.windowCounts(team, at)
	values := make([]int, 0, len(counts))
	for _, c := range counts {
		values = append(values, c)
	}
	return 1 - Gini(values)
}

// windowCounts returns per-worker assignment counts inside the window for
// workers with any activity.
func (e *Engine) windowCounts(team string, at time.Time) map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.windowCountsLocked(team, at)
}

func (e *Engine) windowCountsLocked(team string, at time.Time) map[string]int {
	prefix := team + "/"
	counts := make(map[string]int)
	for k, times := range e.assignments {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		pruned := e.pruneLocked(times, at)
		e.assignments[k] = pruned
		if len(pruned) > 0 {
			counts[k[len(prefix):]] = len(pruned)
		}
	}
	return counts
}

func (e *Engine) pruneLocked(times []time.Time, at time.Time) []time.Time {
	cutoff := at.Add(-time.Duration(e.cfg.WindowHours) * time.Hour)
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Gini computes the Gini coefficient of a distribution of non-negative
// counts: 0 for a perfectly even spread, approaching 1 as one member takes
// everything.
func Gini(counts []int) float64 {
	if len(counts) <= 1 {
		return 0
	}
	sorted := append([]int(nil), counts...)
	sort.Ints(sorted)
	var sum, weighted float64
	for i, c := range sorted {
		sum += float64(c)
		weighted += float64(i+1) * float64(c)
	}
	if sum == 0 {
		return 0
	}
	n := float64(len(sorted))
	return (2*weighted)/(n*sum) - (n+1)/n
}
