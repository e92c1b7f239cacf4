package fairness

import (
	"math"
	"sync"
	"time"
)

// ThresholdShift is one recorded drift of an adaptive threshold.
type ThresholdShift struct {
	At       time.Time `json:"at"`
	From     float64   `json:"from"`
	To       float64   `json:"to"`
	Observed float64   `json:"observed"`
}

// AdaptiveThreshold is a numeric cut-point whose current value drifts toward
// observed performance, bounded by [Min, Max]. Grades and deployment approvals
// read Value instead of a constant.
type AdaptiveThreshold struct {
	ID             string
	Base           float64
	Min            float64
	Max            float64
	AdaptationRate float64
	SampleWindow   int
	Sensitivity    float64

	mu      sync.Mutex
	current float64
	samples []float64
	history []ThresholdShift
	now     func() time.Time
}

// NewAdaptiveThreshold builds a threshold starting at base.
func NewAdaptiveThreshold(id string, base, min, max, rate float64) *AdaptiveThreshold {
	if min > max {
		min, max = max, min
	}
	base = math.Min(math.Max(base, min), max)
	if rate <= 0 || rate > 1 {
		rate = 0.1
	}
	return &AdaptiveThreshold{
		ID:             id,
		Base:           base,
		Min:            min,
		Max:            max,
		AdaptationRate: rate,
		SampleWindow:   20,
		Sensitivity:    1.0,
		current:        base,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Value returns the current cut-point.
func (t *AdaptiveThreshold) Value() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Observe feeds a performance sample and drifts the current value toward the
// windowed sample mean at the adaptation rate, clamped to [Min, Max]. Returns
// the new value.
func (t *AdaptiveThreshold) Observe(performance float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, performance)
	if t.SampleWindow > 0 && len(t.samples) > t.SampleWindow {
		t.samples = t.samples[len(t.samples)-t.SampleWindow:]
	}
	var sum float64
	for _, s := range t.samples {
		sum += s
	}
	target := sum / float64(len(t.samples))
	next := t.current + (target-t.current)*t.AdaptationRate*t.Sensitivity
	next = math.Min(math.Max(next, t.Min), t.Max)
	if next != t.current {
		t.history = append(t.history, ThresholdShift{
			At:       t.now(),
			From:     t.current,
			To:       next,
			Observed: performance,
		})
		t.current = next
	}
	return t.current
}

// History returns the recorded shifts, oldest first.
func (t *AdaptiveThreshold) History() []ThresholdShift {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ThresholdShift(nil), t.history...)
}
