package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"squad/internal/history"
)

// Execution is the handle a persona uses to narrate one run. The zero value
// is inert: every method no-ops, which is what a disabled tracker hands out.
// Methods are safe for concurrent use.
type Execution struct {
	tracker *Tracker

	mu               sync.Mutex
	record           *history.Record
	droppedDecisions int
	done             bool
}

// ID returns the execution id; empty for inert executions.
func (e *Execution) ID() string {
	if e.tracker == nil {
		return ""
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.ID
}

// LogDecision appends a decision. Past the cap the decision is counted but
// dropped.
func (e *Execution) LogDecision(d history.Decision) {
	if e.tracker == nil {
		return
	}
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = e.tracker.now()
	}
	if len(e.record.Decisions) >= e.tracker.maxDecisions {
		e.droppedDecisions++
		dropped := e.droppedDecisions
		id := e.record.ID
		e.mu.Unlock()
		e.tracker.logger.Warn("execution %s: decision cap reached, %d dropped", id, dropped)
		return
	}
	e.record.Decisions = append(e.record.Decisions, d)
	e.mu.Unlock()
	e.emit(history.EventDecisionMade, d.Choice, nil, map[string]any{"kind": string(d.Kind)})
}

// UpdateProgress records a progress marker in [0, 1].
func (e *Execution) UpdateProgress(fraction float64, message string) {
	if e.tracker == nil {
		return
	}
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	e.emit(history.EventProgress, message, &fraction, nil)
}

// LogToolInvocation records a tool call starting.
func (e *Execution) LogToolInvocation(tool string, args map[string]any) {
	if e.tracker == nil {
		return
	}
	e.emit(history.EventToolInvoked, tool, nil, map[string]any{"args": args})
}

// LogToolCompletion records a tool call ending.
func (e *Execution) LogToolCompletion(tool string, took time.Duration, err error) {
	if e.tracker == nil {
		return
	}
	data := map[string]any{"duration_ms": took.Milliseconds()}
	if err != nil {
		data["error"] = err.Error()
	}
	e.emit(history.EventToolCompleted, tool, nil, data)
}

// Complete finishes the run successfully and persists the record. Repeated
// completion is a no-op.
func (e *Execution) Complete(ctx context.Context, summary string, output map[string]any) error {
	return e.finish(ctx, history.OutcomeSuccess, history.EventCompleted, func(r *history.Record) {
		if !e.tracker.captureOutput {
			return
		}
		r.OutputSummary = summary
		r.OutputData = output
	})
}

// Fail finishes the run with an error and persists the record.
func (e *Execution) Fail(ctx context.Context, cause error) error {
	return e.finish(ctx, history.OutcomeFailed, history.EventFailed, func(r *history.Record) {
		if cause != nil {
			r.Error = cause.Error()
		}
	})
}

// Cancel finishes the run as cancelled and persists the record.
func (e *Execution) Cancel(ctx context.Context) error {
	return e.finish(ctx, history.OutcomeCancelled, history.EventCancelled, nil)
}

// AddTokens accumulates token and cost usage.
func (e *Execution) AddTokens(tokens int, cost float64) {
	if e.tracker == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return
	}
	e.record.Tokens += tokens
	e.record.Cost += cost
}

func (e *Execution) finish(ctx context.Context, outcome history.Outcome, eventKind string, mutate func(*history.Record)) error {
	if e.tracker == nil {
		return nil
	}
	e.mu.Lock()
	if e.done {
		e.mu.Unlock()
		return nil
	}
	e.done = true
	now := e.tracker.now()
	e.record.Outcome = outcome
	e.record.CompletedAt = &now
	e.record.DurationMS = now.Sub(e.record.StartedAt).Milliseconds()
	if mutate != nil {
		mutate(e.record)
	}
	record := e.record
	e.mu.Unlock()

	// The final event is appended before the upsert so the persisted record
	// carries its own termination marker.
	event := e.appendEvent(eventKind, "", nil, nil)
	if err := e.tracker.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("persist execution %s: %w", record.ID, err)
	}
	e.tracker.hub.publish(record.ID, event)
	return nil
}

// emit appends an event to the record and fans it out to stream subscribers.
func (e *Execution) emit(kind, message string, progress *float64, data map[string]any) {
	event := e.appendEvent(kind, message, progress, data)
	e.tracker.hub.publish(event.Execution, event)
}

func (e *Execution) appendEvent(kind, message string, progress *float64, data map[string]any) history.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	event := history.Event{
		ID:        uuid.NewString(),
		Execution: e.record.ID,
		Kind:      kind,
		Timestamp: e.tracker.now(),
		Message:   message,
		Progress:  progress,
		Data:      data,
	}
	e.record.Events = append(e.record.Events, event)
	return event
}
