// Package tracker records live persona executions: decisions, tool calls, and
// progress flow into an execution record that lands in history when the run
// ends, and stream subscribers watch events as they happen.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"squad/internal/history"
	"squad/internal/shared/logging"
)

// maxDecisions caps how many decisions one execution retains. Beyond the cap
// decisions are counted but dropped, keeping runaway loops from bloating the
// record.
const maxDecisions = 500

// Tracker creates executions and fans their events out to stream subscribers.
// A disabled tracker hands out inert executions whose methods all no-op, so
// call sites never branch on tracking being on.
type Tracker struct {
	store          history.Store
	logger         logging.Logger
	now            func() time.Time
	enabled        bool
	maxDecisions   int
	streamBuffer   int
	captureInput   bool
	captureOutput  bool
	captureContext bool
	hub            *hub
}

// Option mutates the tracker during construction.
type Option func(*Tracker)

// WithEnabled toggles tracking. Disabled trackers hand out inert executions.
func WithEnabled(enabled bool) Option {
	return func(t *Tracker) { t.enabled = enabled }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithMaxDecisions overrides the per-execution decision cap.
func WithMaxDecisions(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.maxDecisions = n
		}
	}
}

// WithStreamBuffer overrides the per-subscriber event channel capacity.
func WithStreamBuffer(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.streamBuffer = n
		}
	}
}

// WithCapturePolicy controls which payloads land in the persisted record.
// Input embeddings are kept even when input text is not, so similarity search
// stays usable under a redacting policy.
func WithCapturePolicy(input, output, contextIDs bool) Option {
	return func(t *Tracker) {
		t.captureInput = input
		t.captureOutput = output
		t.captureContext = contextIDs
	}
}

// New builds a tracker persisting into the given history store.
func New(store history.Store, logger logging.Logger, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("tracker requires history store")
	}
	t := &Tracker{
		store:          store,
		logger:         logging.OrNop(logger),
		now:            func() time.Time { return time.Now().UTC() },
		enabled:        true,
		maxDecisions:   maxDecisions,
		streamBuffer:   streamBuffer,
		captureInput:   true,
		captureOutput:  true,
		captureContext: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	t.hub = newHub(t.logger, t.streamBuffer)
	return t, nil
}

// StartOption configures a new execution.
type StartOption func(*history.Record)

// WithInput attaches the raw input and its embedding.
func WithInput(input string, embedding []float32) StartOption {
	return func(r *history.Record) {
		r.Input = input
		r.InputEmbedding = embedding
	}
}

// WithRunContext attaches the ambient identifiers.
func WithRunContext(rc history.RunContext) StartOption {
	return func(r *history.Record) { r.Context = rc }
}

// WithPersonaVersion records which persona revision ran.
func WithPersonaVersion(version string) StartOption {
	return func(r *history.Record) { r.PersonaVersion = version }
}

// StartExecution opens a tracked run. The record is persisted immediately with
// outcome running, so in-flight executions are queryable.
func (t *Tracker) StartExecution(ctx context.Context, persona string, opts ...StartOption) (*Execution, error) {
	if persona == "" {
		return nil, errors.New("start execution: persona required")
	}
	if !t.enabled {
		return &Execution{}, nil
	}
	record := &history.Record{
		ID:        uuid.NewString(),
		Persona:   persona,
		Outcome:   history.OutcomeRunning,
		StartedAt: t.now(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(record)
		}
	}
	if !t.captureInput {
		record.Input = ""
	}
	if !t.captureContext {
		record.Context = history.RunContext{}
	}
	if err := t.store.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("start execution: %w", err)
	}
	ex := &Execution{tracker: t, record: record}
	ex.emit(history.EventStarted, "", nil, nil)
	return ex, nil
}

// Track runs fn inside a tracked execution, completing it on a nil return and
// failing it otherwise. A panic fails the execution and re-panics.
func (t *Tracker) Track(ctx context.Context, persona string, fn func(ctx context.Context, ex *Execution) error, opts ...StartOption) error {
	ex, err := t.StartExecution(ctx, persona, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			if failErr := ex.Fail(ctx, fmt.Errorf("panic: %v", r)); failErr != nil {
				t.logger.Error("track %s: record panic: %v", persona, failErr)
			}
			panic(r)
		}
	}()
	if err := fn(ctx, ex); err != nil {
		if failErr := ex.Fail(ctx, err); failErr != nil {
			t.logger.Error("track %s: record failure: %v", persona, failErr)
		}
		return err
	}
	return ex.Complete(ctx, "", nil)
}

// StreamEvents subscribes to an execution's live events, optionally filtered
// to the given kinds. The stream closes after a lifecycle-final event or when
// the caller closes it.
func (t *Tracker) StreamEvents(executionID string, kinds ...string) *Stream {
	return t.hub.subscribe(executionID, kinds)
}
