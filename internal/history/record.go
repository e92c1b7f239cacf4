// Package history is the append-only execution record substrate: every
// tracked persona run lands here with its input embedding for later
// similarity retrieval.
package history

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a record id is absent.
var ErrNotFound = errors.New("execution record not found")

// Outcome is the terminal (or in-flight) state of an execution.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeRunning   Outcome = "running"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomePartial   Outcome = "partial"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeTimeout   Outcome = "timeout"
)

// IsTerminal reports whether the outcome is final.
func (o Outcome) IsTerminal() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomePartial, OutcomeCancelled, OutcomeTimeout:
		return true
	default:
		return false
	}
}

// DecisionKind classifies a tracked decision.
type DecisionKind string

const (
	DecisionToolSelection    DecisionKind = "tool_selection"
	DecisionStrategyChoice   DecisionKind = "strategy_choice"
	DecisionParameterSetting DecisionKind = "parameter_setting"
	DecisionRouting          DecisionKind = "routing"
	DecisionRetry            DecisionKind = "retry"
	DecisionFallback         DecisionKind = "fallback"
	DecisionQualityGate      DecisionKind = "quality_gate"
	DecisionOutputSelection  DecisionKind = "output_selection"
)

// Decision is a choice made during an execution, with the road not taken.
type Decision struct {
	ID           string            `json:"id"`
	Kind         DecisionKind      `json:"kind"`
	Choice       string            `json:"choice"`
	Reasoning    string            `json:"reasoning,omitempty"`
	Alternatives []string          `json:"alternatives,omitempty"`
	Confidence   float64           `json:"confidence"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// Event kinds emitted while an execution runs.
const (
	EventStarted       = "started"
	EventCompleted     = "completed"
	EventFailed        = "failed"
	EventCancelled     = "cancelled"
	EventToolInvoked   = "tool_invoked"
	EventToolCompleted = "tool_completed"
	EventDecisionMade  = "decision_made"
	EventProgress      = "progress_update"
)

// Event is a timestamped marker inside an execution.
type Event struct {
	ID        string         `json:"id"`
	Execution string         `json:"execution"`
	Kind      string         `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message,omitempty"`
	Progress  *float64       `json:"progress,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// IsLifecycleFinal reports whether the event ends a stream.
func (e Event) IsLifecycleFinal() bool {
	switch e.Kind {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	default:
		return false
	}
}

// RunContext carries the ambient identifiers of an execution.
type RunContext struct {
	Env         string            `json:"env,omitempty"`
	Config      map[string]string `json:"config,omitempty"`
	Parent      string            `json:"parent,omitempty"`
	Correlation string            `json:"correlation,omitempty"`
	User        string            `json:"user,omitempty"`
	Session     string            `json:"session,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
}

// Record is one tracked persona run. Append-only: decisions and events are
// sub-records of the run, and a record never changes after its outcome is
// terminal.
type Record struct {
	ID             string         `json:"id"`
	Persona        string         `json:"persona"`
	PersonaVersion string         `json:"persona_version,omitempty"`
	Input          string         `json:"input,omitempty"`
	InputEmbedding []float32      `json:"input_embedding,omitempty"`
	Context        RunContext     `json:"context"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	DurationMS     int64          `json:"duration_ms,omitempty"`
	Outcome        Outcome        `json:"outcome"`
	Decisions      []Decision     `json:"decisions,omitempty"`
	Events         []Event        `json:"events,omitempty"`
	OutputSummary  string         `json:"output_summary,omitempty"`
	OutputData     map[string]any `json:"output_data,omitempty"`
	Error          string         `json:"error,omitempty"`
	Tokens         int            `json:"tokens,omitempty"`
	Cost           float64        `json:"cost,omitempty"`
}
