// Package member manages team membership: lifecycle states, role
// assignments, pre-retirement handoffs, and live performance metrics.
package member

import (
	"errors"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	ErrNotFound         = errors.New("membership not found")
	ErrHandoffIncomplete = errors.New("retirement requires a completed handoff")
)

// State is a membership lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateActive       State = "active"
	StateOnStandby    State = "on_standby"
	StateRetired      State = "retired"
	StateSuspended    State = "suspended"
	StateReassigned   State = "reassigned"
)

// knownStates guards administrative input.
var knownStates = map[State]bool{
	StateInitializing: true,
	StateActive:       true,
	StateOnStandby:    true,
	StateRetired:      true,
	StateSuspended:    true,
	StateReassigned:   true,
}

// StateChange is one recorded lifecycle step.
type StateChange struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Performance is the live metric block of a membership.
type Performance struct {
	Score              float64  `json:"score"`               // 0..100
	CompletionRate     float64  `json:"completion_rate"`     // 0..100
	AvgDurationHours   *float64 `json:"avg_duration_h,omitempty"`
	CollaborationScore float64  `json:"collaboration_score"` // 0..100
}

// Membership binds a worker and persona to a team; (team, worker) unique.
type Membership struct {
	Team             string        `json:"team"`
	Worker           string        `json:"worker"`
	Persona          string        `json:"persona"`
	Role             string        `json:"role"`
	State            State         `json:"state"`
	JoinedAt         time.Time     `json:"joined_at"`
	ActivatedAt      *time.Time    `json:"activated_at,omitempty"`
	RetiredAt        *time.Time    `json:"retired_at,omitempty"`
	StateHistory     []StateChange `json:"state_history,omitempty"`
	Performance      Performance   `json:"performance"`
	AddedBy          string        `json:"added_by"`
	AddedReason      string        `json:"added_reason,omitempty"`
	RetirementReason string        `json:"retirement_reason,omitempty"`
}

// RoleChange is one recorded role handover.
type RoleChange struct {
	Worker     string    `json:"worker"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// RoleAssignment maps a team role to its current worker; (team, role) unique.
// The current assignment is mutable; History is append-only.
type RoleAssignment struct {
	Team          string       `json:"team"`
	Role          string       `json:"role"`
	CurrentWorker string       `json:"current_worker,omitempty"`
	AssignedAt    *time.Time   `json:"assigned_at,omitempty"`
	AssignedBy    string       `json:"assigned_by,omitempty"`
	History       []RoleChange `json:"history,omitempty"`
	Required      bool         `json:"required"`
	Active        bool         `json:"active"`
	Priority      int          `json:"priority"`
}

// HandoffStatus is the handoff lifecycle state.
type HandoffStatus string

const (
	HandoffInitiated  HandoffStatus = "initiated"
	HandoffInProgress HandoffStatus = "in_progress"
	HandoffCompleted  HandoffStatus = "completed"
	HandoffSkipped    HandoffStatus = "skipped"
)

// HandoffChecklist tracks what the departing worker has captured.
type HandoffChecklist struct {
	Artifacts bool `json:"artifacts"`
	Docs      bool `json:"docs"`
	Lessons   bool `json:"lessons"`
}

// Handoff captures a worker's knowledge before retirement.
type Handoff struct {
	ID              string           `json:"id"`
	Team            string           `json:"team"`
	Worker          string           `json:"worker"`
	Persona         string           `json:"persona,omitempty"`
	Status          HandoffStatus    `json:"status"`
	Checklist       HandoffChecklist `json:"checklist"`
	Lessons         []string         `json:"lessons,omitempty"`
	OpenQuestions   []string         `json:"open_questions,omitempty"`
	Recommendations []string         `json:"recommendations,omitempty"`
	Decisions       []string         `json:"decisions,omitempty"`
	ArtifactsList   []string         `json:"artifacts_list,omitempty"`
	InitiatedBy     string           `json:"initiated_by,omitempty"`
	CompletedBy     string           `json:"completed_by,omitempty"`
	InitiatedAt     time.Time        `json:"initiated_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
}
