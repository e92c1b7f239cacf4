package fairness

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrIncidentNotFound is returned when an incident id is absent.
var ErrIncidentNotFound = errors.New("incident not found")

// Severity grades an incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IncidentStatus is the investigation lifecycle state.
type IncidentStatus string

const (
	IncidentReported      IncidentStatus = "reported"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentConfirmed     IncidentStatus = "confirmed"
	IncidentMitigated     IncidentStatus = "mitigated"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentFalsePositive IncidentStatus = "false_positive"
)

// incidentTransitions holds the legal lifecycle steps. false_positive closes
// an incident from any open state.
var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentReported:      {IncidentInvestigating, IncidentFalsePositive},
	IncidentInvestigating: {IncidentConfirmed, IncidentFalsePositive},
	IncidentConfirmed:     {IncidentMitigated, IncidentResolved, IncidentFalsePositive},
	IncidentMitigated:     {IncidentResolved},
}

// IncidentChange is one recorded status step.
type IncidentChange struct {
	From IncidentStatus `json:"from"`
	To   IncidentStatus `json:"to"`
	At   time.Time      `json:"at"`
	Note string         `json:"note,omitempty"`
}

// Incident is a reported or detected fairness violation.
type Incident struct {
	ID          string           `json:"id"`
	Team        string           `json:"team"`
	Worker      string           `json:"worker,omitempty"`
	Severity    Severity         `json:"severity"`
	Status      IncidentStatus   `json:"status"`
	Description string           `json:"description"`
	ReportedBy  string           `json:"reported_by,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	History     []IncidentChange `json:"history,omitempty"`
}

// IncidentLog is the in-process incident ledger.
type IncidentLog struct {
	mu        sync.Mutex
	incidents map[string]*Incident
	now       func() time.Time
}

// NewIncidentLog returns an empty ledger.
func NewIncidentLog() *IncidentLog {
	return &IncidentLog{
		incidents: make(map[string]*Incident),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Report opens a new incident in reported state.
func (l *IncidentLog) Report(team, worker string, severity Severity, description, reportedBy string) *Incident {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	incident := &Incident{
		ID:          uuid.NewString(),
		Team:        team,
		Worker:      worker,
		Severity:    severity,
		Status:      IncidentReported,
		Description: description,
		ReportedBy:  reportedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	l.incidents[incident.ID] = incident
	clone := cloneIncident(incident)
	return &clone
}

// Transition moves an incident along its lifecycle.
func (l *IncidentLog) Transition(id string, to IncidentStatus, note string) (*Incident, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	incident, ok := l.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	legal := false
	for _, next := range incidentTransitions[incident.Status] {
		if next == to {
			legal = true
			break
		}
	}
	if !legal {
		return nil, fmt.Errorf("incident %s: illegal transition %s -> %s", id, incident.Status, to)
	}
	now := l.now()
	incident.History = append(incident.History, IncidentChange{From: incident.Status, To: to, At: now, Note: note})
	incident.Status = to
	incident.UpdatedAt = now
	clone := cloneIncident(incident)
	return &clone, nil
}

// List returns a team's incidents, optionally filtered by status, newest
// first.
func (l *IncidentLog) List(team string, status IncidentStatus) []*Incident {
	l.mu.Lock()
	defer l.mu.Unlock()
	var matched []*Incident
	for _, incident := range l.incidents {
		if incident.Team != team {
			continue
		}
		if status != "" && incident.Status != status {
			continue
		}
		clone := cloneIncident(incident)
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return matched
}

func cloneIncident(incident *Incident) Incident {
	clone := *incident
	clone.History = append([]IncidentChange(nil), incident.History...)
	return clone
}
