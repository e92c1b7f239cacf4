package governance

import (
	"context"
	"sync"
	"time"
)

// Approval is one role's sign-off on a workflow phase. Expired approvals are
// ignored by gate evaluation.
type Approval struct {
	Team      string     `json:"team"`
	Workflow  string     `json:"workflow"`
	Phase     string     `json:"phase"`
	Role      string     `json:"role"`
	Approver  string     `json:"approver"`
	GivenAt   time.Time  `json:"given_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
}

// Expired reports whether the approval no longer counts at the given time.
func (a Approval) Expired(at time.Time) bool {
	return a.ExpiresAt != nil && !at.Before(*a.ExpiresAt)
}

// ApprovalStore is the approval ledger port.
type ApprovalStore interface {
	// Record appends an approval.
	Record(ctx context.Context, a Approval) error
	// Active returns the non-expired approvals for a workflow phase and role.
	Active(ctx context.Context, team, workflow, phase, role string, at time.Time) ([]Approval, error)
}

// MemApprovals is the in-memory ApprovalStore.
type MemApprovals struct {
	mu        sync.Mutex
	approvals []Approval
}

// NewMemApprovals returns an empty ledger.
func NewMemApprovals() *MemApprovals {
	return &MemApprovals{}
}

func (s *MemApprovals) Record(_ context.Context, a Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals = append(s.approvals, a)
	return nil
}

func (s *MemApprovals) Active(_ context.Context, team, workflow, phase, role string, at time.Time) ([]Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var active []Approval
	for _, a := range s.approvals {
		if a.Team != team || a.Workflow != workflow || a.Phase != phase || a.Role != role {
			continue
		}
		if a.Expired(at) {
			continue
		}
		active = append(active, a)
	}
	return active, nil
}
