package governance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"squad/internal/shared/logging"
)

// defaultApprovalTTL is how long an approval satisfies a gate.
const defaultApprovalTTL = 72 * time.Hour

// Validator implements one validation rule. A nil error passes the rule.
type Validator func(ctx context.Context, gc GateContext, rule ValidationRule) error

// GateContext is the evidence a gate is evaluated against: the documents
// present and free-form values for validators.
type GateContext struct {
	Team      string
	Documents []string // document names present
	Values    map[string]any
}

func (gc GateContext) hasDocument(name string) bool {
	for _, doc := range gc.Documents {
		if doc == name {
			return true
		}
	}
	return false
}

// CheckStatus is the outcome of one gate check.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "passed"
	CheckFailed  CheckStatus = "failed"
	CheckPending CheckStatus = "pending"
	CheckSkipped CheckStatus = "skipped"
)

// Check is one evaluated requirement.
type Check struct {
	Kind   string      `json:"kind"` // document | approval | rule
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// GateResult is the outcome of one check_phase_gate call.
type GateResult struct {
	Workflow  string    `json:"workflow"`
	Phase     string    `json:"phase"`
	Actor     string    `json:"actor"`
	Passed    bool      `json:"passed"`
	Checks    []Check   `json:"checks"`
	Errors    []string  `json:"errors,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// AuditEntry is one recorded governance event.
type AuditEntry struct {
	ID       string     `json:"id"`
	At       time.Time  `json:"at"`
	Kind     string     `json:"kind"` // gate_check | approval
	Actor    string     `json:"actor"`
	Workflow string     `json:"workflow"`
	Phase    string     `json:"phase"`
	Result   *GateResult `json:"result,omitempty"`
	Note     string     `json:"note,omitempty"`
}

// Service evaluates gates against the catalog, the approval ledger, and the
// validator registry, appending every outcome to the audit trail.
type Service struct {
	catalog   *Catalog
	approvals ApprovalStore
	ttl       time.Duration
	logger    logging.Logger
	now       func() time.Time

	mu         sync.Mutex
	validators map[string]Validator
	audit      []AuditEntry
}

// Option mutates the service during construction.
type Option func(*Service)

// WithApprovalTTL overrides how long approvals remain valid.
func WithApprovalTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the governance service.
func NewService(catalog *Catalog, approvals ApprovalStore, logger logging.Logger, opts ...Option) (*Service, error) {
	if catalog == nil {
		return nil, errors.New("governance service requires gate catalog")
	}
	if approvals == nil {
		return nil, errors.New("governance service requires approval store")
	}
	s := &Service{
		catalog:    catalog,
		approvals:  approvals,
		ttl:        defaultApprovalTTL,
		logger:     logging.OrNop(logger),
		now:        func() time.Time { return time.Now().UTC() },
		validators: make(map[string]Validator),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// RegisterValidator binds a validation rule id to its implementation.
func (s *Service) RegisterValidator(ruleID string, v Validator) {
	if ruleID == "" || v == nil {
		return
	}
	s.mu.Lock()
	s.validators[ruleID] = v
	s.mu.Unlock()
}

// RecordApproval stamps and stores an approval, defaulting the expiry to the
// configured TTL, and appends an audit entry.
func (s *Service) RecordApproval(ctx context.Context, a Approval) (Approval, error) {
	if a.Role == "" || a.Approver == "" {
		return Approval{}, errors.New("record approval: role and approver required")
	}
	now := s.now()
	a.GivenAt = now
	if a.ExpiresAt == nil {
		expires := now.Add(s.ttl)
		a.ExpiresAt = &expires
	}
	if err := s.approvals.Record(ctx, a); err != nil {
		return Approval{}, fmt.Errorf("record approval: %w", err)
	}
	s.appendAudit(AuditEntry{
		Kind:     "approval",
		Actor:    a.Approver,
		Workflow: a.Workflow,
		Phase:    a.Phase,
		Note:     fmt.Sprintf("approval for role %s", a.Role),
	})
	return a, nil
}

// CheckPhaseGate evaluates the named gate. The evaluation is pure for a fixed
// context and approval ledger: repeated calls return equivalent results and
// append equivalent audit entries.
func (s *Service) CheckPhaseGate(ctx context.Context, workflow, phase string, gc GateContext, actor string) (*GateResult, error) {
	gate, ok := s.catalog.Gate(phase)
	if !ok {
		return nil, fmt.Errorf("check phase gate: unknown phase %q", phase)
	}
	now := s.now()
	result := &GateResult{Workflow: workflow, Phase: phase, Actor: actor, Passed: true, CheckedAt: now}

	for _, doc := range gate.RequiredDocuments {
		check := Check{Kind: "document", Name: doc.Name}
		switch {
		case gc.hasDocument(doc.Name):
			check.Status = CheckPassed
		case doc.Required:
			check.Status = CheckFailed
			check.Detail = "Missing required document: " + doc.Name
			result.Errors = append(result.Errors, check.Detail)
			result.Passed = false
		default:
			check.Status = CheckSkipped
		}
		result.Checks = append(result.Checks, check)
	}

	for _, approval := range gate.RequiredApprovals {
		check := Check{Kind: "approval", Name: approval.Role}
		active, err := s.approvals.Active(ctx, gc.Team, workflow, phase, approval.Role, now)
		if err != nil {
			return nil, fmt.Errorf("check phase gate: approvals for %s: %w", approval.Role, err)
		}
		switch {
		case len(active) > 0:
			check.Status = CheckPassed
			check.Detail = "approved by " + active[0].Approver
		case approval.Required:
			check.Status = CheckPending
			check.Detail = "Missing approval from: " + approval.Role
			result.Errors = append(result.Errors, check.Detail)
			result.Passed = false
		default:
			check.Status = CheckSkipped
		}
		result.Checks = append(result.Checks, check)
	}

	s.mu.Lock()
	validators := make(map[string]Validator, len(s.validators))
	for id, v := range s.validators {
		validators[id] = v
	}
	s.mu.Unlock()
	for _, rule := range gate.ValidationRules {
		check := Check{Kind: "rule", Name: rule.ID}
		validator, registered := validators[rule.ID]
		switch {
		case !registered:
			check.Status = CheckSkipped
			check.Detail = "no validator registered"
			result.Warnings = append(result.Warnings, fmt.Sprintf("validation rule %s skipped: no validator registered", rule.ID))
		default:
			if err := validator(ctx, gc, rule); err != nil {
				check.Status = CheckFailed
				check.Detail = rule.Description
				result.Errors = append(result.Errors, rule.Description)
				result.Passed = false
			} else {
				check.Status = CheckPassed
			}
		}
		result.Checks = append(result.Checks, check)
	}

	s.appendAudit(AuditEntry{
		Kind:     "gate_check",
		Actor:    actor,
		Workflow: workflow,
		Phase:    phase,
		Result:   result,
	})
	return result, nil
}

// AuditTrail returns the recorded governance events, oldest first.
func (s *Service) AuditTrail() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEntry(nil), s.audit...)
}

func (s *Service) appendAudit(entry AuditEntry) {
	entry.ID = uuid.NewString()
	entry.At = s.now()
	s.mu.Lock()
	s.audit = append(s.audit, entry)
	s.mu.Unlock()
}
