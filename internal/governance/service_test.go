package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogYAML = `
gates:
  - phase: design_review
    display_name: Design Review
    required_documents:
      - {type: doc, name: architecture, required: true}
    required_approvals:
      - {role: architect, required: true}
  - phase: deploy
    display_name: Deployment
    validation_rules:
      - {id: coverage, description: "test coverage below threshold", threshold: 0.8}
      - {id: load_test, description: "load test missing"}
`

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	catalog, err := ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	service, err := NewService(catalog, NewMemApprovals(), nil, opts...)
	require.NoError(t, err)
	return service
}

func TestGateFailsThenPassesWithEvidence(t *testing.T) {
	ctx := context.Background()
	service := newService(t)

	first, err := service.CheckPhaseGate(ctx, "W1", "design_review", GateContext{Team: "T1"}, "admin")
	require.NoError(t, err)
	assert.False(t, first.Passed)
	assert.Contains(t, first.Errors, "Missing required document: architecture")
	assert.Contains(t, first.Errors, "Missing approval from: architect")

	_, err = service.RecordApproval(ctx, Approval{
		Team: "T1", Workflow: "W1", Phase: "design_review", Role: "architect", Approver: "dana",
	})
	require.NoError(t, err)

	second, err := service.CheckPhaseGate(ctx, "W1", "design_review",
		GateContext{Team: "T1", Documents: []string{"architecture"}}, "admin")
	require.NoError(t, err)
	assert.True(t, second.Passed)
	assert.Empty(t, second.Errors)

	trail := service.AuditTrail()
	gateChecks := 0
	for _, entry := range trail {
		if entry.Kind == "gate_check" {
			gateChecks++
		}
	}
	assert.Equal(t, 2, gateChecks)
}

func TestExpiredApprovalsAreIgnored(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	service := newService(t, WithClock(func() time.Time { return clock }), WithApprovalTTL(72*time.Hour))

	_, err := service.RecordApproval(ctx, Approval{
		Team: "T1", Workflow: "W1", Phase: "design_review", Role: "architect", Approver: "dana",
	})
	require.NoError(t, err)

	gc := GateContext{Team: "T1", Documents: []string{"architecture"}}
	result, err := service.CheckPhaseGate(ctx, "W1", "design_review", gc, "admin")
	require.NoError(t, err)
	assert.True(t, result.Passed)

	clock = clock.Add(73 * time.Hour)
	result, err = service.CheckPhaseGate(ctx, "W1", "design_review", gc, "admin")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Errors, "Missing approval from: architect")
}

func TestValidationRulesAndMissingValidators(t *testing.T) {
	ctx := context.Background()
	service := newService(t)
	service.RegisterValidator("coverage", func(_ context.Context, gc GateContext, rule ValidationRule) error {
		coverage, _ := gc.Values["coverage"].(float64)
		if rule.Threshold != nil && coverage < *rule.Threshold {
			return errors.New("below threshold")
		}
		return nil
	})

	low := GateContext{Team: "T1", Values: map[string]any{"coverage": 0.5}}
	result, err := service.CheckPhaseGate(ctx, "W1", "deploy", low, "admin")
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Contains(t, result.Errors, "test coverage below threshold")
	require.Len(t, result.Warnings, 1, "unregistered load_test rule is skipped with a warning")

	high := GateContext{Team: "T1", Values: map[string]any{"coverage": 0.9}}
	result, err = service.CheckPhaseGate(ctx, "W1", "deploy", high, "admin")
	require.NoError(t, err)
	assert.True(t, result.Passed, "skipped rules do not fail the gate")
}

func TestCheckIsIdempotentForFixedContext(t *testing.T) {
	ctx := context.Background()
	service := newService(t)
	gc := GateContext{Team: "T1"}

	first, err := service.CheckPhaseGate(ctx, "W1", "design_review", gc, "admin")
	require.NoError(t, err)
	second, err := service.CheckPhaseGate(ctx, "W1", "design_review", gc, "admin")
	require.NoError(t, err)
	assert.Equal(t, first.Passed, second.Passed)
	assert.Equal(t, first.Errors, second.Errors)
	assert.Equal(t, first.Checks, second.Checks)
	assert.Len(t, service.AuditTrail(), 2)
}

func TestUnknownPhaseErrors(t *testing.T) {
	service := newService(t)
	_, err := service.CheckPhaseGate(context.Background(), "W1", "nonexistent", GateContext{}, "admin")
	require.Error(t, err)
}

func TestCatalogRejectsDuplicatePhases(t *testing.T) {
	_, err := ParseCatalog([]byte("gates:\n  - phase: a\n  - phase: a\n"))
	require.Error(t, err)
}
