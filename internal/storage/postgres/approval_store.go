package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"squad/internal/governance"
)

const approvalTable = "squad_approvals"

// ApprovalStore is the pgx-backed governance approval ledger. Approvals are
// append-only; expiry is evaluated at read time.
type ApprovalStore struct {
	pool *pgxpool.Pool
}

var _ governance.ApprovalStore = (*ApprovalStore)(nil)

// NewApprovalStore wires an approval store onto an existing pool.
func NewApprovalStore(pool *pgxpool.Pool) (*ApprovalStore, error) {
	if pool == nil {
		return nil, errors.New("approval store requires a pool")
	}
	return &ApprovalStore{pool: pool}, nil
}

func ensureApprovalSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool, []string{
		`CREATE TABLE IF NOT EXISTS ` + approvalTable + ` (
			team TEXT NOT NULL,
			workflow TEXT NOT NULL,
			phase TEXT NOT NULL,
			role TEXT NOT NULL,
			approver TEXT NOT NULL,
			given_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ,
			notes TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + approvalTable + `_gate ON ` + approvalTable + ` (team, workflow, phase, role)`,
	})
}

// EnsureSchema creates the approval table and index.
func (s *ApprovalStore) EnsureSchema(ctx context.Context) error {
	return ensureApprovalSchema(ctx, s.pool)
}

func (s *ApprovalStore) Record(ctx context.Context, a governance.Approval) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+approvalTable+` (team, workflow, phase, role, approver, given_at, expires_at, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.Team, a.Workflow, a.Phase, a.Role, a.Approver, a.GivenAt, a.ExpiresAt, a.Notes)
	if err != nil {
		return fmt.Errorf("record approval: %w", err)
	}
	return nil
}

func (s *ApprovalStore) Active(ctx context.Context, team, workflow, phase, role string, at time.Time) ([]governance.Approval, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT team, workflow, phase, role, approver, given_at, expires_at, notes
		FROM `+approvalTable+`
		WHERE team = $1 AND workflow = $2 AND phase = $3 AND role = $4
		  AND (expires_at IS NULL OR expires_at > $5)
		ORDER BY given_at`, team, workflow, phase, role, at)
	if err != nil {
		return nil, fmt.Errorf("list active approvals: %w", err)
	}
	defer rows.Close()
	var approvals []governance.Approval
	for rows.Next() {
		var a governance.Approval
		if err := rows.Scan(&a.Team, &a.Workflow, &a.Phase, &a.Role, &a.Approver,
			&a.GivenAt, &a.ExpiresAt, &a.Notes); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		approvals = append(approvals, a)
	}
	return approvals, rows.Err()
}
