package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"squad/internal/workflow"
)

const workflowTable = "squad_workflows"

const workflowColumns = `id, team, name, description, graph, status, task_ids,
	progress, error, created_at, started_at, completed_at`

// WorkflowStore is the pgx-backed workflow.Store. The graph and the
// node-to-task map live in JSONB; the engine treats them as one document.
type WorkflowStore struct {
	pool *pgxpool.Pool
}

var _ workflow.Store = (*WorkflowStore)(nil)

// NewWorkflowStore wires a workflow store onto an existing pool.
func NewWorkflowStore(pool *pgxpool.Pool) (*WorkflowStore, error) {
	if pool == nil {
		return nil, errors.New("workflow store requires a pool")
	}
	return &WorkflowStore{pool: pool}, nil
}

func ensureWorkflowSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool, []string{
		`CREATE TABLE IF NOT EXISTS ` + workflowTable + ` (
			id TEXT PRIMARY KEY,
			team TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			graph JSONB,
			status TEXT NOT NULL,
			task_ids JSONB,
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + workflowTable + `_team ON ` + workflowTable + ` (team, created_at DESC)`,
	})
}

// EnsureSchema creates the workflow table and indexes.
func (s *WorkflowStore) EnsureSchema(ctx context.Context) error {
	return ensureWorkflowSchema(ctx, s.pool)
}

func (s *WorkflowStore) Create(ctx context.Context, d *workflow.Definition) error {
	graph, taskIDs, err := workflowPayload(d)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+workflowTable+` (`+workflowColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		d.ID, d.Team, d.Name, d.Description, graph, string(d.Status), taskIDs,
		d.Progress, d.Error, d.CreatedAt, d.StartedAt, d.CompletedAt)
	if err != nil {
		return fmt.Errorf("insert workflow: %w", err)
	}
	return nil
}

func (s *WorkflowStore) Get(ctx context.Context, id string) (*workflow.Definition, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+workflowColumns+` FROM `+workflowTable+` WHERE id = $1`, id)
	return scanWorkflow(row)
}

func (s *WorkflowStore) Update(ctx context.Context, d *workflow.Definition) error {
	graph, taskIDs, err := workflowPayload(d)
	if err != nil {
		return err
	}
	cmd, err := s.pool.Exec(ctx, `
		UPDATE `+workflowTable+` SET
			graph = $2, status = $3, task_ids = $4, progress = $5, error = $6,
			started_at = $7, completed_at = $8
		WHERE id = $1`,
		d.ID, graph, string(d.Status), taskIDs, d.Progress, d.Error, d.StartedAt, d.CompletedAt)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return workflow.ErrNotFound
	}
	return nil
}

func (s *WorkflowStore) ListByTeam(ctx context.Context, teamID string) ([]*workflow.Definition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+workflowColumns+` FROM `+workflowTable+`
		WHERE team = $1 ORDER BY created_at DESC, id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()
	var definitions []*workflow.Definition
	for rows.Next() {
		d, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		definitions = append(definitions, d)
	}
	return definitions, rows.Err()
}

func (s *WorkflowStore) DeleteByTeam(ctx context.Context, teamID string) (int, error) {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM `+workflowTable+` WHERE team = $1`, teamID)
	if err != nil {
		return 0, fmt.Errorf("delete team workflows: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func workflowPayload(d *workflow.Definition) (graph, taskIDs any, err error) {
	if graph, err = marshalJSON(d.Graph); err != nil {
		return nil, nil, err
	}
	if taskIDs, err = marshalJSON(d.TaskIDs); err != nil {
		return nil, nil, err
	}
	return graph, taskIDs, nil
}

func scanWorkflow(row pgx.Row) (*workflow.Definition, error) {
	var (
		d              workflow.Definition
		status         string
		graph, taskIDs []byte
	)
	err := row.Scan(&d.ID, &d.Team, &d.Name, &d.Description, &graph, &status, &taskIDs,
		&d.Progress, &d.Error, &d.CreatedAt, &d.StartedAt, &d.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, workflow.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	d.Status = workflow.Status(status)
	if err := unmarshalJSON(graph, &d.Graph); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(taskIDs, &d.TaskIDs); err != nil {
		return nil, err
	}
	return &d, nil
}
