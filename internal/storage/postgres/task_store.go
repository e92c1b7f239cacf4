package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"squad/internal/task"
)

const (
	taskTable    = "squad_tasks"
	taskDepTable = "squad_task_deps"
)

// taskColumns is the projection every task query shares; scanTask must stay
// in sync with it.
const taskColumns = `id, team, title, body, status, priority, required_role,
	assignee, assignee_role, creator, created_at, claimed_at, completed_at,
	parent, workflow, depends_on, result, error, metadata, tags`

// TaskStore is the pgx-backed task.Store. Claims and transitions re-check the
// row inside the statement, so concurrent workers admit at most one winner.
type TaskStore struct {
	pool *pgxpool.Pool
}

var _ task.Store = (*TaskStore)(nil)

// NewTaskStore wires a task store onto an existing pool.
func NewTaskStore(pool *pgxpool.Pool) (*TaskStore, error) {
	if pool == nil {
		return nil, errors.New("task store requires a pool")
	}
	return &TaskStore{pool: pool}, nil
}

func ensureTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool, []string{
		`CREATE TABLE IF NOT EXISTS ` + taskTable + ` (
			id TEXT PRIMARY KEY,
			team TEXT NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			required_role TEXT NOT NULL DEFAULT '',
			assignee TEXT NOT NULL DEFAULT '',
			assignee_role TEXT NOT NULL DEFAULT '',
			creator TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			claimed_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			parent TEXT NOT NULL DEFAULT '',
			workflow TEXT NOT NULL DEFAULT '',
			depends_on JSONB,
			result JSONB,
			error TEXT NOT NULL DEFAULT '',
			metadata JSONB,
			tags JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS ` + taskDepTable + ` (
			task_id TEXT NOT NULL REFERENCES ` + taskTable + `(id) ON DELETE CASCADE,
			depends_on TEXT NOT NULL,
			PRIMARY KEY (task_id, depends_on)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + taskTable + `_team_status ON ` + taskTable + ` (team, status)`,
		`CREATE INDEX IF NOT EXISTS idx_` + taskTable + `_workflow ON ` + taskTable + ` (workflow) WHERE workflow <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_` + taskTable + `_assignee ON ` + taskTable + ` (team, assignee) WHERE assignee <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_` + taskDepTable + `_reverse ON ` + taskDepTable + ` (depends_on)`,
	})
}

// EnsureSchema creates the task tables and indexes.
func (s *TaskStore) EnsureSchema(ctx context.Context) error {
	return ensureTaskSchema(ctx, s.pool)
}

func (s *TaskStore) Create(ctx context.Context, t *task.Task) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create task: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort on defer

	if err := insertTask(ctx, tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create task: %w", err)
	}
	return nil
}

// CreateAll inserts the batch under one transaction; a failure on any row
// rolls back every row.
func (s *TaskStore) CreateAll(ctx context.Context, tasks []*task.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create tasks: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort on defer

	for _, t := range tasks {
		if err := insertTask(ctx, tx, t); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create tasks: %w", err)
	}
	return nil
}

func insertTask(ctx context.Context, tx pgx.Tx, t *task.Task) error {
	dependsOn, err := marshalJSON(t.DependsOn)
	if err != nil {
		return err
	}
	result, err := marshalJSON(t.Result)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(t.Metadata)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(t.Tags)
	if err != nil {
		return err
	}

	// Idempotent under retry: re-creating the same id overwrites nothing.
	cmd, err := tx.Exec(ctx, `
		INSERT INTO `+taskTable+` (`+taskColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.Team, t.Title, t.Body, string(t.Status), t.Priority, t.RequiredRole,
		t.Assignee, t.AssigneeRole, t.Creator, t.CreatedAt, t.ClaimedAt, t.CompletedAt,
		t.Parent, t.Workflow, dependsOn, result, t.Error, metadata, tags)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if cmd.RowsAffected() > 0 {
		for _, dep := range t.DependsOn {
			if _, err := tx.Exec(ctx, `
				INSERT INTO `+taskDepTable+` (task_id, depends_on)
				VALUES ($1, $2) ON CONFLICT DO NOTHING`, t.ID, dep); err != nil {
				return fmt.Errorf("insert task dependency: %w", err)
			}
		}
	}
	return nil
}

func (s *TaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM `+taskTable+` WHERE id = $1`, id)
	return scanTask(row)
}

func (s *TaskStore) TryClaim(ctx context.Context, id, worker string, now time.Time) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE `+taskTable+` SET status = $4, assignee = $2, claimed_at = $3
		WHERE id = (
			SELECT id FROM `+taskTable+`
			WHERE id = $1 AND status = $5 AND assignee = ''
			  AND NOT EXISTS (
				SELECT 1 FROM `+taskDepTable+` d
				LEFT JOIN `+taskTable+` dep ON dep.id = d.depends_on
				WHERE d.task_id = $1 AND (dep.status IS NULL OR dep.status <> $6))
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		id, worker, now,
		string(task.StatusRunning), string(task.StatusReady), string(task.StatusSuccess))
	claimed, err := scanTask(row)
	if errors.Is(err, task.ErrNotFound) {
		// Lost claims and missing tasks both come back empty; only the
		// latter is an error.
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return claimed, nil
}

func (s *TaskStore) Complete(ctx context.Context, id string, result map[string]any, now time.Time) (*task.Task, error) {
	payload, err := marshalJSON(result)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		UPDATE `+taskTable+` SET status = $4, result = $2, completed_at = $3
		WHERE id = $1 AND status IN ($5, $6)
		RETURNING `+taskColumns,
		id, payload, now,
		string(task.StatusSuccess), string(task.StatusRunning), string(task.StatusAwaitingReview))
	return s.finishResult(ctx, id, row)
}

func (s *TaskStore) Fail(ctx context.Context, id string, errText string, now time.Time) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE `+taskTable+` SET status = $4, error = $2, completed_at = $3
		WHERE id = $1 AND status IN ($5, $6)
		RETURNING `+taskColumns,
		id, errText, now,
		string(task.StatusFailed), string(task.StatusRunning), string(task.StatusAwaitingReview))
	return s.finishResult(ctx, id, row)
}

// finishResult maps an empty terminal UPDATE onto the port's error taxonomy:
// missing rows are ErrNotFound, rows in the wrong state ErrInvalidTransition.
func (s *TaskStore) finishResult(ctx context.Context, id string, row pgx.Row) (*task.Task, error) {
	updated, err := scanTask(row)
	if errors.Is(err, task.ErrNotFound) {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, task.ErrInvalidTransition
	}
	if err != nil {
		return nil, fmt.Errorf("finish task: %w", err)
	}
	return updated, nil
}

func (s *TaskStore) SetStatus(ctx context.Context, id string, status task.Status) (*task.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin set status: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // best-effort on defer

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM `+taskTable+` WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock task: %w", err)
	}
	if !task.CanTransition(task.Status(current), status) {
		return nil, task.ErrInvalidTransition
	}
	row := tx.QueryRow(ctx, `
		UPDATE `+taskTable+` SET status = $2 WHERE id = $1 RETURNING `+taskColumns,
		id, string(status))
	updated, err := scanTask(row)
	if err != nil {
		return nil, fmt.Errorf("set task status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit set status: %w", err)
	}
	return updated, nil
}

func (s *TaskStore) ListReady(ctx context.Context, filter task.ReadyFilter) ([]*task.Task, error) {
	query := `
		SELECT ` + taskColumns + ` FROM ` + taskTable + `
		WHERE team = $1 AND status = $2 AND assignee = ''
		  AND (required_role = '' OR required_role = $3)
		ORDER BY priority DESC, created_at ASC`
	args := []any{filter.Team, string(task.StatusReady), filter.Role}
	if filter.Role == "" {
		// Role-gated tasks are invisible to roleless pollers.
		query = `
		SELECT ` + taskColumns + ` FROM ` + taskTable + `
		WHERE team = $1 AND status = $2 AND assignee = '' AND required_role = ''
		ORDER BY priority DESC, created_at ASC`
		args = args[:2]
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ready tasks: %w", err)
	}
	return scanTasks(rows)
}

func (s *TaskStore) Dependents(ctx context.Context, id string) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM `+taskTable+`
		WHERE id IN (SELECT task_id FROM `+taskDepTable+` WHERE depends_on = $1)
		ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list dependents: %w", err)
	}
	return scanTasks(rows)
}

func (s *TaskStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM `+taskTable+` WHERE workflow = $1 ORDER BY id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow tasks: %w", err)
	}
	return scanTasks(rows)
}

func (s *TaskStore) CancelPending(ctx context.Context, workflowID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE `+taskTable+` SET status = $2
		WHERE workflow = $1 AND status IN ($3, $4, $5)
		RETURNING id`,
		workflowID, string(task.StatusCancelled),
		string(task.StatusPending), string(task.StatusReady), string(task.StatusBlocked))
	if err != nil {
		return nil, fmt.Errorf("cancel pending tasks: %w", err)
	}
	defer rows.Close()
	var cancelled []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan cancelled id: %w", err)
		}
		cancelled = append(cancelled, id)
	}
	return cancelled, rows.Err()
}

func (s *TaskStore) CountByAssignee(ctx context.Context, team, worker string) (map[task.Status]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM `+taskTable+`
		WHERE team = $1 AND assignee = $2 GROUP BY status`, team, worker)
	if err != nil {
		return nil, fmt.Errorf("count tasks by assignee: %w", err)
	}
	defer rows.Close()
	counts := make(map[task.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[task.Status(status)] = n
	}
	return counts, rows.Err()
}

func (s *TaskStore) DeleteByTeam(ctx context.Context, team string) (int, error) {
	cmd, err := s.pool.Exec(ctx, `DELETE FROM `+taskTable+` WHERE team = $1`, team)
	if err != nil {
		return 0, fmt.Errorf("delete team tasks: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t                            task.Task
		status                       string
		dependsOn, result, meta, tag []byte
	)
	err := row.Scan(&t.ID, &t.Team, &t.Title, &t.Body, &status, &t.Priority, &t.RequiredRole,
		&t.Assignee, &t.AssigneeRole, &t.Creator, &t.CreatedAt, &t.ClaimedAt, &t.CompletedAt,
		&t.Parent, &t.Workflow, &dependsOn, &result, &t.Error, &meta, &tag)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Status = task.Status(status)
	if err := unmarshalJSON(dependsOn, &t.DependsOn); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(result, &t.Result); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &t.Metadata); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(tag, &t.Tags); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTasks(rows pgx.Rows) ([]*task.Task, error) {
	defer rows.Close()
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
