package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"squad/internal/team"
)

const (
	messageTable   = "squad_messages"
	workerTable    = "squad_workers"
	knowledgeTable = "squad_knowledge"
	artifactTable  = "squad_artifacts"
	decisionTable  = "squad_decisions"
)

// TeamStore is the pgx-backed team.Store.
type TeamStore struct {
	pool *pgxpool.Pool
}

var _ team.Store = (*TeamStore)(nil)

// NewTeamStore wires a team store onto an existing pool.
func NewTeamStore(pool *pgxpool.Pool) (*TeamStore, error) {
	if pool == nil {
		return nil, errors.New("team store requires a pool")
	}
	return &TeamStore{pool: pool}, nil
}

func ensureTeamSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool, []string{
		`CREATE TABLE IF NOT EXISTS ` + messageTable + ` (
			id TEXT PRIMARY KEY,
			team TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			body TEXT NOT NULL,
			metadata JSONB,
			ts TIMESTAMPTZ NOT NULL,
			thread TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS ` + workerTable + ` (
			team TEXT NOT NULL,
			worker_id TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			current_task TEXT NOT NULL DEFAULT '',
			completed INT NOT NULL DEFAULT 0,
			failed INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (team, worker_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + knowledgeTable + ` (
			team TEXT NOT NULL,
			key TEXT NOT NULL,
			id TEXT NOT NULL,
			value TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			version INT NOT NULL DEFAULT 1,
			updated_at TIMESTAMPTZ NOT NULL,
			tags JSONB,
			PRIMARY KEY (team, key)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + artifactTable + ` (
			id TEXT PRIMARY KEY,
			team TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			storage_backend TEXT NOT NULL DEFAULT '',
			storage_path TEXT NOT NULL DEFAULT '',
			size BIGINT NOT NULL DEFAULT 0,
			mime TEXT NOT NULL DEFAULT '',
			creator TEXT NOT NULL DEFAULT '',
			task TEXT NOT NULL DEFAULT '',
			tags JSONB,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + decisionTable + ` (
			id TEXT PRIMARY KEY,
			team TEXT NOT NULL,
			statement TEXT NOT NULL,
			rationale TEXT NOT NULL DEFAULT '',
			proposer TEXT NOT NULL DEFAULT '',
			votes JSONB NOT NULL DEFAULT '{}'::jsonb,
			status TEXT NOT NULL,
			task TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + messageTable + `_team_ts ON ` + messageTable + ` (team, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_` + artifactTable + `_team ON ` + artifactTable + ` (team, task)`,
		`CREATE INDEX IF NOT EXISTS idx_` + decisionTable + `_team ON ` + decisionTable + ` (team)`,
	})
}

// EnsureSchema creates the team record tables and indexes.
func (s *TeamStore) EnsureSchema(ctx context.Context) error {
	return ensureTeamSchema(ctx, s.pool)
}

func (s *TeamStore) InsertMessage(ctx context.Context, m *team.Message) error {
	metadata, err := marshalJSON(m.Metadata)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+messageTable+` (id, team, sender, recipient, kind, body, metadata, ts, thread)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		m.ID, m.Team, m.From, m.To, string(m.Kind), m.Body, metadata, m.Timestamp, m.Thread)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *TeamStore) RecentMessages(ctx context.Context, teamID string, limit int) ([]*team.Message, error) {
	query := `
		SELECT id, team, sender, recipient, kind, body, metadata, ts, thread
		FROM ` + messageTable + ` WHERE team = $1 ORDER BY ts DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := s.pool.Query(ctx, query, teamID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	var messages []*team.Message
	for rows.Next() {
		var (
			m        team.Message
			kind     string
			metadata []byte
		)
		if err := rows.Scan(&m.ID, &m.Team, &m.From, &m.To, &kind, &m.Body, &metadata, &m.Timestamp, &m.Thread); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Kind = team.MessageKind(kind)
		if err := unmarshalJSON(metadata, &m.Metadata); err != nil {
			return nil, err
		}
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func (s *TeamStore) UpsertWorker(ctx context.Context, w *team.Worker) error {
	// Counters survive snapshot refreshes; only IncrementWorkerCounter moves
	// them.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+workerTable+` (team, worker_id, role, status, current_task, completed, failed, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (team, worker_id) DO UPDATE SET
			role = EXCLUDED.role,
			status = EXCLUDED.status,
			current_task = EXCLUDED.current_task,
			updated_at = EXCLUDED.updated_at`,
		w.Team, w.WorkerID, w.Role, string(w.Status), w.CurrentTask, w.Completed, w.Failed, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

func (s *TeamStore) GetWorker(ctx context.Context, teamID, workerID string) (*team.Worker, error) {
	var (
		w      team.Worker
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT team, worker_id, role, status, current_task, completed, failed, updated_at
		FROM `+workerTable+` WHERE team = $1 AND worker_id = $2`, teamID, workerID).
		Scan(&w.Team, &w.WorkerID, &w.Role, &status, &w.CurrentTask, &w.Completed, &w.Failed, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, team.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worker: %w", err)
	}
	w.Status = team.WorkerStatus(status)
	return &w, nil
}

func (s *TeamStore) ListWorkers(ctx context.Context, teamID string) ([]*team.Worker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT team, worker_id, role, status, current_task, completed, failed, updated_at
		FROM `+workerTable+` WHERE team = $1 ORDER BY worker_id`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()
	var workers []*team.Worker
	for rows.Next() {
		var (
			w      team.Worker
			status string
		)
		if err := rows.Scan(&w.Team, &w.WorkerID, &w.Role, &status, &w.CurrentTask, &w.Completed, &w.Failed, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		w.Status = team.WorkerStatus(status)
		workers = append(workers, &w)
	}
	return workers, rows.Err()
}

func (s *TeamStore) IncrementWorkerCounter(ctx context.Context, teamID, workerID string, failed bool) error {
	column := "completed"
	if failed {
		column = "failed"
	}
	cmd, err := s.pool.Exec(ctx, `
		UPDATE `+workerTable+` SET `+column+` = `+column+` + 1, updated_at = now()
		WHERE team = $1 AND worker_id = $2`, teamID, workerID)
	if err != nil {
		return fmt.Errorf("increment worker counter: %w", err)
	}
	if cmd.RowsAffected() == 0 {
		return team.ErrNotFound
	}
	return nil
}

func (s *TeamStore) UpsertKnowledge(ctx context.Context, item *team.KnowledgeItem) (*team.KnowledgeItem, error) {
	tags, err := marshalJSON(item.Tags)
	if err != nil {
		return nil, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO `+knowledgeTable+` (team, key, id, value, category, source, version, updated_at, tags)
		VALUES ($1,$2,$3,$4,$5,$6,1,$7,$8)
		ON CONFLICT (team, key) DO UPDATE SET
			value = EXCLUDED.value,
			category = EXCLUDED.category,
			source = EXCLUDED.source,
			version = `+knowledgeTable+`.version + 1,
			updated_at = EXCLUDED.updated_at,
			tags = EXCLUDED.tags
		RETURNING team, key, id, value, category, source, version, updated_at, tags`,
		item.Team, item.Key, item.ID, item.Value, item.Category, item.Source, item.UpdatedAt, tags)
	return scanKnowledge(row)
}

func (s *TeamStore) GetKnowledge(ctx context.Context, teamID, key string) (*team.KnowledgeItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT team, key, id, value, category, source, version, updated_at, tags
		FROM `+knowledgeTable+` WHERE team = $1 AND key = $2`, teamID, key)
	return scanKnowledge(row)
}

func (s *TeamStore) ListKnowledge(ctx context.Context, teamID, category string) ([]*team.KnowledgeItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT team, key, id, value, category, source, version, updated_at, tags
		FROM `+knowledgeTable+`
		WHERE team = $1 AND ($2 = '' OR category = $2) ORDER BY key`, teamID, category)
	if err != nil {
		return nil, fmt.Errorf("list knowledge: %w", err)
	}
	defer rows.Close()
	var items []*team.KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanKnowledge(row pgx.Row) (*team.KnowledgeItem, error) {
	var (
		item team.KnowledgeItem
		tags []byte
	)
	err := row.Scan(&item.Team, &item.Key, &item.ID, &item.Value, &item.Category,
		&item.Source, &item.Version, &item.UpdatedAt, &tags)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, team.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan knowledge: %w", err)
	}
	if err := unmarshalJSON(tags, &item.Tags); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *TeamStore) InsertArtifact(ctx context.Context, a *team.Artifact) error {
	tags, err := marshalJSON(a.Tags)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+artifactTable+` (id, team, name, type, storage_backend, storage_path, size, mime, creator, task, tags, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.Team, a.Name, a.Type, a.StorageBackend, a.StoragePath, a.Size, a.Mime, a.Creator, a.Task, tags, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *TeamStore) ListArtifacts(ctx context.Context, teamID, taskID string) ([]*team.Artifact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, team, name, type, storage_backend, storage_path, size, mime, creator, task, tags, created_at
		FROM `+artifactTable+`
		WHERE team = $1 AND ($2 = '' OR task = $2) ORDER BY created_at`, teamID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()
	var artifacts []*team.Artifact
	for rows.Next() {
		var (
			a    team.Artifact
			tags []byte
		)
		if err := rows.Scan(&a.ID, &a.Team, &a.Name, &a.Type, &a.StorageBackend, &a.StoragePath,
			&a.Size, &a.Mime, &a.Creator, &a.Task, &tags, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		if err := unmarshalJSON(tags, &a.Tags); err != nil {
			return nil, err
		}
		artifacts = append(artifacts, &a)
	}
	return artifacts, rows.Err()
}

func (s *TeamStore) InsertDecision(ctx context.Context, d *team.Decision) error {
	votes := d.Votes
	if votes == nil {
		votes = make(map[string]team.Vote)
	}
	payload, err := marshalJSON(votes)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+decisionTable+` (id, team, statement, rationale, proposer, votes, status, task, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.Team, d.Statement, d.Rationale, d.Proposer, payload, string(d.Status), d.Task, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

func (s *TeamStore) GetDecision(ctx context.Context, id string) (*team.Decision, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, team, statement, rationale, proposer, votes, status, task, created_at
		FROM `+decisionTable+` WHERE id = $1`, id)
	return scanDecision(row)
}

func (s *TeamStore) RecordVote(ctx context.Context, id, worker string, vote team.Vote) (*team.Decision, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE `+decisionTable+`
		SET votes = votes || jsonb_build_object($2::text, $3::text)
		WHERE id = $1
		RETURNING id, team, statement, rationale, proposer, votes, status, task, created_at`,
		id, worker, string(vote))
	return scanDecision(row)
}

func (s *TeamStore) SetDecisionStatus(ctx context.Context, id string, status team.DecisionStatus) (*team.Decision, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE `+decisionTable+` SET status = $2 WHERE id = $1
		RETURNING id, team, statement, rationale, proposer, votes, status, task, created_at`,
		id, string(status))
	return scanDecision(row)
}

func scanDecision(row pgx.Row) (*team.Decision, error) {
	var (
		d      team.Decision
		votes  []byte
		status string
	)
	err := row.Scan(&d.ID, &d.Team, &d.Statement, &d.Rationale, &d.Proposer, &votes, &status, &d.Task, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, team.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan decision: %w", err)
	}
	d.Status = team.DecisionStatus(status)
	d.Votes = make(map[string]team.Vote)
	if err := unmarshalJSON(votes, &d.Votes); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *TeamStore) DeleteTeam(ctx context.Context, teamID string) (int, error) {
	deleted := 0
	for _, table := range []string{messageTable, workerTable, knowledgeTable, artifactTable, decisionTable} {
		cmd, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE team = $1`, teamID)
		if err != nil {
			return deleted, fmt.Errorf("delete team records from %s: %w", table, err)
		}
		deleted += int(cmd.RowsAffected())
	}
	return deleted, nil
}
