package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"squad/internal/history"
)

const historyTable = "squad_executions"

const (
	defaultEmbeddingDim = 1536
	defaultIndexLists   = 100
)

// HistoryStore is the pgx-backed history.Store. Embeddings live in a pgvector
// column with an IVFFlat cosine index; the full record rides along as JSONB
// and the filterable scalars are extracted into their own columns.
type HistoryStore struct {
	pool  *pgxpool.Pool
	dim   int
	lists int
}

var _ history.Store = (*HistoryStore)(nil)

// HistoryOption configures a HistoryStore.
type HistoryOption func(*HistoryStore)

// WithEmbeddingDim sets the vector column width. Must match the embedding
// model; the default fits text-embedding-3-small.
func WithEmbeddingDim(dim int) HistoryOption {
	return func(s *HistoryStore) {
		if dim > 0 {
			s.dim = dim
		}
	}
}

// WithIndexLists sets the IVFFlat list count. More lists trade recall for
// speed on large tables; pgvector suggests rows/1000.
func WithIndexLists(lists int) HistoryOption {
	return func(s *HistoryStore) {
		if lists > 0 {
			s.lists = lists
		}
	}
}

// NewHistoryStore wires a history store onto an existing pool.
func NewHistoryStore(pool *pgxpool.Pool, opts ...HistoryOption) (*HistoryStore, error) {
	if pool == nil {
		return nil, errors.New("history store requires a pool")
	}
	s := &HistoryStore{pool: pool, dim: defaultEmbeddingDim, lists: defaultIndexLists}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func ensureHistorySchema(ctx context.Context, pool *pgxpool.Pool) error {
	return ensureHistorySchemaDim(ctx, pool, defaultEmbeddingDim, defaultIndexLists)
}

func ensureHistorySchemaDim(ctx context.Context, pool *pgxpool.Pool, dim, lists int) error {
	return execAll(ctx, pool, []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			persona TEXT NOT NULL,
			outcome TEXT NOT NULL,
			correlation TEXT NOT NULL DEFAULT '',
			user_id TEXT NOT NULL DEFAULT '',
			tags JSONB,
			started_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			error_text TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			record JSONB NOT NULL
		)`, historyTable, dim),
		`CREATE INDEX IF NOT EXISTS idx_` + historyTable + `_persona ON ` + historyTable + ` (persona, started_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_` + historyTable + `_outcome ON ` + historyTable + ` (outcome, started_at DESC)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`, historyTable, historyTable, lists),
	})
}

// EnsureSchema creates the execution table, the pgvector extension, and the
// similarity index.
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	return ensureHistorySchemaDim(ctx, s.pool, s.dim, s.lists)
}

func (s *HistoryStore) Upsert(ctx context.Context, r *history.Record) error {
	record, err := marshalJSON(r)
	if err != nil {
		return err
	}
	tags, err := marshalJSON(r.Context.Tags)
	if err != nil {
		return err
	}
	var embedding any
	if len(r.InputEmbedding) > 0 {
		embedding = vectorLiteral(r.InputEmbedding)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+historyTable+` (id, persona, outcome, correlation, user_id, tags, started_at, duration_ms, error_text, embedding, record)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::vector,$11)
		ON CONFLICT (id) DO UPDATE SET
			persona = EXCLUDED.persona,
			outcome = EXCLUDED.outcome,
			correlation = EXCLUDED.correlation,
			user_id = EXCLUDED.user_id,
			tags = EXCLUDED.tags,
			started_at = EXCLUDED.started_at,
			duration_ms = EXCLUDED.duration_ms,
			error_text = EXCLUDED.error_text,
			embedding = EXCLUDED.embedding,
			record = EXCLUDED.record`,
		r.ID, r.Persona, string(r.Outcome), r.Context.Correlation, r.Context.User,
		tags, r.StartedAt, r.DurationMS, r.Error, embedding, record)
	if err != nil {
		return fmt.Errorf("upsert execution record: %w", err)
	}
	return nil
}

func (s *HistoryStore) Get(ctx context.Context, id string) (*history.Record, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM `+historyTable+` WHERE id = $1`, id).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, history.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution record: %w", err)
	}
	var r history.Record
	if err := unmarshalJSON(record, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *HistoryStore) FindSimilar(ctx context.Context, q history.SimilarQuery) ([]history.SimilarResult, error) {
	if len(q.Embedding) == 0 {
		return nil, errors.New("similarity query requires an embedding")
	}
	k := q.K
	if k <= 0 {
		k = 5
	}
	query := `
		SELECT record, 1 - (embedding <=> $1::vector) AS score
		FROM ` + historyTable + `
		WHERE embedding IS NOT NULL`
	args := []any{vectorLiteral(q.Embedding)}
	if q.Persona != "" {
		args = append(args, q.Persona)
		query += fmt.Sprintf(` AND persona = $%d`, len(args))
	}
	if q.Outcome != "" {
		args = append(args, string(q.Outcome))
		query += fmt.Sprintf(` AND outcome = $%d`, len(args))
	}
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		query += fmt.Sprintf(` AND started_at >= $%d`, len(args))
	}
	if !q.Until.IsZero() {
		args = append(args, q.Until)
		query += fmt.Sprintf(` AND started_at <= $%d`, len(args))
	}
	if q.MinScore > 0 {
		args = append(args, q.MinScore)
		query += fmt.Sprintf(` AND 1 - (embedding <=> $1::vector) >= $%d`, len(args))
	}
	args = append(args, k)
	query += fmt.Sprintf(` ORDER BY score DESC, started_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()
	var results []history.SimilarResult
	for rows.Next() {
		var (
			record []byte
			score  float64
		)
		if err := rows.Scan(&record, &score); err != nil {
			return nil, fmt.Errorf("scan similarity hit: %w", err)
		}
		var r history.Record
		if err := unmarshalJSON(record, &r); err != nil {
			return nil, err
		}
		results = append(results, history.SimilarResult{Record: &r, Score: score})
	}
	return results, rows.Err()
}

func (s *HistoryStore) Query(ctx context.Context, f history.Filter) ([]*history.Record, error) {
	query := `SELECT record FROM ` + historyTable + ` WHERE TRUE`
	var args []any
	if f.Persona != "" {
		args = append(args, f.Persona)
		query += fmt.Sprintf(` AND persona = $%d`, len(args))
	}
	if f.Outcome != "" {
		args = append(args, string(f.Outcome))
		query += fmt.Sprintf(` AND outcome = $%d`, len(args))
	}
	if f.Correlation != "" {
		args = append(args, f.Correlation)
		query += fmt.Sprintf(` AND correlation = $%d`, len(args))
	}
	if f.User != "" {
		args = append(args, f.User)
		query += fmt.Sprintf(` AND user_id = $%d`, len(args))
	}
	if f.Tag != "" {
		args = append(args, f.Tag)
		query += fmt.Sprintf(` AND tags @> jsonb_build_array($%d::text)`, len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(` AND started_at >= $%d`, len(args))
	}
	if !f.Until.IsZero() {
		args = append(args, f.Until)
		query += fmt.Sprintf(` AND started_at <= $%d`, len(args))
	}
	if f.MinDuration > 0 {
		args = append(args, f.MinDuration.Milliseconds())
		query += fmt.Sprintf(` AND duration_ms >= $%d`, len(args))
	}
	if f.MaxDuration > 0 {
		args = append(args, f.MaxDuration.Milliseconds())
		query += fmt.Sprintf(` AND duration_ms <= $%d`, len(args))
	}
	if f.HasError {
		query += ` AND error_text <> ''`
	}
	query += ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query execution records: %w", err)
	}
	defer rows.Close()
	var records []*history.Record
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan execution record: %w", err)
		}
		var r history.Record
		if err := unmarshalJSON(record, &r); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

func (s *HistoryStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	cmd, err := s.pool.Exec(ctx, `DELETE FROM `+historyTable+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete execution records: %w", err)
	}
	return int(cmd.RowsAffected()), nil
}

// vectorLiteral renders an embedding in pgvector's text format so plain pgx
// can bind it without a vendored codec.
func vectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
