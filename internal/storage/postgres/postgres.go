// Package postgres provides the pgx-backed implementations of the
// persistence ports. Each store owns its schema and exposes EnsureSchema so
// deployments can bootstrap without external migration tooling.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pooled connection and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates every table used by the stores in this package.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ensure := range []func(context.Context, *pgxpool.Pool) error{
		ensureTaskSchema,
		ensureTeamSchema,
		ensureWorkflowSchema,
		ensureMemberSchema,
		ensureApprovalSchema,
		ensureHistorySchema,
	} {
		if err := ensure(ctx, pool); err != nil {
			return err
		}
	}
	return nil
}

func execAll(ctx context.Context, pool *pgxpool.Pool, statements []string) error {
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// marshalJSON renders v for a JSONB column; nil maps become SQL NULL.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb: %w", err)
	}
	return data, nil
}

// unmarshalJSON fills out from a JSONB column, tolerating NULL.
func unmarshalJSON(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal jsonb: %w", err)
	}
	return nil
}
