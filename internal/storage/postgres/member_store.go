package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"squad/internal/member"
)

const (
	membershipTable = "squad_memberships"
	roleTable       = "squad_roles"
	handoffTable    = "squad_handoffs"
)

// MemberStore is the pgx-backed member.Store. State and role histories are
// JSONB documents; the scalar columns carry what queries filter on.
type MemberStore struct {
	pool *pgxpool.Pool
}

var _ member.Store = (*MemberStore)(nil)

// NewMemberStore wires a member store onto an existing pool.
func NewMemberStore(pool *pgxpool.Pool) (*MemberStore, error) {
	if pool == nil {
		return nil, errors.New("member store requires a pool")
	}
	return &MemberStore{pool: pool}, nil
}

func ensureMemberSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return execAll(ctx, pool, []string{
		`CREATE TABLE IF NOT EXISTS ` + membershipTable + ` (
			team TEXT NOT NULL,
			worker TEXT NOT NULL,
			state TEXT NOT NULL,
			record JSONB NOT NULL,
			PRIMARY KEY (team, worker)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + roleTable + ` (
			team TEXT NOT NULL,
			role TEXT NOT NULL,
			priority INT NOT NULL DEFAULT 0,
			record JSONB NOT NULL,
			PRIMARY KEY (team, role)
		)`,
		`CREATE TABLE IF NOT EXISTS ` + handoffTable + ` (
			id TEXT PRIMARY KEY,
			team TEXT NOT NULL,
			worker TEXT NOT NULL,
			initiated_at TIMESTAMPTZ NOT NULL,
			record JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + membershipTable + `_state ON ` + membershipTable + ` (team, state)`,
		`CREATE INDEX IF NOT EXISTS idx_` + handoffTable + `_worker ON ` + handoffTable + ` (team, worker, initiated_at DESC)`,
	})
}

// EnsureSchema creates the membership tables and indexes.
func (s *MemberStore) EnsureSchema(ctx context.Context) error {
	return ensureMemberSchema(ctx, s.pool)
}

func (s *MemberStore) UpsertMembership(ctx context.Context, m *member.Membership) error {
	record, err := marshalJSON(m)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+membershipTable+` (team, worker, state, record)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (team, worker) DO UPDATE SET
			state = EXCLUDED.state,
			record = EXCLUDED.record`,
		m.Team, m.Worker, string(m.State), record)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *MemberStore) GetMembership(ctx context.Context, teamID, worker string) (*member.Membership, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `
		SELECT record FROM `+membershipTable+` WHERE team = $1 AND worker = $2`,
		teamID, worker).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, member.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	var m member.Membership
	if err := unmarshalJSON(record, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *MemberStore) ListMemberships(ctx context.Context, teamID string, state member.State) ([]*member.Membership, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT record FROM `+membershipTable+`
		WHERE team = $1 AND ($2 = '' OR state = $2) ORDER BY worker`,
		teamID, string(state))
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()
	var memberships []*member.Membership
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		var m member.Membership
		if err := unmarshalJSON(record, &m); err != nil {
			return nil, err
		}
		memberships = append(memberships, &m)
	}
	return memberships, rows.Err()
}

func (s *MemberStore) UpsertRole(ctx context.Context, r *member.RoleAssignment) error {
	record, err := marshalJSON(r)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+roleTable+` (team, role, priority, record)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (team, role) DO UPDATE SET
			priority = EXCLUDED.priority,
			record = EXCLUDED.record`,
		r.Team, r.Role, r.Priority, record)
	if err != nil {
		return fmt.Errorf("upsert role: %w", err)
	}
	return nil
}

func (s *MemberStore) GetRole(ctx context.Context, teamID, role string) (*member.RoleAssignment, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `
		SELECT record FROM `+roleTable+` WHERE team = $1 AND role = $2`,
		teamID, role).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, member.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get role: %w", err)
	}
	var r member.RoleAssignment
	if err := unmarshalJSON(record, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *MemberStore) ListRoles(ctx context.Context, teamID string) ([]*member.RoleAssignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT record FROM `+roleTable+`
		WHERE team = $1 ORDER BY priority DESC, role`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()
	var roles []*member.RoleAssignment
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		var r member.RoleAssignment
		if err := unmarshalJSON(record, &r); err != nil {
			return nil, err
		}
		roles = append(roles, &r)
	}
	return roles, rows.Err()
}

func (s *MemberStore) UpsertHandoff(ctx context.Context, h *member.Handoff) error {
	record, err := marshalJSON(h)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+handoffTable+` (id, team, worker, initiated_at, record)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET record = EXCLUDED.record`,
		h.ID, h.Team, h.Worker, h.InitiatedAt, record)
	if err != nil {
		return fmt.Errorf("upsert handoff: %w", err)
	}
	return nil
}

func (s *MemberStore) LatestHandoff(ctx context.Context, teamID, worker string) (*member.Handoff, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `
		SELECT record FROM `+handoffTable+`
		WHERE team = $1 AND worker = $2
		ORDER BY initiated_at DESC, id DESC LIMIT 1`, teamID, worker).Scan(&record)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, member.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest handoff: %w", err)
	}
	var h member.Handoff
	if err := unmarshalJSON(record, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *MemberStore) DeleteByTeam(ctx context.Context, teamID string) (int, error) {
	deleted := 0
	for _, table := range []string{membershipTable, roleTable, handoffTable} {
		cmd, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE team = $1`, teamID)
		if err != nil {
			return deleted, fmt.Errorf("delete team members from %s: %w", table, err)
		}
		deleted += int(cmd.RowsAffected())
	}
	return deleted, nil
}
