package member

import "context"

// Store is the membership persistence port.
type Store interface {
	// UpsertMembership writes a membership keyed by (team, worker).
	UpsertMembership(ctx context.Context, m *Membership) error
	// GetMembership fetches one membership; ErrNotFound when absent.
	GetMembership(ctx context.Context, team, worker string) (*Membership, error)
	// ListMemberships returns a team's memberships, optionally filtered by state.
	ListMemberships(ctx context.Context, team string, state State) ([]*Membership, error)

	// UpsertRole writes a role assignment keyed by (team, role).
	UpsertRole(ctx context.Context, r *RoleAssignment) error
	// GetRole fetches one role assignment; ErrNotFound when absent.
	GetRole(ctx context.Context, team, role string) (*RoleAssignment, error)
	// ListRoles returns a team's role assignments.
	ListRoles(ctx context.Context, team string) ([]*RoleAssignment, error)

	// UpsertHandoff writes a handoff keyed by id.
	UpsertHandoff(ctx context.Context, h *Handoff) error
	// LatestHandoff returns the newest handoff for (team, worker);
	// ErrNotFound when none exists.
	LatestHandoff(ctx context.Context, team, worker string) (*Handoff, error)

	// DeleteByTeam removes a team's membership records (ownership cascade).
	DeleteByTeam(ctx context.Context, team string) (int, error)
}
