package team

import "context"

// Store is the team record persistence port.
type Store interface {
	// InsertMessage appends an immutable message.
	InsertMessage(ctx context.Context, m *Message) error
	// RecentMessages returns the newest messages for a team, newest first.
	RecentMessages(ctx context.Context, team string, limit int) ([]*Message, error)

	// UpsertWorker inserts or refreshes a worker snapshot by (team, worker_id).
	UpsertWorker(ctx context.Context, w *Worker) error
	// GetWorker fetches one worker; ErrNotFound when absent.
	GetWorker(ctx context.Context, team, workerID string) (*Worker, error)
	// ListWorkers returns a team's workers.
	ListWorkers(ctx context.Context, team string) ([]*Worker, error)
	// IncrementWorkerCounter bumps the completed or failed counter.
	IncrementWorkerCounter(ctx context.Context, team, workerID string, failed bool) error

	// UpsertKnowledge writes a (team, key) fact, bumping Version on overwrite.
	UpsertKnowledge(ctx context.Context, item *KnowledgeItem) (*KnowledgeItem, error)
	// GetKnowledge fetches by natural key.
	GetKnowledge(ctx context.Context, team, key string) (*KnowledgeItem, error)
	// ListKnowledge returns a team's facts, optionally filtered by category.
	ListKnowledge(ctx context.Context, team, category string) ([]*KnowledgeItem, error)

	// InsertArtifact records artifact metadata.
	InsertArtifact(ctx context.Context, a *Artifact) error
	// ListArtifacts returns a team's artifacts, optionally scoped to a task.
	ListArtifacts(ctx context.Context, team, taskID string) ([]*Artifact, error)

	// InsertDecision records a new proposal.
	InsertDecision(ctx context.Context, d *Decision) error
	// GetDecision fetches a proposal.
	GetDecision(ctx context.Context, id string) (*Decision, error)
	// RecordVote stores a worker's vote and returns the updated decision.
	RecordVote(ctx context.Context, id, worker string, vote Vote) (*Decision, error)
	// SetDecisionStatus resolves a proposal.
	SetDecisionStatus(ctx context.Context, id string, status DecisionStatus) (*Decision, error)

	// DeleteTeam removes every record owned by the team and returns the count.
	DeleteTeam(ctx context.Context, team string) (int, error)
}
