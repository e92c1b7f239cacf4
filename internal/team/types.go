// Package team holds the team-scoped records shared by every component:
// messages, workers, knowledge items, artifacts, and governance decisions.
package team

import (
	"errors"
	"time"
)

// Sentinel errors shared by store implementations.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// MessageKind classifies a message.
type MessageKind string

const (
	MessageInfo     MessageKind = "info"
	MessageQuestion MessageKind = "question"
	MessageResponse MessageKind = "response"
	MessageAlert    MessageKind = "alert"
	MessageStatus   MessageKind = "status"
	MessageError    MessageKind = "error"
)

// Message is an immutable team communication. Broadcasts have To empty.
type Message struct {
	ID        string            `json:"id"`
	Team      string            `json:"team"`
	From      string            `json:"from"`
	To        string            `json:"to,omitempty"`
	Kind      MessageKind       `json:"kind"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Thread    string            `json:"thread,omitempty"`
}

// WorkerStatus is the live state of a worker.
type WorkerStatus string

const (
	WorkerIdle    WorkerStatus = "idle"
	WorkerWorking WorkerStatus = "working"
	WorkerWaiting WorkerStatus = "waiting"
	WorkerError   WorkerStatus = "error"
)

// Worker is the live snapshot of a fleet member; (team, worker_id) unique.
type Worker struct {
	Team        string       `json:"team"`
	WorkerID    string       `json:"worker_id"`
	Role        string       `json:"role"`
	Status      WorkerStatus `json:"status"`
	CurrentTask string       `json:"current_task,omitempty"`
	Completed   int          `json:"completed"`
	Failed      int          `json:"failed"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// KnowledgeItem is a versioned (team, key) fact; writes bump Version.
type KnowledgeItem struct {
	ID        string    `json:"id"`
	Team      string    `json:"team"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Category  string    `json:"category,omitempty"`
	Source    string    `json:"source"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Tags      []string  `json:"tags,omitempty"`
}

// Artifact is metadata only; content lives at StoragePath in an external
// object store.
type Artifact struct {
	ID             string    `json:"id"`
	Team           string    `json:"team"`
	Name           string    `json:"name"`
	Type           string    `json:"type"`
	StorageBackend string    `json:"storage_backend"`
	StoragePath    string    `json:"storage_path"`
	Size           int64     `json:"size"`
	Mime           string    `json:"mime,omitempty"`
	Creator        string    `json:"creator"`
	Task           string    `json:"task,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Vote is a single worker's position on a decision.
type Vote string

const (
	VoteApprove Vote = "approve"
	VoteReject  Vote = "reject"
	VoteAbstain Vote = "abstain"
)

// DecisionStatus is the outcome of a proposal.
type DecisionStatus string

const (
	DecisionPending  DecisionStatus = "pending"
	DecisionApproved DecisionStatus = "approved"
	DecisionRejected DecisionStatus = "rejected"
)

// Decision is a governance-level proposal with votes.
type Decision struct {
	ID        string          `json:"id"`
	Team      string          `json:"team"`
	Statement string          `json:"statement"`
	Rationale string          `json:"rationale,omitempty"`
	Proposer  string          `json:"proposer"`
	Votes     map[string]Vote `json:"votes"`
	Status    DecisionStatus  `json:"status"`
	Task      string          `json:"task,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
