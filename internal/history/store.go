package history

import (
	"context"
	"time"
)

// SimilarQuery asks for the nearest prior executions to an embedding.
type SimilarQuery struct {
	Embedding []float32
	K         int
	MinScore  float64
	Outcome   Outcome // optional: restrict to one outcome
	Persona   string  // optional
	Since     time.Time
	Until     time.Time
}

// SimilarResult pairs a record with its cosine similarity to the query.
type SimilarResult struct {
	Record *Record
	Score  float64
}

// Filter is the scalar query surface over stored executions.
type Filter struct {
	Persona     string
	Outcome     Outcome
	Correlation string
	User        string
	Tag         string
	Since       time.Time
	Until       time.Time
	MinDuration time.Duration
	MaxDuration time.Duration
	HasError    bool
	Limit       int
	Offset      int
}

// Store is the execution history persistence port.
type Store interface {
	// Upsert writes a record keyed by ID. Re-writing an id replaces the
	// record, so completing an execution is an idempotent upsert.
	Upsert(ctx context.Context, r *Record) error
	// Get fetches one record; ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Record, error)
	// FindSimilar returns up to K records scoring at least MinScore against
	// the query embedding, best score first, newest first on ties. Records
	// without an embedding never match.
	FindSimilar(ctx context.Context, q SimilarQuery) ([]SimilarResult, error)
	// Query returns records matching the scalar filter, newest first.
	Query(ctx context.Context, f Filter) ([]*Record, error)
	// Delete removes records by id and returns how many existed.
	Delete(ctx context.Context, ids []string) (int, error)
}

func (f Filter) matches(r *Record) bool {
	if f.Persona != "" && r.Persona != f.Persona {
		return false
	}
	if f.Outcome != "" && r.Outcome != f.Outcome {
		return false
	}
	if f.Correlation != "" && r.Context.Correlation != f.Correlation {
		return false
	}
	if f.User != "" && r.Context.User != f.User {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, t := range r.Context.Tags {
			if t == f.Tag {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.Since.IsZero() && r.StartedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && r.StartedAt.After(f.Until) {
		return false
	}
	if f.MinDuration > 0 && time.Duration(r.DurationMS)*time.Millisecond < f.MinDuration {
		return false
	}
	if f.MaxDuration > 0 && time.Duration(r.DurationMS)*time.Millisecond > f.MaxDuration {
		return false
	}
	if f.HasError && r.Error == "" {
		return false
	}
	return true
}
