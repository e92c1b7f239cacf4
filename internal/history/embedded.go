package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

// EmbeddedStore backs similarity retrieval with a chromem-go collection
// while keeping a process-local MemStore for scalar queries. The collection
// owns the vectors (and persists them when a path is given); the mirror owns
// the scalar indexes. Suits single-node deployments; multi-node setups use
// the postgres backend instead.
type EmbeddedStore struct {
	mirror     *MemStore
	db         *chromem.DB
	collection *chromem.Collection
}

// EmbeddedConfig configures the chromem backend.
type EmbeddedConfig struct {
	PersistPath string // empty keeps everything in memory
	Collection  string
}

// NewEmbeddedStore opens (or creates) the chromem collection.
func NewEmbeddedStore(config EmbeddedConfig) (*EmbeddedStore, error) {
	if config.Collection == "" {
		config.Collection = "executions"
	}
	var db *chromem.DB
	var err error
	if config.PersistPath != "" {
		db, err = chromem.NewPersistentDB(filepath.Join(config.PersistPath, "history.gob"), false)
		if err != nil {
			return nil, fmt.Errorf("open persistent history db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	// Embeddings always arrive precomputed; the collection must never try to
	// produce one itself.
	embeddingFunc := func(context.Context, string) ([]float32, error) {
		return nil, errors.New("history store requires precomputed embeddings")
	}
	collection, err := db.GetOrCreateCollection(config.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("open history collection: %w", err)
	}
	return &EmbeddedStore{
		mirror:     NewMemStore(),
		db:         db,
		collection: collection,
	}, nil
}

func (s *EmbeddedStore) Upsert(ctx context.Context, r *Record) error {
	if err := s.mirror.Upsert(ctx, r); err != nil {
		return err
	}
	if len(r.InputEmbedding) == 0 {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", r.ID, err)
	}
	err = s.collection.AddDocument(ctx, chromem.Document{
		ID:        r.ID,
		Content:   string(data),
		Embedding: r.InputEmbedding,
		Metadata: map[string]string{
			"persona":    r.Persona,
			"outcome":    string(r.Outcome),
			"started_at": strconv.FormatInt(r.StartedAt.Unix(), 10),
		},
	})
	if err != nil {
		return fmt.Errorf("index execution %s: %w", r.ID, err)
	}
	return nil
}

func (s *EmbeddedStore) Get(ctx context.Context, id string) (*Record, error) {
	return s.mirror.Get(ctx, id)
}

func (s *EmbeddedStore) FindSimilar(ctx context.Context, q SimilarQuery) ([]SimilarResult, error) {
	if q.K <= 0 {
		q.K = 5
	}
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// Over-fetch so post-filters on outcome and time window still fill K.
	n := q.K * 4
	if n > count {
		n = count
	}
	var where map[string]string
	if q.Persona != "" {
		where = map[string]string{"persona": q.Persona}
	}
	hits, err := s.collection.QueryEmbedding(ctx, q.Embedding, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query history collection: %w", err)
	}
	var results []SimilarResult
	for _, hit := range hits {
		score := float64(hit.Similarity)
		if score < q.MinScore {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(hit.Content), &r); err != nil {
			return nil, fmt.Errorf("decode execution %s: %w", hit.ID, err)
		}
		if q.Outcome != "" && r.Outcome != q.Outcome {
			continue
		}
		if !q.Since.IsZero() && r.StartedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && r.StartedAt.After(q.Until) {
			continue
		}
		results = append(results, SimilarResult{Record: &r, Score: score})
	}
	sortSimilar(results)
	if len(results) > q.K {
		results = results[:q.K]
	}
	return results, nil
}

func (s *EmbeddedStore) Query(ctx context.Context, f Filter) ([]*Record, error) {
	return s.mirror.Query(ctx, f)
}

func (s *EmbeddedStore) Delete(ctx context.Context, ids []string) (int, error) {
	deleted, err := s.mirror.Delete(ctx, ids)
	if err != nil {
		return deleted, err
	}
	if len(ids) > 0 {
		if err := s.collection.Delete(ctx, nil, nil, ids...); err != nil {
			return deleted, fmt.Errorf("delete from history collection: %w", err)
		}
	}
	return deleted, nil
}
