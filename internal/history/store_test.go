package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id, persona string, outcome Outcome, started time.Time, embedding []float32) *Record {
	return &Record{
		ID:             id,
		Persona:        persona,
		Outcome:        outcome,
		StartedAt:      started,
		InputEmbedding: embedding,
	}
}

func TestCosineSimilarityBounds(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}), "zero norm never ranks")
	assert.Zero(t, CosineSimilarity([]float32{1}, []float32{1, 1}), "dim mismatch never ranks")
}

func TestFindSimilarRanksAndFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, record("close", "builder", OutcomeSuccess, base, []float32{1, 0.1, 0})))
	require.NoError(t, store.Upsert(ctx, record("closer", "builder", OutcomeSuccess, base.Add(time.Hour), []float32{1, 0.01, 0})))
	require.NoError(t, store.Upsert(ctx, record("far", "builder", OutcomeSuccess, base, []float32{0, 1, 0})))
	require.NoError(t, store.Upsert(ctx, record("failed", "builder", OutcomeFailed, base, []float32{1, 0, 0})))
	require.NoError(t, store.Upsert(ctx, record("no-embedding", "builder", OutcomeSuccess, base, nil)))

	results, err := store.FindSimilar(ctx, SimilarQuery{
		Embedding: []float32{1, 0, 0},
		K:         10,
		MinScore:  0.7,
		Outcome:   OutcomeSuccess,
	})
	require.NoError(t, err)
	require.Len(t, results, 2, "orthogonal, failed, and unembedded records stay out")
	assert.Equal(t, "closer", results[0].Record.ID)
	assert.Equal(t, "close", results[1].Record.ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestFindSimilarTieBreaksOnRecency(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, record("old", "p", OutcomeSuccess, base, []float32{1, 0})))
	require.NoError(t, store.Upsert(ctx, record("new", "p", OutcomeSuccess, base.Add(time.Hour), []float32{2, 0})))

	results, err := store.FindSimilar(ctx, SimilarQuery{Embedding: []float32{1, 0}, K: 2, MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "new", results[0].Record.ID)
}

func TestFindSimilarHonorsK(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	base := time.Now().UTC()
	for i := 0; i < 8; i++ {
		id := string(rune('a' + i))
		require.NoError(t, store.Upsert(ctx, record(id, "p", OutcomeSuccess, base, []float32{1, float32(i) * 0.01})))
	}
	results, err := store.FindSimilar(ctx, SimilarQuery{Embedding: []float32{1, 0}, K: 3, MinScore: 0.7})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestUpsertIsIdempotentOnID(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	base := time.Now().UTC()

	r := record("e1", "builder", OutcomeRunning, base, nil)
	require.NoError(t, store.Upsert(ctx, r))
	r.Outcome = OutcomeSuccess
	r.DurationMS = 1200
	require.NoError(t, store.Upsert(ctx, r))

	got, err := store.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, got.Outcome)
	assert.EqualValues(t, 1200, got.DurationMS)

	all, err := store.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestQueryScalarFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	a := record("a", "builder", OutcomeFailed, base, nil)
	a.Error = "boom"
	a.Context.Correlation = "req-1"
	b := record("b", "reviewer", OutcomeSuccess, base.Add(time.Hour), nil)
	b.Context.Tags = []string{"nightly"}
	require.NoError(t, store.Upsert(ctx, a))
	require.NoError(t, store.Upsert(ctx, b))

	failed, err := store.Query(ctx, Filter{HasError: true})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "a", failed[0].ID)

	byCorr, err := store.Query(ctx, Filter{Correlation: "req-1"})
	require.NoError(t, err)
	require.Len(t, byCorr, 1)

	byTag, err := store.Query(ctx, Filter{Tag: "nightly"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)
	assert.Equal(t, "b", byTag[0].ID)

	since, err := store.Query(ctx, Filter{Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "b", since[0].ID)
}

func TestDeleteReportsExisting(t *testing.T) {
	ctx := context.Background()
	store := NewMemStore()
	require.NoError(t, store.Upsert(ctx, record("a", "p", OutcomeSuccess, time.Now(), nil)))

	deleted, err := store.Delete(ctx, []string{"a", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEmbeddedStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewEmbeddedStore(EmbeddedConfig{Collection: "test"})
	require.NoError(t, err)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Upsert(ctx, record("near", "builder", OutcomeSuccess, base, []float32{1, 0, 0})))
	require.NoError(t, store.Upsert(ctx, record("far", "builder", OutcomeSuccess, base, []float32{0, 0, 1})))

	results, err := store.FindSimilar(ctx, SimilarQuery{Embedding: []float32{1, 0.05, 0}, K: 5, MinScore: 0.7})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].Record.ID)

	deleted, err := store.Delete(ctx, []string{"near"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}
