package tracker

import (
	"context"
	"errors"
	"sort"
	"time"

	"squad/internal/history"
)

// defaultMinScore is the similarity floor applied when a caller does not set
// one. Matches below it are noise more often than precedent.
const defaultMinScore = 0.7

// Query is the read side over recorded executions.
type Query struct {
	store    history.Store
	minScore float64
}

// QueryOption adjusts the read service.
type QueryOption func(*Query)

// WithMinScore overrides the default similarity floor.
func WithMinScore(score float64) QueryOption {
	return func(q *Query) {
		if score > 0 {
			q.minScore = score
		}
	}
}

// NewQuery builds the read service.
func NewQuery(store history.Store, opts ...QueryOption) (*Query, error) {
	if store == nil {
		return nil, errors.New("query requires history store")
	}
	q := &Query{store: store, minScore: defaultMinScore}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q, nil
}

// Filter returns executions matching the scalar filter, newest first.
func (q *Query) Filter(ctx context.Context, f history.Filter) ([]*history.Record, error) {
	return q.store.Query(ctx, f)
}

// Recent returns the newest executions.
func (q *Query) Recent(ctx context.Context, limit int) ([]*history.Record, error) {
	return q.store.Query(ctx, history.Filter{Limit: limit})
}

// Failed returns the newest failed executions.
func (q *Query) Failed(ctx context.Context, limit int) ([]*history.Record, error) {
	return q.store.Query(ctx, history.Filter{Outcome: history.OutcomeFailed, Limit: limit})
}

// ByCorrelation returns every execution sharing a correlation id.
func (q *Query) ByCorrelation(ctx context.Context, correlation string) ([]*history.Record, error) {
	return q.store.Query(ctx, history.Filter{Correlation: correlation})
}

// Similar returns prior executions nearest to the embedding. Queries without
// an explicit floor get the configured minimum score.
func (q *Query) Similar(ctx context.Context, sq history.SimilarQuery) ([]history.SimilarResult, error) {
	if sq.MinScore <= 0 {
		sq.MinScore = q.minScore
	}
	return q.store.FindSimilar(ctx, sq)
}

// maxTopPersonas bounds the persona ranking in analytics.
const maxTopPersonas = 10

// PersonaActivity is one row of the persona ranking: how many executions a
// persona ran in the analyzed window.
type PersonaActivity struct {
	Persona string `json:"persona"`
	Count   int    `json:"count"`
}

// Analytics aggregates outcomes, duration, decisions, and spend for a persona
// (or all personas when empty) since a point in time.
type Analytics struct {
	Total           int                          `json:"total"`
	ByOutcome       map[history.Outcome]int      `json:"by_outcome"`
	SuccessRate     float64                      `json:"success_rate"`
	AvgDurationMS   float64                      `json:"avg_duration_ms"`
	MinDurationMS   int64                        `json:"min_duration_ms"`
	MaxDurationMS   int64                        `json:"max_duration_ms"`
	DecisionsByKind map[history.DecisionKind]int `json:"decisions_by_kind"`
	TopPersonas     []PersonaActivity            `json:"top_personas"`
	TotalTokens     int                          `json:"total_tokens"`
	TotalCost       float64                      `json:"total_cost"`
}

// Analyze computes analytics over the matching executions. SuccessRate and the
// duration aggregates count terminal outcomes only; running executions dilute
// neither side.
func (q *Query) Analyze(ctx context.Context, persona string, since time.Time) (*Analytics, error) {
	records, err := q.store.Query(ctx, history.Filter{Persona: persona, Since: since})
	if err != nil {
		return nil, err
	}
	a := &Analytics{
		ByOutcome:       make(map[history.Outcome]int),
		DecisionsByKind: make(map[history.DecisionKind]int),
	}
	byPersona := make(map[string]int)
	var terminal, durationSum int64
	for _, r := range records {
		a.Total++
		a.ByOutcome[r.Outcome]++
		a.TotalTokens += r.Tokens
		a.TotalCost += r.Cost
		byPersona[r.Persona]++
		for _, d := range r.Decisions {
			a.DecisionsByKind[d.Kind]++
		}
		if r.Outcome.IsTerminal() {
			if terminal == 0 || r.DurationMS < a.MinDurationMS {
				a.MinDurationMS = r.DurationMS
			}
			if r.DurationMS > a.MaxDurationMS {
				a.MaxDurationMS = r.DurationMS
			}
			terminal++
			durationSum += r.DurationMS
		}
	}
	if terminal > 0 {
		a.SuccessRate = float64(a.ByOutcome[history.OutcomeSuccess]) / float64(terminal)
		a.AvgDurationMS = float64(durationSum) / float64(terminal)
	}
	a.TopPersonas = rankPersonas(byPersona)
	return a, nil
}

// rankPersonas orders personas by execution count descending, name ascending
// on ties, capped at maxTopPersonas.
func rankPersonas(byPersona map[string]int) []PersonaActivity {
	ranked := make([]PersonaActivity, 0, len(byPersona))
	for persona, count := range byPersona {
		ranked = append(ranked, PersonaActivity{Persona: persona, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Persona < ranked[j].Persona
	})
	if len(ranked) > maxTopPersonas {
		ranked = ranked[:maxTopPersonas]
	}
	return ranked
}
