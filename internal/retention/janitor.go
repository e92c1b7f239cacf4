package retention

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"squad/internal/history"
	"squad/internal/shared/logging"
)

// Janitor sweeps the execution history on a schedule. Fields are set before
// first use and not mutated afterwards.
type Janitor struct {
	Store  history.Store
	Config Config
	Logger logging.Logger
	Now    func() time.Time
}

// NewJanitor builds a janitor with defaulted configuration.
func NewJanitor(store history.Store, cfg Config, logger logging.Logger) (*Janitor, error) {
	if store == nil {
		return nil, errors.New("janitor requires history store")
	}
	return &Janitor{
		Store:  store,
		Config: cfg.withDefaults(),
		Logger: logging.OrNop(logger),
		Now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run sweeps immediately and then on every interval tick until the context
// ends. Blocks; callers run it in a goroutine.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.Config.Interval)
	defer ticker.Stop()
	for {
		if report, err := j.Sweep(ctx); err != nil {
			j.Logger.Error("retention sweep: %v", err)
		} else {
			j.Logger.Info("retention sweep: strategy=%s deleted=%d scanned=%d dry_run=%t took=%s",
				report.Strategy, report.Deleted, report.Scanned, report.DryRun, report.Duration)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep applies the configured strategy once. Dry-run counts the records a
// real sweep would delete without touching the store.
func (j *Janitor) Sweep(ctx context.Context) (*Report, error) {
	started := j.Now()
	report := &Report{
		Strategy:  j.Config.Strategy,
		DryRun:    j.Config.DryRun,
		StartedAt: started,
	}
	records, err := j.Store.Query(ctx, history.Filter{})
	if err != nil {
		return nil, fmt.Errorf("retention sweep: %w", err)
	}
	report.Scanned = len(records)

	doomed := j.deletable(records, started)
	if j.Config.DryRun {
		report.Deleted = len(doomed)
		report.Duration = j.Now().Sub(started)
		return report, nil
	}
	for start := 0; start < len(doomed); start += j.Config.BatchSize {
		end := start + j.Config.BatchSize
		if end > len(doomed) {
			end = len(doomed)
		}
		deleted, err := j.Store.Delete(ctx, doomed[start:end])
		report.Deleted += deleted
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			j.Logger.Warn("retention sweep: delete batch: %v", err)
		}
	}
	report.Duration = j.Now().Sub(started)
	return report, nil
}

// deletable returns the ids the configured strategy condemns. Running
// executions are never deleted by the time or count strategies.
func (j *Janitor) deletable(records []*history.Record, now time.Time) []string {
	switch j.Config.Strategy {
	case StrategyTime:
		return j.byAge(records, now)
	case StrategyCount:
		return j.byCount(records)
	case StrategyStatus:
		return j.byStatus(records, now)
	default: // hybrid
		doomed := j.byAge(records, now)
		condemned := make(map[string]bool, len(doomed))
		for _, id := range doomed {
			condemned[id] = true
		}
		var kept []*history.Record
		for _, r := range records {
			if !condemned[r.ID] {
				kept = append(kept, r)
			}
		}
		return append(doomed, j.byCount(kept)...)
	}
}

func (j *Janitor) byAge(records []*history.Record, now time.Time) []string {
	cutoff := now.AddDate(0, 0, -j.Config.MaxAgeDays)
	failedCutoff := cutoff
	if j.Config.KeepFailedLonger {
		failedCutoff = now.AddDate(0, 0, -j.Config.FailedRetentionDays)
	}
	var doomed []string
	for _, r := range records {
		if r.Outcome == history.OutcomeRunning || r.Outcome == history.OutcomePending {
			continue
		}
		limit := cutoff
		if r.Outcome == history.OutcomeFailed {
			limit = failedCutoff
		}
		if r.StartedAt.Before(limit) {
			doomed = append(doomed, r.ID)
		}
	}
	return doomed
}

func (j *Janitor) byCount(records []*history.Record) []string {
	byKey := make(map[string][]*history.Record)
	for _, r := range records {
		if r.Outcome == history.OutcomeRunning || r.Outcome == history.OutcomePending {
			continue
		}
		byKey[r.Persona] = append(byKey[r.Persona], r)
	}
	var doomed []string
	for _, group := range byKey {
		if len(group) <= j.Config.MaxRecordsPerKey {
			continue
		}
		sort.Slice(group, func(i, k int) bool { return group[i].StartedAt.After(group[k].StartedAt) })
		for _, r := range group[j.Config.MaxRecordsPerKey:] {
			doomed = append(doomed, r.ID)
		}
	}
	return doomed
}

// statusAges holds the per-outcome retention in days for the status strategy.
var statusAges = map[history.Outcome]int{
	history.OutcomeSuccess:   90,
	history.OutcomeFailed:    365,
	history.OutcomeCancelled: 30,
	history.OutcomePending:   7,
	history.OutcomeRunning:   7,
}

func (j *Janitor) byStatus(records []*history.Record, now time.Time) []string {
	var doomed []string
	for _, r := range records {
		days, ok := statusAges[r.Outcome]
		if !ok {
			days = j.Config.MaxAgeDays
		}
		if r.StartedAt.Before(now.AddDate(0, 0, -days)) {
			doomed = append(doomed, r.ID)
		}
	}
	return doomed
}
