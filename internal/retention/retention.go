// Package retention prunes old execution records on a background schedule.
// Four strategies are supported; all of them run batched and support a
// dry-run mode that reports what a real sweep would delete.
package retention

import (
	"time"
)

// Strategy selects how records are chosen for deletion.
type Strategy string

const (
	// StrategyTime deletes records older than MaxAgeDays, with failed
	// executions optionally kept for FailedRetentionDays instead.
	StrategyTime Strategy = "time"
	// StrategyCount keeps the newest MaxRecordsPerKey per persona and
	// deletes the surplus.
	StrategyCount Strategy = "count"
	// StrategyHybrid applies time-based then count-based.
	StrategyHybrid Strategy = "hybrid"
	// StrategyStatus applies a per-outcome age limit.
	StrategyStatus Strategy = "status"
)

// Config tunes the janitor.
type Config struct {
	Strategy            Strategy
	MaxAgeDays          int
	MaxRecordsPerKey    int
	KeepFailedLonger    bool
	FailedRetentionDays int
	DryRun              bool
	BatchSize           int
	Interval            time.Duration
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Strategy:            StrategyHybrid,
		MaxAgeDays:          90,
		MaxRecordsPerKey:    10000,
		KeepFailedLonger:    true,
		FailedRetentionDays: 365,
		BatchSize:           100,
		Interval:            24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := Default()
	if c.Strategy == "" {
		c.Strategy = d.Strategy
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = d.MaxAgeDays
	}
	if c.MaxRecordsPerKey <= 0 {
		c.MaxRecordsPerKey = d.MaxRecordsPerKey
	}
	if c.FailedRetentionDays <= 0 {
		c.FailedRetentionDays = d.FailedRetentionDays
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	return c
}

// Report summarizes one sweep.
type Report struct {
	Strategy  Strategy      `json:"strategy"`
	DryRun    bool          `json:"dry_run"`
	Scanned   int           `json:"scanned"`
	Deleted   int           `json:"deleted"`
	Errors    []string      `json:"errors,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
