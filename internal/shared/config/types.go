// Package config loads the orchestrator runtime configuration from defaults,
// an optional YAML file, and environment overrides, in that precedence order.
package config

// Backend names accepted for the store, bus, and vector history.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendEmbedded = "embedded"
)

// TrackingConfig gates the execution tracker.
type TrackingConfig struct {
	Enabled          bool `yaml:"enabled"`
	StreamBufferSize int  `yaml:"stream_buffer_size"`
	DecisionLimit    int  `yaml:"decision_limit"`
	CaptureInput     bool `yaml:"capture_input"`
	CaptureOutput    bool `yaml:"capture_output"`
	CaptureContext   bool `yaml:"capture_context"`
}

// RetentionConfig selects the cleanup strategy and its knobs.
type RetentionConfig struct {
	Strategy            string `yaml:"strategy"` // time | count | hybrid | status
	MaxAgeDays          int    `yaml:"max_age_days"`
	MaxRecordsPerKey    int    `yaml:"max_records_per_key"`
	KeepFailedLonger    bool   `yaml:"keep_failed_longer"`
	FailedRetentionDays int    `yaml:"failed_retention_days"`
	DryRun              bool   `yaml:"dry_run"`
	BatchSize           int    `yaml:"batch_size"`
	IntervalHours       int    `yaml:"interval_hours"`
}

// FairnessConfig tunes the assignment fairness engine.
type FairnessConfig struct {
	WindowHours         int     `yaml:"window_hours"`
	AssignmentThreshold int     `yaml:"assignment_threshold"`
	CoolingOffMinutes   int     `yaml:"cooling_off_minutes"`
	MinCoolingMinutes   int     `yaml:"min"`
	MaxCoolingMinutes   int     `yaml:"max"`
	ScalingFactor       float64 `yaml:"scaling_factor"`
	AdaptationRate      float64 `yaml:"adaptation_rate"`
	Sensitivity         float64 `yaml:"sensitivity"`
	MaxWeightAdjustment float64 `yaml:"max_weight_adjustment"`
}

// GovernanceConfig tunes gate evaluation.
type GovernanceConfig struct {
	ApprovalExpiryHours int    `yaml:"approval_expiry_hours"`
	GateCatalogPath     string `yaml:"gate_catalog_path"`
}

// VectorConfig tunes the execution history index.
type VectorConfig struct {
	Backend       string  `yaml:"backend"` // postgres | embedded | memory
	Dimension     int     `yaml:"dimension"`
	MinSimilarity float64 `yaml:"min_similarity"`
	IndexLists    int     `yaml:"index_lists"`
	PersistPath   string  `yaml:"persist_path"` // embedded backend only
}

// RuntimeConfig is the full orchestrator configuration.
type RuntimeConfig struct {
	Environment string `yaml:"environment"`
	ListenAddr  string `yaml:"listen_addr"`

	StoreBackend string `yaml:"store_backend"` // postgres | memory
	PostgresDSN  string `yaml:"postgres_dsn"`
	BusBackend   string `yaml:"bus_backend"` // redis | memory
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`

	Tracking   TrackingConfig   `yaml:"tracking"`
	Retention  RetentionConfig  `yaml:"retention"`
	Fairness   FairnessConfig   `yaml:"fairness"`
	Governance GovernanceConfig `yaml:"governance"`
	Vector     VectorConfig     `yaml:"vector"`
}

// Default returns the configuration used when no file or environment override
// is present. The literal values mirror the documented option defaults.
func Default() RuntimeConfig {
	return RuntimeConfig{
		Environment:  "development",
		ListenAddr:   ":8080",
		StoreBackend: BackendMemory,
		BusBackend:   BackendMemory,
		RedisAddr:    "localhost:6379",
		Tracking: TrackingConfig{
			Enabled:          true,
			StreamBufferSize: 1000,
			DecisionLimit:    500,
			CaptureInput:     true,
			CaptureOutput:    true,
			CaptureContext:   true,
		},
		Retention: RetentionConfig{
			Strategy:            "hybrid",
			MaxAgeDays:          90,
			MaxRecordsPerKey:    10000,
			KeepFailedLonger:    true,
			FailedRetentionDays: 365,
			BatchSize:           100,
			IntervalHours:       24,
		},
		Fairness: FairnessConfig{
			WindowHours:         24,
			AssignmentThreshold: 5,
			CoolingOffMinutes:   30,
			MinCoolingMinutes:   5,
			MaxCoolingMinutes:   240,
			ScalingFactor:       2.0,
			AdaptationRate:      0.1,
			Sensitivity:         1.0,
			MaxWeightAdjustment: 0.25,
		},
		Governance: GovernanceConfig{
			ApprovalExpiryHours: 72,
		},
		Vector: VectorConfig{
			Backend:       BackendMemory,
			Dimension:     1536,
			MinSimilarity: 0.7,
			IndexLists:    100,
		},
	}
}
