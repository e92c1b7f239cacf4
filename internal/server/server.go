// Package server is the construction root: it builds every component once
// from explicit configuration and runs the HTTP facade, the workflow
// executor, and the retention sweeper under one lifecycle. Backend selection
// happens here; an unavailable configured backend is a startup error, never a
// silent fallback.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"squad/internal/adapters"
	"squad/internal/bus"
	"squad/internal/export"
	"squad/internal/fairness"
	"squad/internal/governance"
	"squad/internal/history"
	"squad/internal/member"
	"squad/internal/retention"
	"squad/internal/shared/config"
	"squad/internal/shared/logging"
	"squad/internal/storage/postgres"
	"squad/internal/task"
	"squad/internal/team"
	"squad/internal/tracker"
	"squad/internal/workflow"
)

// Server wires the orchestrator components behind one HTTP listener.
type Server struct {
	cfg     config.RuntimeConfig
	logger  logging.Logger
	metrics *Metrics

	eventBus bus.Bus
	locker   bus.Locker
	cache    bus.Cache

	tasks      *task.Service
	teams      *team.Service
	workflows  *workflow.Engine
	executor   *workflow.Executor
	members    *member.Service
	gates      *governance.Service
	fairness   *fairness.Engine
	incidents  *fairness.IncidentLog
	tracker    *tracker.Tracker
	queries    *tracker.Query
	janitor    *retention.Janitor
	exporter   *export.Exporter
	registry   *adapters.Registry
	historians history.Store
	stores     stores

	httpServer *http.Server
}

// Option adjusts server construction.
type Option func(*Server)

// WithMetrics overrides the shared metrics instance, for tests that need a
// private registry.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// New builds the full component graph from cfg. Every backend named in the
// configuration must be reachable; construction fails otherwise.
func New(ctx context.Context, cfg config.RuntimeConfig, logger logging.Logger, opts ...Option) (*Server, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	s := &Server{cfg: cfg, logger: logging.OrNop(logger)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.metrics == nil {
		s.metrics = defaultMetrics()
	}

	if err := s.buildBus(ctx); err != nil {
		return nil, err
	}
	if err := s.buildStores(ctx); err != nil {
		return nil, err
	}
	if err := s.buildServices(); err != nil {
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) buildBus(ctx context.Context) error {
	switch s.cfg.BusBackend {
	case config.BackendMemory:
		mem := bus.NewMemoryBus(s.logger)
		s.eventBus, s.locker, s.cache = mem, mem, mem
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{Addr: s.cfg.RedisAddr, DB: s.cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return fmt.Errorf("redis backend %q unreachable: %w", s.cfg.RedisAddr, err)
		}
		redisBus, err := bus.NewRedisBus(client, s.logger)
		if err != nil {
			return err
		}
		s.eventBus, s.locker, s.cache = redisBus, redisBus, redisBus
	default:
		return fmt.Errorf("unknown bus backend %q", s.cfg.BusBackend)
	}
	return nil
}

// stores carries the per-domain persistence ports picked by buildStores.
type stores struct {
	tasks     task.Store
	teams     team.Store
	workflows workflow.Store
	members   member.Store
	approvals governance.ApprovalStore
}

func (s *Server) buildStores(ctx context.Context) error {
	switch s.cfg.StoreBackend {
	case config.BackendMemory:
		s.stores = stores{
			tasks:     task.NewMemStore(),
			teams:     team.NewMemStore(),
			workflows: workflow.NewMemStore(),
			members:   member.NewMemStore(),
			approvals: governance.NewMemApprovals(),
		}
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, s.cfg.PostgresDSN)
		if err != nil {
			return err
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			return err
		}
		taskStore, err := postgres.NewTaskStore(pool)
		if err != nil {
			return err
		}
		teamStore, err := postgres.NewTeamStore(pool)
		if err != nil {
			return err
		}
		workflowStore, err := postgres.NewWorkflowStore(pool)
		if err != nil {
			return err
		}
		memberStore, err := postgres.NewMemberStore(pool)
		if err != nil {
			return err
		}
		approvalStore, err := postgres.NewApprovalStore(pool)
		if err != nil {
			return err
		}
		s.stores = stores{
			tasks:     taskStore,
			teams:     teamStore,
			workflows: workflowStore,
			members:   memberStore,
			approvals: approvalStore,
		}
		if s.cfg.Vector.Backend == config.BackendPostgres {
			historyStore, err := postgres.NewHistoryStore(pool,
				postgres.WithEmbeddingDim(s.cfg.Vector.Dimension),
				postgres.WithIndexLists(s.cfg.Vector.IndexLists))
			if err != nil {
				return err
			}
			if err := historyStore.EnsureSchema(ctx); err != nil {
				return err
			}
			s.historians = historyStore
		}
	default:
		return fmt.Errorf("unknown store backend %q", s.cfg.StoreBackend)
	}

	if s.historians == nil {
		switch s.cfg.Vector.Backend {
		case config.BackendMemory:
			s.historians = history.NewMemStore()
		case config.BackendEmbedded:
			store, err := history.NewEmbeddedStore(history.EmbeddedConfig{PersistPath: s.cfg.Vector.PersistPath})
			if err != nil {
				return err
			}
			s.historians = store
		case config.BackendPostgres:
			return errors.New("vector backend postgres requires store backend postgres")
		default:
			return fmt.Errorf("unknown vector backend %q", s.cfg.Vector.Backend)
		}
	}
	return nil
}

func (s *Server) buildServices() error {
	var err error
	if s.teams, err = team.NewService(s.stores.teams, s.eventBus, s.cache, s.logger); err != nil {
		return err
	}
	s.fairness = fairness.NewEngine(fairness.Config{
		WindowHours:         s.cfg.Fairness.WindowHours,
		AssignmentThreshold: s.cfg.Fairness.AssignmentThreshold,
		CoolingOffMinutes:   s.cfg.Fairness.CoolingOffMinutes,
		MinCoolingMinutes:   s.cfg.Fairness.MinCoolingMinutes,
		MaxCoolingMinutes:   s.cfg.Fairness.MaxCoolingMinutes,
		ScalingFactor:       s.cfg.Fairness.ScalingFactor,
		AdaptationRate:      s.cfg.Fairness.AdaptationRate,
		Sensitivity:         s.cfg.Fairness.Sensitivity,
		MaxWeightAdjustment: s.cfg.Fairness.MaxWeightAdjustment,
	}, s.logger)
	s.incidents = fairness.NewIncidentLog()
	if s.tasks, err = task.NewService(s.stores.tasks, s.eventBus, s.locker, s.logger,
		task.WithWorkerStats(s.teams), task.WithFairness(s.fairness),
		task.WithWorkflowStates(workflow.States(s.stores.workflows))); err != nil {
		return err
	}
	if s.workflows, err = workflow.NewEngine(s.stores.workflows, s.tasks, s.eventBus, s.logger); err != nil {
		return err
	}
	// One executor reconciles every team; pattern subscriptions glob across
	// team names.
	if s.executor, err = workflow.NewExecutor("*", s.workflows, s.eventBus, s.logger); err != nil {
		return err
	}
	if s.members, err = member.NewService(s.stores.members, s.stores.tasks, s.eventBus, s.logger); err != nil {
		return err
	}

	catalog := &governance.Catalog{}
	if s.cfg.Governance.GateCatalogPath != "" {
		if catalog, err = governance.LoadCatalog(s.cfg.Governance.GateCatalogPath); err != nil {
			return err
		}
	}
	ttl := time.Duration(s.cfg.Governance.ApprovalExpiryHours) * time.Hour
	if s.gates, err = governance.NewService(catalog, s.stores.approvals, s.logger,
		governance.WithApprovalTTL(ttl)); err != nil {
		return err
	}

	if s.tracker, err = tracker.New(s.historians, s.logger,
		tracker.WithEnabled(s.cfg.Tracking.Enabled),
		tracker.WithMaxDecisions(s.cfg.Tracking.DecisionLimit),
		tracker.WithStreamBuffer(s.cfg.Tracking.StreamBufferSize),
		tracker.WithCapturePolicy(s.cfg.Tracking.CaptureInput, s.cfg.Tracking.CaptureOutput, s.cfg.Tracking.CaptureContext)); err != nil {
		return err
	}
	if s.queries, err = tracker.NewQuery(s.historians,
		tracker.WithMinScore(s.cfg.Vector.MinSimilarity)); err != nil {
		return err
	}
	if s.janitor, err = retention.NewJanitor(s.historians, retention.Config{
		Strategy:            retention.Strategy(s.cfg.Retention.Strategy),
		MaxAgeDays:          s.cfg.Retention.MaxAgeDays,
		MaxRecordsPerKey:    s.cfg.Retention.MaxRecordsPerKey,
		KeepFailedLonger:    s.cfg.Retention.KeepFailedLonger,
		FailedRetentionDays: s.cfg.Retention.FailedRetentionDays,
		DryRun:              s.cfg.Retention.DryRun,
		BatchSize:           s.cfg.Retention.BatchSize,
		Interval:            time.Duration(s.cfg.Retention.IntervalHours) * time.Hour,
	}, s.logger); err != nil {
		return err
	}
	if s.exporter, err = export.NewExporter(s.historians, s.logger); err != nil {
		return err
	}

	s.registry = adapters.NewRegistry()
	if err := s.registry.RegisterTask("memory", adapters.NewMemoryTaskAdapter()); err != nil {
		return err
	}
	if err := s.registry.RegisterDocument("memory", adapters.NewMemoryDocumentAdapter()); err != nil {
		return err
	}
	return nil
}

// Tasks exposes the task lifecycle service for in-process workers.
func (s *Server) Tasks() *task.Service { return s.tasks }

// Tracker exposes the execution tracker for in-process workers.
func (s *Server) Tracker() *tracker.Tracker { return s.tracker }

// Bus exposes the event fabric for in-process workers.
func (s *Server) Bus() bus.Bus { return s.eventBus }

// Adapters exposes the external-system adapter registry.
func (s *Server) Adapters() *adapters.Registry { return s.registry }

// Run serves HTTP and runs the background loops until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.logger.Info("server: listening on %s", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		stop := s.executor.Start(ctx)
		<-ctx.Done()
		stop()
		return nil
	})

	group.Go(func() error {
		s.sweepLoop(ctx)
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("server: shutdown: %v", err)
		}
		return s.eventBus.Close()
	})

	return group.Wait()
}

// sweepLoop mirrors the janitor's own cadence but records sweep metrics.
func (s *Server) sweepLoop(ctx context.Context) {
	interval := time.Duration(s.cfg.Retention.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		report, err := s.janitor.Sweep(ctx)
		if err != nil {
			s.logger.Error("server: retention sweep: %v", err)
		} else {
			s.metrics.IncSweep(string(report.Strategy))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
