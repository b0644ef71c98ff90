// Package app assembles the pipeline into one runtime object. Everything that
// must be shared process-wide (the per-key limiter registry and the rule
// cache) is owned here and handed to the components that need it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/powhq/pow/internal/automation"
	"github.com/powhq/pow/internal/config"
	"github.com/powhq/pow/internal/ingestion"
	"github.com/powhq/pow/internal/logging"
	"github.com/powhq/pow/internal/metrics"
	"github.com/powhq/pow/internal/models"
	"github.com/powhq/pow/internal/prc"
	"github.com/powhq/pow/internal/queue"
	"github.com/powhq/pow/internal/store"
)

// QueueIntervalSetting is the settings key the queue loop re-reads each cycle.
const QueueIntervalSetting = "QUEUE_INTERVAL_MS"

// Upstream is everything the pipeline calls on the game-server API.
type Upstream interface {
	ingestion.Upstream
	automation.Upstream
}

// TenantResult reports one tenant's part of a sync batch.
type TenantResult struct {
	TenantID   string `json:"tenantId"`
	NewRecords int    `json:"newRecords"`
	RulesFired int    `json:"rulesFired"`
	Error      string `json:"error,omitempty"`
}

// Runtime owns the long-lived pipeline state.
type Runtime struct {
	cfg      config.Config
	repos    store.Repositories
	logger   *slog.Logger
	metrics  *metrics.Collector
	events   ingestion.EventSink
	upstream Upstream

	limiters *prc.Limiters
	cache    *automation.RuleCache
	engine   *automation.Engine
	syncer   *ingestion.Syncer
	consumer *queue.Consumer
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithMetrics attaches the metrics collector to every component.
func WithMetrics(c *metrics.Collector) Option {
	return func(r *Runtime) { r.metrics = c }
}

// WithEventSink publishes newly ingested records.
func WithEventSink(sink ingestion.EventSink) Option {
	return func(r *Runtime) { r.events = sink }
}

// WithUpstream replaces the game-server API client.
func WithUpstream(u Upstream) Option {
	return func(r *Runtime) { r.upstream = u }
}

// New builds the runtime.
func New(cfg config.Config, repos store.Repositories, deliverer queue.Deliverer, logger *slog.Logger, opts ...Option) *Runtime {
	r := &Runtime{
		cfg:      cfg,
		repos:    repos,
		logger:   logger,
		limiters: prc.NewLimiters(cfg.PRC.BucketCapacity, cfg.PRC.BucketWindow),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.upstream == nil {
		client := prc.NewClient(prc.Config{
			BaseURL:    cfg.PRC.BaseURL,
			Timeout:    cfg.PRC.Timeout,
			MaxRetries: cfg.PRC.MaxRetries,
		}, r.limiters, logging.Component(logger, "prc"))
		if r.metrics != nil {
			client.WithObserver(r.metrics)
		}
		r.upstream = client
	}

	r.cache = automation.NewRuleCache(repos.Rules, cfg.Automation.CacheTTL)
	r.engine = automation.NewEngine(repos, r.upstream, r.cache, logging.Component(logger, "automation"))

	syncOpts := []ingestion.Option{ingestion.WithDepartureLookback(cfg.Sync.DepartureLookback)}
	if r.events != nil {
		syncOpts = append(syncOpts, ingestion.WithEventSink(r.events))
	}
	if r.metrics != nil {
		syncOpts = append(syncOpts, ingestion.WithObserver(r.metrics))
	}
	r.syncer = ingestion.NewSyncer(repos, r.upstream, r.engine, logging.Component(logger, "ingestion"), syncOpts...)

	r.consumer = queue.NewConsumer(repos, deliverer, cfg.Queue.BatchSize, logging.Component(logger, "queue"))
	if r.metrics != nil {
		r.engine.WithObserver(r.metrics)
		r.consumer.WithObserver(r.metrics)
	}
	return r
}

// Engine returns the rule engine.
func (r *Runtime) Engine() *automation.Engine { return r.engine }

// RuleCache returns the shared rule cache.
func (r *Runtime) RuleCache() *automation.RuleCache { return r.cache }

// SyncBatch ingests and sweeps one tenant, or every syncable tenant when
// tenantID is empty. Tenants are isolated: a failure is reported in that
// tenant's result and never aborts the others. The returned error is only
// set when the tenant list itself cannot be loaded.
func (r *Runtime) SyncBatch(ctx context.Context, tenantID string) ([]TenantResult, error) {
	start := time.Now()

	tenants, err := r.batchTenants(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	results := make([]TenantResult, len(tenants))
	var g errgroup.Group
	if r.cfg.Sync.Concurrency > 0 {
		g.SetLimit(r.cfg.Sync.Concurrency)
	}
	for i, tenant := range tenants {
		g.Go(func() error {
			results[i] = r.syncOne(ctx, tenant)
			return nil
		})
	}
	g.Wait()

	if r.metrics != nil {
		r.metrics.ObserveSyncBatch(time.Since(start))
	}
	return results, nil
}

func (r *Runtime) batchTenants(ctx context.Context, tenantID string) ([]models.Tenant, error) {
	if tenantID == "" {
		tenants, err := r.repos.Tenants.ListSyncable(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tenants: %w", err)
		}
		return tenants, nil
	}

	tenant, err := r.repos.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}
	if tenant == nil || tenant.APIKey == "" {
		return []models.Tenant{}, nil
	}
	return []models.Tenant{*tenant}, nil
}

func (r *Runtime) syncOne(ctx context.Context, tenant models.Tenant) TenantResult {
	res := TenantResult{TenantID: tenant.ID}

	n, err := r.syncer.SyncTenant(ctx, tenant)
	res.NewRecords = n
	if err != nil {
		r.logger.Error("tenant sync failed", "tenant_id", tenant.ID, "error", err)
		res.Error = err.Error()
		return res
	}

	fired, err := r.engine.SweepTenant(ctx, tenant)
	res.RulesFired = fired
	if err != nil {
		r.logger.Error("tenant sweep failed", "tenant_id", tenant.ID, "error", err)
		res.Error = err.Error()
	}
	return res
}

// Sweep fires due time rules across all tenants.
func (r *Runtime) Sweep(ctx context.Context) (int, error) {
	return r.engine.Sweep(ctx)
}

// ProcessQueue runs one consumer cycle.
func (r *Runtime) ProcessQueue(ctx context.Context) (queue.Result, error) {
	return r.consumer.ProcessBatch(ctx)
}

// Drain delivers queue items until none are pending.
func (r *Runtime) Drain(ctx context.Context) (queue.Result, error) {
	return r.consumer.Drain(ctx)
}

// QueueInterval returns the consumer poll interval, preferring the runtime
// setting over the configured default.
func (r *Runtime) QueueInterval(ctx context.Context) time.Duration {
	fallback := r.cfg.Queue.Interval
	if r.repos.Settings == nil {
		return fallback
	}

	raw, ok, err := r.repos.Settings.Get(ctx, QueueIntervalSetting)
	if err != nil {
		r.logger.Warn("failed to read queue interval setting", "error", err)
		return fallback
	}
	if !ok {
		return fallback
	}

	d, err := config.ParseMillis(raw)
	if err != nil || d <= 0 {
		r.logger.Warn("ignoring invalid queue interval setting", "value", raw)
		return fallback
	}
	return d
}
