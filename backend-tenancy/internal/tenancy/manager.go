// Package tenancy routes data access to the right tenant storage.
//
// A tenant is served under one of three isolation strategies: rows in shared
// tables filtered by tenant_id, a dedicated schema in the master database, or
// a dedicated database. The Manager is the entry point; it resolves tenants
// through the Registry, hands out pooled ConnectionHandles through the Router,
// evicts idle handles through the Lifecycle and creates tenants through the
// Provisioner.
package tenancy

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/activity"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
	"github.com/prohmpiriya/restaurant-ops/pkg/database"
	"github.com/prohmpiriya/restaurant-ops/pkg/logger"
	"github.com/prohmpiriya/restaurant-ops/pkg/telemetry"
)

// metricTables are counted by GetTenantMetrics
var metricTables = []string{"inventory_items", "sales", "notifications"}

// Dependencies are the assembled components a Manager coordinates
type Dependencies struct {
	Registry    *Registry
	Router      *Router
	Lifecycle   *Lifecycle
	Provisioner *Provisioner
	Activity    ActivityRecorder
	Metrics     *telemetry.TenancyMetrics
	Logger      *logger.Logger
	// MaxIdle is the idle threshold used by the background sweep and by
	// CleanupConnections when called with zero
	MaxIdle time.Duration
	// Master, when set, backs Ping and the pool figures in Stats
	Master MasterStore
	// Closers run in order during Shutdown, before connections are released
	Closers []func() error
}

// MasterStore is the health and usage surface of the master database
type MasterStore interface {
	HealthCheck(ctx context.Context) error
	Stats() database.PoolStats
}

// Manager is the public face of the tenancy layer
type Manager struct {
	registry    *Registry
	router      *Router
	lifecycle   *Lifecycle
	provisioner *Provisioner
	activity    ActivityRecorder
	metrics     *telemetry.TenancyMetrics
	log         *logger.Logger
	maxIdle     time.Duration
	closers     []func() error
	master      MasterStore

	closed       atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Manager over already-built components
func New(deps Dependencies) *Manager {
	m := &Manager{
		registry:    deps.Registry,
		router:      deps.Router,
		lifecycle:   deps.Lifecycle,
		provisioner: deps.Provisioner,
		activity:    deps.Activity,
		metrics:     deps.Metrics,
		log:         deps.Logger,
		maxIdle:     deps.MaxIdle,
		closers:     deps.Closers,
		master:      deps.Master,
	}
	if m.log == nil {
		m.log = logger.NewNop()
	}
	if m.activity == nil {
		m.activity = nopRecorder{}
	}
	if m.maxIdle <= 0 {
		m.maxIdle = 30 * time.Minute
	}
	return m
}

// GetConnection returns a handle scoped to tenantID
func (m *Manager) GetConnection(ctx context.Context, tenantID string) (*ConnectionHandle, error) {
	if m.closed.Load() {
		return nil, domain.ErrManagerClosed
	}
	return m.router.GetConnection(ctx, tenantID)
}

// ExecuteQuery runs one statement for tenantID and records the outcome
func (m *Manager) ExecuteQuery(ctx context.Context, tenantID, query string, args ...any) (res *Result, err error) {
	if m.closed.Load() {
		return nil, domain.ErrManagerClosed
	}

	ctx = logger.ContextWithTenant(ctx, tenantID)
	ctx, span := telemetry.StartSpan(ctx, "tenancy.ExecuteQuery",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String(telemetry.AttrTenantID, tenantID)),
	)
	start := time.Now()
	var strategy domain.Strategy

	defer func() {
		elapsed := time.Since(start)
		telemetry.EndSpan(span, err)
		m.recordQuery(ctx, tenantID, strategy, elapsed, res, err)
	}()

	for attempt := 0; attempt < 2; attempt++ {
		var h *ConnectionHandle
		h, err = m.router.GetConnection(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		strategy = h.Strategy()
		span.SetAttributes(attribute.String(telemetry.AttrStrategy, string(strategy)))

		res, err = h.Query(ctx, query, args...)
		if errors.Is(err, errHandleReleased) {
			// evicted between lookup and use
			continue
		}
		break
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (m *Manager) recordQuery(ctx context.Context, tenantID string, strategy domain.Strategy, elapsed time.Duration, res *Result, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	if m.metrics != nil {
		attrs := []attribute.KeyValue{
			telemetry.StrategyAttr(string(strategy)),
			telemetry.OutcomeAttr(outcome),
		}
		if err != nil {
			attrs = append(attrs, telemetry.ErrorTypeAttr(errorType(err)))
		}
		m.metrics.Queries.Inc(ctx, append(attrs, telemetry.TenantIDAttr(tenantID))...)
		m.metrics.QueryDuration.Record(ctx, elapsed.Seconds(), attrs...)
	}

	meta := map[string]any{
		"strategy":    string(strategy),
		"success":     err == nil,
		"duration_ms": elapsed.Milliseconds(),
	}
	if res != nil {
		meta["rows"] = len(res.Rows)
		meta["rows_affected"] = res.RowsAffected
	}
	if err != nil {
		meta["error"] = err.Error()
		meta["error_type"] = errorType(err)
		m.log.WarnContext(ctx, "tenant query failed", zap.Error(err), zap.Duration("elapsed", elapsed))
	}
	if !errors.Is(err, domain.ErrTenantNotFound) {
		m.activity.Log(tenantID, activity.KindQuery, meta)
	}
}

// CreateTenant provisions a new tenant and makes it immediately routable
func (m *Manager) CreateTenant(ctx context.Context, req CreateTenantRequest) (*domain.TenantConfig, error) {
	if m.closed.Load() {
		return nil, domain.ErrManagerClosed
	}

	ctx, span := telemetry.StartSpan(ctx, "tenancy.CreateTenant",
		trace.WithAttributes(attribute.String(telemetry.AttrStrategy, string(req.Strategy))),
	)
	cfg, err := m.provisioner.CreateTenant(ctx, req)
	telemetry.EndSpan(span, err)
	return cfg, err
}

// ValidateTenantAccess reports whether apiKey belongs to an active tenantID.
// Unknown tenants and empty keys are rejected.
func (m *Manager) ValidateTenantAccess(tenantID, apiKey string) bool {
	if apiKey == "" {
		return false
	}
	cfg, err := m.registry.Get(tenantID)
	if err != nil || cfg.APIKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cfg.APIKey), []byte(apiKey)) == 1
}

// TenantMetrics summarizes one tenant's usage
type TenantMetrics struct {
	TenantID         string           `json:"tenant_id"`
	Name             string           `json:"name"`
	Strategy         domain.Strategy  `json:"strategy"`
	TableCount       int              `json:"table_count"`
	MaxTables        int              `json:"max_tables"`
	MaxUsers         int              `json:"max_users"`
	RowCounts        map[string]int64 `json:"row_counts"`
	ConnectionCached bool             `json:"connection_cached"`
	LastUsed         *time.Time       `json:"last_used,omitempty"`
	CollectedAt      time.Time        `json:"collected_at"`
}

// GetTenantMetrics reads table and row counts from the tenant's storage.
// A missing metric table is skipped rather than failing the whole call.
func (m *Manager) GetTenantMetrics(ctx context.Context, tenantID string) (*TenantMetrics, error) {
	if m.closed.Load() {
		return nil, domain.ErrManagerClosed
	}

	cfg, err := m.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}
	h, err := m.router.GetConnection(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	out := &TenantMetrics{
		TenantID:         cfg.TenantID,
		Name:             cfg.Name,
		Strategy:         cfg.Strategy,
		MaxTables:        cfg.MaxTables,
		MaxUsers:         cfg.MaxUsers,
		RowCounts:        make(map[string]int64),
		ConnectionCached: true,
		CollectedAt:      time.Now().UTC(),
	}

	switch cfg.Strategy {
	case domain.StrategySharedSchema:
		out.TableCount = len(m.router.rewriter.Tables())
	default:
		schema := "public"
		if cfg.Strategy == domain.StrategySeparateSchema {
			schema = cfg.EffectiveSchema()
		}
		res, err := h.Query(ctx,
			`SELECT COUNT(*) AS count FROM information_schema.tables WHERE table_schema = $1 AND table_type = 'BASE TABLE'`,
			schema)
		if err != nil {
			return nil, err
		}
		out.TableCount = int(firstCount(res))
	}

	for _, table := range metricTables {
		res, err := h.Query(ctx, "SELECT COUNT(*) AS count FROM "+table)
		if err != nil {
			if errors.Is(err, domain.ErrConnectionFailure) {
				return nil, err
			}
			m.log.WarnContext(ctx, "skipping metric table", zap.String("table", table), zap.Error(err))
			continue
		}
		out.RowCounts[table] = firstCount(res)
	}

	last := h.LastUsed().UTC()
	out.LastUsed = &last
	return out, nil
}

func firstCount(res *Result) int64 {
	if res == nil || len(res.Rows) == 0 {
		return 0
	}
	switch v := res.Rows[0]["count"].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// CleanupConnections releases handles idle for longer than maxIdle; zero uses
// the configured threshold. It returns how many handles were released.
func (m *Manager) CleanupConnections(ctx context.Context, maxIdle time.Duration) int {
	if maxIdle <= 0 {
		maxIdle = m.maxIdle
	}
	return m.lifecycle.Sweep(ctx, maxIdle)
}

// ReloadRegistry re-reads all active tenants from the master store
func (m *Manager) ReloadRegistry(ctx context.Context) (int, error) {
	if m.closed.Load() {
		return 0, domain.ErrManagerClosed
	}
	return m.registry.LoadAll(ctx)
}

// RecordRequest logs an api_request activity entry for tenantID
func (m *Manager) RecordRequest(tenantID string, metadata map[string]any) {
	m.activity.Log(tenantID, activity.KindAPIRequest, metadata)
}

// Stats returns a snapshot of the handle cache and the master pool
func (m *Manager) Stats() Stats {
	s := m.router.Stats()
	if m.master != nil {
		pool := m.master.Stats()
		s.MasterPool = &pool
	}
	return s
}

// Ping runs a health query on the master database
func (m *Manager) Ping(ctx context.Context) error {
	if m.master != nil {
		return m.master.HealthCheck(ctx)
	}
	return m.router.shared.Ping(ctx)
}

// TenantCount returns the number of active tenants in the registry
func (m *Manager) TenantCount() int {
	return m.registry.Len()
}

// Shutdown flushes the activity log and releases every connection.
// Subsequent calls return the first call's result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.closed.Store(true)

		m.shutdownErr = errors.Join(closeAll(m.closers), m.lifecycle.ShutdownAll(ctx))

		if m.shutdownErr != nil {
			m.log.Warn("tenancy shutdown completed with errors", zap.Error(m.shutdownErr))
		} else {
			m.log.Info("tenancy shutdown complete")
		}
	})
	if m.shutdownErr != nil {
		return fmt.Errorf("tenancy shutdown: %w", m.shutdownErr)
	}
	return nil
}

// closeAll runs closers in order and joins their errors. Every closer runs
// even when an earlier one fails.
func closeAll(closers []func() error) error {
	var errs []error
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// errorType classifies err for metrics and activity records
func errorType(err error) string {
	switch {
	case errors.Is(err, domain.ErrTenantNotFound):
		return "tenant_not_found"
	case errors.Is(err, domain.ErrUnsupportedStrategy):
		return "unsupported_strategy"
	case errors.Is(err, domain.ErrConnectionFailure):
		return "connection_failure"
	case errors.Is(err, domain.ErrVaultFailure):
		return "vault_failure"
	case errors.Is(err, domain.ErrManagerClosed):
		return "manager_closed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	}
	return "query"
}
