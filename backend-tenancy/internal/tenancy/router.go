package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/activity"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
	"github.com/prohmpiriya/restaurant-ops/pkg/database"
	"github.com/prohmpiriya/restaurant-ops/pkg/logger"
	"github.com/prohmpiriya/restaurant-ops/pkg/telemetry"
)

// ActivityRecorder receives tenant events; *activity.Logger implements it
type ActivityRecorder interface {
	Log(tenantID string, kind activity.Kind, metadata map[string]any)
}

type nopRecorder struct{}

func (nopRecorder) Log(string, activity.Kind, map[string]any) {}

// RouterConfig holds Router dependencies
type RouterConfig struct {
	Registry *Registry
	// Shared is the master pool used by shared_schema and separate_schema tenants
	Shared Pool
	// Dial opens dedicated pools for separate_database tenants
	Dial     PoolFactory
	Rewriter *Rewriter
	Logger   *logger.Logger
	Metrics  *telemetry.TenancyMetrics
	Activity ActivityRecorder
	// Now defaults to time.Now
	Now func() time.Time
}

// Router resolves a tenant id to a cached ConnectionHandle.
//
// Acquisition and eviction of the same cache key are serialized by a per-key
// lock, so concurrent requests for a cold tenant open at most one pool.
type Router struct {
	registry *Registry
	shared   Pool
	dial     PoolFactory
	rewriter *Rewriter
	log      *logger.Logger
	metrics  *telemetry.TenancyMetrics
	activity ActivityRecorder
	now      func() time.Time

	mu      sync.RWMutex
	handles map[string]*ConnectionHandle
	closed  bool

	locksMu sync.Mutex
	locks   map[string]*keyMutex
}

// NewRouter creates a router
func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		registry: cfg.Registry,
		shared:   cfg.Shared,
		dial:     cfg.Dial,
		rewriter: cfg.Rewriter,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
		activity: cfg.Activity,
		now:      cfg.Now,
		handles:  make(map[string]*ConnectionHandle),
		locks:    make(map[string]*keyMutex),
	}
	if r.log == nil {
		r.log = logger.NewNop()
	}
	r.log = r.log.Named("router")
	if r.now == nil {
		r.now = time.Now
	}
	if r.rewriter == nil {
		r.rewriter = NewRewriter("tenant_id", DefaultScopedTables)
	}
	if r.activity == nil {
		r.activity = nopRecorder{}
	}
	return r
}

// GetConnection returns the tenant's handle, creating it on a cache miss.
// Errors wrap domain.ErrTenantNotFound, domain.ErrUnsupportedStrategy or
// domain.ErrConnectionFailure.
func (r *Router) GetConnection(ctx context.Context, tenantID string) (*ConnectionHandle, error) {
	cfg, err := r.registry.Get(tenantID)
	if err != nil {
		return nil, err
	}

	key := cacheKey(cfg)
	if key == "" {
		return nil, fmt.Errorf("%w: %q for tenant %s", domain.ErrUnsupportedStrategy, cfg.Strategy, tenantID)
	}

	if h := r.cached(key); h != nil {
		h.touch(r.now())
		return h, nil
	}

	unlock := r.lockKey(key)
	defer unlock()

	// another caller may have created it while we waited
	if h := r.cached(key); h != nil {
		h.touch(r.now())
		return h, nil
	}

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, domain.ErrManagerClosed
	}

	h, err := r.open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = h.release()
		return nil, domain.ErrManagerClosed
	}
	r.handles[key] = h
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ConnectionsOpened.Inc(ctx, telemetry.TenantIDAttr(tenantID), telemetry.StrategyAttr(string(cfg.Strategy)))
		r.metrics.HandlesActive.Inc(ctx, telemetry.StrategyAttr(string(cfg.Strategy)))
	}
	r.activity.Log(tenantID, activity.KindConnectionOpened, map[string]any{"strategy": string(cfg.Strategy)})
	r.log.Debug("connection handle created", zap.String("key", key))

	return h, nil
}

func (r *Router) open(ctx context.Context, cfg *domain.TenantConfig) (*ConnectionHandle, error) {
	switch cfg.Strategy {
	case domain.StrategySharedSchema, domain.StrategySeparateSchema:
		if r.shared == nil {
			return nil, fmt.Errorf("%w: shared pool not initialized", domain.ErrConnectionFailure)
		}
		return newHandle(cfg, r.shared, false, r.rewriter, r.now()), nil

	case domain.StrategySeparateDatabase:
		if r.dial == nil {
			return nil, fmt.Errorf("%w: no pool factory for separate databases", domain.ErrConnectionFailure)
		}
		pool, err := r.dial(ctx, cfg)
		if err != nil {
			r.log.Warn("failed to open tenant database",
				zap.String("tenant_id", cfg.TenantID),
				zap.String("host", cfg.DBHost),
				zap.String("database", cfg.DatabaseName),
				zap.Error(err),
			)
			return nil, fmt.Errorf("%w: tenant %s: %w", domain.ErrConnectionFailure, cfg.TenantID, err)
		}
		return newHandle(cfg, pool, true, r.rewriter, r.now()), nil
	}

	return nil, fmt.Errorf("%w: %q for tenant %s", domain.ErrUnsupportedStrategy, cfg.Strategy, cfg.TenantID)
}

func (r *Router) cached(key string) *ConnectionHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[key]
}

type keyMutex struct {
	sync.Mutex
	refs int
}

// lockKey serializes opening and evicting one cache key. The entry is dropped
// once no caller holds or waits on it.
func (r *Router) lockKey(key string) (unlock func()) {
	r.locksMu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &keyMutex{}
		r.locks[key] = l
	}
	l.refs++
	r.locksMu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, key)
		}
		r.locksMu.Unlock()
	}
}

// Cached reports whether a handle exists for the tenant
func (r *Router) Cached(tenantID string) (*ConnectionHandle, bool) {
	cfg, err := r.registry.Get(tenantID)
	if err != nil {
		return nil, false
	}
	h := r.cached(cacheKey(cfg))
	return h, h != nil
}

// evictIf removes the handle under key when evict returns true, holding the
// key lock so no acquisition of the same key can interleave.
func (r *Router) evictIf(ctx context.Context, key string, evict func(h *ConnectionHandle) bool) (bool, error) {
	unlock := r.lockKey(key)
	defer unlock()

	r.mu.Lock()
	h, ok := r.handles[key]
	if !ok || !evict(h) {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.handles, key)
	r.mu.Unlock()

	err := h.release()
	if r.metrics != nil {
		r.metrics.HandlesEvicted.Inc(ctx, telemetry.StrategyAttr(string(h.strategy)))
		r.metrics.HandlesActive.Dec(ctx, telemetry.StrategyAttr(string(h.strategy)))
	}
	r.activity.Log(h.tenantID, activity.KindConnectionClosed, map[string]any{
		"strategy":     string(h.strategy),
		"idle_seconds": h.idleFor(r.now()).Seconds(),
	})
	return true, err
}

// keys returns a snapshot of the cached keys
func (r *Router) keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.handles))
	for k := range r.handles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// close stops new acquisitions, releases every handle and then the shared pool
func (r *Router) close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	var errs []error
	for _, key := range r.keys() {
		if _, err := r.evictIf(ctx, key, func(*ConnectionHandle) bool { return true }); err != nil {
			errs = append(errs, err)
		}
	}

	if r.shared != nil {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					errs = append(errs, fmt.Errorf("close shared pool: %v", rec))
				}
			}()
			r.shared.Close()
		}()
	}
	return errors.Join(errs...)
}

// Stats is a snapshot of the handle cache
type Stats struct {
	Handles    int                 `json:"handles"`
	ByStrategy map[string]int      `json:"by_strategy"`
	MasterPool *database.PoolStats `json:"master_pool,omitempty"`
}

// Stats returns a snapshot of cached handles
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{Handles: len(r.handles), ByStrategy: make(map[string]int)}
	for _, h := range r.handles {
		s.ByStrategy[string(h.strategy)]++
	}
	return s
}
