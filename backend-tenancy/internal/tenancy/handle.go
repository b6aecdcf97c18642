package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
)

// errHandleReleased marks use of a handle after eviction. It is always wrapped
// in domain.ErrConnectionFailure; ExecuteQuery retries once on a fresh handle.
var errHandleReleased = errors.New("connection handle released")

// Result is the outcome of one statement
type Result struct {
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	RowsAffected int64            `json:"rows_affected"`
}

// ConnectionHandle gives access to one tenant's data.
//
// A handle wraps a pool, never a single connection. Every statement checks a
// connection out, opens a transaction, applies the tenant's session context
// with transaction-local settings, runs, and commits. Nothing tenant-specific
// survives on a connection once it goes back to the pool.
type ConnectionHandle struct {
	key      string
	tenantID string
	strategy domain.Strategy
	schema   string
	pool     Pool
	owned    bool
	rewriter *Rewriter

	lastUsed atomic.Int64

	mu       sync.RWMutex
	released bool
}

func newHandle(cfg *domain.TenantConfig, pool Pool, owned bool, rewriter *Rewriter, now time.Time) *ConnectionHandle {
	h := &ConnectionHandle{
		key:      cacheKey(cfg),
		tenantID: cfg.TenantID,
		strategy: cfg.Strategy,
		pool:     pool,
		owned:    owned,
	}
	switch cfg.Strategy {
	case domain.StrategySeparateSchema:
		h.schema = cfg.EffectiveSchema()
	case domain.StrategySharedSchema:
		h.rewriter = rewriter
	}
	h.touch(now)
	return h
}

// cacheKey derives the handle cache key from strategy and tenant id
func cacheKey(cfg *domain.TenantConfig) string {
	switch cfg.Strategy {
	case domain.StrategySharedSchema:
		return "shared:" + cfg.TenantID
	case domain.StrategySeparateSchema:
		return "schema:" + cfg.TenantID
	case domain.StrategySeparateDatabase:
		return "db:" + cfg.TenantID
	}
	return ""
}

func (h *ConnectionHandle) Key() string               { return h.key }
func (h *ConnectionHandle) TenantID() string          { return h.tenantID }
func (h *ConnectionHandle) Strategy() domain.Strategy { return h.strategy }

// LastUsed returns the time of the last acquisition or query
func (h *ConnectionHandle) LastUsed() time.Time {
	return time.Unix(0, h.lastUsed.Load())
}

func (h *ConnectionHandle) touch(now time.Time) {
	h.lastUsed.Store(now.UnixNano())
}

func (h *ConnectionHandle) idleFor(now time.Time) time.Duration {
	return now.Sub(h.LastUsed())
}

// WithTx runs fn inside a transaction scoped to the tenant. The transaction is
// committed when fn returns nil and rolled back otherwise.
func (h *ConnectionHandle) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.released {
		return fmt.Errorf("%w: tenant %s: %w", domain.ErrConnectionFailure, h.tenantID, errHandleReleased)
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: tenant %s: %w", domain.ErrConnectionFailure, h.tenantID, err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	if err := h.applySessionContext(ctx, tx); err != nil {
		return fmt.Errorf("%w: tenant %s: set session context: %w", domain.ErrConnectionFailure, h.tenantID, err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Query executes one statement and collects its rows. For shared_schema
// tenants the statement is first passed through the isolation rewriter.
func (h *ConnectionHandle) Query(ctx context.Context, query string, args ...any) (*Result, error) {
	if h.rewriter != nil {
		query, args = h.rewriter.Rewrite(query, args, h.tenantID)
	}

	var result *Result
	err := h.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		result, err = collect(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (h *ConnectionHandle) applySessionContext(ctx context.Context, tx pgx.Tx) error {
	switch h.strategy {
	case domain.StrategySharedSchema:
		_, err := tx.Exec(ctx, "SELECT set_config('app.current_tenant', $1, true)", h.tenantID)
		return err
	case domain.StrategySeparateSchema:
		searchPath := pgx.Identifier{h.schema}.Sanitize() + ", public"
		_, err := tx.Exec(ctx, "SELECT set_config('search_path', $1, true)", searchPath)
		return err
	}
	return nil
}

// release marks the handle unusable and closes its pool if the handle owns it.
// It waits for in-flight statements on this handle to finish.
func (h *ConnectionHandle) release() (err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true

	if !h.owned || h.pool == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close pool for %s: %v", h.key, r)
		}
	}()
	h.pool.Close()
	return nil
}

func collect(rows pgx.Rows) (*Result, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &Result{
		Columns: make([]string, len(fields)),
		Rows:    make([]map[string]any, 0),
	}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(values))
		for i, v := range values {
			if i < len(result.Columns) {
				row[result.Columns[i]] = v
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result.RowsAffected = rows.CommandTag().RowsAffected()
	return result, nil
}
