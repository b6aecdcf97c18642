package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/activity"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/repository"
)

// statement is one Exec or Query seen by a fakePool
type statement struct {
	kind string // exec or query
	sql  string
	args []any
}

// fakePool stands in for *pgxpool.Pool
type fakePool struct {
	mu         sync.Mutex
	statements []statement
	begins     int
	commits    int
	rollbacks  int
	closes     int

	beginErr   error
	closePanic bool
	queryFn    func(sql string, args []any) (pgx.Rows, error)
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	p.begins++
	return &fakeTx{pool: p}, nil
}

func (p *fakePool) Ping(context.Context) error { return nil }

func (p *fakePool) Close() {
	p.mu.Lock()
	p.closes++
	shouldPanic := p.closePanic
	p.mu.Unlock()
	if shouldPanic {
		panic("close failed")
	}
}

func (p *fakePool) record(kind, sql string, args []any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statements = append(p.statements, statement{kind: kind, sql: sql, args: args})
}

func (p *fakePool) queries() []statement {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []statement
	for _, s := range p.statements {
		if s.kind == "query" {
			out = append(out, s)
		}
	}
	return out
}

func (p *fakePool) execs() []statement {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []statement
	for _, s := range p.statements {
		if s.kind == "exec" {
			out = append(out, s)
		}
	}
	return out
}

func (p *fakePool) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakeTx struct {
	pgx.Tx
	pool       *fakePool
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.pool.record("exec", sql, args)
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (t *fakeTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.pool.record("query", sql, args)
	t.pool.mu.Lock()
	fn := t.pool.queryFn
	t.pool.mu.Unlock()
	if fn != nil {
		return fn(sql, args)
	}
	return &fakeRows{tag: pgconn.NewCommandTag("SELECT 0")}, nil
}

func (t *fakeTx) Commit(context.Context) error {
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.committed = true
	t.pool.mu.Lock()
	t.pool.commits++
	t.pool.mu.Unlock()
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed || t.rolledBack {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	t.pool.mu.Lock()
	t.pool.rollbacks++
	t.pool.mu.Unlock()
	return nil
}

// fakeRows is an in-memory pgx.Rows
type fakeRows struct {
	fields []string
	data   [][]any
	tag    pgconn.CommandTag
	err    error
	idx    int
	closed bool
}

func countRows(n int64) *fakeRows {
	return &fakeRows{fields: []string{"count"}, data: [][]any{{n}}, tag: pgconn.NewCommandTag("SELECT 1")}
}

func (r *fakeRows) Close()                        { r.closed = true }
func (r *fakeRows) Err() error                    { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return r.tag }
func (r *fakeRows) RawValues() [][]byte           { return nil }
func (r *fakeRows) Conn() *pgx.Conn               { return nil }
func (r *fakeRows) Scan(...any) error             { return errors.New("scan not supported") }

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		out[i] = pgconn.FieldDescription{Name: f}
	}
	return out
}

func (r *fakeRows) Next() bool {
	if r.closed || r.err != nil || r.idx >= len(r.data) {
		r.closed = true
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.data[r.idx-1], nil
}

// fakeSource serves tenant records to the registry
type fakeSource struct {
	mu      sync.Mutex
	tenants []*domain.TenantConfig
	err     error
	calls   int
	// when set, ListActive signals entered and waits for release
	entered chan struct{}
	release chan struct{}
}

func (s *fakeSource) ListActive(context.Context) ([]*domain.TenantConfig, error) {
	s.mu.Lock()
	s.calls++
	entered, release := s.entered, s.release
	s.mu.Unlock()

	if entered != nil {
		close(entered)
		<-release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]*domain.TenantConfig, len(s.tenants))
	for i, t := range s.tenants {
		c := *t
		out[i] = &c
	}
	return out, nil
}

func (s *fakeSource) set(tenants ...*domain.TenantConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = tenants
}

// fakeClock is a settable time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// dialer hands out a fresh fakePool per call and counts calls
type dialer struct {
	calls atomic.Int32
	delay time.Duration
	err   error

	mu    sync.Mutex
	pools map[string][]*fakePool
}

func newDialer() *dialer {
	return &dialer{pools: make(map[string][]*fakePool)}
}

func (d *dialer) Dial(_ context.Context, cfg *domain.TenantConfig) (Pool, error) {
	d.calls.Add(1)
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	if d.err != nil {
		return nil, d.err
	}
	p := &fakePool{}
	d.mu.Lock()
	d.pools[cfg.TenantID] = append(d.pools[cfg.TenantID], p)
	d.mu.Unlock()
	return p, nil
}

func (d *dialer) poolsFor(tenantID string) []*fakePool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*fakePool(nil), d.pools[tenantID]...)
}

// recorder captures activity entries
type recorder struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (r *recorder) Log(tenantID string, kind activity.Kind, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, activity.Entry{TenantID: tenantID, Kind: kind, Metadata: metadata})
}

func (r *recorder) kinds(kind activity.Kind) []activity.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []activity.Entry
	for _, e := range r.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// fakeStore records provisioning steps and fails at a named one
type fakeStore struct {
	mu        sync.Mutex
	steps     []string
	failAt    string
	templates []string
	inserted  []*domain.TenantConfig
}

func (s *fakeStore) step(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, name)
	if s.failAt != "" && strings.HasPrefix(name, s.failAt) {
		return fmt.Errorf("%s failed", name)
	}
	return nil
}

func (s *fakeStore) InsertTenant(_ context.Context, _ repository.DBTX, cfg *domain.TenantConfig) error {
	if err := s.step("insert_tenant"); err != nil {
		return err
	}
	s.mu.Lock()
	s.inserted = append(s.inserted, cfg)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) CreateSchema(_ context.Context, _ repository.DBTX, schema string) error {
	return s.step("create_schema:" + schema)
}

func (s *fakeStore) ListTemplateTables(_ context.Context, _ repository.DBTX, candidates []string) ([]string, error) {
	if err := s.step("list_templates"); err != nil {
		return nil, err
	}
	if s.templates != nil {
		return s.templates, nil
	}
	return candidates, nil
}

func (s *fakeStore) CloneTable(_ context.Context, _ repository.DBTX, schema, table string) error {
	return s.step("clone:" + schema + "." + table)
}

func (s *fakeStore) InsertSchemaMapping(_ context.Context, _ repository.DBTX, tenantID, schema string) error {
	return s.step("insert_mapping:" + tenantID + ":" + schema)
}

func (s *fakeStore) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.steps...)
}

// fakeNotifier records published tenant ids
type fakeNotifier struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (n *fakeNotifier) Publish(_ context.Context, tenantID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, tenantID)
	return n.err
}

func sharedTenant(id string) *domain.TenantConfig {
	return &domain.TenantConfig{
		TenantID: id,
		Name:     id,
		Strategy: domain.StrategySharedSchema,
		Status:   domain.StatusActive,
		APIKey:   "key-" + id,
	}
}

func schemaTenant(id, schema string) *domain.TenantConfig {
	return &domain.TenantConfig{
		TenantID:   id,
		Name:       id,
		Strategy:   domain.StrategySeparateSchema,
		SchemaName: schema,
		Status:     domain.StatusActive,
		APIKey:     "key-" + id,
	}
}

func databaseTenant(id string) *domain.TenantConfig {
	return &domain.TenantConfig{
		TenantID:     id,
		Name:         id,
		Strategy:     domain.StrategySeparateDatabase,
		DatabaseName: "db_" + id,
		DBHost:       "tenant-db.internal",
		DBPort:       5432,
		DBUser:       "app",
		Status:       domain.StatusActive,
		APIKey:       "key-" + id,
	}
}

// fixture wires a registry, router and lifecycle over fakes
type fixture struct {
	source    *fakeSource
	registry  *Registry
	shared    *fakePool
	dialer    *dialer
	clock     *fakeClock
	activity  *recorder
	router    *Router
	lifecycle *Lifecycle
}

func newFixture(t *testing.T, tenants ...*domain.TenantConfig) *fixture {
	t.Helper()
	f := &fixture{
		source:   &fakeSource{tenants: tenants},
		shared:   &fakePool{},
		dialer:   newDialer(),
		clock:    newFakeClock(),
		activity: &recorder{},
	}
	f.registry = NewRegistry(f.source, nil, nil)
	if _, err := f.registry.LoadAll(context.Background()); err != nil {
		t.Fatalf("load registry: %v", err)
	}
	f.router = NewRouter(RouterConfig{
		Registry: f.registry,
		Shared:   f.shared,
		Dial:     f.dialer.Dial,
		Activity: f.activity,
		Now:      f.clock.Now,
	})
	f.lifecycle = NewLifecycle(f.router, time.Minute, 30*time.Minute, nil)
	return f
}
