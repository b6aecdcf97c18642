package tenancy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
	"github.com/prohmpiriya/restaurant-ops/pkg/logger"
)

// TenantSource lists tenant records from the master store
type TenantSource interface {
	ListActive(ctx context.Context) ([]*domain.TenantConfig, error)
}

// Decrypter reverses credential encryption
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Registry is the in-memory map of active tenants.
//
// Readers never lock: the map is replaced wholesale on reload and copied on
// write, so a lookup sees either the previous or the next snapshot.
type Registry struct {
	source TenantSource
	vault  Decrypter
	log    *logger.Logger

	writeMu sync.Mutex
	tenants atomic.Pointer[map[string]*domain.TenantConfig]
	// tenants added since a reload started, keyed by id with the add generation
	gen    uint64
	recent map[string]addedTenant
}

type addedTenant struct {
	gen uint64
	cfg *domain.TenantConfig
}

// NewRegistry creates an empty registry
func NewRegistry(source TenantSource, vault Decrypter, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewNop()
	}
	r := &Registry{
		source: source,
		vault:  vault,
		log:    log.Named("registry"),
		recent: make(map[string]addedTenant),
	}
	empty := make(map[string]*domain.TenantConfig)
	r.tenants.Store(&empty)
	return r
}

// LoadAll reads every active tenant and atomically replaces the registry.
// Records whose password cannot be decrypted are skipped and logged.
// On a store error the current registry is kept.
func (r *Registry) LoadAll(ctx context.Context) (int, error) {
	r.writeMu.Lock()
	startGen := r.gen
	r.writeMu.Unlock()

	records, err := r.source.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("load tenant registry: %w", err)
	}

	next := make(map[string]*domain.TenantConfig, len(records))
	for _, rec := range records {
		if !rec.IsActive() {
			continue
		}
		if rec.DBPasswordEncrypted != "" && r.vault != nil {
			plain, err := r.vault.Decrypt(rec.DBPasswordEncrypted)
			if err != nil {
				r.log.Warn("skipping tenant with undecryptable credentials",
					zap.String("tenant_id", rec.TenantID),
					zap.Error(err),
				)
				continue
			}
			rec.DBPassword = plain
		}
		next[rec.TenantID] = rec
	}

	r.writeMu.Lock()
	for id, added := range r.recent {
		if added.gen <= startGen {
			delete(r.recent, id)
			continue
		}
		if _, ok := next[id]; !ok {
			next[id] = added.cfg
		}
	}
	r.tenants.Store(&next)
	r.writeMu.Unlock()

	r.log.Info("tenant registry loaded", zap.Int("tenants", len(next)), zap.Int("records", len(records)))
	return len(next), nil
}

// Get returns the active tenant with id. The returned config must not be modified.
func (r *Registry) Get(tenantID string) (*domain.TenantConfig, error) {
	cfg, ok := (*r.tenants.Load())[tenantID]
	if !ok || !cfg.IsActive() {
		return nil, fmt.Errorf("%w: %s", domain.ErrTenantNotFound, tenantID)
	}
	return cfg, nil
}

// Add inserts or replaces one tenant without disturbing concurrent readers
func (r *Registry) Add(cfg *domain.TenantConfig) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	cur := *r.tenants.Load()
	next := make(map[string]*domain.TenantConfig, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[cfg.TenantID] = cfg
	r.tenants.Store(&next)

	r.gen++
	r.recent[cfg.TenantID] = addedTenant{gen: r.gen, cfg: cfg}
}

// Len returns the number of active tenants
func (r *Registry) Len() int {
	return len(*r.tenants.Load())
}
