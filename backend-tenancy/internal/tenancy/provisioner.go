package tenancy

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/activity"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/repository"
	"github.com/prohmpiriya/restaurant-ops/pkg/logger"
)

const (
	defaultMaxTables = 100
	defaultMaxUsers  = 10
	apiKeyPrefix     = "rk_"
)

var (
	tenantIDPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)
	identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
)

// ProvisionStore is the master-store surface the provisioner writes through
type ProvisionStore interface {
	InsertTenant(ctx context.Context, tx repository.DBTX, cfg *domain.TenantConfig) error
	CreateSchema(ctx context.Context, tx repository.DBTX, schema string) error
	ListTemplateTables(ctx context.Context, tx repository.DBTX, candidates []string) ([]string, error)
	CloneTable(ctx context.Context, tx repository.DBTX, schema, table string) error
	InsertSchemaMapping(ctx context.Context, tx repository.DBTX, tenantID, schema string) error
}

// Encrypter protects credentials before they are stored
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// TxBeginner opens transactions on the master store
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CreateTenantRequest describes a tenant to provision
type CreateTenantRequest struct {
	TenantID     string
	Name         string
	Strategy     domain.Strategy
	DatabaseName string
	SchemaName   string
	DBHost       string
	DBPort       int
	DBUser       string
	DBPassword   string
	DBSSLEnabled bool
	MaxTables    int
	MaxUsers     int
}

// ValidationError lists invalid request fields
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	return "invalid tenant: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return domain.ErrInvalidTenant }

// ProvisionerConfig holds Provisioner dependencies
type ProvisionerConfig struct {
	Master       TxBeginner
	Store        ProvisionStore
	Vault        Encrypter
	Registry     *Registry
	Notifier     Notifier
	Activity     ActivityRecorder
	ScopedTables []string
	Logger       *logger.Logger
	Now          func() time.Time
}

// Provisioner registers new tenants and creates their storage
type Provisioner struct {
	master   TxBeginner
	store    ProvisionStore
	vault    Encrypter
	registry *Registry
	notifier Notifier
	activity ActivityRecorder
	tables   []string
	log      *logger.Logger
	now      func() time.Time
}

// NewProvisioner creates a provisioner
func NewProvisioner(cfg ProvisionerConfig) *Provisioner {
	p := &Provisioner{
		master:   cfg.Master,
		store:    cfg.Store,
		vault:    cfg.Vault,
		registry: cfg.Registry,
		notifier: cfg.Notifier,
		activity: cfg.Activity,
		tables:   cfg.ScopedTables,
		log:      cfg.Logger,
		now:      cfg.Now,
	}
	if p.log == nil {
		p.log = logger.NewNop()
	}
	p.log = p.log.Named("provisioner")
	if p.notifier == nil {
		p.notifier = nopNotifier{}
	}
	if p.activity == nil {
		p.activity = nopRecorder{}
	}
	if p.tables == nil {
		p.tables = DefaultScopedTables
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// CreateTenant validates req, writes the registry row and creates the tenant's
// storage in one master-store transaction, then publishes the tenant to the
// in-memory registry. On any failure nothing is left behind.
func (p *Provisioner) CreateTenant(ctx context.Context, req CreateTenantRequest) (*domain.TenantConfig, error) {
	cfg, err := p.build(req)
	if err != nil {
		return nil, err
	}

	log := p.log.WithContext(ctx).WithFields(zap.String("tenant_id", cfg.TenantID), zap.String("strategy", string(cfg.Strategy)))

	tx, err := p.master.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", domain.ErrProvisioningFailure, err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(context.Background()); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err := p.store.InsertTenant(ctx, tx, cfg); err != nil {
		return nil, p.fail(log, "insert tenant", err)
	}

	if cfg.Strategy == domain.StrategySeparateSchema {
		if err := p.createSchema(ctx, tx, cfg); err != nil {
			return nil, p.fail(log, "create schema", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, p.fail(log, "commit", err)
	}
	committed = true

	p.registry.Add(cfg)

	if err := p.notifier.Publish(ctx, cfg.TenantID); err != nil {
		log.Warn("failed to announce new tenant", zap.Error(err))
	}
	p.activity.Log(cfg.TenantID, activity.KindTenantCreated, map[string]any{
		"strategy": string(cfg.Strategy),
		"name":     cfg.Name,
	})
	log.Info("tenant provisioned")

	return cfg, nil
}

func (p *Provisioner) createSchema(ctx context.Context, tx pgx.Tx, cfg *domain.TenantConfig) error {
	schema := cfg.SchemaName
	if err := p.store.CreateSchema(ctx, tx, schema); err != nil {
		return err
	}

	tables, err := p.store.ListTemplateTables(ctx, tx, p.tables)
	if err != nil {
		return fmt.Errorf("list template tables: %w", err)
	}
	for _, table := range tables {
		if err := p.store.CloneTable(ctx, tx, schema, table); err != nil {
			return fmt.Errorf("clone %s: %w", table, err)
		}
	}

	return p.store.InsertSchemaMapping(ctx, tx, cfg.TenantID, schema)
}

func (p *Provisioner) fail(log *logger.Logger, step string, err error) error {
	log.Error("tenant provisioning failed", zap.String("step", step), zap.Error(err))
	return fmt.Errorf("%w: %s: %w", domain.ErrProvisioningFailure, step, err)
}

// build validates req and fills defaults
func (p *Provisioner) build(req CreateTenantRequest) (*domain.TenantConfig, error) {
	fields := make(map[string]string)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		fields["name"] = "is required"
	} else if len(name) > 255 {
		fields["name"] = "must be at most 255 characters"
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = domain.StrategySharedSchema
	}
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedStrategy, strategy)
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		tenantID = uuid.New().String()
	} else if !tenantIDPattern.MatchString(tenantID) {
		fields["tenant_id"] = "must be 1-63 letters, digits, '-' or '_'"
	} else if _, err := p.registry.Get(tenantID); err == nil {
		fields["tenant_id"] = "already exists"
	}

	if req.MaxTables < 0 {
		fields["max_tables"] = "must not be negative"
	}
	if req.MaxUsers < 0 {
		fields["max_users"] = "must not be negative"
	}

	cfg := &domain.TenantConfig{
		TenantID:  tenantID,
		Name:      name,
		Strategy:  strategy,
		Status:    domain.StatusActive,
		MaxTables: orDefault(req.MaxTables, defaultMaxTables),
		MaxUsers:  orDefault(req.MaxUsers, defaultMaxUsers),
		CreatedAt: p.now().UTC(),
	}

	switch strategy {
	case domain.StrategySeparateSchema:
		cfg.SchemaName = strings.ToLower(strings.TrimSpace(req.SchemaName))
		if cfg.SchemaName == "" {
			cfg.SchemaName = domain.DefaultSchemaName(tenantID)
		}
		if !identifierPattern.MatchString(cfg.SchemaName) || strings.HasPrefix(cfg.SchemaName, "pg_") {
			fields["schema_name"] = "must be a lowercase identifier not starting with pg_"
		}

	case domain.StrategySeparateDatabase:
		cfg.DBHost = strings.TrimSpace(req.DBHost)
		cfg.DBUser = strings.TrimSpace(req.DBUser)
		cfg.DBPort = orDefault(req.DBPort, 5432)
		cfg.DBSSLEnabled = req.DBSSLEnabled
		cfg.DatabaseName = strings.TrimSpace(req.DatabaseName)
		if cfg.DatabaseName == "" {
			cfg.DatabaseName = domain.DefaultSchemaName(tenantID)
		}
		if cfg.DBHost == "" {
			fields["db_host"] = "is required for separate_database"
		}
		if cfg.DBUser == "" {
			fields["db_user"] = "is required for separate_database"
		}
		if cfg.DBPort < 1 || cfg.DBPort > 65535 {
			fields["db_port"] = "must be between 1 and 65535"
		}
		if req.DBPassword != "" {
			if p.vault == nil {
				return nil, fmt.Errorf("%w: no vault configured", domain.ErrVaultFailure)
			}
			encrypted, err := p.vault.Encrypt(req.DBPassword)
			if err != nil {
				return nil, err
			}
			cfg.DBPassword = req.DBPassword
			cfg.DBPasswordEncrypted = encrypted
		}
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	key, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("%w: generate api key: %w", domain.ErrProvisioningFailure, err)
	}
	cfg.APIKey = key

	return cfg, nil
}

func generateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(b), nil
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
