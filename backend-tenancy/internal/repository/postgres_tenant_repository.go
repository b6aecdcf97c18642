package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
)

const tenantColumns = `
	tenant_id, name, tenant_strategy,
	COALESCE(database_name, ''), COALESCE(schema_name, ''),
	COALESCE(db_host, ''), COALESCE(db_port, 0), COALESCE(db_user, ''),
	COALESCE(db_password_encrypted, ''), COALESCE(db_ssl_enabled, false),
	status, COALESCE(max_tables, 0), COALESCE(max_users, 0), COALESCE(api_key, ''), created_at`

// PostgresTenantRepository reads and provisions tenant records in PostgreSQL
type PostgresTenantRepository struct {
	db DBTX
}

// NewPostgresTenantRepository creates a repository reading through db (normally the master pool)
func NewPostgresTenantRepository(db DBTX) *PostgresTenantRepository {
	return &PostgresTenantRepository{db: db}
}

// ListActive returns every active tenant
func (r *PostgresTenantRepository) ListActive(ctx context.Context) ([]*domain.TenantConfig, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE status = $1 ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, domain.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	tenants := make([]*domain.TenantConfig, 0)
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenants: %w", err)
	}

	return tenants, nil
}

// InsertTenant writes the registry row
func (r *PostgresTenantRepository) InsertTenant(ctx context.Context, tx DBTX, cfg *domain.TenantConfig) error {
	query := `
		INSERT INTO tenants (
			tenant_id, name, tenant_strategy, database_name, schema_name,
			db_host, db_port, db_user, db_password_encrypted, db_ssl_enabled,
			status, max_tables, max_users, api_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := tx.Exec(ctx, query,
		cfg.TenantID,
		cfg.Name,
		string(cfg.Strategy),
		nullStringOrValue(cfg.DatabaseName),
		nullStringOrValue(cfg.SchemaName),
		nullStringOrValue(cfg.DBHost),
		nullIntOrValue(cfg.DBPort),
		nullStringOrValue(cfg.DBUser),
		nullStringOrValue(cfg.DBPasswordEncrypted),
		cfg.DBSSLEnabled,
		cfg.Status,
		cfg.MaxTables,
		cfg.MaxUsers,
		cfg.APIKey,
		cfg.CreatedAt,
	)
	return err
}

// CreateSchema creates an empty schema
func (r *PostgresTenantRepository) CreateSchema(ctx context.Context, tx DBTX, schema string) error {
	_, err := tx.Exec(ctx, "CREATE SCHEMA "+pgx.Identifier{schema}.Sanitize())
	return err
}

// ListTemplateTables returns the subset of candidates present in public
func (r *PostgresTenantRepository) ListTemplateTables(ctx context.Context, tx DBTX, candidates []string) ([]string, error) {
	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE' AND table_name = ANY($1)
		ORDER BY table_name
	`
	rows, err := tx.Query(ctx, query, candidates)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// CloneTable copies columns, defaults, constraints and indexes of public.table into schema
func (r *PostgresTenantRepository) CloneTable(ctx context.Context, tx DBTX, schema, table string) error {
	stmt := fmt.Sprintf("CREATE TABLE %s (LIKE %s INCLUDING ALL)",
		pgx.Identifier{schema, table}.Sanitize(),
		pgx.Identifier{"public", table}.Sanitize(),
	)
	_, err := tx.Exec(ctx, stmt)
	return err
}

// InsertSchemaMapping records the tenant's schema
func (r *PostgresTenantRepository) InsertSchemaMapping(ctx context.Context, tx DBTX, tenantID, schema string) error {
	query := `INSERT INTO tenant_schemas (tenant_id, schema_name, is_active) VALUES ($1, $2, true)`
	_, err := tx.Exec(ctx, query, tenantID, schema)
	return err
}

func scanTenant(row pgx.Row) (*domain.TenantConfig, error) {
	t := &domain.TenantConfig{}
	var strategy string
	err := row.Scan(
		&t.TenantID,
		&t.Name,
		&strategy,
		&t.DatabaseName,
		&t.SchemaName,
		&t.DBHost,
		&t.DBPort,
		&t.DBUser,
		&t.DBPasswordEncrypted,
		&t.DBSSLEnabled,
		&t.Status,
		&t.MaxTables,
		&t.MaxUsers,
		&t.APIKey,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Strategy = domain.Strategy(strategy)
	return t, nil
}

// nullStringOrValue returns nil for empty strings, otherwise returns the value
func nullStringOrValue(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIntOrValue(i int) any {
	if i == 0 {
		return nil
	}
	return i
}
