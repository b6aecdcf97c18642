package tenancy

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
	"github.com/prohmpiriya/restaurant-ops/pkg/config"
	"github.com/prohmpiriya/restaurant-ops/pkg/database"
	"github.com/prohmpiriya/restaurant-ops/pkg/logger"
)

// Run with: INTEGRATION_TEST=true TEST_DB_HOST=<host> TEST_DB_PASSWORD=<password> go test ./backend-tenancy/internal/tenancy/... -run TestIntegration

func integrationConfig(t *testing.T) *config.Config {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	port := 5432
	if p := os.Getenv("TEST_DB_PORT"); p != "" {
		n, err := strconv.Atoi(p)
		require.NoError(t, err)
		port = n
	}

	return &config.Config{
		MasterDatabase: config.DatabaseConfig{
			Host:     envOr("TEST_DB_HOST", "localhost"),
			Port:     port,
			User:     envOr("TEST_DB_USER", "postgres"),
			Password: envOr("TEST_DB_PASSWORD", "postgres"),
			DBName:   envOr("TEST_DB_NAME", "restaurant_ops_test"),
			SSLMode:  "disable",
			MaxConns: 5,
		},
		Vault: config.VaultConfig{EncryptionKey: "integration-test-key"},
		Tenancy: config.TenancyConfig{
			SweepInterval:  time.Minute,
			MaxIdle:        30 * time.Minute,
			TenantMaxConns: 2,
			ConnectTimeout: 5 * time.Second,
			ActivityFlush:  100 * time.Millisecond,
		},
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func applySchema(t *testing.T, ctx context.Context, cfg *config.Config) *database.PostgresDB {
	t.Helper()
	db, err := database.NewPostgres(ctx, database.FromConfig(cfg.MasterDatabase))
	require.NoError(t, err)

	migration, err := os.ReadFile("../../migrations/001_tenancy.sql")
	require.NoError(t, err)
	_, err = db.Pool().Exec(ctx, string(migration))
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx, `
		CREATE TABLE IF NOT EXISTS inventory_items (
			id         BIGSERIAL PRIMARY KEY,
			tenant_id  VARCHAR(63) NOT NULL DEFAULT '',
			name       TEXT NOT NULL,
			quantity   INTEGER NOT NULL DEFAULT 0
		)`)
	require.NoError(t, err)
	return db
}

func TestIntegration_SharedTenantsAreIsolated(t *testing.T) {
	cfg := integrationConfig(t)
	ctx := context.Background()
	db := applySchema(t, ctx, cfg)
	defer db.Close()

	m, err := Initialize(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Shutdown(context.Background())) }()

	suffix := strings.ReplaceAll(uuid.New().String()[:8], "-", "")
	a, err := m.CreateTenant(ctx, CreateTenantRequest{TenantID: "it-a-" + suffix, Name: "A"})
	require.NoError(t, err)
	b, err := m.CreateTenant(ctx, CreateTenantRequest{TenantID: "it-b-" + suffix, Name: "B"})
	require.NoError(t, err)
	defer func() {
		_, _ = db.Pool().Exec(context.Background(), `DELETE FROM inventory_items WHERE tenant_id = ANY($1)`, []string{a.TenantID, b.TenantID})
		_, _ = db.Pool().Exec(context.Background(), `DELETE FROM tenants WHERE tenant_id = ANY($1)`, []string{a.TenantID, b.TenantID})
	}()

	_, err = m.ExecuteQuery(ctx, a.TenantID, `INSERT INTO inventory_items (tenant_id, name, quantity) VALUES ($1, 'flour', 3)`, a.TenantID)
	require.NoError(t, err)
	_, err = m.ExecuteQuery(ctx, b.TenantID, `INSERT INTO inventory_items (tenant_id, name, quantity) VALUES ($1, 'rice', 9)`, b.TenantID)
	require.NoError(t, err)

	res, err := m.ExecuteQuery(ctx, a.TenantID, `SELECT name FROM inventory_items`)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "flour", res.Rows[0]["name"])

	assert.True(t, m.ValidateTenantAccess(a.TenantID, a.APIKey))
	assert.False(t, m.ValidateTenantAccess(a.TenantID, b.APIKey))
}

func TestIntegration_SeparateSchemaTenant(t *testing.T) {
	cfg := integrationConfig(t)
	ctx := context.Background()
	db := applySchema(t, ctx, cfg)
	defer db.Close()

	m, err := Initialize(ctx, cfg, logger.NewNop())
	require.NoError(t, err)
	defer func() { require.NoError(t, m.Shutdown(context.Background())) }()

	id := "it-s-" + uuid.New().String()[:8]
	tenant, err := m.CreateTenant(ctx, CreateTenantRequest{
		TenantID: id,
		Name:     "Schema Tenant",
		Strategy: domain.StrategySeparateSchema,
	})
	require.NoError(t, err)
	defer func() {
		_, _ = db.Pool().Exec(context.Background(), `DROP SCHEMA IF EXISTS "`+tenant.SchemaName+`" CASCADE`)
		_, _ = db.Pool().Exec(context.Background(), `DELETE FROM tenants WHERE tenant_id = $1`, id)
	}()

	_, err = m.ExecuteQuery(ctx, id, `INSERT INTO inventory_items (name, quantity) VALUES ('salt', 1)`)
	require.NoError(t, err)

	metrics, err := m.GetTenantMetrics(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), metrics.RowCounts["inventory_items"])
	assert.GreaterOrEqual(t, metrics.TableCount, 1)

	// the row went to the tenant schema, not public
	var publicCount int64
	require.NoError(t, db.Pool().QueryRow(ctx, `SELECT COUNT(*) FROM public.inventory_items WHERE name = 'salt' AND tenant_id = ''`).Scan(&publicCount))
	assert.Zero(t, publicCount)
}
