package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
	"github.com/prohmpiriya/restaurant-ops/pkg/database"
)

// Pool is the subset of *pgxpool.Pool the tenancy layer needs
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PoolFactory opens a dedicated pool for a separate_database tenant.
// The returned pool must already have been pinged successfully.
type PoolFactory func(ctx context.Context, cfg *domain.TenantConfig) (Pool, error)

// PoolSettings sizes dedicated tenant pools
type PoolSettings struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// NewPostgresPoolFactory returns a factory that opens pgx pools against tenant databases.
// Connects are attempted once; the router owns retry policy.
func NewPostgresPoolFactory(settings PoolSettings) PoolFactory {
	return func(ctx context.Context, cfg *domain.TenantConfig) (Pool, error) {
		if cfg.DBHost == "" || cfg.DatabaseName == "" {
			return nil, fmt.Errorf("tenant %s has no database coordinates", cfg.TenantID)
		}

		port := cfg.DBPort
		if port == 0 {
			port = 5432
		}

		db, err := database.NewPostgres(ctx, &database.PostgresConfig{
			Host:            cfg.DBHost,
			Port:            port,
			User:            cfg.DBUser,
			Password:        cfg.DBPassword,
			Database:        cfg.DatabaseName,
			SSLMode:         cfg.SSLMode(),
			MaxConns:        settings.MaxConns,
			MinConns:        settings.MinConns,
			MaxConnLifetime: settings.MaxConnLifetime,
			MaxConnIdleTime: settings.MaxConnIdleTime,
			ConnectTimeout:  settings.ConnectTimeout,
			MaxRetries:      0,
		})
		if err != nil {
			return nil, err
		}
		return db.Pool(), nil
	}
}
