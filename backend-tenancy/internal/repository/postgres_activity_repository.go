package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/activity"
)

// BatchSender is satisfied by *pgxpool.Pool and pgx.Tx
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// PostgresActivityRepository writes activity entries to tenant_activity_logs.
// It implements activity.Sink.
type PostgresActivityRepository struct {
	db BatchSender
}

// NewPostgresActivityRepository creates a new activity repository
func NewPostgresActivityRepository(db BatchSender) *PostgresActivityRepository {
	return &PostgresActivityRepository{db: db}
}

// Write inserts the entries in one round trip
func (r *PostgresActivityRepository) Write(ctx context.Context, entries []activity.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	query := `
		INSERT INTO tenant_activity_logs (id, tenant_id, activity_type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	batch := &pgx.Batch{}
	for _, e := range entries {
		metadata, err := json.Marshal(e.Metadata)
		if err != nil || string(metadata) == "null" {
			metadata = []byte("{}")
		}
		batch.Queue(query, e.ID, e.TenantID, string(e.Kind), metadata, e.CreatedAt)
	}

	results := r.db.SendBatch(ctx, batch)
	var errs []error
	for i := range entries {
		if _, err := results.Exec(); err != nil {
			errs = append(errs, fmt.Errorf("activity %s: %w", entries[i].ID, err))
		}
	}
	if err := results.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

var _ activity.Sink = (*PostgresActivityRepository)(nil)
