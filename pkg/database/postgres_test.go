package database

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prohmpiriya/restaurant-ops/pkg/config"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func integrationConfig(t *testing.T) *PostgresConfig {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	port := 5432
	if p, err := strconv.Atoi(os.Getenv("TEST_POSTGRES_PORT")); err == nil {
		port = p
	}
	return &PostgresConfig{
		Host:           envOr("TEST_POSTGRES_HOST", "localhost"),
		Port:           port,
		User:           envOr("TEST_POSTGRES_USER", "postgres"),
		Password:       envOr("TEST_POSTGRES_PASSWORD", "postgres"),
		Database:       envOr("TEST_POSTGRES_DATABASE", "restaurant_ops_test"),
		SSLMode:        "disable",
		MaxConns:       4,
		ConnectTimeout: 5 * time.Second,
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	dsn := cfg.DSN()
	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"

	if dsn != expected {
		t.Errorf("DSN mismatch:\nExpected: %s\nGot: %s", expected, dsn)
	}
}

func TestPostgresConfig_DSNQuotesValues(t *testing.T) {
	cfg := &PostgresConfig{
		Host:     "tenant-db",
		Port:     5432,
		User:     "app",
		Password: `it's a p\ss`,
		Database: "tenant_t4",
		SSLMode:  "require",
	}

	expected := `host=tenant-db port=5432 user=app password='it\'s a p\\ss' dbname=tenant_t4 sslmode=require`
	if dsn := cfg.DSN(); dsn != expected {
		t.Errorf("DSN mismatch:\nExpected: %s\nGot: %s", expected, dsn)
	}

	cfg.Password = ""
	if dsn := cfg.DSN(); !strings.Contains(dsn, "password='' ") {
		t.Errorf("empty password must be quoted, got %s", dsn)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.DatabaseConfig{
		Host:            "master-db",
		Port:            6543,
		User:            "ops",
		Password:        "pw",
		DBName:          "restaurant_ops",
		SSLMode:         "require",
		MaxConns:        40,
		MinConns:        2,
		ConnMaxIdleTime: time.Minute,
		MaxRetries:      5,
	})

	if cfg.Database != "restaurant_ops" {
		t.Errorf("Expected database 'restaurant_ops', got '%s'", cfg.Database)
	}
	if cfg.MaxConns != 40 || cfg.MinConns != 2 {
		t.Errorf("Expected conns 40/2, got %d/%d", cfg.MaxConns, cfg.MinConns)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("Expected max retries 5, got %d", cfg.MaxRetries)
	}
	if cfg.DSN() != "host=master-db port=6543 user=ops password=pw dbname=restaurant_ops sslmode=require" {
		t.Errorf("Unexpected DSN: %s", cfg.DSN())
	}
}

func TestNewPostgres_InvalidConfig(t *testing.T) {
	cfg := &PostgresConfig{
		Host:           "invalid-host-that-does-not-exist",
		Port:           9999,
		User:           "invalid",
		Password:       "invalid",
		Database:       "invalid",
		SSLMode:        "disable",
		MaxRetries:     0,
		RetryInterval:  100 * time.Millisecond,
		ConnectTimeout: 1 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewPostgres(ctx, cfg)
	if err == nil {
		t.Error("Expected error for invalid config, got nil")
	}
}

func TestPostgresDB_HealthAndStats_Integration(t *testing.T) {
	cfg := integrationConfig(t)
	ctx := context.Background()

	db, err := NewPostgres(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}

	stats := db.Stats()
	if stats.MaxConns != 4 {
		t.Errorf("Expected max conns 4, got %d", stats.MaxConns)
	}
	if stats.AcquireCount < 1 {
		t.Errorf("Expected at least one acquire, got %d", stats.AcquireCount)
	}
	if stats.AcquiredConns != 0 {
		t.Errorf("Expected no connections held after health check, got %d", stats.AcquiredConns)
	}

	db.Close()
	if err := db.HealthCheck(ctx); err == nil {
		t.Error("Expected HealthCheck to fail after Close")
	}
}
