package config

import (
	"os"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:            AppConfig{Name: "test", Environment: "development"},
		Server:         ServerConfig{Port: 8080},
		MasterDatabase: DatabaseConfig{Host: "localhost", DBName: "restaurant_ops"},
		Vault:          VaultConfig{EncryptionKey: "secret"},
		Tenancy:        TenancyConfig{SweepInterval: 10 * time.Minute, MaxIdle: 30 * time.Minute},
	}
}

func TestLoad_WithDefaults(t *testing.T) {
	envVars := []string{
		"APP_NAME", "APP_ENVIRONMENT", "SERVER_PORT",
		"MASTER_DATABASE_HOST", "MASTER_DATABASE_PORT", "MASTER_DATABASE_DBNAME",
		"TENANT_ENCRYPTION_KEY", "TENANCY_SWEEP_INTERVAL", "TENANCY_MAX_IDLE",
		"REDIS_HOST", "KAFKA_BROKERS",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Name != "restaurant-ops-tenancy" {
		t.Errorf("App.Name = %q, want %q", cfg.App.Name, "restaurant-ops-tenancy")
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}

	if cfg.MasterDatabase.Port != 5432 {
		t.Errorf("MasterDatabase.Port = %d, want %d", cfg.MasterDatabase.Port, 5432)
	}

	if cfg.Tenancy.SweepInterval != 10*time.Minute {
		t.Errorf("Tenancy.SweepInterval = %s, want 10m", cfg.Tenancy.SweepInterval)
	}

	if cfg.Tenancy.MaxIdle != 30*time.Minute {
		t.Errorf("Tenancy.MaxIdle = %s, want 30m", cfg.Tenancy.MaxIdle)
	}

	if cfg.Redis.Addr() != "" {
		t.Errorf("Redis.Addr() = %q, want empty when host unset", cfg.Redis.Addr())
	}

	if cfg.Kafka.Enabled() {
		t.Error("Kafka.Enabled() = true, want false without brokers")
	}
}

func TestLoad_WithEnvOverride(t *testing.T) {
	t.Setenv("APP_NAME", "test-app")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("MASTER_DATABASE_HOST", "master-db.example.com")
	t.Setenv("TENANCY_MAX_IDLE", "45m")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("SERVER_CORS_ORIGINS", "https://pos.example.com,https://admin.example.com")
	t.Setenv("SERVER_TENANT_RPS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Name != "test-app" {
		t.Errorf("App.Name = %q, want %q", cfg.App.Name, "test-app")
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}

	if cfg.MasterDatabase.Host != "master-db.example.com" {
		t.Errorf("MasterDatabase.Host = %q, want %q", cfg.MasterDatabase.Host, "master-db.example.com")
	}

	if cfg.Tenancy.MaxIdle != 45*time.Minute {
		t.Errorf("Tenancy.MaxIdle = %s, want 45m", cfg.Tenancy.MaxIdle)
	}

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "kafka-2:9092" {
		t.Errorf("Kafka.Brokers = %v, want two trimmed brokers", cfg.Kafka.Brokers)
	}

	if len(cfg.Server.CORSOrigins) != 2 {
		t.Errorf("Server.CORSOrigins = %v, want two origins", cfg.Server.CORSOrigins)
	}

	if cfg.Server.TenantRPS != 5 || cfg.Server.TenantBurst != 100 {
		t.Errorf("Server rate limit = %d/%d, want 5/100", cfg.Server.TenantRPS, cfg.Server.TenantBurst)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	if dsn := cfg.DSN(); dsn != expected {
		t.Errorf("DSN() = %q, want %q", dsn, expected)
	}
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{
		Host: "redis.example.com",
		Port: 6380,
	}

	expected := "redis.example.com:6380"
	if addr := cfg.Addr(); addr != expected {
		t.Errorf("Addr() = %q, want %q", addr, expected)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"missing app name", func(c *Config) { c.App.Name = "" }, true},
		{"invalid port", func(c *Config) { c.Server.Port = -1 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"missing master host", func(c *Config) { c.MasterDatabase.Host = "" }, true},
		{"missing master dbname", func(c *Config) { c.MasterDatabase.DBName = "" }, true},
		{"missing encryption key", func(c *Config) { c.Vault.EncryptionKey = "" }, true},
		{
			name: "default encryption key in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.Vault.EncryptionKey = defaultEncryptionKey
			},
			wantErr: true,
		},
		{"zero sweep interval", func(c *Config) { c.Tenancy.SweepInterval = 0 }, true},
		{"zero max idle", func(c *Config) { c.Tenancy.MaxIdle = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	cfg := &Config{
		App: AppConfig{Environment: "production"},
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true")
	}

	cfg.App.Environment = "development"
	if cfg.IsProduction() {
		t.Error("IsProduction() = true, want false")
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{
		App: AppConfig{Environment: "development"},
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}

	cfg.App.Environment = "production"
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false")
	}
}
