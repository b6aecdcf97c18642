package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultEncryptionKey = "change-me-tenant-encryption-key"

// Config holds all application configuration
type Config struct {
	App            AppConfig      `mapstructure:"app"`
	Server         ServerConfig   `mapstructure:"server"`
	MasterDatabase DatabaseConfig `mapstructure:"master_database"`
	Vault          VaultConfig    `mapstructure:"vault"`
	Tenancy        TenancyConfig  `mapstructure:"tenancy"`
	Redis          RedisConfig    `mapstructure:"redis"`
	Kafka          KafkaConfig    `mapstructure:"kafka"`
	OTel           OTelConfig     `mapstructure:"otel"`
	Log            LogConfig      `mapstructure:"log"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// AdminToken guards tenant provisioning and maintenance routes
	AdminToken string `mapstructure:"admin_token"`
	// CORSOrigins empty allows any origin
	CORSOrigins []string `mapstructure:"cors_origins"`
	TenantRPS   int      `mapstructure:"tenant_rps"`
	TenantBurst int      `mapstructure:"tenant_burst"`
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings for the master store
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// VaultConfig holds the process-wide secret used to encrypt tenant credentials
type VaultConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// TenancyConfig holds connection routing and lifecycle settings
type TenancyConfig struct {
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	MaxIdle           time.Duration `mapstructure:"max_idle"`
	TenantMaxConns    int           `mapstructure:"tenant_max_conns"`
	TenantMinConns    int           `mapstructure:"tenant_min_conns"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ActivityBuffer    int           `mapstructure:"activity_buffer"`
	ActivityBatchSize int           `mapstructure:"activity_batch_size"`
	ActivityFlush     time.Duration `mapstructure:"activity_flush"`
}

// RedisConfig holds Redis connection settings used for registry reload notifications
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Channel      string        `mapstructure:"channel"`
}

// Addr returns the Redis address, empty when Redis is not configured
func (r *RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda settings for the activity sink
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ClientID      string   `mapstructure:"client_id"`
	ActivityTopic string   `mapstructure:"activity_topic"`
}

// Enabled reports whether at least one broker is configured
func (k *KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServiceName   string `mapstructure:"service_name"`
	CollectorAddr string `mapstructure:"collector_addr"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine, env vars still apply
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "restaurant-ops-tenancy")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")
	v.SetDefault("SERVER_ADMIN_TOKEN", "")
	v.SetDefault("SERVER_CORS_ORIGINS", "")
	v.SetDefault("SERVER_TENANT_RPS", 50)
	v.SetDefault("SERVER_TENANT_BURST", 100)

	// Master database defaults
	v.SetDefault("MASTER_DATABASE_HOST", "localhost")
	v.SetDefault("MASTER_DATABASE_PORT", 5432)
	v.SetDefault("MASTER_DATABASE_USER", "postgres")
	v.SetDefault("MASTER_DATABASE_PASSWORD", "postgres")
	v.SetDefault("MASTER_DATABASE_DBNAME", "restaurant_ops")
	v.SetDefault("MASTER_DATABASE_SSLMODE", "disable")
	v.SetDefault("MASTER_DATABASE_MAX_CONNS", 50)
	v.SetDefault("MASTER_DATABASE_MIN_CONNS", 5)
	v.SetDefault("MASTER_DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("MASTER_DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("MASTER_DATABASE_CONNECT_TIMEOUT", "5s")
	v.SetDefault("MASTER_DATABASE_MAX_RETRIES", 3)
	v.SetDefault("MASTER_DATABASE_RETRY_INTERVAL", "2s")

	// Vault defaults
	v.SetDefault("TENANT_ENCRYPTION_KEY", defaultEncryptionKey)

	// Tenancy defaults
	v.SetDefault("TENANCY_SWEEP_INTERVAL", "10m")
	v.SetDefault("TENANCY_MAX_IDLE", "30m")
	v.SetDefault("TENANCY_TENANT_MAX_CONNS", 10)
	v.SetDefault("TENANCY_TENANT_MIN_CONNS", 0)
	v.SetDefault("TENANCY_CONNECT_TIMEOUT", "5s")
	v.SetDefault("TENANCY_ACTIVITY_BUFFER", 1000)
	v.SetDefault("TENANCY_ACTIVITY_BATCH_SIZE", 100)
	v.SetDefault("TENANCY_ACTIVITY_FLUSH", "5s")

	// Redis defaults (empty host disables reload notifications)
	v.SetDefault("REDIS_HOST", "")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")
	v.SetDefault("REDIS_CHANNEL", "tenancy:registry:reload")

	// Kafka defaults (empty brokers disables the activity topic)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_CLIENT_ID", "restaurant-ops-tenancy")
	v.SetDefault("KAFKA_ACTIVITY_TOPIC", "tenant-activity")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "restaurant-ops-tenancy")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")

	// Log defaults
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_OUTPUT_PATH", "stdout")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")
	cfg.Server.AdminToken = v.GetString("SERVER_ADMIN_TOKEN")
	cfg.Server.CORSOrigins = splitList(v.GetString("SERVER_CORS_ORIGINS"))
	cfg.Server.TenantRPS = v.GetInt("SERVER_TENANT_RPS")
	cfg.Server.TenantBurst = v.GetInt("SERVER_TENANT_BURST")

	// Master database
	cfg.MasterDatabase.Host = v.GetString("MASTER_DATABASE_HOST")
	cfg.MasterDatabase.Port = v.GetInt("MASTER_DATABASE_PORT")
	cfg.MasterDatabase.User = v.GetString("MASTER_DATABASE_USER")
	cfg.MasterDatabase.Password = v.GetString("MASTER_DATABASE_PASSWORD")
	cfg.MasterDatabase.DBName = v.GetString("MASTER_DATABASE_DBNAME")
	cfg.MasterDatabase.SSLMode = v.GetString("MASTER_DATABASE_SSLMODE")
	cfg.MasterDatabase.MaxConns = v.GetInt("MASTER_DATABASE_MAX_CONNS")
	cfg.MasterDatabase.MinConns = v.GetInt("MASTER_DATABASE_MIN_CONNS")
	cfg.MasterDatabase.ConnMaxLifetime = v.GetDuration("MASTER_DATABASE_CONN_MAX_LIFETIME")
	cfg.MasterDatabase.ConnMaxIdleTime = v.GetDuration("MASTER_DATABASE_CONN_MAX_IDLE_TIME")
	cfg.MasterDatabase.ConnectTimeout = v.GetDuration("MASTER_DATABASE_CONNECT_TIMEOUT")
	cfg.MasterDatabase.MaxRetries = v.GetInt("MASTER_DATABASE_MAX_RETRIES")
	cfg.MasterDatabase.RetryInterval = v.GetDuration("MASTER_DATABASE_RETRY_INTERVAL")

	// Vault
	cfg.Vault.EncryptionKey = v.GetString("TENANT_ENCRYPTION_KEY")

	// Tenancy
	cfg.Tenancy.SweepInterval = v.GetDuration("TENANCY_SWEEP_INTERVAL")
	cfg.Tenancy.MaxIdle = v.GetDuration("TENANCY_MAX_IDLE")
	cfg.Tenancy.TenantMaxConns = v.GetInt("TENANCY_TENANT_MAX_CONNS")
	cfg.Tenancy.TenantMinConns = v.GetInt("TENANCY_TENANT_MIN_CONNS")
	cfg.Tenancy.ConnectTimeout = v.GetDuration("TENANCY_CONNECT_TIMEOUT")
	cfg.Tenancy.ActivityBuffer = v.GetInt("TENANCY_ACTIVITY_BUFFER")
	cfg.Tenancy.ActivityBatchSize = v.GetInt("TENANCY_ACTIVITY_BATCH_SIZE")
	cfg.Tenancy.ActivityFlush = v.GetDuration("TENANCY_ACTIVITY_FLUSH")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")
	cfg.Redis.Channel = v.GetString("REDIS_CHANNEL")

	// Kafka
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.ActivityTopic = v.GetString("KAFKA_ACTIVITY_TOPIC")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")

	// Log
	cfg.Log.Level = v.GetString("LOG_LEVEL")
	cfg.Log.OutputPath = v.GetString("LOG_OUTPUT_PATH")
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.MasterDatabase.Host == "" {
		return fmt.Errorf("master database host is required")
	}

	if c.MasterDatabase.DBName == "" {
		return fmt.Errorf("master database name is required")
	}

	if c.Vault.EncryptionKey == "" {
		return fmt.Errorf("tenant encryption key is required")
	}

	if c.App.Environment == "production" && c.Vault.EncryptionKey == defaultEncryptionKey {
		return fmt.Errorf("tenant encryption key must be changed in production")
	}

	if c.Tenancy.SweepInterval <= 0 {
		return fmt.Errorf("invalid tenancy sweep interval: %s", c.Tenancy.SweepInterval)
	}

	if c.Tenancy.MaxIdle <= 0 {
		return fmt.Errorf("invalid tenancy max idle: %s", c.Tenancy.MaxIdle)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
