package dto

import (
	"time"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/tenancy"
)

// CreateTenantRequest represents request to provision a new tenant
type CreateTenantRequest struct {
	TenantID     string `json:"tenant_id" binding:"omitempty,max=63"`
	Name         string `json:"name" binding:"required,max=255"`
	Strategy     string `json:"tenant_strategy" binding:"omitempty"`
	SchemaName   string `json:"schema_name" binding:"omitempty,max=63"`
	DatabaseName string `json:"database_name" binding:"omitempty,max=63"`
	DBHost       string `json:"db_host" binding:"omitempty,max=255"`
	DBPort       int    `json:"db_port" binding:"omitempty,min=1,max=65535"`
	DBUser       string `json:"db_user" binding:"omitempty,max=63"`
	DBPassword   string `json:"db_password" binding:"omitempty"`
	DBSSLEnabled bool   `json:"db_ssl_enabled"`
	MaxTables    int    `json:"max_tables" binding:"omitempty,min=0"`
	MaxUsers     int    `json:"max_users" binding:"omitempty,min=0"`
}

// ToProvisionRequest converts the DTO to a provisioning request
func (r *CreateTenantRequest) ToProvisionRequest() tenancy.CreateTenantRequest {
	return tenancy.CreateTenantRequest{
		TenantID:     r.TenantID,
		Name:         r.Name,
		Strategy:     domain.Strategy(r.Strategy),
		SchemaName:   r.SchemaName,
		DatabaseName: r.DatabaseName,
		DBHost:       r.DBHost,
		DBPort:       r.DBPort,
		DBUser:       r.DBUser,
		DBPassword:   r.DBPassword,
		DBSSLEnabled: r.DBSSLEnabled,
		MaxTables:    r.MaxTables,
		MaxUsers:     r.MaxUsers,
	}
}

// TenantResponse represents tenant data in response.
// The API key is only ever returned once, on creation.
type TenantResponse struct {
	TenantID     string `json:"tenant_id"`
	Name         string `json:"name"`
	Strategy     string `json:"tenant_strategy"`
	SchemaName   string `json:"schema_name,omitempty"`
	DatabaseName string `json:"database_name,omitempty"`
	DBHost       string `json:"db_host,omitempty"`
	DBPort       int    `json:"db_port,omitempty"`
	Status       string `json:"status"`
	MaxTables    int    `json:"max_tables"`
	MaxUsers     int    `json:"max_users"`
	APIKey       string `json:"api_key,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// NewTenantCreatedResponse builds the creation response including the API key
func NewTenantCreatedResponse(cfg *domain.TenantConfig) *TenantResponse {
	resp := &TenantResponse{
		TenantID:     cfg.TenantID,
		Name:         cfg.Name,
		Strategy:     string(cfg.Strategy),
		DatabaseName: cfg.DatabaseName,
		DBHost:       cfg.DBHost,
		DBPort:       cfg.DBPort,
		Status:       cfg.Status,
		MaxTables:    cfg.MaxTables,
		MaxUsers:     cfg.MaxUsers,
		APIKey:       cfg.APIKey,
		CreatedAt:    cfg.CreatedAt.Format(time.RFC3339),
	}
	if cfg.Strategy == domain.StrategySeparateSchema {
		resp.SchemaName = cfg.EffectiveSchema()
	}
	return resp
}

// ExecuteQueryRequest runs one statement in the caller's tenant scope
type ExecuteQueryRequest struct {
	Query string `json:"query" binding:"required"`
	Args  []any  `json:"args"`
}

// QueryResponse carries the rows of an executed statement
type QueryResponse struct {
	Columns      []string         `json:"columns"`
	Rows         []map[string]any `json:"rows"`
	RowCount     int              `json:"row_count"`
	RowsAffected int64            `json:"rows_affected"`
}

// NewQueryResponse converts a tenancy result
func NewQueryResponse(res *tenancy.Result) *QueryResponse {
	rows := res.Rows
	if rows == nil {
		rows = []map[string]any{}
	}
	return &QueryResponse{
		Columns:      res.Columns,
		Rows:         rows,
		RowCount:     len(rows),
		RowsAffected: res.RowsAffected,
	}
}

// CleanupConnectionsRequest overrides the idle threshold for one sweep
type CleanupConnectionsRequest struct {
	MaxIdleSeconds int `json:"max_idle_seconds" binding:"omitempty,min=0"`
}

// MaxIdle returns the requested threshold, zero meaning the configured default
func (r *CleanupConnectionsRequest) MaxIdle() time.Duration {
	return time.Duration(r.MaxIdleSeconds) * time.Second
}

// CleanupConnectionsResponse reports a sweep
type CleanupConnectionsResponse struct {
	Released int `json:"released"`
	Active   int `json:"active"`
}

// ReloadResponse reports a registry reload
type ReloadResponse struct {
	Tenants int `json:"tenants"`
}

// StatsResponse summarizes the tenancy layer
type StatsResponse struct {
	Tenants     int                `json:"tenants"`
	Connections int                `json:"connections"`
	ByStrategy  map[string]int     `json:"by_strategy"`
	MasterPool  *PoolStatsResponse `json:"master_pool,omitempty"`
}

// PoolStatsResponse reports master connection pool usage
type PoolStatsResponse struct {
	MaxConns      int32 `json:"max_conns"`
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	AcquireCount  int64 `json:"acquire_count"`
	EmptyAcquires int64 `json:"empty_acquires"`
}
