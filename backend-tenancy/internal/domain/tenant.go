package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Strategy is the isolation mechanism a tenant was provisioned under
type Strategy string

const (
	StrategySharedSchema     Strategy = "shared_schema"
	StrategySeparateSchema   Strategy = "separate_schema"
	StrategySeparateDatabase Strategy = "separate_database"
)

// Valid reports whether s is one of the supported strategies
func (s Strategy) Valid() bool {
	switch s {
	case StrategySharedSchema, StrategySeparateSchema, StrategySeparateDatabase:
		return true
	}
	return false
}

// StatusActive is the only status the registry serves
const StatusActive = "active"

// TenantConfig is the registry record for one tenant.
// Strategy is fixed for the tenant's lifetime.
type TenantConfig struct {
	TenantID            string    `json:"tenant_id"`
	Name                string    `json:"name"`
	Strategy            Strategy  `json:"tenant_strategy"`
	DatabaseName        string    `json:"database_name,omitempty"`
	SchemaName          string    `json:"schema_name,omitempty"`
	DBHost              string    `json:"db_host,omitempty"`
	DBPort              int       `json:"db_port,omitempty"`
	DBUser              string    `json:"db_user,omitempty"`
	DBPassword          string    `json:"-"`
	DBPasswordEncrypted string    `json:"-"`
	DBSSLEnabled        bool      `json:"db_ssl_enabled"`
	Status              string    `json:"status"`
	MaxTables           int       `json:"max_tables"`
	MaxUsers            int       `json:"max_users"`
	APIKey              string    `json:"-"`
	CreatedAt           time.Time `json:"created_at"`
}

// IsActive reports whether the tenant may be served
func (t *TenantConfig) IsActive() bool {
	return t.Status == StatusActive
}

// EffectiveSchema returns the configured schema or the tenant_<id> default
func (t *TenantConfig) EffectiveSchema() string {
	if t.SchemaName != "" {
		return t.SchemaName
	}
	return DefaultSchemaName(t.TenantID)
}

// DefaultSchemaName derives a schema identifier from a tenant id.
// Runes outside [a-z0-9_] become underscores.
func DefaultSchemaName(tenantID string) string {
	var b strings.Builder
	b.WriteString("tenant_")
	for _, r := range strings.ToLower(tenantID) {
		if r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// SSLMode maps the tenant TLS flag to a libpq sslmode
func (t *TenantConfig) SSLMode() string {
	if t.DBSSLEnabled {
		return "require"
	}
	return "disable"
}

// String avoids leaking credentials through %v
func (t *TenantConfig) String() string {
	return fmt.Sprintf("TenantConfig{id=%s strategy=%s status=%s}", t.TenantID, t.Strategy, t.Status)
}
