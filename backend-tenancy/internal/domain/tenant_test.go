package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStrategy_Valid(t *testing.T) {
	assert.True(t, StrategySharedSchema.Valid())
	assert.True(t, StrategySeparateSchema.Valid())
	assert.True(t, StrategySeparateDatabase.Valid())
	assert.False(t, Strategy("sharded").Valid())
	assert.False(t, Strategy("").Valid())
}

func TestDefaultSchemaName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"T2", "tenant_t2"},
		{"acme-bistro", "tenant_acme_bistro"},
		{"6f1c2a9e-0b1d-4c57-9d1e-3f6b4a2e7c10", "tenant_6f1c2a9e_0b1d_4c57_9d1e_3f6b4a2e7c10"},
		{`x"; drop`, "tenant_x___drop"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultSchemaName(tt.in))
		})
	}
}

func TestTenantConfig_EffectiveSchema(t *testing.T) {
	cfg := &TenantConfig{TenantID: "T2"}
	assert.Equal(t, "tenant_t2", cfg.EffectiveSchema())

	cfg.SchemaName = "custom"
	assert.Equal(t, "custom", cfg.EffectiveSchema())
}

func TestTenantConfig_StringHidesSecrets(t *testing.T) {
	cfg := &TenantConfig{TenantID: "t1", Strategy: StrategySeparateDatabase, DBPassword: "hunter2", APIKey: "rk_secret"}
	s := cfg.String()
	assert.NotContains(t, s, "hunter2")
	assert.NotContains(t, s, "rk_secret")
}

func TestTenantConfig_SSLMode(t *testing.T) {
	assert.Equal(t, "disable", (&TenantConfig{}).SSLMode())
	assert.Equal(t, "require", (&TenantConfig{DBSSLEnabled: true}).SSLMode())
}
