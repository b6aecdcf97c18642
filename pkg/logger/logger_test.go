package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed() (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{Logger: zap.New(core), serviceName: "test"}, logs
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"bogus", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNew_DefaultConfig(t *testing.T) {
	l, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, l.Logger)
	assert.Equal(t, "restaurant-ops-tenancy", l.serviceName)
}

func TestWithContext_AddsTenantAndRequest(t *testing.T) {
	l, logs := observed()

	ctx := ContextWithTenant(context.Background(), "tenant-1")
	ctx = context.WithValue(ctx, RequestIDKey, "req-9")

	l.InfoContext(ctx, "query executed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "tenant-1", fields["tenant_id"])
	assert.Equal(t, "req-9", fields["request_id"])
}

func TestWithContext_EmptyContextReturnsSameLogger(t *testing.T) {
	l, _ := observed()
	assert.Same(t, l, l.WithContext(context.Background()))
}

func TestNewNop_DoesNotPanic(t *testing.T) {
	l := NewNop()
	l.Info("discarded")
	l.WithFields(zap.String("k", "v")).Named("sub").Warn("discarded")
}
