package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	tenantID string
	meta     map[string]any
}

type requestSink struct {
	mu      sync.Mutex
	entries []recordedRequest
}

func (s *requestSink) Record(tenantID string, meta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, recordedRequest{tenantID: tenantID, meta: meta})
}

func setupRequestLogRouter(sink *requestSink) *gin.Engine {
	router := gin.New()
	router.Use(RequestLog(DefaultRequestLogConfig(sink.Record)))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := router.Group("/api/v1")
	api.Use(TenantAuth(&TenantAuthConfig{Validator: staticValidator{"T1": "rk_one"}}))
	api.GET("/tenants/:id/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	api.POST("/orders", func(c *gin.Context) { c.Status(http.StatusCreated) })
	return router
}

func TestDefaultActionMapper(t *testing.T) {
	tests := []struct {
		method   string
		expected RequestAction
	}{
		{http.MethodPost, RequestActionCreate},
		{http.MethodPut, RequestActionUpdate},
		{http.MethodPatch, RequestActionUpdate},
		{http.MethodDelete, RequestActionDelete},
		{http.MethodGet, RequestActionView},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.expected, defaultActionMapper(tt.method, "/api/v1/anything"))
		})
	}
}

func TestDefaultResourceExtractor(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		expectedType string
		expectedID   string
	}{
		{"uuid id", "/api/v1/tenants/123e4567-e89b-12d3-a456-426614174000", "tenant", "123e4567-e89b-12d3-a456-426614174000"},
		{"list", "/api/v1/menu-items", "menu-item", ""},
		{"numeric id", "/api/v1/orders/42/items", "order", "42"},
		{"slug is not an id", "/api/v1/tenants/bistro-9/metrics", "tenant", ""},
		{"no prefix", "/suppliers", "supplier", ""},
		{"only prefix", "/api/v1", "unknown", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resourceType, resourceID := defaultResourceExtractor(tt.path)
			assert.Equal(t, tt.expectedType, resourceType)
			assert.Equal(t, tt.expectedID, resourceID)
		})
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{"forwarded for", map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, "127.0.0.1:1234", "10.0.0.1"},
		{"real ip", map[string]string{"X-Real-IP": "10.0.0.9"}, "127.0.0.1:1234", "10.0.0.9"},
		{"remote addr", nil, "192.168.1.5:5555", "192.168.1.5"},
		{"remote addr without port", nil, "192.168.1.5", "192.168.1.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			c.Request.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, getClientIP(c))
		})
	}
}

func TestRequestLog_RecordsAuthenticatedRequests(t *testing.T) {
	sink := &requestSink{}
	router := setupRequestLogRouter(sink)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	req.Header.Set(HeaderTenantID, "T1")
	req.Header.Set(HeaderAPIKey, "rk_one")
	req.Header.Set(HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))

	require.Len(t, sink.entries, 1)
	entry := sink.entries[0]
	assert.Equal(t, "T1", entry.tenantID)
	assert.Equal(t, http.StatusCreated, entry.meta["status"])
	assert.Equal(t, "create", entry.meta["action"])
	assert.Equal(t, "order", entry.meta["resource_type"])
	assert.Equal(t, "/api/v1/orders", entry.meta["route"])
	assert.Equal(t, "req-1", entry.meta["request_id"])
}

func TestRequestLog_SkipsUnauthenticatedAndSkippedPaths(t *testing.T) {
	sink := &requestSink{}
	router := setupRequestLogRouter(sink)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID), "request id is assigned even on skipped paths")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/T1/metrics", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	assert.Empty(t, sink.entries)
}

func TestMatchPath(t *testing.T) {
	assert.True(t, matchPath("/health", "/health"))
	assert.False(t, matchPath("/healthz", "/health"))
	assert.True(t, matchPath("/debug/pprof/heap", "/debug/*"))
	assert.False(t, matchPath("/debugger", "/debug/*"))
}
