package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func setupCORSRouter(origins []string) *gin.Engine {
	router := gin.New()
	router.Use(CORS(origins))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		method     string
		wantCode   int
		wantOrigin string
	}{
		{"any origin", nil, "https://pos.example.com", http.MethodGet, http.StatusOK, "https://pos.example.com"},
		{"listed origin", []string{"https://pos.example.com"}, "https://pos.example.com", http.MethodGet, http.StatusOK, "https://pos.example.com"},
		{"unlisted origin", []string{"https://pos.example.com"}, "https://evil.example.com", http.MethodGet, http.StatusOK, ""},
		{"no origin header", nil, "", http.MethodGet, http.StatusOK, ""},
		{"preflight", nil, "https://pos.example.com", http.MethodOptions, http.StatusNoContent, "https://pos.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupCORSRouter(tt.origins)
			router.OPTIONS("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestCORS_AllowsTenantHeaders(t *testing.T) {
	router := setupCORSRouter(nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://pos.example.com")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	headers := w.Header().Get("Access-Control-Allow-Headers")
	assert.Contains(t, headers, HeaderTenantID)
	assert.Contains(t, headers, HeaderAPIKey)
	assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}
