package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/restaurant-ops/pkg/response"
)

// Request headers carrying tenant credentials
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderAPIKey   = "X-API-Key"
)

// Context keys for tenant information
const (
	ContextKeyTenantID = "tenant_id"
)

// TenantValidator checks a tenant's API key
type TenantValidator interface {
	ValidateTenantAccess(tenantID, apiKey string) bool
}

// TenantAuthConfig holds configuration for the tenant API key middleware
type TenantAuthConfig struct {
	Validator TenantValidator
	// SkipPaths are served without credentials
	SkipPaths []string
	// PathParam, when set, must match the authenticated tenant
	PathParam string
}

// TenantAuth authenticates requests by X-Tenant-ID and X-API-Key and stores
// the tenant id in the gin context
func TenantAuth(config *TenantAuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, path := range config.SkipPaths {
			if c.Request.URL.Path == path {
				c.Next()
				return
			}
		}

		tenantID := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		apiKey := strings.TrimSpace(c.GetHeader(HeaderAPIKey))
		if tenantID == "" || apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error("MISSING_CREDENTIALS", "X-Tenant-ID and X-API-Key headers are required"))
			return
		}

		if !config.Validator.ValidateTenantAccess(tenantID, apiKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error("INVALID_API_KEY", "Invalid tenant credentials"))
			return
		}

		if config.PathParam != "" {
			if id := c.Param(config.PathParam); id != "" && id != tenantID {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error("FORBIDDEN", "Credentials do not grant access to this tenant"))
				return
			}
		}

		c.Set(ContextKeyTenantID, tenantID)
		c.Next()
	}
}

// AdminToken guards operator routes with a shared bearer token.
// An empty token disables the routes entirely.
func AdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error("FORBIDDEN", "Admin API is disabled"))
			return
		}

		const bearerPrefix = "Bearer "
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, bearerPrefix) ||
			subtle.ConstantTimeCompare([]byte(authHeader[len(bearerPrefix):]), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Unauthorized("Valid admin token required"))
			return
		}
		c.Next()
	}
}

// GetTenantID extracts tenant ID from gin context
func GetTenantID(c *gin.Context) (string, bool) {
	tenantID, exists := c.Get(ContextKeyTenantID)
	if !exists {
		return "", false
	}
	t, ok := tenantID.(string)
	return t, ok
}
