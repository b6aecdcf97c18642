package middleware

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestAction classifies an API request
type RequestAction string

const (
	RequestActionCreate RequestAction = "create"
	RequestActionUpdate RequestAction = "update"
	RequestActionDelete RequestAction = "delete"
	RequestActionView   RequestAction = "view"
)

// HeaderRequestID is echoed back on every response
const HeaderRequestID = "X-Request-ID"

// RequestLogConfig holds configuration for the request activity middleware
type RequestLogConfig struct {
	// Record receives one entry per tenant-authenticated request
	Record func(tenantID string, metadata map[string]any)
	// SkipPaths is a list of paths to skip
	SkipPaths []string
	// SkipMethods is a list of HTTP methods to skip
	SkipMethods []string
	// ActionMapper maps HTTP method + path to an action
	ActionMapper func(method, path string) RequestAction
	// ResourceExtractor extracts resource type and ID from path
	ResourceExtractor func(path string) (resourceType string, resourceID string)
}

// DefaultRequestLogConfig returns default configuration
func DefaultRequestLogConfig(record func(tenantID string, metadata map[string]any)) *RequestLogConfig {
	return &RequestLogConfig{
		Record:            record,
		SkipPaths:         []string{"/health", "/ready", "/metrics"},
		SkipMethods:       []string{http.MethodHead, http.MethodOptions},
		ActionMapper:      defaultActionMapper,
		ResourceExtractor: defaultResourceExtractor,
	}
}

// RequestLog records an api_request activity entry for every request that
// carries an authenticated tenant. It also assigns a request id.
func RequestLog(config *RequestLogConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header(HeaderRequestID, requestID)

		for _, path := range config.SkipPaths {
			if matchPath(c.Request.URL.Path, path) {
				c.Next()
				return
			}
		}
		for _, method := range config.SkipMethods {
			if c.Request.Method == method {
				c.Next()
				return
			}
		}

		startTime := time.Now()

		c.Next()

		tenantID, ok := GetTenantID(c)
		if !ok || tenantID == "" || config.Record == nil {
			return
		}

		meta := map[string]any{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(startTime).Milliseconds(),
			"client_ip":   getClientIP(c),
			"user_agent":  c.GetHeader("User-Agent"),
			"request_id":  requestID,
		}
		if route := c.FullPath(); route != "" {
			meta["route"] = route
		}
		if config.ActionMapper != nil {
			meta["action"] = string(config.ActionMapper(c.Request.Method, c.Request.URL.Path))
		}
		if config.ResourceExtractor != nil {
			resourceType, resourceID := config.ResourceExtractor(c.Request.URL.Path)
			meta["resource_type"] = resourceType
			if resourceID != "" {
				meta["resource_id"] = resourceID
			}
		}

		config.Record(tenantID, meta)
	}
}

// defaultActionMapper maps HTTP method to an action
func defaultActionMapper(method, _ string) RequestAction {
	switch method {
	case http.MethodPost:
		return RequestActionCreate
	case http.MethodPut, http.MethodPatch:
		return RequestActionUpdate
	case http.MethodDelete:
		return RequestActionDelete
	default:
		return RequestActionView
	}
}

// defaultResourceExtractor extracts resource type and ID from path
// Example: /api/v1/menu-items/123 -> ("menu-item", "123")
func defaultResourceExtractor(path string) (resourceType string, resourceID string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	startIdx := -1
	for i, part := range parts {
		if part == "api" || isVersion(part) {
			continue
		}
		startIdx = i
		break
	}
	if startIdx < 0 || parts[startIdx] == "" {
		return "unknown", ""
	}

	resourceType = strings.TrimSuffix(parts[startIdx], "s")

	if startIdx+1 < len(parts) && isValidID(parts[startIdx+1]) {
		resourceID = parts[startIdx+1]
	}
	return resourceType, resourceID
}

func isVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isValidID checks if a string looks like a valid ID
func isValidID(s string) bool {
	if _, err := uuid.Parse(s); err == nil {
		return true
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// getClientIP extracts the client IP address
func getClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return ip
}

// matchPath reports whether path equals pattern or sits under a pattern ending in /*
func matchPath(path, pattern string) bool {
	if strings.HasSuffix(pattern, "/*") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	}
	return path == pattern
}
