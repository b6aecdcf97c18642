package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/restaurant-ops/pkg/middleware"
)

// RouteConfig holds what RegisterRoutes needs
type RouteConfig struct {
	Tenants    *TenantHandler
	Health     *HealthHandler
	Validator  middleware.TenantValidator
	AdminToken string
	// RateLimit runs after tenant authentication, optional
	RateLimit gin.HandlerFunc
}

// RegisterRoutes mounts the tenancy API on r
func RegisterRoutes(r gin.IRouter, cfg RouteConfig) {
	r.GET("/health", cfg.Health.Health)

	tenants := r.Group("/api/v1/tenants")

	admin := tenants.Group("")
	admin.Use(middleware.AdminToken(cfg.AdminToken))
	admin.POST("", cfg.Tenants.Create)
	admin.POST("/reload", cfg.Tenants.Reload)
	admin.POST("/connections/cleanup", cfg.Tenants.CleanupConnections)
	admin.GET("/stats", cfg.Tenants.Stats)

	scoped := tenants.Group("/:id")
	scoped.Use(middleware.TenantAuth(&middleware.TenantAuthConfig{
		Validator: cfg.Validator,
		PathParam: "id",
	}))
	if cfg.RateLimit != nil {
		scoped.Use(cfg.RateLimit)
	}
	scoped.GET("/metrics", cfg.Tenants.Metrics)
}
