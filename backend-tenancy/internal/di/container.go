package di

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/handler"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/tenancy"
	"github.com/prohmpiriya/restaurant-ops/pkg/middleware"
)

// Container holds all dependencies for the tenancy service
type Container struct {
	// Core
	Manager *tenancy.Manager

	// Handlers
	HealthHandler *handler.HealthHandler
	TenantHandler *handler.TenantHandler

	// HTTP
	Engine *gin.Engine
}

// ContainerConfig contains configuration for building the container
type ContainerConfig struct {
	Manager    *tenancy.Manager
	AdminToken string
	// Middleware runs before every route, ahead of request activity logging
	Middleware []gin.HandlerFunc
	// RateLimit applies to tenant-authenticated routes when set
	RateLimit *middleware.RateLimitConfig
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	c := &Container{
		Manager: cfg.Manager,
	}

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(c.Manager)
	c.TenantHandler = handler.NewTenantHandler(c.Manager)

	// Initialize router
	c.Engine = gin.New()
	c.Engine.Use(cfg.Middleware...)
	c.Engine.Use(middleware.RequestLog(middleware.DefaultRequestLogConfig(c.Manager.RecordRequest)))
	routes := handler.RouteConfig{
		Tenants:    c.TenantHandler,
		Health:     c.HealthHandler,
		Validator:  c.Manager,
		AdminToken: cfg.AdminToken,
	}
	if cfg.RateLimit != nil {
		routes.RateLimit = middleware.TenantRateLimit(*cfg.RateLimit)
	}
	handler.RegisterRoutes(c.Engine, routes)

	return c
}
