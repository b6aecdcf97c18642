package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/domain"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/dto"
	"github.com/prohmpiriya/restaurant-ops/backend-tenancy/internal/tenancy"
	"github.com/prohmpiriya/restaurant-ops/pkg/response"
)

// TenancyService is the part of tenancy.Manager the handlers use
type TenancyService interface {
	CreateTenant(ctx context.Context, req tenancy.CreateTenantRequest) (*domain.TenantConfig, error)
	GetTenantMetrics(ctx context.Context, tenantID string) (*tenancy.TenantMetrics, error)
	CleanupConnections(ctx context.Context, maxIdle time.Duration) int
	ReloadRegistry(ctx context.Context) (int, error)
	Stats() tenancy.Stats
	TenantCount() int
}

// TenantHandler handles tenant management HTTP requests
type TenantHandler struct {
	tenancy TenancyService
}

// NewTenantHandler creates a new TenantHandler
func NewTenantHandler(svc TenancyService) *TenantHandler {
	return &TenantHandler{tenancy: svc}
}

// Create handles tenant provisioning
// POST /api/v1/tenants
func (h *TenantHandler) Create(c *gin.Context) {
	var req dto.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	cfg, err := h.tenancy.CreateTenant(c.Request.Context(), req.ToProvisionRequest())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(dto.NewTenantCreatedResponse(cfg)))
}

// Metrics handles retrieving usage metrics for a tenant
// GET /api/v1/tenants/:id/metrics
func (h *TenantHandler) Metrics(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, response.BadRequest("Tenant ID is required"))
		return
	}

	result, err := h.tenancy.GetTenantMetrics(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(result))
}

// Reload handles re-reading the tenant registry from the master store
// POST /api/v1/tenants/reload
func (h *TenantHandler) Reload(c *gin.Context) {
	n, err := h.tenancy.ReloadRegistry(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(dto.ReloadResponse{Tenants: n}))
}

// CleanupConnections handles an on-demand idle sweep
// POST /api/v1/tenants/connections/cleanup
func (h *TenantHandler) CleanupConnections(c *gin.Context) {
	var req dto.CleanupConnectionsRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
			return
		}
	}

	released := h.tenancy.CleanupConnections(c.Request.Context(), req.MaxIdle())

	c.JSON(http.StatusOK, response.Success(dto.CleanupConnectionsResponse{
		Released: released,
		Active:   h.tenancy.Stats().Handles,
	}))
}

// Stats handles reporting registry, connection cache and master pool sizes
// GET /api/v1/tenants/stats
func (h *TenantHandler) Stats(c *gin.Context) {
	stats := h.tenancy.Stats()
	resp := dto.StatsResponse{
		Tenants:     h.tenancy.TenantCount(),
		Connections: stats.Handles,
		ByStrategy:  stats.ByStrategy,
	}
	if p := stats.MasterPool; p != nil {
		resp.MasterPool = &dto.PoolStatsResponse{
			MaxConns:      p.MaxConns,
			TotalConns:    p.TotalConns,
			IdleConns:     p.IdleConns,
			AcquiredConns: p.AcquiredConns,
			AcquireCount:  p.AcquireCount,
			EmptyAcquires: p.EmptyAcquires,
		}
	}
	c.JSON(http.StatusOK, response.Success(resp))
}

// writeError maps tenancy errors to API responses
func writeError(c *gin.Context, err error) {
	var verr *tenancy.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, response.ValidationFailed(verr.Fields))
	case errors.Is(err, domain.ErrInvalidTenant):
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
	case errors.Is(err, domain.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, response.Error(response.ErrCodeTenantNotFound, "Tenant not found"))
	case errors.Is(err, domain.ErrUnsupportedStrategy):
		c.JSON(http.StatusUnprocessableEntity, response.Error(response.ErrCodeUnsupportedStrategy, err.Error()))
	case errors.Is(err, domain.ErrConnectionFailure):
		c.JSON(http.StatusBadGateway, response.Error(response.ErrCodeConnectionFailure, "Tenant storage is unreachable"))
	case errors.Is(err, domain.ErrProvisioningFailure):
		c.JSON(http.StatusInternalServerError, response.Error(response.ErrCodeProvisioningFailure, "Tenant provisioning failed"))
	case errors.Is(err, domain.ErrManagerClosed):
		c.JSON(http.StatusServiceUnavailable, response.ServiceUnavailable("Shutting down"))
	default:
		c.JSON(http.StatusInternalServerError, response.InternalError(""))
	}
}
