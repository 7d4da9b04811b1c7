package orgs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fundlane/adwallet/internal/fees"
)

// Handler provides HTTP endpoints for organization management.
type Handler struct {
	service *Service
}

// NewHandler creates a new organization handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up organization routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orgs", h.Create)
	r.GET("/orgs", h.List)
	r.GET("/orgs/:id", h.Get)
	r.POST("/orgs/:id/plan", h.ChangePlan)
}

// CreateRequest is the body for POST /v1/orgs
type CreateRequest struct {
	Name string `json:"name" binding:"required"`
	Plan string `json:"plan"`
}

// Create handles POST /v1/orgs
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "name is required",
		})
		return
	}

	org, err := h.service.Create(c.Request.Context(), req.Name, fees.PlanTier(req.Plan))
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrInvalidName):
			status = http.StatusBadRequest
			code = "invalid_request"
		case errors.Is(err, ErrSlugTaken):
			status = http.StatusConflict
			code = "slug_taken"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, org)
}

// Get handles GET /v1/orgs/:id
func (h *Handler) Get(c *gin.Context) {
	org, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrOrgNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Organization not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, org)
}

// ChangePlanRequest is the body for POST /v1/orgs/:id/plan
type ChangePlanRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// ChangePlan handles POST /v1/orgs/:id/plan
func (h *Handler) ChangePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "plan is required",
		})
		return
	}

	switch fees.PlanTier(req.Plan) {
	case fees.TierFree, fees.TierStarter, fees.TierGrowth, fees.TierEnterprise:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "unknown plan tier",
		})
		return
	}

	org, err := h.service.ChangePlan(c.Request.Context(), c.Param("id"), fees.PlanTier(req.Plan))
	if err != nil {
		if errors.Is(err, ErrOrgNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Organization not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, org)
}

// List handles GET /v1/orgs
func (h *Handler) List(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	result, err := h.service.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"organizations": result,
		"count":         len(result),
	})
}
