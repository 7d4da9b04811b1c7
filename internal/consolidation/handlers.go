package consolidation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides the HTTP endpoint for consolidations.
type Handler struct {
	service *Service
}

// NewHandler creates a new consolidation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up consolidation routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orgs/:id/consolidations", h.Consolidate)
}

// ConsolidateRequest is the body for POST /v1/orgs/:id/consolidations.
// An empty account list sweeps every funded account.
type ConsolidateRequest struct {
	AdAccountIDs []string `json:"adAccountIds"`
}

// Consolidate handles POST /v1/orgs/:id/consolidations
func (h *Handler) Consolidate(c *gin.Context) {
	var req ConsolidateRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "malformed request body",
		})
		return
	}

	cons, err := h.service.Consolidate(c.Request.Context(), c.Param("id"), req.AdAccountIDs)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrNothingToConsolidate):
			status = http.StatusUnprocessableEntity
			code = "nothing_to_consolidate"
		case errors.Is(err, ErrDuplicateAccount):
			status = http.StatusBadRequest
			code = "invalid_request"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, cons)
}
