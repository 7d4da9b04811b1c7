package distribution

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fundlane/adwallet/internal/adaccounts"
	"github.com/fundlane/adwallet/internal/ledger"
)

// Handler provides the HTTP endpoint for distributions.
type Handler struct {
	service *Service
}

// NewHandler creates a new distribution handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up distribution routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orgs/:id/distributions", h.Distribute)
}

// DistributeRequest is the body for POST /v1/orgs/:id/distributions
type DistributeRequest struct {
	Allocations []Allocation `json:"allocations" binding:"required"`
}

// Distribute handles POST /v1/orgs/:id/distributions
func (h *Handler) Distribute(c *gin.Context) {
	var req DistributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "allocations are required",
		})
		return
	}

	dist, err := h.service.Distribute(c.Request.Context(), c.Param("id"), req.Allocations)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrNoAllocations),
			errors.Is(err, ErrInvalidAllocation),
			errors.Is(err, ErrDuplicateAccount),
			errors.Is(err, ErrTooManyAllocations):
			status = http.StatusBadRequest
			code = "invalid_request"
		case errors.Is(err, adaccounts.ErrAccountNotFound),
			errors.Is(err, adaccounts.ErrWrongOrg):
			status = http.StatusNotFound
			code = "account_not_found"
		case errors.Is(err, adaccounts.ErrAccountInactive):
			status = http.StatusUnprocessableEntity
			code = "account_inactive"
		case errors.Is(err, adaccounts.ErrSpendCapExceeded):
			status = http.StatusUnprocessableEntity
			code = "spend_cap_exceeded"
		case errors.Is(err, ledger.ErrInsufficientFunds):
			status = http.StatusUnprocessableEntity
			code = "insufficient_funds"
		case errors.Is(err, ledger.ErrWalletNotFound):
			status = http.StatusNotFound
			code = "not_found"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dist)
}
