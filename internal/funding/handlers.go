package funding

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fundlane/adwallet/internal/fees"
	"github.com/fundlane/adwallet/internal/ledger"
)

// Handler provides HTTP endpoints for wallet funding.
type Handler struct {
	service *Service
	bank    *BankProvider
}

// NewHandler creates a new funding handler. bank may be nil when the
// bank rail is not configured.
func NewHandler(service *Service, bank *BankProvider) *Handler {
	return &Handler{service: service, bank: bank}
}

// RegisterRoutes sets up funding routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orgs/:id/funding", h.Create)
	r.GET("/orgs/:id/funding", h.List)
	r.GET("/orgs/:id/funding/:intentId", h.Get)
	r.POST("/orgs/:id/funding/:intentId/cancel", h.Cancel)
	r.GET("/funding/bank-details", h.BankDetails)
}

// CreateIntentRequest is the body for POST /v1/orgs/:id/funding
type CreateIntentRequest struct {
	Rail        string `json:"rail" binding:"required"`
	AmountCents int64  `json:"amountCents" binding:"required"`
}

// Create handles POST /v1/orgs/:id/funding
func (h *Handler) Create(c *gin.Context) {
	var req CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "rail and amountCents are required",
		})
		return
	}

	intent, err := h.service.Create(c.Request.Context(), c.Param("id"), fees.Rail(req.Rail), req.AmountCents)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, fees.ErrUnknownRail):
			status = http.StatusBadRequest
			code = "invalid_request"
		case errors.Is(err, ErrAmountBelowMin):
			status = http.StatusBadRequest
			code = "amount_below_minimum"
		case errors.Is(err, ErrAmountAboveMax):
			status = http.StatusBadRequest
			code = "amount_above_maximum"
		case errors.Is(err, fees.ErrPlanNotEligible):
			status = http.StatusForbidden
			code = "plan_not_eligible"
		case errors.Is(err, ErrRailUnavailable):
			status = http.StatusServiceUnavailable
			code = "rail_unavailable"
		case errors.Is(err, ledger.ErrWalletNotFound):
			status = http.StatusNotFound
			code = "not_found"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, intent)
}

// Get handles GET /v1/orgs/:id/funding/:intentId
func (h *Handler) Get(c *gin.Context) {
	intent, err := h.service.Get(c.Request.Context(), c.Param("intentId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if intent.OrgID != c.Param("id") {
		h.writeError(c, ErrIntentNotFound)
		return
	}

	c.JSON(http.StatusOK, intent)
}

// List handles GET /v1/orgs/:id/funding
func (h *Handler) List(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	intents, err := h.service.ListByOrg(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"intents": intents,
		"count":   len(intents),
	})
}

// Cancel handles POST /v1/orgs/:id/funding/:intentId/cancel
func (h *Handler) Cancel(c *gin.Context) {
	intent, err := h.service.Get(c.Request.Context(), c.Param("intentId"))
	if err != nil || intent.OrgID != c.Param("id") {
		h.writeError(c, ErrIntentNotFound)
		return
	}

	intent, err = h.service.Cancel(c.Request.Context(), intent.ID)
	if err != nil {
		if errors.Is(err, ErrIntentTerminal) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "intent_resolved",
				"message": "Funding intent is already in a terminal state",
			})
			return
		}
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, intent)
}

// BankDetails handles GET /v1/funding/bank-details
func (h *Handler) BankDetails(c *gin.Context) {
	if h.bank == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "rail_unavailable",
			"message": "Bank transfers are not configured",
		})
		return
	}
	c.JSON(http.StatusOK, h.bank.Details())
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrIntentNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Funding intent not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
