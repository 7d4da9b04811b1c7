package adaccounts

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for ad-account management.
type Handler struct {
	directory *Directory
}

// NewHandler creates a new ad-account handler.
func NewHandler(directory *Directory) *Handler {
	return &Handler{directory: directory}
}

// RegisterRoutes sets up ad-account routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orgs/:id/adaccounts", h.Register)
	r.GET("/orgs/:id/adaccounts", h.List)
	r.GET("/orgs/:id/adaccounts/:accountId", h.Get)
	r.POST("/orgs/:id/adaccounts/:accountId/spend-cap", h.SetSpendCap)
	r.GET("/orgs/:id/adaccounts/:accountId/entries", h.ListEntries)
}

// RegisterAdAccountRequest is the body for POST /v1/orgs/:id/adaccounts
type RegisterAdAccountRequest struct {
	Platform      string `json:"platform" binding:"required"`
	Name          string `json:"name"`
	SpendCapCents int64  `json:"spendCapCents"`
}

// Register handles POST /v1/orgs/:id/adaccounts
func (h *Handler) Register(c *gin.Context) {
	var req RegisterAdAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "platform is required",
		})
		return
	}

	acct, err := h.directory.Register(c.Request.Context(), c.Param("id"), req.Platform, req.Name, req.SpendCapCents)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, ErrInvalidPlatform) {
			status = http.StatusBadRequest
			code = "invalid_request"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, acct)
}

// List handles GET /v1/orgs/:id/adaccounts
func (h *Handler) List(c *gin.Context) {
	accounts, err := h.directory.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	// Attach current allocations; wallet id equals org id.
	subs, err := h.directory.SubBalances(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	allocated := make(map[string]int64, len(subs))
	for _, s := range subs {
		allocated[s.AdAccountID] = s.BalanceCents
	}

	type accountView struct {
		*AdAccount
		BalanceCents int64 `json:"balanceCents"`
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, accountView{AdAccount: a, BalanceCents: allocated[a.ID]})
	}

	c.JSON(http.StatusOK, gin.H{
		"adAccounts": views,
		"count":      len(views),
	})
}

// Get handles GET /v1/orgs/:id/adaccounts/:accountId
func (h *Handler) Get(c *gin.Context) {
	acct, err := h.directory.Get(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if acct.OrgID != c.Param("id") {
		h.writeError(c, ErrAccountNotFound)
		return
	}

	sub, err := h.directory.SubBalance(c.Request.Context(), acct.OrgID, acct.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"adAccount":    acct,
		"balanceCents": sub.BalanceCents,
	})
}

// SetSpendCapRequest is the body for POST /v1/orgs/:id/adaccounts/:accountId/spend-cap
type SetSpendCapRequest struct {
	SpendCapCents int64 `json:"spendCapCents"`
}

// SetSpendCap handles POST /v1/orgs/:id/adaccounts/:accountId/spend-cap
func (h *Handler) SetSpendCap(c *gin.Context) {
	var req SetSpendCapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "spendCapCents is required",
		})
		return
	}

	acct, err := h.directory.SetSpendCap(c.Request.Context(), c.Param("accountId"), req.SpendCapCents)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, acct)
}

// ListEntries handles GET /v1/orgs/:id/adaccounts/:accountId/entries
func (h *Handler) ListEntries(c *gin.Context) {
	entries, err := h.directory.Entries(c.Request.Context(), c.Param("id"), c.Param("accountId"), 50)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	if errors.Is(err, ErrAccountNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Ad account not found",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
