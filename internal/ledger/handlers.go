package ledger

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fundlane/adwallet/internal/pagination"
)

// WithdrawalNotifier is told about completed withdrawals.
type WithdrawalNotifier interface {
	Withdrawn(ctx context.Context, orgID string, tx *Transaction)
}

// Handler provides HTTP endpoints for wallet reads and withdrawals.
type Handler struct {
	ledger   *Ledger
	notifier WithdrawalNotifier
}

// NewHandler creates a new wallet handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// WithNotifier adds an outbound event emitter for withdrawals.
func (h *Handler) WithNotifier(n WithdrawalNotifier) *Handler {
	h.notifier = n
	return h
}

// RegisterRoutes sets up wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/orgs/:id/wallet", h.GetSummary)
	r.GET("/orgs/:id/wallet/transactions", h.ListTransactions)
	r.POST("/orgs/:id/wallet/withdrawals", h.Withdraw)
}

// RegisterAdminRoutes sets up admin-only wallet routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/wallets/:id/replay", h.Replay)
}

// GetSummary handles GET /v1/orgs/:id/wallet
func (h *Handler) GetSummary(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	summary, err := h.ledger.Summary(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No wallet found for this organization",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ListTransactions handles GET /v1/orgs/:id/wallet/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid cursor",
		})
		return
	}

	txns, next, hasMore, err := h.ledger.HistoryPage(c.Request.Context(), c.Param("id"), limit, cursor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txns,
		"count":        len(txns),
		"nextCursor":   next,
		"hasMore":      hasMore,
	})
}

// WithdrawRequest is the body for POST /v1/orgs/:id/wallet/withdrawals
type WithdrawRequest struct {
	AmountCents int64 `json:"amountCents" binding:"required"`
}

// Withdraw handles POST /v1/orgs/:id/wallet/withdrawals
func (h *Handler) Withdraw(c *gin.Context) {
	var req WithdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "amountCents is required",
		})
		return
	}

	tx, err := h.ledger.Withdraw(c.Request.Context(), c.Param("id"), req.AmountCents)
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		switch {
		case errors.Is(err, ErrInvalidAmount):
			status = http.StatusBadRequest
			code = "invalid_amount"
		case errors.Is(err, ErrInsufficientFunds):
			status = http.StatusUnprocessableEntity
			code = "insufficient_funds"
		case errors.Is(err, ErrWalletNotFound):
			status = http.StatusNotFound
			code = "not_found"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	if h.notifier != nil {
		h.notifier.Withdrawn(c.Request.Context(), c.Param("id"), tx)
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": tx})
}

// Replay handles POST /v1/admin/wallets/:id/replay
func (h *Handler) Replay(c *gin.Context) {
	result, err := h.ledger.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		status := http.StatusInternalServerError
		code := "internal_error"
		if errors.Is(err, ErrWalletNotFound) {
			status = http.StatusNotFound
			code = "not_found"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, result)
}
