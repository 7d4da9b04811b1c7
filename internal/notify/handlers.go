package notify

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fundlane/adwallet/internal/idgen"
	"github.com/fundlane/adwallet/internal/security"
)

// Handler provides HTTP endpoints for subscription management.
type Handler struct {
	store      Store
	strictURLs bool
}

// NewHandler creates a new subscription handler.
func NewHandler(store Store) *Handler {
	return &Handler{store: store}
}

// WithStrictURLs enables SSRF checks on subscription URLs. Meant for
// production, where endpoints must not point at internal addresses.
func (h *Handler) WithStrictURLs() *Handler {
	h.strictURLs = true
	return h
}

// RegisterRoutes sets up subscription routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orgs/:id/subscriptions", h.Create)
	r.GET("/orgs/:id/subscriptions", h.List)
	r.DELETE("/orgs/:id/subscriptions/:subId", h.Delete)
}

// CreateSubscriptionRequest is the body for POST /v1/orgs/:id/subscriptions
type CreateSubscriptionRequest struct {
	URL    string   `json:"url" binding:"required"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// Create handles POST /v1/orgs/:id/subscriptions
func (h *Handler) Create(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "url is required",
		})
		return
	}
	if err := ValidateURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	if h.strictURLs {
		if err := security.ValidateEndpointURL(req.URL); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
	}

	events := make([]EventType, len(req.Events))
	for i, et := range req.Events {
		events[i] = EventType(et)
	}

	sub := &Subscription{
		ID:        idgen.WithPrefix("sub_"),
		OrgID:     c.Param("id"),
		URL:       req.URL,
		Secret:    req.Secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, sub)
}

// List handles GET /v1/orgs/:id/subscriptions
func (h *Handler) List(c *gin.Context) {
	subs, err := h.store.GetByOrg(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// Delete handles DELETE /v1/orgs/:id/subscriptions/:subId
func (h *Handler) Delete(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("subId"))
	if err != nil || sub.OrgID != c.Param("id") {
		if err != nil && !errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Subscription not found",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), sub.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
