package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/fundlane/adwallet/internal/fees"
	"github.com/fundlane/adwallet/internal/funding"
	"github.com/fundlane/adwallet/internal/logging"
)

// Handler receives provider webhooks and operator confirmations.
type Handler struct {
	reconciler          *Reconciler
	stripeWebhookSecret string
	cryptoWebhookSecret string
}

// NewHandler creates a new webhook handler.
func NewHandler(reconciler *Reconciler, stripeWebhookSecret, cryptoWebhookSecret string) *Handler {
	return &Handler{
		reconciler:          reconciler,
		stripeWebhookSecret: stripeWebhookSecret,
		cryptoWebhookSecret: cryptoWebhookSecret,
	}
}

// RegisterRoutes sets up webhook routes. These must be mounted outside
// the rate limiter: throttling a provider's retries turns one missed
// payment into many.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.StripeWebhook)
	r.POST("/webhooks/crypto", h.CryptoWebhook)
}

// RegisterAdminRoutes sets up operator confirmation routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/bank-transfers/confirm", h.ConfirmBankTransfer)
}

// StripeWebhook handles POST /v1/webhooks/stripe
func (h *Handler) StripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.stripeWebhookSecret)
	if err != nil {
		logging.L(c.Request.Context()).Warn("stripe webhook signature rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}

	var outcome funding.Outcome
	switch event.Type {
	case "checkout.session.completed":
		outcome = funding.OutcomeSucceeded
	case "checkout.session.expired":
		outcome = funding.OutcomeExpired
	case "checkout.session.async_payment_failed":
		outcome = funding.OutcomeFailed
	default:
		// Not a payment outcome; acknowledge so Stripe stops retrying.
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	if err := h.reconciler.Apply(c.Request.Context(), ProviderEvent{
		Rail:        fees.RailCard,
		ExternalRef: session.ID,
		Outcome:     outcome,
		Reason:      reasonFor(outcome, "card payment failed"),
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// cryptoWebhookPayload is the processor's callback body.
type cryptoWebhookPayload struct {
	ChargeID string `json:"charge_id"`
	Status   string `json:"status"` // "confirmed", "failed", "expired"
	Reason   string `json:"reason"`
}

// CryptoWebhook handles POST /v1/webhooks/crypto
func (h *Handler) CryptoWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	if !h.verifyCryptoSignature(payload, c.GetHeader("X-Webhook-Signature")) {
		logging.L(c.Request.Context()).Warn("crypto webhook signature rejected")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}

	var body cryptoWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	var outcome funding.Outcome
	switch body.Status {
	case "confirmed":
		outcome = funding.OutcomeSucceeded
	case "failed":
		outcome = funding.OutcomeFailed
	case "expired":
		outcome = funding.OutcomeExpired
	default:
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if err := h.reconciler.Apply(c.Request.Context(), ProviderEvent{
		Rail:        fees.RailCrypto,
		ExternalRef: body.ChargeID,
		Outcome:     outcome,
		Reason:      reasonFor(outcome, body.Reason),
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// ConfirmBankTransferRequest is the body for POST /v1/admin/bank-transfers/confirm
// ConfirmedAmountCents is optional; when set, a received transfer is
// only applied if the amount matches what the intent charged.
type ConfirmBankTransferRequest struct {
	Reference            string `json:"reference" binding:"required"`
	Outcome              string `json:"outcome" binding:"required"` // "received" or "rejected"
	Reason               string `json:"reason"`
	ConfirmedAmountCents int64  `json:"confirmedAmountCents"`
}

// ConfirmBankTransfer handles POST /v1/admin/bank-transfers/confirm
//
// Wires have no webhook; an operator confirms receipt against the
// reference number in the transfer memo.
func (h *Handler) ConfirmBankTransfer(c *gin.Context) {
	var req ConfirmBankTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reference and outcome are required",
		})
		return
	}

	var outcome funding.Outcome
	switch req.Outcome {
	case "received":
		outcome = funding.OutcomeSucceeded
	case "rejected":
		outcome = funding.OutcomeFailed
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome must be received or rejected",
		})
		return
	}

	if err := h.reconciler.Apply(c.Request.Context(), ProviderEvent{
		Rail:                 fees.RailBankTransfer,
		ExternalRef:          req.Reference,
		Outcome:              outcome,
		Reason:               reasonFor(outcome, req.Reason),
		ConfirmedAmountCents: req.ConfirmedAmountCents,
	}); err != nil {
		if errors.Is(err, ErrAmountMismatch) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "amount_mismatch",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"applied": true})
}

func (h *Handler) verifyCryptoSignature(payload []byte, signature string) bool {
	if h.cryptoWebhookSecret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.cryptoWebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func reasonFor(outcome funding.Outcome, reason string) string {
	if outcome == funding.OutcomeSucceeded {
		return ""
	}
	return reason
}
