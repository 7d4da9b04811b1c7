package reconcile

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/fundlane/adwallet/internal/fees"
	"github.com/fundlane/adwallet/internal/funding"
)

type fakeResolver struct {
	calls   []string
	intent  *funding.FundingIntent
	err     error
	outcome funding.Outcome
}

func (f *fakeResolver) Resolve(ctx context.Context, externalRef string, outcome funding.Outcome, reason string) (*funding.FundingIntent, error) {
	f.calls = append(f.calls, externalRef)
	f.outcome = outcome
	return f.intent, f.err
}

func (f *fakeResolver) GetByExternalRef(ctx context.Context, externalRef string) (*funding.FundingIntent, error) {
	if f.intent == nil {
		return nil, funding.ErrUnknownReference
	}
	return f.intent, nil
}

type fakeNotifier struct {
	resolved []*funding.FundingIntent
}

func (f *fakeNotifier) FundingResolved(ctx context.Context, intent *funding.FundingIntent) {
	f.resolved = append(f.resolved, intent)
}

func TestApply_SettlesAndNotifies(t *testing.T) {
	resolver := &fakeResolver{intent: &funding.FundingIntent{ID: "fi_1", Status: funding.IntentCompleted}}
	notifier := &fakeNotifier{}
	r := New(resolver, notifier, nil)

	err := r.Apply(context.Background(), ProviderEvent{
		Rail:        fees.RailCard,
		ExternalRef: "cs_123",
		Outcome:     funding.OutcomeSucceeded,
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(resolver.calls) != 1 || resolver.calls[0] != "cs_123" {
		t.Errorf("unexpected resolver calls: %v", resolver.calls)
	}
	if len(notifier.resolved) != 1 || notifier.resolved[0].ID != "fi_1" {
		t.Errorf("expected notifier to see the settled intent: %+v", notifier.resolved)
	}
}

func TestApply_AbsorbsUnknownReference(t *testing.T) {
	resolver := &fakeResolver{err: funding.ErrUnknownReference}
	notifier := &fakeNotifier{}
	r := New(resolver, notifier, nil)

	err := r.Apply(context.Background(), ProviderEvent{
		Rail:        fees.RailCard,
		ExternalRef: "cs_nobody",
		Outcome:     funding.OutcomeSucceeded,
	})
	if err != nil {
		t.Fatalf("unknown reference must be absorbed, got %v", err)
	}
	if len(notifier.resolved) != 0 {
		t.Error("absorbed event must not notify")
	}
}

func TestApply_AbsorbsDuplicateDelivery(t *testing.T) {
	resolver := &fakeResolver{
		intent: &funding.FundingIntent{ID: "fi_1", Status: funding.IntentCompleted},
		err:    funding.ErrIntentTerminal,
	}
	notifier := &fakeNotifier{}
	r := New(resolver, notifier, nil)

	err := r.Apply(context.Background(), ProviderEvent{
		Rail:        fees.RailCrypto,
		ExternalRef: "ch_1",
		Outcome:     funding.OutcomeSucceeded,
	})
	if err != nil {
		t.Fatalf("duplicate delivery must be absorbed, got %v", err)
	}
	if len(notifier.resolved) != 0 {
		t.Error("duplicate delivery must not notify again")
	}
}

func TestApply_PropagatesResolutionErrors(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("store unavailable")}
	r := New(resolver, nil, nil)

	err := r.Apply(context.Background(), ProviderEvent{
		Rail:        fees.RailCard,
		ExternalRef: "cs_1",
		Outcome:     funding.OutcomeSucceeded,
	})
	if err == nil {
		t.Fatal("expected error to propagate so the provider retries")
	}
}

func TestApply_RejectsAmountMismatch(t *testing.T) {
	resolver := &fakeResolver{intent: &funding.FundingIntent{
		ID:         "fi_1",
		Status:     funding.IntentPending,
		TotalCents: 10_050,
	}}
	r := New(resolver, nil, nil)

	err := r.Apply(context.Background(), ProviderEvent{
		Rail:                 fees.RailBankTransfer,
		ExternalRef:          "WIRE-1",
		Outcome:              funding.OutcomeSucceeded,
		ConfirmedAmountCents: 10_000,
	})
	if !errors.Is(err, ErrAmountMismatch) {
		t.Fatalf("expected ErrAmountMismatch, got %v", err)
	}
	if len(resolver.calls) != 0 {
		t.Error("mismatched confirmation must not settle the intent")
	}
}

func TestApply_MatchingAmountSettles(t *testing.T) {
	resolver := &fakeResolver{intent: &funding.FundingIntent{
		ID:         "fi_1",
		Status:     funding.IntentPending,
		TotalCents: 10_050,
	}}
	r := New(resolver, nil, nil)

	err := r.Apply(context.Background(), ProviderEvent{
		Rail:                 fees.RailBankTransfer,
		ExternalRef:          "WIRE-1",
		Outcome:              funding.OutcomeSucceeded,
		ConfirmedAmountCents: 10_050,
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(resolver.calls) != 1 {
		t.Errorf("expected the intent to settle, calls: %v", resolver.calls)
	}
}

func TestExpire_SettlesThroughApply(t *testing.T) {
	resolver := &fakeResolver{intent: &funding.FundingIntent{ID: "fi_1", Status: funding.IntentExpired}}
	r := New(resolver, nil, nil)

	if err := r.Expire(context.Background(), fees.RailCrypto, "ch_1"); err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if len(resolver.calls) != 1 || resolver.calls[0] != "ch_1" {
		t.Errorf("unexpected resolver calls: %v", resolver.calls)
	}
	if resolver.outcome != funding.OutcomeExpired {
		t.Errorf("expected expired outcome, got %s", resolver.outcome)
	}
}

func TestApply_RejectsMissingReference(t *testing.T) {
	r := New(&fakeResolver{}, nil, nil)

	if err := r.Apply(context.Background(), ProviderEvent{Rail: fees.RailCard}); err == nil {
		t.Fatal("expected error for missing reference")
	}
}

func signCrypto(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newCryptoWebhookRouter(resolver *fakeResolver, secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(New(resolver, nil, nil), "whsec_unused", secret)
	h.RegisterRoutes(r.Group("/v1"))
	admin := r.Group("/v1/admin")
	h.RegisterAdminRoutes(admin)
	return r
}

func TestCryptoWebhook(t *testing.T) {
	resolver := &fakeResolver{intent: &funding.FundingIntent{ID: "fi_1"}}
	router := newCryptoWebhookRouter(resolver, "shh")

	payload, _ := json.Marshal(cryptoWebhookPayload{ChargeID: "ch_1", Status: "confirmed"})
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/crypto", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", signCrypto("shh", payload))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(resolver.calls) != 1 || resolver.calls[0] != "ch_1" {
		t.Errorf("unexpected resolver calls: %v", resolver.calls)
	}
	if resolver.outcome != funding.OutcomeSucceeded {
		t.Errorf("expected succeeded outcome, got %s", resolver.outcome)
	}
}

func TestCryptoWebhook_BadSignature(t *testing.T) {
	resolver := &fakeResolver{}
	router := newCryptoWebhookRouter(resolver, "shh")

	payload, _ := json.Marshal(cryptoWebhookPayload{ChargeID: "ch_1", Status: "confirmed"})
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/crypto", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", "forged")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(resolver.calls) != 0 {
		t.Error("unverified webhook must not reach the reconciler")
	}
}

func TestConfirmBankTransfer(t *testing.T) {
	resolver := &fakeResolver{intent: &funding.FundingIntent{ID: "fi_1"}}
	router := newCryptoWebhookRouter(resolver, "shh")

	body := bytes.NewBufferString(`{"reference": "WIRE-ABC123", "outcome": "received"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/bank-transfers/confirm", body)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(resolver.calls) != 1 || resolver.calls[0] != "WIRE-ABC123" {
		t.Errorf("unexpected resolver calls: %v", resolver.calls)
	}
}

func TestConfirmBankTransfer_AmountMismatch(t *testing.T) {
	resolver := &fakeResolver{intent: &funding.FundingIntent{
		ID:         "fi_1",
		Status:     funding.IntentPending,
		TotalCents: 10_050,
	}}
	router := newCryptoWebhookRouter(resolver, "shh")

	body := bytes.NewBufferString(`{"reference": "WIRE-ABC123", "outcome": "received", "confirmedAmountCents": 9000}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/bank-transfers/confirm", body)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if len(resolver.calls) != 0 {
		t.Error("mismatched confirmation must not settle the intent")
	}
}

func TestConfirmBankTransfer_InvalidOutcome(t *testing.T) {
	resolver := &fakeResolver{}
	router := newCryptoWebhookRouter(resolver, "shh")

	body := bytes.NewBufferString(`{"reference": "WIRE-ABC123", "outcome": "maybe"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/bank-transfers/confirm", body)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
