package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fundlane/adwallet/internal/funding"
)

type delivery struct {
	event     Event
	signature string
	header    string
	body      []byte
}

func newReceiver(t *testing.T, deliveries chan delivery) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var event Event
		if err := json.Unmarshal(body, &event); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		deliveries <- delivery{
			event:     event,
			signature: r.Header.Get("X-Adwallet-Signature"),
			header:    r.Header.Get("X-Adwallet-Event"),
			body:      body,
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func waitDelivery(t *testing.T, deliveries chan delivery) delivery {
	t.Helper()
	select {
	case d := <-deliveries:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return delivery{}
	}
}

func TestDispatch_SignedDelivery(t *testing.T) {
	deliveries := make(chan delivery, 1)
	receiver := newReceiver(t, deliveries)
	defer receiver.Close()

	store := NewMemoryStore()
	store.Create(context.Background(), &Subscription{
		ID:     "sub_1",
		OrgID:  "org_1",
		URL:    receiver.URL,
		Secret: "shh",
		Events: []EventType{EventFundingCompleted},
		Active: true,
	})

	d := NewDispatcher(store, nil)
	err := d.Dispatch(context.Background(), &Event{
		ID:        "evt_1",
		Type:      EventFundingCompleted,
		OrgID:     "org_1",
		Timestamp: time.Now().UTC(),
		Data:      map[string]interface{}{"intentId": "fi_1"},
	})
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	got := waitDelivery(t, deliveries)
	if got.event.ID != "evt_1" || got.header != "funding.completed" {
		t.Errorf("unexpected delivery: %+v", got.event)
	}

	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(got.body)
	if got.signature != hex.EncodeToString(mac.Sum(nil)) {
		t.Error("signature does not match payload HMAC")
	}
}

func TestDispatch_FiltersSubscriptions(t *testing.T) {
	deliveries := make(chan delivery, 2)
	receiver := newReceiver(t, deliveries)
	defer receiver.Close()

	store := NewMemoryStore()
	store.Create(context.Background(), &Subscription{
		ID:     "sub_inactive",
		OrgID:  "org_1",
		URL:    receiver.URL,
		Active: false,
	})
	store.Create(context.Background(), &Subscription{
		ID:     "sub_other_event",
		OrgID:  "org_1",
		URL:    receiver.URL,
		Events: []EventType{EventWalletWithdrawn},
		Active: true,
	})

	d := NewDispatcher(store, nil)
	if err := d.Dispatch(context.Background(), &Event{
		ID:    "evt_1",
		Type:  EventFundingCompleted,
		OrgID: "org_1",
	}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	select {
	case got := <-deliveries:
		t.Errorf("no subscription should have matched, got %+v", got.event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDispatch_EmptyEventListMeansEverything(t *testing.T) {
	deliveries := make(chan delivery, 1)
	receiver := newReceiver(t, deliveries)
	defer receiver.Close()

	store := NewMemoryStore()
	store.Create(context.Background(), &Subscription{
		ID:     "sub_all",
		OrgID:  "org_1",
		URL:    receiver.URL,
		Active: true,
	})

	d := NewDispatcher(store, nil)
	if err := d.Dispatch(context.Background(), &Event{
		ID:    "evt_1",
		Type:  EventWalletConsolidated,
		OrgID: "org_1",
	}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	got := waitDelivery(t, deliveries)
	if got.event.Type != EventWalletConsolidated {
		t.Errorf("unexpected event: %+v", got.event)
	}
}

func TestEmitter_FundingResolved(t *testing.T) {
	deliveries := make(chan delivery, 1)
	receiver := newReceiver(t, deliveries)
	defer receiver.Close()

	store := NewMemoryStore()
	store.Create(context.Background(), &Subscription{
		ID:     "sub_1",
		OrgID:  "org_1",
		URL:    receiver.URL,
		Active: true,
	})

	e := NewEmitter(NewDispatcher(store, nil), nil)
	e.FundingResolved(context.Background(), &funding.FundingIntent{
		ID:          "fi_1",
		OrgID:       "org_1",
		Status:      funding.IntentFailed,
		FailReason:  "card declined",
		AmountCents: 10_000,
	})

	got := waitDelivery(t, deliveries)
	if got.event.Type != EventFundingFailed {
		t.Errorf("expected funding.failed, got %s", got.event.Type)
	}
	if got.event.Data["failReason"] != "card declined" {
		t.Errorf("unexpected data: %+v", got.event.Data)
	}
}

func TestEmitter_NilSafe(t *testing.T) {
	var e *Emitter
	e.FundingResolved(context.Background(), &funding.FundingIntent{Status: funding.IntentCompleted})
}

func TestValidateURL(t *testing.T) {
	if err := ValidateURL("https://example.com/hook"); err != nil {
		t.Errorf("expected valid url, got %v", err)
	}
	for _, bad := range []string{"", "ftp://example.com", "not a url", "http://"} {
		if err := ValidateURL(bad); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}
