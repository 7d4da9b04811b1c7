package funding

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fundlane/adwallet/internal/fees"
	"github.com/fundlane/adwallet/internal/ledger"
)

type fakeProvider struct {
	rail fees.Rail
	err  error
	refs int
	exp  *time.Time
}

func (f *fakeProvider) Rail() fees.Rail { return f.rail }

func (f *fakeProvider) Initiate(ctx context.Context, intent *FundingIntent) (*Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.refs++
	return &Session{
		ExternalRef: fmt.Sprintf("ref_%s_%d", f.rail, f.refs),
		ExpiresAt:   f.exp,
	}, nil
}

type fakePlans struct {
	tier fees.PlanTier
}

func (f *fakePlans) Plan(ctx context.Context, orgID string) (fees.PlanTier, error) {
	return f.tier, nil
}

func testLimits() Limits {
	return Limits{
		CardMinCents:   1_000,
		BankMinCents:   5_000,
		BankMaxCents:   5_000_000,
		CryptoMinCents: 1_000,
		CryptoMaxCents: 1_000_000,
	}
}

func newTestService(t *testing.T, tier fees.PlanTier, deductFee bool) (*Service, *ledger.Ledger, *fakeProvider) {
	t.Helper()
	led := ledger.New(ledger.NewMemoryStore(), nil)
	if err := led.CreateWallet(context.Background(), "org_1"); err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}

	svc := NewService(NewMemoryStore(), led, fees.NewPolicy(fees.DefaultSchedule()), &fakePlans{tier: tier}, testLimits(), deductFee, nil)
	card := &fakeProvider{rail: fees.RailCard}
	svc.RegisterProvider(card)
	return svc, led, card
}

func TestCreate_SurchargeQuote(t *testing.T) {
	svc, led, _ := newTestService(t, fees.TierStarter, false)

	intent, err := svc.Create(context.Background(), "org_1", fees.RailCard, 10_000)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if intent.AmountCents != 10_000 || intent.FeeCents != 300 || intent.TotalCents != 10_300 {
		t.Errorf("unexpected quote: %+v", intent)
	}
	if intent.Status != IntentPending {
		t.Errorf("expected pending, got %s", intent.Status)
	}

	// The pending credit must not show up in the balance yet.
	wallet, err := led.Balance(context.Background(), "org_1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if wallet.BalanceCents != 0 {
		t.Errorf("expected balance 0 before resolution, got %d", wallet.BalanceCents)
	}

	tx, err := led.FindByExternalRef(context.Background(), intent.ExternalRef)
	if err != nil {
		t.Fatalf("FindByExternalRef failed: %v", err)
	}
	if tx.ID != intent.LedgerTxID || tx.AmountCents != 10_000 || tx.Status != ledger.StatusPending {
		t.Errorf("unexpected pending credit: %+v", tx)
	}
}

func TestCreate_FreeTierRefused(t *testing.T) {
	svc, led, _ := newTestService(t, fees.TierFree, false)

	_, err := svc.Create(context.Background(), "org_1", fees.RailCard, 10_000)
	if !errors.Is(err, fees.ErrPlanNotEligible) {
		t.Fatalf("expected ErrPlanNotEligible, got %v", err)
	}

	history, _ := led.History(context.Background(), "org_1", 10)
	if len(history) != 0 {
		t.Errorf("refused funding must not touch the ledger: %+v", history)
	}
}

func TestCreate_RailLimits(t *testing.T) {
	svc, _, _ := newTestService(t, fees.TierStarter, false)

	if _, err := svc.Create(context.Background(), "org_1", fees.RailCard, 999); !errors.Is(err, ErrAmountBelowMin) {
		t.Errorf("expected ErrAmountBelowMin, got %v", err)
	}

	bank := &fakeProvider{rail: fees.RailBankTransfer}
	svc.RegisterProvider(bank)
	if _, err := svc.Create(context.Background(), "org_1", fees.RailBankTransfer, 5_000_001); !errors.Is(err, ErrAmountAboveMax) {
		t.Errorf("expected ErrAmountAboveMax, got %v", err)
	}
}

func TestCreate_ProviderErrorLeavesNoTrace(t *testing.T) {
	svc, led, card := newTestService(t, fees.TierStarter, false)
	card.err = errors.New("provider down")

	if _, err := svc.Create(context.Background(), "org_1", fees.RailCard, 10_000); err == nil {
		t.Fatal("expected provider error")
	}

	history, _ := led.History(context.Background(), "org_1", 10)
	if len(history) != 0 {
		t.Errorf("failed create must not leave ledger entries: %+v", history)
	}
	if intents, _ := svc.ListByOrg(context.Background(), "org_1", 10); len(intents) != 0 {
		t.Errorf("failed create must not record an intent: %+v", intents)
	}
}

func TestCreate_UnconfiguredRail(t *testing.T) {
	svc, _, _ := newTestService(t, fees.TierStarter, false)

	if _, err := svc.Create(context.Background(), "org_1", fees.RailCrypto, 10_000); !errors.Is(err, ErrRailUnavailable) {
		t.Errorf("expected ErrRailUnavailable, got %v", err)
	}
}

func TestResolve_Succeeded(t *testing.T) {
	svc, led, _ := newTestService(t, fees.TierStarter, false)

	intent, err := svc.Create(context.Background(), "org_1", fees.RailCard, 10_000)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	resolved, err := svc.Resolve(context.Background(), intent.ExternalRef, OutcomeSucceeded, "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != IntentCompleted {
		t.Errorf("expected completed, got %s", resolved.Status)
	}
	if resolved.ResolvedAt == nil {
		t.Error("expected resolvedAt to be set")
	}

	wallet, _ := led.Balance(context.Background(), "org_1")
	if wallet.BalanceCents != 10_000 {
		t.Errorf("expected balance 10000, got %d", wallet.BalanceCents)
	}
}

func TestResolve_Failed(t *testing.T) {
	svc, led, _ := newTestService(t, fees.TierStarter, false)

	intent, _ := svc.Create(context.Background(), "org_1", fees.RailCard, 10_000)

	resolved, err := svc.Resolve(context.Background(), intent.ExternalRef, OutcomeFailed, "card declined")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != IntentFailed || resolved.FailReason != "card declined" {
		t.Errorf("unexpected resolution: %+v", resolved)
	}

	wallet, _ := led.Balance(context.Background(), "org_1")
	if wallet.BalanceCents != 0 || wallet.ReservedCents != 0 {
		t.Errorf("failed funding must leave the wallet untouched: %+v", wallet)
	}
}

func TestResolve_UnknownReference(t *testing.T) {
	svc, _, _ := newTestService(t, fees.TierStarter, false)

	if _, err := svc.Resolve(context.Background(), "ref_nobody", OutcomeSucceeded, ""); !errors.Is(err, ErrUnknownReference) {
		t.Errorf("expected ErrUnknownReference, got %v", err)
	}
}

func TestResolve_DuplicateDelivery(t *testing.T) {
	svc, led, _ := newTestService(t, fees.TierStarter, false)

	intent, _ := svc.Create(context.Background(), "org_1", fees.RailCard, 10_000)

	if _, err := svc.Resolve(context.Background(), intent.ExternalRef, OutcomeSucceeded, ""); err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}

	resolved, err := svc.Resolve(context.Background(), intent.ExternalRef, OutcomeSucceeded, "")
	if !errors.Is(err, ErrIntentTerminal) {
		t.Fatalf("expected ErrIntentTerminal, got %v", err)
	}
	if resolved == nil || resolved.Status != IntentCompleted {
		t.Errorf("duplicate resolve should return the settled intent: %+v", resolved)
	}

	wallet, _ := led.Balance(context.Background(), "org_1")
	if wallet.BalanceCents != 10_000 {
		t.Errorf("duplicate delivery must not double-credit: %d", wallet.BalanceCents)
	}
}

func TestResolve_DeductMode(t *testing.T) {
	svc, led, _ := newTestService(t, fees.TierStarter, true)

	intent, err := svc.Create(context.Background(), "org_1", fees.RailCard, 10_000)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := svc.Resolve(context.Background(), intent.ExternalRef, OutcomeSucceeded, ""); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Full charge lands, then the fee comes out as its own entry.
	wallet, _ := led.Balance(context.Background(), "org_1")
	if wallet.BalanceCents != 10_000 {
		t.Errorf("expected net 10000 after fee deduction, got %d", wallet.BalanceCents)
	}

	history, _ := led.History(context.Background(), "org_1", 10)
	var feeSeen bool
	for _, tx := range history {
		if tx.Type == ledger.TxTopupFee {
			feeSeen = true
			if tx.AmountCents != -300 || tx.Status != ledger.StatusCompleted {
				t.Errorf("unexpected fee entry: %+v", tx)
			}
		}
	}
	if !feeSeen {
		t.Error("expected a topup_fee entry")
	}
}

func TestCancel(t *testing.T) {
	svc, led, _ := newTestService(t, fees.TierStarter, false)

	intent, _ := svc.Create(context.Background(), "org_1", fees.RailCard, 10_000)

	cancelled, err := svc.Cancel(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.Status != IntentCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}

	if _, err := svc.Cancel(context.Background(), intent.ID); !errors.Is(err, ErrIntentTerminal) {
		t.Errorf("expected ErrIntentTerminal on second cancel, got %v", err)
	}

	wallet, _ := led.Balance(context.Background(), "org_1")
	if wallet.BalanceCents != 0 || wallet.ReservedCents != 0 {
		t.Errorf("cancelled funding must leave the wallet untouched: %+v", wallet)
	}
}

func TestExpireOverdue(t *testing.T) {
	svc, led, card := newTestService(t, fees.TierStarter, false)
	past := time.Now().UTC().Add(-time.Minute)
	card.exp = &past

	intent, err := svc.Create(context.Background(), "org_1", fees.RailCard, 10_000)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	settle := func(ctx context.Context, overdue *FundingIntent) error {
		_, err := svc.Resolve(ctx, overdue.ExternalRef, OutcomeExpired, "payment window expired")
		return err
	}

	expired, err := svc.ExpireOverdue(context.Background(), time.Now().UTC(), settle)
	if err != nil {
		t.Fatalf("ExpireOverdue failed: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired intent, got %d", expired)
	}

	got, _ := svc.Get(context.Background(), intent.ID)
	if got.Status != IntentExpired {
		t.Errorf("expected expired, got %s", got.Status)
	}

	wallet, _ := led.Balance(context.Background(), "org_1")
	if wallet.BalanceCents != 0 {
		t.Errorf("expired funding must not credit the wallet: %d", wallet.BalanceCents)
	}

	// A second sweep finds nothing.
	expired, err = svc.ExpireOverdue(context.Background(), time.Now().UTC(), settle)
	if err != nil || expired != 0 {
		t.Errorf("second sweep should be empty: %d, %v", expired, err)
	}
}
