package fees

import (
	"errors"
	"testing"
)

func TestCompute_DefaultSchedule(t *testing.T) {
	p := NewPolicy(DefaultSchedule())

	cases := []struct {
		name    string
		rail    Rail
		amount  int64
		wantFee int64
	}{
		{"card 3% of $100", RailCard, 10_000, 300},
		{"bank 0.5% of $100", RailBankTransfer, 10_000, 50},
		{"crypto 1% of $100", RailCrypto, 10_000, 100},
		{"card 3% of $10", RailCard, 1_000, 30},
		{"bank 0.5% of $50", RailBankTransfer, 5_000, 25},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q, err := p.Compute(tc.rail, TierStarter, tc.amount)
			if err != nil {
				t.Fatalf("Compute failed: %v", err)
			}
			if q.FeeCents != tc.wantFee {
				t.Errorf("expected fee %d, got %d", tc.wantFee, q.FeeCents)
			}
			if q.TotalCents != tc.amount+tc.wantFee {
				t.Errorf("total %d != amount %d + fee %d", q.TotalCents, tc.amount, q.FeeCents)
			}
		})
	}
}

func TestCompute_RoundHalfUp(t *testing.T) {
	p := NewPolicy(DefaultSchedule())

	// 0.5% of 101 cents = 0.505 cents -> rounds up to 1.
	q, err := p.Compute(RailBankTransfer, TierGrowth, 101)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if q.FeeCents != 1 {
		t.Errorf("expected fee 1 (half-up), got %d", q.FeeCents)
	}

	// 0.5% of 99 cents = 0.495 cents -> rounds down to 0.
	q, _ = p.Compute(RailBankTransfer, TierGrowth, 99)
	if q.FeeCents != 0 {
		t.Errorf("expected fee 0, got %d", q.FeeCents)
	}

	// 1% of 50 cents = 0.5 cents -> exactly half rounds up.
	q, _ = p.Compute(RailCrypto, TierGrowth, 50)
	if q.FeeCents != 1 {
		t.Errorf("expected fee 1 (exact half rounds up), got %d", q.FeeCents)
	}
}

func TestCompute_FreeTierRefused(t *testing.T) {
	p := NewPolicy(DefaultSchedule())

	_, err := p.Compute(RailCard, TierFree, 10_000)
	if !errors.Is(err, ErrPlanNotEligible) {
		t.Errorf("expected ErrPlanNotEligible, got %v", err)
	}
}

func TestCompute_EnterpriseWaived(t *testing.T) {
	p := NewPolicy(DefaultSchedule())

	q, err := p.Compute(RailCard, TierEnterprise, 10_000)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if q.FeeCents != 0 {
		t.Errorf("expected waived fee, got %d", q.FeeCents)
	}
	if q.TotalCents != 10_000 {
		t.Errorf("expected total 10000, got %d", q.TotalCents)
	}
}

func TestCompute_UnknownRail(t *testing.T) {
	p := NewPolicy(DefaultSchedule())

	_, err := p.Compute(Rail("paypal"), TierStarter, 10_000)
	if !errors.Is(err, ErrUnknownRail) {
		t.Errorf("expected ErrUnknownRail, got %v", err)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	p := NewPolicy(DefaultSchedule())

	for amount := int64(1); amount < 2_000; amount++ {
		a, err := p.Compute(RailCard, TierStarter, amount)
		if err != nil {
			t.Fatalf("Compute failed at %d: %v", amount, err)
		}
		b, _ := p.Compute(RailCard, TierStarter, amount)
		if a != b {
			t.Fatalf("non-deterministic result at %d: %+v vs %+v", amount, a, b)
		}
		if a.TotalCents-a.FeeCents != amount {
			t.Fatalf("total - fee != amount at %d: %+v", amount, a)
		}
	}
}
