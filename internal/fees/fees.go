// Package fees computes funding surcharges per payment rail and plan tier.
//
// This is the only source of truth for fee percentages; rails and handlers
// must never carry their own literals. The computation is pure: identical
// inputs always produce identical outputs.
package fees

import "errors"

var (
	ErrPlanNotEligible = errors.New("plan tier is not eligible for wallet funding")
	ErrUnknownRail     = errors.New("unknown payment rail")
)

// Rail is a payment channel with its own fee schedule.
type Rail string

const (
	RailCard         Rail = "card"
	RailBankTransfer Rail = "bank_transfer"
	RailCrypto       Rail = "crypto"
)

// Valid reports whether the rail is one of the supported channels.
func (r Rail) Valid() bool {
	switch r {
	case RailCard, RailBankTransfer, RailCrypto:
		return true
	}
	return false
}

// PlanTier is an organization's subscription tier.
type PlanTier string

const (
	TierFree       PlanTier = "free"
	TierStarter    PlanTier = "starter"
	TierGrowth     PlanTier = "growth"
	TierEnterprise PlanTier = "enterprise"
)

// Quote is the result of a fee computation. TotalCents is what the payer
// is charged; AmountCents is what the wallet is credited.
type Quote struct {
	AmountCents int64 `json:"amountCents"`
	FeeCents    int64 `json:"feeCents"`
	TotalCents  int64 `json:"totalCents"`
}

// Schedule holds the per-rail fee rates in basis points.
type Schedule struct {
	CardBps   int
	BankBps   int
	CryptoBps int
}

// DefaultSchedule returns the standard fee schedule:
// card 3%, bank transfer 0.5%, crypto 1%.
func DefaultSchedule() Schedule {
	return Schedule{CardBps: 300, BankBps: 50, CryptoBps: 100}
}

// Policy computes fees for funding requests.
type Policy struct {
	schedule Schedule
}

// NewPolicy creates a fee policy with the given schedule.
func NewPolicy(schedule Schedule) *Policy {
	return &Policy{schedule: schedule}
}

// Compute returns the fee and total for a funding request.
//
// Free-tier organizations cannot fund a wallet at all; callers must refuse
// the request before any ledger mutation. Enterprise tier has all fees
// waived. The fee is integer cents, rounded half-up.
func (p *Policy) Compute(rail Rail, tier PlanTier, amountCents int64) (Quote, error) {
	if tier == TierFree {
		return Quote{}, ErrPlanNotEligible
	}

	bps, err := p.railBps(rail)
	if err != nil {
		return Quote{}, err
	}
	if tier == TierEnterprise {
		bps = 0
	}

	fee := roundHalfUpBps(amountCents, bps)
	return Quote{
		AmountCents: amountCents,
		FeeCents:    fee,
		TotalCents:  amountCents + fee,
	}, nil
}

func (p *Policy) railBps(rail Rail) (int, error) {
	switch rail {
	case RailCard:
		return p.schedule.CardBps, nil
	case RailBankTransfer:
		return p.schedule.BankBps, nil
	case RailCrypto:
		return p.schedule.CryptoBps, nil
	}
	return 0, ErrUnknownRail
}

// roundHalfUpBps computes amount * bps / 10000 in integer cents,
// rounding half-up.
func roundHalfUpBps(amountCents int64, bps int) int64 {
	return (amountCents*int64(bps) + 5_000) / 10_000
}
