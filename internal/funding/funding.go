// Package funding turns wallet top-up requests into provider-backed
// funding intents.
//
// An intent is the bridge between the ledger and an external payment
// provider: creating one opens a pending ledger credit tagged with the
// provider reference, and the webhook reconciler later resolves it to
// completed or failed. Nothing is recorded if any step of intent
// creation fails.
package funding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fundlane/adwallet/internal/fees"
	"github.com/fundlane/adwallet/internal/idgen"
	"github.com/fundlane/adwallet/internal/ledger"
	"github.com/fundlane/adwallet/internal/metrics"
)

var (
	ErrIntentNotFound   = errors.New("funding: intent not found")
	ErrIntentTerminal   = errors.New("funding: intent already resolved")
	ErrUnknownReference = errors.New("funding: no intent for reference")
	ErrAmountBelowMin   = errors.New("funding: amount below rail minimum")
	ErrAmountAboveMax   = errors.New("funding: amount above rail maximum")
	ErrRailUnavailable  = errors.New("funding: rail is not configured")
)

// IntentStatus is the lifecycle state of a funding intent.
type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentCompleted IntentStatus = "completed"
	IntentFailed    IntentStatus = "failed"
	IntentExpired   IntentStatus = "expired"
	IntentCancelled IntentStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s IntentStatus) Terminal() bool {
	return s != IntentPending
}

// Outcome is the provider's verdict on a funding attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeExpired   Outcome = "expired"
)

// FundingIntent is one wallet top-up attempt through a payment rail.
//
// AmountCents is what the wallet will be credited. In surcharge mode the
// payer is charged TotalCents; in deduct mode the payer pays AmountCents
// and the fee is taken out of the credit on completion.
type FundingIntent struct {
	ID          string       `json:"id"`
	OrgID       string       `json:"orgId"`
	WalletID    string       `json:"walletId"`
	Rail        fees.Rail    `json:"rail"`
	AmountCents int64        `json:"amountCents"`
	FeeCents    int64        `json:"feeCents"`
	TotalCents  int64        `json:"totalCents"`
	Status      IntentStatus `json:"status"`
	ExternalRef string       `json:"externalRef"`
	LedgerTxID  string       `json:"ledgerTxId"`
	FailReason  string       `json:"failReason,omitempty"`

	// Provider-specific payment instructions.
	CheckoutURL     string `json:"checkoutUrl,omitempty"`
	BankReference   string `json:"bankReference,omitempty"`
	DepositAddress  string `json:"depositAddress,omitempty"`
	DepositCurrency string `json:"depositCurrency,omitempty"`
	PaymentURL      string `json:"paymentUrl,omitempty"`
	QRCode          string `json:"qrCode,omitempty"`

	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// Session is what a provider hands back after initiating a payment:
// the reference webhooks will carry, plus payment instructions.
type Session struct {
	ExternalRef     string
	CheckoutURL     string
	BankReference   string
	DepositAddress  string
	DepositCurrency string
	PaymentURL      string
	QRCode          string
	ExpiresAt       *time.Time
}

// Provider initiates payments on one rail.
type Provider interface {
	Rail() fees.Rail
	// Initiate registers the payment with the external provider and
	// returns the session the payer completes it through.
	Initiate(ctx context.Context, intent *FundingIntent) (*Session, error)
}

// Limits are the per-rail amount bounds in cents. Zero max means uncapped.
type Limits struct {
	CardMinCents   int64
	BankMinCents   int64
	BankMaxCents   int64
	CryptoMinCents int64
	CryptoMaxCents int64
}

// PlanSource resolves an organization's plan tier for fee gating.
type PlanSource interface {
	Plan(ctx context.Context, orgID string) (fees.PlanTier, error)
}

// IntentStore persists funding intents.
type IntentStore interface {
	Create(ctx context.Context, intent *FundingIntent) error
	Get(ctx context.Context, id string) (*FundingIntent, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*FundingIntent, error)
	Update(ctx context.Context, intent *FundingIntent) error
	ListByOrg(ctx context.Context, orgID string, limit int) ([]*FundingIntent, error)
	// ListExpired returns pending intents whose expiry has passed.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*FundingIntent, error)
}

// Service creates and resolves funding intents.
type Service struct {
	store     IntentStore
	ledger    *ledger.Ledger
	policy    *fees.Policy
	plans     PlanSource
	providers map[fees.Rail]Provider
	limits    Limits
	deductFee bool
	logger    *slog.Logger
}

// NewService creates a funding service. deductFee selects fee handling:
// false charges the payer amount plus fee (surcharge), true credits the
// full charge and books the fee as a separate wallet debit on completion.
func NewService(store IntentStore, led *ledger.Ledger, policy *fees.Policy, plans PlanSource, limits Limits, deductFee bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		ledger:    led,
		policy:    policy,
		plans:     plans,
		providers: make(map[fees.Rail]Provider),
		limits:    limits,
		deductFee: deductFee,
		logger:    logger,
	}
}

// RegisterProvider wires a payment provider for its rail.
func (s *Service) RegisterProvider(p Provider) {
	s.providers[p.Rail()] = p
}

// Create opens a funding intent: plan gate, rail limits, fee quote,
// provider session, then the pending ledger credit. A failure at any
// step leaves no trace in the ledger or the intent store.
func (s *Service) Create(ctx context.Context, orgID string, rail fees.Rail, amountCents int64) (*FundingIntent, error) {
	if amountCents <= 0 {
		return nil, ledger.ErrInvalidAmount
	}
	if !rail.Valid() {
		return nil, fees.ErrUnknownRail
	}

	tier, err := s.plans.Plan(ctx, orgID)
	if err != nil {
		return nil, err
	}
	quote, err := s.policy.Compute(rail, tier, amountCents)
	if err != nil {
		metrics.FundingIntentsTotal.WithLabelValues(string(rail), "refused").Inc()
		return nil, err
	}
	if err := s.checkLimits(rail, amountCents); err != nil {
		return nil, err
	}

	provider, ok := s.providers[rail]
	if !ok {
		return nil, ErrRailUnavailable
	}

	now := time.Now().UTC()
	intent := &FundingIntent{
		ID:          idgen.WithPrefix("fi_"),
		OrgID:       orgID,
		WalletID:    orgID,
		Rail:        rail,
		AmountCents: quote.AmountCents,
		FeeCents:    quote.FeeCents,
		TotalCents:  quote.TotalCents,
		Status:      IntentPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	session, err := provider.Initiate(ctx, intent)
	if err != nil {
		metrics.FundingIntentsTotal.WithLabelValues(string(rail), "provider_error").Inc()
		return nil, fmt.Errorf("initiate %s payment: %w", rail, err)
	}
	intent.ExternalRef = session.ExternalRef
	intent.CheckoutURL = session.CheckoutURL
	intent.BankReference = session.BankReference
	intent.DepositAddress = session.DepositAddress
	intent.DepositCurrency = session.DepositCurrency
	intent.PaymentURL = session.PaymentURL
	intent.QRCode = session.QRCode
	intent.ExpiresAt = session.ExpiresAt

	// The pending credit is for the amount the wallet will keep. In
	// deduct mode the payer's full charge lands first and the fee is
	// debited at completion.
	creditCents := intent.AmountCents
	if s.deductFee {
		creditCents = intent.TotalCents
	}
	tx, err := s.ledger.Begin(ctx, intent.WalletID, ledger.TxTopupFunding, creditCents, intent.ExternalRef)
	if err != nil {
		return nil, fmt.Errorf("open pending credit: %w", err)
	}
	intent.LedgerTxID = tx.ID

	if err := s.store.Create(ctx, intent); err != nil {
		// Unwind the pending credit so the ledger does not carry an
		// orphaned entry for an intent that was never recorded.
		if cancelErr := s.ledger.Cancel(ctx, tx.ID); cancelErr != nil {
			s.logger.Error("failed to cancel orphaned pending credit",
				"transaction_id", tx.ID, "error", cancelErr)
		}
		return nil, err
	}

	metrics.FundingIntentsTotal.WithLabelValues(string(rail), "created").Inc()
	s.logger.Info("funding intent created",
		"intent_id", intent.ID,
		"org_id", orgID,
		"rail", string(rail),
		"amount_cents", intent.AmountCents,
		"fee_cents", intent.FeeCents,
		"external_ref", intent.ExternalRef,
	)
	return intent, nil
}

// Get returns a funding intent by id.
func (s *Service) Get(ctx context.Context, id string) (*FundingIntent, error) {
	return s.store.Get(ctx, id)
}

// GetByExternalRef returns the intent tagged with a provider reference.
func (s *Service) GetByExternalRef(ctx context.Context, externalRef string) (*FundingIntent, error) {
	return s.store.GetByExternalRef(ctx, externalRef)
}

// ListByOrg returns an organization's funding intents, newest first.
func (s *Service) ListByOrg(ctx context.Context, orgID string, limit int) ([]*FundingIntent, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByOrg(ctx, orgID, limit)
}

// Cancel abandons a pending intent before the provider resolves it.
func (s *Service) Cancel(ctx context.Context, id string) (*FundingIntent, error) {
	intent, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status.Terminal() {
		return nil, ErrIntentTerminal
	}

	if err := s.ledger.Cancel(ctx, intent.LedgerTxID); err != nil {
		return nil, err
	}
	s.markResolved(intent, IntentCancelled, "cancelled by caller")
	if err := s.store.Update(ctx, intent); err != nil {
		return nil, err
	}

	metrics.FundingIntentsTotal.WithLabelValues(string(intent.Rail), "cancelled").Inc()
	return intent, nil
}

// Resolve settles the intent matching a provider reference.
//
// Succeeded commits the pending credit (and in deduct mode books the fee
// debit); failed and expired void it. Resolving an already-terminal
// intent returns ErrIntentTerminal so webhook retries can be absorbed.
func (s *Service) Resolve(ctx context.Context, externalRef string, outcome Outcome, reason string) (*FundingIntent, error) {
	intent, err := s.store.GetByExternalRef(ctx, externalRef)
	if err != nil {
		if errors.Is(err, ErrIntentNotFound) {
			return nil, ErrUnknownReference
		}
		return nil, err
	}
	if intent.Status.Terminal() {
		return intent, ErrIntentTerminal
	}

	switch outcome {
	case OutcomeSucceeded:
		if _, err := s.ledger.Commit(ctx, intent.LedgerTxID); err != nil {
			return nil, fmt.Errorf("commit funding credit: %w", err)
		}
		if s.deductFee && intent.FeeCents > 0 {
			if err := s.bookFee(ctx, intent); err != nil {
				return nil, err
			}
		}
		s.markResolved(intent, IntentCompleted, "")
	case OutcomeFailed:
		if err := s.ledger.Fail(ctx, intent.LedgerTxID, reason); err != nil {
			return nil, fmt.Errorf("fail funding credit: %w", err)
		}
		s.markResolved(intent, IntentFailed, reason)
	case OutcomeExpired:
		if err := s.ledger.Fail(ctx, intent.LedgerTxID, "payment window expired"); err != nil {
			return nil, fmt.Errorf("expire funding credit: %w", err)
		}
		s.markResolved(intent, IntentExpired, "payment window expired")
	default:
		return nil, fmt.Errorf("funding: unknown outcome %q", outcome)
	}

	if err := s.store.Update(ctx, intent); err != nil {
		return nil, err
	}

	metrics.FundingIntentsTotal.WithLabelValues(string(intent.Rail), string(intent.Status)).Inc()
	s.logger.Info("funding intent resolved",
		"intent_id", intent.ID,
		"org_id", intent.OrgID,
		"rail", string(intent.Rail),
		"status", string(intent.Status),
		"external_ref", externalRef,
	)
	return intent, nil
}

// ExpireOverdue expires pending intents past their payment window,
// routing each through settle so sweeps share one serialization point
// with provider webhooks. Returns how many were expired.
func (s *Service) ExpireOverdue(ctx context.Context, now time.Time, settle func(context.Context, *FundingIntent) error) (int, error) {
	overdue, err := s.store.ListExpired(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, intent := range overdue {
		if err := settle(ctx, intent); err != nil {
			if errors.Is(err, ErrIntentTerminal) {
				continue
			}
			s.logger.Error("failed to expire funding intent",
				"intent_id", intent.ID, "error", err)
			continue
		}
		expired++
	}
	return expired, nil
}

// bookFee records the completed fee debit tied to a deduct-mode intent.
func (s *Service) bookFee(ctx context.Context, intent *FundingIntent) error {
	feeTx, err := s.ledger.Begin(ctx, intent.WalletID, ledger.TxTopupFee, -intent.FeeCents, intent.ExternalRef+":fee")
	if err != nil {
		return fmt.Errorf("open fee debit: %w", err)
	}
	if _, err := s.ledger.Commit(ctx, feeTx.ID); err != nil {
		return fmt.Errorf("commit fee debit: %w", err)
	}
	return nil
}

func (s *Service) markResolved(intent *FundingIntent, status IntentStatus, reason string) {
	now := time.Now().UTC()
	intent.Status = status
	intent.FailReason = reason
	intent.UpdatedAt = now
	intent.ResolvedAt = &now
}

func (s *Service) checkLimits(rail fees.Rail, amountCents int64) error {
	var min, max int64
	switch rail {
	case fees.RailCard:
		min = s.limits.CardMinCents
	case fees.RailBankTransfer:
		min, max = s.limits.BankMinCents, s.limits.BankMaxCents
	case fees.RailCrypto:
		min, max = s.limits.CryptoMinCents, s.limits.CryptoMaxCents
	}
	if min > 0 && amountCents < min {
		return ErrAmountBelowMin
	}
	if max > 0 && amountCents > max {
		return ErrAmountAboveMax
	}
	return nil
}
