// Package consolidation pulls ad-account allocations back into the
// wallet.
//
// The inverse of a distribution, but with different batch semantics:
// each account's pull is its own wallet credit plus sub-balance debit,
// so one account failing to release funds never blocks the others. The
// caller gets a per-account manifest of outcomes.
package consolidation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fundlane/adwallet/internal/adaccounts"
	"github.com/fundlane/adwallet/internal/ledger"
	"github.com/fundlane/adwallet/internal/metrics"
)

var (
	ErrNothingToConsolidate = errors.New("consolidation: no funds to consolidate")
	ErrDuplicateAccount     = errors.New("consolidation: duplicate ad account requested")
)

// Per-account outcome statuses.
const (
	StatusConsolidated = "consolidated"
	StatusSkipped      = "skipped"
	StatusFailed       = "failed"
)

// Outcome reports what happened to one ad account during a sweep.
type Outcome struct {
	AdAccountID string `json:"adAccountId"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amountCents,omitempty"`
	WalletTxID  string `json:"walletTxId,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Consolidation is the manifest of a sweep. TotalCents counts only the
// funds that actually moved; skipped and failed accounts contribute
// nothing.
type Consolidation struct {
	OrgID       string    `json:"orgId"`
	TotalCents  int64     `json:"totalCents"`
	Outcomes    []Outcome `json:"outcomes"`
	CompletedAt time.Time `json:"completedAt"`
}

// Notifier is told about completed consolidations.
type Notifier interface {
	Consolidated(ctx context.Context, cons *Consolidation)
}

// Service executes consolidations.
type Service struct {
	ledger    *ledger.Ledger
	directory *adaccounts.Directory
	notifier  Notifier
	logger    *slog.Logger
}

// NewService creates a consolidation service. notifier may be nil.
func NewService(led *ledger.Ledger, directory *adaccounts.Directory, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: led, directory: directory, notifier: notifier, logger: logger}
}

type target struct {
	adAccountID  string
	balanceCents int64
	invalidErr   error
}

// Consolidate sweeps the named ad accounts' allocations back into the
// wallet, one independent pull per account. An empty account list
// sweeps every account with a non-zero allocation. Accounts holding
// nothing are reported as skipped; an unknown or foreign id, or a pull
// that fails, is reported as failed without aborting the rest of the
// sweep.
func (s *Service) Consolidate(ctx context.Context, orgID string, adAccountIDs []string) (*Consolidation, error) {
	targets, err := s.resolveTargets(ctx, orgID, adAccountIDs)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, ErrNothingToConsolidate
	}

	cons := &Consolidation{
		OrgID:    orgID,
		Outcomes: make([]Outcome, 0, len(targets)),
	}
	for _, tgt := range targets {
		if tgt.invalidErr != nil {
			cons.Outcomes = append(cons.Outcomes, Outcome{
				AdAccountID: tgt.adAccountID,
				Status:      StatusFailed,
				Error:       tgt.invalidErr.Error(),
			})
			continue
		}
		if tgt.balanceCents <= 0 {
			cons.Outcomes = append(cons.Outcomes, Outcome{
				AdAccountID: tgt.adAccountID,
				Status:      StatusSkipped,
			})
			continue
		}
		out := s.pull(ctx, orgID, tgt.adAccountID, tgt.balanceCents)
		if out.Status == StatusConsolidated {
			cons.TotalCents += out.AmountCents
		}
		cons.Outcomes = append(cons.Outcomes, out)
	}
	cons.CompletedAt = time.Now().UTC()

	if cons.TotalCents > 0 {
		metrics.ConsolidationsTotal.Inc()
	}
	s.logger.Info("consolidation completed",
		"wallet_id", orgID,
		"total_cents", cons.TotalCents,
		"accounts", len(cons.Outcomes),
	)
	if s.notifier != nil && cons.TotalCents > 0 {
		s.notifier.Consolidated(ctx, cons)
	}
	return cons, nil
}

// pull moves one account's allocation back to the wallet: a wallet
// credit opened first, voided again if the sub-balance debit cannot be
// applied. Errors land in the outcome rather than aborting the sweep.
func (s *Service) pull(ctx context.Context, orgID, adAccountID string, amountCents int64) Outcome {
	tx, err := s.ledger.Begin(ctx, orgID, ledger.TxConsolidation, amountCents, "")
	if err != nil {
		return Outcome{AdAccountID: adAccountID, Status: StatusFailed, Error: err.Error()}
	}

	movement := []adaccounts.Movement{{AdAccountID: adAccountID, AmountCents: -amountCents}}
	if _, err := s.directory.Apply(ctx, orgID, tx.ID, movement); err != nil {
		if failErr := s.ledger.Fail(ctx, tx.ID, err.Error()); failErr != nil {
			s.logger.Error("failed to void consolidation credit",
				"transaction_id", tx.ID, "error", failErr)
		}
		s.logger.Warn("consolidation pull failed",
			"wallet_id", orgID, "ad_account_id", adAccountID, "error", err)
		return Outcome{AdAccountID: adAccountID, Status: StatusFailed, Error: err.Error()}
	}

	if _, err := s.ledger.Commit(ctx, tx.ID); err != nil {
		// The sub-balance debit landed but the wallet credit cannot
		// settle; put the funds back so they do not vanish.
		restore := []adaccounts.Movement{{AdAccountID: adAccountID, AmountCents: amountCents}}
		if _, revErr := s.directory.Apply(ctx, orgID, tx.ID, restore); revErr != nil {
			s.logger.Error("failed to restore sub-balance after commit failure",
				"transaction_id", tx.ID, "ad_account_id", adAccountID, "error", revErr)
		}
		if failErr := s.ledger.Fail(ctx, tx.ID, err.Error()); failErr != nil {
			s.logger.Error("failed to void consolidation credit",
				"transaction_id", tx.ID, "error", failErr)
		}
		return Outcome{AdAccountID: adAccountID, Status: StatusFailed, Error: err.Error()}
	}

	return Outcome{
		AdAccountID: adAccountID,
		Status:      StatusConsolidated,
		AmountCents: amountCents,
		WalletTxID:  tx.ID,
	}
}

// resolveTargets snapshots the amounts to sweep. An unknown or foreign
// id marks its target invalid so it surfaces as a failed outcome; only
// a duplicated id rejects the request, since that is a malformed
// request rather than an account that cannot release funds. Balances
// can still move before a pull runs; Apply re-checks and the pull fails
// rather than overdraw.
func (s *Service) resolveTargets(ctx context.Context, orgID string, adAccountIDs []string) ([]target, error) {
	if len(adAccountIDs) == 0 {
		subs, err := s.directory.SubBalances(ctx, orgID)
		if err != nil {
			return nil, err
		}
		targets := make([]target, 0, len(subs))
		for _, sub := range subs {
			if sub.BalanceCents <= 0 {
				continue
			}
			targets = append(targets, target{adAccountID: sub.AdAccountID, balanceCents: sub.BalanceCents})
		}
		return targets, nil
	}

	seen := make(map[string]bool, len(adAccountIDs))
	targets := make([]target, 0, len(adAccountIDs))
	for _, id := range adAccountIDs {
		if seen[id] {
			return nil, ErrDuplicateAccount
		}
		seen[id] = true

		acct, err := s.directory.Get(ctx, id)
		if err != nil {
			targets = append(targets, target{adAccountID: id, invalidErr: err})
			continue
		}
		if acct.OrgID != orgID {
			targets = append(targets, target{adAccountID: id, invalidErr: adaccounts.ErrWrongOrg})
			continue
		}

		sub, err := s.directory.SubBalance(ctx, orgID, id)
		if err != nil {
			targets = append(targets, target{adAccountID: id, invalidErr: err})
			continue
		}
		targets = append(targets, target{adAccountID: id, balanceCents: sub.BalanceCents})
	}
	return targets, nil
}
