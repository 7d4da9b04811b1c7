// Package distribution moves committed wallet funds into ad-account
// allocations, all-or-nothing.
//
// A distribution is one wallet debit plus matching sub-balance credits.
// Either every allocation lands and the debit commits, or nothing is
// recorded beyond a failed ledger entry.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fundlane/adwallet/internal/adaccounts"
	"github.com/fundlane/adwallet/internal/ledger"
	"github.com/fundlane/adwallet/internal/metrics"
)

var (
	ErrNoAllocations      = errors.New("distribution: at least one allocation is required")
	ErrInvalidAllocation  = errors.New("distribution: allocation amounts must be positive")
	ErrDuplicateAccount   = errors.New("distribution: duplicate ad account in allocations")
	ErrTooManyAllocations = errors.New("distribution: too many allocations")
)

// MaxAllocations bounds one distribution request.
const MaxAllocations = 100

// Allocation is one ad account's share of a distribution.
type Allocation struct {
	AdAccountID string `json:"adAccountId"`
	AmountCents int64  `json:"amountCents"`
}

// Distribution is a completed spread of wallet funds.
type Distribution struct {
	WalletTxID  string       `json:"walletTxId"`
	OrgID       string       `json:"orgId"`
	TotalCents  int64        `json:"totalCents"`
	Allocations []Allocation `json:"allocations"`
	CompletedAt time.Time    `json:"completedAt"`
}

// Notifier is told about completed distributions.
type Notifier interface {
	Distributed(ctx context.Context, dist *Distribution)
}

// Service executes distributions.
type Service struct {
	ledger    *ledger.Ledger
	directory *adaccounts.Directory
	notifier  Notifier
	logger    *slog.Logger
}

// NewService creates a distribution service. notifier may be nil.
func NewService(led *ledger.Ledger, directory *adaccounts.Directory, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: led, directory: directory, notifier: notifier, logger: logger}
}

// Distribute debits the wallet and credits each ad account's sub-balance.
//
// Validation happens before any mutation: every account must exist,
// belong to the organization, and be active, and the total must fit the
// wallet's available balance. If the sub-balance batch fails after the
// wallet debit opened (a spend cap raced, for instance), the debit is
// voided and the error returned.
func (s *Service) Distribute(ctx context.Context, orgID string, allocations []Allocation) (*Distribution, error) {
	if len(allocations) == 0 {
		return nil, ErrNoAllocations
	}
	if len(allocations) > MaxAllocations {
		return nil, ErrTooManyAllocations
	}

	seen := make(map[string]bool, len(allocations))
	var total int64
	for _, a := range allocations {
		if a.AmountCents <= 0 {
			return nil, ErrInvalidAllocation
		}
		if seen[a.AdAccountID] {
			return nil, ErrDuplicateAccount
		}
		seen[a.AdAccountID] = true
		total += a.AmountCents
	}
	for _, a := range allocations {
		if _, err := s.directory.RequireActive(ctx, orgID, a.AdAccountID); err != nil {
			return nil, err
		}
	}

	tx, err := s.ledger.Begin(ctx, orgID, ledger.TxDistribution, -total, "")
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			metrics.DistributionsTotal.WithLabelValues("insufficient_funds").Inc()
		}
		return nil, err
	}

	movements := make([]adaccounts.Movement, 0, len(allocations))
	for _, a := range allocations {
		movements = append(movements, adaccounts.Movement{
			AdAccountID: a.AdAccountID,
			AmountCents: a.AmountCents,
		})
	}
	if _, err := s.directory.Apply(ctx, orgID, tx.ID, movements); err != nil {
		if failErr := s.ledger.Fail(ctx, tx.ID, err.Error()); failErr != nil {
			s.logger.Error("failed to void distribution debit",
				"transaction_id", tx.ID, "error", failErr)
		}
		metrics.DistributionsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	if _, err := s.ledger.Commit(ctx, tx.ID); err != nil {
		// The credits have landed but the debit cannot settle; back them
		// out and void the debit so no money appears on the sub-ledger
		// side without leaving the wallet.
		s.reverse(ctx, orgID, tx.ID, movements)
		if failErr := s.ledger.Fail(ctx, tx.ID, err.Error()); failErr != nil {
			s.logger.Error("failed to void distribution debit",
				"transaction_id", tx.ID, "error", failErr)
		}
		metrics.DistributionsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("commit distribution debit: %w", err)
	}

	metrics.DistributionsTotal.WithLabelValues("completed").Inc()
	dist := &Distribution{
		WalletTxID:  tx.ID,
		OrgID:       orgID,
		TotalCents:  total,
		Allocations: allocations,
		CompletedAt: time.Now().UTC(),
	}
	s.logger.Info("distribution completed",
		"wallet_id", orgID,
		"transaction_id", tx.ID,
		"total_cents", total,
		"accounts", len(allocations),
	)
	if s.notifier != nil {
		s.notifier.Distributed(ctx, dist)
	}
	return dist, nil
}

// reverse backs out applied sub-balance credits with a negated batch.
func (s *Service) reverse(ctx context.Context, orgID, walletTxID string, movements []adaccounts.Movement) {
	reversal := make([]adaccounts.Movement, 0, len(movements))
	for _, m := range movements {
		reversal = append(reversal, adaccounts.Movement{
			AdAccountID: m.AdAccountID,
			AmountCents: -m.AmountCents,
		})
	}
	if _, err := s.directory.Apply(ctx, orgID, walletTxID, reversal); err != nil {
		s.logger.Error("failed to reverse distribution credits",
			"wallet_id", orgID, "transaction_id", walletTxID, "error", err)
	}
}
