// Package ledger is the single source of truth for wallet balances.
//
// Flow:
//  1. A funding request opens a pending credit tagged with the provider reference
//  2. The webhook reconciler commits or fails it when the provider confirms
//  3. Distribution/consolidation/withdrawal move committed funds
//
// Every balance is derived from the append-only transaction log; the wallet
// row is a projection that can be rebuilt by replaying completed entries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fundlane/adwallet/internal/idgen"
	"github.com/fundlane/adwallet/internal/pagination"
	"github.com/fundlane/adwallet/internal/syncutil"
)

var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletExists        = errors.New("wallet already exists")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionTerminal = errors.New("transaction already in a terminal state")
)

// TxType classifies a ledger entry.
type TxType string

const (
	TxTopupFunding      TxType = "topup_funding"
	TxTopupFee          TxType = "topup_fee"
	TxAdAccountTransfer TxType = "ad_account_transfer"
	TxConsolidation     TxType = "consolidation"
	TxDistribution      TxType = "distribution"
	TxWithdrawal        TxType = "withdrawal"
)

// TxStatus is the lifecycle state of a ledger entry.
type TxStatus string

const (
	StatusPending   TxStatus = "pending"
	StatusCompleted TxStatus = "completed"
	StatusFailed    TxStatus = "failed"
	StatusCancelled TxStatus = "cancelled"
)

// Wallet is the per-organization balance projection.
type Wallet struct {
	ID            string    `json:"id"`
	BalanceCents  int64     `json:"balanceCents"`
	ReservedCents int64     `json:"reservedCents"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// AvailableCents is the balance not earmarked by in-flight debits.
func (w *Wallet) AvailableCents() int64 {
	return w.BalanceCents - w.ReservedCents
}

// Transaction is an immutable ledger entry. Positive amounts credit the
// wallet, negative amounts debit it. Corrections are new compensating
// entries, never edits.
type Transaction struct {
	ID          string     `json:"id"`
	WalletID    string     `json:"walletId"`
	Type        TxType     `json:"type"`
	AmountCents int64      `json:"amountCents"`
	Status      TxStatus   `json:"status"`
	ExternalRef string     `json:"externalRef,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
}

// Terminal reports whether the entry has reached a final state.
func (t *Transaction) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed || t.Status == StatusCancelled
}

// reserveFor returns the reservation a pending entry holds against the
// wallet: debits earmark their full amount, credits earmark nothing.
func reserveFor(amountCents int64) int64 {
	if amountCents < 0 {
		return -amountCents
	}
	return 0
}

// Store persists wallets and the transaction log.
//
// Implementations must apply each mutation atomically; cross-operation
// serialization per wallet is handled by the Ledger via a sharded mutex.
type Store interface {
	CreateWallet(ctx context.Context, walletID string) error
	GetWallet(ctx context.Context, walletID string) (*Wallet, error)
	// InsertPending records a pending entry and adds its reservation to
	// the wallet. Fails with ErrInsufficientFunds when a debit exceeds
	// the available balance.
	InsertPending(ctx context.Context, tx *Transaction) error
	// Settle transitions a pending entry to a terminal state. Completing
	// applies the amount and clears the reservation; failing/cancelling
	// only clears the reservation. Settling into the state the entry is
	// already in is a no-op that returns current state.
	Settle(ctx context.Context, txID string, status TxStatus, reason string) (*Wallet, *Transaction, error)
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	FindByExternalRef(ctx context.Context, externalRef string) (*Transaction, error)
	// ListTransactions returns up to limit entries, newest first. A non-nil
	// before cursor restricts results to entries strictly older than it.
	ListTransactions(ctx context.Context, walletID string, limit int, before *pagination.Cursor) ([]*Transaction, error)
	// SumCompleted returns the signed sum of all completed entries for a
	// wallet, read straight from the log.
	SumCompleted(ctx context.Context, walletID string) (int64, error)
}

// Summary is the caller-facing read-only wallet projection.
type Summary struct {
	WalletID           string         `json:"walletId"`
	BalanceCents       int64          `json:"balanceCents"`
	ReservedCents      int64          `json:"reservedCents"`
	AvailableCents     int64          `json:"availableCents"`
	RecentTransactions []*Transaction `json:"recentTransactions"`
}

// ReplayResult compares the balance projection against the replayed log.
type ReplayResult struct {
	WalletID       string `json:"walletId"`
	ProjectedCents int64  `json:"projectedCents"`
	ReplayedCents  int64  `json:"replayedCents"`
	Match          bool   `json:"match"`
	DriftCents     int64  `json:"driftCents"`
}

// Ledger guards all balance mutations. Mutations for the same wallet are
// serialized through a sharded mutex; distinct wallets proceed in parallel.
type Ledger struct {
	store  Store
	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// New creates a ledger over the given store.
func New(store Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, logger: logger}
}

// CreateWallet provisions the wallet for a new organization.
func (l *Ledger) CreateWallet(ctx context.Context, walletID string) error {
	unlock := l.locks.Lock(walletID)
	defer unlock()
	return l.store.CreateWallet(ctx, walletID)
}

// Begin opens a pending ledger entry. Debit types must fit within the
// wallet's available balance (balance minus reservations).
func (l *Ledger) Begin(ctx context.Context, walletID string, typ TxType, amountCents int64, externalRef string) (*Transaction, error) {
	done := observeOp("begin")
	defer done()

	if amountCents == 0 {
		return nil, ErrInvalidAmount
	}

	unlock := l.locks.Lock(walletID)
	defer unlock()

	tx := &Transaction{
		ID:          idgen.WithPrefix("txn_"),
		WalletID:    walletID,
		Type:        typ,
		AmountCents: amountCents,
		Status:      StatusPending,
		ExternalRef: externalRef,
		CreatedAt:   time.Now().UTC(),
	}

	if err := l.store.InsertPending(ctx, tx); err != nil {
		return nil, err
	}

	l.logger.Debug("ledger entry opened",
		"transaction_id", tx.ID,
		"wallet_id", walletID,
		"type", string(typ),
		"amount_cents", amountCents,
	)
	return tx, nil
}

// Commit finalizes a pending entry, applying its amount to the wallet.
// Committing an already-completed entry is a no-op that returns the
// current wallet state.
func (l *Ledger) Commit(ctx context.Context, txID string) (*Wallet, error) {
	done := observeOp("commit")
	defer done()

	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.Lock(tx.WalletID)
	defer unlock()

	wallet, settled, err := l.store.Settle(ctx, txID, StatusCompleted, "")
	if err != nil {
		return nil, err
	}

	observeSettled(settled)
	l.logger.Info("ledger entry committed",
		"transaction_id", txID,
		"wallet_id", settled.WalletID,
		"type", string(settled.Type),
		"amount_cents", settled.AmountCents,
		"balance_cents", wallet.BalanceCents,
	)
	return wallet, nil
}

// Fail voids a pending entry, releasing any reservation. No balance change.
func (l *Ledger) Fail(ctx context.Context, txID, reason string) error {
	done := observeOp("fail")
	defer done()

	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}

	unlock := l.locks.Lock(tx.WalletID)
	defer unlock()

	_, settled, err := l.store.Settle(ctx, txID, StatusFailed, reason)
	if err != nil {
		return err
	}

	observeSettled(settled)
	l.logger.Info("ledger entry failed",
		"transaction_id", txID,
		"wallet_id", settled.WalletID,
		"reason", reason,
	)
	return nil
}

// Cancel marks a caller-abandoned pending entry. Like Fail, it releases
// the reservation without touching the balance.
func (l *Ledger) Cancel(ctx context.Context, txID string) error {
	done := observeOp("cancel")
	defer done()

	tx, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}

	unlock := l.locks.Lock(tx.WalletID)
	defer unlock()

	_, settled, err := l.store.Settle(ctx, txID, StatusCancelled, "cancelled by caller")
	if err != nil {
		return err
	}

	observeSettled(settled)
	return nil
}

// Balance returns the wallet projection, consistent with the latest
// committed transaction.
func (l *Ledger) Balance(ctx context.Context, walletID string) (*Wallet, error) {
	return l.store.GetWallet(ctx, walletID)
}

// Transaction returns a single ledger entry.
func (l *Ledger) Transaction(ctx context.Context, txID string) (*Transaction, error) {
	return l.store.GetTransaction(ctx, txID)
}

// FindByExternalRef locates the entry tagged with a provider reference.
func (l *Ledger) FindByExternalRef(ctx context.Context, externalRef string) (*Transaction, error) {
	return l.store.FindByExternalRef(ctx, externalRef)
}

// History returns recent ledger entries for a wallet, newest first.
func (l *Ledger) History(ctx context.Context, walletID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.ListTransactions(ctx, walletID, limit, nil)
}

// HistoryPage returns one page of ledger entries plus the cursor for the
// next page, if any.
func (l *Ledger) HistoryPage(ctx context.Context, walletID string, limit int, before *pagination.Cursor) ([]*Transaction, string, bool, error) {
	if limit <= 0 {
		limit = 50
	}
	txns, err := l.store.ListTransactions(ctx, walletID, limit+1, before)
	if err != nil {
		return nil, "", false, err
	}
	txns, next, hasMore := pagination.ComputePage(txns, limit, func(t *Transaction) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return txns, next, hasMore, nil
}

// Summary returns the caller-facing wallet view.
func (l *Ledger) Summary(ctx context.Context, walletID string, limit int) (*Summary, error) {
	wallet, err := l.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	recent, err := l.History(ctx, walletID, limit)
	if err != nil {
		return nil, err
	}
	return &Summary{
		WalletID:           wallet.ID,
		BalanceCents:       wallet.BalanceCents,
		ReservedCents:      wallet.ReservedCents,
		AvailableCents:     wallet.AvailableCents(),
		RecentTransactions: recent,
	}, nil
}

// Withdraw debits the wallet for funds returned to the organization's bank.
// The entry settles immediately: there is no asynchronous leg to wait on.
func (l *Ledger) Withdraw(ctx context.Context, walletID string, amountCents int64) (*Transaction, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	tx, err := l.Begin(ctx, walletID, TxWithdrawal, -amountCents, "")
	if err != nil {
		return nil, err
	}
	if _, err := l.Commit(ctx, tx.ID); err != nil {
		return nil, fmt.Errorf("commit withdrawal: %w", err)
	}
	tx.Status = StatusCompleted
	return tx, nil
}

// Replay recomputes the wallet balance from the completed entries and
// compares it with the projection. A mismatch means the projection has
// drifted from the log and needs investigation.
func (l *Ledger) Replay(ctx context.Context, walletID string) (*ReplayResult, error) {
	unlock := l.locks.Lock(walletID)
	defer unlock()

	wallet, err := l.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	replayed, err := l.store.SumCompleted(ctx, walletID)
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{
		WalletID:       walletID,
		ProjectedCents: wallet.BalanceCents,
		ReplayedCents:  replayed,
		Match:          wallet.BalanceCents == replayed,
		DriftCents:     wallet.BalanceCents - replayed,
	}
	if !result.Match {
		l.logger.Error("wallet projection drift detected",
			"wallet_id", walletID,
			"projected_cents", result.ProjectedCents,
			"replayed_cents", result.ReplayedCents,
		)
	}
	return result, nil
}
