// Package adaccounts tracks the external ad-spend accounts an organization
// distributes wallet funds to, and the per-account sub-balances.
//
// Sub-balances are a ledger of their own: every movement is an entry
// referencing the wallet-side transaction that caused it, and the balance
// of each (wallet, ad account) pair is the sum of its entries.
package adaccounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fundlane/adwallet/internal/idgen"
	"github.com/fundlane/adwallet/internal/validation"
)

var (
	ErrAccountNotFound       = errors.New("adaccounts: account not found")
	ErrAccountInactive       = errors.New("adaccounts: account is not active")
	ErrAccountExists         = errors.New("adaccounts: account already exists")
	ErrWrongOrg              = errors.New("adaccounts: account belongs to another organization")
	ErrSpendCapExceeded      = errors.New("adaccounts: credit would exceed the account spend cap")
	ErrInsufficientSubFunds  = errors.New("adaccounts: insufficient sub-balance")
	ErrInvalidEntry          = errors.New("adaccounts: entry amount must be non-zero")
	ErrInvalidPlatform       = errors.New("adaccounts: platform is required")
	ErrDuplicateEntryAccount = errors.New("adaccounts: duplicate account in entry batch")
)

// Status is an ad account's lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusArchived Status = "archived"
)

// AdAccount is an external ad-spend account registered under an organization.
// SpendCapCents of zero means uncapped.
type AdAccount struct {
	ID            string    `json:"id"`
	OrgID         string    `json:"orgId"`
	Platform      string    `json:"platform"`
	Name          string    `json:"name"`
	SpendCapCents int64     `json:"spendCapCents,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// SubBalance is the funds currently allocated to one ad account out of
// the organization's wallet.
type SubBalance struct {
	WalletID     string    `json:"walletId"`
	AdAccountID  string    `json:"adAccountId"`
	BalanceCents int64     `json:"balanceCents"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Entry is one sub-balance movement. WalletTxID ties it back to the
// wallet-side distribution or consolidation transaction.
type Entry struct {
	ID          string    `json:"id"`
	WalletID    string    `json:"walletId"`
	AdAccountID string    `json:"adAccountId"`
	AmountCents int64     `json:"amountCents"`
	WalletTxID  string    `json:"walletTxId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Movement is one leg of an Apply batch, before it becomes an Entry.
type Movement struct {
	AdAccountID string
	AmountCents int64
}

// Store persists ad accounts, sub-balances, and the sub-ledger entries.
type Store interface {
	CreateAccount(ctx context.Context, acct *AdAccount) error
	GetAccount(ctx context.Context, id string) (*AdAccount, error)
	UpdateAccount(ctx context.Context, acct *AdAccount) error
	ListAccounts(ctx context.Context, orgID string) ([]*AdAccount, error)
	GetSubBalance(ctx context.Context, walletID, adAccountID string) (*SubBalance, error)
	ListSubBalances(ctx context.Context, walletID string) ([]*SubBalance, error)
	// ApplyEntries atomically records every entry and adjusts the affected
	// sub-balances. No entry is applied if any would drive a sub-balance
	// negative or past the account's spend cap.
	ApplyEntries(ctx context.Context, entries []*Entry) error
	ListEntries(ctx context.Context, walletID, adAccountID string, limit int) ([]*Entry, error)
}

// Directory manages ad accounts and their sub-balances.
type Directory struct {
	store Store
}

// NewDirectory creates an ad-account directory over the given store.
func NewDirectory(store Store) *Directory {
	return &Directory{store: store}
}

// Register adds an ad account under an organization.
func (d *Directory) Register(ctx context.Context, orgID, platform, name string, spendCapCents int64) (*AdAccount, error) {
	platform = strings.TrimSpace(strings.ToLower(platform))
	if platform == "" {
		return nil, ErrInvalidPlatform
	}
	if spendCapCents < 0 {
		spendCapCents = 0
	}

	now := time.Now().UTC()
	acct := &AdAccount{
		ID:            idgen.WithPrefix("aa_"),
		OrgID:         orgID,
		Platform:      platform,
		Name:          validation.SanitizeString(name, validation.MaxNameLength),
		SpendCapCents: spendCapCents,
		Status:        StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := d.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Get returns an ad account by id.
func (d *Directory) Get(ctx context.Context, id string) (*AdAccount, error) {
	return d.store.GetAccount(ctx, id)
}

// List returns all ad accounts under an organization.
func (d *Directory) List(ctx context.Context, orgID string) ([]*AdAccount, error) {
	return d.store.ListAccounts(ctx, orgID)
}

// SetSpendCap updates the account's spend cap. Zero removes the cap.
func (d *Directory) SetSpendCap(ctx context.Context, id string, capCents int64) (*AdAccount, error) {
	acct, err := d.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if capCents < 0 {
		capCents = 0
	}
	acct.SpendCapCents = capCents
	acct.UpdatedAt = time.Now().UTC()
	if err := d.store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// SetStatus pauses, reactivates, or archives an account.
func (d *Directory) SetStatus(ctx context.Context, id string, status Status) (*AdAccount, error) {
	acct, err := d.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	acct.Status = status
	acct.UpdatedAt = time.Now().UTC()
	if err := d.store.UpdateAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// RequireActive resolves an account and checks it is usable for fund
// movement on behalf of the given organization.
func (d *Directory) RequireActive(ctx context.Context, orgID, id string) (*AdAccount, error) {
	acct, err := d.store.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if acct.OrgID != orgID {
		return nil, ErrWrongOrg
	}
	if acct.Status != StatusActive {
		return nil, ErrAccountInactive
	}
	return acct, nil
}

// SubBalance returns the funds allocated to one ad account.
func (d *Directory) SubBalance(ctx context.Context, walletID, adAccountID string) (*SubBalance, error) {
	return d.store.GetSubBalance(ctx, walletID, adAccountID)
}

// SubBalances returns every non-zero allocation under a wallet.
func (d *Directory) SubBalances(ctx context.Context, walletID string) ([]*SubBalance, error) {
	return d.store.ListSubBalances(ctx, walletID)
}

// Apply records a batch of sub-balance movements tied to one wallet
// transaction. All movements land or none do.
func (d *Directory) Apply(ctx context.Context, walletID, walletTxID string, movements []Movement) ([]*Entry, error) {
	seen := make(map[string]bool, len(movements))
	now := time.Now().UTC()
	entries := make([]*Entry, 0, len(movements))
	for _, m := range movements {
		if m.AmountCents == 0 {
			return nil, ErrInvalidEntry
		}
		if seen[m.AdAccountID] {
			return nil, ErrDuplicateEntryAccount
		}
		seen[m.AdAccountID] = true
		entries = append(entries, &Entry{
			ID:          idgen.WithPrefix("sbe_"),
			WalletID:    walletID,
			AdAccountID: m.AdAccountID,
			AmountCents: m.AmountCents,
			WalletTxID:  walletTxID,
			CreatedAt:   now,
		})
	}
	if err := d.store.ApplyEntries(ctx, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Entries returns recent sub-ledger entries for one ad account, newest first.
func (d *Directory) Entries(ctx context.Context, walletID, adAccountID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return d.store.ListEntries(ctx, walletID, adAccountID, limit)
}
