package adaccounts

import (
	"context"
	"sync"
	"time"
)

type subKey struct {
	walletID    string
	adAccountID string
}

// MemoryStore is an in-memory ad-account store for demo/development mode.
type MemoryStore struct {
	accounts map[string]*AdAccount
	byOrg    map[string][]string
	subs     map[subKey]*SubBalance
	entries  []*Entry
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ad-account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*AdAccount),
		byOrg:    make(map[string][]string),
		subs:     make(map[subKey]*SubBalance),
	}
}

func (m *MemoryStore) CreateAccount(ctx context.Context, acct *AdAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acct.ID]; ok {
		return ErrAccountExists
	}
	cp := *acct
	m.accounts[acct.ID] = &cp
	m.byOrg[acct.OrgID] = append(m.byOrg[acct.OrgID], acct.ID)
	return nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, id string) (*AdAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) UpdateAccount(ctx context.Context, acct *AdAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[acct.ID]; !ok {
		return ErrAccountNotFound
	}
	cp := *acct
	m.accounts[acct.ID] = &cp
	return nil
}

func (m *MemoryStore) ListAccounts(ctx context.Context, orgID string) ([]*AdAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*AdAccount
	for _, id := range m.byOrg[orgID] {
		cp := *m.accounts[id]
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) GetSubBalance(ctx context.Context, walletID, adAccountID string) (*SubBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sub, ok := m.subs[subKey{walletID, adAccountID}]
	if !ok {
		return &SubBalance{WalletID: walletID, AdAccountID: adAccountID}, nil
	}
	cp := *sub
	return &cp, nil
}

func (m *MemoryStore) ListSubBalances(ctx context.Context, walletID string) ([]*SubBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*SubBalance
	for key, sub := range m.subs {
		if key.walletID != walletID || sub.BalanceCents == 0 {
			continue
		}
		cp := *sub
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ApplyEntries(ctx context.Context, entries []*Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate the whole batch before touching any balance.
	next := make(map[subKey]int64, len(entries))
	for _, e := range entries {
		acct, ok := m.accounts[e.AdAccountID]
		if !ok {
			return ErrAccountNotFound
		}
		key := subKey{e.WalletID, e.AdAccountID}
		balance, seeded := next[key]
		if !seeded {
			if sub, ok := m.subs[key]; ok {
				balance = sub.BalanceCents
			}
		}
		balance += e.AmountCents
		if balance < 0 {
			return ErrInsufficientSubFunds
		}
		if e.AmountCents > 0 && acct.SpendCapCents > 0 && balance > acct.SpendCapCents {
			return ErrSpendCapExceeded
		}
		next[key] = balance
	}

	now := time.Now().UTC()
	for key, balance := range next {
		m.subs[key] = &SubBalance{
			WalletID:     key.walletID,
			AdAccountID:  key.adAccountID,
			BalanceCents: balance,
			UpdatedAt:    now,
		}
	}
	for _, e := range entries {
		cp := *e
		m.entries = append(m.entries, &cp)
	}
	return nil
}

func (m *MemoryStore) ListEntries(ctx context.Context, walletID, adAccountID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := m.entries[i]
		if e.WalletID != walletID || e.AdAccountID != adAccountID {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	return result, nil
}
