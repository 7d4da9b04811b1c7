package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/fundlane/adwallet/internal/pagination"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	wallets map[string]*Wallet
	txns    map[string]*Transaction
	byRef   map[string]string // external reference -> transaction id
	order   []string          // transaction ids in insertion order
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: make(map[string]*Wallet),
		txns:    make(map[string]*Transaction),
		byRef:   make(map[string]string),
	}
}

func (m *MemoryStore) CreateWallet(ctx context.Context, walletID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[walletID]; ok {
		return ErrWalletExists
	}
	m.wallets[walletID] = &Wallet{ID: walletID, UpdatedAt: time.Now()}
	return nil
}

func (m *MemoryStore) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) InsertPending(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[tx.WalletID]
	if !ok {
		return ErrWalletNotFound
	}

	reserve := reserveFor(tx.AmountCents)
	if reserve > 0 && w.BalanceCents-w.ReservedCents < reserve {
		return ErrInsufficientFunds
	}

	w.ReservedCents += reserve
	w.UpdatedAt = time.Now()

	cp := *tx
	m.txns[tx.ID] = &cp
	m.order = append(m.order, tx.ID)
	if tx.ExternalRef != "" {
		m.byRef[tx.ExternalRef] = tx.ID
	}
	return nil
}

func (m *MemoryStore) Settle(ctx context.Context, txID string, status TxStatus, reason string) (*Wallet, *Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txns[txID]
	if !ok {
		return nil, nil, ErrTransactionNotFound
	}
	w, ok := m.wallets[tx.WalletID]
	if !ok {
		return nil, nil, ErrWalletNotFound
	}

	if tx.Status == status {
		// Idempotent replay: no balance change.
		wcp, tcp := *w, *tx
		return &wcp, &tcp, nil
	}
	if tx.Terminal() {
		return nil, nil, ErrTransactionTerminal
	}

	now := time.Now()
	reserve := reserveFor(tx.AmountCents)

	switch status {
	case StatusCompleted:
		w.BalanceCents += tx.AmountCents
		w.ReservedCents -= reserve
		tx.SettledAt = &now
	case StatusFailed, StatusCancelled:
		w.ReservedCents -= reserve
		tx.Reason = reason
	default:
		return nil, nil, ErrTransactionTerminal
	}

	tx.Status = status
	w.UpdatedAt = now

	wcp, tcp := *w, *tx
	return &wcp, &tcp, nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txns[txID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) FindByExternalRef(ctx context.Context, externalRef string) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byRef[externalRef]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *m.txns[id]
	return &cp, nil
}

func (m *MemoryStore) ListTransactions(ctx context.Context, walletID string, limit int, before *pagination.Cursor) ([]*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Transaction
	for i := len(m.order) - 1; i >= 0 && len(result) < limit; i-- {
		tx := m.txns[m.order[i]]
		if tx.WalletID != walletID {
			continue
		}
		if before != nil && !olderThan(tx, before) {
			continue
		}
		cp := *tx
		result = append(result, &cp)
	}
	return result, nil
}

// olderThan orders entries by (created_at, id), matching the SQL row
// comparison the postgres store uses for cursors.
func olderThan(tx *Transaction, c *pagination.Cursor) bool {
	if tx.CreatedAt.Before(c.CreatedAt) {
		return true
	}
	return tx.CreatedAt.Equal(c.CreatedAt) && tx.ID < c.ID
}

func (m *MemoryStore) SumCompleted(ctx context.Context, walletID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, id := range m.order {
		tx := m.txns[id]
		if tx.WalletID == walletID && tx.Status == StatusCompleted {
			sum += tx.AmountCents
		}
	}
	return sum, nil
}
