package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/fundlane/adwallet/internal/pagination"
)

// PostgresStore implements Store with PostgreSQL.
//
// Balance invariants are enforced twice: by the Ledger's per-wallet lock
// and by CHECK constraints on the wallets table, so a bug in one layer
// cannot corrupt the projection.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateWallet(ctx context.Context, walletID string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (id, balance_cents, reserved_cents, updated_at)
		VALUES ($1, 0, 0, NOW())
	`, walletID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrWalletExists
		}
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	w := &Wallet{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, balance_cents, reserved_cents, updated_at
		FROM wallets WHERE id = $1
	`, walletID).Scan(&w.ID, &w.BalanceCents, &w.ReservedCents, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (p *PostgresStore) InsertPending(ctx context.Context, t *Transaction) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	reserve := reserveFor(t.AmountCents)

	// Reserve funds and verify availability in one atomic step. The WHERE
	// clause is the availability check; zero rows means either a missing
	// wallet or an overdraw.
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets SET
			reserved_cents = reserved_cents + $2,
			updated_at     = NOW()
		WHERE id = $1 AND balance_cents - reserved_cents >= $2
	`, t.WalletID, reserve)
	if err != nil {
		return fmt.Errorf("reserve funds: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, t.WalletID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrWalletNotFound
		}
		return ErrInsufficientFunds
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO transactions (id, wallet_id, type, amount_cents, status, external_reference, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
	`, t.ID, t.WalletID, string(t.Type), t.AmountCents, string(t.Status), t.ExternalRef, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("record entry: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) Settle(ctx context.Context, txID string, status TxStatus, reason string) (*Wallet, *Transaction, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	entry, err := scanTransaction(tx.QueryRowContext(ctx, `
		SELECT id, wallet_id, type, amount_cents, status, COALESCE(external_reference, ''), COALESCE(reason, ''), created_at, settled_at
		FROM transactions WHERE id = $1
		FOR UPDATE
	`, txID))
	if err != nil {
		return nil, nil, err
	}

	if entry.Status == status {
		// Idempotent replay: return current state, no balance change.
		w, werr := p.walletForUpdate(ctx, tx, entry.WalletID)
		if werr != nil {
			return nil, nil, werr
		}
		if cerr := tx.Commit(); cerr != nil {
			return nil, nil, cerr
		}
		return w, entry, nil
	}
	if entry.Terminal() {
		return nil, nil, ErrTransactionTerminal
	}

	reserve := reserveFor(entry.AmountCents)
	w := &Wallet{}

	switch status {
	case StatusCompleted:
		err = tx.QueryRowContext(ctx, `
			UPDATE wallets SET
				balance_cents  = balance_cents + $2,
				reserved_cents = reserved_cents - $3,
				updated_at     = NOW()
			WHERE id = $1
			RETURNING id, balance_cents, reserved_cents, updated_at
		`, entry.WalletID, entry.AmountCents, reserve).Scan(&w.ID, &w.BalanceCents, &w.ReservedCents, &w.UpdatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("apply amount: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE transactions SET status = $2, settled_at = NOW() WHERE id = $1
		`, txID, string(status))
	case StatusFailed, StatusCancelled:
		err = tx.QueryRowContext(ctx, `
			UPDATE wallets SET
				reserved_cents = reserved_cents - $2,
				updated_at     = NOW()
			WHERE id = $1
			RETURNING id, balance_cents, reserved_cents, updated_at
		`, entry.WalletID, reserve).Scan(&w.ID, &w.BalanceCents, &w.ReservedCents, &w.UpdatedAt)
		if err != nil {
			return nil, nil, fmt.Errorf("release reservation: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE transactions SET status = $2, reason = NULLIF($3, '') WHERE id = $1
		`, txID, string(status), reason)
	default:
		return nil, nil, ErrTransactionTerminal
	}
	if err != nil {
		return nil, nil, fmt.Errorf("settle entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	entry.Status = status
	entry.Reason = reason
	return w, entry, nil
}

func (p *PostgresStore) walletForUpdate(ctx context.Context, tx *sql.Tx, walletID string) (*Wallet, error) {
	w := &Wallet{}
	err := tx.QueryRowContext(ctx, `
		SELECT id, balance_cents, reserved_cents, updated_at
		FROM wallets WHERE id = $1
		FOR UPDATE
	`, walletID).Scan(&w.ID, &w.BalanceCents, &w.ReservedCents, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrWalletNotFound
	}
	return w, err
}

func (p *PostgresStore) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	return scanTransaction(p.db.QueryRowContext(ctx, `
		SELECT id, wallet_id, type, amount_cents, status, COALESCE(external_reference, ''), COALESCE(reason, ''), created_at, settled_at
		FROM transactions WHERE id = $1
	`, txID))
}

func (p *PostgresStore) FindByExternalRef(ctx context.Context, externalRef string) (*Transaction, error) {
	return scanTransaction(p.db.QueryRowContext(ctx, `
		SELECT id, wallet_id, type, amount_cents, status, COALESCE(external_reference, ''), COALESCE(reason, ''), created_at, settled_at
		FROM transactions WHERE external_reference = $1
	`, externalRef))
}

func (p *PostgresStore) ListTransactions(ctx context.Context, walletID string, limit int, before *pagination.Cursor) ([]*Transaction, error) {
	var rows *sql.Rows
	var err error
	if before != nil {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, wallet_id, type, amount_cents, status, COALESCE(external_reference, ''), COALESCE(reason, ''), created_at, settled_at
			FROM transactions
			WHERE wallet_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, walletID, before.CreatedAt, before.ID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, wallet_id, type, amount_cents, status, COALESCE(external_reference, ''), COALESCE(reason, ''), created_at, settled_at
			FROM transactions
			WHERE wallet_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, walletID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Transaction
	for rows.Next() {
		t := &Transaction{}
		var typ, status string
		var settledAt sql.NullTime
		if err := rows.Scan(&t.ID, &t.WalletID, &typ, &t.AmountCents, &status, &t.ExternalRef, &t.Reason, &t.CreatedAt, &settledAt); err != nil {
			return nil, err
		}
		t.Type = TxType(typ)
		t.Status = TxStatus(status)
		if settledAt.Valid {
			t.SettledAt = &settledAt.Time
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *PostgresStore) SumCompleted(ctx context.Context, walletID string) (int64, error) {
	var sum int64
	err := p.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM transactions
		WHERE wallet_id = $1 AND status = 'completed'
	`, walletID).Scan(&sum)
	return sum, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	t := &Transaction{}
	var typ, status string
	var settledAt sql.NullTime
	err := row.Scan(&t.ID, &t.WalletID, &typ, &t.AmountCents, &status, &t.ExternalRef, &t.Reason, &t.CreatedAt, &settledAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Type = TxType(typ)
	t.Status = TxStatus(status)
	if settledAt.Valid {
		t.SettledAt = &settledAt.Time
	}
	return t, nil
}
