package adaccounts

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ad-account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateAccount(ctx context.Context, acct *AdAccount) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO ad_accounts (id, org_id, platform, name, spend_cap_cents, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		acct.ID, acct.OrgID, acct.Platform, acct.Name, acct.SpendCapCents,
		string(acct.Status), acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrAccountExists
		}
		return err
	}
	return nil
}

func (p *PostgresStore) GetAccount(ctx context.Context, id string) (*AdAccount, error) {
	acct := &AdAccount{}
	var status string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, org_id, platform, name, spend_cap_cents, status, created_at, updated_at
		FROM ad_accounts WHERE id = $1`, id).Scan(
		&acct.ID, &acct.OrgID, &acct.Platform, &acct.Name, &acct.SpendCapCents,
		&status, &acct.CreatedAt, &acct.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	acct.Status = Status(status)
	return acct, nil
}

func (p *PostgresStore) UpdateAccount(ctx context.Context, acct *AdAccount) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE ad_accounts SET name = $1, spend_cap_cents = $2, status = $3, updated_at = $4
		WHERE id = $5`,
		acct.Name, acct.SpendCapCents, string(acct.Status), acct.UpdatedAt, acct.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (p *PostgresStore) ListAccounts(ctx context.Context, orgID string) ([]*AdAccount, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, org_id, platform, name, spend_cap_cents, status, created_at, updated_at
		FROM ad_accounts WHERE org_id = $1
		ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*AdAccount
	for rows.Next() {
		acct := &AdAccount{}
		var status string
		if err := rows.Scan(&acct.ID, &acct.OrgID, &acct.Platform, &acct.Name,
			&acct.SpendCapCents, &status, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, err
		}
		acct.Status = Status(status)
		result = append(result, acct)
	}
	return result, rows.Err()
}

func (p *PostgresStore) GetSubBalance(ctx context.Context, walletID, adAccountID string) (*SubBalance, error) {
	sub := &SubBalance{}
	err := p.db.QueryRowContext(ctx, `
		SELECT wallet_id, ad_account_id, balance_cents, updated_at
		FROM sub_balances WHERE wallet_id = $1 AND ad_account_id = $2`,
		walletID, adAccountID).Scan(
		&sub.WalletID, &sub.AdAccountID, &sub.BalanceCents, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return &SubBalance{WalletID: walletID, AdAccountID: adAccountID}, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (p *PostgresStore) ListSubBalances(ctx context.Context, walletID string) ([]*SubBalance, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT wallet_id, ad_account_id, balance_cents, updated_at
		FROM sub_balances
		WHERE wallet_id = $1 AND balance_cents <> 0
		ORDER BY ad_account_id`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*SubBalance
	for rows.Next() {
		sub := &SubBalance{}
		if err := rows.Scan(&sub.WalletID, &sub.AdAccountID, &sub.BalanceCents, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (p *PostgresStore) ApplyEntries(ctx context.Context, entries []*Entry) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		var capCents int64
		err := tx.QueryRowContext(ctx, `
			SELECT spend_cap_cents FROM ad_accounts WHERE id = $1 FOR UPDATE`,
			e.AdAccountID).Scan(&capCents)
		if err == sql.ErrNoRows {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}

		var newBalance int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO sub_balances (wallet_id, ad_account_id, balance_cents, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (wallet_id, ad_account_id)
			DO UPDATE SET balance_cents = sub_balances.balance_cents + $3, updated_at = NOW()
			RETURNING balance_cents`,
			e.WalletID, e.AdAccountID, e.AmountCents).Scan(&newBalance)
		if err != nil {
			// CHECK (balance_cents >= 0) trips on overdrawn debits.
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23514" {
				return ErrInsufficientSubFunds
			}
			return err
		}
		if newBalance < 0 {
			return ErrInsufficientSubFunds
		}
		if e.AmountCents > 0 && capCents > 0 && newBalance > capCents {
			return ErrSpendCapExceeded
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sub_balance_entries (id, wallet_id, ad_account_id, amount_cents, wallet_tx_id, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.WalletID, e.AdAccountID, e.AmountCents, e.WalletTxID, e.CreatedAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) ListEntries(ctx context.Context, walletID, adAccountID string, limit int) ([]*Entry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, wallet_id, ad_account_id, amount_cents, wallet_tx_id, created_at
		FROM sub_balance_entries
		WHERE wallet_id = $1 AND ad_account_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, walletID, adAccountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.WalletID, &e.AdAccountID, &e.AmountCents,
			&e.WalletTxID, &e.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}
