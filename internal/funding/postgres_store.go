package funding

import (
	"context"
	"database/sql"
	"time"

	"github.com/fundlane/adwallet/internal/fees"
)

// PostgresStore implements IntentStore with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed intent store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const intentColumns = `id, org_id, wallet_id, rail, amount_cents, fee_cents, total_cents,
	status, external_ref, ledger_tx_id, COALESCE(fail_reason, ''),
	COALESCE(checkout_url, ''), COALESCE(bank_reference, ''),
	COALESCE(deposit_address, ''), COALESCE(deposit_currency, ''),
	COALESCE(payment_url, ''), COALESCE(qr_code, ''),
	created_at, updated_at, expires_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, intent *FundingIntent) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO funding_intents (
			id, org_id, wallet_id, rail, amount_cents, fee_cents, total_cents,
			status, external_ref, ledger_tx_id, fail_reason,
			checkout_url, bank_reference, deposit_address, deposit_currency,
			payment_url, qr_code,
			created_at, updated_at, expires_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''),
			NULLIF($12, ''), NULLIF($13, ''), NULLIF($14, ''), NULLIF($15, ''),
			NULLIF($16, ''), NULLIF($17, ''),
			$18, $19, $20, $21)`,
		intent.ID, intent.OrgID, intent.WalletID, string(intent.Rail),
		intent.AmountCents, intent.FeeCents, intent.TotalCents,
		string(intent.Status), intent.ExternalRef, intent.LedgerTxID, intent.FailReason,
		intent.CheckoutURL, intent.BankReference, intent.DepositAddress, intent.DepositCurrency,
		intent.PaymentURL, intent.QRCode,
		intent.CreatedAt, intent.UpdatedAt, intent.ExpiresAt, intent.ResolvedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*FundingIntent, error) {
	return scanIntent(p.db.QueryRowContext(ctx, `
		SELECT `+intentColumns+` FROM funding_intents WHERE id = $1`, id))
}

func (p *PostgresStore) GetByExternalRef(ctx context.Context, externalRef string) (*FundingIntent, error) {
	return scanIntent(p.db.QueryRowContext(ctx, `
		SELECT `+intentColumns+` FROM funding_intents WHERE external_ref = $1`, externalRef))
}

func (p *PostgresStore) Update(ctx context.Context, intent *FundingIntent) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE funding_intents
		SET status = $1, fail_reason = NULLIF($2, ''), updated_at = $3, resolved_at = $4
		WHERE id = $5`,
		string(intent.Status), intent.FailReason, intent.UpdatedAt, intent.ResolvedAt, intent.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrIntentNotFound
	}
	return nil
}

func (p *PostgresStore) ListByOrg(ctx context.Context, orgID string, limit int) ([]*FundingIntent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+intentColumns+` FROM funding_intents
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, orgID, limit)
	if err != nil {
		return nil, err
	}
	return scanIntents(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, now time.Time, limit int) ([]*FundingIntent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+intentColumns+` FROM funding_intents
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return scanIntents(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*FundingIntent, error) {
	intent := &FundingIntent{}
	var rail, status string
	err := row.Scan(
		&intent.ID, &intent.OrgID, &intent.WalletID, &rail,
		&intent.AmountCents, &intent.FeeCents, &intent.TotalCents,
		&status, &intent.ExternalRef, &intent.LedgerTxID, &intent.FailReason,
		&intent.CheckoutURL, &intent.BankReference,
		&intent.DepositAddress, &intent.DepositCurrency,
		&intent.PaymentURL, &intent.QRCode,
		&intent.CreatedAt, &intent.UpdatedAt, &intent.ExpiresAt, &intent.ResolvedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, err
	}
	intent.Rail = fees.Rail(rail)
	intent.Status = IntentStatus(status)
	return intent, nil
}

func scanIntents(rows *sql.Rows) ([]*FundingIntent, error) {
	defer rows.Close()

	var result []*FundingIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, intent)
	}
	return result, rows.Err()
}
