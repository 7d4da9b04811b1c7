package orgs

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/fundlane/adwallet/internal/fees"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed organization store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, org *Organization) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, slug, plan, stripe_customer_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8)`,
		org.ID, org.Name, org.Slug, string(org.Plan), org.StripeCustomerID,
		string(org.Status), org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrSlugTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Organization, error) {
	return p.scanOrg(p.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan, COALESCE(stripe_customer_id, ''), status, created_at, updated_at
		FROM organizations WHERE id = $1`, id))
}

func (p *PostgresStore) GetBySlug(ctx context.Context, slug string) (*Organization, error) {
	return p.scanOrg(p.db.QueryRowContext(ctx, `
		SELECT id, name, slug, plan, COALESCE(stripe_customer_id, ''), status, created_at, updated_at
		FROM organizations WHERE slug = $1`, slug))
}

func (p *PostgresStore) Update(ctx context.Context, org *Organization) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE organizations SET name = $1, plan = $2, stripe_customer_id = NULLIF($3, ''), status = $4, updated_at = $5
		WHERE id = $6`,
		org.Name, string(org.Plan), org.StripeCustomerID, string(org.Status),
		org.UpdatedAt, org.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrgNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrOrgNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]*Organization, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, slug, plan, COALESCE(stripe_customer_id, ''), status, created_at, updated_at
		FROM organizations
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Organization
	for rows.Next() {
		org := &Organization{}
		var plan, status string
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &plan, &org.StripeCustomerID,
			&status, &org.CreatedAt, &org.UpdatedAt); err != nil {
			return nil, err
		}
		org.Plan = fees.PlanTier(plan)
		org.Status = Status(status)
		result = append(result, org)
	}
	return result, rows.Err()
}

func (p *PostgresStore) scanOrg(row *sql.Row) (*Organization, error) {
	org := &Organization{}
	var plan, status string
	err := row.Scan(&org.ID, &org.Name, &org.Slug, &plan, &org.StripeCustomerID,
		&status, &org.CreatedAt, &org.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrOrgNotFound
	}
	if err != nil {
		return nil, err
	}
	org.Plan = fees.PlanTier(plan)
	org.Status = Status(status)
	return org, nil
}
