package notify

import (
	"context"
	"database/sql"

	"github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	events := make([]string, len(sub.Events))
	for i, et := range sub.Events {
		events[i] = string(et)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO notify_subscriptions (id, org_id, url, secret, events, active, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)`,
		sub.ID, sub.OrgID, sub.URL, sub.Secret, pq.Array(events), sub.Active, sub.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	return scanSubscription(p.db.QueryRowContext(ctx, `
		SELECT id, org_id, url, COALESCE(secret, ''), events, active, created_at, last_success, COALESCE(last_error, '')
		FROM notify_subscriptions WHERE id = $1`, id))
}

func (p *PostgresStore) GetByOrg(ctx context.Context, orgID string) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, org_id, url, COALESCE(secret, ''), events, active, created_at, last_success, COALESCE(last_error, '')
		FROM notify_subscriptions WHERE org_id = $1
		ORDER BY created_at`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE notify_subscriptions
		SET active = $1, last_success = $2, last_error = NULLIF($3, '')
		WHERE id = $4`,
		sub.Active, sub.LastSuccess, sub.LastError, sub.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM notify_subscriptions WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	sub := &Subscription{}
	var events pq.StringArray
	err := row.Scan(&sub.ID, &sub.OrgID, &sub.URL, &sub.Secret, &events,
		&sub.Active, &sub.CreatedAt, &sub.LastSuccess, &sub.LastError)
	if err == sql.ErrNoRows {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	sub.Events = make([]EventType, len(events))
	for i, et := range events {
		sub.Events[i] = EventType(et)
	}
	return sub, nil
}
