package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const accountColumns = `id, email, display_name, is_active, tab_blocked, auto_charge, terms_accepted_at, stripe_customer_id, timezone, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Email, &a.DisplayName, &a.IsActive, &a.TabBlocked, &a.AutoCharge, &a.TermsAcceptedAt, &a.StripeCustomerID, &a.Timezone, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// GetAccount returns one account by id.
func (r *Repository) GetAccount(ctx context.Context, id int64) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// ListAutoChargeCandidates returns active accounts with auto-charge enabled
// and the tab-blocked flag clear.
func (r *Repository) ListAutoChargeCandidates(ctx context.Context) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_active AND auto_charge AND NOT tab_blocked ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.Email, &a.DisplayName, &a.IsActive, &a.TabBlocked, &a.AutoCharge, &a.TermsAcceptedAt, &a.StripeCustomerID, &a.Timezone, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetTabBlocked updates the tab-blocked flag. Writing the current value is
// a no-op so replayed payment-failure events converge.
func (r *Repository) SetTabBlocked(ctx context.Context, id int64, blocked bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET tab_blocked = $2, updated_at = $3 WHERE id = $1 AND tab_blocked <> $2`, id, blocked, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either already in the requested state or unknown; distinguish.
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
	}
	return nil
}

// AcceptTerms stamps the terms-accepted time when not already set.
func (r *Repository) AcceptTerms(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET terms_accepted_at = $2, updated_at = $2 WHERE id = $1 AND terms_accepted_at IS NULL`, id, at.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
	}
	return nil
}

// SetStripeCustomer links a payment-gateway customer reference.
func (r *Repository) SetStripeCustomer(ctx context.Context, id int64, customerID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE accounts SET stripe_customer_id = $2, updated_at = $3 WHERE id = $1`, id, customerID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
