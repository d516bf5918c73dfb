package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/makehaven/storetab/internal/platform/db"
)

// isForeignKeyViolation detects inserts referencing an account or
// material row that does not exist.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// Repository persists ledger data in PostgreSQL. Two collections live
// here: transactions and inventory_adjustments. Records are appended,
// never deleted.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. A
// purchase and its paired stock deduction commit inside one callback.
type TxRepository interface {
	InsertTransaction(ctx context.Context, txn Transaction) (int64, error)
	InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error)
	GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const transactionColumns = `id, owner_id, material_id, quantity, unit_amount, status, invoice_id, memo, created_at, updated_at`

func scanTransaction(row pgx.Row, t *Transaction) error {
	return row.Scan(&t.ID, &t.OwnerID, &t.MaterialID, &t.Quantity, &t.UnitAmount, &t.Status, &t.InvoiceID, &t.Memo, &t.CreatedAt, &t.UpdatedAt)
}

// GetTransaction loads one transaction.
func (r *Repository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	var t Transaction
	err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id), &t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

// ListByOwnerStatus returns an owner's transactions in one status,
// ordered by creation time ascending for oldest-pending lookups.
func (r *Repository) ListByOwnerStatus(ctx context.Context, ownerID int64, status Status) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE owner_id = $1 AND status = $2 ORDER BY created_at, id`, ownerID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

// ListUnbilledPending returns pending transactions that no invoice has
// picked up yet.
func (r *Repository) ListUnbilledPending(ctx context.Context, ownerID int64) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE owner_id = $1 AND status = 'pending' AND invoice_id = '' ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]Transaction, error) {
	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := scanTransaction(rows, &t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MarkPaid settles the given transactions in one statement. Only pending
// rows change; replays and already-paid ids fall through untouched. An
// empty invoice id leaves any existing stamp alone.
func (r *Repository) MarkPaid(ctx context.Context, ids []int64, invoiceID string) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `UPDATE transactions
SET status = 'paid',
    invoice_id = CASE WHEN $2 = '' THEN invoice_id ELSE $2 END,
    updated_at = $3
WHERE id = ANY($1) AND status = 'pending'
RETURNING id`, ids, invoiceID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var updated []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		updated = append(updated, id)
	}
	return updated, rows.Err()
}

// StampInvoice writes the invoice id onto transactions that carry none.
// Existing stamps stay; webhook replays and late finalized events cannot
// regress a newer id.
func (r *Repository) StampInvoice(ctx context.Context, ids []int64, invoiceID string) error {
	if invoiceID == "" {
		return nil
	}
	_, err := r.pool.Exec(ctx, `UPDATE transactions SET invoice_id = $2, updated_at = $3 WHERE id = ANY($1) AND invoice_id = ''`, ids, invoiceID, time.Now().UTC())
	return err
}

// ReplaceInvoice stamps the invoice id unconditionally. Reserved for the
// billing cycle that owns the listed transactions: a new cycle's id may
// replace a stale one, never the other way around.
func (r *Repository) ReplaceInvoice(ctx context.Context, ids []int64, invoiceID string) error {
	if invoiceID == "" {
		return nil
	}
	_, err := r.pool.Exec(ctx, `UPDATE transactions SET invoice_id = $2, updated_at = $3 WHERE id = ANY($1)`, ids, invoiceID, time.Now().UTC())
	return err
}

// StockLevel sums adjustment deltas for a material.
func (r *Repository) StockLevel(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	var level decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(delta), 0) FROM inventory_adjustments WHERE material_id = $1`, materialID).Scan(&level)
	if err != nil {
		return decimal.Zero, err
	}
	return level, nil
}

// RecordAdjustment appends one standalone adjustment outside the tab flow.
func (r *Repository) RecordAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO inventory_adjustments (material_id, delta, reason, memo, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, adj.MaterialID, adj.Delta, adj.Reason, adj.Memo, adj.CreatedAt).Scan(&adj.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return Adjustment{}, ErrUnknownReference
		}
		return Adjustment{}, err
	}
	return adj, nil
}

func (t *txRepo) InsertTransaction(ctx context.Context, txn Transaction) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO transactions (owner_id, material_id, quantity, unit_amount, status, invoice_id, memo, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		txn.OwnerID, txn.MaterialID, txn.Quantity, txn.UnitAmount, txn.Status, txn.InvoiceID, txn.Memo, txn.CreatedAt, txn.UpdatedAt).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, ErrUnknownReference
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) InsertAdjustment(ctx context.Context, adj Adjustment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO inventory_adjustments (material_id, delta, reason, memo, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		adj.MaterialID, adj.Delta, adj.Reason, adj.Memo, adj.CreatedAt).Scan(&id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return 0, ErrUnknownReference
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) GetTransactionForUpdate(ctx context.Context, id int64) (Transaction, error) {
	var txn Transaction
	err := scanTransaction(t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id), &txn)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	return txn, nil
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE transactions SET status = $2, updated_at = $3 WHERE id = $1`, id, status, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}
