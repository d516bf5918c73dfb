package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	ListByOwnerStatus(ctx context.Context, ownerID int64, status Status) ([]Transaction, error)
	ListUnbilledPending(ctx context.Context, ownerID int64) ([]Transaction, error)
	MarkPaid(ctx context.Context, ids []int64, invoiceID string) ([]int64, error)
	StampInvoice(ctx context.Context, ids []int64, invoiceID string) error
	ReplaceInvoice(ctx context.Context, ids []int64, invoiceID string) error
	StockLevel(ctx context.Context, materialID int64) (decimal.Decimal, error)
	RecordAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error)
}

// Service owns the transaction/inventory ledger. All mutation of the two
// collections funnels through here.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// AddItem creates a pending purchase and its stock deduction as one unit.
// Neither record exists if the other cannot be written.
func (s *Service) AddItem(ctx context.Context, input AddItemInput) (Transaction, error) {
	if !input.Quantity.IsPositive() {
		return Transaction{}, ErrInvalidQuantity
	}
	if input.UnitAmount.IsNegative() {
		return Transaction{}, ErrInvalidAmount
	}

	now := time.Now().UTC()
	txn := Transaction{
		OwnerID:    input.OwnerID,
		MaterialID: input.MaterialID,
		Quantity:   input.Quantity,
		UnitAmount: input.UnitAmount,
		Status:     StatusPending,
		Memo:       input.Memo,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertTransaction(ctx, txn)
		if err != nil {
			return err
		}
		txn.ID = id

		memo := input.Memo
		if memo == "" {
			memo = fmt.Sprintf("added to tab by account %d", input.OwnerID)
		}
		_, err = tx.InsertAdjustment(ctx, Adjustment{
			MaterialID: input.MaterialID,
			Delta:      input.Quantity.Neg(),
			Reason:     ReasonUnpaidTab,
			Memo:       memo,
			CreatedAt:  now,
		})
		return err
	})
	if err != nil {
		return Transaction{}, err
	}

	if s.logger != nil {
		s.logger.Info("tab item added",
			slog.Int64("transaction_id", txn.ID),
			slog.Int64("owner_id", input.OwnerID),
			slog.Int64("material_id", input.MaterialID),
			slog.String("quantity", input.Quantity.String()))
	}
	return txn, nil
}

// RemoveItem marks a pending transaction removed and restocks the
// material, atomically. The record stays as an audit trail of mistakes.
func (s *Service) RemoveItem(ctx context.Context, transactionID int64, requester Requester) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		txn, err := tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if txn.OwnerID != requester.AccountID && !requester.Admin {
			return ErrNotOwner
		}
		if txn.Status != StatusPending {
			return ErrNotPending
		}

		if _, err := tx.InsertAdjustment(ctx, Adjustment{
			MaterialID: txn.MaterialID,
			Delta:      txn.Quantity,
			Reason:     ReasonRestock,
			Memo:       fmt.Sprintf("removed from tab by account %d", requester.AccountID),
			CreatedAt:  time.Now().UTC(),
		}); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, txn.ID, StatusRemoved)
	})
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("tab item removed",
			slog.Int64("transaction_id", transactionID),
			slog.Int64("requester_id", requester.AccountID))
	}
	return nil
}

// MarkPaid settles the listed transactions. Bulk and idempotent; ids that
// are not pending are skipped, not errored.
func (s *Service) MarkPaid(ctx context.Context, ids []int64, invoiceID string) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.repo.MarkPaid(ctx, ids, invoiceID)
}

// StampInvoice annotates transactions with a gateway invoice id when they
// carry none. Existing stamps are never cleared or regressed.
func (s *Service) StampInvoice(ctx context.Context, ids []int64, invoiceID string) error {
	if len(ids) == 0 || invoiceID == "" {
		return nil
	}
	return s.repo.StampInvoice(ctx, ids, invoiceID)
}

// ReplaceInvoice stamps a fresh billing cycle's invoice id onto its
// transactions, superseding any stale stamp from an earlier cycle.
func (s *Service) ReplaceInvoice(ctx context.Context, ids []int64, invoiceID string) error {
	if len(ids) == 0 || invoiceID == "" {
		return nil
	}
	return s.repo.ReplaceInvoice(ctx, ids, invoiceID)
}

// ListPending returns an owner's pending transactions, oldest first.
func (s *Service) ListPending(ctx context.Context, ownerID int64) ([]Transaction, error) {
	return s.repo.ListByOwnerStatus(ctx, ownerID, StatusPending)
}

// ListPaid returns an owner's settled transactions, oldest first.
func (s *Service) ListPaid(ctx context.Context, ownerID int64) ([]Transaction, error) {
	return s.repo.ListByOwnerStatus(ctx, ownerID, StatusPaid)
}

// ListUnbilledPending returns pending transactions no invoice covers yet.
func (s *Service) ListUnbilledPending(ctx context.Context, ownerID int64) ([]Transaction, error) {
	return s.repo.ListUnbilledPending(ctx, ownerID)
}

// SettleZeroAmounts auto-pays an owner's free pending items at checkout
// time so they never enter settlement or outstanding totals.
func (s *Service) SettleZeroAmounts(ctx context.Context, ownerID int64) ([]int64, error) {
	pending, err := s.repo.ListByOwnerStatus(ctx, ownerID, StatusPending)
	if err != nil {
		return nil, err
	}
	var free []int64
	for _, t := range pending {
		if t.UnitAmount.IsZero() {
			free = append(free, t.ID)
		}
	}
	if len(free) == 0 {
		return nil, nil
	}
	return s.repo.MarkPaid(ctx, free, "")
}

// RecordAdjustment appends a staff stock adjustment (dispense, restock,
// lossage). Not tied to any transaction.
func (s *Service) RecordAdjustment(ctx context.Context, input AdjustmentInput) (Adjustment, error) {
	if !ValidReason(input.Reason) {
		return Adjustment{}, ErrInvalidReason
	}
	if input.Delta.IsZero() {
		return Adjustment{}, ErrZeroDelta
	}
	adj, err := s.repo.RecordAdjustment(ctx, Adjustment{
		MaterialID: input.MaterialID,
		Delta:      input.Delta,
		Reason:     input.Reason,
		Memo:       input.Memo,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return Adjustment{}, err
	}
	if s.logger != nil {
		s.logger.Info("inventory adjusted",
			slog.Int64("material_id", input.MaterialID),
			slog.String("delta", input.Delta.String()),
			slog.String("reason", string(input.Reason)))
	}
	return adj, nil
}

// StockLevel returns the adjustment-sum stock count for a material.
func (s *Service) StockLevel(ctx context.Context, materialID int64) (decimal.Decimal, error) {
	return s.repo.StockLevel(ctx, materialID)
}

// GetTransaction loads one transaction.
func (s *Service) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}
