package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/makehaven/storetab/internal/billing"
)

// LedgerPort is the slice of the ledger service settlement drives.
type LedgerPort interface {
	MarkPaid(ctx context.Context, ids []int64, invoiceID string) ([]int64, error)
	StampInvoice(ctx context.Context, ids []int64, invoiceID string) error
}

// AccountsPort isolates the account side effect of a failed payment.
type AccountsPort interface {
	Block(ctx context.Context, id int64) error
}

type Service struct {
	ledger   LedgerPort
	accounts AccountsPort
	logger   *slog.Logger
}

func NewService(ledger LedgerPort, accounts AccountsPort, logger *slog.Logger) *Service {
	return &Service{ledger: ledger, accounts: accounts, logger: logger}
}

// Apply routes one gateway event to its ledger effect. Events from other
// systems, unknown event types, and events carrying no recognizable
// transaction ids are acknowledged without side effects.
func (s *Service) Apply(ctx context.Context, event Event) error {
	if event.SourceSystem != billing.SourceSystem {
		s.logger.Debug("settlement: ignoring foreign event",
			slog.String("event_id", event.ID),
			slog.String("source_system", event.SourceSystem))
		return nil
	}
	if len(event.TransactionIDs) == 0 {
		s.logger.Warn("settlement: event carries no transaction ids",
			slog.String("event_id", event.ID),
			slog.String("invoice_id", event.InvoiceID))
		return nil
	}

	switch event.Type {
	case EventInvoicePaid:
		settled, err := s.ledger.MarkPaid(ctx, event.TransactionIDs, event.InvoiceID)
		if err != nil {
			return fmt.Errorf("settlement: mark paid for invoice %s: %w", event.InvoiceID, err)
		}
		s.logger.Info("settlement: invoice paid",
			slog.String("invoice_id", event.InvoiceID),
			slog.Int("settled", len(settled)),
			slog.Int("referenced", len(event.TransactionIDs)))
		return nil

	case EventInvoicePaymentFailed:
		if event.AccountID > 0 {
			if err := s.accounts.Block(ctx, event.AccountID); err != nil {
				return fmt.Errorf("settlement: block account %d: %w", event.AccountID, err)
			}
		}
		if err := s.ledger.StampInvoice(ctx, event.TransactionIDs, event.InvoiceID); err != nil {
			return fmt.Errorf("settlement: stamp invoice %s: %w", event.InvoiceID, err)
		}
		s.logger.Warn("settlement: invoice payment failed",
			slog.String("invoice_id", event.InvoiceID),
			slog.Int64("account_id", event.AccountID))
		return nil

	case EventInvoiceFinalized:
		if err := s.ledger.StampInvoice(ctx, event.TransactionIDs, event.InvoiceID); err != nil {
			return fmt.Errorf("settlement: stamp invoice %s: %w", event.InvoiceID, err)
		}
		return nil

	default:
		s.logger.Debug("settlement: ignoring event type",
			slog.String("event_id", event.ID),
			slog.String("type", event.Type))
		return nil
	}
}
