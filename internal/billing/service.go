package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/makehaven/storetab/internal/accounts"
	"github.com/makehaven/storetab/internal/catalog"
	"github.com/makehaven/storetab/internal/ledger"
)

// AccountsPort is the slice of the accounts service billing drives.
type AccountsPort interface {
	ListAutoChargeCandidates(ctx context.Context) ([]accounts.Account, error)
	Block(ctx context.Context, id int64) error
}

// LedgerPort is the slice of the ledger service billing drives.
type LedgerPort interface {
	ListUnbilledPending(ctx context.Context, ownerID int64) ([]ledger.Transaction, error)
	SettleZeroAmounts(ctx context.Context, ownerID int64) ([]int64, error)
	MarkPaid(ctx context.Context, ids []int64, invoiceID string) ([]int64, error)
	ReplaceInvoice(ctx context.Context, ids []int64, invoiceID string) error
}

// CatalogPort resolves material names for invoice line descriptions.
type CatalogPort interface {
	Get(ctx context.Context, id int64) (catalog.Material, error)
}

// Locker keeps concurrent workers from running the same cycle twice.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

const (
	runLockKey = "billing:autocharge:lock"
	runLockTTL = time.Hour

	invoiceCurrency = "usd"
)

// AutoChargerParams wires an AutoCharger.
type AutoChargerParams struct {
	Accounts    AccountsPort
	Ledger      LedgerPort
	Catalog     CatalogPort
	Gateway     Gateway
	Locker      Locker
	Logger      *slog.Logger
	MinCharge   decimal.Decimal
	DefaultLoc  *time.Location
	Concurrency int
}

// AutoCharger runs the end-of-month settlement cycle: for each opted-in
// account whose local calendar says the month is ending, it invoices the
// outstanding tab through the gateway and attempts immediate payment.
type AutoCharger struct {
	accounts    AccountsPort
	ledger      LedgerPort
	catalog     CatalogPort
	gateway     Gateway
	locker      Locker
	logger      *slog.Logger
	minCharge   decimal.Decimal
	defaultLoc  *time.Location
	concurrency int
	now         func() time.Time
}

func NewAutoCharger(params AutoChargerParams) *AutoCharger {
	loc := params.DefaultLoc
	if loc == nil {
		loc = time.UTC
	}
	concurrency := params.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &AutoCharger{
		accounts:    params.Accounts,
		ledger:      params.Ledger,
		catalog:     params.Catalog,
		gateway:     params.Gateway,
		locker:      params.Locker,
		logger:      params.Logger,
		minCharge:   params.MinCharge,
		defaultLoc:  loc,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// Run performs one settlement cycle. A failure against one account never
// stops the cycle for the others, so Run only errors on setup problems.
func (s *AutoCharger) Run(ctx context.Context) error {
	if s.gateway == nil || !s.gateway.Available() {
		s.logger.Info("billing: no payment gateway configured, skipping auto-charge cycle")
		return nil
	}

	if s.locker != nil {
		acquired, err := s.locker.Acquire(ctx, runLockKey, runLockTTL)
		if err != nil {
			return fmt.Errorf("billing: acquire run lock: %w", err)
		}
		if !acquired {
			s.logger.Info("billing: auto-charge cycle already running elsewhere")
			return nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), runLockKey); err != nil {
				s.logger.Warn("billing: release run lock", slog.String("error", err.Error()))
			}
		}()
	}

	candidates, err := s.accounts.ListAutoChargeCandidates(ctx)
	if err != nil {
		return fmt.Errorf("billing: list candidates: %w", err)
	}

	now := s.now()
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for _, account := range candidates {
		account := account
		group.Go(func() error {
			local := now.In(account.Location(s.defaultLoc))
			if !isLastDayOfMonth(local) {
				return nil
			}
			if err := s.chargeAccount(groupCtx, account, local); err != nil {
				s.logger.Error("billing: account charge failed",
					slog.Int64("account_id", account.ID),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	s.logger.Info("billing: auto-charge cycle complete", slog.Int("candidates", len(candidates)))
	return nil
}

func (s *AutoCharger) chargeAccount(ctx context.Context, account accounts.Account, local time.Time) error {
	// Zero-amount lines settle without involving the gateway.
	if settled, err := s.ledger.SettleZeroAmounts(ctx, account.ID); err != nil {
		return fmt.Errorf("settle zero amounts: %w", err)
	} else if len(settled) > 0 {
		s.logger.Info("billing: settled zero-amount lines",
			slog.Int64("account_id", account.ID),
			slog.Int("count", len(settled)))
	}

	lines, err := s.ledger.ListUnbilledPending(ctx, account.ID)
	if err != nil {
		return fmt.Errorf("list unbilled: %w", err)
	}

	total := decimal.Zero
	billable := lines[:0]
	var ids []int64
	for _, line := range lines {
		if line.UnitAmount.Sign() <= 0 {
			continue
		}
		billable = append(billable, line)
		ids = append(ids, line.ID)
		total = total.Add(line.LineTotal())
	}
	if len(billable) == 0 {
		return nil
	}

	if total.LessThan(s.minCharge) {
		s.logger.Info("billing: tab below minimum charge, carrying over",
			slog.Int64("account_id", account.ID),
			slog.String("total", total.StringFixed(2)),
			slog.String("minimum", s.minCharge.StringFixed(2)))
		return nil
	}

	if !account.HasStripeCustomer() {
		s.logger.Warn("billing: account has no gateway customer, skipping",
			slog.Int64("account_id", account.ID))
		return nil
	}

	period := local.Format("2006-01")
	if err := s.invoiceAndPay(ctx, account, billable, ids, total, period); err != nil {
		if blockErr := s.accounts.Block(ctx, account.ID); blockErr != nil {
			s.logger.Error("billing: failed to block account after charge failure",
				slog.Int64("account_id", account.ID),
				slog.String("error", blockErr.Error()))
		}
		return err
	}
	return nil
}

func (s *AutoCharger) invoiceAndPay(ctx context.Context, account accounts.Account, lines []ledger.Transaction, ids []int64, total decimal.Decimal, period string) error {
	for _, line := range lines {
		item := InvoiceItem{
			CustomerID:  account.StripeCustomerID,
			AmountCents: AmountToCents(line.LineTotal()),
			Currency:    invoiceCurrency,
			Description: s.lineDescription(ctx, line),
			Metadata: map[string]string{
				MetadataSourceSystem:    SourceSystem,
				MetadataTransactionType: TransactionType,
				MetadataAccountID:       strconv.FormatInt(account.ID, 10),
				MetadataTransactionID:   strconv.FormatInt(line.ID, 10),
				MetadataMaterialID:      strconv.FormatInt(line.MaterialID, 10),
				MetadataQuantity:        line.Quantity.String(),
				MetadataUnitPrice:       line.UnitAmount.StringFixed(2),
			},
		}
		if err := s.gateway.CreateInvoiceItem(ctx, item); err != nil {
			return fmt.Errorf("create invoice item for transaction %d: %w", line.ID, err)
		}
	}

	invoice, err := s.gateway.CreateInvoice(ctx, InvoiceRequest{
		CustomerID:  account.StripeCustomerID,
		Description: fmt.Sprintf("Makerspace Store Tab (%s)", period),
		Metadata: map[string]string{
			MetadataSourceSystem:    SourceSystem,
			MetadataTransactionType: TransactionType,
			MetadataAccountID:       strconv.FormatInt(account.ID, 10),
			MetadataTabTransactions: JoinTransactionIDs(ids),
			MetadataTabPeriod:       period,
		},
	})
	if err != nil {
		return fmt.Errorf("create invoice: %w", err)
	}

	// Stamp the ledger first so a crash between payment and bookkeeping
	// still leaves the invoice traceable from the transactions.
	if err := s.ledger.ReplaceInvoice(ctx, ids, invoice.ID); err != nil {
		return fmt.Errorf("stamp invoice %s: %w", invoice.ID, err)
	}

	if _, err := s.gateway.FinalizeInvoice(ctx, invoice.ID); err != nil {
		return fmt.Errorf("finalize invoice %s: %w", invoice.ID, err)
	}

	paid, err := s.gateway.PayInvoice(ctx, invoice.ID)
	if err != nil {
		return fmt.Errorf("pay invoice %s: %w", invoice.ID, err)
	}
	if paid.Status != InvoiceStatusPaid {
		return fmt.Errorf("invoice %s not settled, status %q", invoice.ID, paid.Status)
	}

	if _, err := s.ledger.MarkPaid(ctx, ids, invoice.ID); err != nil {
		return fmt.Errorf("mark paid for invoice %s: %w", invoice.ID, err)
	}
	s.logger.Info("billing: tab settled",
		slog.Int64("account_id", account.ID),
		slog.String("invoice_id", invoice.ID),
		slog.String("total", total.StringFixed(2)),
		slog.Int("lines", len(lines)))
	return nil
}

func (s *AutoCharger) lineDescription(ctx context.Context, line ledger.Transaction) string {
	name := "material #" + strconv.FormatInt(line.MaterialID, 10)
	if material, err := s.catalog.Get(ctx, line.MaterialID); err == nil {
		name = material.Name
	}
	return fmt.Sprintf("%s x %s", line.Quantity.String(), name)
}

// isLastDayOfMonth reports whether t falls on the final calendar day of
// its month in t's location.
func isLastDayOfMonth(t time.Time) bool {
	return t.AddDate(0, 0, 1).Month() != t.Month()
}
