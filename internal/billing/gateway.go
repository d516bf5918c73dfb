// Package billing drives gateway-initiated settlement of member tabs.
package billing

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Correlation metadata attached to every invoice and line item so webhook
// events can be routed back to this system. The source-system value is
// shared with the settlement webhook parser and with downstream
// reconciliation; do not change it casually.
const (
	MetadataSourceSystem    = "source_system"
	MetadataTransactionType = "transaction_type"
	MetadataAccountID       = "account_id"
	MetadataTransactionID   = "transaction_id"
	MetadataMaterialID      = "material_id"
	MetadataMaterialName    = "material_name"
	MetadataQuantity        = "quantity"
	MetadataUnitPrice       = "unit_price"
	MetadataTabTransactions = "tab_transaction_ids"
	MetadataTabPeriod       = "tab_period"

	SourceSystem    = "makerspace_material_store"
	TransactionType = "store_tab"
)

// InvoiceItem is one billable line sent to the gateway. AmountCents is
// the line total in the currency's minor unit.
type InvoiceItem struct {
	CustomerID  string
	AmountCents int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// InvoiceRequest creates one invoice covering a billing period.
type InvoiceRequest struct {
	CustomerID  string
	Description string
	Metadata    map[string]string
}

// Invoice is the gateway's view of a created invoice.
type Invoice struct {
	ID     string
	Status string
}

// InvoiceStatusPaid is the gateway status meaning payment settled.
const InvoiceStatusPaid = "paid"

// Gateway is the payment-gateway capability. Deployments without a
// configured gateway present an unavailable implementation; callers must
// check Available before use.
type Gateway interface {
	Available() bool
	CreateInvoiceItem(ctx context.Context, item InvoiceItem) error
	CreateInvoice(ctx context.Context, req InvoiceRequest) (Invoice, error)
	FinalizeInvoice(ctx context.Context, invoiceID string) (Invoice, error)
	PayInvoice(ctx context.Context, invoiceID string) (Invoice, error)
}

// ErrGatewayUnavailable indicates no gateway is configured.
var ErrGatewayUnavailable = errors.New("billing: payment gateway unavailable")

// AmountToCents converts a decimal currency amount to minor units,
// rounding half away from zero the way the gateway expects.
func AmountToCents(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// JoinTransactionIDs renders transaction ids as the sorted CSV carried in
// invoice metadata.
func JoinTransactionIDs(ids []int64) string {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, 0, len(sorted))
	for _, id := range sorted {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

// ParseTransactionIDs reads the metadata CSV back into ids, dropping
// anything that does not parse as a positive integer.
func ParseTransactionIDs(csv string) []int64 {
	if csv == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
