// Package settlement applies payment-gateway webhook events to the tab
// ledger. Events are idempotent: replays and out-of-order delivery leave
// the ledger in the same state.
package settlement

import "errors"

// Gateway event types this system reacts to. Anything else is
// acknowledged and ignored.
const (
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventInvoiceFinalized     = "invoice.finalized"
)

// Event is the subset of a gateway webhook event that settlement needs.
type Event struct {
	ID             string
	Type           string
	InvoiceID      string
	SourceSystem   string
	AccountID      int64
	TransactionIDs []int64
}

var (
	ErrBadSignature   = errors.New("settlement: webhook signature verification failed")
	ErrStaleTimestamp = errors.New("settlement: webhook timestamp outside tolerance")
)
