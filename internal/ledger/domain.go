package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status enumerates transaction lifecycle states. Transitions are
// one-directional: pending may become paid or removed, nothing moves back.
type Status string

const (
	StatusPending Status = "pending"
	StatusPaid    Status = "paid"
	StatusRemoved Status = "removed"
)

// AdjustmentReason enumerates why a stock count changed.
type AdjustmentReason string

const (
	ReasonUnpaidTab        AdjustmentReason = "unpaid_tab"
	ReasonRestock          AdjustmentReason = "restock"
	ReasonWorkshopSupplies AdjustmentReason = "workshop_supplies"
	ReasonProgramSupplies  AdjustmentReason = "program_supplies"
	ReasonShopUse          AdjustmentReason = "shop_use"
	ReasonOfficeUse        AdjustmentReason = "office_use"
	ReasonLossage          AdjustmentReason = "lossage"
)

// ValidReason reports whether the reason is one of the known values.
func ValidReason(r AdjustmentReason) bool {
	switch r {
	case ReasonUnpaidTab, ReasonRestock, ReasonWorkshopSupplies,
		ReasonProgramSupplies, ReasonShopUse, ReasonOfficeUse, ReasonLossage:
		return true
	}
	return false
}

// Transaction records one line-item purchase on a member's tab. UnitAmount
// is snapshotted from the catalog at creation; the line total never moves
// after that.
type Transaction struct {
	ID         int64
	OwnerID    int64
	MaterialID int64
	Quantity   decimal.Decimal
	UnitAmount decimal.Decimal
	Status     Status
	InvoiceID  string
	Memo       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LineTotal returns quantity times unit amount.
func (t Transaction) LineTotal() decimal.Decimal {
	return t.Quantity.Mul(t.UnitAmount)
}

// Adjustment records one signed change to a material's stock count.
// Current stock for a material is the sum of its adjustment deltas.
type Adjustment struct {
	ID         int64
	MaterialID int64
	Delta      decimal.Decimal
	Reason     AdjustmentReason
	Memo       string
	CreatedAt  time.Time
}

// Requester identifies who asked for a mutation. Admin carries the staff
// override capability for removals of other members' items.
type Requester struct {
	AccountID int64
	Admin     bool
}

// AddItemInput describes a tab purchase request.
type AddItemInput struct {
	OwnerID    int64
	MaterialID int64
	Quantity   decimal.Decimal
	UnitAmount decimal.Decimal
	Memo       string
}

// AdjustmentInput describes a staff stock adjustment (dispense, restock,
// lossage and the like) outside the tab flow.
type AdjustmentInput struct {
	MaterialID int64
	Delta      decimal.Decimal
	Reason     AdjustmentReason
	Memo       string
}

var (
	// ErrTransactionNotFound indicates an unknown transaction reference.
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
	// ErrNotPending indicates the transaction already settled or was removed.
	ErrNotPending = errors.New("ledger: transaction is not pending")
	// ErrNotOwner indicates the requester holds no right over the transaction.
	ErrNotOwner = errors.New("ledger: requester does not own transaction")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrInvalidAmount indicates a negative unit amount.
	ErrInvalidAmount = errors.New("ledger: unit amount must be >= 0")
	// ErrInvalidReason indicates an unknown adjustment reason.
	ErrInvalidReason = errors.New("ledger: unknown adjustment reason")
	// ErrZeroDelta indicates an adjustment that changes nothing.
	ErrZeroDelta = errors.New("ledger: adjustment delta must be non zero")
	// ErrUnknownReference indicates a write naming an account or material
	// that does not exist.
	ErrUnknownReference = errors.New("ledger: unknown account or material reference")
)
