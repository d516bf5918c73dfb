// Package tablimit decides whether a member may add more to their tab.
// Evaluate is a pure function over a snapshot of pending transactions and
// configuration; it performs no I/O.
package tablimit

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/makehaven/storetab/internal/ledger"
)

// ReasonCode identifies why tab use is blocked. Codes carry structured
// parameters; human-readable text is rendered at the boundary only.
type ReasonCode string

const (
	ReasonNone                   ReasonCode = ""
	ReasonPaymentFailureBlock    ReasonCode = "payment_failure_block"
	ReasonTermsRequired          ReasonCode = "terms_required"
	ReasonGatewayAccountRequired ReasonCode = "gateway_account_required"
	ReasonOverLimit              ReasonCode = "over_limit"
	ReasonWouldExceedLimit       ReasonCode = "would_exceed_limit"
	ReasonTabTooOld              ReasonCode = "tab_too_old"
)

// Reason is a block cause plus its parameters.
type Reason struct {
	Code            ReasonCode
	Total           decimal.Decimal
	PendingAddition decimal.Decimal
	MaxAmount       decimal.Decimal
	AgeDays         int
	MaxAgeDays      int
}

// Limits is the configuration slice the evaluator consumes. A zero
// MaxAmount or MaxAgeDays disables that limit.
type Limits struct {
	MaxAmount     decimal.Decimal
	MaxAgeDays    int
	RequireTerms  bool
	RequireStripe bool
}

// AccountState is the snapshot of the owner the evaluator needs.
type AccountState struct {
	Authenticated     bool
	TabBlocked        bool
	TermsAccepted     bool
	HasStripeCustomer bool
}

// Input bundles everything Evaluate consumes.
type Input struct {
	Account         AccountState
	Pending         []ledger.Transaction
	PendingAddition decimal.Decimal
	SkipTerms       bool
	Limits          Limits
	Now             time.Time
}

// Status is the evaluation result.
type Status struct {
	Eligible       bool
	Blocked        bool
	Reason         Reason
	Total          decimal.Decimal
	ProjectedTotal decimal.Decimal
	OldestAgeDays  int
}

// Evaluate applies the block rules in strict precedence order; the first
// applicable rule wins so the caller can always present one actionable
// reason.
func Evaluate(in Input) Status {
	status := Status{
		Eligible:       true,
		Total:          decimal.Zero,
		ProjectedTotal: decimal.Zero,
	}

	if !in.Account.Authenticated {
		status.Eligible = false
		return status
	}

	if in.Account.TabBlocked {
		status.Blocked = true
		status.Reason = Reason{Code: ReasonPaymentFailureBlock}
		return status
	}

	if in.Limits.RequireTerms && !in.SkipTerms && !in.Account.TermsAccepted {
		status.Blocked = true
		status.Reason = Reason{Code: ReasonTermsRequired}
		return status
	}

	if in.Limits.RequireStripe && !in.Account.HasStripeCustomer {
		status.Eligible = false
		status.Blocked = true
		status.Reason = Reason{Code: ReasonGatewayAccountRequired}
		return status
	}

	// Zero-amount items carry no payment obligation; they count toward
	// neither the balance nor the tab age.
	var oldest *time.Time
	for _, txn := range in.Pending {
		if !txn.UnitAmount.IsPositive() {
			continue
		}
		status.Total = status.Total.Add(txn.LineTotal())
		if oldest == nil || txn.CreatedAt.Before(*oldest) {
			created := txn.CreatedAt
			oldest = &created
		}
	}
	if oldest != nil {
		status.OldestAgeDays = int(in.Now.Sub(*oldest).Hours() / 24)
		if status.OldestAgeDays < 0 {
			status.OldestAgeDays = 0
		}
	}
	status.ProjectedTotal = status.Total.Add(in.PendingAddition)

	if in.Limits.MaxAmount.IsPositive() && status.ProjectedTotal.GreaterThan(in.Limits.MaxAmount) {
		status.Blocked = true
		code := ReasonWouldExceedLimit
		if status.Total.GreaterThan(in.Limits.MaxAmount) {
			code = ReasonOverLimit
		}
		status.Reason = Reason{
			Code:            code,
			Total:           status.Total,
			PendingAddition: in.PendingAddition,
			MaxAmount:       in.Limits.MaxAmount,
		}
		return status
	}

	if in.Limits.MaxAgeDays > 0 && status.OldestAgeDays > in.Limits.MaxAgeDays {
		status.Blocked = true
		status.Reason = Reason{
			Code:       ReasonTabTooOld,
			AgeDays:    status.OldestAgeDays,
			MaxAgeDays: in.Limits.MaxAgeDays,
		}
		return status
	}

	return status
}
