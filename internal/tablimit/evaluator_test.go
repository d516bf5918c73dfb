package tablimit

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/makehaven/storetab/internal/ledger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func pendingTxn(unit, qty string, age time.Duration, now time.Time) ledger.Transaction {
	return ledger.Transaction{
		Status:     ledger.StatusPending,
		Quantity:   dec(qty),
		UnitAmount: dec(unit),
		CreatedAt:  now.Add(-age),
	}
}

func authedAccount() AccountState {
	return AccountState{Authenticated: true, TermsAccepted: true}
}

func TestUnauthenticatedNotEligible(t *testing.T) {
	status := Evaluate(Input{Now: time.Now()})
	require.False(t, status.Eligible)
	require.False(t, status.Blocked)
	require.Equal(t, ReasonNone, status.Reason.Code)
}

func TestBlockedFlagWinsOverEverything(t *testing.T) {
	now := time.Now()
	status := Evaluate(Input{
		Account: AccountState{Authenticated: true, TabBlocked: true},
		Pending: []ledger.Transaction{pendingTxn("100.00", "1", time.Hour, now)},
		Limits:  Limits{MaxAmount: dec("5.00"), RequireTerms: true},
		Now:     now,
	})
	require.True(t, status.Blocked)
	require.Equal(t, ReasonPaymentFailureBlock, status.Reason.Code)
}

func TestTermsPrecedeGatewayRequirement(t *testing.T) {
	status := Evaluate(Input{
		Account: AccountState{Authenticated: true},
		Limits:  Limits{RequireTerms: true, RequireStripe: true},
		Now:     time.Now(),
	})
	require.True(t, status.Blocked)
	require.Equal(t, ReasonTermsRequired, status.Reason.Code)
}

func TestSkipTermsBypassesTermsCheck(t *testing.T) {
	status := Evaluate(Input{
		Account:   AccountState{Authenticated: true},
		Limits:    Limits{RequireTerms: true},
		SkipTerms: true,
		Now:       time.Now(),
	})
	require.False(t, status.Blocked)
}

func TestGatewayAccountRequired(t *testing.T) {
	status := Evaluate(Input{
		Account: authedAccount(),
		Limits:  Limits{RequireStripe: true},
		Now:     time.Now(),
	})
	require.True(t, status.Blocked)
	require.False(t, status.Eligible)
	require.Equal(t, ReasonGatewayAccountRequired, status.Reason.Code)
}

func TestAdditionWouldExceedLimit(t *testing.T) {
	status := Evaluate(Input{
		Account:         authedAccount(),
		PendingAddition: dec("10.00"),
		Limits:          Limits{MaxAmount: dec("5.00")},
		Now:             time.Now(),
	})
	require.True(t, status.Blocked)
	require.Equal(t, ReasonWouldExceedLimit, status.Reason.Code)
	require.True(t, status.Total.IsZero())
	require.True(t, status.ProjectedTotal.Equal(dec("10.00")))

	text := RenderReason(status.Reason)
	require.Contains(t, text, "would exceed")
	require.Contains(t, text, "$10.00")
}

func TestAlreadyOverLimit(t *testing.T) {
	now := time.Now()
	status := Evaluate(Input{
		Account:         authedAccount(),
		Pending:         []ledger.Transaction{pendingTxn("6.00", "1", time.Hour, now)},
		PendingAddition: dec("1.00"),
		Limits:          Limits{MaxAmount: dec("5.00")},
		Now:             now,
	})
	require.True(t, status.Blocked)
	require.Equal(t, ReasonOverLimit, status.Reason.Code)
	require.Contains(t, RenderReason(status.Reason), "exceeds")
}

func TestAgeLimitWithAmountLimitDisabled(t *testing.T) {
	now := time.Now()
	status := Evaluate(Input{
		Account: authedAccount(),
		Pending: []ledger.Transaction{pendingTxn("1.00", "1", 31*24*time.Hour, now)},
		Limits:  Limits{MaxAmount: decimal.Zero, MaxAgeDays: 30},
		Now:     now,
	})
	require.True(t, status.Blocked)
	require.Equal(t, ReasonTabTooOld, status.Reason.Code)
	require.Equal(t, 31, status.Reason.AgeDays)
	require.Contains(t, RenderReason(status.Reason), "31 days old")
}

func TestAmountLimitPrecedesAgeLimit(t *testing.T) {
	now := time.Now()
	status := Evaluate(Input{
		Account:         authedAccount(),
		Pending:         []ledger.Transaction{pendingTxn("10.00", "1", 40*24*time.Hour, now)},
		PendingAddition: decimal.Zero,
		Limits:          Limits{MaxAmount: dec("5.00"), MaxAgeDays: 30},
		Now:             now,
	})
	require.Equal(t, ReasonOverLimit, status.Reason.Code)
}

func TestZeroAmountItemsNeverCount(t *testing.T) {
	now := time.Now()
	status := Evaluate(Input{
		Account: authedAccount(),
		Pending: []ledger.Transaction{
			pendingTxn("0.00", "1", 90*24*time.Hour, now),
			pendingTxn("2.00", "2", time.Hour, now),
		},
		Limits: Limits{MaxAmount: dec("100.00"), MaxAgeDays: 30},
		Now:    now,
	})
	require.False(t, status.Blocked)
	require.True(t, status.Total.Equal(dec("4.00")))
	require.Equal(t, 0, status.OldestAgeDays)
}

func TestCleanAccountNotBlocked(t *testing.T) {
	now := time.Now()
	status := Evaluate(Input{
		Account:         authedAccount(),
		Pending:         []ledger.Transaction{pendingTxn("2.50", "2", 48*time.Hour, now)},
		PendingAddition: dec("1.00"),
		Limits:          Limits{MaxAmount: dec("50.00"), MaxAgeDays: 30},
		Now:             now,
	})
	require.True(t, status.Eligible)
	require.False(t, status.Blocked)
	require.True(t, status.Total.Equal(dec("5.00")))
	require.True(t, status.ProjectedTotal.Equal(dec("6.00")))
	require.Equal(t, 2, status.OldestAgeDays)
	require.Equal(t, "", RenderReason(status.Reason))
}

func TestRenderAmountsUseTwoDecimals(t *testing.T) {
	text := RenderReason(Reason{
		Code:            ReasonWouldExceedLimit,
		Total:           dec("3.5"),
		PendingAddition: dec("2"),
		MaxAmount:       dec("5"),
	})
	require.True(t, strings.Contains(text, "$2.00") && strings.Contains(text, "$5.00") && strings.Contains(text, "$3.50"))
}
