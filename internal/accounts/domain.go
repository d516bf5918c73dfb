package accounts

import (
	"errors"
	"time"
)

// Account represents a member who can run a store tab.
type Account struct {
	ID               int64
	Email            string
	DisplayName      string
	IsActive         bool
	TabBlocked       bool
	AutoCharge       bool
	TermsAcceptedAt  *time.Time
	StripeCustomerID string
	Timezone         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TermsAccepted reports whether the member has accepted the tab terms.
func (a Account) TermsAccepted() bool {
	return a.TermsAcceptedAt != nil
}

// HasStripeCustomer reports whether a payment-gateway customer is linked.
func (a Account) HasStripeCustomer() bool {
	return a.StripeCustomerID != ""
}

// Location resolves the account's timezone, falling back to the given
// default when unset or unparseable.
func (a Account) Location(fallback *time.Location) *time.Location {
	if a.Timezone == "" {
		return fallback
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return fallback
	}
	return loc
}

// ErrAccountNotFound indicates an unknown account reference.
var ErrAccountNotFound = errors.New("accounts: not found")
