package tablimit

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// RenderReason turns a reason code and its parameters into English text
// for API responses. The core stays locale-agnostic; only this boundary
// knows the wording.
func RenderReason(r Reason) string {
	switch r.Code {
	case ReasonPaymentFailureBlock:
		return "Your tab is blocked after a failed payment. Please see staff to settle your balance."
	case ReasonTermsRequired:
		return "Please review and accept the tab terms before adding items."
	case ReasonGatewayAccountRequired:
		return "A linked payment account is required before using the tab."
	case ReasonOverLimit:
		return printer.Sprintf("Current balance ($%.2f) exceeds the $%.2f limit.",
			r.Total.InexactFloat64(), r.MaxAmount.InexactFloat64())
	case ReasonWouldExceedLimit:
		return printer.Sprintf("Adding this item ($%.2f) would exceed the $%.2f limit (current balance: $%.2f).",
			r.PendingAddition.InexactFloat64(), r.MaxAmount.InexactFloat64(), r.Total.InexactFloat64())
	case ReasonTabTooOld:
		return printer.Sprintf("You have pending items that are %d days old (max allowed: %d days).",
			r.AgeDays, r.MaxAgeDays)
	}
	return ""
}
