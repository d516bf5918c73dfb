package store

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/makehaven/storetab/internal/catalog"
	"github.com/makehaven/storetab/internal/ledger"
	"github.com/makehaven/storetab/internal/tablimit"
)

type addItemRequest struct {
	AccountID  int64 `json:"account_id" validate:"required,gt=0"`
	MaterialID int64 `json:"material_id" validate:"required,gt=0"`
	// Quantity defaults to 1 when omitted.
	Quantity string `json:"quantity"`
	Memo     string `json:"memo" validate:"max=500"`
	// SkipTerms lets a staff-confirmed sale proceed before the member has
	// accepted the tab terms online.
	SkipTerms bool `json:"skip_terms"`
}

type checkoutRequest struct {
	AccountID int64 `json:"account_id" validate:"required,gt=0"`
}

type checkoutResponse struct {
	AccountID    int64                 `json:"account_id"`
	SettledItems []int64               `json:"settled_items,omitempty"`
	Items        []transactionResponse `json:"items"`
	Total        decimal.Decimal       `json:"total"`
}

type dispenseRequest struct {
	MaterialID int64  `json:"material_id" validate:"required,gt=0"`
	Delta      string `json:"delta" validate:"required"`
	Reason     string `json:"reason" validate:"required"`
	Memo       string `json:"memo" validate:"max=500"`
}

type transactionResponse struct {
	ID         int64           `json:"id"`
	AccountID  int64           `json:"account_id"`
	MaterialID int64           `json:"material_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UnitAmount decimal.Decimal `json:"unit_amount"`
	LineTotal  decimal.Decimal `json:"line_total"`
	Status     string          `json:"status"`
	InvoiceID  string          `json:"invoice_id,omitempty"`
	Memo       string          `json:"memo,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

func toTransactionResponse(txn ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:         txn.ID,
		AccountID:  txn.OwnerID,
		MaterialID: txn.MaterialID,
		Quantity:   txn.Quantity,
		UnitAmount: txn.UnitAmount,
		LineTotal:  txn.LineTotal(),
		Status:     string(txn.Status),
		InvoiceID:  txn.InvoiceID,
		Memo:       txn.Memo,
		CreatedAt:  txn.CreatedAt,
	}
}

type tabResponse struct {
	AccountID int64                 `json:"account_id"`
	Status    string                `json:"status"`
	Items     []transactionResponse `json:"items"`
	Total     decimal.Decimal       `json:"total"`
}

type tabStatusResponse struct {
	Eligible       bool            `json:"eligible"`
	Blocked        bool            `json:"blocked"`
	ReasonCode     string          `json:"reason_code,omitempty"`
	Message        string          `json:"message,omitempty"`
	Total          decimal.Decimal `json:"total"`
	ProjectedTotal decimal.Decimal `json:"projected_total"`
	OldestAgeDays  int             `json:"oldest_age_days"`
}

func toTabStatusResponse(status tablimit.Status) tabStatusResponse {
	resp := tabStatusResponse{
		Eligible:       status.Eligible && !status.Blocked,
		Blocked:        status.Blocked,
		ReasonCode:     string(status.Reason.Code),
		Total:          status.Total,
		ProjectedTotal: status.ProjectedTotal,
		OldestAgeDays:  status.OldestAgeDays,
	}
	if status.Reason.Code != tablimit.ReasonNone {
		resp.Message = tablimit.RenderReason(status.Reason)
	}
	return resp
}

type adjustmentResponse struct {
	ID         int64           `json:"id"`
	MaterialID int64           `json:"material_id"`
	Delta      decimal.Decimal `json:"delta"`
	Reason     string          `json:"reason"`
	Memo       string          `json:"memo,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type materialResponse struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	IsActive  bool            `json:"is_active"`
}

func toMaterialResponse(m catalog.Material) materialResponse {
	return materialResponse{
		ID:        m.ID,
		SKU:       m.SKU,
		Name:      m.Name,
		UnitPrice: m.UnitPrice,
		IsActive:  m.IsActive,
	}
}

type stockResponse struct {
	MaterialID int64           `json:"material_id"`
	Stock      decimal.Decimal `json:"stock"`
}
