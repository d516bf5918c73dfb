// Package store exposes the member-facing tab API consumed by kiosks and
// workstation agents. Callers authenticate with a shared API key; staff
// overrides additionally present the admin key.
package store

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/makehaven/storetab/internal/accounts"
	"github.com/makehaven/storetab/internal/catalog"
	"github.com/makehaven/storetab/internal/ledger"
	"github.com/makehaven/storetab/internal/platform/httpx"
	"github.com/makehaven/storetab/internal/tablimit"
)

const (
	apiKeyHeader   = "X-Store-API-Key"
	apiKeyQuery    = "api_key"
	adminKeyHeader = "X-Store-Admin-Key"
	accountHeader  = "X-Store-Account"
)

// HandlerParams wires a Handler.
type HandlerParams struct {
	Logger       *slog.Logger
	Accounts     *accounts.Service
	Catalog      *catalog.Service
	Ledger       *ledger.Service
	Limits       tablimit.Limits
	APIKey       string
	AdminKeyHash string
}

// Handler manages store tab endpoints.
type Handler struct {
	logger       *slog.Logger
	accounts     *accounts.Service
	catalog      *catalog.Service
	ledger       *ledger.Service
	limits       tablimit.Limits
	apiKey       string
	adminKeyHash string
	validator    *validator.Validate
	now          func() time.Time
}

// NewHandler builds Handler instance.
func NewHandler(params HandlerParams) *Handler {
	return &Handler{
		logger:       params.Logger,
		accounts:     params.Accounts,
		catalog:      params.Catalog,
		ledger:       params.Ledger,
		limits:       params.Limits,
		apiKey:       params.APIKey,
		adminKeyHash: params.AdminKeyHash,
		validator:    validator.New(),
		now:          time.Now,
	}
}

// MountRoutes registers store routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.requireAPIKey)

		r.Route("/tab", func(r chi.Router) {
			r.Get("/", h.getTab)
			r.Get("/status", h.tabStatus)
			r.Post("/items", h.addItem)
			r.Delete("/items/{id}", h.removeItem)
			r.Post("/checkout", h.checkout)
		})

		r.Post("/dispense", h.dispense)

		r.Route("/materials", func(r chi.Router) {
			r.Get("/", h.listMaterials)
			r.Get("/{id}/stock", h.materialStock)
		})
	})
}

// requireAPIKey gates every route on the shared caller key.
func (h *Handler) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := r.Header.Get(apiKeyHeader)
		if presented == "" {
			presented = r.URL.Query().Get(apiKeyQuery)
		}
		if h.apiKey == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.apiKey)) != 1 {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing or invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// adminAuthorized reports whether the request carries the staff key.
func (h *Handler) adminAuthorized(r *http.Request) bool {
	if h.adminKeyHash == "" {
		return false
	}
	presented := r.Header.Get(adminKeyHeader)
	if presented == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(h.adminKeyHash), []byte(presented)) == nil
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	quantity := decimal.NewFromInt(1)
	if req.Quantity != "" {
		parsed, err := decimal.NewFromString(req.Quantity)
		if err != nil || !parsed.IsPositive() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "quantity must be a positive number")
			return
		}
		quantity = parsed
	}

	account, material, ok := h.resolvePurchase(w, r, req.AccountID, req.MaterialID)
	if !ok {
		return
	}

	addition := quantity.Mul(material.UnitPrice)
	if _, ok := h.evaluateLimit(w, r, account, addition, req.SkipTerms); !ok {
		return
	}

	txn, err := h.ledger.AddItem(r.Context(), ledger.AddItemInput{
		OwnerID:    account.ID,
		MaterialID: material.ID,
		Quantity:   quantity,
		UnitAmount: material.UnitPrice,
		Memo:       req.Memo,
	})
	if err != nil {
		h.respondError(w, r, "add item", err)
		return
	}

	httpx.JSON(w, http.StatusCreated, toTransactionResponse(txn))
}

// checkout settles the zero-amount lines on the tab and returns what
// remains payable. The gateway charge itself happens later, on the
// monthly cycle.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	account, err := h.accounts.Get(r.Context(), req.AccountID)
	if err != nil {
		h.respondError(w, r, "checkout account", err)
		return
	}

	settled, err := h.ledger.SettleZeroAmounts(r.Context(), account.ID)
	if err != nil {
		h.respondError(w, r, "checkout settle", err)
		return
	}

	pending, err := h.ledger.ListPending(r.Context(), account.ID)
	if err != nil {
		h.respondError(w, r, "checkout pending", err)
		return
	}

	items := make([]transactionResponse, 0, len(pending))
	total := decimal.Zero
	for _, txn := range pending {
		if !txn.UnitAmount.IsPositive() {
			continue
		}
		items = append(items, toTransactionResponse(txn))
		total = total.Add(txn.LineTotal())
	}

	httpx.JSON(w, http.StatusOK, checkoutResponse{
		AccountID:    account.ID,
		SettledItems: settled,
		Items:        items,
		Total:        total,
	})
}

func (h *Handler) getTab(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountIDParam(w, r)
	if !ok {
		return
	}

	status := r.URL.Query().Get("status")
	if status == "" {
		status = string(ledger.StatusPending)
	}

	var txns []ledger.Transaction
	var err error
	switch status {
	case string(ledger.StatusPending):
		txns, err = h.ledger.ListPending(r.Context(), accountID)
	case string(ledger.StatusPaid):
		txns, err = h.ledger.ListPaid(r.Context(), accountID)
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "status must be pending or paid")
		return
	}
	if err != nil {
		h.respondError(w, r, "list tab", err)
		return
	}

	items := make([]transactionResponse, 0, len(txns))
	total := decimal.Zero
	for _, txn := range txns {
		items = append(items, toTransactionResponse(txn))
		if txn.UnitAmount.IsPositive() {
			total = total.Add(txn.LineTotal())
		}
	}

	httpx.JSON(w, http.StatusOK, tabResponse{
		AccountID: accountID,
		Status:    status,
		Items:     items,
		Total:     total,
	})
}

func (h *Handler) tabStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.accountIDParam(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.Get(r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, "tab status account", err)
		return
	}
	pending, err := h.ledger.ListPending(r.Context(), account.ID)
	if err != nil {
		h.respondError(w, r, "tab status pending", err)
		return
	}

	// An optional pending_addition lets callers probe whether a purchase
	// of that amount would be allowed.
	addition := decimal.Zero
	if raw := r.URL.Query().Get("pending_addition"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "pending_addition must be a non-negative number")
			return
		}
		addition = parsed
	}

	status := tablimit.Evaluate(tablimit.Input{
		Account:         accountState(account),
		Pending:         pending,
		PendingAddition: addition,
		Limits:          h.limits,
		Now:             h.now(),
	})
	httpx.JSON(w, http.StatusOK, toTabStatusResponse(status))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	transactionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || transactionID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "transaction id must be a positive integer")
		return
	}

	requester := ledger.Requester{Admin: h.adminAuthorized(r)}
	raw := r.Header.Get(accountHeader)
	if raw == "" {
		raw = r.URL.Query().Get("account_id")
	}
	if raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "account_id must be a positive integer")
			return
		}
		requester.AccountID = id
	}
	if requester.AccountID == 0 && !requester.Admin {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "removal requires the owning account or the staff key")
		return
	}

	if err := h.ledger.RemoveItem(r.Context(), transactionID, requester); err != nil {
		h.respondError(w, r, "remove item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) dispense(w http.ResponseWriter, r *http.Request) {
	if !h.adminAuthorized(r) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "dispensing requires the staff key")
		return
	}

	var req dispenseRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	delta, err := decimal.NewFromString(req.Delta)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "delta must be a number")
		return
	}

	adjustment, err := h.ledger.RecordAdjustment(r.Context(), ledger.AdjustmentInput{
		MaterialID: req.MaterialID,
		Delta:      delta,
		Reason:     ledger.AdjustmentReason(req.Reason),
		Memo:       req.Memo,
	})
	if err != nil {
		h.respondError(w, r, "dispense", err)
		return
	}

	httpx.JSON(w, http.StatusCreated, adjustmentResponse{
		ID:         adjustment.ID,
		MaterialID: adjustment.MaterialID,
		Delta:      adjustment.Delta,
		Reason:     string(adjustment.Reason),
		Memo:       adjustment.Memo,
		CreatedAt:  adjustment.CreatedAt,
	})
}

func (h *Handler) listMaterials(w http.ResponseWriter, r *http.Request) {
	filters := catalog.ListFilters{Search: r.URL.Query().Get("search")}
	if raw := r.URL.Query().Get("active"); raw != "" {
		active := raw == "true" || raw == "1"
		filters.IsActive = &active
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			filters.Limit = limit
		}
	}

	materials, err := h.catalog.List(r.Context(), filters)
	if err != nil {
		h.respondError(w, r, "list materials", err)
		return
	}
	out := make([]materialResponse, 0, len(materials))
	for _, m := range materials {
		out = append(out, toMaterialResponse(m))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) materialStock(w http.ResponseWriter, r *http.Request) {
	materialID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || materialID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "material id must be a positive integer")
		return
	}
	if _, err := h.catalog.Get(r.Context(), materialID); err != nil {
		h.respondError(w, r, "material stock", err)
		return
	}
	stock, err := h.ledger.StockLevel(r.Context(), materialID)
	if err != nil {
		h.respondError(w, r, "material stock level", err)
		return
	}
	httpx.JSON(w, http.StatusOK, stockResponse{MaterialID: materialID, Stock: stock})
}

// resolvePurchase loads the account and material for a purchase request,
// writing the error response itself when either lookup fails.
func (h *Handler) resolvePurchase(w http.ResponseWriter, r *http.Request, accountID, materialID int64) (accounts.Account, catalog.Material, bool) {
	account, err := h.accounts.Get(r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, "purchase account", err)
		return accounts.Account{}, catalog.Material{}, false
	}
	material, err := h.catalog.Get(r.Context(), materialID)
	if err != nil {
		h.respondError(w, r, "purchase material", err)
		return accounts.Account{}, catalog.Material{}, false
	}
	if !material.IsActive {
		httpx.Problem(w, http.StatusConflict, "Invalid State", "material is not currently for sale")
		return accounts.Account{}, catalog.Material{}, false
	}
	return account, material, true
}

// evaluateLimit runs the tab-limit rules for a proposed addition and
// writes the 403 itself when the tab is blocked.
func (h *Handler) evaluateLimit(w http.ResponseWriter, r *http.Request, account accounts.Account, addition decimal.Decimal, skipTerms bool) (tablimit.Status, bool) {
	pending, err := h.ledger.ListPending(r.Context(), account.ID)
	if err != nil {
		h.respondError(w, r, "limit pending", err)
		return tablimit.Status{}, false
	}

	status := tablimit.Evaluate(tablimit.Input{
		Account:         accountState(account),
		Pending:         pending,
		PendingAddition: addition,
		SkipTerms:       skipTerms,
		Limits:          h.limits,
		Now:             h.now(),
	})
	if !status.Eligible || status.Blocked {
		detail := "tab use is not available for this account"
		if status.Reason.Code != tablimit.ReasonNone {
			detail = tablimit.RenderReason(status.Reason)
		}
		h.logger.Info("tab use refused",
			slog.Int64("account_id", account.ID),
			slog.String("reason", string(status.Reason.Code)))
		httpx.Problem(w, http.StatusForbidden, "Tab Unavailable", detail)
		return status, false
	}
	return status, true
}

func accountState(account accounts.Account) tablimit.AccountState {
	return tablimit.AccountState{
		Authenticated:     account.IsActive,
		TabBlocked:        account.TabBlocked,
		TermsAccepted:     account.TermsAccepted(),
		HasStripeCustomer: account.HasStripeCustomer(),
	}
}

func (h *Handler) accountIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("account_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "account_id must be a positive integer")
		return 0, false
	}
	return id, true
}

// respondError maps domain errors onto the shared HTTP vocabulary.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, accounts.ErrAccountNotFound),
		errors.Is(err, catalog.ErrMaterialNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, ledger.ErrUnknownReference):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ledger.ErrNotOwner):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrForbidden, err))
	case errors.Is(err, ledger.ErrNotPending):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrInvalidState, err))
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidReason),
		errors.Is(err, ledger.ErrZeroDelta):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
