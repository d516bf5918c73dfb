package store

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/makehaven/storetab/internal/accounts"
	"github.com/makehaven/storetab/internal/catalog"
	"github.com/makehaven/storetab/internal/ledger"
	"github.com/makehaven/storetab/internal/tablimit"
)

const (
	testAPIKey   = "kiosk-key"
	testAdminKey = "staff-key"
)

type memLedgerRepo struct {
	nextTxn int64
	nextAdj int64
	txns    map[int64]ledger.Transaction
	adjs    []ledger.Adjustment
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{txns: map[int64]ledger.Transaction{}}
}

func (m *memLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memLedgerRepo) InsertTransaction(_ context.Context, txn ledger.Transaction) (int64, error) {
	m.nextTxn++
	txn.ID = m.nextTxn
	m.txns[txn.ID] = txn
	return txn.ID, nil
}

func (m *memLedgerRepo) InsertAdjustment(_ context.Context, adj ledger.Adjustment) (int64, error) {
	m.nextAdj++
	adj.ID = m.nextAdj
	m.adjs = append(m.adjs, adj)
	return adj.ID, nil
}

func (m *memLedgerRepo) GetTransactionForUpdate(_ context.Context, id int64) (ledger.Transaction, error) {
	txn, ok := m.txns[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	return txn, nil
}

func (m *memLedgerRepo) UpdateStatus(_ context.Context, id int64, status ledger.Status) error {
	txn, ok := m.txns[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	txn.Status = status
	txn.UpdatedAt = time.Now().UTC()
	m.txns[id] = txn
	return nil
}

func (m *memLedgerRepo) GetTransaction(ctx context.Context, id int64) (ledger.Transaction, error) {
	return m.GetTransactionForUpdate(ctx, id)
}

func (m *memLedgerRepo) ListByOwnerStatus(_ context.Context, ownerID int64, status ledger.Status) ([]ledger.Transaction, error) {
	var out []ledger.Transaction
	for _, txn := range m.txns {
		if txn.OwnerID == ownerID && txn.Status == status {
			out = append(out, txn)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memLedgerRepo) ListUnbilledPending(ctx context.Context, ownerID int64) ([]ledger.Transaction, error) {
	pending, _ := m.ListByOwnerStatus(ctx, ownerID, ledger.StatusPending)
	var out []ledger.Transaction
	for _, txn := range pending {
		if txn.InvoiceID == "" {
			out = append(out, txn)
		}
	}
	return out, nil
}

func (m *memLedgerRepo) MarkPaid(_ context.Context, ids []int64, invoiceID string) ([]int64, error) {
	var settled []int64
	for _, id := range ids {
		txn, ok := m.txns[id]
		if !ok || txn.Status != ledger.StatusPending {
			continue
		}
		txn.Status = ledger.StatusPaid
		if invoiceID != "" {
			txn.InvoiceID = invoiceID
		}
		m.txns[id] = txn
		settled = append(settled, id)
	}
	return settled, nil
}

func (m *memLedgerRepo) StampInvoice(_ context.Context, ids []int64, invoiceID string) error {
	for _, id := range ids {
		if txn, ok := m.txns[id]; ok && txn.InvoiceID == "" {
			txn.InvoiceID = invoiceID
			m.txns[id] = txn
		}
	}
	return nil
}

func (m *memLedgerRepo) ReplaceInvoice(_ context.Context, ids []int64, invoiceID string) error {
	for _, id := range ids {
		if txn, ok := m.txns[id]; ok {
			txn.InvoiceID = invoiceID
			m.txns[id] = txn
		}
	}
	return nil
}

func (m *memLedgerRepo) StockLevel(_ context.Context, materialID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, adj := range m.adjs {
		if adj.MaterialID == materialID {
			total = total.Add(adj.Delta)
		}
	}
	return total, nil
}

func (m *memLedgerRepo) RecordAdjustment(ctx context.Context, adj ledger.Adjustment) (ledger.Adjustment, error) {
	id, _ := m.InsertAdjustment(ctx, adj)
	adj.ID = id
	return adj, nil
}

type memAccountsRepo struct {
	accounts map[int64]accounts.Account
}

func (m *memAccountsRepo) GetAccount(_ context.Context, id int64) (accounts.Account, error) {
	account, ok := m.accounts[id]
	if !ok {
		return accounts.Account{}, accounts.ErrAccountNotFound
	}
	return account, nil
}

func (m *memAccountsRepo) ListAutoChargeCandidates(context.Context) ([]accounts.Account, error) {
	return nil, nil
}

func (m *memAccountsRepo) SetTabBlocked(_ context.Context, id int64, blocked bool) error {
	account, ok := m.accounts[id]
	if !ok {
		return accounts.ErrAccountNotFound
	}
	account.TabBlocked = blocked
	m.accounts[id] = account
	return nil
}

func (m *memAccountsRepo) AcceptTerms(_ context.Context, id int64, at time.Time) error {
	account, ok := m.accounts[id]
	if !ok {
		return accounts.ErrAccountNotFound
	}
	account.TermsAcceptedAt = &at
	m.accounts[id] = account
	return nil
}

func (m *memAccountsRepo) SetStripeCustomer(_ context.Context, id int64, customerID string) error {
	account, ok := m.accounts[id]
	if !ok {
		return accounts.ErrAccountNotFound
	}
	account.StripeCustomerID = customerID
	m.accounts[id] = account
	return nil
}

type memCatalogRepo struct {
	materials map[int64]catalog.Material
}

func (m *memCatalogRepo) Get(_ context.Context, id int64) (catalog.Material, error) {
	material, ok := m.materials[id]
	if !ok {
		return catalog.Material{}, catalog.ErrMaterialNotFound
	}
	return material, nil
}

func (m *memCatalogRepo) List(_ context.Context, _ catalog.ListFilters) ([]catalog.Material, error) {
	var out []catalog.Material
	for _, material := range m.materials {
		out = append(out, material)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fixture struct {
	router http.Handler
	ledger *memLedgerRepo
	accts  *memAccountsRepo
}

func accepted() *time.Time {
	at := time.Date(2026, time.January, 5, 10, 0, 0, 0, time.UTC)
	return &at
}

func newFixture(t *testing.T, limits tablimit.Limits) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledgerRepo := newMemLedgerRepo()
	acctRepo := &memAccountsRepo{accounts: map[int64]accounts.Account{
		1: {ID: 1, IsActive: true, TermsAcceptedAt: accepted(), StripeCustomerID: "cus_1"},
		2: {ID: 2, IsActive: true, TermsAcceptedAt: accepted()},
		3: {ID: 3, IsActive: true, TabBlocked: true, TermsAcceptedAt: accepted()},
		4: {ID: 4, IsActive: true},
	}}
	catRepo := &memCatalogRepo{materials: map[int64]catalog.Material{
		7: {ID: 7, SKU: "PLY-12", Name: "Plywood", UnitPrice: decimal.RequireFromString("3.50"), IsActive: true},
		8: {ID: 8, SKU: "SCRAP", Name: "Scrap Bin", UnitPrice: decimal.Zero, IsActive: true},
		9: {ID: 9, SKU: "OLD", Name: "Discontinued", UnitPrice: decimal.RequireFromString("1.00"), IsActive: false},
	}}

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminKey), bcrypt.MinCost)
	require.NoError(t, err)

	handler := NewHandler(HandlerParams{
		Logger:       logger,
		Accounts:     accounts.NewService(acctRepo, logger),
		Catalog:      catalog.NewService(catRepo),
		Ledger:       ledger.NewService(ledgerRepo, logger),
		Limits:       limits,
		APIKey:       testAPIKey,
		AdminKeyHash: string(hash),
	})

	router := chi.NewRouter()
	router.Route("/api/v1", func(r chi.Router) {
		handler.MountRoutes(r)
	})
	return &fixture{router: router, ledger: ledgerRepo, accts: acctRepo}
}

func (f *fixture) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(apiKeyHeader, testAPIKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func defaultLimits() tablimit.Limits {
	return tablimit.Limits{RequireTerms: true}
}

func TestRoutesRequireAPIKey(t *testing.T) {
	f := newFixture(t, defaultLimits())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tab?account_id=1", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tab?account_id=1", nil)
	req.Header.Set(apiKeyHeader, "wrong-key")
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tab?account_id=1&api_key="+testAPIKey, nil)
	rec = httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAddItemRecordsTransactionAndDeductsStock(t *testing.T) {
	f := newFixture(t, defaultLimits())

	rec := f.do(http.MethodPost, "/api/v1/tab/items", addItemRequest{
		AccountID: 1, MaterialID: 7, Quantity: "2",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp transactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "pending", resp.Status)
	require.True(t, resp.LineTotal.Equal(decimal.RequireFromString("7.00")))

	stock := f.do(http.MethodGet, "/api/v1/materials/7/stock", nil, nil)
	require.Equal(t, http.StatusOK, stock.Code)
	var level stockResponse
	require.NoError(t, json.Unmarshal(stock.Body.Bytes(), &level))
	require.True(t, level.Stock.Equal(decimal.RequireFromString("-2")))
}

func TestAddItemRejectsUnknownReferences(t *testing.T) {
	f := newFixture(t, defaultLimits())

	rec := f.do(http.MethodPost, "/api/v1/tab/items", addItemRequest{AccountID: 99, MaterialID: 7, Quantity: "1"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/tab/items", addItemRequest{AccountID: 1, MaterialID: 99, Quantity: "1"}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/tab/items", addItemRequest{AccountID: 1, MaterialID: 9, Quantity: "1"}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/tab/items", addItemRequest{AccountID: 1, MaterialID: 7, Quantity: "-1"}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddItemBlockedAccountRefused(t *testing.T) {
	f := newFixture(t, defaultLimits())

	rec := f.do(http.MethodPost, "/api/v1/tab/items", addItemRequest{AccountID: 3, MaterialID: 7, Quantity: "1"}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "payment")
	require.Empty(t, f.ledger.txns)
}

func TestAddItemTermsGateAndSkip(t *testing.T) {
	f := newFixture(t, defaultLimits())

	rec := f.do(http.MethodPost, "/api/v1/tab/items", addItemRequest{AccountID: 4, MaterialID: 7, Quantity: "1"}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "terms")

	rec = f.do(http.MethodPost, "/api/v1/tab/items", addItemRequest{AccountID: 4, MaterialID: 7, Quantity: "1", SkipTerms: true}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestAddItemOverLimitRefused(t *testing.T) {
	limits := defaultLimits()
	limits.MaxAmount = decimal.RequireFromString("5.00")
	f := newFixture(t, limits)

	rec := f.do(http.MethodPost, "/api/v1/tab/items", addItemRequest{AccountID: 1, MaterialID: 7, Quantity: "1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/tab/items", addItemRequest{AccountID: 1, MaterialID: 7, Quantity: "1"}, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "limit")
	require.Len(t, f.ledger.txns, 1)
}

func TestCheckoutSettlesZeroAmountLines(t *testing.T) {
	f := newFixture(t, defaultLimits())

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/tab/items",
		addItemRequest{AccountID: 1, MaterialID: 7, Quantity: "2"}, nil).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/tab/items",
		addItemRequest{AccountID: 1, MaterialID: 8, Quantity: "1"}, nil).Code)

	rec := f.do(http.MethodPost, "/api/v1/tab/checkout", checkoutRequest{AccountID: 1}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp checkoutResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	// The free scrap line settled; only the plywood stays payable.
	require.Len(t, resp.SettledItems, 1)
	require.Len(t, resp.Items, 1)
	require.True(t, resp.Total.Equal(decimal.RequireFromString("7.00")))
	require.Equal(t, ledger.StatusPaid, f.ledger.txns[resp.SettledItems[0]].Status)
}

func TestCheckoutUnknownAccount(t *testing.T) {
	f := newFixture(t, defaultLimits())

	rec := f.do(http.MethodPost, "/api/v1/tab/checkout", checkoutRequest{AccountID: 99}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTabListsPendingWithTotal(t *testing.T) {
	f := newFixture(t, defaultLimits())

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/tab/items",
		addItemRequest{AccountID: 1, MaterialID: 7, Quantity: "2"}, nil).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/tab/items",
		addItemRequest{AccountID: 1, MaterialID: 8, Quantity: "1"}, nil).Code)

	rec := f.do(http.MethodGet, "/api/v1/tab?account_id=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp tabResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	// The zero-amount scrap line never contributes to the balance.
	require.True(t, resp.Total.Equal(decimal.RequireFromString("7.00")))
}

func TestRemoveItemOwnerAndAdmin(t *testing.T) {
	f := newFixture(t, defaultLimits())

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/tab/items",
		addItemRequest{AccountID: 1, MaterialID: 7, Quantity: "2"}, nil).Code)

	// A different member may not remove it.
	rec := f.do(http.MethodDelete, "/api/v1/tab/items/1?account_id=2", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	// The owner may.
	rec = f.do(http.MethodDelete, "/api/v1/tab/items/1?account_id=1", nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Removal restocked the material.
	level, err := f.ledger.StockLevel(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, level.IsZero())

	// Removing again conflicts; the record is no longer pending.
	rec = f.do(http.MethodDelete, "/api/v1/tab/items/1?account_id=1", nil, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	// Staff can remove another member's pending item.
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/v1/tab/items",
		addItemRequest{AccountID: 1, MaterialID: 7, Quantity: "1"}, nil).Code)
	rec = f.do(http.MethodDelete, "/api/v1/tab/items/2", nil, map[string]string{adminKeyHeader: testAdminKey})
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestDispenseRequiresStaffKey(t *testing.T) {
	f := newFixture(t, defaultLimits())

	body := dispenseRequest{MaterialID: 7, Delta: "-3", Reason: "workshop_supplies", Memo: "intro class"}
	rec := f.do(http.MethodPost, "/api/v1/dispense", body, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/v1/dispense", body, map[string]string{adminKeyHeader: testAdminKey})
	require.Equal(t, http.StatusCreated, rec.Code)

	level, err := f.ledger.StockLevel(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, level.Equal(decimal.RequireFromString("-3")))

	bad := dispenseRequest{MaterialID: 7, Delta: "-1", Reason: "because"}
	rec = f.do(http.MethodPost, "/api/v1/dispense", bad, map[string]string{adminKeyHeader: testAdminKey})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTabStatusReflectsEligibility(t *testing.T) {
	limits := defaultLimits()
	limits.RequireStripe = true
	f := newFixture(t, limits)

	rec := f.do(http.MethodGet, "/api/v1/tab/status?account_id=1", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ok tabStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ok))
	require.True(t, ok.Eligible)

	rec = f.do(http.MethodGet, "/api/v1/tab/status?account_id=2", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var blocked tabStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &blocked))
	require.False(t, blocked.Eligible)
	require.Equal(t, string(tablimit.ReasonGatewayAccountRequired), blocked.ReasonCode)
	require.NotEmpty(t, blocked.Message)
}

func TestListMaterials(t *testing.T) {
	f := newFixture(t, defaultLimits())

	rec := f.do(http.MethodGet, "/api/v1/materials", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out []materialResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 3)
	require.Equal(t, "PLY-12", out[0].SKU)
}
