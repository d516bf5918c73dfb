package stripe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/makehaven/storetab/internal/billing"
)

type recordedRequest struct {
	path string
	form map[string]string
}

func newGatewayServer(t *testing.T, status int, response string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NotEmpty(t, r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseForm())
		form := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			form[key] = r.PostForm.Get(key)
		}
		seen = append(seen, recordedRequest{path: r.URL.Path, form: form})
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestCreateInvoiceItemEncodesForm(t *testing.T) {
	srv, seen := newGatewayServer(t, http.StatusOK, `{"id":"ii_1","status":""}`)
	client := NewClientWithBaseURL("sk_test_123", srv.URL)

	err := client.CreateInvoiceItem(context.Background(), billing.InvoiceItem{
		CustomerID:  "cus_9",
		AmountCents: 700,
		Currency:    "usd",
		Description: "2 x Plywood",
		Metadata: map[string]string{
			billing.MetadataMaterialID: "7",
			billing.MetadataQuantity:   "2",
		},
	})
	require.NoError(t, err)

	require.Len(t, *seen, 1)
	got := (*seen)[0]
	require.Equal(t, "/invoiceitems", got.path)
	require.Equal(t, "cus_9", got.form["customer"])
	require.Equal(t, "700", got.form["amount"])
	require.Equal(t, "usd", got.form["currency"])
	require.Equal(t, "2 x Plywood", got.form["description"])
	require.Equal(t, "7", got.form["metadata["+billing.MetadataMaterialID+"]"])
	require.Equal(t, "2", got.form["metadata["+billing.MetadataQuantity+"]"])
}

func TestCreateInvoiceSetsAutoCollection(t *testing.T) {
	srv, seen := newGatewayServer(t, http.StatusOK, `{"id":"in_1","status":"draft"}`)
	client := NewClientWithBaseURL("sk_test_123", srv.URL)

	invoice, err := client.CreateInvoice(context.Background(), billing.InvoiceRequest{
		CustomerID:  "cus_9",
		Description: "Makerspace Store Tab (2026-03)",
	})
	require.NoError(t, err)
	require.Equal(t, "in_1", invoice.ID)
	require.Equal(t, "draft", invoice.Status)

	got := (*seen)[0]
	require.Equal(t, "/invoices", got.path)
	require.Equal(t, "charge_automatically", got.form["collection_method"])
	require.Equal(t, "true", got.form["auto_advance"])
}

func TestPayInvoiceOffSession(t *testing.T) {
	srv, seen := newGatewayServer(t, http.StatusOK, `{"id":"in_1","status":"paid"}`)
	client := NewClientWithBaseURL("sk_test_123", srv.URL)

	invoice, err := client.PayInvoice(context.Background(), "in_1")
	require.NoError(t, err)
	require.Equal(t, billing.InvoiceStatusPaid, invoice.Status)

	got := (*seen)[0]
	require.Equal(t, "/invoices/in_1/pay", got.path)
	require.Equal(t, "true", got.form["off_session"])
}

func TestErrorResponseSurfacesMessage(t *testing.T) {
	srv, _ := newGatewayServer(t, http.StatusPaymentRequired, `{"error":{"message":"Your card was declined."}}`)
	client := NewClientWithBaseURL("sk_test_123", srv.URL)

	_, err := client.PayInvoice(context.Background(), "in_1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "card was declined")
	require.Contains(t, err.Error(), "402")
}

func TestUnconfiguredClientRefusesCalls(t *testing.T) {
	client := NewClient("")
	require.False(t, client.Available())

	_, err := client.CreateInvoice(context.Background(), billing.InvoiceRequest{CustomerID: "cus_9"})
	require.ErrorIs(t, err, billing.ErrGatewayUnavailable)
}
