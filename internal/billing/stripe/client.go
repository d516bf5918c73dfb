// Package stripe implements the billing gateway against the Stripe REST API.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/makehaven/storetab/internal/billing"
)

const defaultBaseURL = "https://api.stripe.com/v1"

// Client wraps the Stripe invoicing endpoints used for tab settlement.
// A client without an API key reports unavailable and refuses calls.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithBaseURL constructs a client against a non-default API
// host. Used by tests.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

var _ billing.Gateway = (*Client)(nil)

// Available reports whether the gateway is configured.
func (c *Client) Available() bool {
	return c != nil && c.apiKey != ""
}

// CreateInvoiceItem adds one pending line item to the customer.
func (c *Client) CreateInvoiceItem(ctx context.Context, item billing.InvoiceItem) error {
	form := url.Values{}
	form.Set("customer", item.CustomerID)
	form.Set("amount", strconv.FormatInt(item.AmountCents, 10))
	form.Set("currency", item.Currency)
	form.Set("description", item.Description)
	encodeMetadata(form, item.Metadata)

	_, err := c.post(ctx, "/invoiceitems", form)
	return err
}

// CreateInvoice creates a draft invoice collecting the customer's pending
// line items.
func (c *Client) CreateInvoice(ctx context.Context, req billing.InvoiceRequest) (billing.Invoice, error) {
	form := url.Values{}
	form.Set("customer", req.CustomerID)
	form.Set("collection_method", "charge_automatically")
	form.Set("auto_advance", "true")
	form.Set("description", req.Description)
	encodeMetadata(form, req.Metadata)

	return c.post(ctx, "/invoices", form)
}

// FinalizeInvoice moves a draft invoice into the open state.
func (c *Client) FinalizeInvoice(ctx context.Context, invoiceID string) (billing.Invoice, error) {
	return c.post(ctx, "/invoices/"+url.PathEscape(invoiceID)+"/finalize", url.Values{})
}

// PayInvoice attempts immediate off-session payment.
func (c *Client) PayInvoice(ctx context.Context, invoiceID string) (billing.Invoice, error) {
	form := url.Values{}
	form.Set("off_session", "true")
	return c.post(ctx, "/invoices/"+url.PathEscape(invoiceID)+"/pay", form)
}

type invoicePayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, form url.Values) (billing.Invoice, error) {
	if !c.Available() {
		return billing.Invoice{}, billing.ErrGatewayUnavailable
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return billing.Invoice{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("stripe: %s: %w", path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("stripe: read response: %w", err)
	}

	var payload invoicePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return billing.Invoice{}, fmt.Errorf("stripe: decode response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := "request failed"
		if payload.Error != nil && payload.Error.Message != "" {
			msg = payload.Error.Message
		}
		return billing.Invoice{}, fmt.Errorf("stripe: %s returned %d: %s", path, resp.StatusCode, msg)
	}

	return billing.Invoice{ID: payload.ID, Status: payload.Status}, nil
}

func encodeMetadata(form url.Values, metadata map[string]string) {
	for key, value := range metadata {
		form.Set("metadata["+key+"]", value)
	}
}
