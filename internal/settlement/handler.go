package settlement

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/makehaven/storetab/internal/billing"
	"github.com/makehaven/storetab/internal/platform/httpx"
)

const (
	signatureHeader = "Stripe-Signature"
	maxPayloadBytes = 1 << 20
)

// WebhookHandler terminates gateway webhook deliveries.
type WebhookHandler struct {
	service   *Service
	secret    string
	tolerance time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewWebhookHandler(service *Service, secret string, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service:   service,
		secret:    secret,
		tolerance: DefaultTolerance,
		logger:    logger,
		now:       time.Now,
	}
}

func (h *WebhookHandler) MountRoutes(r chi.Router) {
	r.Post("/stripe", h.handleEvent)
}

// eventEnvelope mirrors the gateway's webhook JSON shape.
type eventEnvelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string            `json:"id"`
			Status   string            `json:"status"`
			Metadata map[string]string `json:"metadata"`
		} `json:"object"`
	} `json:"data"`
}

func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unable to read request body")
		return
	}

	// No secret means no delivery can ever verify; answer the same way
	// as a failed verification so probes learn nothing about the config.
	if h.secret == "" {
		h.logger.Error("settlement: webhook received with no secret configured")
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "signature verification failed")
		return
	}

	if err := VerifySignature(r.Header.Get(signatureHeader), payload, h.secret, h.tolerance, h.now()); err != nil {
		h.logger.Warn("settlement: rejected webhook", slog.String("error", err.Error()))
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "signature verification failed")
		return
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed event payload")
		return
	}

	event := Event{
		ID:             envelope.ID,
		Type:           envelope.Type,
		InvoiceID:      envelope.Data.Object.ID,
		SourceSystem:   envelope.Data.Object.Metadata[billing.MetadataSourceSystem],
		TransactionIDs: billing.ParseTransactionIDs(envelope.Data.Object.Metadata[billing.MetadataTabTransactions]),
	}
	if raw := envelope.Data.Object.Metadata[billing.MetadataAccountID]; raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			event.AccountID = id
		}
	}

	if err := h.service.Apply(r.Context(), event); err != nil {
		h.logger.Error("settlement: event apply failed",
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]string{"received": envelope.ID})
}
