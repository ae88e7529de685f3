package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/turnia/turnia-platform/pkg/logging"
)

// bookingLifecycle applies a payment notification to the owning booking.
// bookingID is uuid.Nil when the notification URL carried no reference; the
// implementation then resolves the booking from the payment's
// external_reference.
type bookingLifecycle interface {
	ApplyPaymentNotification(ctx context.Context, bookingID uuid.UUID, providerPaymentID string) error
}

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, provider, eventID string) (bool, error)
}

// WebhookHandler receives Mercado Pago payment notifications.
//
// It always acknowledges with 200 once the payload parses: returning an error
// status makes the provider retry aggressively, and a broken booking is a
// matter for server-side logs, not for the provider.
type WebhookHandler struct {
	lifecycle bookingLifecycle
	processed processedTracker
	logger    *logging.Logger
}

func NewWebhookHandler(lifecycle bookingLifecycle, processed processedTracker, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		lifecycle: lifecycle,
		processed: processed,
		logger:    logger,
	}
}

type webhookEvent struct {
	ID   json.Number `json:"id"`
	Type string      `json:"type"`
	Data struct {
		ID json.Number `json:"id"`
	} `json:"data"`
}

// Handle processes POST /webhooks/mercadopago?bookingId=...
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		h.logger.Error("failed to decode mercadopago event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if evt.Type != "payment" || evt.Data.ID.String() == "" {
		// Merchant order and test pings are acknowledged and ignored.
		w.WriteHeader(http.StatusOK)
		return
	}
	paymentID := evt.Data.ID.String()

	// Dedup on the notification id. The payment id cannot be the key: the
	// provider sends a new notification with the same payment id on every
	// status change. When the notification id is missing, the lifecycle's
	// own payment-id check still guarantees idempotent processing.
	eventID := ""
	if evt.ID.String() != "" {
		eventID = fmt.Sprintf("notification:%s", evt.ID.String())
		done, err := h.processed.AlreadyProcessed(r.Context(), "mercadopago", eventID)
		if err != nil {
			// Fail open: a broken dedup store must not drop a payment the
			// provider will not re-send. The lifecycle's stored-payment-id
			// and terminal-state checks keep reprocessing idempotent.
			h.logger.Error("processed lookup failed", "error", err, "payment_id", paymentID)
		} else if done {
			w.WriteHeader(http.StatusOK)
			return
		}
	}

	var bookingID uuid.UUID
	if ref := r.URL.Query().Get("bookingId"); ref != "" {
		parsed, err := uuid.Parse(ref)
		if err != nil {
			h.logger.Warn("webhook carried malformed booking reference", "value", ref)
		} else {
			bookingID = parsed
		}
	}

	if err := h.lifecycle.ApplyPaymentNotification(r.Context(), bookingID, paymentID); err != nil {
		// Deliberate 200: log and investigate server-side instead of
		// triggering a provider retry storm.
		h.logger.Error("payment notification processing failed",
			"error", err, "payment_id", paymentID, "booking_id", bookingID)
		w.WriteHeader(http.StatusOK)
		return
	}

	if eventID != "" {
		if _, err := h.processed.MarkProcessed(r.Context(), "mercadopago", eventID); err != nil {
			h.logger.Error("failed to record processed event", "error", err, "payment_id", paymentID)
		}
	}
	w.WriteHeader(http.StatusOK)
}
