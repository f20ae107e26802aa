/**
 * @description
 * This file contains the HTTP handler for incoming transfer status webhooks
 * from the payment provider. It is the real-time entry point for terminal
 * transfer states: the handler authenticates the delivery via HMAC signature,
 * normalizes the payload into a TransferStatusEvent, and publishes it to the
 * payout events exchange for the status consumer to apply.
 *
 * Key features:
 * - Security: Validates the HMAC-SHA256 signature of the raw body.
 * - Decoupling: The ledger update happens in the consumer, so webhook
 *   response latency never depends on database contention.
 * - Dedup: Recently seen delivery ids are dropped before publishing.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: For signature validation.
 * - encoding/json, io, net/http: For payload handling.
 * - pkg/rabbitmq: For publishing normalized events.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/crescendo/payout-service/internal/domain"
	"github.com/crescendo/payout-service/pkg/rabbitmq"
)

const webhookDedupWindow = 10 * time.Minute

// TransferWebhookHandler processes incoming transfer status webhooks.
type TransferWebhookHandler struct {
	producer        rabbitmq.Publisher
	secret          string
	processedEvents map[string]time.Time
	mutex           sync.Mutex
}

// NewTransferWebhookHandler creates a new handler for the webhook endpoint.
func NewTransferWebhookHandler(producer rabbitmq.Publisher, secret string) *TransferWebhookHandler {
	return &TransferWebhookHandler{
		producer:        producer,
		secret:          secret,
		processedEvents: make(map[string]time.Time),
	}
}

// transferWebhookPayload mirrors the provider's webhook delivery shape.
type transferWebhookPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       struct {
		Resource struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		} `json:"resource"`
		CurrentState  string `json:"current_state"`
		PreviousState string `json:"previous_state"`
		Reason        string `json:"reason"`
	} `json:"data"`
}

// ServeHTTP implements the http.Handler interface.
func (h *TransferWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("level=error component=webhook msg=\"failed to read webhook body\" err=%v", err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if !h.isValidSignature(r.Header.Get("X-Signature-SHA256"), body) {
		log.Printf("level=warn component=webhook msg=\"rejected webhook with invalid signature\" remote=%s", r.RemoteAddr)
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var payload transferWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("level=warn component=webhook msg=\"failed to decode webhook payload\" err=%v", err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	if payload.Data.CurrentState == "" {
		log.Printf("level=warn component=webhook msg=\"webhook missing current state\" event_id=%s", payload.EventID)
		http.Error(w, "Missing transfer state", http.StatusBadRequest)
		return
	}

	if payload.EventID != "" && h.alreadyProcessed(payload.EventID) {
		log.Printf("level=info component=webhook msg=\"duplicate webhook delivery; acknowledging\" event_id=%s", payload.EventID)
		w.WriteHeader(http.StatusOK)
		return
	}

	transferID := formatTransferID(payload.Data.Resource.ID)
	occurredAt := payload.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	event := domain.TransferStatusEvent{
		WiseTransferID: transferID,
		State:          payload.Data.CurrentState,
		Reason:         payload.Data.Reason,
		OccurredAt:     occurredAt,
	}

	routingKey := "transfer.status." + payload.Data.CurrentState
	if err := h.producer.Publish(r.Context(), rabbitmq.PayoutEventsExchange, routingKey, event); err != nil {
		log.Printf("level=error component=webhook msg=\"failed to publish transfer status event\" event_id=%s err=%v", payload.EventID, err)
		// Forget the delivery so the provider's retry is not deduplicated,
		// then 500 so it retries.
		h.forget(payload.EventID)
		http.Error(w, "Failed to process event", http.StatusInternalServerError)
		return
	}

	log.Printf("level=info component=webhook msg=\"transfer status event published\" wise_transfer_id=%s state=%s routing_key=%s", transferID, payload.Data.CurrentState, routingKey)
	w.WriteHeader(http.StatusOK)
}

// isValidSignature verifies the HMAC-SHA256 signature over the raw body.
func (h *TransferWebhookHandler) isValidSignature(signature string, body []byte) bool {
	if h.secret == "" {
		// Unsigned mode is only for local development.
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// alreadyProcessed records the event id and reports whether it was seen
// within the dedup window. Expired entries are pruned on each call.
func (h *TransferWebhookHandler) alreadyProcessed(eventID string) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	now := time.Now()
	for id, seen := range h.processedEvents {
		if now.Sub(seen) > webhookDedupWindow {
			delete(h.processedEvents, id)
		}
	}

	if _, seen := h.processedEvents[eventID]; seen {
		return true
	}
	h.processedEvents[eventID] = now
	return false
}

func (h *TransferWebhookHandler) forget(eventID string) {
	if eventID == "" {
		return
	}
	h.mutex.Lock()
	delete(h.processedEvents, eventID)
	h.mutex.Unlock()
}

func formatTransferID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
