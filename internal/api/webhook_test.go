package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crescendo/payout-service/internal/domain"
)

type publisherStub struct {
	published  []interface{}
	routingKey string
	exchange   string
	failNext   bool
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	if p.failNext {
		p.failNext = false
		return context.DeadlineExceeded
	}
	p.exchange = exchange
	p.routingKey = routingKey
	p.published = append(p.published, body)
	return nil
}

func (p *publisherStub) Close() {}

const testWebhookSecret = "whsec_test"

func signBody(t *testing.T, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func webhookBody(t *testing.T, transferID int64, state, reason string) []byte {
	t.Helper()
	payload := map[string]interface{}{
		"event_id":   "evt_123",
		"event_type": "transfers#state-change",
		"data": map[string]interface{}{
			"resource": map[string]interface{}{
				"id":   transferID,
				"type": "transfer",
			},
			"current_state":  state,
			"previous_state": "processing",
			"reason":         reason,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal webhook body: %v", err)
	}
	return body
}

func TestWebhook_PublishesTransferStatusEvent(t *testing.T) {
	producer := &publisherStub{}
	handler := NewTransferWebhookHandler(producer, testWebhookSecret)

	body := webhookBody(t, 999, "outgoing_payment_sent", "")
	req := httptest.NewRequest(http.MethodPost, "/payouts/webhooks/transfer-status", bytes.NewReader(body))
	req.Header.Set("X-Signature-SHA256", signBody(t, body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(producer.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(producer.published))
	}
	if producer.routingKey != "transfer.status.outgoing_payment_sent" {
		t.Fatalf("unexpected routing key %q", producer.routingKey)
	}
	event, ok := producer.published[0].(domain.TransferStatusEvent)
	if !ok {
		t.Fatalf("unexpected event type %T", producer.published[0])
	}
	if event.WiseTransferID != "999" || event.State != "outgoing_payment_sent" {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestWebhook_RejectsInvalidSignature(t *testing.T) {
	producer := &publisherStub{}
	handler := NewTransferWebhookHandler(producer, testWebhookSecret)

	body := webhookBody(t, 999, "outgoing_payment_sent", "")
	req := httptest.NewRequest(http.MethodPost, "/payouts/webhooks/transfer-status", bytes.NewReader(body))
	req.Header.Set("X-Signature-SHA256", "deadbeef")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(producer.published) != 0 {
		t.Fatal("no event should be published for an unsigned delivery")
	}
}

func TestWebhook_RejectsMissingState(t *testing.T) {
	producer := &publisherStub{}
	handler := NewTransferWebhookHandler(producer, testWebhookSecret)

	body := []byte(`{"event_id":"evt_1","data":{"resource":{"id":999}}}`)
	req := httptest.NewRequest(http.MethodPost, "/payouts/webhooks/transfer-status", bytes.NewReader(body))
	req.Header.Set("X-Signature-SHA256", signBody(t, body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestWebhook_DeduplicatesDeliveries(t *testing.T) {
	producer := &publisherStub{}
	handler := NewTransferWebhookHandler(producer, testWebhookSecret)

	body := webhookBody(t, 999, "bounced_back", "account closed")
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payouts/webhooks/transfer-status", bytes.NewReader(body))
		req.Header.Set("X-Signature-SHA256", signBody(t, body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rec.Code)
		}
	}

	if len(producer.published) != 1 {
		t.Fatalf("expected duplicate delivery to be dropped, got %d events", len(producer.published))
	}
}

func TestWebhook_PublishFailureReturns500(t *testing.T) {
	producer := &publisherStub{failNext: true}
	handler := NewTransferWebhookHandler(producer, testWebhookSecret)

	body := webhookBody(t, 999, "outgoing_payment_sent", "")
	req := httptest.NewRequest(http.MethodPost, "/payouts/webhooks/transfer-status", bytes.NewReader(body))
	req.Header.Set("X-Signature-SHA256", signBody(t, body))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the provider retries, got %d", rec.Code)
	}
}
