package wiseclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCreateQuote_TargetAmount(t *testing.T) {
	var gotAuth string
	var gotBody QuoteRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v3/profiles/prof-1/quotes" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		json.NewEncoder(w).Encode(QuoteResponse{
			ID:             "quote-1",
			Rate:           1580.5,
			Fee:            120,
			SourceAmount:   32,
			TargetAmount:   50000,
			SourceCurrency: "USD",
			TargetCurrency: "NGN",
			ExpirationTime: time.Now().Add(30 * time.Minute),
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "api-key", "prof-1")
	target := int64(50000)
	quote, err := client.CreateQuote(context.Background(), "USD", "NGN", nil, &target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer api-key" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody.SourceAmount != nil {
		t.Fatal("source amount must be omitted for fixed-target quotes")
	}
	if gotBody.TargetAmount == nil || *gotBody.TargetAmount != 50000 {
		t.Fatalf("unexpected target amount %v", gotBody.TargetAmount)
	}
	if gotBody.PayOut != "BANK_TRANSFER" {
		t.Fatalf("unexpected payout method %q", gotBody.PayOut)
	}
	if quote.Rate != 1580.5 || quote.ID != "quote-1" {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestCreateQuote_RequiresExactlyOneAmount(t *testing.T) {
	client := NewClient("http://unused", "key", "prof")
	amount := int64(100)

	if _, err := client.CreateQuote(context.Background(), "USD", "NGN", nil, nil); err == nil {
		t.Fatal("expected error when both amounts are nil")
	}
	if _, err := client.CreateQuote(context.Background(), "USD", "NGN", &amount, &amount); err == nil {
		t.Fatal("expected error when both amounts are set")
	}
}

func TestDo_Non2xxReturnsAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"code":"balance.insufficient","message":"insufficient balance"}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "prof")
	_, err := client.CreateTransfer(context.Background(), 777, "quote-1", "PO-1", "ctx-1")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", apiErr.StatusCode)
	}
	if len(apiErr.Errors) != 1 || apiErr.Errors[0].Code != "balance.insufficient" {
		t.Fatalf("unexpected error detail %+v", apiErr.Errors)
	}
}

func TestGetTransferStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/transfers/999" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(TransferResponse{ID: 999, Status: "outgoing_payment_sent"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", "prof")
	transfer, err := client.GetTransferStatus(context.Background(), "999")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transfer.TransferID() != "999" || transfer.Status != "outgoing_payment_sent" {
		t.Fatalf("unexpected transfer %+v", transfer)
	}
}

func TestClassifyTransferState(t *testing.T) {
	cases := []struct {
		state    string
		complete bool
		failed   bool
	}{
		{"outgoing_payment_sent", true, false},
		{"bounced_back", false, true},
		{"funds_refunded", false, true},
		{"charged_back", false, true},
		{"cancelled", false, true},
		{"failed", false, true},
		{"processing", false, false},
		{"incoming_payment_waiting", false, false},
	}
	for _, tc := range cases {
		complete, failed := ClassifyTransferState(tc.state)
		if complete != tc.complete || failed != tc.failed {
			t.Errorf("ClassifyTransferState(%q) = (%t, %t), want (%t, %t)", tc.state, complete, failed, tc.complete, tc.failed)
		}
	}
}

func TestQuoteExpired(t *testing.T) {
	now := time.Now()
	fresh := &QuoteResponse{ExpirationTime: now.Add(time.Minute)}
	if fresh.Expired(now) {
		t.Fatal("future expiry must not be expired")
	}
	stale := &QuoteResponse{ExpirationTime: now.Add(-time.Minute)}
	if !stale.Expired(now) {
		t.Fatal("past expiry must be expired")
	}
	unset := &QuoteResponse{}
	if unset.Expired(now) {
		t.Fatal("zero expiry means the provider did not time-box the quote")
	}
}
