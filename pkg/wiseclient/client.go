/**
 * @description
 * This package provides a client for interacting with the Wise money-transfer API.
 * It encapsulates the logic for making authenticated HTTP requests to Wise's
 * recipient, quote, transfer, funding, status and cancellation endpoints,
 * handling request body construction, and parsing responses.
 *
 * @notes
 * - Monetary amounts cross this boundary as int64 values in the smallest unit
 *   of their currency; exchange rates are provider-quoted float64 decimals.
 * - Non-2xx responses are returned as *APIError carrying the HTTP status code,
 *   which the retry policy uses to classify failures.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package wiseclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// Client is a client for the Wise API.
type Client struct {
	BaseURL    string
	APIKey     string
	ProfileID  string
	HTTPClient *http.Client
}

// NewClient creates a new Wise API client.
func NewClient(baseURL, apiKey, profileID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		ProfileID: profileID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the Wise API.
type APIError struct {
	StatusCode int
	Errors     []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("wise api error (status %d): %s - %s", e.StatusCode, e.Errors[0].Code, e.Errors[0].Message)
	}
	return fmt.Sprintf("wise api error (status %d)", e.StatusCode)
}

// CreateRecipientRequest is the payload for Wise's recipient-account endpoint.
type CreateRecipientRequest struct {
	Currency          string `json:"currency"`
	Type              string `json:"type"`
	Profile           string `json:"profile"`
	AccountHolderName string `json:"accountHolderName"`
	Details           struct {
		LegalType     string `json:"legalType"`
		AccountNumber string `json:"accountNumber"`
		BankCode      string `json:"bankCode"`
	} `json:"details"`
}

// RecipientResponse is the expected response from recipient creation.
type RecipientResponse struct {
	ID                int64  `json:"id"`
	Currency          string `json:"currency"`
	AccountHolderName string `json:"accountHolderName"`
}

// RecipientID returns the recipient identifier in the string form the rest of
// the service stores and logs.
func (r *RecipientResponse) RecipientID() string {
	return strconv.FormatInt(r.ID, 10)
}

// QuoteRequest is the payload for Wise's quote endpoint. Exactly one of
// SourceAmount/TargetAmount must be non-nil.
type QuoteRequest struct {
	SourceCurrency string `json:"sourceCurrency"`
	TargetCurrency string `json:"targetCurrency"`
	SourceAmount   *int64 `json:"sourceAmount,omitempty"`
	TargetAmount   *int64 `json:"targetAmount,omitempty"`
	PayOut         string `json:"payOut"`
}

// QuoteResponse is the expected response from quote creation.
type QuoteResponse struct {
	ID             string    `json:"id"`
	Rate           float64   `json:"rate"`
	Fee            int64     `json:"fee"`
	SourceAmount   int64     `json:"sourceAmount"`
	TargetAmount   int64     `json:"targetAmount"`
	SourceCurrency string    `json:"sourceCurrency"`
	TargetCurrency string    `json:"targetCurrency"`
	ExpirationTime time.Time `json:"expirationTime"`
}

// Expired reports whether the quote can no longer back a transfer.
func (q *QuoteResponse) Expired(now time.Time) bool {
	return !q.ExpirationTime.IsZero() && now.After(q.ExpirationTime)
}

// CreateTransferRequest is the payload for Wise's transfer endpoint.
type CreateTransferRequest struct {
	TargetAccount         int64  `json:"targetAccount"`
	QuoteUUID             string `json:"quoteUuid"`
	CustomerTransactionID string `json:"customerTransactionId"`
	Details               struct {
		Reference string `json:"reference"`
	} `json:"details"`
}

// TransferResponse is the expected response from transfer creation and lookup.
type TransferResponse struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// TransferID returns the transfer identifier in string form.
func (t *TransferResponse) TransferID() string {
	return strconv.FormatInt(t.ID, 10)
}

// FundResponse is the expected response from the funding endpoint.
type FundResponse struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Transfer states that mean the money arrived, and states that mean it
// definitively did not. Everything else is still in flight.
var (
	completeTransferStates = map[string]bool{
		"outgoing_payment_sent": true,
	}
	failedTransferStates = map[string]bool{
		"bounced_back":   true,
		"funds_refunded": true,
		"charged_back":   true,
		"cancelled":      true,
		"failed":         true,
	}
)

// ClassifyTransferState maps a provider transfer state into the three buckets
// the engine cares about: in-flight, complete, failed.
func ClassifyTransferState(state string) (isComplete bool, isFailed bool) {
	return completeTransferStates[state], failedTransferStates[state]
}

// CreateRecipient registers a reusable recipient identity for a bank account.
func (c *Client) CreateRecipient(ctx context.Context, currency, accountHolderName, accountNumber, bankCode string) (*RecipientResponse, error) {
	reqPayload := CreateRecipientRequest{
		Currency:          currency,
		Type:              "bank_account",
		Profile:           c.ProfileID,
		AccountHolderName: accountHolderName,
	}
	reqPayload.Details.LegalType = "PRIVATE"
	reqPayload.Details.AccountNumber = accountNumber
	reqPayload.Details.BankCode = bankCode

	var resp RecipientResponse
	if err := c.do(ctx, "POST", "/v1/accounts", "create_recipient", reqPayload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateQuote obtains a time-boxed exchange-rate quote. Exactly one of
// sourceAmount/targetAmount must be supplied.
func (c *Client) CreateQuote(ctx context.Context, sourceCurrency, targetCurrency string, sourceAmount, targetAmount *int64) (*QuoteResponse, error) {
	if (sourceAmount == nil) == (targetAmount == nil) {
		return nil, fmt.Errorf("exactly one of sourceAmount or targetAmount must be supplied")
	}

	reqPayload := QuoteRequest{
		SourceCurrency: sourceCurrency,
		TargetCurrency: targetCurrency,
		SourceAmount:   sourceAmount,
		TargetAmount:   targetAmount,
		PayOut:         "BANK_TRANSFER",
	}

	var resp QuoteResponse
	path := fmt.Sprintf("/v3/profiles/%s/quotes", c.ProfileID)
	if err := c.do(ctx, "POST", path, "create_quote", reqPayload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateTransfer creates a transfer against a recipient and quote. The
// customerTransactionId lets Wise deduplicate retried requests.
func (c *Client) CreateTransfer(ctx context.Context, recipientID int64, quoteID, reference, customerTransactionID string) (*TransferResponse, error) {
	reqPayload := CreateTransferRequest{
		TargetAccount:         recipientID,
		QuoteUUID:             quoteID,
		CustomerTransactionID: customerTransactionID,
	}
	reqPayload.Details.Reference = reference

	var resp TransferResponse
	if err := c.do(ctx, "POST", "/v1/transfers", "create_transfer", reqPayload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FundTransfer executes the money movement from the platform balance.
func (c *Client) FundTransfer(ctx context.Context, transferID string) (*FundResponse, error) {
	path := fmt.Sprintf("/v3/profiles/%s/transfers/%s/payments", c.ProfileID, transferID)
	payload := map[string]string{"type": "BALANCE"}

	var resp FundResponse
	if err := c.do(ctx, "POST", path, "fund_transfer", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTransferStatus fetches the current provider-side state of a transfer.
func (c *Client) GetTransferStatus(ctx context.Context, transferID string) (*TransferResponse, error) {
	var resp TransferResponse
	if err := c.do(ctx, "GET", "/v1/transfers/"+transferID, "get_transfer", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelTransfer cancels a transfer. Only valid while it is still in flight.
func (c *Client) CancelTransfer(ctx context.Context, transferID string) (*TransferResponse, error) {
	var resp TransferResponse
	if err := c.do(ctx, "PUT", "/v1/transfers/"+transferID+"/cancel", "cancel_transfer", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes one authenticated request and decodes the response.
func (c *Client) do(ctx context.Context, method, path, op string, payload any, out any) error {
	var bodyReader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
		bodyReader = bytes.NewBuffer(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, apiErr); err != nil || len(apiErr.Errors) == 0 {
			log.Printf("level=warn component=wise_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			return apiErr
		}
		log.Printf("level=warn component=wise_client op=%s status=%d code=%q detail=%q", op, resp.StatusCode, apiErr.Errors[0].Code, apiErr.Errors[0].Message)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}

	return nil
}
