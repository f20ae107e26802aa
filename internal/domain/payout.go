/**
 * @description
 * This file defines the core domain models for the payout-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and external service
 *   payloads ensures clear separation of concerns and type safety.
 * - Amounts are stored as `int64` in the smallest unit of the payout currency
 *   (kobo, pesewas, cents), which avoids floating-point inaccuracies with
 *   financial data. Exchange rates are the one deliberate exception: they are
 *   provider-quoted decimals and are carried as float64 for audit only, never
 *   used for arithmetic on our side.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payout statuses. pending and processing are the only non-terminal states;
// a record in any of the four terminal states may never leave it.
const (
	PayoutStatusPending    = "pending"
	PayoutStatusProcessing = "processing"
	PayoutStatusCompleted  = "completed"
	PayoutStatusFailed     = "failed"
	PayoutStatusCancelled  = "cancelled"
	PayoutStatusRefunded   = "refunded"
)

// IsTerminalPayoutStatus reports whether a status may never be left again.
func IsTerminalPayoutStatus(status string) bool {
	switch status {
	case PayoutStatusCompleted, PayoutStatusFailed, PayoutStatusCancelled, PayoutStatusRefunded:
		return true
	}
	return false
}

// SupportedCurrencies is the fixed set of payout target currencies.
var SupportedCurrencies = map[string]bool{
	"NGN": true,
	"GHS": true,
	"KES": true,
	"ZAR": true,
	"USD": true,
	"GBP": true,
	"EUR": true,
	"INR": true,
}

// PayoutRecord is the central ledger record for a single creator payout.
// This struct maps directly to the `payouts` table in the database.
type PayoutRecord struct {
	ID                    uuid.UUID         `json:"id"`
	Reference             string            `json:"reference"`
	CustomerTransactionID *string           `json:"customer_transaction_id,omitempty"`
	CreatorID             uuid.UUID         `json:"creator_id"`
	Amount                int64             `json:"amount"` // in the smallest unit of Currency
	Currency              string            `json:"currency"`
	BankAccountNumber     string            `json:"bank_account_number"`
	AccountHolderName     string            `json:"account_holder_name"`
	BankCode              string            `json:"bank_code"`
	BankName              *string           `json:"bank_name,omitempty"`
	WiseRecipientID       *string           `json:"wise_recipient_id,omitempty"`
	WiseQuoteID           *string           `json:"wise_quote_id,omitempty"`
	WiseTransferID        *string           `json:"wise_transfer_id,omitempty"`
	ExchangeRate          *float64          `json:"exchange_rate,omitempty"`
	SourceAmount          *int64            `json:"source_amount,omitempty"` // in the smallest unit of SourceCurrency
	SourceCurrency        *string           `json:"source_currency,omitempty"`
	ProviderFee           *int64            `json:"provider_fee,omitempty"` // in the smallest unit of SourceCurrency
	Status                string            `json:"status"`
	ErrorMessage          *string           `json:"error_message,omitempty"`
	ErrorCode             *string           `json:"error_code,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
	FailedAt              *time.Time        `json:"failed_at,omitempty"`
	DeletedAt             *time.Time        `json:"-"`
}

// PayoutStatusHistoryEntry is one append-only row of the status audit trail.
type PayoutStatusHistoryEntry struct {
	ID           uuid.UUID `json:"id"`
	PayoutID     uuid.UUID `json:"payout_id"`
	Status       string    `json:"status"`
	PriorStatus  *string   `json:"prior_status,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// PayoutRequest is the DTO for a single payout submission.
type PayoutRequest struct {
	CreatorID         uuid.UUID         `json:"creator_id"`
	Amount            int64             `json:"amount"`
	Currency          string            `json:"currency"`
	BankAccountNumber string            `json:"bank_account_number"`
	BankCode          string            `json:"bank_code"`
	AccountHolderName string            `json:"account_holder_name"`
	Reference         string            `json:"reference,omitempty"` // generated when empty
	Reason            string            `json:"reason,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"` // opaque caller context, never interpreted
}

// PayoutResult is the structured outcome of one payout attempt. Failures are
// reported here rather than surfaced as Go errors so that callers, including
// the batch scheduler, branch on fields instead of error types.
type PayoutResult struct {
	Success   bool          `json:"success"`
	Payout    *PayoutRecord `json:"payout,omitempty"`
	Error     string        `json:"error,omitempty"`
	Code      string        `json:"code,omitempty"`
	Retryable bool          `json:"retryable"`
}

// BatchPayoutOptions controls how a batch is executed.
type BatchPayoutOptions struct {
	Sequential    bool `json:"sequential"`
	MaxConcurrent int  `json:"max_concurrent"` // parallel mode ceiling, defaults to 5
	StopOnError   bool `json:"stop_on_error"`  // sequential mode only
}

// BatchPayoutFailure pairs a failed result with the item that produced it,
// so a retry never has to reconstruct bank details from metadata.
type BatchPayoutFailure struct {
	Item      PayoutRequest `json:"item"`
	Error     string        `json:"error"`
	Code      string        `json:"code"`
	Retryable bool          `json:"retryable"`
}

// CurrencyTotals aggregates batch amounts for one currency.
type CurrencyTotals struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}

// BatchPayoutSummary aggregates counts and per-currency amounts for a batch.
type BatchPayoutSummary struct {
	Total     int                       `json:"total"`
	Succeeded int                       `json:"succeeded"`
	Failed    int                       `json:"failed"`
	Amounts   map[string]CurrencyTotals `json:"amounts"`
}

// BatchPayoutResult is the aggregate outcome of a batch run. Successful and
// Failed preserve the input order of their respective items.
type BatchPayoutResult struct {
	Successful []*PayoutRecord      `json:"successful"`
	Failed     []BatchPayoutFailure `json:"failed"`
	Summary    BatchPayoutSummary   `json:"summary"`
}

// PayoutListOptions controls filtering and pagination for creator payout queries.
type PayoutListOptions struct {
	Status   string
	Currency string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// PendingCurrencySummary is one row of the operational pending-payout rollup.
type PendingCurrencySummary struct {
	Currency string `json:"currency"`
	Count    int64  `json:"count"`
	Amount   int64  `json:"amount"`
}

// TransferStatusEvent is the normalized message describing a provider-side
// transfer state change. The webhook handler publishes it to RabbitMQ and the
// status consumer applies it to the ledger; the status poller synthesizes the
// same shape from polled provider state.
type TransferStatusEvent struct {
	WiseTransferID string    `json:"wise_transfer_id"`
	State          string    `json:"state"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// PayoutLifecycleEvent is published to the payout.events exchange as a payout
// moves through the workflow, for consumption by downstream services.
type PayoutLifecycleEvent struct {
	PayoutID       uuid.UUID `json:"payout_id"`
	Reference      string    `json:"reference"`
	CreatorID      uuid.UUID `json:"creator_id"`
	Status         string    `json:"status"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	WiseTransferID *string   `json:"wise_transfer_id,omitempty"`
	ErrorCode      *string   `json:"error_code,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
