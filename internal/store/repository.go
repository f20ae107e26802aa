/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the payout-service. By defining an interface,
 * we decouple the orchestration logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/crescendo/payout-service/internal/domain"
	"github.com/google/uuid"
)

// Repository defines the set of methods for interacting with the payout ledger.
type Repository interface {
	// Creator methods
	CreatorExists(ctx context.Context, creatorID uuid.UUID) (bool, error)

	// Payout lifecycle methods
	CreatePayout(ctx context.Context, payout *domain.PayoutRecord) error
	MarkPayoutProcessing(ctx context.Context, payoutID uuid.UUID, details ProcessingDetails) error
	MarkPayoutFailed(ctx context.Context, payoutID uuid.UUID, errorCode, errorMessage string) error
	SetPayoutRecipient(ctx context.Context, payoutID uuid.UUID, wiseRecipientID string) error
	// ApplyTerminalStatus transitions a processing payout to a terminal status.
	// It returns ErrStaleStatusTransition when the record is already terminal,
	// so webhook replays and poller races cannot regress it.
	ApplyTerminalStatus(ctx context.Context, payoutID uuid.UUID, status string, reason *string) error

	// Payout query methods
	FindPayoutByID(ctx context.Context, payoutID uuid.UUID) (*domain.PayoutRecord, error)
	FindPayoutByReference(ctx context.Context, reference string) (*domain.PayoutRecord, error)
	FindPayoutByWiseTransferID(ctx context.Context, wiseTransferID string) (*domain.PayoutRecord, error)
	ListPayoutsByCreator(ctx context.Context, creatorID uuid.UUID, opts domain.PayoutListOptions) ([]domain.PayoutRecord, error)
	FindProcessingPayouts(ctx context.Context, limit int) ([]domain.PayoutRecord, error)
	PendingSummaryByCurrency(ctx context.Context) ([]domain.PendingCurrencySummary, error)

	// FindLatestRecipientID resolves the most recent provider recipient id used
	// for this (creator, account number, currency) tuple, or "" when none exists.
	FindLatestRecipientID(ctx context.Context, creatorID uuid.UUID, accountNumber, currency string) (string, error)

	// Audit methods
	ListStatusHistory(ctx context.Context, payoutID uuid.UUID) ([]domain.PayoutStatusHistoryEntry, error)
	SoftDeletePayout(ctx context.Context, payoutID uuid.UUID) (bool, error)
}

// ProcessingDetails carries the provider-quoted financials stored when a
// payout moves from pending to processing.
type ProcessingDetails struct {
	WiseQuoteID    string
	WiseTransferID string
	ExchangeRate   float64
	SourceAmount   int64
	SourceCurrency string
	ProviderFee    int64
}
