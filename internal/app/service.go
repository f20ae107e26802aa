/**
 * @description
 * This file contains the core orchestration logic for the payout-service. The
 * `Service` struct drives a single payout end-to-end: input validation, creator
 * verification, bank account resolution, durable record creation, recipient
 * resolution, quoting, transfer creation, funding, and the transition to
 * `processing`. The ledger is updated before each step proceeds, so every
 * attempt leaves an audit trail regardless of how it ends.
 *
 * Key behaviors:
 * - All failures are returned as structured PayoutResult values (never panics),
 *   carrying a machine-readable code and a retryability flag.
 * - External calls that can fail transiently (recipient creation, quote,
 *   transfer, funding) are wrapped in the retry policy.
 * - Terminal completion is observed asynchronously by the status consumer and
 *   poller; the orchestrator stops at `processing`.
 *
 * @dependencies
 * - context, fmt, log, strconv, strings, time: Standard Go libraries.
 * - github.com/google/uuid: For payout ids and reference generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/wiseclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/crescendo/payout-service/internal/domain"
	"github.com/crescendo/payout-service/internal/store"
	"github.com/crescendo/payout-service/pkg/rabbitmq"
	"github.com/crescendo/payout-service/pkg/wiseclient"
	"github.com/google/uuid"
)

// ProviderClient is the subset of the Wise client the orchestrator needs.
// Declared as an interface so tests can inject doubles without global state.
type ProviderClient interface {
	CreateRecipient(ctx context.Context, currency, accountHolderName, accountNumber, bankCode string) (*wiseclient.RecipientResponse, error)
	CreateQuote(ctx context.Context, sourceCurrency, targetCurrency string, sourceAmount, targetAmount *int64) (*wiseclient.QuoteResponse, error)
	CreateTransfer(ctx context.Context, recipientID int64, quoteID, reference, customerTransactionID string) (*wiseclient.TransferResponse, error)
	FundTransfer(ctx context.Context, transferID string) (*wiseclient.FundResponse, error)
	GetTransferStatus(ctx context.Context, transferID string) (*wiseclient.TransferResponse, error)
	CancelTransfer(ctx context.Context, transferID string) (*wiseclient.TransferResponse, error)
}

// Service provides the core payout orchestration logic.
type Service struct {
	repo           store.Repository
	provider       ProviderClient
	producer       rabbitmq.Publisher
	retry          *RetryPolicy
	resolver       *AccountResolver
	environment    string
	sourceCurrency string

	batchConcurrency int
}

// NewService creates a new payout service instance.
func NewService(repo store.Repository, provider ProviderClient, producer rabbitmq.Publisher, retry *RetryPolicy, environment, sourceCurrency string) *Service {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if sourceCurrency == "" {
		sourceCurrency = "USD"
	}
	return &Service{
		repo:           repo,
		provider:       provider,
		producer:       producer,
		retry:          retry,
		resolver:       NewAccountResolver(),
		environment:    environment,
		sourceCurrency: sourceCurrency,
	}
}

// PayoutToCreator drives a single payout through the full workflow and
// returns a structured result. The record, once created, ends this call in
// either `processing` (success) or `failed`.
func (s *Service) PayoutToCreator(ctx context.Context, req domain.PayoutRequest) domain.PayoutResult {
	// 1. Validate inputs before any record exists.
	if err := validatePayoutRequest(req); err != nil {
		return failureResult(CodeValidation, err.Error(), false)
	}

	// 2. Verify the creator exists.
	exists, err := s.repo.CreatorExists(ctx, req.CreatorID)
	if err != nil {
		log.Printf("level=error component=payout_service msg=\"creator lookup failed\" creator_id=%s err=%v", req.CreatorID, err)
		return failureResult(CodeUnknown, fmt.Sprintf("creator lookup failed: %v", err), false)
	}
	if !exists {
		return failureResult(CodeCreatorNotFound, fmt.Sprintf("creator %s not found", req.CreatorID), false)
	}

	// 3. Resolve and structurally verify the bank account.
	bankName, err := s.resolver.ValidateBankAccount(req.BankAccountNumber, req.BankCode, req.Currency)
	if err != nil {
		return failureResult(CodeAccountVerification, err.Error(), false)
	}

	// 4. Create the durable record in `pending` with a unique reference.
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = generateReference()
	}
	customerTxID := uuid.New().String()

	record := &domain.PayoutRecord{
		ID:                    uuid.New(),
		Reference:             reference,
		CustomerTransactionID: &customerTxID,
		CreatorID:             req.CreatorID,
		Amount:                req.Amount,
		Currency:              req.Currency,
		BankAccountNumber:     req.BankAccountNumber,
		AccountHolderName:     req.AccountHolderName,
		BankCode:              req.BankCode,
		Status:                domain.PayoutStatusPending,
		Metadata:              payoutMetadata(req),
	}
	if bankName != "" {
		record.BankName = &bankName
	}

	if err := s.repo.CreatePayout(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicateReference) {
			return failureResult(CodeDuplicateReference, fmt.Sprintf("payout reference %q already exists", reference), false)
		}
		log.Printf("level=error component=payout_service msg=\"payout record creation failed\" reference=%s err=%v", reference, err)
		return failureResult(CodeUnknown, fmt.Sprintf("failed to create payout record: %v", err), false)
	}

	s.publishLifecycle(ctx, "payout.initiated", record)

	// 5. Resolve or create the provider recipient.
	recipientID, err := s.resolveRecipient(ctx, record, req)
	if err != nil {
		classified := ClassifyProviderError(err)
		s.markFailed(ctx, record, CodeRecipientCreationFailed, classified.Message)
		return failureResult(CodeRecipientCreationFailed, classified.Message, classified.Retryable)
	}

	// 6. Quote and create the transfer.
	var quote *wiseclient.QuoteResponse
	err = s.retry.Do(ctx, "create_quote", func(ctx context.Context) error {
		var qErr error
		quote, qErr = s.provider.CreateQuote(ctx, s.sourceCurrency, req.Currency, nil, &req.Amount)
		return qErr
	})
	if err != nil {
		classified := ClassifyProviderError(err)
		s.markFailed(ctx, record, classified.Code, classified.Message)
		return failureResult(classified.Code, classified.Message, classified.Retryable)
	}
	if quote.Expired(time.Now()) {
		// Quotes are requested fresh per transfer; an expired one on arrival
		// means severe clock skew or a provider fault.
		msg := fmt.Sprintf("quote %s expired before use", quote.ID)
		s.markFailed(ctx, record, CodeServerError, msg)
		return failureResult(CodeServerError, msg, true)
	}

	var transfer *wiseclient.TransferResponse
	err = s.retry.Do(ctx, "create_transfer", func(ctx context.Context) error {
		var tErr error
		transfer, tErr = s.provider.CreateTransfer(ctx, recipientID, quote.ID, record.Reference, customerTxID)
		return tErr
	})
	if err != nil {
		classified := ClassifyProviderError(err)
		s.markFailed(ctx, record, classified.Code, classified.Message)
		return failureResult(classified.Code, classified.Message, classified.Retryable)
	}

	// 7. Fund the transfer from the platform balance (production only).
	if s.environment == "production" {
		err = s.retry.Do(ctx, "fund_transfer", func(ctx context.Context) error {
			_, fErr := s.provider.FundTransfer(ctx, transfer.TransferID())
			return fErr
		})
		if err != nil {
			classified := ClassifyProviderError(err)
			s.markFailed(ctx, record, classified.Code, classified.Message)
			return failureResult(classified.Code, classified.Message, classified.Retryable)
		}
	} else {
		log.Printf("level=info component=payout_service msg=\"funding skipped outside production\" environment=%s reference=%s", s.environment, record.Reference)
	}

	// 8. Persist the provider financials and move to `processing`.
	details := store.ProcessingDetails{
		WiseQuoteID:    quote.ID,
		WiseTransferID: transfer.TransferID(),
		ExchangeRate:   quote.Rate,
		SourceAmount:   quote.SourceAmount,
		SourceCurrency: s.sourceCurrency,
		ProviderFee:    quote.Fee,
	}
	if err := s.repo.MarkPayoutProcessing(ctx, record.ID, details); err != nil {
		log.Printf("level=error component=payout_service msg=\"failed to mark payout processing\" payout_id=%s err=%v", record.ID, err)
		return failureResult(CodeUnknown, fmt.Sprintf("transfer %s created but ledger update failed: %v", transfer.TransferID(), err), false)
	}

	record.Status = domain.PayoutStatusProcessing
	wiseQuoteID := quote.ID
	wiseTransferID := transfer.TransferID()
	record.WiseQuoteID = &wiseQuoteID
	record.WiseTransferID = &wiseTransferID
	record.ExchangeRate = &quote.Rate
	record.SourceAmount = &quote.SourceAmount
	record.SourceCurrency = &s.sourceCurrency
	record.ProviderFee = &quote.Fee

	s.publishLifecycle(ctx, "payout.processing", record)

	// 9. Terminal completion arrives later via webhook or poller.
	return domain.PayoutResult{Success: true, Payout: record}
}

// resolveRecipient reuses the most recent provider recipient for this
// creator/account/currency tuple, or creates a new one (with retries). The
// ledger lookback is a best-effort cache: duplicate recipients are tolerated.
func (s *Service) resolveRecipient(ctx context.Context, record *domain.PayoutRecord, req domain.PayoutRequest) (int64, error) {
	cached, err := s.repo.FindLatestRecipientID(ctx, req.CreatorID, req.BankAccountNumber, req.Currency)
	if err != nil {
		log.Printf("level=warn component=payout_service msg=\"recipient cache lookup failed; creating fresh recipient\" creator_id=%s err=%v", req.CreatorID, err)
	} else if cached != "" {
		if id, parseErr := strconv.ParseInt(cached, 10, 64); parseErr == nil {
			if setErr := s.repo.SetPayoutRecipient(ctx, record.ID, cached); setErr != nil {
				return 0, setErr
			}
			recipientIDStr := cached
			record.WiseRecipientID = &recipientIDStr
			return id, nil
		}
		log.Printf("level=warn component=payout_service msg=\"cached recipient id unparsable; creating fresh recipient\" cached=%q", cached)
	}

	var recipient *wiseclient.RecipientResponse
	err = s.retry.Do(ctx, "create_recipient", func(ctx context.Context) error {
		var rErr error
		recipient, rErr = s.provider.CreateRecipient(ctx, req.Currency, req.AccountHolderName, req.BankAccountNumber, req.BankCode)
		return rErr
	})
	if err != nil {
		return 0, err
	}

	recipientIDStr := recipient.RecipientID()
	if err := s.repo.SetPayoutRecipient(ctx, record.ID, recipientIDStr); err != nil {
		return 0, err
	}
	record.WiseRecipientID = &recipientIDStr
	return recipient.ID, nil
}

// CancelPayout cancels an in-flight payout at the provider and marks the
// record cancelled. Only valid while the transfer has not reached a terminal
// provider state.
func (s *Service) CancelPayout(ctx context.Context, payoutID uuid.UUID) (*domain.PayoutRecord, error) {
	record, err := s.repo.FindPayoutByID(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if record.Status != domain.PayoutStatusProcessing || record.WiseTransferID == nil {
		return nil, fmt.Errorf("payout %s is not cancellable in status %q", payoutID, record.Status)
	}

	if _, err := s.provider.CancelTransfer(ctx, *record.WiseTransferID); err != nil {
		return nil, fmt.Errorf("provider cancel failed: %w", err)
	}

	reason := "cancelled by operator"
	if err := s.repo.ApplyTerminalStatus(ctx, payoutID, domain.PayoutStatusCancelled, &reason); err != nil {
		if errors.Is(err, store.ErrStaleStatusTransition) {
			return s.repo.FindPayoutByID(ctx, payoutID)
		}
		return nil, err
	}

	record.Status = domain.PayoutStatusCancelled
	s.publishLifecycle(ctx, "payout.cancelled", record)
	return record, nil
}

// GetPayout retrieves a payout by id.
func (s *Service) GetPayout(ctx context.Context, payoutID uuid.UUID) (*domain.PayoutRecord, error) {
	return s.repo.FindPayoutByID(ctx, payoutID)
}

// GetPayoutByReference retrieves a payout by its unique reference.
func (s *Service) GetPayoutByReference(ctx context.Context, reference string) (*domain.PayoutRecord, error) {
	return s.repo.FindPayoutByReference(ctx, reference)
}

// ListPayouts returns a creator's payouts with filters and pagination.
func (s *Service) ListPayouts(ctx context.Context, creatorID uuid.UUID, opts domain.PayoutListOptions) ([]domain.PayoutRecord, error) {
	return s.repo.ListPayoutsByCreator(ctx, creatorID, opts)
}

// PendingSummary returns the per-currency rollup of pending payouts.
func (s *Service) PendingSummary(ctx context.Context) ([]domain.PendingCurrencySummary, error) {
	return s.repo.PendingSummaryByCurrency(ctx)
}

// GetStatusHistory returns the append-only status trail for a payout.
func (s *Service) GetStatusHistory(ctx context.Context, payoutID uuid.UUID) ([]domain.PayoutStatusHistoryEntry, error) {
	return s.repo.ListStatusHistory(ctx, payoutID)
}

// DeletePayout soft-deletes a payout; the record remains for audit.
func (s *Service) DeletePayout(ctx context.Context, payoutID uuid.UUID) (bool, error) {
	return s.repo.SoftDeletePayout(ctx, payoutID)
}

// markFailed records the failure on the ledger before it is returned to the
// caller, so operational visibility never depends on caller logging.
func (s *Service) markFailed(ctx context.Context, record *domain.PayoutRecord, code, message string) {
	if err := s.repo.MarkPayoutFailed(ctx, record.ID, code, message); err != nil {
		log.Printf("level=error component=payout_service msg=\"failed to mark payout failed\" payout_id=%s code=%s err=%v", record.ID, code, err)
	}
	record.Status = domain.PayoutStatusFailed
	record.ErrorCode = &code
	record.ErrorMessage = &message
	s.publishLifecycle(ctx, "payout.failed", record)
}

func (s *Service) publishLifecycle(ctx context.Context, routingKey string, record *domain.PayoutRecord) {
	if s.producer == nil {
		return
	}
	event := domain.PayoutLifecycleEvent{
		PayoutID:       record.ID,
		Reference:      record.Reference,
		CreatorID:      record.CreatorID,
		Status:         record.Status,
		Amount:         record.Amount,
		Currency:       record.Currency,
		WiseTransferID: record.WiseTransferID,
		ErrorCode:      record.ErrorCode,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.producer.Publish(ctx, rabbitmq.PayoutEventsExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=payout_service msg=\"lifecycle event publish failed\" routing_key=%s payout_id=%s err=%v", routingKey, record.ID, err)
	}
}

func validatePayoutRequest(req domain.PayoutRequest) error {
	if req.CreatorID == uuid.Nil {
		return fmt.Errorf("creator id is required")
	}
	if req.Amount <= 0 {
		return fmt.Errorf("amount must be greater than zero")
	}
	if !domain.SupportedCurrencies[req.Currency] {
		return fmt.Errorf("unsupported currency %q", req.Currency)
	}
	if strings.TrimSpace(req.BankAccountNumber) == "" {
		return fmt.Errorf("bank account number is required")
	}
	if strings.TrimSpace(req.BankCode) == "" {
		return fmt.Errorf("bank code is required")
	}
	if strings.TrimSpace(req.AccountHolderName) == "" {
		return fmt.Errorf("account holder name is required")
	}
	return nil
}

func payoutMetadata(req domain.PayoutRequest) map[string]string {
	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.Reason != "" {
		metadata["reason"] = req.Reason
	}
	if len(metadata) == 0 {
		return nil
	}
	return metadata
}

func generateReference() string {
	return fmt.Sprintf("PO-%d-%s", time.Now().UnixMilli(), strings.ToUpper(uuid.New().String()[:8]))
}

func failureResult(code, message string, retryable bool) domain.PayoutResult {
	return domain.PayoutResult{
		Success:   false,
		Error:     message,
		Code:      code,
		Retryable: retryable,
	}
}
