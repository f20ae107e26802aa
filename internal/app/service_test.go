package app

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/crescendo/payout-service/internal/domain"
	"github.com/crescendo/payout-service/internal/store"
	"github.com/crescendo/payout-service/pkg/wiseclient"
	"github.com/google/uuid"
)

type payoutRepoStub struct {
	store.Repository

	creatorExists   bool
	cachedRecipient string
	createErr       error
	processingErr   error

	createdPayout     *domain.PayoutRecord
	processingDetails *store.ProcessingDetails
	failedCode        string
	failedMessage     string
	recipientSet      string
}

func (s *payoutRepoStub) CreatorExists(ctx context.Context, creatorID uuid.UUID) (bool, error) {
	return s.creatorExists, nil
}

func (s *payoutRepoStub) CreatePayout(ctx context.Context, payout *domain.PayoutRecord) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.createdPayout = payout
	return nil
}

func (s *payoutRepoStub) FindLatestRecipientID(ctx context.Context, creatorID uuid.UUID, accountNumber, currency string) (string, error) {
	return s.cachedRecipient, nil
}

func (s *payoutRepoStub) SetPayoutRecipient(ctx context.Context, payoutID uuid.UUID, recipientID string) error {
	s.recipientSet = recipientID
	return nil
}

func (s *payoutRepoStub) MarkPayoutProcessing(ctx context.Context, payoutID uuid.UUID, details store.ProcessingDetails) error {
	if s.processingErr != nil {
		return s.processingErr
	}
	s.processingDetails = &details
	return nil
}

func (s *payoutRepoStub) MarkPayoutFailed(ctx context.Context, payoutID uuid.UUID, errorCode, errorMessage string) error {
	s.failedCode = errorCode
	s.failedMessage = errorMessage
	return nil
}

type providerStub struct {
	recipientErr   error
	recipientCalls int32
	quoteErr       error
	quoteCalls     int32
	transferErr    error
	transferCalls  int32
	fundCalls      int32

	// transientQuoteFailures is the number of quote calls that fail before
	// succeeding, to exercise the retry path.
	transientQuoteFailures int32

	// expiredQuote makes every quote arrive already expired.
	expiredQuote bool
}

func (p *providerStub) CreateRecipient(ctx context.Context, currency, accountHolderName, accountNumber, bankCode string) (*wiseclient.RecipientResponse, error) {
	atomic.AddInt32(&p.recipientCalls, 1)
	if p.recipientErr != nil {
		return nil, p.recipientErr
	}
	return &wiseclient.RecipientResponse{ID: 777, Currency: currency, AccountHolderName: accountHolderName}, nil
}

func (p *providerStub) CreateQuote(ctx context.Context, sourceCurrency, targetCurrency string, sourceAmount, targetAmount *int64) (*wiseclient.QuoteResponse, error) {
	calls := atomic.AddInt32(&p.quoteCalls, 1)
	if p.quoteErr != nil {
		return nil, p.quoteErr
	}
	if calls <= p.transientQuoteFailures {
		return nil, NewRetryableError(CodeServerError, "provider hiccup")
	}
	var target int64
	if targetAmount != nil {
		target = *targetAmount
	}
	expiry := time.Now().Add(30 * time.Minute)
	if p.expiredQuote {
		expiry = time.Now().Add(-time.Minute)
	}
	return &wiseclient.QuoteResponse{
		ID:             "quote-abc",
		Rate:           1580.5,
		Fee:            120,
		SourceAmount:   32,
		TargetAmount:   target,
		SourceCurrency: sourceCurrency,
		TargetCurrency: targetCurrency,
		ExpirationTime: expiry,
	}, nil
}

func (p *providerStub) CreateTransfer(ctx context.Context, recipientID int64, quoteID, reference, customerTransactionID string) (*wiseclient.TransferResponse, error) {
	atomic.AddInt32(&p.transferCalls, 1)
	if p.transferErr != nil {
		return nil, p.transferErr
	}
	return &wiseclient.TransferResponse{ID: 999, Status: "incoming_payment_waiting"}, nil
}

func (p *providerStub) FundTransfer(ctx context.Context, transferID string) (*wiseclient.FundResponse, error) {
	atomic.AddInt32(&p.fundCalls, 1)
	return &wiseclient.FundResponse{Type: "BALANCE", Status: "COMPLETED"}, nil
}

func (p *providerStub) GetTransferStatus(ctx context.Context, transferID string) (*wiseclient.TransferResponse, error) {
	return &wiseclient.TransferResponse{ID: 999, Status: "processing"}, nil
}

func (p *providerStub) CancelTransfer(ctx context.Context, transferID string) (*wiseclient.TransferResponse, error) {
	return &wiseclient.TransferResponse{ID: 999, Status: "cancelled"}, nil
}

func newTestService(repo *payoutRepoStub, provider *providerStub) *Service {
	return NewService(repo, provider, nil, fastRetryPolicy(3), "development", "USD")
}

func validRequest() domain.PayoutRequest {
	return domain.PayoutRequest{
		CreatorID:         uuid.New(),
		Amount:            50000,
		Currency:          "NGN",
		BankAccountNumber: "0123456789",
		BankCode:          "044",
		AccountHolderName: "Ada Creator",
	}
}

func TestPayoutToCreator_HappyPath(t *testing.T) {
	repo := &payoutRepoStub{creatorExists: true}
	provider := &providerStub{}
	service := newTestService(repo, provider)

	result := service.PayoutToCreator(context.Background(), validRequest())
	if !result.Success {
		t.Fatalf("expected success, got code=%s error=%s", result.Code, result.Error)
	}
	payout := result.Payout
	if payout.Status != domain.PayoutStatusProcessing {
		t.Fatalf("expected processing status, got %q", payout.Status)
	}
	if payout.WiseRecipientID == nil || *payout.WiseRecipientID != "777" {
		t.Fatalf("expected recipient 777, got %v", payout.WiseRecipientID)
	}
	if payout.WiseTransferID == nil || *payout.WiseTransferID != "999" {
		t.Fatalf("expected transfer 999, got %v", payout.WiseTransferID)
	}
	if payout.ExchangeRate == nil || *payout.ExchangeRate != 1580.5 {
		t.Fatalf("expected exchange rate 1580.5, got %v", payout.ExchangeRate)
	}
	if !strings.HasPrefix(payout.Reference, "PO-") {
		t.Fatalf("expected generated reference, got %q", payout.Reference)
	}
	if repo.processingDetails == nil {
		t.Fatal("expected payout to be marked processing")
	}
	if repo.processingDetails.WiseQuoteID != "quote-abc" {
		t.Fatalf("expected quote id persisted, got %q", repo.processingDetails.WiseQuoteID)
	}
	if payout.BankName == nil || *payout.BankName != "Access Bank" {
		t.Fatalf("expected resolved bank name, got %v", payout.BankName)
	}
	if provider.fundCalls != 0 {
		t.Fatalf("expected funding to be skipped outside production, got %d calls", provider.fundCalls)
	}
}

func TestPayoutToCreator_FundsInProduction(t *testing.T) {
	repo := &payoutRepoStub{creatorExists: true}
	provider := &providerStub{}
	service := NewService(repo, provider, nil, fastRetryPolicy(3), "production", "USD")

	result := service.PayoutToCreator(context.Background(), validRequest())
	if !result.Success {
		t.Fatalf("expected success, got code=%s error=%s", result.Code, result.Error)
	}
	if provider.fundCalls != 1 {
		t.Fatalf("expected one funding call in production, got %d", provider.fundCalls)
	}
}

func TestPayoutToCreator_ValidationFailureCreatesNoRecord(t *testing.T) {
	repo := &payoutRepoStub{creatorExists: true}
	service := newTestService(repo, &providerStub{})

	req := validRequest()
	req.Amount = 0
	result := service.PayoutToCreator(context.Background(), req)
	if result.Success {
		t.Fatal("expected failure for zero amount")
	}
	if result.Code != CodeValidation {
		t.Fatalf("expected %s, got %s", CodeValidation, result.Code)
	}
	if result.Retryable {
		t.Fatal("validation failures must not be retryable")
	}
	if repo.createdPayout != nil {
		t.Fatal("no ledger record should exist for a validation failure")
	}
}

func TestPayoutToCreator_UnknownCreator(t *testing.T) {
	repo := &payoutRepoStub{creatorExists: false}
	service := newTestService(repo, &providerStub{})

	result := service.PayoutToCreator(context.Background(), validRequest())
	if result.Code != CodeCreatorNotFound {
		t.Fatalf("expected %s, got %s", CodeCreatorNotFound, result.Code)
	}
	if repo.createdPayout != nil {
		t.Fatal("no ledger record should exist for an unknown creator")
	}
}

func TestPayoutToCreator_DuplicateReference(t *testing.T) {
	repo := &payoutRepoStub{creatorExists: true, createErr: store.ErrDuplicateReference}
	service := newTestService(repo, &providerStub{})

	req := validRequest()
	req.Reference = "PO-TAKEN"
	result := service.PayoutToCreator(context.Background(), req)
	if result.Code != CodeDuplicateReference {
		t.Fatalf("expected %s, got %s", CodeDuplicateReference, result.Code)
	}
	if result.Retryable {
		t.Fatal("duplicate reference must not be retryable")
	}
}

func TestPayoutToCreator_FatalProviderErrorSkipsRetries(t *testing.T) {
	apiErr := &wiseclient.APIError{StatusCode: 422}
	repo := &payoutRepoStub{creatorExists: true}
	provider := &providerStub{quoteErr: apiErr}
	service := newTestService(repo, provider)

	result := service.PayoutToCreator(context.Background(), validRequest())
	if result.Success {
		t.Fatal("expected failure")
	}
	if provider.quoteCalls != 1 {
		t.Fatalf("expected a single quote attempt for a fatal 4xx, got %d", provider.quoteCalls)
	}
	if repo.failedCode == "" {
		t.Fatal("expected the ledger record to be marked failed")
	}
}

func TestPayoutToCreator_ExpiredQuoteFailsAsRetryableServerError(t *testing.T) {
	repo := &payoutRepoStub{creatorExists: true}
	provider := &providerStub{expiredQuote: true}
	service := newTestService(repo, provider)

	result := service.PayoutToCreator(context.Background(), validRequest())
	if result.Success {
		t.Fatal("expected failure for a quote that arrives expired")
	}
	if result.Code != CodeServerError {
		t.Fatalf("expected %s, got %s", CodeServerError, result.Code)
	}
	if !result.Retryable {
		t.Fatal("expected an expired quote to be retryable")
	}
	if repo.failedCode != CodeServerError {
		t.Fatalf("expected the ledger failure code %s, got %s", CodeServerError, repo.failedCode)
	}
	if !strings.Contains(repo.failedMessage, "expired") {
		t.Fatalf("expected an expiry message on the ledger, got %q", repo.failedMessage)
	}
}

func TestPayoutToCreator_TransientQuoteFailureRetriesThenSucceeds(t *testing.T) {
	repo := &payoutRepoStub{creatorExists: true}
	provider := &providerStub{transientQuoteFailures: 2}
	service := newTestService(repo, provider)

	result := service.PayoutToCreator(context.Background(), validRequest())
	if !result.Success {
		t.Fatalf("expected success after transient failures, got code=%s error=%s", result.Code, result.Error)
	}
	if provider.quoteCalls != 3 {
		t.Fatalf("expected 3 quote attempts, got %d", provider.quoteCalls)
	}
}

func TestPayoutToCreator_RecipientFailureMarksFailed(t *testing.T) {
	repo := &payoutRepoStub{creatorExists: true}
	provider := &providerStub{recipientErr: &wiseclient.APIError{StatusCode: 400}}
	service := newTestService(repo, provider)

	result := service.PayoutToCreator(context.Background(), validRequest())
	if result.Code != CodeRecipientCreationFailed {
		t.Fatalf("expected %s, got %s", CodeRecipientCreationFailed, result.Code)
	}
	if repo.failedCode != CodeRecipientCreationFailed {
		t.Fatalf("expected ledger failure code %s, got %s", CodeRecipientCreationFailed, repo.failedCode)
	}
}

func TestPayoutToCreator_ReusesCachedRecipient(t *testing.T) {
	repo := &payoutRepoStub{creatorExists: true, cachedRecipient: "777"}
	provider := &providerStub{}
	service := newTestService(repo, provider)

	result := service.PayoutToCreator(context.Background(), validRequest())
	if !result.Success {
		t.Fatalf("expected success, got code=%s error=%s", result.Code, result.Error)
	}
	if provider.recipientCalls != 0 {
		t.Fatalf("expected no recipient creation when cached, got %d calls", provider.recipientCalls)
	}
	if repo.recipientSet != "777" {
		t.Fatalf("expected cached recipient persisted on the record, got %q", repo.recipientSet)
	}
}

func TestPayoutToCreator_InvalidBankAccount(t *testing.T) {
	repo := &payoutRepoStub{creatorExists: true}
	service := newTestService(repo, &providerStub{})

	req := validRequest()
	req.BankAccountNumber = "12345" // NGN accounts are 10 digits
	result := service.PayoutToCreator(context.Background(), req)
	if result.Code != CodeAccountVerification {
		t.Fatalf("expected %s, got %s", CodeAccountVerification, result.Code)
	}
	if repo.createdPayout != nil {
		t.Fatal("no ledger record should exist for a failed account verification")
	}
}
