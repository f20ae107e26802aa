/**
 * @description
 * This file defines the payout error taxonomy. Every failure surfaced by the
 * orchestrator carries a machine-readable code and a retryability flag, and
 * callers branch on those fields instead of matching error types or relying
 * on panics/exceptions for control flow.
 */

package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/crescendo/payout-service/pkg/wiseclient"
)

// Machine-readable payout error codes.
const (
	CodeValidation              = "VALIDATION_ERROR"
	CodeCreatorNotFound         = "CREATOR_NOT_FOUND"
	CodeAccountVerification     = "ACCOUNT_VERIFICATION_FAILED"
	CodeDuplicateReference      = "DUPLICATE_REFERENCE"
	CodeRecipientCreationFailed = "RECIPIENT_CREATION_FAILED"
	CodeInsufficientBalance     = "INSUFFICIENT_BALANCE"
	CodeInvalidAccount          = "INVALID_ACCOUNT"
	CodeRateLimited             = "RATE_LIMITED"
	CodeServerError             = "SERVER_ERROR"
	CodeTimeout                 = "TIMEOUT"
	CodeNetworkError            = "NETWORK_ERROR"
	CodeUnknown                 = "UNKNOWN_ERROR"
)

// PayoutError is the structured failure carried through the engine.
type PayoutError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewFatalError builds a non-retryable PayoutError.
func NewFatalError(code, message string) *PayoutError {
	return &PayoutError{Code: code, Message: message, Retryable: false}
}

// NewRetryableError builds a retryable PayoutError.
func NewRetryableError(code, message string) *PayoutError {
	return &PayoutError{Code: code, Message: message, Retryable: true}
}

// networkErrorPatterns are substrings of error messages that indicate a
// transient transport failure rather than a rejected request.
var networkErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"unexpected eof",
}

var timeoutErrorPatterns = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}

func matchesAny(msg string, patterns []string) bool {
	lower := strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ClassifyProviderError derives the payout error code and retryability for a
// failure returned by the provider client. HTTP 429 and 5xx, timeouts and
// transport failures are retryable; all other client errors are fatal.
func ClassifyProviderError(err error) *PayoutError {
	if err == nil {
		return nil
	}

	var payoutErr *PayoutError
	if errors.As(err, &payoutErr) {
		return payoutErr
	}

	var apiErr *wiseclient.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return NewRetryableError(CodeRateLimited, err.Error())
		case apiErr.StatusCode >= 500:
			return NewRetryableError(CodeServerError, err.Error())
		}
		msg := err.Error()
		switch {
		case matchesAny(msg, []string{"insufficient", "not enough funds", "balance"}):
			return NewFatalError(CodeInsufficientBalance, msg)
		case matchesAny(msg, []string{"account", "recipient", "iban", "sort code"}):
			return NewFatalError(CodeInvalidAccount, msg)
		}
		return NewFatalError(CodeUnknown, msg)
	}

	msg := err.Error()
	switch {
	case matchesAny(msg, timeoutErrorPatterns):
		return NewRetryableError(CodeTimeout, msg)
	case matchesAny(msg, networkErrorPatterns):
		return NewRetryableError(CodeNetworkError, msg)
	}
	return NewFatalError(CodeUnknown, msg)
}

// IsRetryableError reports whether a failed external call may be attempted again.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	classified := ClassifyProviderError(err)
	return classified != nil && classified.Retryable
}
