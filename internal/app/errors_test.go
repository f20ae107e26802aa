package app

import (
	"errors"
	"fmt"
	"testing"

	"github.com/crescendo/payout-service/pkg/wiseclient"
)

func apiErrorWithMessage(status int, message string) *wiseclient.APIError {
	err := &wiseclient.APIError{StatusCode: status}
	err.Errors = append(err.Errors, struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: "error", Message: message})
	return err
}

func TestClassifyProviderError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		wantCode  string
		retryable bool
	}{
		{"rate limited", &wiseclient.APIError{StatusCode: 429}, CodeRateLimited, true},
		{"server error", &wiseclient.APIError{StatusCode: 500}, CodeServerError, true},
		{"bad gateway", &wiseclient.APIError{StatusCode: 502}, CodeServerError, true},
		{"insufficient balance", apiErrorWithMessage(422, "insufficient balance in profile"), CodeInsufficientBalance, false},
		{"invalid account", apiErrorWithMessage(400, "recipient account is invalid"), CodeInvalidAccount, false},
		{"generic 4xx", &wiseclient.APIError{StatusCode: 403}, CodeUnknown, false},
		{"timeout", fmt.Errorf("request failed: context deadline exceeded"), CodeTimeout, true},
		{"connection reset", fmt.Errorf("read tcp: connection reset by peer"), CodeNetworkError, true},
		{"connection refused", fmt.Errorf("dial tcp: connection refused"), CodeNetworkError, true},
		{"unrecognized", errors.New("something odd"), CodeUnknown, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			classified := ClassifyProviderError(tc.err)
			if classified.Code != tc.wantCode {
				t.Fatalf("expected code %s, got %s", tc.wantCode, classified.Code)
			}
			if classified.Retryable != tc.retryable {
				t.Fatalf("expected retryable=%t, got %t", tc.retryable, classified.Retryable)
			}
		})
	}
}

func TestClassifyProviderError_PassesThroughPayoutError(t *testing.T) {
	original := NewRetryableError(CodeTimeout, "upstream timeout")
	classified := ClassifyProviderError(fmt.Errorf("create_quote: %w", original))
	if classified != original {
		t.Fatalf("expected wrapped PayoutError to pass through, got %+v", classified)
	}
}

func TestIsRetryableError(t *testing.T) {
	if !IsRetryableError(NewRetryableError(CodeServerError, "boom")) {
		t.Fatal("retryable PayoutError must be retryable")
	}
	if IsRetryableError(NewFatalError(CodeInvalidAccount, "rejected")) {
		t.Fatal("fatal PayoutError must not be retryable")
	}
	if !IsRetryableError(&wiseclient.APIError{StatusCode: 503}) {
		t.Fatal("5xx API errors must be retryable")
	}
	if IsRetryableError(&wiseclient.APIError{StatusCode: 404}) {
		t.Fatal("plain 4xx API errors must not be retryable")
	}
}
