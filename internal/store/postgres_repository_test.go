package store

import (
	"fmt"
	"testing"

	"github.com/crescendo/payout-service/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	if !isUniqueViolation(&pgconn.PgError{Code: "23505"}) {
		t.Fatal("expected 23505 to be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violations are not unique violations")
	}
	if isUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})) != true {
		t.Fatal("wrapped pg errors must still be detected")
	}
	if isUniqueViolation(fmt.Errorf("plain error")) {
		t.Fatal("non-pg errors are not unique violations")
	}
}

func TestIsTerminalPayoutStatus(t *testing.T) {
	terminal := []string{
		domain.PayoutStatusCompleted,
		domain.PayoutStatusFailed,
		domain.PayoutStatusCancelled,
		domain.PayoutStatusRefunded,
	}
	for _, status := range terminal {
		if !domain.IsTerminalPayoutStatus(status) {
			t.Errorf("expected %q to be terminal", status)
		}
	}
	for _, status := range []string{domain.PayoutStatusPending, domain.PayoutStatusProcessing, ""} {
		if domain.IsTerminalPayoutStatus(status) {
			t.Errorf("expected %q to be non-terminal", status)
		}
	}
}
