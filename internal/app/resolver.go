/**
 * @description
 * Account resolver: structural validation of bank account details before any
 * money movement is attempted, plus bank-name resolution from a static
 * bank-code directory. Validation rules are per-currency; failures are always
 * fatal (never retried). The resolver mutates no state.
 *
 * Full account-holder-name verification is provider-dependent; when the
 * directory or format rules cannot establish more, the resolver succeeds
 * without a verified holder name and leaves verification to recipient creation.
 */

package app

import (
	"fmt"
	"regexp"
	"strings"
)

// AccountResolver validates bank account details per currency.
type AccountResolver struct{}

// NewAccountResolver creates a new AccountResolver.
func NewAccountResolver() *AccountResolver {
	return &AccountResolver{}
}

// nigerianBanks maps NIP bank codes to institution names.
var nigerianBanks = map[string]string{
	"044": "Access Bank",
	"023": "Citibank Nigeria",
	"050": "Ecobank Nigeria",
	"070": "Fidelity Bank",
	"011": "First Bank of Nigeria",
	"214": "First City Monument Bank",
	"058": "Guaranty Trust Bank",
	"030": "Heritage Bank",
	"301": "Jaiz Bank",
	"082": "Keystone Bank",
	"076": "Polaris Bank",
	"221": "Stanbic IBTC Bank",
	"232": "Sterling Bank",
	"032": "Union Bank of Nigeria",
	"033": "United Bank for Africa",
	"215": "Unity Bank",
	"035": "Wema Bank",
	"057": "Zenith Bank",
}

var (
	digitsOnly     = regexp.MustCompile(`^[0-9]+$`)
	ibanShape      = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]+$`)
	ifscShape      = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)
	alphanumerical = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// ValidateBankAccount checks structural correctness of the account details for
// the target currency and resolves a human-readable bank name where the static
// directory knows the bank code. Returns the resolved bank name ("" when
// unknown) or a descriptive, non-retryable error.
func (r *AccountResolver) ValidateBankAccount(accountNumber, bankCode, currency string) (string, error) {
	accountNumber = strings.TrimSpace(accountNumber)
	bankCode = strings.TrimSpace(bankCode)

	if accountNumber == "" {
		return "", fmt.Errorf("bank account number is required")
	}

	switch currency {
	case "NGN":
		if len(accountNumber) != 10 || !digitsOnly.MatchString(accountNumber) {
			return "", fmt.Errorf("NGN account numbers must be exactly 10 digits")
		}
		bankName, ok := nigerianBanks[bankCode]
		if !ok {
			return "", fmt.Errorf("unknown NGN bank code %q", bankCode)
		}
		return bankName, nil

	case "GBP":
		if len(accountNumber) != 8 || !digitsOnly.MatchString(accountNumber) {
			return "", fmt.Errorf("GBP account numbers must be exactly 8 digits")
		}
		if len(bankCode) != 6 || !digitsOnly.MatchString(bankCode) {
			return "", fmt.Errorf("GBP sort codes must be exactly 6 digits")
		}
		return "", nil

	case "USD":
		if len(accountNumber) < 4 || len(accountNumber) > 17 || !digitsOnly.MatchString(accountNumber) {
			return "", fmt.Errorf("USD account numbers must be 4 to 17 digits")
		}
		if len(bankCode) != 9 || !digitsOnly.MatchString(bankCode) {
			return "", fmt.Errorf("USD routing numbers must be exactly 9 digits")
		}
		return "", nil

	case "EUR":
		iban := strings.ToUpper(strings.ReplaceAll(accountNumber, " ", ""))
		if len(iban) < 15 || len(iban) > 34 || !ibanShape.MatchString(iban) {
			return "", fmt.Errorf("EUR accounts must be a valid IBAN")
		}
		return "", nil

	case "INR":
		if len(accountNumber) < 9 || len(accountNumber) > 18 || !digitsOnly.MatchString(accountNumber) {
			return "", fmt.Errorf("INR account numbers must be 9 to 18 digits")
		}
		if !ifscShape.MatchString(strings.ToUpper(bankCode)) {
			return "", fmt.Errorf("INR bank codes must be a valid IFSC code")
		}
		return "", nil

	default:
		// Minimum-length heuristic for currencies without a fixed schema
		// (GHS, KES, ZAR mobile and bank accounts vary by institution).
		if len(accountNumber) < 6 || !alphanumerical.MatchString(accountNumber) {
			return "", fmt.Errorf("%s account numbers must be at least 6 alphanumeric characters", currency)
		}
		if bankCode == "" {
			return "", fmt.Errorf("bank code is required for %s payouts", currency)
		}
		return "", nil
	}
}
