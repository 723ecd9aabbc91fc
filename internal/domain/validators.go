package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	currencyRegex   = regexp.MustCompile(`^[A-Z]{3}$`)
	headCodeRegex   = regexp.MustCompile(`^[A-Z0-9_]{2,40}$`)
	serviceKeyRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{1,63}$`)
)

// ValidateCurrency checks if a currency code is ISO 4217.
func ValidateCurrency(currency string) error {
	if !currencyRegex.MatchString(currency) {
		return fmt.Errorf("invalid currency code: %s", currency)
	}
	return nil
}

// ValidatePositiveAmount checks that an amount is positive (in minor units).
func ValidatePositiveAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", amount)
	}
	return nil
}

// ValidateHeadCode checks a fee head code such as "SCRUTINY_FEE".
func ValidateHeadCode(code string) error {
	if code == "" {
		return fmt.Errorf("head code is required")
	}
	if !headCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid head code: %s", code)
	}
	return nil
}

// ValidateServiceKey checks a service key such as "building-permit".
func ValidateServiceKey(key string) error {
	if !serviceKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid service key: %q", key)
	}
	return nil
}

// ValidatePaymentMode checks the payment mode.
func ValidatePaymentMode(mode PaymentMode) error {
	switch mode {
	case PaymentModeCounter, PaymentModeGateway:
		return nil
	default:
		return fmt.Errorf("invalid payment mode: %q", mode)
	}
}

// NormalizeHeadCode upper-cases a fee head code and trims surrounding space.
func NormalizeHeadCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateFeeLines validates line items submitted for assessment.
func ValidateFeeLines(items []FeeLineInput) error {
	if len(items) == 0 {
		return fmt.Errorf("at least one fee line is required")
	}
	for i, it := range items {
		if err := ValidateHeadCode(it.HeadCode); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
		if err := ValidatePositiveAmount(it.Amount); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}
