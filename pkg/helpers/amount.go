// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CoinDecimals is the number of decimal places wallet daemons accept.
const CoinDecimals = 8

// Truncate cuts an amount to the given number of decimal places without rounding.
func Truncate(amount decimal.Decimal, places int32) decimal.Decimal {
	return amount.Truncate(places)
}

// TruncateCoin truncates an amount to CoinDecimals places.
func TruncateCoin(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(CoinDecimals)
}

// FormatAmount formats an amount as a plain decimal string.
// Trailing zeros are dropped, so 20.00000000 becomes "20".
// For example, FormatAmount(decimal.RequireFromString("0.00100000")) returns "0.001".
func FormatAmount(amount decimal.Decimal) string {
	return TruncateCoin(amount).String()
}

// ParseAmount parses a user or wire supplied decimal string.
// Digits beyond CoinDecimals are truncated. Negative and exponent forms are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount string")
	}

	dots := 0
	for _, c := range s {
		if c == '.' {
			dots++
			continue
		}
		if c < '0' || c > '9' {
			return decimal.Zero, fmt.Errorf("invalid character in amount: %c", c)
		}
	}
	if dots > 1 || s == "." {
		return decimal.Zero, fmt.Errorf("invalid amount: %s", s)
	}

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %s", s)
	}

	return TruncateCoin(amount), nil
}

// ParseWireAmount is ParseAmount for amounts read from tokens. It also
// accepts the exponent form some issuers print for very small or large
// floats, such as "1.0E-5".
func ParseWireAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, "eE")
	if i < 0 {
		return ParseAmount(s)
	}

	mantissa, exp := s[:i], s[i+1:]
	if _, err := ParseAmount(mantissa); err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %s", s)
	}
	digits := strings.TrimPrefix(strings.TrimPrefix(exp, "+"), "-")
	if digits == "" || len(digits) > 3 || strings.Trim(digits, "0123456789") != "" {
		return decimal.Zero, fmt.Errorf("invalid exponent in amount: %s", s)
	}

	amount, err := decimal.NewFromString(mantissa + "e" + exp)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount: %s", s)
	}
	return TruncateCoin(amount), nil
}

// MustParseAmount is like ParseAmount but panics on error. Intended for constants and tests.
func MustParseAmount(s string) decimal.Decimal {
	d, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return d
}

// HumanDuration renders a duration as "2 days 3 hours 4 minutes 5 seconds",
// omitting zero components.
func HumanDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return "0 seconds"
	}

	days := secs / 86400
	secs -= days * 86400
	hours := secs / 3600
	secs -= hours * 3600
	minutes := secs / 60
	secs -= minutes * 60

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%d days", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%d hours", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%d minutes", minutes))
	}
	if secs > 0 {
		parts = append(parts, fmt.Sprintf("%d seconds", secs))
	}
	return strings.Join(parts, " ")
}
