// Package iban provides IBAN normalization and checksum validation plus
// locale-aware amount parsing for Turkish provider payloads.
package iban

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Turkish IBAN: "TR" + 2 check digits + 24 digits = 26 characters
const (
	countryPrefix = "TR"
	ibanLength    = 26
)

// Normalize strips all whitespace from an IBAN and upper-cases it
func Normalize(iban string) string {
	var b strings.Builder
	b.Grow(len(iban))
	for _, r := range iban {
		if r == ' ' || r == '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return strings.ToUpper(b.String())
}

// Validate reports whether iban is a structurally valid Turkish IBAN with a
// correct mod-97 check digit pair
func Validate(iban string) bool {
	formatted := Normalize(iban)
	if len(formatted) != ibanLength || !strings.HasPrefix(formatted, countryPrefix) {
		return false
	}
	for _, r := range formatted[2:] {
		if r < '0' || r > '9' {
			return false
		}
	}

	// Move the country code and check digits to the end, then expand letters
	// to digits (A=10 .. Z=35).
	rearranged := formatted[4:] + formatted[:4]
	var numeric strings.Builder
	for _, r := range rearranged {
		if r >= 'A' && r <= 'Z' {
			numeric.WriteString(strconv.Itoa(int(r) - 55))
		} else {
			numeric.WriteRune(r)
		}
	}

	// Incremental mod-97: carry the remainder forward and consume the digit
	// string seven digits at a time so the intermediate value fits in int64.
	digits := numeric.String()
	remainder := digits[:2]
	for i := 2; i < len(digits); i += 7 {
		end := i + 7
		if end > len(digits) {
			end = len(digits)
		}
		chunk, err := strconv.ParseInt(remainder+digits[i:end], 10, 64)
		if err != nil {
			return false
		}
		remainder = strconv.FormatInt(chunk%97, 10)
	}

	return remainder == "1"
}

// ParseAmount parses a provider amount. Providers send either plain numerics
// ("1234.56") or tr-TR formatted strings ("1.234,56" with "." as thousands
// separator and "," as decimal separator).
func ParseAmount(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %v", value, err)
	}
	return d, nil
}

// FormatAmount renders an amount in tr-TR convention with exactly two decimal
// digits, e.g. 1234.5 -> "1.234,50"
func FormatAmount(amount decimal.Decimal) string {
	fixed := amount.StringFixed(2)

	neg := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")

	intPart, fracPart, _ := strings.Cut(fixed, ".")

	var groups []string
	for len(intPart) > 3 {
		groups = append([]string{intPart[len(intPart)-3:]}, groups...)
		intPart = intPart[:len(intPart)-3]
	}
	groups = append([]string{intPart}, groups...)

	out := strings.Join(groups, ".") + "," + fracPart
	if neg {
		out = "-" + out
	}
	return out
}
