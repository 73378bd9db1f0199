package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// GenerateCardNumber generates a Luhn-valid card number with the specified
// prefix and total length.
func GenerateCardNumber(prefix string, length int) (string, error) {
	if length <= len(prefix) || length > 19 {
		return "", fmt.Errorf("invalid card number length: %d", length)
	}

	// Random digits for everything between the prefix and the check digit
	digits := make([]byte, length-len(prefix)-1)
	if _, err := rand.Read(digits); err != nil {
		return "", fmt.Errorf("failed to generate random digits: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(prefix)
	for _, b := range digits {
		builder.WriteByte(b%10 + '0')
	}
	partial := builder.String()
	builder.WriteByte(luhnCheckDigit(partial) + '0')

	cardNumber := builder.String()
	if len(cardNumber) != length {
		return "", fmt.Errorf("generated card number has incorrect length: got %d, want %d", len(cardNumber), length)
	}
	return cardNumber, nil
}

// luhnCheckDigit computes the digit that makes partial+digit pass the Luhn check
func luhnCheckDigit(partial string) byte {
	sum := 0
	double := true
	for i := len(partial) - 1; i >= 0; i-- {
		d := int(partial[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return byte((10 - sum%10) % 10)
}

// ValidLuhn reports whether the card number passes the Luhn checksum.
func ValidLuhn(number string) bool {
	if number == "" {
		return false
	}
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		c := number[i]
		if c < '0' || c > '9' {
			return false
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// GenerateExpiryDate returns the expiry date for a newly issued card.
// Cards are valid for 3 years.
func GenerateExpiryDate() time.Time {
	now := time.Now()
	return time.Date(now.Year()+3, now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// GenerateCVV generates a 3-digit CVV code
func GenerateCVV() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate CVV: %w", err)
	}
	return fmt.Sprintf("%d%d%d", b[0]%10, b[1]%10, b[2]%10), nil
}
