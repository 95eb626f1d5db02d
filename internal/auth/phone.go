package auth

import (
	"regexp"
	"strings"

	"github.com/nika/server/internal/apperr"
)

const (
	trunkPrefix      = "8"
	subscriberDigits = 10
)

var phonePattern = regexp.MustCompile(`^(\+7|7|8)?[\s\-]?\(?[489][0-9]{2}\)?[\s\-]?[0-9]{3}[\s\-]?[0-9]{2}[\s\-]?[0-9]{2}$`)

// NormalizePhone validates a national phone number and returns its canonical
// form: the trunk prefix 8 followed by the ten subscriber digits. "+7", "7",
// "8" and bare ten-digit spellings of a number all map to the same key, and
// every stored code, limit and user is keyed by it.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", apperr.ValidationError("phone is required")
	}
	if !phonePattern.MatchString(raw) {
		return "", apperr.ValidationError("incorrect phone number format")
	}
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < subscriberDigits {
		return "", apperr.ValidationError("incorrect phone number format")
	}
	return trunkPrefix + digits[len(digits)-subscriberDigits:], nil
}

// MaskPhone masks a phone number for logging (e.g., 89*******67)
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return phone[:2] + strings.Repeat("*", len(phone)-4) + phone[len(phone)-2:]
}
