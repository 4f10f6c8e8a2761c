// ABOUTME: Phone number normalization into E.164 form for contact identity
// ABOUTME: Strips formatting, applies a default country code, validates digit counts

package phone

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPhone is returned when a raw phone number cannot be normalized
// into a plausible E.164 value.
var ErrInvalidPhone = errors.New("invalid phone number")

const (
	// minDigits is the minimum digit count after stripping formatting.
	minDigits = 8
	// maxDigits is the E.164 upper bound.
	maxDigits = 15
	// nationalMaxDigits is the longest number still treated as national
	// (no country code). Brazilian mobiles are 11 digits with area code.
	nationalMaxDigits = 11
)

// Normalize converts a raw phone string into E.164 form: "+" followed by
// digits only. Numbers without a country code get defaultCountry prepended.
// A leading "+" or "00" marks the number as already international.
func Normalize(raw, defaultCountry string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	international := strings.HasPrefix(trimmed, "+")

	digits := stripNonDigits(trimmed)
	if strings.HasPrefix(digits, "00") {
		digits = digits[2:]
		international = true
	}

	if len(digits) < minDigits {
		return "", fmt.Errorf("%w: %q has %d digits, need at least %d", ErrInvalidPhone, raw, len(digits), minDigits)
	}

	if !international && len(digits) <= nationalMaxDigits {
		digits = defaultCountry + digits
	}

	if len(digits) > maxDigits {
		return "", fmt.Errorf("%w: %q has %d digits, max is %d", ErrInvalidPhone, raw, len(digits), maxDigits)
	}

	return "+" + digits, nil
}

// Digits returns the E.164 value without the leading "+", the form the
// messaging gateway expects in its number field.
func Digits(e164 string) string {
	return strings.TrimPrefix(e164, "+")
}

// FromJID extracts the phone digits from a gateway JID such as
// "5511987654321@s.whatsapp.net". Returns the raw digits portion; callers
// normalize it like any other raw number.
func FromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

func stripNonDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
