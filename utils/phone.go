package utils

import (
	"regexp"
	"strings"

	"github.com/ttacon/libphonenumber"
)

var CountryCode = "US"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func IsValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// NormalizePhone parses a free-form phone string into E.164 so that numbers
// captured from fulfillment recipients can be matched against the platform's
// customer directory. Returns "" when the value does not parse as a number.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := libphonenumber.Parse(raw, CountryCode)
	if err != nil {
		return ""
	}
	if !libphonenumber.IsValidNumber(num) {
		return ""
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}

func NormalizeEmail(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if !IsValidEmail(raw) {
		return ""
	}
	return raw
}
