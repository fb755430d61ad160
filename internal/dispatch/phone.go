package dispatch

import "strings"

// DefaultCountryCode is applied to bare national numbers. The clinic's
// patient base is Indian, so unprefixed numbers are assumed +91.
const DefaultCountryCode = "+91"

// NormalizePhone turns whatever got typed into a patient record into a
// gateway-acceptable number:
//   - a leading "+" passes through with non-digits stripped from the rest
//   - a bare 10-digit number gets the default country code
//   - an 11-digit number with a leading trunk "0" has it stripped first
func NormalizePhone(raw, countryCode string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	if strings.HasPrefix(raw, "+") {
		return "+" + stripNonDigits(raw[1:])
	}

	digits := stripNonDigits(raw)
	switch {
	case len(digits) == 10:
		return countryCode + digits
	case len(digits) == 11 && digits[0] == '0':
		return countryCode + digits[1:]
	default:
		return "+" + digits
	}
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
