package whatsapp

import "strings"

// NormalizePhone reduces a phone number to the canonical form used as
// the provider identifier: digits with a single leading plus. The same
// human typing "+91 12345-67890" and "911234567890" must land on the
// same identity row.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}
	return "+" + digits
}
