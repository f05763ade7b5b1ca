package email

import (
	"net/mail"
	"strings"
)

// maxLength is the RFC 5321 path limit.
const maxLength = 254

// Normalize trims and lower-cases an address for storage and lookup.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsValid reports whether address is a bare mailbox (no display name, no
// angle brackets) that fits in an SMTP path.
func IsValid(address string) bool {
	if address == "" || len(address) > maxLength {
		return false
	}
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return false
	}
	return parsed.Address == address && parsed.Name == ""
}
