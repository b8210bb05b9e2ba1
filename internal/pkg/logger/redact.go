package logger

import "strings"

// RedactEmail masks the local part of an address:
// "john.doe@example.com" → "jo***@example.com", "ab@x.io" → "***@x.io".
// Anything without exactly one @ becomes "***@***".
func RedactEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "***@***"
	}
	if len(local) > 2 {
		return local[:2] + "***@" + domain
	}
	return "***@" + domain
}

// RedactAll masks every address embedded in s.
func RedactAll(s string) string {
	return emailRegex.ReplaceAllStringFunc(s, RedactEmail)
}
