package util

import (
	"fmt"
	"html"
	"strings"
	"unicode"
)

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious flags obvious injection attempts in free-form input.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	for _, c := range badChars {
		if strings.Contains(strings.ToLower(s), c) {
			return true
		}
	}
	return false
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizePhone reduces a phone number to E.164-like form: digits with an
// optional leading "+". Local numbers starting with "0" keep the zero; the
// caller decides whether a country prefix is required.
func NormalizePhone(phone string) (string, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
			// separators dropped
		default:
			return "", fmt.Errorf("invalid character in phone number: %q", r)
		}
	}
	normalized := b.String()
	digits := strings.TrimPrefix(normalized, "+")
	if len(digits) < 10 || len(digits) > 15 {
		return "", fmt.Errorf("phone number must contain 10-15 digits, got %d", len(digits))
	}
	return normalized, nil
}

// IsEmailIdentifier reports whether an identifier should be treated as an
// email address rather than a phone number.
func IsEmailIdentifier(identifier string) bool {
	return strings.Contains(identifier, "@")
}
