package util

import (
	"strings"
	"unicode/utf8"
)

// ContainsSuspicious flags free-text fields carrying markup or template syntax.
func ContainsSuspicious(s string) bool {
	badChars := []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}
	lower := strings.ToLower(s)
	for _, c := range badChars {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// MaskIdentifier hides the middle of an email local part or phone number.
//
//	owner@venue.in -> o***r@venue.in
//	+919876543210  -> +91******3210
func MaskIdentifier(id string) string {
	if id == "" {
		return ""
	}
	if at := strings.LastIndex(id, "@"); at > 0 {
		local, domain := id[:at], id[at:]
		if utf8.RuneCountInString(local) <= 2 {
			return strings.Repeat("*", len(local)) + domain
		}
		r := []rune(local)
		return string(r[0]) + "***" + string(r[len(r)-1]) + domain
	}
	if len(id) <= 4 {
		return strings.Repeat("*", len(id))
	}
	keepHead := 3
	if len(id) < 10 {
		keepHead = 0
	}
	return id[:keepHead] + strings.Repeat("*", len(id)-keepHead-4) + id[len(id)-4:]
}

// MaskTail keeps only the last n characters of a secret value.
func MaskTail(s string, n int) string {
	if len(s) <= n {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-n) + s[len(s)-n:]
}
