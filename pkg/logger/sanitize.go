package logger

import "strings"

// SanitizedIdentifier masks a stored user identifier for logging
// (e.g., "ab******"). PINs themselves are never logged at any level.
func SanitizedIdentifier(identifier string) string {
	if identifier == "" {
		return "[empty]"
	}
	if len(identifier) <= 2 {
		return strings.Repeat("*", len(identifier))
	}
	return identifier[:2] + strings.Repeat("*", len(identifier)-2)
}

// SanitizedProfileID masks a business profile id, keeping a short prefix so
// log lines from the same profile remain correlatable.
func SanitizedProfileID(id string) string {
	if len(id) <= 4 {
		return id
	}
	return id[:4] + "…"
}
