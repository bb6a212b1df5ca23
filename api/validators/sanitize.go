package validators

import "strings"

// SanitizeString trims surrounding whitespace and caps the byte length.
// Truncation is byte-based; callers validating UTF-8 display text should
// size maxLen generously.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.TrimSpace(input)
	if maxLen > 0 && len(cleaned) > maxLen {
		cleaned = cleaned[:maxLen]
	}
	return cleaned
}
