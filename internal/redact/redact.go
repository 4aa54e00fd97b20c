// Package redact strips PII-looking tokens from free text before storage.
// It is applied at ingestion when the owner's config has obfuscate_pii set.
package redact

import "regexp"

const placeholder = "[redacted]"

// Matching is intentionally conservative: tokens that look unambiguously
// like contact or account identifiers, nothing semantic.
var patterns = []*regexp.Regexp{
	// Email addresses.
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	// Phone numbers: optional country code, 9+ digits with common separators.
	regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`),
	// US social security numbers.
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
}

// Tokens replaces every matching token in text with a placeholder and
// returns the redacted text along with the number of replacements made.
func Tokens(text string) (string, int) {
	total := 0
	for _, p := range patterns {
		matches := p.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		total += len(matches)
		text = p.ReplaceAllString(text, placeholder)
	}
	return text, total
}
