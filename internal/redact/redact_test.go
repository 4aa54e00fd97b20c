package redact

import (
	"strings"
	"testing"
)

func TestTokens(t *testing.T) {
	cases := []struct {
		name      string
		in        string
		wantCount int
	}{
		{"clean text", "What is the capital of France?", 0},
		{"email", "Contact me at jane.doe@example.com please", 1},
		{"phone", "Call +1 (555) 123-4567 tomorrow", 1},
		{"ssn", "SSN is 123-45-6789", 1},
		{"multiple", "Mail a@b.io or c@d.org", 2},
		{"empty", "", 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, count := Tokens(tc.in)
			if count != tc.wantCount {
				t.Errorf("Tokens(%q) count = %d, want %d (out: %q)", tc.in, count, tc.wantCount, out)
			}
			if tc.wantCount > 0 && strings.Count(out, placeholder) != tc.wantCount {
				t.Errorf("expected %d placeholders in %q", tc.wantCount, out)
			}
			if tc.wantCount == 0 && out != tc.in {
				t.Errorf("clean text was modified: %q -> %q", tc.in, out)
			}
		})
	}
}
