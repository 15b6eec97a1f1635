package logging

import (
	"regexp"
	"strings"
)

type redaction struct {
	pattern *regexp.Regexp
	marker  string
}

// Cards run before phones so long digit runs are not reported as phone numbers.
var redactions = []redaction{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[email]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[card]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[phone]"},
}

// RedactText masks emails, card numbers and phone numbers in user-provided
// text and truncates it to max runes (max <= 0 keeps everything). Use it
// for every transcript or reply that reaches a log field.
func RedactText(text string, max int) string {
	out := strings.TrimSpace(text)
	for _, r := range redactions {
		out = r.pattern.ReplaceAllString(out, r.marker)
	}
	if max > 0 {
		if runes := []rune(out); len(runes) > max {
			out = string(runes[:max]) + "…"
		}
	}
	return out
}
