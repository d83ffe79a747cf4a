// Package sanitize strips control-token artifacts that leak into model
// output or tool text: chat-template markers from one model family echoed
// back verbatim by another, fine-tuning separators, and similar noise that
// has no business reaching a provider or a user.
package sanitize

import "regexp"

var patterns = []*regexp.Regexp{
	regexp.MustCompile(`<\|.*?\|>`),
	regexp.MustCompile(`\[INST\]`),
	regexp.MustCompile(`\[/INST\]`),
	regexp.MustCompile(`<<SYS>>`),
	regexp.MustCompile(`<\|im_start\|>`),
	regexp.MustCompile(`<\|im_end\|>`),
	regexp.MustCompile(`<\|start_header_id\|>`),
	regexp.MustCompile(`<\|end_header_id\|>`),
}

// Clean removes every sentinel pattern from s. Safe on empty input.
func Clean(s string) string {
	if s == "" {
		return s
	}
	for _, p := range patterns {
		s = p.ReplaceAllString(s, "")
	}
	return s
}

// Contains reports whether s still carries any sentinel pattern, for tests
// that assert the output of Clean (or a serialization path) is sanitized.
func Contains(s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
