package fsutil

import "strings"

// SanitizeName makes s safe to use as a single path component.
// Separators and ".." sequences become dashes, control characters are
// dropped, and an empty result becomes "unnamed".
func SanitizeName(s string) string {
	s = strings.ReplaceAll(s, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	s = strings.ReplaceAll(s, "..", "-")

	var b strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	s = b.String()

	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.Trim(s, "- ")
	if s == "" || s == "." {
		s = "unnamed"
	}
	return s
}
