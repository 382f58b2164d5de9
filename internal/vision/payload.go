package vision

import (
	"regexp"
	"strings"
)

// Models wrap JSON in markdown fences or bury it in prose more often than
// they return it bare. These helpers recover the payload without assuming
// any particular response discipline.

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

// StripCodeFence removes a surrounding ```json fence if present.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// ExtractJSONObject returns the outermost {...} span in s, fence-stripped
// first. Reports false when no object is present.
func ExtractJSONObject(s string) (string, bool) {
	s = StripCodeFence(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// ExtractJSONArray returns the outermost [...] span in s, fence-stripped
// first. Reports false when no array is present.
func ExtractJSONArray(s string) (string, bool) {
	s = StripCodeFence(s)
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
