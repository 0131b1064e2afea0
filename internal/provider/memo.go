package provider

import "regexp"

var memoIllegal = regexp.MustCompile(`[^A-Za-z0-9 ]+`)

// SanitizeMemo keeps ASCII letters, digits and spaces.
func SanitizeMemo(s string) string {
	return memoIllegal.ReplaceAllString(s, "")
}

// TruncateMemo cuts s to at most n bytes. Input is expected to be sanitized ASCII.
func TruncateMemo(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
