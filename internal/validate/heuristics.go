package validate

import "regexp"

// Script markers in free text.
var scriptMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*/?\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon(click|error|load|mouseover|focus)\s*=?`),
}

// SQL injection markers. A bare apostrophe is not a marker: names such as
// "St. Mary's" must pass.
var sqlMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(%27|')\s*(or|and)\s`),
	regexp.MustCompile(`(?i)(%27|')\s*(--|#|%23|;|%3b)`),
	regexp.MustCompile(`(?i)\bor\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	regexp.MustCompile(`(?i);\s*(drop|delete|insert|update|alter|truncate)\s`),
	regexp.MustCompile(`(=|%3d)[^\n]*(%27|')\s*--`),
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	if s == "" {
		return false
	}
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
