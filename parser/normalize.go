package parser

import (
	"regexp"
	"strings"
)

// MatchScripts scans scripts with each pattern in turn; the first
// pattern that yields a non-empty value wins. The value is the first
// capture group when the pattern has one, else the whole match.
func MatchScripts(scripts []string, patterns []*regexp.Regexp) (string, bool) {
	for _, re := range patterns {
		for _, script := range scripts {
			match := re.FindStringSubmatch(script)
			if match == nil {
				continue
			}
			value := match[0]
			if re.NumSubexp() > 0 {
				value = match[1]
			}
			if value != "" {
				return value, true
			}
		}
	}
	return "", false
}

// StripQuery drops everything from the first "?" on.
func StripQuery(value string) string {
	before, _, _ := strings.Cut(value, "?")
	return before
}

// IsURL reports whether value looks like an absolute or root-relative URL.
func IsURL(value string) bool {
	return strings.Contains(value, "://") || strings.HasPrefix(value, "/")
}

// StripQueries applies StripQuery to every URL-shaped value in place.
func StripQueries(values []string) []string {
	for i, value := range values {
		if IsURL(value) {
			values[i] = StripQuery(value)
		}
	}
	return values
}

// NormalizeText collapses runs of whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
