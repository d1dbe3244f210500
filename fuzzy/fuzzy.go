// Package fuzzy provides the string matching used to pair prompt tags with
// files on disk: Levenshtein distance plus the tag cleanup rules.
package fuzzy

import (
	"regexp"
	"strings"

	"github.com/agext/levenshtein"
)

var (
	parensAndEscapes = regexp.MustCompile(`[\\()]`)
	weightSuffix     = regexp.MustCompile(`:\d+(\.\d+)?`)
	trailingComma    = regexp.MustCompile(`,$`)
)

// Distance returns the Levenshtein distance between two strings.
func Distance(a, b string) int {
	return levenshtein.Distance(a, b, nil)
}

// CleanTag normalizes a prompt tag for comparison: parentheses and escape
// characters are removed, weight suffixes like ":1.2" are stripped, trailing
// commas dropped, and the result lowercased.
func CleanTag(s string) string {
	cleaned := parensAndEscapes.ReplaceAllString(s, "")
	cleaned = weightSuffix.ReplaceAllString(cleaned, "")
	cleaned = trailingComma.ReplaceAllString(strings.TrimSpace(cleaned), "")
	return strings.ToLower(cleaned)
}
