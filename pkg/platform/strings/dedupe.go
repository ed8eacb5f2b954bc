// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty strings from a slice,
// trimming whitespace from each element. Order is preserved.
//
// Example:
//
//	DedupeAndTrim([]string{"  foo ", "bar", "foo", "", "  "})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// NormalizeTerms is DedupeAndTrim with case folding, for matching term lists
// against lower-cased text. Lines starting with '#' are treated as comments.
//
//	NormalizeTerms([]string{"Followers", "# ads", "followers ", "CRYPTO"})
//	// Returns: []string{"followers", "crypto"}
func NormalizeTerms(values []string) []string {
	return dedupe(values, func(v string) string {
		v = strings.TrimSpace(v)
		if strings.HasPrefix(v, "#") {
			return ""
		}
		return strings.ToLower(v)
	})
}

func dedupe(values []string, norm func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		n := norm(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}

	return result
}
