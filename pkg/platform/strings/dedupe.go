// Package strings normalizes list-valued request parameters.
package strings

import (
	"strings"
)

// SplitFold expands comma-separated values, trims and lowercases each
// element, and drops empties and repeats. Order of first appearance is kept.
//
//	SplitFold([]string{"A,b", " a ", ""}) // []string{"a", "b"}
func SplitFold(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			if _, ok := seen[part]; ok {
				continue
			}
			seen[part] = struct{}{}
			result = append(result, part)
		}
	}
	return result
}
