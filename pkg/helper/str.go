package helper

import (
	"regexp"
	"strings"
)

// SplitByMultipleDelimiters splits s on any of the given single-character delimiters
func SplitByMultipleDelimiters(s string, delimiters ...string) []string {
	if len(delimiters) == 0 {
		return []string{s}
	}
	delimiterPattern := "[" + regexp.QuoteMeta(strings.Join(delimiters, "")) + "]"
	re := regexp.MustCompile(delimiterPattern)
	return re.Split(s, -1)
}

// SplitAddrs turns a ";" or "," separated address list into trimmed, non-empty entries
func SplitAddrs(s string) []string {
	var out []string
	for _, a := range SplitByMultipleDelimiters(s, ";", ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}
