package policy

import "strings"

// Match reports whether value matches pattern. A pattern with a trailing '*'
// matches any value beginning with its literal prefix; any other pattern
// matches by exact equality. Pattern syntax (only a trailing '*') is enforced
// by the validator, not here.
func Match(pattern, value string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(value, prefix)
	}
	return pattern == value
}

// MostSpecific returns the matching pattern with the longest literal prefix,
// and whether any pattern matched. An exact (non-wildcard) match always
// outranks a wildcard match. Ties keep the earliest pattern, so results are
// stable across evaluations of the same rule.
func MostSpecific(patterns []string, value string) (string, bool) {
	best := ""
	bestExact := false
	bestPrefix := -1
	found := false

	for _, p := range patterns {
		if !Match(p, value) {
			continue
		}
		prefix, wildcard := strings.CutSuffix(p, "*")
		exact := !wildcard
		if !found ||
			(exact && !bestExact) ||
			(exact == bestExact && len(prefix) > bestPrefix) {
			best = p
			bestExact = exact
			bestPrefix = len(prefix)
			found = true
		}
	}
	return best, found
}
