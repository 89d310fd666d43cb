package rules

import "strings"

// Match returns the first rule in set order with a trigger contained in text.
//
// Matching is case-insensitive substring search. Rules without triggers never
// match, lead qualifiers included.
func Match(text string, set RuleSet) (Rule, bool) {
	index := MatchIndex(text, set)
	if index < 0 {
		return Rule{}, false
	}

	return set[index], true
}

// MatchIndex is Match returning the position of the winning rule, or -1.
func MatchIndex(text string, set RuleSet) int {
	normalized := strings.ToLower(text)
	for i, rule := range set {
		for _, trigger := range rule.Triggers {
			trigger = strings.ToLower(trigger)
			if trigger == "" {
				continue
			}
			if strings.Contains(normalized, trigger) {
				return i
			}
		}
	}

	return -1
}
