package modules

import "strings"

// Matcher checks if an event field value matches a handler pattern.
// Implementations are immutable and safe for concurrent use.
type Matcher interface {
	Matches(value string) bool
	String() string
}

// matchAny matches any value (wildcard).
type matchAny struct{}

func (matchAny) Matches(string) bool { return true }
func (matchAny) String() string      { return "*" }

// matchExact matches a single exact value.
type matchExact string

func (m matchExact) Matches(value string) bool { return string(m) == value }
func (m matchExact) String() string            { return string(m) }

// matchOneOf matches any value in a set.
type matchOneOf []string

func (m matchOneOf) Matches(value string) bool {
	for _, v := range m {
		if v == value {
			return true
		}
	}
	return false
}

func (m matchOneOf) String() string {
	if len(m) == 0 {
		return "(none)"
	}
	return strings.Join(m, "|")
}

// ParseMatcher creates a Matcher from a string pattern:
// "*" matches everything, "a|b|c" matches any listed value,
// anything else is an exact match.
func ParseMatcher(pattern string) Matcher {
	if pattern == "*" {
		return matchAny{}
	}
	if !strings.Contains(pattern, "|") {
		return matchExact(pattern)
	}
	var values matchOneOf
	for _, v := range strings.Split(pattern, "|") {
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}
