package errors

import "strings"

// PatternMatcher matches error messages to categories using string patterns.
type PatternMatcher interface {
	Match(errorMsg string) ErrorCategory
}

// NewPatternMatcher creates a new PatternMatcher with predefined patterns.
// Patterns are checked in order, so more specific server texts come first.
func NewPatternMatcher() PatternMatcher {
	return &patternMatcher{
		patterns: []categoryPatterns{
			{CategoryNotEmpty, []string{
				"directory not empty",
				"not empty",
			}},
			{CategoryTimeout, []string{
				"timed out",
				"timeout",
				"deadline exceeded",
			}},
			{CategoryPermission, []string{
				"permission denied",
				"access denied",
				"operation not permitted",
				"not logged in",
				"unable to authenticate",
			}},
			{CategoryNotFound, []string{
				"no such file or directory",
				"file does not exist",
				"file not found",
				"not found",
			}},
			{CategoryExists, []string{
				"file already exists",
				"file exists",
			}},
			{CategoryConnection, []string{
				"connection refused",
				"connection reset",
				"connection lost",
				"broken pipe",
				"no route to host",
				"host key mismatch",
				"proxy",
			}},
			{CategoryProtocol, []string{
				"server replied",
				"not implemented",
			}},
		},
	}
}

type categoryPatterns struct {
	category ErrorCategory
	patterns []string
}

// patternMatcher is the concrete implementation of PatternMatcher.
type patternMatcher struct {
	patterns []categoryPatterns
}

// Match returns the error category based on pattern matching.
func (m *patternMatcher) Match(errorMsg string) ErrorCategory {
	lowerMsg := strings.ToLower(errorMsg)

	for _, group := range m.patterns {
		for _, pattern := range group.patterns {
			if strings.Contains(lowerMsg, pattern) {
				return group.category
			}
		}
	}

	// No match found
	return CategoryUnknown
}
