package errors

import (
	"errors"
	"regexp"
	"strings"
)

// Enricher enriches standard errors with actionable suggestions.
type Enricher interface {
	Enrich(err error, affectedPath string) error
}

// NewEnricher creates a new Enricher with default pattern matcher and suggestion generator.
func NewEnricher() Enricher {
	return &enricher{
		matcher:   NewPatternMatcher(),
		generator: NewSuggestionGenerator(),
	}
}

// unexported variables.
var (
	//nolint:gochecknoglobals // Compiled regexes shared across all enricher instances for performance
	pathExtractionPatterns = []*regexp.Regexp{
		// Remote paths are always slash-separated
		regexp.MustCompile(`\b\w+\s+([./][^\s:]+):`),
	}
)

// enricher is the concrete implementation of Enricher.
type enricher struct {
	matcher   PatternMatcher
	generator SuggestionGenerator
}

// Enrich takes a standard error and enriches it with category and actionable suggestions.
// If the error is already an ActionableError, it is returned unchanged.
// If affectedPath is empty, attempts to extract a path from the error message.
func (e *enricher) Enrich(err error, affectedPath string) error {
	// If already actionable, return as-is
	var actionableErr ActionableError
	if errors.As(err, &actionableErr) {
		return actionableErr
	}

	errMsg := err.Error()

	// If no path provided, try to extract from error message
	if affectedPath == "" {
		affectedPath = extractPath(errMsg)
	}

	category := classify(err)
	if category == CategoryUnknown {
		category = e.matcher.Match(errMsg)
	}

	// Generate suggestions for the category
	suggestions := e.generator.Generate(category, affectedPath)

	// Create and return actionable error
	return NewActionableError(
		errMsg,
		category,
		suggestions,
		affectedPath,
	)
}

// classify maps the error taxonomy onto categories without looking at text.
func classify(err error) ErrorCategory {
	var connErr *ConnectionError

	switch {
	case errors.Is(err, ErrTimeout):
		return CategoryTimeout
	case errors.Is(err, ErrDirectoryNotEmpty):
		return CategoryNotEmpty
	case errors.Is(err, ErrNotFound):
		return CategoryNotFound
	case errors.Is(err, ErrAlreadyExists):
		return CategoryExists
	case errors.Is(err, ErrPermission):
		return CategoryPermission
	case errors.As(err, &connErr):
		if connErr.Stage == StageAuth {
			return CategoryPermission
		}

		return CategoryConnection
	case errors.Is(err, ErrConnectionLost), errors.Is(err, ErrPoolNotStarted):
		return CategoryConnection
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return CategoryProtocol
	}

	return CategoryUnknown
}

// extractPath attempts to extract a file path from common Go error message formats.
// Returns empty string if no path is found.
//
// This function recognizes standard Go error formats like:
//   - "stat /srv/data/report.csv: file does not exist"
//   - "mkdir /uploads: server replied 550: Permission denied"
//   - "failed to list /var/log/app: connection lost"
//
// The extracted path is used to provide more personalized suggestions
// (e.g., "Check permissions on the server for /specific/path" instead of generic advice).
//
// Performance: Uses regex matching with O(n) complexity where n is the error message length.
// Patterns are pre-compiled at package initialization and cached for efficiency.
// Error enrichment is only performed at error display time, not in hot paths.
func extractPath(errorMsg string) string {
	for _, pattern := range pathExtractionPatterns {
		if matches := pattern.FindStringSubmatch(errorMsg); len(matches) > 1 {
			path := strings.TrimSpace(matches[1])
			if path != "" {
				return path
			}
		}
	}

	return ""
}
