package errors

import "fmt"

// SuggestionGenerator generates actionable suggestions based on error category.
type SuggestionGenerator interface {
	Generate(category ErrorCategory, affectedPath string) []string
}

// NewSuggestionGenerator creates a new SuggestionGenerator.
func NewSuggestionGenerator() SuggestionGenerator {
	return &suggestionGenerator{}
}

// suggestionGenerator is the concrete implementation of SuggestionGenerator.
type suggestionGenerator struct{}

// Generate returns actionable suggestions based on the error category and affected path.
func (g *suggestionGenerator) Generate(category ErrorCategory, affectedPath string) []string {
	switch category {
	case CategoryPermission:
		return g.generatePermissionSuggestions(affectedPath)
	case CategoryNotFound:
		return g.generateNotFoundSuggestions(affectedPath)
	case CategoryExists:
		return g.generateExistsSuggestions(affectedPath)
	case CategoryNotEmpty:
		return g.generateNotEmptySuggestions(affectedPath)
	case CategoryConnection:
		return g.generateConnectionSuggestions(affectedPath)
	case CategoryTimeout:
		return g.generateTimeoutSuggestions(affectedPath)
	case CategoryProtocol:
		return g.generateProtocolSuggestions(affectedPath)
	case CategoryUnknown:
		return g.generateUnknownSuggestions(affectedPath)
	default:
		return g.generateUnknownSuggestions(affectedPath)
	}
}

func (g *suggestionGenerator) generateConnectionSuggestions(_ string) []string {
	return []string{
		"Check that the host name and port in the connection URL are correct",
		"Verify the server is reachable from this machine (firewall, VPN, proxy settings)",
		"If a proxy is configured, check its address and credentials",
		"Try the operation again - the connection may have dropped transiently",
	}
}

func (g *suggestionGenerator) generateExistsSuggestions(path string) []string {
	suggestions := []string{
		"Choose a different destination name",
	}

	if path != "" {
		suggestions = append(suggestions, "Remove or rename the existing entry at "+path+" first")
	}

	suggestions = append(suggestions, "Use overwrite mode if replacing the existing file is intended")

	return suggestions
}

func (g *suggestionGenerator) generateNotEmptySuggestions(path string) []string {
	suggestions := []string{
		"Ensure the directory is empty before attempting to remove it",
		"Check if files or subdirectories are still present",
	}

	if path != "" {
		suggestions = append(suggestions, fmt.Sprintf("List contents with 'remotefs ls %s'", path))
	}

	suggestions = append(suggestions, "Remove contents first or use 'rm --recursive' if appropriate")

	return suggestions
}

func (g *suggestionGenerator) generateNotFoundSuggestions(path string) []string {
	suggestions := []string{
		"Verify the path exists and is spelled correctly",
	}

	if path != "" {
		suggestions = append(suggestions, "Check if the path exists on the server: "+path)
		suggestions = append(suggestions, "Ensure all parent directories exist for "+path)
	} else {
		suggestions = append(suggestions, "Ensure all parent directories exist")
	}

	suggestions = append(suggestions, "Relative paths resolve against the working directory in the connection URL")

	return suggestions
}

func (g *suggestionGenerator) generatePermissionSuggestions(path string) []string {
	suggestions := []string{
		"Check the user name, password or key file used to connect",
	}

	if path != "" {
		suggestions = append(suggestions, "Ensure the account has access to "+path+" on the server")
	} else {
		suggestions = append(suggestions, "Ensure the account has access to the affected path on the server")
	}

	suggestions = append(suggestions, "For SFTP, confirm the key is loaded in your SSH agent or passed with --key-file")

	return suggestions
}

func (g *suggestionGenerator) generateProtocolSuggestions(_ string) []string {
	return []string{
		"Read the server reply in the error message for the exact cause",
		"The server may not support this operation; check its documentation",
		"Run with --debug to log the protocol exchange",
	}
}

func (g *suggestionGenerator) generateTimeoutSuggestions(_ string) []string {
	return []string{
		"All sessions may be busy; raise --max-sessions or retry later",
		"Increase --connect-timeout if the server is slow to respond",
		"Check network latency to the server",
	}
}

func (g *suggestionGenerator) generateUnknownSuggestions(path string) []string {
	suggestions := []string{
		"Check the error message for more details",
		"Run with --log-level debug for more context",
	}

	if path != "" {
		suggestions = append(suggestions, "Verify the path is accessible: "+path)
	}

	return suggestions
}
