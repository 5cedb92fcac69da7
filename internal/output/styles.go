package output

import "github.com/charmbracelet/lipgloss"

// unexported constants.
const (
	dimColorCode       = "240" // Dark gray
	errorColorCode     = "196" // Red
	highlightColorCode = "86"  // Cyan
	primaryColorCode   = "205" // Pink/purple
	successColorCode   = "42"  // Green
	warningColorCode   = "226"
	accentColorCode    = "62" // Blue
)

// DirStyle returns the style for directory names
func DirStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().
		Foreground(lipgloss.Color(accentColorCode)).
		Bold(true)
}

// DimStyle returns the style for secondary columns
func DimStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().
		Foreground(lipgloss.Color(dimColorCode))
}

// ErrorStyle returns the style for error messages
func ErrorStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().
		Foreground(lipgloss.Color(errorColorCode)).
		Bold(true)
}

// LabelStyle returns the style for labels
func LabelStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().
		Foreground(lipgloss.Color(highlightColorCode)).
		Bold(true)
}

// SuccessStyle returns the style for success messages
func SuccessStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().
		Foreground(lipgloss.Color(successColorCode)).
		Bold(true)
}

// TitleStyle returns the style for titles
func TitleStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(primaryColorCode))
}

// WarningStyle returns the style for warnings
func WarningStyle(r *lipgloss.Renderer) lipgloss.Style {
	return r.NewStyle().
		Foreground(lipgloss.Color(warningColorCode)).
		Bold(true)
}
