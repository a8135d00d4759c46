package formatter

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/alexanderramin/defectlens/internal/domain"
)

// Gruvbox-inspired color palette.
var (
	ColorGreen  = lipgloss.Color("#8ec07c")
	ColorYellow = lipgloss.Color("#fabd2f")
	ColorRed    = lipgloss.Color("#fb4934")
	ColorBlue   = lipgloss.Color("#83a598")
	ColorPurple = lipgloss.Color("#d3869b")
	ColorDim    = lipgloss.Color("#928374")
	ColorFg     = lipgloss.Color("#ebdbb2")
	ColorHeader = lipgloss.Color("#fe8019")
)

// Predefined lipgloss styles.
var (
	StyleGreen  = lipgloss.NewStyle().Foreground(ColorGreen)
	StyleYellow = lipgloss.NewStyle().Foreground(ColorYellow)
	StyleRed    = lipgloss.NewStyle().Foreground(ColorRed)
	StyleBlue   = lipgloss.NewStyle().Foreground(ColorBlue)
	StylePurple = lipgloss.NewStyle().Foreground(ColorPurple)
	StyleDim    = lipgloss.NewStyle().Foreground(ColorDim)
	StyleFg     = lipgloss.NewStyle().Foreground(ColorFg)
	StyleHeader = lipgloss.NewStyle().Foreground(ColorHeader).Bold(true)
	StyleBold   = lipgloss.NewStyle().Foreground(ColorFg).Bold(true)
)

// SeverityStyle maps a severity to its color. A nil severity renders dim.
func SeverityStyle(sev *domain.Severity) lipgloss.Style {
	if sev == nil {
		return StyleDim
	}
	switch *sev {
	case domain.SeverityCritical:
		return StyleRed
	case domain.SeverityMajor:
		return StyleYellow
	case domain.SeverityMinor:
		return StyleBlue
	default:
		return StyleDim
	}
}

// SeverityBadge renders a severity as "● CRITICAL".
func SeverityBadge(sev *domain.Severity) string {
	label := "NONE"
	if sev != nil {
		label = strings.ToUpper(string(*sev))
	}
	return SeverityStyle(sev).Render("● " + label)
}

// RateBadge renders a shift PASS/FAIL verdict.
func RateBadge(status domain.RateStatus) string {
	if status == domain.RatePass {
		return StyleGreen.Render("✔ PASS")
	}
	return StyleRed.Render("✖ FAIL")
}

// Header renders a section header with the orange header style and an underline.
func Header(text string) string {
	upper := strings.ToUpper(text)
	line := strings.Repeat("─", lipgloss.Width(upper))
	return fmt.Sprintf("%s\n%s", StyleHeader.Render(upper), StyleDim.Render(line))
}

// Dim renders text in the muted color.
func Dim(text string) string {
	return StyleDim.Render(text)
}

// Bold renders text in bold with the foreground color.
func Bold(text string) string {
	return StyleBold.Render(text)
}
