package formatter

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// RenderBox wraps content in a rounded-border box with an optional title.
func RenderBox(title string, content string) string {
	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorDim).
		PaddingLeft(2).
		PaddingRight(2).
		PaddingTop(1).
		PaddingBottom(1)

	content = strings.TrimRight(content, "\n")
	if title != "" {
		return boxStyle.Render(StyleHeader.Render(strings.ToUpper(title)) + "\n\n" + content)
	}
	return boxStyle.Render(content)
}

// Tokens renders a token count with thousands separators.
func Tokens(n int) string {
	return humanize.Comma(int64(n))
}

// Percent renders a percentage with up to three decimals, e.g. "0.18%".
func Percent(v float64) string {
	return humanize.FtoaWithDigits(v, 3) + "%"
}

// OrDash renders s, or a dim dash when s is empty.
func OrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return Dim("--")
	}
	return s
}

// Deref returns the string form of a nullable enum or text field.
func Deref[T ~string](v *T) string {
	if v == nil {
		return ""
	}
	return string(*v)
}

// Label renders "key  value" with the key dimmed and padded.
func Label(key, value string) string {
	return fmt.Sprintf("%s %s", StyleDim.Render(fmt.Sprintf("%-12s", key)), value)
}

// Bullets renders each item on its own indented line. Nothing is rendered
// for an empty list.
func Bullets(items []string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("  • " + item + "\n")
	}
	return b.String()
}

// Numbered renders items as a 1-based numbered list.
func Numbered(items []string) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, item)
	}
	return b.String()
}
