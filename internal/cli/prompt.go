package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/alexanderramin/defectlens/internal/cli/formatter"
	"github.com/alexanderramin/defectlens/internal/domain"
	"github.com/alexanderramin/defectlens/internal/taxonomy"
)

const maxSKULength = 64

var errAborted = errors.New("aborted")

// requestDetails are the per-image inputs a user may be asked for.
type requestDetails struct {
	SKU      string
	Facility string
}

func (d requestDetails) facility() domain.Facility {
	if d.Facility == "" {
		return ""
	}
	return domain.ParseFacility(d.Facility)
}

// resolveDetails validates the flag values and, on a terminal, asks for a
// missing SKU. Off a terminal a missing SKU is an error.
func (a *App) resolveDetails(sku, facility string) (requestDetails, error) {
	d := requestDetails{SKU: strings.TrimSpace(sku), Facility: strings.TrimSpace(facility)}
	if d.Facility != "" && d.facility() == domain.FacilityUnknown {
		return d, fmt.Errorf("unknown facility %q", d.Facility)
	}
	if d.SKU == "" {
		if !a.IsInteractive() {
			return d, errors.New("--sku is required")
		}
		if err := a.prompt(&d); err != nil {
			return d, err
		}
	}
	if err := validateSKU(d.SKU); err != nil {
		return d, err
	}
	return d, nil
}

func (a *App) promptRequestDetails(d *requestDetails) error {
	if d.Facility == "" {
		d.Facility = string(domain.FacilityYangjiang)
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Product SKU").
				Description("As printed on the line card").
				Placeholder("WK-KN-200").
				Value(&d.SKU).
				Validate(validateSKU),
			huh.NewSelect[string]().
				Title("Facility").
				Options(facilityOptions(a.Taxonomy)...).
				Value(&d.Facility),
		),
	).WithTheme(defectlensHuhTheme())

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return errAborted
		}
		return fmt.Errorf("prompt: %w", err)
	}
	d.SKU = strings.TrimSpace(d.SKU)
	return nil
}

func validateSKU(s string) error {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return errors.New("SKU is required")
	case len(s) > maxSKULength:
		return fmt.Errorf("SKU must be at most %d characters", maxSKULength)
	}
	return nil
}

func facilityOptions(tax *taxonomy.Taxonomy) []huh.Option[string] {
	facilities := tax.Facilities()
	opts := make([]huh.Option[string], 0, len(facilities))
	for _, f := range facilities {
		label := f.Name
		if f.Location != "" {
			label = fmt.Sprintf("%s (%s)", f.Name, f.Location)
		}
		opts = append(opts, huh.NewOption(label, string(f.Code)))
	}
	return opts
}

// defectlensHuhTheme matches the huh forms to the formatter palette.
func defectlensHuhTheme() *huh.Theme {
	t := huh.ThemeBase()

	t.Focused.Title = lipgloss.NewStyle().Foreground(formatter.ColorHeader).Bold(true)
	t.Focused.Description = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	t.Focused.SelectSelector = lipgloss.NewStyle().Foreground(formatter.ColorHeader)
	t.Focused.SelectedOption = lipgloss.NewStyle().Foreground(formatter.ColorGreen)
	t.Focused.UnselectedOption = lipgloss.NewStyle().Foreground(formatter.ColorFg)
	t.Focused.ErrorMessage = lipgloss.NewStyle().Foreground(formatter.ColorRed)
	t.Focused.ErrorIndicator = lipgloss.NewStyle().Foreground(formatter.ColorRed)
	t.Focused.TextInput.Cursor = lipgloss.NewStyle().Foreground(formatter.ColorHeader)
	t.Focused.TextInput.Prompt = lipgloss.NewStyle().Foreground(formatter.ColorHeader)
	t.Focused.TextInput.Text = lipgloss.NewStyle().Foreground(formatter.ColorFg)
	t.Focused.TextInput.Placeholder = lipgloss.NewStyle().Foreground(formatter.ColorDim)

	t.Blurred.Title = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	t.Blurred.SelectSelector = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	t.Blurred.SelectedOption = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	t.Blurred.UnselectedOption = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	t.Blurred.TextInput.Prompt = lipgloss.NewStyle().Foreground(formatter.ColorDim)
	t.Blurred.TextInput.Text = lipgloss.NewStyle().Foreground(formatter.ColorDim)

	return t
}
