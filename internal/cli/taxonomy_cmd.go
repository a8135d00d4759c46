package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/defectlens/internal/cli/formatter"
)

func newTaxonomyCmd(app *App) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:       "taxonomy [defect-types|stages|facilities]",
		Short:     "List defect types, production stages and facilities",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"defect-types", "stages", "facilities"},
		RunE: func(cmd *cobra.Command, args []string) error {
			section := ""
			if len(args) == 1 {
				section = args[0]
			}
			tax := app.Taxonomy
			out := cmd.OutOrStdout()

			if jsonOut {
				doc := map[string]any{}
				if section == "" || section == "defect-types" {
					doc["defect_types"] = tax.DefectTypes()
					doc["severities"] = tax.Severities()
					doc["affected_areas"] = tax.AffectedAreas()
				}
				if section == "" || section == "stages" {
					doc["production_stages"] = tax.ProductionStages()
				}
				if section == "" || section == "facilities" {
					doc["facilities"] = tax.Facilities()
				}
				return writeJSON(out, doc)
			}

			if section == "" || section == "defect-types" {
				fmt.Fprintln(out, formatter.FormatDefectTypes(tax))
			}
			if section == "" || section == "stages" {
				fmt.Fprintln(out, formatter.FormatStages(tax))
			}
			if section == "" || section == "facilities" {
				fmt.Fprint(out, formatter.FormatFacilities(tax))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}
