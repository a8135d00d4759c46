package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alexanderramin/defectlens/internal/cli/formatter"
	"github.com/alexanderramin/defectlens/internal/domain"
)

func newShiftReportCmd(app *App) *cobra.Command {
	var (
		targetRate float64
		jsonOut    bool
	)

	cmd := &cobra.Command{
		Use:   "shift-report <records.json>",
		Short: "Summarize saved analysis records into a shift report",
		Long: `Reads defect analysis records (as printed by "analyze --json" or collected
by the worker) and reports the defect rate against target, breakdowns by
type, severity and stage, and the root causes seen. Use "-" for stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if targetRate < 0 || targetRate > 100 {
				return fmt.Errorf("--target-rate %v must be between 0 and 100", targetRate)
			}
			records, err := readRecords(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			report := domain.BuildShiftReport(records, app.Now(), targetRate)
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatter.FormatShiftReport(report))
			return nil
		},
	}

	cmd.Flags().Float64Var(&targetRate, "target-rate", domain.DefaultTargetDefectRate, "defect rate target in percent")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}
