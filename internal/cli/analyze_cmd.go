package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/alexanderramin/defectlens/internal/cli/formatter"
	"github.com/alexanderramin/defectlens/internal/domain"
)

func newAnalyzeCmd(app *App) *cobra.Command {
	var (
		sku            string
		facility       string
		productionData string
		jsonOut        bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <image>",
		Short: "Run the full defect analysis on one image",
		Long: `Classifies the defect in a png, jpeg or webp image, traces its root cause
when one is found and writes the corrective action report.

On a terminal a missing --sku is prompted for and the pipeline stages are
shown as they run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := app.loadImage(args[0])
			if err != nil {
				return err
			}
			details, err := app.resolveDetails(sku, facility)
			if err != nil {
				return err
			}
			req.ProductSKU = details.SKU
			req.Facility = details.facility()
			if req.ProductionData, err = readProductionData(productionData); err != nil {
				return err
			}

			var rec *domain.DefectAnalysisRecord
			if app.IsTerminalOutput() && !jsonOut {
				rec, err = runWithProgress(cmd.Context(), app, req, cmd.ErrOrStderr())
			} else {
				var analyzer Analyzer
				if analyzer, err = app.NewAnalyzer(nil); err != nil {
					return err
				}
				rec, err = analyzer.Run(cmd.Context(), req)
			}
			if err != nil {
				app.Logger.Debug("analysis failed", zap.String("image", req.ImageRef), zap.Error(err))
				return fmt.Errorf("analyzing %s: %w", req.ImageRef, err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), rec)
			}
			fmt.Fprintln(cmd.OutOrStdout(), formatter.FormatRecord(rec))
			return nil
		},
	}

	cmd.Flags().StringVar(&sku, "sku", "", "product SKU, e.g. WK-KN-200")
	cmd.Flags().StringVar(&facility, "facility", "", "hongkong, shenzhen or yangjiang (default yangjiang)")
	cmd.Flags().StringVar(&productionData, "production-data", "", "JSON file with batch, shift or sensor data")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the record as JSON")

	return cmd
}
